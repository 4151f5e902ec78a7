package entities

import (
	"errors"
	"fmt"
	"strings"
)

// Stage names a pipeline stage for operator-facing failure reports
type Stage string

// Pipeline stages in execution order
const (
	StagePreflight   Stage = "preflight"
	StageCredentials Stage = "credentials"
	StageLock        Stage = "lock"
	StageBuild       Stage = "build"
	StageNotarize    Stage = "notarize"
	StageStaple      Stage = "staple"
	StagePackage     Stage = "package"
	StageAppcast     Stage = "appcast"
	StagePublish     Stage = "publish"
)

// StageError is implemented by every pipeline failure that can tell the
// operator which stage failed and what to run next
type StageError interface {
	error
	Stage() Stage
	Remediation() string
}

// Diagnostic is implemented by failures that point at an external diagnostic call
type Diagnostic interface {
	DiagnosticCommand() string
}

// ErrStapleDeferred marks a staple that should be retried later with `macrelease staple`
var ErrStapleDeferred = errors.New("staple deferred")

// PrerequisiteError lists tools that are missing or too old
type PrerequisiteError struct {
	Failures []PrerequisiteResult
}

func (e *PrerequisiteError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %s", f.ToolName, f.Problem))
	}
	return "prerequisites not met: " + strings.Join(parts, "; ")
}

// Stage implements StageError
func (e *PrerequisiteError) Stage() Stage { return StagePreflight }

// Remediation implements StageError
func (e *PrerequisiteError) Remediation() string {
	return "install or update Xcode (xcode-select --install), then run `macrelease preflight`"
}

// MissingCredentialError means no tier produced a complete credential
type MissingCredentialError struct {
	Reason string
}

func (e *MissingCredentialError) Error() string {
	return "no usable notarization credential: " + e.Reason
}

// Stage implements StageError
func (e *MissingCredentialError) Stage() Stage { return StageCredentials }

// Remediation implements StageError
func (e *MissingCredentialError) Remediation() string {
	return "run `macrelease setup-credentials` or export MACRELEASE_APPLE_ID and MACRELEASE_APP_PASSWORD together"
}

// InvalidCredentialError means the attestation service refused the credential
type InvalidCredentialError struct {
	Identity       string
	OrganizationID string
	Err            error
}

func (e *InvalidCredentialError) Error() string {
	return fmt.Sprintf("credential for %s rejected by notary service: %v", e.Identity, e.Err)
}

func (e *InvalidCredentialError) Unwrap() error { return e.Err }

// Stage implements StageError
func (e *InvalidCredentialError) Stage() Stage { return StageCredentials }

// Remediation implements StageError
func (e *InvalidCredentialError) Remediation() string {
	return "generate a new app-specific password at appleid.apple.com, then run `macrelease setup-credentials`"
}

// DiagnosticCommand implements Diagnostic
func (e *InvalidCredentialError) DiagnosticCommand() string {
	return historyCommand(e.Identity, e.OrganizationID)
}

// AmbiguousOrganizationError carries the remote party's ambiguity response verbatim
type AmbiguousOrganizationError struct {
	Identity      string
	RemoteMessage string
}

func (e *AmbiguousOrganizationError) Error() string {
	return "account belongs to multiple teams: " + e.RemoteMessage
}

// Stage implements StageError
func (e *AmbiguousOrganizationError) Stage() Stage { return StageCredentials }

// Remediation implements StageError
func (e *AmbiguousOrganizationError) Remediation() string {
	return "set team_id in .macrelease.yml or export MACRELEASE_TEAM_ID"
}

// DiagnosticCommand implements Diagnostic
func (e *AmbiguousOrganizationError) DiagnosticCommand() string {
	return historyCommand(e.Identity, "")
}

// BuildError is a non-zero exit of the build or export toolchain
type BuildError struct {
	Step     string // "archive" or "export"
	ExitCode int
	LogPath  string
	Tail     string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("xcodebuild %s failed (exit %d), log: %s\n%s", e.Step, e.ExitCode, e.LogPath, e.Tail)
}

// Stage implements StageError
func (e *BuildError) Stage() Stage { return StageBuild }

// Remediation implements StageError
func (e *BuildError) Remediation() string {
	return "fix the build error above and re-run `macrelease release <version>`; full log at " + e.LogPath
}

// SubmissionError is a transport-level failure talking to the notary service
type SubmissionError struct {
	Op           string
	SubmissionID string
	Err          error
}

func (e *SubmissionError) Error() string {
	if e.SubmissionID != "" {
		return fmt.Sprintf("notarization %s failed for submission %s: %v", e.Op, e.SubmissionID, e.Err)
	}
	return fmt.Sprintf("notarization %s failed: %v", e.Op, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// Stage implements StageError
func (e *SubmissionError) Stage() Stage { return StageNotarize }

// Remediation implements StageError
func (e *SubmissionError) Remediation() string {
	if e.SubmissionID != "" {
		return "resume polling with `macrelease status <version>`"
	}
	return "check network connectivity and re-run `macrelease release <version>`"
}

// RejectedSubmissionError surfaces a terminal Invalid submission together with its log
type RejectedSubmissionError struct {
	Submission *NotarizationSubmission
	Identity   string
	TeamID     string
}

func (e *RejectedSubmissionError) Error() string {
	msg := fmt.Sprintf("notarization rejected (submission %s)", e.Submission.SubmissionID)
	switch {
	case e.Submission.ErrorLog != nil:
		msg += "\n" + e.Submission.ErrorLog.Summary()
	case e.Submission.LogFetchError != "":
		msg += "\nlog unavailable: " + e.Submission.LogFetchError
	}
	return msg
}

// Stage implements StageError
func (e *RejectedSubmissionError) Stage() Stage { return StageNotarize }

// Remediation implements StageError
func (e *RejectedSubmissionError) Remediation() string {
	return "fix the issues listed above, then start a new run with `macrelease release <version>`"
}

// DiagnosticCommand implements Diagnostic
func (e *RejectedSubmissionError) DiagnosticCommand() string {
	cmd := fmt.Sprintf("xcrun notarytool log %s --apple-id %s", e.Submission.SubmissionID, e.Identity)
	if e.TeamID != "" {
		cmd += " --team-id " + e.TeamID
	}
	return cmd
}

// ConcurrentReleaseError means another run holds the lock for the same version
type ConcurrentReleaseError struct {
	Version  string
	LockPath string
}

func (e *ConcurrentReleaseError) Error() string {
	return fmt.Sprintf("another release of %s is already running (lock %s)", e.Version, e.LockPath)
}

// Stage implements StageError
func (e *ConcurrentReleaseError) Stage() Stage { return StageLock }

// Remediation implements StageError
func (e *ConcurrentReleaseError) Remediation() string {
	return "wait for the other run to finish; if none is running, remove " + e.LockPath
}

// StageFailure wraps an untyped error with the stage it happened in
type StageFailure struct {
	At   Stage
	Hint string
	Err  error
}

func (e *StageFailure) Error() string { return fmt.Sprintf("%s: %v", e.At, e.Err) }

func (e *StageFailure) Unwrap() error { return e.Err }

// Stage implements StageError
func (e *StageFailure) Stage() Stage { return e.At }

// Remediation implements StageError
func (e *StageFailure) Remediation() string { return e.Hint }

func historyCommand(identity, team string) string {
	cmd := "xcrun notarytool history --apple-id " + identity
	if team != "" {
		cmd += " --team-id " + team
	}
	return cmd
}
