package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/ochairo/macrelease/internal/domain/entities"
)

// Process exit codes
const (
	exitOK        = 0
	exitFailure   = 1
	exitUsage     = 2
	exitPreflight = 3
	exitRejected  = 4
)

// usageError marks bad invocations so they map to exitUsage
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// exitCode maps a command error to the process exit code
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}

	var (
		usage     *usageError
		rejected  *entities.RejectedSubmissionError
		prereq    *entities.PrerequisiteError
		missing   *entities.MissingCredentialError
		invalid   *entities.InvalidCredentialError
		ambiguous *entities.AmbiguousOrganizationError
	)
	var stageErr entities.StageError
	switch {
	case errors.As(err, &usage):
		return exitUsage
	case errors.As(err, &rejected):
		return exitRejected
	case errors.As(err, &prereq), errors.As(err, &missing), errors.As(err, &invalid), errors.As(err, &ambiguous):
		return exitPreflight
	case errors.As(err, &stageErr) && (stageErr.Stage() == entities.StagePreflight || stageErr.Stage() == entities.StageCredentials):
		return exitPreflight
	default:
		return exitFailure
	}
}

// reportFailure prints the failed stage, what to do next and, when the error
// points at one, the command that shows the service-side diagnosis
func reportFailure(w io.Writer, err error) {
	var stageErr entities.StageError
	if !errors.As(err, &stageErr) {
		fmt.Fprintf(w, "❌ Error: %v\n", err)
		return
	}

	fmt.Fprintf(w, "❌ Stage %q failed: %v\n", stageErr.Stage(), err)
	if hint := stageErr.Remediation(); hint != "" {
		fmt.Fprintf(w, "   Next step: %s\n", hint)
	}

	var diag entities.Diagnostic
	if errors.As(err, &diag) {
		fmt.Fprintf(w, "   Diagnose:  %s\n", diag.DiagnosticCommand())
	}
}

// finish reports err and returns its exit code
func finish(w io.Writer, err error) int {
	code := exitCode(err)
	switch code {
	case exitOK:
	case exitUsage:
		fmt.Fprintf(w, "Error: %v\n", err)
	default:
		reportFailure(w, err)
	}
	return code
}
