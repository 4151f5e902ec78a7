// Package orchestrators coordinates the release workflow across domain services and adapters.
package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ochairo/macrelease/internal/domain/entities"
	"github.com/ochairo/macrelease/internal/domain/interfaces"
	"github.com/ochairo/macrelease/internal/domain/interfaces/gateways"
	"github.com/ochairo/macrelease/internal/domain/services"
)

// PrerequisiteChecker verifies the local toolchain
type PrerequisiteChecker interface {
	Check(ctx context.Context) ([]entities.PrerequisiteResult, error)
}

// CredentialResolver finds the notarization credential
type CredentialResolver interface {
	Resolve(ctx context.Context) (*entities.Credential, error)
}

// CredentialValidator confirms a credential with the notary service
type CredentialValidator interface {
	Validate(ctx context.Context, cred *entities.Credential) (*entities.ValidationResult, error)
}

// Builder archives and exports the signed application bundle
type Builder interface {
	BuildAndExport(ctx context.Context, pc *services.PipelineContext) (*entities.BuildArtifact, error)
}

// BundleVerifier checks the exported bundle before it is submitted
type BundleVerifier interface {
	Verify(bundlePath, bundleID, version string) (*entities.BundleInfo, error)
}

// Notarizer submits a bundle and waits for a terminal status
type Notarizer interface {
	SubmitAndWait(ctx context.Context, artifact *entities.BuildArtifact, cred *entities.Credential) (*entities.NotarizationSubmission, error)
}

// Stapler attaches the notarization ticket
type Stapler interface {
	Staple(ctx context.Context, artifact *entities.BuildArtifact) entities.StapleResult
}

// Packager produces the distributables
type Packager interface {
	Package(ctx context.Context, artifact *entities.BuildArtifact) (*entities.PackagedArtifacts, error)
}

// AppcastWriter generates an entry and writes it into the feed
type AppcastWriter interface {
	GenerateAndUpsert(ctx context.Context, req services.GenerateRequest) (*entities.AppcastEntry, error)
}

// Publisher hosts the packaged release
type Publisher interface {
	Publish(ctx context.Context, req *PublishRequest) (*PublishResult, error)
}

// ReleaseDependencies wires the stages of a release run.
// Appcast and Publisher are optional.
type ReleaseDependencies struct {
	Lock      gateways.ReleaseLock
	Checker   PrerequisiteChecker
	Resolver  CredentialResolver
	Validator CredentialValidator
	Builder   Builder
	Inspector BundleVerifier
	Notarizer Notarizer
	Stapler   Stapler
	Packager  Packager
	Appcast   AppcastWriter
	Signer    services.ArtifactSigner
	Publisher Publisher
}

// ReleaseOrchestrator runs the full release pipeline for one version
type ReleaseOrchestrator struct {
	deps ReleaseDependencies
}

// NewReleaseOrchestrator creates a release orchestrator
func NewReleaseOrchestrator(deps ReleaseDependencies) *ReleaseOrchestrator {
	return &ReleaseOrchestrator{deps: deps}
}

// ReleaseResult contains the outcome of a release run
type ReleaseResult struct {
	RunID            string
	Version          string
	Artifact         *entities.BuildArtifact
	Bundle           *entities.BundleInfo
	Submission       *entities.NotarizationSubmission
	Staple           entities.StapleResult
	Packaged         *entities.PackagedArtifacts
	Entry            *entities.AppcastEntry
	Published        *PublishResult
	PreflightTime    time.Duration
	BuildDuration    time.Duration
	NotarizeDuration time.Duration
	TotalDuration    time.Duration
	Success          bool
	Error            error
}

// Run executes lock, preflight, credentials, build, notarize, staple,
// package, appcast and publish in that order. Stapling never fails the run.
func (o *ReleaseOrchestrator) Run(ctx context.Context, pc *services.PipelineContext) (*ReleaseResult, error) {
	start := pc.Clock.Now()
	result := &ReleaseResult{RunID: pc.RunID, Version: pc.Version}
	fail := func(err error) (*ReleaseResult, error) {
		result.Error = err
		result.TotalDuration = pc.Clock.Now().Sub(start)
		return result, err
	}

	// Step 1: Serialize runs for this version
	unlock, err := o.deps.Lock.Acquire(pc.Version)
	if err != nil {
		var concurrent *entities.ConcurrentReleaseError
		if errors.As(err, &concurrent) {
			return fail(err)
		}
		return fail(&entities.StageFailure{At: entities.StageLock, Hint: "check that the work directory is writable", Err: err})
	}
	defer func() {
		if err := unlock(); err != nil {
			pc.Logger.Warn("failed to release lock", interfaces.F("version", pc.Version), interfaces.F("error", err))
		}
	}()

	// Step 2: Prerequisites, then credentials
	preflightStart := pc.Clock.Now()
	if _, err := o.deps.Checker.Check(ctx); err != nil {
		return fail(err)
	}
	cred, err := o.deps.Resolver.Resolve(ctx)
	if err != nil {
		return fail(err)
	}
	defer cred.Wipe()
	if _, err := o.deps.Validator.Validate(ctx, cred); err != nil {
		return fail(err)
	}
	pc.Credential = cred
	result.PreflightTime = pc.Clock.Now().Sub(preflightStart)
	pc.Logger.Info("credentials validated", interfaces.F("source", cred.Source), interfaces.F("identity", cred.Identity))

	// Step 3: Build and export
	buildStart := pc.Clock.Now()
	artifact, err := o.deps.Builder.BuildAndExport(ctx, pc)
	if err != nil {
		return fail(err)
	}
	result.Artifact = artifact

	info, err := o.deps.Inspector.Verify(artifact.BundlePath, pc.Config.BundleID, pc.Version)
	if err != nil {
		return fail(&entities.StageFailure{
			At:   entities.StageBuild,
			Hint: "check MARKETING_VERSION, PRODUCT_BUNDLE_IDENTIFIER and signing settings of the scheme",
			Err:  fmt.Errorf("exported bundle does not match the release: %w", err),
		})
	}
	result.Bundle = info
	result.BuildDuration = pc.Clock.Now().Sub(buildStart)

	// Step 4: Notarize
	notarizeStart := pc.Clock.Now()
	submission, err := o.deps.Notarizer.SubmitAndWait(ctx, artifact, cred)
	result.Submission = submission
	if err != nil {
		return fail(err)
	}
	result.NotarizeDuration = pc.Clock.Now().Sub(notarizeStart)
	if submission.Status == entities.StatusInvalid {
		return fail(&entities.RejectedSubmissionError{
			Submission: submission,
			Identity:   cred.Identity,
			TeamID:     cred.OrganizationID,
		})
	}

	// Step 5: Staple
	result.Staple = o.deps.Stapler.Staple(ctx, artifact)
	if result.Staple.Deferred {
		pc.Logger.Warn("staple deferred, Gatekeeper will check the ticket online until it is stapled",
			interfaces.F("version", pc.Version),
			interfaces.F("retry", "macrelease staple "+pc.Version))
	}

	// Step 6: Package
	packaged, err := o.deps.Packager.Package(ctx, artifact)
	if err != nil {
		return fail(&entities.StageFailure{At: entities.StagePackage, Hint: "check free disk space and re-run the release", Err: err})
	}
	result.Packaged = packaged

	// Step 7: Appcast
	if o.deps.Appcast != nil {
		entry, err := o.writeAppcast(ctx, pc, info, packaged)
		if err != nil {
			return fail(&entities.StageFailure{At: entities.StageAppcast, Hint: "fix the feed, then run `macrelease appcast <version> <artifact>`", Err: err})
		}
		result.Entry = entry
	}

	// Step 8: Publish
	if o.deps.Publisher != nil {
		req := &PublishRequest{
			Version:   pc.Version,
			AppName:   artifact.AppName(),
			Artifacts: packaged,
			FeedPath:  pc.Config.Appcast.FeedPath,
		}
		if result.Entry != nil {
			req.Notes = result.Entry.ReleaseNotesHTML
		} else {
			req.FeedPath = ""
		}
		published, err := o.deps.Publisher.Publish(ctx, req)
		result.Published = published
		if err != nil {
			return fail(&entities.StageFailure{At: entities.StagePublish, Hint: "resume with `macrelease publish <version>`", Err: err})
		}
	}

	result.Success = true
	result.TotalDuration = pc.Clock.Now().Sub(start)
	return result, nil
}

func (o *ReleaseOrchestrator) writeAppcast(ctx context.Context, pc *services.PipelineContext, info *entities.BundleInfo, packaged *entities.PackagedArtifacts) (*entities.AppcastEntry, error) {
	artifactPath := packaged.ZipPath
	if artifactPath == "" {
		artifactPath = packaged.DiskImagePath
	}

	version := pc.Version
	if info != nil && info.BuildVersion != "" {
		version = info.BuildVersion
	}

	return o.deps.Appcast.GenerateAndUpsert(ctx, services.GenerateRequest{
		Version:         version,
		ShortVersion:    pc.Version,
		ArtifactPath:    artifactPath,
		DownloadURL:     pc.Config.Appcast.DownloadURL(pc.Config.AppName, pc.Version, filepath.Base(artifactPath)),
		NotesPath:       pc.Config.Appcast.NotesPath,
		Signer:          o.deps.Signer,
		PublicationDate: pc.Clock.Now().UTC(),
	})
}

// GetReleaseSummary returns a human-readable summary of the run
func (r *ReleaseResult) GetReleaseSummary() string {
	if !r.Success {
		return fmt.Sprintf("Release failed: %v", r.Error)
	}

	summary := fmt.Sprintf(`Release successful!
Version: %s
Run: %s
Preflight: %v
Build: %v
Notarize: %v
Total: %v`,
		r.Version,
		r.RunID,
		r.PreflightTime.Round(time.Second),
		r.BuildDuration.Round(time.Second),
		r.NotarizeDuration.Round(time.Second),
		r.TotalDuration.Round(time.Second),
	)

	if r.Submission != nil {
		summary += fmt.Sprintf("\nSubmission: %s (%s)", r.Submission.SubmissionID, r.Submission.Status)
	}
	if r.Staple.Deferred {
		summary += fmt.Sprintf("\n\nStaple: DEFERRED - run `macrelease staple %s` later", r.Version)
	} else if r.Staple.Success {
		summary += "\n\nStaple: OK"
	}
	if r.Packaged != nil {
		for _, p := range r.Packaged.Paths() {
			summary += "\nArtifact: " + p
		}
	}
	if r.Published != nil && r.Published.ReleaseURL != "" {
		summary += "\nRelease: " + r.Published.ReleaseURL
	}
	return summary
}
