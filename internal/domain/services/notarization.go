package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ochairo/macrelease/internal/domain/entities"
	"github.com/ochairo/macrelease/internal/domain/interfaces"
	"github.com/ochairo/macrelease/internal/domain/interfaces/gateways"
	"github.com/ochairo/macrelease/internal/domain/interfaces/repositories"
)

// ErrPollTimeout is returned when a submission does not reach a terminal state in time
var ErrPollTimeout = errors.New("notarization did not finish before the poll timeout")

// maxConsecutivePollErrors bounds transient Info failures before giving up
const maxConsecutivePollErrors = 3

// BundlePreparer strips signature-breaking metadata from the bundle and
// produces the archive that is uploaded to the notary service
type BundlePreparer interface {
	Prepare(ctx context.Context, artifact *entities.BuildArtifact) (string, error)
}

// PollPolicy controls the non-busy wait between status checks
type PollPolicy struct {
	Interval    time.Duration
	MaxInterval time.Duration
	Backoff     float64
	Timeout     time.Duration
}

// DefaultPollPolicy polls every 30s, backing off to 2m, and gives up after 60m
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{
		Interval:    30 * time.Second,
		MaxInterval: 2 * time.Minute,
		Backoff:     1.5,
		Timeout:     60 * time.Minute,
	}
}

func (p PollPolicy) withDefaults() PollPolicy {
	def := DefaultPollPolicy()
	if p.Interval <= 0 {
		p.Interval = def.Interval
	}
	if p.MaxInterval < p.Interval {
		p.MaxInterval = p.Interval
	}
	if p.Backoff < 1 {
		p.Backoff = 1
	}
	if p.Timeout <= 0 {
		p.Timeout = def.Timeout
	}
	return p
}

func (p PollPolicy) next(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * p.Backoff)
	if next > p.MaxInterval {
		return p.MaxInterval
	}
	return next
}

// ProgressFunc is called each time the submission changes state, and on every poll
type ProgressFunc func(submission *entities.NotarizationSubmission, elapsed time.Duration)

// NotarizationService drives the submit/poll state machine
type NotarizationService struct {
	notary     gateways.NotaryGateway
	preparer   BundlePreparer
	store      repositories.SubmissionRepository
	clock      interfaces.Clock
	policy     PollPolicy
	logger     interfaces.Logger
	onProgress ProgressFunc
}

// NotarizationOption configures a NotarizationService
type NotarizationOption func(*NotarizationService)

// WithClock injects a clock, mainly for tests
func WithClock(clock interfaces.Clock) NotarizationOption {
	return func(s *NotarizationService) { s.clock = clock }
}

// WithPollPolicy overrides the default poll policy
func WithPollPolicy(policy PollPolicy) NotarizationOption {
	return func(s *NotarizationService) { s.policy = policy.withDefaults() }
}

// WithProgress registers a progress callback
func WithProgress(fn ProgressFunc) NotarizationOption {
	return func(s *NotarizationService) { s.onProgress = fn }
}

// WithNotarizationLogger sets the logger
func WithNotarizationLogger(logger interfaces.Logger) NotarizationOption {
	return func(s *NotarizationService) { s.logger = logger }
}

// NewNotarizationService creates the submitter
func NewNotarizationService(
	notary gateways.NotaryGateway,
	preparer BundlePreparer,
	store repositories.SubmissionRepository,
	opts ...NotarizationOption,
) *NotarizationService {
	s := &NotarizationService{
		notary:   notary,
		preparer: preparer,
		store:    store,
		clock:    interfaces.RealClock{},
		policy:   DefaultPollPolicy(),
		logger:   &interfaces.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit prepares and uploads the bundle, then durably records the submission
// before returning so an interrupted poll can be resumed
func (s *NotarizationService) Submit(ctx context.Context, artifact *entities.BuildArtifact, cred *entities.Credential) (*entities.NotarizationSubmission, error) {
	archivePath, err := s.preparer.Prepare(ctx, artifact)
	if err != nil {
		return nil, &entities.StageFailure{
			At:   entities.StageNotarize,
			Hint: "inspect the exported bundle with `codesign --verify --deep --strict --verbose=2 <app>`",
			Err:  fmt.Errorf("failed to prepare bundle for submission: %w", err),
		}
	}

	s.logger.Info("submitting to notary service", interfaces.F("archive", archivePath))
	resp, err := s.notary.Submit(ctx, cred, archivePath)
	if err != nil {
		return nil, &entities.SubmissionError{Op: "submit", Err: err}
	}

	now := s.clock.Now()
	submission := &entities.NotarizationSubmission{
		SubmissionID:       resp.ID,
		Status:             entities.StatusSubmitted,
		Version:            artifact.Version,
		BundlePath:         artifact.BundlePath,
		ArchivePath:        archivePath,
		SubmittedAt:        now,
		UpdatedAt:          now,
		RawResponsePayload: resp.Raw,
		StatusMessage:      resp.Message,
	}

	if err := s.store.Save(ctx, submission); err != nil {
		return submission, &entities.SubmissionError{
			Op:           "record",
			SubmissionID: submission.SubmissionID,
			Err:          fmt.Errorf("failed to record submission: %w", err),
		}
	}
	s.logger.Info("submission recorded", interfaces.F("submission_id", submission.SubmissionID))
	return submission, nil
}

// Poll waits until the submission reaches Accepted or Invalid.
// Invalid is returned as data, with the log fetched once it is retrievable.
// Cancellation and timeout return a SubmissionError; the record stays on disk.
func (s *NotarizationService) Poll(ctx context.Context, submission *entities.NotarizationSubmission, cred *entities.Credential) (*entities.NotarizationSubmission, error) {
	start := s.clock.Now()
	deadline := start.Add(s.policy.Timeout)
	interval := s.policy.Interval
	consecutiveErrors := 0

	for !submission.Status.IsTerminal() {
		info, err := s.notary.Info(ctx, cred, submission.SubmissionID)
		if err != nil {
			if ctx.Err() != nil {
				return submission, &entities.SubmissionError{Op: "poll", SubmissionID: submission.SubmissionID, Err: ctx.Err()}
			}
			consecutiveErrors++
			s.logger.Warn("status check failed",
				interfaces.F("submission_id", submission.SubmissionID),
				interfaces.F("attempt", consecutiveErrors),
				interfaces.F("error", err))
			if consecutiveErrors >= maxConsecutivePollErrors {
				return submission, &entities.SubmissionError{Op: "poll", SubmissionID: submission.SubmissionID, Err: err}
			}
		} else {
			consecutiveErrors = 0
			if err := s.apply(ctx, submission, info); err != nil {
				return submission, err
			}
			if submission.Status.IsTerminal() {
				break
			}
		}

		remaining := deadline.Sub(s.clock.Now())
		if remaining <= 0 {
			return submission, &entities.SubmissionError{
				Op:           "poll",
				SubmissionID: submission.SubmissionID,
				Err:          fmt.Errorf("%w (%s)", ErrPollTimeout, s.policy.Timeout),
			}
		}
		// the last wait is shortened so the final status check lands on the deadline
		if err := s.clock.Sleep(ctx, min(interval, remaining)); err != nil {
			return submission, &entities.SubmissionError{Op: "poll", SubmissionID: submission.SubmissionID, Err: err}
		}
		interval = s.policy.next(interval)
	}

	if submission.NeedsLog() {
		s.fetchLog(ctx, submission, cred)
	}
	return submission, nil
}

// SubmitAndWait runs Submit followed by Poll
func (s *NotarizationService) SubmitAndWait(ctx context.Context, artifact *entities.BuildArtifact, cred *entities.Credential) (*entities.NotarizationSubmission, error) {
	submission, err := s.Submit(ctx, artifact, cred)
	if err != nil {
		return submission, err
	}
	return s.Poll(ctx, submission, cred)
}

func (s *NotarizationService) apply(ctx context.Context, submission *entities.NotarizationSubmission, info *gateways.SubmissionInfo) error {
	status, err := entities.ParseSubmissionStatus(info.Status)
	if err != nil {
		return &entities.SubmissionError{Op: "poll", SubmissionID: submission.SubmissionID, Err: err}
	}

	changed, err := submission.Transition(status, s.clock.Now())
	if err != nil {
		return &entities.SubmissionError{Op: "poll", SubmissionID: submission.SubmissionID, Err: err}
	}
	if info.Message != "" {
		submission.StatusMessage = info.Message
	}
	if info.Raw != "" {
		submission.RawResponsePayload = info.Raw
	}

	if changed {
		s.logger.Info("submission status changed",
			interfaces.F("submission_id", submission.SubmissionID),
			interfaces.F("status", submission.Status))
		if err := s.store.Save(ctx, submission); err != nil {
			s.logger.Warn("failed to update submission record", interfaces.F("error", err))
		}
	}
	if s.onProgress != nil {
		s.onProgress(submission, s.clock.Now().Sub(submission.SubmittedAt))
	}
	return nil
}

// fetchLog is a separate authenticated call; the status response never carries the details
func (s *NotarizationService) fetchLog(ctx context.Context, submission *entities.NotarizationSubmission, cred *entities.Credential) {
	log, err := s.notary.Log(ctx, cred, submission.SubmissionID)
	if err != nil {
		s.logger.Warn("failed to fetch notarization log",
			interfaces.F("submission_id", submission.SubmissionID),
			interfaces.F("error", err))
		submission.LogFetchError = err.Error()
	} else {
		submission.ErrorLog = log
		submission.LogFetchError = ""
	}
	if err := s.store.Save(ctx, submission); err != nil {
		s.logger.Warn("failed to update submission record", interfaces.F("error", err))
	}
}
