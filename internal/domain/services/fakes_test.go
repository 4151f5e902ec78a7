package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ochairo/macrelease/internal/domain/entities"
	"github.com/ochairo/macrelease/internal/domain/interfaces"
	"github.com/ochairo/macrelease/internal/domain/interfaces/gateways"
	"github.com/ochairo/macrelease/internal/domain/interfaces/repositories"
)

type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

type infoStep struct {
	status string
	err    error
}

type fakeNotary struct {
	submitID    string
	submitErr   error
	steps       []infoStep
	infoCalls   int
	logCalls    int
	logErr      error
	history     []gateways.SubmissionInfo
	historyErr  error
	historyHits int
	submitCalls int
}

func (f *fakeNotary) Submit(_ context.Context, _ *entities.Credential, _ string) (*gateways.SubmitResponse, error) {
	f.submitCalls++
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &gateways.SubmitResponse{ID: f.submitID, Message: "Successfully uploaded file"}, nil
}

func (f *fakeNotary) Info(_ context.Context, _ *entities.Credential, id string) (*gateways.SubmissionInfo, error) {
	step := f.steps[len(f.steps)-1]
	if f.infoCalls < len(f.steps) {
		step = f.steps[f.infoCalls]
	}
	f.infoCalls++
	if step.err != nil {
		return nil, step.err
	}
	return &gateways.SubmissionInfo{ID: id, Status: step.status}, nil
}

func (f *fakeNotary) Log(_ context.Context, _ *entities.Credential, id string) (*entities.NotarizationLog, error) {
	f.logCalls++
	if f.logErr != nil {
		return nil, f.logErr
	}
	return &entities.NotarizationLog{
		JobID:         id,
		Status:        "Invalid",
		StatusSummary: "Archive contains critical validation errors",
		Issues: []entities.NotarizationIssue{
			{Severity: "error", Path: "Widget.zip/Widget.app/Contents/MacOS/Widget", Message: "The executable does not have the hardened runtime enabled."},
		},
	}, nil
}

func (f *fakeNotary) History(_ context.Context, _ *entities.Credential) ([]gateways.SubmissionInfo, error) {
	f.historyHits++
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return f.history, nil
}

type memSubmissionStore struct {
	mu      sync.Mutex
	records map[string]entities.NotarizationSubmission
	saves   int
	saveErr error
}

func newMemSubmissionStore() *memSubmissionStore {
	return &memSubmissionStore{records: map[string]entities.NotarizationSubmission{}}
}

func (m *memSubmissionStore) Save(_ context.Context, s *entities.NotarizationSubmission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.records[s.Version] = *s
	return nil
}

func (m *memSubmissionStore) Get(_ context.Context, version string) (*entities.NotarizationSubmission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.records[version]
	if !ok {
		return nil, repositories.ErrSubmissionNotFound
	}
	return &s, nil
}

func (m *memSubmissionStore) List(_ context.Context) ([]*entities.NotarizationSubmission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*entities.NotarizationSubmission, 0, len(m.records))
	for _, s := range m.records {
		s := s
		out = append(out, &s)
	}
	return out, nil
}

type fakePreparer struct {
	archive string
	err     error
	calls   int
}

func (p *fakePreparer) Prepare(_ context.Context, _ *entities.BuildArtifact) (string, error) {
	p.calls++
	return p.archive, p.err
}

type sha256Calculator struct{}

func (sha256Calculator) CalculateChecksum(path string) (string, error) {
	f, err := os.Open(path) //nolint:gosec // test fixture
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

type recordingLogger struct {
	interfaces.NoOpLogger
	warnings []string
}

func (l *recordingLogger) Warn(msg string, _ ...interfaces.Field) {
	l.warnings = append(l.warnings, msg)
}

type fakeSigner struct {
	scheme entities.SignatureScheme
	err    error
}

func (s fakeSigner) Scheme() entities.SignatureScheme { return s.scheme }

func (s fakeSigner) Sign(path string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return fmt.Sprintf("sig(%s)", path), nil
}

type memFeed struct {
	hasSigned bool
	entries   []*entities.AppcastEntry
}

func (f *memFeed) HasSignedEntry(_ context.Context) (bool, error) { return f.hasSigned, nil }

func (f *memFeed) Upsert(_ context.Context, entry *entities.AppcastEntry) error {
	for i, e := range f.entries {
		if e.Version == entry.Version {
			f.entries[i] = entry
			return nil
		}
	}
	f.entries = append([]*entities.AppcastEntry{entry}, f.entries...)
	return nil
}
