package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ochairo/macrelease/internal/domain/entities"
)

func newTestArtifact() *entities.BuildArtifact {
	return &entities.BuildArtifact{
		BundlePath: "/work/build/1.4.0/export/Widget.app",
		Version:    "1.4.0",
	}
}

func testCredential() *entities.Credential {
	return &entities.Credential{Identity: "dev@example.com", Secret: "abcd-efgh-ijkl-mnop", OrganizationID: "TEAM123456"}
}

func TestNotarizationSubmitRecordsBeforeReturning(t *testing.T) {
	notary := &fakeNotary{submitID: "2efe2717-52ef-43a5-96dc-0797e4ca1041"}
	store := newMemSubmissionStore()
	clock := newFakeClock()
	svc := NewNotarizationService(notary, &fakePreparer{archive: "/work/Widget.zip"}, store, WithClock(clock))

	submission, err := svc.Submit(context.Background(), newTestArtifact(), testCredential())
	require.NoError(t, err)

	assert.Equal(t, entities.StatusSubmitted, submission.Status)
	assert.Equal(t, "/work/Widget.zip", submission.ArchivePath)
	assert.Equal(t, clock.now, submission.SubmittedAt)

	recorded, err := store.Get(context.Background(), "1.4.0")
	require.NoError(t, err)
	assert.Equal(t, submission.SubmissionID, recorded.SubmissionID)
}

func TestNotarizationSubmitFailures(t *testing.T) {
	t.Run("prepare failure is a stage failure", func(t *testing.T) {
		notary := &fakeNotary{}
		svc := NewNotarizationService(notary, &fakePreparer{err: errors.New("codesign failed")}, newMemSubmissionStore())

		_, err := svc.Submit(context.Background(), newTestArtifact(), testCredential())

		var stageErr *entities.StageFailure
		require.ErrorAs(t, err, &stageErr)
		assert.Equal(t, entities.StageNotarize, stageErr.Stage())
		assert.Zero(t, notary.submitCalls)
	})

	t.Run("upload failure is a submission error", func(t *testing.T) {
		notary := &fakeNotary{submitErr: errors.New("connection reset")}
		store := newMemSubmissionStore()
		svc := NewNotarizationService(notary, &fakePreparer{archive: "a.zip"}, store)

		_, err := svc.Submit(context.Background(), newTestArtifact(), testCredential())

		var subErr *entities.SubmissionError
		require.ErrorAs(t, err, &subErr)
		assert.Equal(t, "submit", subErr.Op)
		assert.Zero(t, store.saves)
	})
}

func TestNotarizationPoll(t *testing.T) {
	tests := []struct {
		name           string
		steps          []infoStep
		expectedStatus entities.SubmissionStatus
		expectedSleeps []time.Duration
		expectedLogs   int
	}{
		{
			name:           "accepted after backoff",
			steps:          []infoStep{{status: "In Progress"}, {status: "In Progress"}, {status: "Accepted"}},
			expectedStatus: entities.StatusAccepted,
			expectedSleeps: []time.Duration{30 * time.Second, 45 * time.Second},
		},
		{
			name:           "invalid fetches log once",
			steps:          []infoStep{{status: "In Progress"}, {status: "Invalid"}},
			expectedStatus: entities.StatusInvalid,
			expectedSleeps: []time.Duration{30 * time.Second},
			expectedLogs:   1,
		},
		{
			name:           "rejected maps to invalid",
			steps:          []infoStep{{status: "Rejected"}},
			expectedStatus: entities.StatusInvalid,
			expectedLogs:   1,
		},
		{
			name:           "transient errors are tolerated",
			steps:          []infoStep{{err: errors.New("timeout")}, {err: errors.New("timeout")}, {status: "Accepted"}},
			expectedStatus: entities.StatusAccepted,
			expectedSleeps: []time.Duration{30 * time.Second, 45 * time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notary := &fakeNotary{steps: tt.steps}
			clock := newFakeClock()
			var progress []entities.SubmissionStatus
			svc := NewNotarizationService(notary, &fakePreparer{}, newMemSubmissionStore(),
				WithClock(clock),
				WithProgress(func(s *entities.NotarizationSubmission, _ time.Duration) {
					progress = append(progress, s.Status)
				}))

			submission := &entities.NotarizationSubmission{SubmissionID: "abc", Status: entities.StatusSubmitted, Version: "1.4.0", SubmittedAt: clock.now}
			got, err := svc.Poll(context.Background(), submission, testCredential())
			require.NoError(t, err)

			assert.Equal(t, tt.expectedStatus, got.Status)
			assert.Equal(t, tt.expectedSleeps, clock.sleeps)
			assert.Equal(t, tt.expectedLogs, notary.logCalls)
			require.NotEmpty(t, progress)
			assert.Equal(t, tt.expectedStatus, progress[len(progress)-1])
			if tt.expectedStatus == entities.StatusInvalid {
				require.NotNil(t, got.ErrorLog)
				assert.Len(t, got.ErrorLog.Issues, 1)
			}
		})
	}
}

func TestNotarizationPollInvalidIsNotRefetched(t *testing.T) {
	notary := &fakeNotary{steps: []infoStep{{status: "Invalid"}}}
	svc := NewNotarizationService(notary, &fakePreparer{}, newMemSubmissionStore(), WithClock(newFakeClock()))
	submission := &entities.NotarizationSubmission{SubmissionID: "abc", Status: entities.StatusSubmitted, Version: "1.4.0"}

	_, err := svc.Poll(context.Background(), submission, testCredential())
	require.NoError(t, err)
	_, err = svc.Poll(context.Background(), submission, testCredential())
	require.NoError(t, err)

	assert.Equal(t, 1, notary.logCalls)
}

func TestNotarizationPollLogUnavailable(t *testing.T) {
	notary := &fakeNotary{steps: []infoStep{{status: "Invalid"}}, logErr: errors.New("503")}
	store := newMemSubmissionStore()
	svc := NewNotarizationService(notary, &fakePreparer{}, store, WithClock(newFakeClock()))
	submission := &entities.NotarizationSubmission{SubmissionID: "abc", Status: entities.StatusSubmitted, Version: "1.4.0"}

	got, err := svc.Poll(context.Background(), submission, testCredential())
	require.NoError(t, err)

	assert.Nil(t, got.ErrorLog)
	assert.Equal(t, "503", got.LogFetchError)
	assert.True(t, got.NeedsLog())
	recorded, err := store.Get(context.Background(), "1.4.0")
	require.NoError(t, err)
	assert.Equal(t, "503", recorded.LogFetchError)

	rejected := &entities.RejectedSubmissionError{Submission: got}
	assert.Contains(t, rejected.Error(), "log unavailable: 503")
}

func TestNotarizationPollRefetchesLogAfterFailure(t *testing.T) {
	notary := &fakeNotary{steps: []infoStep{{status: "Invalid"}}, logErr: errors.New("503")}
	svc := NewNotarizationService(notary, &fakePreparer{}, newMemSubmissionStore(), WithClock(newFakeClock()))
	submission := &entities.NotarizationSubmission{SubmissionID: "abc", Status: entities.StatusSubmitted, Version: "1.4.0"}

	_, err := svc.Poll(context.Background(), submission, testCredential())
	require.NoError(t, err)

	notary.logErr = nil
	got, err := svc.Poll(context.Background(), submission, testCredential())
	require.NoError(t, err)

	assert.Equal(t, 2, notary.logCalls)
	require.NotNil(t, got.ErrorLog)
	assert.Len(t, got.ErrorLog.Issues, 1)
	assert.Empty(t, got.LogFetchError)
	assert.False(t, got.NeedsLog())
}

func TestNotarizationPollTimeout(t *testing.T) {
	notary := &fakeNotary{steps: []infoStep{{status: "In Progress"}}}
	clock := newFakeClock()
	store := newMemSubmissionStore()
	svc := NewNotarizationService(notary, &fakePreparer{}, store,
		WithClock(clock),
		WithPollPolicy(PollPolicy{Interval: 30 * time.Second, MaxInterval: 2 * time.Minute, Backoff: 1.5, Timeout: 2 * time.Minute}))

	submission := &entities.NotarizationSubmission{SubmissionID: "abc", Status: entities.StatusSubmitted, Version: "1.4.0"}
	got, err := svc.Poll(context.Background(), submission, testCredential())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPollTimeout)
	var subErr *entities.SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, "abc", subErr.SubmissionID)
	assert.Equal(t, entities.StatusInProgress, got.Status)
	assert.Equal(t, []time.Duration{30 * time.Second, 45 * time.Second, 45 * time.Second}, clock.sleeps)
	assert.Equal(t, 4, notary.infoCalls, "status is checked once more at the deadline")
	assert.Zero(t, notary.logCalls)
}

func TestNotarizationPollAcceptedAtDeadline(t *testing.T) {
	notary := &fakeNotary{steps: []infoStep{{status: "In Progress"}, {status: "In Progress"}, {status: "In Progress"}, {status: "Accepted"}}}
	clock := newFakeClock()
	svc := NewNotarizationService(notary, &fakePreparer{}, newMemSubmissionStore(),
		WithClock(clock),
		WithPollPolicy(PollPolicy{Interval: 30 * time.Second, MaxInterval: 2 * time.Minute, Backoff: 1.5, Timeout: 2 * time.Minute}))

	submission := &entities.NotarizationSubmission{SubmissionID: "abc", Status: entities.StatusSubmitted, Version: "1.4.0"}
	got, err := svc.Poll(context.Background(), submission, testCredential())

	require.NoError(t, err)
	assert.Equal(t, entities.StatusAccepted, got.Status)
	var waited time.Duration
	for _, d := range clock.sleeps {
		waited += d
	}
	assert.Equal(t, 2*time.Minute, waited)
}

func TestNotarizationPollCancelled(t *testing.T) {
	notary := &fakeNotary{steps: []infoStep{{status: "In Progress"}}}
	svc := NewNotarizationService(notary, &fakePreparer{}, newMemSubmissionStore(), WithClock(newFakeClock()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	submission := &entities.NotarizationSubmission{SubmissionID: "abc", Status: entities.StatusSubmitted, Version: "1.4.0"}
	_, err := svc.Poll(ctx, submission, testCredential())

	assert.ErrorIs(t, err, context.Canceled)
}

func TestNotarizationPollGivesUpAfterRepeatedErrors(t *testing.T) {
	notary := &fakeNotary{steps: []infoStep{{err: errors.New("dns failure")}}}
	svc := NewNotarizationService(notary, &fakePreparer{}, newMemSubmissionStore(), WithClock(newFakeClock()))

	submission := &entities.NotarizationSubmission{SubmissionID: "abc", Status: entities.StatusSubmitted, Version: "1.4.0"}
	_, err := svc.Poll(context.Background(), submission, testCredential())

	var subErr *entities.SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, maxConsecutivePollErrors, notary.infoCalls)
}

func TestPollPolicyBackoffIsCapped(t *testing.T) {
	policy := DefaultPollPolicy()

	interval := policy.Interval
	for i := 0; i < 10; i++ {
		interval = policy.next(interval)
	}

	assert.Equal(t, 2*time.Minute, interval)
	assert.Equal(t, 60*time.Minute, policy.Timeout)
}

func TestPollPolicyDefaults(t *testing.T) {
	p := PollPolicy{}.withDefaults()

	assert.Equal(t, 30*time.Second, p.Interval)
	assert.Equal(t, 30*time.Second, p.MaxInterval)
	assert.InDelta(t, 1.0, p.Backoff, 0.0001)
	assert.Equal(t, 60*time.Minute, p.Timeout)
}
