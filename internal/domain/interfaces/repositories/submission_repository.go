// Package repositories defines interfaces for data access layers.
package repositories

import (
	"context"
	"errors"

	"github.com/ochairo/macrelease/internal/domain/entities"
)

// ErrSubmissionNotFound is returned when no submission is recorded for a version
var ErrSubmissionNotFound = errors.New("no submission recorded")

// SubmissionRepository durably records notarization submissions so an
// interrupted run can be resumed or inspected later
type SubmissionRepository interface {
	// Save writes the submission, replacing any previous record for its version
	Save(ctx context.Context, submission *entities.NotarizationSubmission) error

	// Get returns the latest submission recorded for a version
	Get(ctx context.Context, version string) (*entities.NotarizationSubmission, error)

	// List returns all recorded submissions, newest first
	List(ctx context.Context) ([]*entities.NotarizationSubmission, error)
}
