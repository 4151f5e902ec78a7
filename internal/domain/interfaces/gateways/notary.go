package gateways

import (
	"context"
	"errors"

	"github.com/ochairo/macrelease/internal/domain/entities"
)

// ErrNotaryAuth is returned when the notary service rejects the credential
var ErrNotaryAuth = errors.New("notary service rejected the credential")

// ErrNotaryTeam is returned when the supplied team id is not accepted for the account
var ErrNotaryTeam = errors.New("notary service rejected the team id")

// AmbiguousTeamError is returned when the account belongs to several teams
// and no team id was supplied. Message is the service's response verbatim.
type AmbiguousTeamError struct {
	Message string
}

func (e *AmbiguousTeamError) Error() string { return e.Message }

// SubmitResponse is the immediate answer to an upload
type SubmitResponse struct {
	ID      string
	Message string
	Raw     string
}

// SubmissionInfo is the current state of a submission as reported by the service
type SubmissionInfo struct {
	ID          string
	Status      string
	Name        string
	CreatedDate string
	Message     string
	Raw         string
}

// NotaryGateway is the remote attestation service
type NotaryGateway interface {
	// Submit uploads an archive without waiting for processing
	Submit(ctx context.Context, cred *entities.Credential, archivePath string) (*SubmitResponse, error)

	// Info fetches the current status of a submission
	Info(ctx context.Context, cred *entities.Credential, submissionID string) (*SubmissionInfo, error)

	// Log fetches the detailed processing log of a submission
	Log(ctx context.Context, cred *entities.Credential, submissionID string) (*entities.NotarizationLog, error)

	// History lists previous submissions; read-only, used to validate credentials
	History(ctx context.Context, cred *entities.Credential) ([]SubmissionInfo, error)
}
