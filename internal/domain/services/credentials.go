package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ochairo/macrelease/internal/domain/entities"
	"github.com/ochairo/macrelease/internal/domain/interfaces"
	"github.com/ochairo/macrelease/internal/domain/interfaces/gateways"
)

// ErrSourceEmpty is returned by a CredentialSource that has nothing to offer,
// letting the resolver fall through to the next tier
var ErrSourceEmpty = errors.New("credential source empty")

// CredentialSource is one tier of the credential chain
type CredentialSource interface {
	Tier() entities.CredentialTier

	// Lookup returns a complete credential, ErrSourceEmpty to fall through,
	// or any other error to stop resolution
	Lookup(ctx context.Context) (*entities.Credential, error)
}

// IdentitySource exposes a non-secret identity that the interactive tier may pair with a typed secret
type IdentitySource interface {
	Identity() string
}

// CredentialResolver walks credential sources in priority order
type CredentialResolver struct {
	sources       []CredentialSource
	defaultTeamID string
	logger        interfaces.Logger
}

// NewCredentialResolver creates a resolver. Sources are consulted in the given order.
// defaultTeamID fills OrganizationID when the winning tier does not carry one.
func NewCredentialResolver(logger interfaces.Logger, defaultTeamID string, sources ...CredentialSource) *CredentialResolver {
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	return &CredentialResolver{
		sources:       sources,
		defaultTeamID: defaultTeamID,
		logger:        logger,
	}
}

// Resolve returns the credential of the first tier that yields a complete pair.
// Lower tiers are never consulted once a higher tier succeeds.
func (r *CredentialResolver) Resolve(ctx context.Context) (*entities.Credential, error) {
	var tried []string
	for _, source := range r.sources {
		cred, err := source.Lookup(ctx)
		if errors.Is(err, ErrSourceEmpty) {
			r.logger.Debug("credential tier empty", interfaces.F("tier", source.Tier()))
			tried = append(tried, string(source.Tier()))
			continue
		}
		if err != nil {
			var stageErr entities.StageError
			if errors.As(err, &stageErr) {
				return nil, err
			}
			return nil, &entities.StageFailure{
				At:   entities.StageCredentials,
				Hint: fmt.Sprintf("the %s tier could not be read; fix it or remove its entry, then re-run `macrelease preflight`", source.Tier()),
				Err:  err,
			}
		}
		if !cred.Complete() {
			return nil, &entities.MissingCredentialError{
				Reason: fmt.Sprintf("%s returned an incomplete credential", source.Tier()),
			}
		}

		cred.Source = source.Tier()
		if cred.OrganizationID == "" {
			cred.OrganizationID = r.defaultTeamID
		}
		r.logger.Info("credential resolved", interfaces.F("credential", cred))
		return cred, nil
	}

	return nil, &entities.MissingCredentialError{
		Reason: "tried " + strings.Join(tried, ", "),
	}
}

// CredentialValidator confirms a credential with a live, read-only round trip
type CredentialValidator struct {
	notary gateways.NotaryGateway
}

// NewCredentialValidator creates a validator backed by the notary service
func NewCredentialValidator(notary gateways.NotaryGateway) *CredentialValidator {
	return &CredentialValidator{notary: notary}
}

// Validate lists the account's submission history. It issues no mutating calls.
func (v *CredentialValidator) Validate(ctx context.Context, cred *entities.Credential) (*entities.ValidationResult, error) {
	if !cred.Complete() {
		return nil, &entities.MissingCredentialError{Reason: "credential is incomplete"}
	}

	history, err := v.notary.History(ctx, cred)
	if err != nil {
		var ambiguous *gateways.AmbiguousTeamError
		switch {
		case errors.As(err, &ambiguous):
			return nil, &entities.AmbiguousOrganizationError{
				Identity:      cred.Identity,
				RemoteMessage: ambiguous.Message,
			}
		case errors.Is(err, gateways.ErrNotaryAuth), errors.Is(err, gateways.ErrNotaryTeam):
			return nil, &entities.InvalidCredentialError{
				Identity:       cred.Identity,
				OrganizationID: cred.OrganizationID,
				Err:            err,
			}
		default:
			return nil, &entities.SubmissionError{Op: "history", Err: err}
		}
	}

	return &entities.ValidationResult{
		Valid:           true,
		Identity:        cred.Identity,
		OrganizationID:  cred.OrganizationID,
		SubmissionsSeen: len(history),
	}, nil
}
