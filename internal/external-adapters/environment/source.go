package environment

import (
	"context"

	"github.com/ochairo/macrelease/internal/domain/entities"
	"github.com/ochairo/macrelease/internal/domain/services"
)

// Source is the environment credential tier for unattended runs. Identity and
// secret must both come from the environment; a lone secret is never paired
// with an identity from another tier.
type Source struct {
	identity string
	secret   string
	teamID   string
}

// NewSource creates the tier from parsed settings
func NewSource(s *Settings) *Source {
	return &Source{identity: s.AppleID, secret: s.AppPassword, teamID: s.TeamID}
}

// Tier implements services.CredentialSource
func (s *Source) Tier() entities.CredentialTier { return entities.TierEnvironment }

// Lookup implements services.CredentialSource
func (s *Source) Lookup(_ context.Context) (*entities.Credential, error) {
	switch {
	case s.identity != "" && s.secret != "":
		return &entities.Credential{Identity: s.identity, Secret: s.secret, OrganizationID: s.teamID}, nil
	case s.secret != "":
		return nil, &entities.MissingCredentialError{
			Reason: "MACRELEASE_APP_PASSWORD is set without MACRELEASE_APPLE_ID; identity and secret must come from the same source",
		}
	default:
		return nil, services.ErrSourceEmpty
	}
}

// Identity implements services.IdentitySource
func (s *Source) Identity() string { return s.identity }
