package yaml

import (
	"context"

	"github.com/ochairo/macrelease/internal/domain/entities"
	"github.com/ochairo/macrelease/internal/domain/services"
)

// IdentitySource is the config-file credential tier. The file may name the
// account but never holds its secret, so Lookup always falls through; the
// identity is offered to the interactive tier instead.
type IdentitySource struct {
	identity string
}

// NewIdentitySource creates the tier from a parsed config
func NewIdentitySource(config *entities.ReleaseConfig) *IdentitySource {
	if config == nil {
		return &IdentitySource{}
	}
	return &IdentitySource{identity: config.AppleID}
}

// Tier implements services.CredentialSource
func (s *IdentitySource) Tier() entities.CredentialTier { return entities.TierConfigFile }

// Lookup implements services.CredentialSource
func (s *IdentitySource) Lookup(_ context.Context) (*entities.Credential, error) {
	return nil, services.ErrSourceEmpty
}

// Identity implements services.IdentitySource
func (s *IdentitySource) Identity() string { return s.identity }
