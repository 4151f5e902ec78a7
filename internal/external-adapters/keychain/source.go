package keychain

import (
	"context"
	"errors"
	"fmt"

	"github.com/ochairo/macrelease/internal/domain/entities"
	"github.com/ochairo/macrelease/internal/domain/interfaces/gateways"
	"github.com/ochairo/macrelease/internal/domain/services"
)

// Account names. Identity and secret are stored separately so the identity
// can be shown in diagnostics while the secret never is.
const (
	AccountIdentity     = "identity"
	AccountSecret       = "secret"
	AccountOrganization = "organization"
)

// ServiceName returns the keychain service label for a bundle identifier
func ServiceName(bundleID string) string {
	return bundleID + ".release"
}

// Source is the secure-store credential tier
type Source struct {
	store   gateways.SecretStore
	service string
}

// NewSource creates the tier for the given keychain service label
func NewSource(store gateways.SecretStore, service string) *Source {
	return &Source{store: store, service: service}
}

// Tier implements services.CredentialSource
func (s *Source) Tier() entities.CredentialTier { return entities.TierSecureStore }

// Lookup returns the stored pair. A partial entry falls through to the next tier.
func (s *Source) Lookup(_ context.Context) (*entities.Credential, error) {
	identity, err := s.get(AccountIdentity)
	if err != nil {
		return nil, err
	}
	secret, err := s.get(AccountSecret)
	if err != nil {
		return nil, err
	}
	if identity == "" || secret == "" {
		return nil, services.ErrSourceEmpty
	}

	org, err := s.get(AccountOrganization)
	if err != nil {
		return nil, err
	}
	return &entities.Credential{Identity: identity, Secret: secret, OrganizationID: org}, nil
}

func (s *Source) get(account string) (string, error) {
	v, err := s.store.Get(s.service, account)
	if errors.Is(err, gateways.ErrSecretNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("secure store unavailable: %w", err)
	}
	return v, nil
}

// Save writes a credential for later runs. The organization entry is removed
// when the credential carries none so a stale team id cannot linger.
func Save(store gateways.SecretStore, service string, cred *entities.Credential) error {
	if !cred.Complete() {
		return fmt.Errorf("refusing to store an incomplete credential")
	}
	if err := store.Set(service, AccountIdentity, cred.Identity); err != nil {
		return err
	}
	if err := store.Set(service, AccountSecret, cred.Secret); err != nil {
		return err
	}
	if cred.OrganizationID == "" {
		return store.Delete(service, AccountOrganization)
	}
	return store.Set(service, AccountOrganization, cred.OrganizationID)
}

// Remove deletes every entry for the service
func Remove(store gateways.SecretStore, service string) error {
	for _, account := range []string{AccountIdentity, AccountSecret, AccountOrganization} {
		if err := store.Delete(service, account); err != nil {
			return err
		}
	}
	return nil
}
