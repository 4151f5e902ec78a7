// Package keychain keeps notarization credentials in the OS secure credential store.
package keychain

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/ochairo/macrelease/internal/domain/interfaces/gateways"
)

// Store implements gateways.SecretStore on top of the login keychain
type Store struct{}

// NewStore creates a keychain-backed secret store
func NewStore() *Store {
	return &Store{}
}

// Get reads one entry, returning gateways.ErrSecretNotFound when absent
func (s *Store) Get(service, account string) (string, error) {
	value, err := keyring.Get(service, account)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", gateways.ErrSecretNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s/%s from keychain: %w", service, account, err)
	}
	return value, nil
}

// Set creates or replaces one entry
func (s *Store) Set(service, account, value string) error {
	if err := keyring.Set(service, account, value); err != nil {
		return fmt.Errorf("failed to write %s/%s to keychain: %w", service, account, err)
	}
	return nil
}

// Delete removes one entry; a missing entry is not an error
func (s *Store) Delete(service, account string) error {
	err := keyring.Delete(service, account)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete %s/%s from keychain: %w", service, account, err)
	}
	return nil
}
