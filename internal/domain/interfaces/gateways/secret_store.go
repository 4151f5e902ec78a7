package gateways

import "errors"

// ErrSecretNotFound is returned when the store holds no entry for the account
var ErrSecretNotFound = errors.New("secret not found")

// SecretStore is the OS secure credential store
type SecretStore interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
	Delete(service, account string) error
}
