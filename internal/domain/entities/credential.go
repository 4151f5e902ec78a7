package entities

import (
	"fmt"
	"log/slog"
)

// CredentialTier identifies where a credential was resolved from
type CredentialTier string

// Credential tiers in resolution priority order
const (
	TierSecureStore       CredentialTier = "secure-store"
	TierConfigFile        CredentialTier = "config-file"
	TierEnvironment       CredentialTier = "environment"
	TierInteractivePrompt CredentialTier = "interactive-prompt"
)

// Credential is an attestation-service identity and its app-specific secret.
// The secret lives only in memory; String and LogValue never render it.
type Credential struct {
	Identity       string
	Secret         string
	OrganizationID string
	Source         CredentialTier
}

// Complete reports whether both identity and secret are present
func (c *Credential) Complete() bool {
	return c != nil && c.Identity != "" && c.Secret != ""
}

// String renders the credential without its secret
func (c *Credential) String() string {
	if c == nil {
		return "<nil credential>"
	}
	org := c.OrganizationID
	if org == "" {
		org = "-"
	}
	return fmt.Sprintf("%s (org %s, from %s)", c.Identity, org, c.Source)
}

// LogValue implements slog.LogValuer so structured logs never carry the secret
func (c *Credential) LogValue() slog.Value {
	if c == nil {
		return slog.StringValue("<nil>")
	}
	return slog.GroupValue(
		slog.String("identity", c.Identity),
		slog.String("organization", c.OrganizationID),
		slog.String("source", string(c.Source)),
	)
}

// Wipe drops the secret from the credential
func (c *Credential) Wipe() {
	if c != nil {
		c.Secret = ""
	}
}

// ValidationResult is the outcome of a live round-trip with the attestation service
type ValidationResult struct {
	Valid           bool
	Identity        string
	OrganizationID  string
	SubmissionsSeen int
}
