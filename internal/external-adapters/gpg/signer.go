package gpg

import (
	"fmt"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"
)

// Signer produces armored detached signatures with a private key loaded once
type Signer struct {
	entity *openpgp.Entity
}

// NewSignerFromFile loads the first private key in keyPath and unlocks it with
// passphrase when it is encrypted. The passphrase is not retained.
func NewSignerFromFile(keyPath string, passphrase []byte) (*Signer, error) {
	entities, err := readKeyFile(keyPath)
	if err != nil {
		return nil, err
	}

	var entity *openpgp.Entity
	for _, e := range entities {
		if e.PrivateKey != nil {
			entity = e
			break
		}
	}
	if entity == nil {
		return nil, fmt.Errorf("%s contains no private key", keyPath)
	}

	if entity.PrivateKey.Encrypted {
		if len(passphrase) == 0 {
			return nil, fmt.Errorf("private key is encrypted and no passphrase was supplied")
		}
		if err := entity.DecryptPrivateKeys(passphrase); err != nil {
			return nil, fmt.Errorf("failed to unlock private key: %w", err)
		}
	}
	return &Signer{entity: entity}, nil
}

// KeyID returns the signing key's id in hex
func (s *Signer) KeyID() string {
	return s.entity.PrimaryKey.KeyIdString()
}

// SignFile writes an armored detached signature of filePath to filePath + ".asc"
// and returns the signature path
func (s *Signer) SignFile(filePath string) (string, error) {
	//nolint:gosec // G304: filePath is a release artifact produced by the pipeline
	in, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", filePath, err)
	}
	//nolint:errcheck // Defer close
	defer in.Close()

	sigPath := filePath + ".asc"
	//nolint:gosec // G304: signature path derived from the artifact path
	out, err := os.Create(sigPath)
	if err != nil {
		return "", fmt.Errorf("failed to create signature file: %w", err)
	}

	if err := openpgp.ArmoredDetachSign(out, s.entity, in, nil); err != nil {
		_ = out.Close()
		_ = os.Remove(sigPath)
		return "", fmt.Errorf("failed to sign %s: %w", filePath, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("failed to write signature file: %w", err)
	}
	return sigPath, nil
}
