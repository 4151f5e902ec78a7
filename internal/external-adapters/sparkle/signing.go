package sparkle

import (
	"crypto/dsa" //nolint:staticcheck // legacy Sparkle feeds are DSA signed
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // Sparkle's DSA scheme signs a SHA-1 digest
	"encoding/asn1"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ochairo/macrelease/internal/domain/entities"
)

// ErrMultipleSigningKeys is returned when both an EdDSA and a DSA key are configured
var ErrMultipleSigningKeys = errors.New("both EdDSA and DSA signing keys are configured, pick one")

// EdSigner signs update archives with an Ed25519 key, as Sparkle 2 expects
type EdSigner struct {
	key ed25519.PrivateKey
}

// NewEdSignerFromFile loads a base64 key as exported by Sparkle's generate_keys:
// either the 32 byte seed or the 64 byte private key.
func NewEdSignerFromFile(path string) (*EdSigner, error) {
	//nolint:gosec // G304: key path comes from the environment
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read EdDSA key: %w", err)
	}
	return NewEdSigner(strings.TrimSpace(string(data)))
}

// NewEdSigner parses a base64 Ed25519 key
func NewEdSigner(encoded string) (*EdSigner, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("EdDSA key is not valid base64: %w", err)
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return &EdSigner{key: ed25519.NewKeyFromSeed(raw)}, nil
	case ed25519.PrivateKeySize:
		return &EdSigner{key: ed25519.PrivateKey(raw)}, nil
	default:
		return nil, fmt.Errorf("EdDSA key has %d bytes, expected %d or %d", len(raw), ed25519.SeedSize, ed25519.PrivateKeySize)
	}
}

// Scheme implements services.ArtifactSigner
func (s *EdSigner) Scheme() entities.SignatureScheme { return entities.SchemeEdDSA }

// Sign implements services.ArtifactSigner
func (s *EdSigner) Sign(filePath string) (string, error) {
	//nolint:gosec // G304: artifact produced by this run
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", filePath, err)
	}
	return base64.StdEncoding.EncodeToString(ed25519.Sign(s.key, data)), nil
}

// PublicKey returns the base64 public key for SUPublicEDKey
func (s *EdSigner) PublicKey() string {
	pub, _ := s.key.Public().(ed25519.PublicKey)
	return base64.StdEncoding.EncodeToString(pub)
}

// VerifyEd checks a base64 Ed25519 signature over the file at path
func VerifyEd(publicKey, path, signature string) error {
	pub, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return errors.New("invalid EdDSA public key")
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("signature is not valid base64: %w", err)
	}
	//nolint:gosec // G304: caller supplied artifact
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), data, sig) {
		return fmt.Errorf("EdDSA signature does not match %s", path)
	}
	return nil
}

// dsaKeyASN1 is the OpenSSL "DSA PRIVATE KEY" layout
type dsaKeyASN1 struct {
	Version int
	P, Q, G *big.Int
	Y, X    *big.Int
}

type dsaSignatureASN1 struct {
	R, S *big.Int
}

// DSASigner signs update archives with a legacy DSA key
type DSASigner struct {
	key *dsa.PrivateKey
}

// NewDSASignerFromFile loads a PEM encoded OpenSSL DSA private key
func NewDSASignerFromFile(path string) (*DSASigner, error) {
	//nolint:gosec // G304: key path comes from the environment
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read DSA key: %w", err)
	}
	return NewDSASigner(data)
}

// NewDSASigner parses a PEM encoded OpenSSL DSA private key
func NewDSASigner(pemData []byte) (*DSASigner, error) {
	block, _ := pem.Decode(pemData)
	if block == nil || block.Type != "DSA PRIVATE KEY" {
		return nil, errors.New("DSA key must be a PEM \"DSA PRIVATE KEY\" block")
	}
	var raw dsaKeyASN1
	if _, err := asn1.Unmarshal(block.Bytes, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse DSA key: %w", err)
	}
	key := &dsa.PrivateKey{
		PublicKey: dsa.PublicKey{
			Parameters: dsa.Parameters{P: raw.P, Q: raw.Q, G: raw.G},
			Y:          raw.Y,
		},
		X: raw.X,
	}
	return &DSASigner{key: key}, nil
}

// Scheme implements services.ArtifactSigner
func (s *DSASigner) Scheme() entities.SignatureScheme { return entities.SchemeDSA }

// Sign implements services.ArtifactSigner. Sparkle's DSA scheme signs
// SHA1(SHA1(file)) and encodes the signature as DER.
func (s *DSASigner) Sign(filePath string) (string, error) {
	digest, err := dsaDigest(filePath)
	if err != nil {
		return "", err
	}
	r, sig, err := dsa.Sign(rand.Reader, s.key, digest)
	if err != nil {
		return "", fmt.Errorf("DSA signing failed: %w", err)
	}
	der, err := asn1.Marshal(dsaSignatureASN1{R: r, S: sig})
	if err != nil {
		return "", fmt.Errorf("failed to encode DSA signature: %w", err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// verify checks a signature produced by Sign
func (s *DSASigner) verify(filePath, signature string) error {
	digest, err := dsaDigest(filePath)
	if err != nil {
		return err
	}
	der, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return err
	}
	var sig dsaSignatureASN1
	if _, err := asn1.Unmarshal(der, &sig); err != nil {
		return err
	}
	if !dsa.Verify(&s.key.PublicKey, digest, sig.R, sig.S) {
		return errors.New("DSA signature does not match")
	}
	return nil
}

func dsaDigest(filePath string) ([]byte, error) {
	//nolint:gosec // G304: artifact produced by this run
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filePath, err)
	}
	first := sha1.Sum(data)
	second := sha1.Sum(first[:])
	return second[:], nil
}

// Signer is the subset of services.ArtifactSigner this package builds
type Signer interface {
	Scheme() entities.SignatureScheme
	Sign(filePath string) (string, error)
}

// SelectSigner loads the configured signing key. Configuring both schemes is
// an error; configuring neither returns a nil signer and the feed entry is
// published unsigned.
func SelectSigner(edKeyFile, dsaKeyFile string) (Signer, error) {
	switch {
	case edKeyFile != "" && dsaKeyFile != "":
		return nil, ErrMultipleSigningKeys
	case edKeyFile != "":
		signer, err := NewEdSignerFromFile(edKeyFile)
		if err != nil {
			return nil, err
		}
		return signer, nil
	case dsaKeyFile != "":
		signer, err := NewDSASignerFromFile(dsaKeyFile)
		if err != nil {
			return nil, err
		}
		return signer, nil
	default:
		return nil, nil
	}
}
