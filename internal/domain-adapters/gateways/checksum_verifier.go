package gateways

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ChecksumsFileName is the manifest published next to the release artifacts
const ChecksumsFileName = "SHA256SUMS"

// checksumVerifier computes and verifies SHA-256 digests of release artifacts
type checksumVerifier struct{}

// NewChecksumVerifier creates a new checksum verifier
//
//nolint:revive // unexported-return: Intentionally returns concrete type for testability
func NewChecksumVerifier() *checksumVerifier {
	return &checksumVerifier{}
}

// VerifyChecksum verifies a file's SHA256 checksum
func (v *checksumVerifier) VerifyChecksum(_ context.Context, filePath, expectedSum string) error {
	actualSum, err := v.CalculateChecksum(filePath)
	if err != nil {
		return err
	}

	if !strings.EqualFold(actualSum, expectedSum) {
		return fmt.Errorf("checksum mismatch: expected %s, got %s", expectedSum, actualSum)
	}

	return nil
}

// CalculateChecksum calculates the SHA256 checksum of a file
func (v *checksumVerifier) CalculateChecksum(filePath string) (string, error) {
	//nolint:gosec // G304: File path is an artifact produced by the pipeline or named by the operator
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	//nolint:errcheck // Defer close on read-only file
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash file: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// WriteChecksumsFile writes a sha256sum-compatible manifest of paths into dir
// and returns its location. Entries are sorted by file name.
func (v *checksumVerifier) WriteChecksumsFile(dir string, paths []string) (string, error) {
	sorted := append([]string(nil), paths...)
	sort.Slice(sorted, func(i, j int) bool { return filepath.Base(sorted[i]) < filepath.Base(sorted[j]) })

	var b strings.Builder
	for _, path := range sorted {
		sum, err := v.CalculateChecksum(path)
		if err != nil {
			return "", fmt.Errorf("failed to checksum %s: %w", filepath.Base(path), err)
		}
		fmt.Fprintf(&b, "%s  %s\n", sum, filepath.Base(path))
	}

	out := filepath.Join(dir, ChecksumsFileName)
	if err := os.WriteFile(out, []byte(b.String()), 0o644); err != nil { //nolint:gosec // G306: published manifest
		return "", fmt.Errorf("failed to write %s: %w", ChecksumsFileName, err)
	}
	return out, nil
}

// ReadChecksumsFile parses a sha256sum manifest into file name -> digest
func (v *checksumVerifier) ReadChecksumsFile(path string) (map[string]string, error) {
	//nolint:gosec // G304: manifest path is named by the operator
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checksums file: %w", err)
	}
	//nolint:errcheck // Defer close on read-only file
	defer f.Close()

	sums := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			continue
		}
		sums[strings.TrimPrefix(fields[1], "*")] = fields[0]
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read checksums file: %w", err)
	}
	return sums, nil
}
