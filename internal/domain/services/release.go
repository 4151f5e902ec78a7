package services

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ochairo/macrelease/internal/domain/entities"
)

// ReleaseStatus represents the readiness status of a version for publishing
type ReleaseStatus string

// Release validation statuses
const (
	StatusReady          ReleaseStatus = "ready"
	StatusNoArtifacts    ReleaseStatus = "no_artifacts"
	StatusMissingKinds   ReleaseStatus = "missing_artifacts"
	StatusUnexpectedKind ReleaseStatus = "unexpected_artifacts"
)

// ReleaseValidation contains the validation result for a release
type ReleaseValidation struct {
	Status          ReleaseStatus
	ExpectedKinds   []entities.ArtifactKind
	AvailableKinds  []entities.ArtifactKind
	MissingKinds    []entities.ArtifactKind
	UnexpectedKinds []entities.ArtifactKind
}

// IsReady returns true if the release can be published
func (rv *ReleaseValidation) IsReady() bool {
	return rv.Status == StatusReady
}

// ErrorMessage returns a human-readable error message if not ready
func (rv *ReleaseValidation) ErrorMessage() string {
	switch rv.Status {
	case StatusReady:
		return ""
	case StatusNoArtifacts:
		return fmt.Sprintf("No packaged artifacts found (expected: %s)", kindsToString(rv.ExpectedKinds))
	case StatusMissingKinds:
		return fmt.Sprintf("Missing artifacts: %s", kindsToString(rv.MissingKinds))
	case StatusUnexpectedKind:
		return fmt.Sprintf("Unexpected artifacts found: %s", kindsToString(rv.UnexpectedKinds))
	default:
		return "Unknown status"
	}
}

// ReleaseService checks that a version's packaged artifacts match the configured formats
type ReleaseService struct{}

// NewReleaseService creates a new release service
func NewReleaseService() *ReleaseService {
	return &ReleaseService{}
}

// ExpectedKinds returns the formats the package settings produce
func (s *ReleaseService) ExpectedKinds(config entities.PackageConfig) []entities.ArtifactKind {
	var kinds []entities.ArtifactKind
	if config.Zip {
		kinds = append(kinds, entities.KindZip)
	}
	if config.DiskImage {
		kinds = append(kinds, entities.KindDiskImage)
	}
	return kinds
}

// ValidateRelease reports whether every expected distributable for appName/version is present.
// Symbols archives are optional and never counted as missing.
func (s *ReleaseService) ValidateRelease(config entities.PackageConfig, appName, version string, artifactPaths []string) *ReleaseValidation {
	validation := &ReleaseValidation{
		ExpectedKinds: s.ExpectedKinds(config),
	}
	validation.AvailableKinds = s.extractAvailableKinds(appName, version, artifactPaths)
	validation.MissingKinds = s.findMissingKinds(validation.ExpectedKinds, validation.AvailableKinds)
	validation.UnexpectedKinds = s.findUnexpectedKinds(validation.ExpectedKinds, validation.AvailableKinds)

	switch {
	case len(validation.AvailableKinds) == 0:
		validation.Status = StatusNoArtifacts
	case len(validation.MissingKinds) > 0:
		validation.Status = StatusMissingKinds
	case len(validation.UnexpectedKinds) > 0:
		validation.Status = StatusUnexpectedKind
	default:
		validation.Status = StatusReady
	}

	return validation
}

// extractAvailableKinds matches artifact file names against the canonical names for the version
func (s *ReleaseService) extractAvailableKinds(appName, version string, artifactPaths []string) []entities.ArtifactKind {
	names := map[string]entities.ArtifactKind{}
	for _, kind := range []entities.ArtifactKind{entities.KindZip, entities.KindDiskImage, entities.KindSymbols} {
		names[entities.ArtifactFileName(appName, version, kind)] = kind
	}

	seen := make(map[entities.ArtifactKind]bool)
	var kinds []entities.ArtifactKind
	for _, path := range artifactPaths {
		kind, ok := names[filepath.Base(path)]
		if !ok || seen[kind] {
			continue
		}
		seen[kind] = true
		kinds = append(kinds, kind)
	}
	return kinds
}

func (s *ReleaseService) findMissingKinds(expected, available []entities.ArtifactKind) []entities.ArtifactKind {
	availableSet := make(map[entities.ArtifactKind]bool)
	for _, k := range available {
		availableSet[k] = true
	}

	var missing []entities.ArtifactKind
	for _, k := range expected {
		if !availableSet[k] {
			missing = append(missing, k)
		}
	}
	return missing
}

func (s *ReleaseService) findUnexpectedKinds(expected, available []entities.ArtifactKind) []entities.ArtifactKind {
	expectedSet := map[entities.ArtifactKind]bool{entities.KindSymbols: true}
	for _, k := range expected {
		expectedSet[k] = true
	}

	var unexpected []entities.ArtifactKind
	for _, k := range available {
		if !expectedSet[k] {
			unexpected = append(unexpected, k)
		}
	}
	return unexpected
}

func kindsToString(kinds []entities.ArtifactKind) string {
	strs := make([]string, len(kinds))
	for i, k := range kinds {
		strs[i] = string(k)
	}
	return strings.Join(strs, ", ")
}
