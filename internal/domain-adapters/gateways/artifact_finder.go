package gateways

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ochairo/macrelease/internal/domain/entities"
)

// ArtifactFinder locates distributables that a previous run already produced
type ArtifactFinder struct {
	checksums *checksumVerifier
}

// NewArtifactFinder creates a new artifact finder
func NewArtifactFinder() *ArtifactFinder {
	return &ArtifactFinder{checksums: NewChecksumVerifier()}
}

// FindPackaged looks up the canonical artifact names for appName/version in dir
// and recomputes their checksums. Missing formats are left empty.
func (f *ArtifactFinder) FindPackaged(dir, appName, version string) (*entities.PackagedArtifacts, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, fmt.Errorf("artifacts directory does not exist: %s", dir)
	}

	result := &entities.PackagedArtifacts{Reused: true}
	for _, kind := range []entities.ArtifactKind{entities.KindZip, entities.KindDiskImage, entities.KindSymbols} {
		path := filepath.Join(dir, entities.ArtifactFileName(appName, version, kind))
		info, err := os.Stat(path)
		if err != nil || info.IsDir() || info.Size() == 0 {
			continue
		}

		switch kind {
		case entities.KindZip:
			result.ZipPath = path
			if result.ZipChecksum, err = f.checksums.CalculateChecksum(path); err != nil {
				return nil, err
			}
		case entities.KindDiskImage:
			result.DiskImagePath = path
			if result.DiskImageChecksum, err = f.checksums.CalculateChecksum(path); err != nil {
				return nil, err
			}
		case entities.KindSymbols:
			result.SymbolsPath = path
		}
	}

	if len(result.Paths()) == 0 {
		return nil, fmt.Errorf("no artifacts for %s %s in %s", appName, version, dir)
	}
	return result, nil
}
