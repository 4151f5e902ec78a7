package gateways

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ochairo/macrelease/internal/domain/entities"
	"github.com/ochairo/macrelease/internal/domain/interfaces"
	"github.com/ochairo/macrelease/internal/domain/interfaces/gateways"
)

// BundleSanitizer removes AppleDouble sidecar files that break the sealed
// signature and archives the bundle for upload. It implements services.BundlePreparer.
type BundleSanitizer struct {
	runner   gateways.CommandRunner
	identity string
	workDir  string
	logger   interfaces.Logger
}

// NewBundleSanitizer creates a sanitizer that re-signs with identity when needed
// and writes the upload archive below workDir/notarize
func NewBundleSanitizer(runner gateways.CommandRunner, identity, workDir string, logger interfaces.Logger) *BundleSanitizer {
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	return &BundleSanitizer{runner: runner, identity: identity, workDir: workDir, logger: logger}
}

// Prepare strips sidecar files, repairs the signature if it no longer verifies
// and returns the path of the zip to submit
func (s *BundleSanitizer) Prepare(ctx context.Context, artifact *entities.BuildArtifact) (string, error) {
	bundle := artifact.BundlePath
	if info, err := os.Stat(bundle); err != nil || !info.IsDir() {
		return "", fmt.Errorf("bundle %s is not a directory", bundle)
	}

	removed, err := removeSidecarFiles(bundle)
	if err != nil {
		return "", err
	}
	if removed > 0 {
		s.logger.Info("removed AppleDouble files", interfaces.F("count", removed))
	}

	residual, err := findSidecarFiles(bundle)
	if err != nil {
		return "", err
	}

	verifyErr := s.verify(ctx, bundle)
	if len(residual) > 0 || verifyErr != nil {
		s.logger.Warn("bundle signature needs repair",
			interfaces.F("residual_files", len(residual)),
			interfaces.F("verify_error", verifyErr))
		if err := s.repair(ctx, bundle); err != nil {
			return "", err
		}
		if err := s.verify(ctx, bundle); err != nil {
			return "", fmt.Errorf("signature still invalid after re-signing: %w", err)
		}
	}

	return s.archive(ctx, artifact)
}

func (s *BundleSanitizer) verify(ctx context.Context, bundle string) error {
	result, err := s.runner.Run(ctx, gateways.CommandSpec{
		Name: "codesign",
		Args: []string{"--verify", "--deep", "--strict", "--verbose=2", bundle},
	})
	if err != nil {
		return fmt.Errorf("codesign verify failed: %s", strings.TrimSpace(result.Combined()))
	}
	return nil
}

func (s *BundleSanitizer) repair(ctx context.Context, bundle string) error {
	if _, err := s.runner.Run(ctx, gateways.CommandSpec{Name: "xattr", Args: []string{"-cr", bundle}}); err != nil {
		return fmt.Errorf("failed to clear extended attributes: %w", err)
	}
	result, err := s.runner.Run(ctx, gateways.CommandSpec{
		Name: "codesign",
		Args: []string{"--force", "--deep", "--options", "runtime", "--timestamp", "--sign", s.identity, bundle},
	})
	if err != nil {
		return fmt.Errorf("failed to re-sign bundle: %s", TailLines(result.Combined(), 10))
	}
	return nil
}

func (s *BundleSanitizer) archive(ctx context.Context, artifact *entities.BuildArtifact) (string, error) {
	dir := filepath.Join(s.workDir, "build", artifact.Version, "notarize")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create notarization directory: %w", err)
	}
	zipPath := filepath.Join(dir, artifact.AppName()+".zip")
	if err := os.Remove(zipPath); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to remove stale archive: %w", err)
	}

	// COPYFILE_DISABLE keeps ditto from writing resource forks back as ._ entries
	result, err := s.runner.Run(ctx, gateways.CommandSpec{
		Name: "ditto",
		Args: []string{"-c", "-k", "--sequesterRsrc", "--keepParent", artifact.BundlePath, zipPath},
		Env:  map[string]string{"COPYFILE_DISABLE": "1"},
	})
	if err != nil {
		return "", fmt.Errorf("failed to archive bundle: %s", TailLines(result.Combined(), 10))
	}
	return zipPath, nil
}

func isSidecar(name string) bool {
	return strings.HasPrefix(name, "._") || name == ".DS_Store"
}

func findSidecarFiles(root string) ([]string, error) {
	var found []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isSidecar(d.Name()) {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan bundle: %w", err)
	}
	return found, nil
}

func removeSidecarFiles(root string) (int, error) {
	files, err := findSidecarFiles(root)
	if err != nil {
		return 0, err
	}
	for _, f := range files {
		if err := os.Remove(f); err != nil {
			return 0, fmt.Errorf("failed to remove %s: %w", f, err)
		}
	}
	return len(files), nil
}
