package gateways

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ochairo/macrelease/internal/domain/entities"
	"github.com/ochairo/macrelease/internal/domain/interfaces"
	"github.com/ochairo/macrelease/internal/domain/interfaces/gateways"
)

// Packager turns a stapled bundle into distributable archives
type Packager struct {
	runner    gateways.CommandRunner
	checksums *checksumVerifier
	config    entities.PackageConfig
	outputDir string
	logger    interfaces.Logger
}

// NewPackager creates a packager writing into outputDir
func NewPackager(runner gateways.CommandRunner, config entities.PackageConfig, outputDir string, logger interfaces.Logger) *Packager {
	if outputDir == "" {
		outputDir = "dist"
	}
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	return &Packager{
		runner:    runner,
		checksums: NewChecksumVerifier(),
		config:    config,
		outputDir: outputDir,
		logger:    logger,
	}
}

// Package produces the configured outputs for the artifact's version.
// Outputs that already exist are reused without recompressing; checksums are
// always recomputed from disk.
func (p *Packager) Package(ctx context.Context, artifact *entities.BuildArtifact) (*entities.PackagedArtifacts, error) {
	if _, err := os.Stat(artifact.BundlePath); err != nil {
		return nil, fmt.Errorf("failed to stat bundle: %w", err)
	}
	if err := os.MkdirAll(p.outputDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	appName := artifact.AppName()
	result := &entities.PackagedArtifacts{Reused: true}

	if p.config.Zip {
		path := filepath.Join(p.outputDir, entities.ArtifactFileName(appName, artifact.Version, entities.KindZip))
		reused, err := p.produce(path, func(tmp string) error { return p.createZip(ctx, artifact.BundlePath, tmp) })
		if err != nil {
			return nil, fmt.Errorf("failed to create zip: %w", err)
		}
		result.Reused = result.Reused && reused
		result.ZipPath = path
		if result.ZipChecksum, err = p.checksums.CalculateChecksum(path); err != nil {
			return nil, err
		}
	}

	if p.config.DiskImage {
		path := filepath.Join(p.outputDir, entities.ArtifactFileName(appName, artifact.Version, entities.KindDiskImage))
		reused, err := p.produce(path, func(tmp string) error { return p.createDiskImage(ctx, artifact.BundlePath, appName, tmp) })
		if err != nil {
			return nil, fmt.Errorf("failed to create disk image: %w", err)
		}
		result.Reused = result.Reused && reused
		result.DiskImagePath = path
		if result.DiskImageChecksum, err = p.checksums.CalculateChecksum(path); err != nil {
			return nil, err
		}
	}

	if p.config.IncludeSymbols && artifact.ArchivePath != "" {
		dsyms := filepath.Join(artifact.ArchivePath, "dSYMs")
		if info, err := os.Stat(dsyms); err == nil && info.IsDir() {
			path := filepath.Join(p.outputDir, entities.ArtifactFileName(appName, artifact.Version, entities.KindSymbols))
			reused, err := p.produce(path, func(tmp string) error { return p.createTarball(dsyms, tmp) })
			if err != nil {
				return nil, fmt.Errorf("failed to archive debug symbols: %w", err)
			}
			result.Reused = result.Reused && reused
			result.SymbolsPath = path
		} else {
			p.logger.Warn("archive has no dSYMs, skipping symbols", interfaces.F("archive", artifact.ArchivePath))
		}
	}

	if len(result.Paths()) == 0 {
		return nil, errors.New("no package formats enabled")
	}
	return result, nil
}

// produce reuses path when it exists, otherwise builds into a sibling temp
// path and renames it into place so a partial output is never reused
func (p *Packager) produce(path string, build func(tmp string) error) (bool, error) {
	if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() && info.Size() > 0 {
		p.logger.Info("reusing existing artifact", interfaces.F("path", path))
		return true, nil
	}

	ext := filepath.Ext(path)
	if strings.HasSuffix(path, ".tar.gz") {
		ext = ".tar.gz"
	}
	tmp := strings.TrimSuffix(path, ext) + ".partial" + ext
	_ = os.Remove(tmp)

	if err := build(tmp); err != nil {
		_ = os.Remove(tmp)
		return false, err
	}
	if err := os.Rename(tmp, path); err != nil {
		return false, fmt.Errorf("failed to move %s into place: %w", filepath.Base(path), err)
	}
	return false, nil
}

func (p *Packager) createZip(ctx context.Context, bundlePath, out string) error {
	result, err := p.runner.Run(ctx, gateways.CommandSpec{
		Name: "ditto",
		Args: []string{"-c", "-k", "--sequesterRsrc", "--keepParent", bundlePath, out},
	})
	if err != nil {
		return fmt.Errorf("ditto: %w: %s", err, TailLines(result.Combined(), 10))
	}
	return nil
}

func (p *Packager) createDiskImage(ctx context.Context, bundlePath, appName, out string) error {
	volume := p.config.VolumeName
	if volume == "" {
		volume = appName
	}
	result, err := p.runner.Run(ctx, gateways.CommandSpec{
		Name: "hdiutil",
		Args: []string{"create", "-volname", volume, "-srcfolder", bundlePath, "-ov", "-format", "UDZO", out},
	})
	if err != nil {
		return fmt.Errorf("hdiutil: %w: %s", err, TailLines(result.Combined(), 10))
	}
	return nil
}

// createTarball creates a gzipped tar archive of sourceDir, keeping its base name as the top directory
func (p *Packager) createTarball(sourceDir, tarballPath string) (err error) {
	//nolint:gosec // G304: tarballPath is constructed for package output
	file, err := os.Create(tarballPath)
	if err != nil {
		return fmt.Errorf("failed to create tarball file: %w", err)
	}
	defer func() {
		if cerr := file.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	gzipWriter := gzip.NewWriter(file)
	tarWriter := tar.NewWriter(gzipWriter)

	root := filepath.Dir(sourceDir)
	walkErr := filepath.Walk(sourceDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		var linkTarget string
		if info.Mode()&os.ModeSymlink != 0 {
			linkTarget, err = os.Readlink(path)
			if err != nil {
				p.logger.Warn("skipping unreadable symlink", interfaces.F("path", path), interfaces.F("error", err))
				return nil
			}
		}

		header, err := tar.FileInfoHeader(info, linkTarget)
		if err != nil {
			return fmt.Errorf("failed to create tar header: %w", err)
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("failed to get relative path: %w", err)
		}
		header.Name = filepath.ToSlash(relPath)

		if err := tarWriter.WriteHeader(header); err != nil {
			return fmt.Errorf("failed to write tar header: %w", err)
		}

		if !info.Mode().IsRegular() {
			return nil
		}

		//nolint:gosec // G304: File path from filepath.Walk for packaging
		src, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open file: %w", err)
		}
		//nolint:errcheck // Close on read-only file
		defer src.Close()

		if _, err := io.Copy(tarWriter, src); err != nil {
			return fmt.Errorf("failed to write file to tar: %w", err)
		}
		return nil
	})
	if walkErr != nil {
		return walkErr
	}

	if err := tarWriter.Close(); err != nil {
		return fmt.Errorf("failed to finalize tar: %w", err)
	}
	return gzipWriter.Close()
}
