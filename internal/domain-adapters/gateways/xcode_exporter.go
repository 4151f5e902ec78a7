package gateways

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"howett.net/plist"

	"github.com/ochairo/macrelease/internal/domain/entities"
	"github.com/ochairo/macrelease/internal/domain/interfaces"
	"github.com/ochairo/macrelease/internal/domain/interfaces/gateways"
	"github.com/ochairo/macrelease/internal/domain/services"
)

// buildErrorTailLines is how much toolchain output a BuildError carries
const buildErrorTailLines = 40

// exportOptions is the ExportOptions.plist consumed by xcodebuild -exportArchive
type exportOptions struct {
	Method             string `plist:"method"`
	SigningStyle       string `plist:"signingStyle"`
	SigningCertificate string `plist:"signingCertificate"`
	TeamID             string `plist:"teamID"`
	Destination        string `plist:"destination"`
}

// XcodeExporter archives and exports the application with pinned manual signing
type XcodeExporter struct {
	runner gateways.CommandRunner
}

// NewXcodeExporter creates an exporter
func NewXcodeExporter(runner gateways.CommandRunner) *XcodeExporter {
	return &XcodeExporter{runner: runner}
}

// BuildAndExport runs `xcodebuild archive` then `xcodebuild -exportArchive` for pc.Version
func (e *XcodeExporter) BuildAndExport(ctx context.Context, pc *services.PipelineContext) (*entities.BuildArtifact, error) {
	cfg := pc.Config
	if err := cfg.Validate(); err != nil {
		return nil, &entities.StageFailure{
			At:   entities.StageBuild,
			Hint: "fix the signing settings in .macrelease.yml",
			Err:  fmt.Errorf("invalid build configuration: %w", err),
		}
	}

	for _, dir := range []string{pc.BuildDir(), pc.LogDir()} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	appName := cfg.AppName
	if appName == "" {
		appName = cfg.Scheme
	}
	archivePath := filepath.Join(pc.BuildDir(), appName+".xcarchive")
	exportDir := filepath.Join(pc.BuildDir(), "export")

	pc.Logger.Info("archiving", interfaces.F("scheme", cfg.Scheme), interfaces.F("version", pc.Version))
	if err := e.runLogged(ctx, pc, "archive", e.archiveArgs(cfg, pc.Version, archivePath)); err != nil {
		return nil, err
	}

	optionsPath := filepath.Join(pc.BuildDir(), "ExportOptions.plist")
	if err := writeExportOptions(optionsPath, cfg); err != nil {
		return nil, err
	}

	// a stale export would otherwise be picked up as the new bundle
	if err := os.RemoveAll(exportDir); err != nil {
		return nil, fmt.Errorf("failed to clean export directory: %w", err)
	}

	pc.Logger.Info("exporting", interfaces.F("archive", archivePath))
	exportArgs := []string{"-exportArchive", "-archivePath", archivePath, "-exportPath", exportDir, "-exportOptionsPlist", optionsPath}
	if err := e.runLogged(ctx, pc, "export", exportArgs); err != nil {
		return nil, err
	}

	bundle, err := findBundle(exportDir, appName)
	if err != nil {
		return nil, &entities.StageFailure{At: entities.StageBuild, Hint: "check the scheme's product name", Err: err}
	}

	return &entities.BuildArtifact{
		BundlePath:          bundle,
		ArchivePath:         archivePath,
		Version:             pc.Version,
		BuildTimestamp:      pc.Clock.Now(),
		SigningIdentityUsed: cfg.SigningIdentity,
		TeamID:              cfg.TeamID,
		LogPath:             pc.LogDir(),
	}, nil
}

func (e *XcodeExporter) archiveArgs(cfg *entities.ReleaseConfig, version, archivePath string) []string {
	args := []string{"archive"}
	if cfg.Workspace != "" {
		args = append(args, "-workspace", cfg.Workspace)
	} else {
		args = append(args, "-project", cfg.Project)
	}
	return append(args,
		"-scheme", cfg.Scheme,
		"-configuration", "Release",
		"-destination", "generic/platform=macOS",
		"-archivePath", archivePath,
		"CODE_SIGN_STYLE=Manual",
		"CODE_SIGN_IDENTITY="+cfg.SigningIdentity,
		"DEVELOPMENT_TEAM="+cfg.TeamID,
		"ENABLE_HARDENED_RUNTIME=YES",
		"OTHER_CODE_SIGN_FLAGS=--timestamp --options=runtime",
		"MARKETING_VERSION="+version,
	)
}

func (e *XcodeExporter) runLogged(ctx context.Context, pc *services.PipelineContext, step string, args []string) error {
	logPath := filepath.Join(pc.LogDir(), step+".log")
	//nolint:gosec // G304: log path is derived from the work directory
	logFile, err := os.Create(logPath)
	if err != nil {
		return fmt.Errorf("failed to create %s log: %w", step, err)
	}
	//nolint:errcheck // Close after the command finishes
	defer logFile.Close()

	result, err := e.runner.Run(ctx, gateways.CommandSpec{
		Name:      "xcodebuild",
		Args:      args,
		LogWriter: logFile,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		exitCode := -1
		tail := err.Error()
		if result != nil {
			exitCode = result.ExitCode
			tail = TailLines(result.Combined(), buildErrorTailLines)
		}
		return &entities.BuildError{Step: step, ExitCode: exitCode, LogPath: logPath, Tail: tail}
	}
	return nil
}

func writeExportOptions(path string, cfg *entities.ReleaseConfig) error {
	data, err := plist.MarshalIndent(exportOptions{
		Method:             "developer-id",
		SigningStyle:       "manual",
		SigningCertificate: cfg.SigningIdentity,
		TeamID:             cfg.TeamID,
		Destination:        "export",
	}, plist.XMLFormat, "\t")
	if err != nil {
		return fmt.Errorf("failed to encode export options: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write export options: %w", err)
	}
	return nil
}

func findBundle(exportDir, appName string) (string, error) {
	preferred := filepath.Join(exportDir, appName+".app")
	if info, err := os.Stat(preferred); err == nil && info.IsDir() {
		return preferred, nil
	}
	matches, err := filepath.Glob(filepath.Join(exportDir, "*.app"))
	if err != nil {
		return "", fmt.Errorf("failed to search export directory: %w", err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("export produced no .app bundle in %s", exportDir)
	}
	sort.Strings(matches)
	return matches[0], nil
}
