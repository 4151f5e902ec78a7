package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ochairo/macrelease/internal/domain/entities"
	"github.com/ochairo/macrelease/internal/domain/interfaces"
	"github.com/ochairo/macrelease/internal/external-adapters/environment"
	"github.com/ochairo/macrelease/internal/external-adapters/yaml"
)

// app is the configuration shared by every command
type app struct {
	cfg      *entities.ReleaseConfig
	settings *environment.Settings
	logger   interfaces.Logger
	clock    interfaces.Clock
}

// commonFlags are accepted by every command that reads the project config
type commonFlags struct {
	config  *string
	workDir *string
	verbose *bool
}

func addCommonFlags(fs *flag.FlagSet) *commonFlags {
	return &commonFlags{
		config:  fs.String("config", "", "Project config file (default $MACRELEASE_CONFIG or .macrelease.yml)"),
		workDir: fs.String("work-dir", "", "Directory for build products, logs and pipeline state"),
		verbose: fs.Bool("verbose", false, "Log debug output"),
	}
}

// loadApp reads the environment, then the config file, and overlays
// environment overrides and flags on top
func loadApp(flags *commonFlags, environ []string) (*app, error) {
	settings, err := environment.Parse(environ)
	if err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	path := settings.ConfigFile
	if flags.config != nil && *flags.config != "" {
		path = *flags.config
	}
	cfg, err := yaml.NewConfigParser().ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	settings.Apply(cfg)
	if flags.workDir != nil && *flags.workDir != "" {
		cfg.WorkDir = *flags.workDir
	}
	if err := absolutePaths(cfg); err != nil {
		return nil, err
	}

	level := parseLogLevel(settings.LogLevel)
	if flags.verbose != nil && *flags.verbose {
		level = slog.LevelDebug
	}

	return &app{
		cfg:      cfg,
		settings: settings,
		logger:   interfaces.NewSlogLogger(os.Stderr, level),
		clock:    interfaces.RealClock{},
	}, nil
}

// absolutePaths anchors the feed and tap locations so they can be matched
// against the git checkouts that contain them
func absolutePaths(cfg *entities.ReleaseConfig) error {
	for _, p := range []*string{&cfg.Appcast.FeedPath, &cfg.Appcast.NotesPath, &cfg.Publish.TapPath} {
		if *p == "" {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", *p, err)
		}
		*p = abs
	}
	return nil
}

func parseLogLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func (a *app) workDir() string {
	if a.cfg.WorkDir == "" {
		return "."
	}
	return a.cfg.WorkDir
}
