package services

import (
	"path/filepath"

	"github.com/google/uuid"

	"github.com/ochairo/macrelease/internal/domain/entities"
	"github.com/ochairo/macrelease/internal/domain/interfaces"
)

// PipelineContext is threaded through every stage of one release run
type PipelineContext struct {
	RunID      string
	Version    string
	Config     *entities.ReleaseConfig
	Credential *entities.Credential
	Logger     interfaces.Logger
	Clock      interfaces.Clock
}

// NewPipelineContext creates a context with a fresh run id
func NewPipelineContext(version string, config *entities.ReleaseConfig, logger interfaces.Logger, clock interfaces.Clock) *PipelineContext {
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	if clock == nil {
		clock = interfaces.RealClock{}
	}
	return &PipelineContext{
		RunID:   uuid.NewString(),
		Version: version,
		Config:  config,
		Logger:  logger,
		Clock:   clock,
	}
}

// WorkDir is the root for build products, logs and pipeline state
func (pc *PipelineContext) WorkDir() string {
	if pc.Config == nil || pc.Config.WorkDir == "" {
		return "."
	}
	return pc.Config.WorkDir
}

// BuildDir holds the archive and exported bundle for the version
func (pc *PipelineContext) BuildDir() string {
	return filepath.Join(pc.WorkDir(), "build", pc.Version)
}

// LogDir holds the toolchain logs for the version
func (pc *PipelineContext) LogDir() string {
	return filepath.Join(pc.WorkDir(), "logs", pc.Version)
}

// StateDir holds lock files and submission records
func (pc *PipelineContext) StateDir() string {
	return StateDir(pc.WorkDir())
}

// OutputDir is where distributables are written
func (pc *PipelineContext) OutputDir() string {
	if pc.Config != nil && pc.Config.OutputDir != "" {
		return pc.Config.OutputDir
	}
	return filepath.Join(pc.WorkDir(), "dist", pc.Version)
}

// StateDir returns the pipeline state directory under workDir
func StateDir(workDir string) string {
	return filepath.Join(workDir, ".macrelease")
}
