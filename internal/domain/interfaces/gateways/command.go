package gateways

import (
	"context"
	"io"
	"time"
)

// CommandSpec describes an external tool invocation
type CommandSpec struct {
	Name       string
	Args       []string
	WorkingDir string
	Env        map[string]string
	Timeout    time.Duration
	LogWriter  io.Writer // receives combined output as it is produced, optional
	Redact     []string  // values masked in logged command lines
}

// CommandResult captures the outcome of a command
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Combined returns stdout followed by stderr
func (r *CommandResult) Combined() string {
	if r == nil {
		return ""
	}
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// CommandRunner executes external tools.
// A non-zero exit returns both a result and an error.
type CommandRunner interface {
	Run(ctx context.Context, spec CommandSpec) (*CommandResult, error)
}
