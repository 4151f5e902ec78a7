// Package gateways implements the domain gateway interfaces on top of the
// macOS developer toolchain and remote services.
package gateways

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/ochairo/macrelease/internal/domain/interfaces"
	"github.com/ochairo/macrelease/internal/domain/interfaces/gateways"
)

const redactedValue = "******"

// ToolchainRunner executes developer tools such as xcodebuild, xcrun and ditto
type ToolchainRunner struct {
	defaultTimeout time.Duration
	logger         interfaces.Logger
}

// NewToolchainRunner creates a runner with a 30 minute default timeout
func NewToolchainRunner(logger interfaces.Logger) *ToolchainRunner {
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	return &ToolchainRunner{
		defaultTimeout: 30 * time.Minute,
		logger:         logger,
	}
}

// Run executes spec and captures its output. A non-zero exit returns both the
// result and an error; a missing binary returns exit code -1.
func (r *ToolchainRunner) Run(ctx context.Context, spec gateways.CommandSpec) (*gateways.CommandResult, error) {
	startTime := time.Now()
	result := &gateways.CommandResult{}

	timeout := spec.Timeout
	if timeout == 0 {
		timeout = r.defaultTimeout
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	//nolint:gosec // G204: tool names and arguments are assembled by the pipeline, not user shell input
	cmd := exec.CommandContext(execCtx, spec.Name, spec.Args...)
	if spec.WorkingDir != "" {
		cmd.Dir = spec.WorkingDir
	}

	if len(spec.Env) > 0 {
		env := os.Environ()
		for key, value := range spec.Env {
			env = append(env, fmt.Sprintf("%s=%s", key, value))
		}
		cmd.Env = env
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if spec.LogWriter != nil {
		cmd.Stdout = io.MultiWriter(&stdout, spec.LogWriter)
		cmd.Stderr = io.MultiWriter(&stderr, spec.LogWriter)
	}

	r.logger.Debug("running command", interfaces.F("command", DisplayCommand(spec)))

	err := cmd.Run()
	result.Duration = time.Since(startTime)
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	if err != nil {
		// a killed process also surfaces as an ExitError, so the contexts are checked first
		var exitErr *exec.ExitError
		switch {
		case ctx.Err() != nil:
			result.ExitCode = -1
			return result, fmt.Errorf("%s interrupted: %w", spec.Name, ctx.Err())
		case errors.Is(execCtx.Err(), context.DeadlineExceeded):
			result.ExitCode = -1
			return result, fmt.Errorf("%s timed out after %v: %w", spec.Name, timeout, context.DeadlineExceeded)
		case errors.As(err, &exitErr):
			result.ExitCode = exitErr.ExitCode()
			return result, fmt.Errorf("%s exited with code %d", spec.Name, result.ExitCode)
		default:
			result.ExitCode = -1
			return result, fmt.Errorf("failed to run %s: %w", spec.Name, err)
		}
	}

	return result, nil
}

// DisplayCommand renders the command line with every Redact value masked
func DisplayCommand(spec gateways.CommandSpec) string {
	line := strings.Join(append([]string{spec.Name}, spec.Args...), " ")
	return Redact(line, spec.Redact...)
}

// Redact masks every non-empty secret occurring in s
func Redact(s string, secrets ...string) string {
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		s = strings.ReplaceAll(s, secret, redactedValue)
	}
	return s
}

// TailLines returns the last n lines of s, however long each line is
func TailLines(s string, n int) string {
	s = strings.TrimRight(s, "\r\n")
	if s == "" || n <= 0 {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return strings.Join(lines, "\n")
}
