package gateways

import (
	"context"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/ochairo/macrelease/internal/domain/interfaces/gateways"
	"github.com/ochairo/macrelease/internal/domain/services"
)

var dottedVersion = regexp.MustCompile(`\d+(\.\d+)+`)

// ToolProber inspects the developer toolchain installed on the host
type ToolProber struct {
	runner   gateways.CommandRunner
	lookPath func(string) (string, error)
}

// NewToolProber creates a prober that shells out through runner
func NewToolProber(runner gateways.CommandRunner) *ToolProber {
	return &ToolProber{runner: runner, lookPath: exec.LookPath}
}

// Probe reports whether name is usable and, where the tool can tell, its version
func (p *ToolProber) Probe(ctx context.Context, name string) services.ProbeResult {
	switch name {
	case "xcodebuild":
		return p.probeVersion(ctx, "xcodebuild", "-version")
	case "notarytool":
		return p.probeXcrunTool(ctx, "notarytool", "--version")
	case "stapler":
		return p.probeXcrunFind(ctx, "stapler")
	default:
		path, err := p.lookPath(name)
		if err != nil {
			return services.ProbeResult{Detail: err.Error()}
		}
		return services.ProbeResult{Found: true, VersionString: path}
	}
}

func (p *ToolProber) probeVersion(ctx context.Context, name string, args ...string) services.ProbeResult {
	if _, err := p.lookPath(name); err != nil {
		return services.ProbeResult{Detail: "not on PATH"}
	}
	result, err := p.run(ctx, name, args...)
	if err != nil {
		// xcodebuild fails this way when only the command line tools are selected
		return services.ProbeResult{Detail: firstLine(result.Combined())}
	}
	raw := firstLine(result.Stdout)
	return services.ProbeResult{Found: true, VersionString: raw, Version: dottedVersion.FindString(raw)}
}

// probeXcrunTool separates a missing xcrun from an xcrun that cannot find the subcommand
func (p *ToolProber) probeXcrunTool(ctx context.Context, tool string, args ...string) services.ProbeResult {
	if _, err := p.lookPath("xcrun"); err != nil {
		return services.ProbeResult{Detail: "xcrun not on PATH"}
	}
	result, err := p.run(ctx, "xcrun", append([]string{tool}, args...)...)
	if err != nil {
		out := result.Combined()
		if strings.Contains(out, "unable to find utility") || strings.Contains(out, "not a developer tool") {
			return services.ProbeResult{Found: true, Outdated: true, Detail: firstLine(out)}
		}
		return services.ProbeResult{Detail: firstLine(out)}
	}
	raw := firstLine(result.Stdout)
	return services.ProbeResult{Found: true, VersionString: raw, Version: dottedVersion.FindString(raw)}
}

func (p *ToolProber) probeXcrunFind(ctx context.Context, tool string) services.ProbeResult {
	if _, err := p.lookPath("xcrun"); err != nil {
		return services.ProbeResult{Detail: "xcrun not on PATH"}
	}
	result, err := p.run(ctx, "xcrun", "--find", tool)
	if err != nil {
		return services.ProbeResult{Detail: firstLine(result.Combined())}
	}
	return services.ProbeResult{Found: true, VersionString: firstLine(result.Stdout)}
}

func (p *ToolProber) run(ctx context.Context, name string, args ...string) (*gateways.CommandResult, error) {
	return p.runner.Run(ctx, gateways.CommandSpec{Name: name, Args: args, Timeout: 30 * time.Second})
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
