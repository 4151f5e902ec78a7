package services

import (
	"context"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/ochairo/macrelease/internal/domain/entities"
	"github.com/ochairo/macrelease/internal/domain/interfaces"
)

// ToolRequirement describes an external tool the pipeline depends on
type ToolRequirement struct {
	Name       string
	MinVersion string // semver constraint lower bound, empty for presence only
	Required   bool
}

// ProbeResult is what a ToolProber observed about one tool
type ProbeResult struct {
	Found         bool
	VersionString string // raw, human-readable
	Version       string // parsed dotted version, may be empty
	Outdated      bool   // present but lacks the capability the pipeline needs
	Detail        string
}

// ToolProber inspects a single tool on the host
type ToolProber interface {
	Probe(ctx context.Context, name string) ProbeResult
}

// DefaultToolRequirements returns the tools the release pipeline needs.
// notarytool ships with Xcode 13; stapler, ditto and codesign come with the command line tools.
func DefaultToolRequirements(diskImage bool) []ToolRequirement {
	return []ToolRequirement{
		{Name: "xcodebuild", MinVersion: "13.0", Required: true},
		{Name: "notarytool", MinVersion: "1.0", Required: true},
		{Name: "stapler", Required: true},
		{Name: "codesign", Required: true},
		{Name: "ditto", Required: true},
		{Name: "hdiutil", Required: diskImage},
	}
}

// PrerequisiteChecker verifies the toolchain before any network or build work
type PrerequisiteChecker struct {
	prober       ToolProber
	requirements []ToolRequirement
	logger       interfaces.Logger
}

// NewPrerequisiteChecker creates a checker for the given requirements
func NewPrerequisiteChecker(prober ToolProber, requirements []ToolRequirement, logger interfaces.Logger) *PrerequisiteChecker {
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	return &PrerequisiteChecker{
		prober:       prober,
		requirements: requirements,
		logger:       logger,
	}
}

// Check probes every tool and fails with PrerequisiteError if a required one is unusable
func (c *PrerequisiteChecker) Check(ctx context.Context) ([]entities.PrerequisiteResult, error) {
	results := make([]entities.PrerequisiteResult, 0, len(c.requirements))
	var failures []entities.PrerequisiteResult

	for _, req := range c.requirements {
		probe := c.prober.Probe(ctx, req.Name)
		result := entities.PrerequisiteResult{
			ToolName:      req.Name,
			Available:     probe.Found,
			VersionString: probe.VersionString,
			Required:      req.Required,
		}

		switch {
		case !probe.Found:
			result.Problem = "not installed"
			if probe.Detail != "" {
				result.Problem += " (" + probe.Detail + ")"
			}
		case probe.Outdated:
			result.Problem = "installed but too old to support the notary submission API"
			if probe.Detail != "" {
				result.Problem += " (" + probe.Detail + ")"
			}
		case req.MinVersion != "":
			if problem := checkMinVersion(probe.Version, req.MinVersion); problem != "" {
				result.Problem = problem
			}
		}

		c.logger.Debug("prerequisite probed",
			interfaces.F("tool", req.Name),
			interfaces.F("version", probe.VersionString),
			interfaces.F("problem", result.Problem))

		results = append(results, result)
		if result.Problem != "" && req.Required {
			failures = append(failures, result)
		}
	}

	if len(failures) > 0 {
		return results, &entities.PrerequisiteError{Failures: failures}
	}
	return results, nil
}

func checkMinVersion(found, minimum string) string {
	if found == "" {
		return fmt.Sprintf("version could not be determined (need >= %s)", minimum)
	}
	v, err := semver.NewVersion(found)
	if err != nil {
		return fmt.Sprintf("unparseable version %q (need >= %s)", found, minimum)
	}
	constraint, err := semver.NewConstraint(">= " + minimum)
	if err != nil {
		return fmt.Sprintf("invalid minimum version %q", minimum)
	}
	if !constraint.Check(v) {
		return fmt.Sprintf("version %s is older than required %s", found, minimum)
	}
	return ""
}
