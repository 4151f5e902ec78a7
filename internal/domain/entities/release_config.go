package entities

import (
	"fmt"
	"strings"
	"time"
)

// ReleaseConfig holds the non-secret project settings for the pipeline
type ReleaseConfig struct {
	AppName         string
	BundleID        string
	Project         string // .xcodeproj path, mutually exclusive with Workspace
	Workspace       string
	Scheme          string
	SigningIdentity string
	TeamID          string
	AppleID         string // tier-2 identity, never a secret
	WorkDir         string
	OutputDir       string
	Notarize        NotarizeConfig
	Package         PackageConfig
	Appcast         AppcastConfig
	Publish         PublishConfig
}

// NotarizeConfig tunes the submission poll loop
type NotarizeConfig struct {
	PollInterval    time.Duration
	MaxPollInterval time.Duration
	Timeout         time.Duration
	StapleDelay     time.Duration
}

// PackageConfig selects which distributables are produced
type PackageConfig struct {
	Zip            bool
	DiskImage      bool
	VolumeName     string
	IncludeSymbols bool
}

// AppcastConfig describes the update feed document
type AppcastConfig struct {
	FeedPath             string
	Title                string
	Link                 string
	DownloadURLTemplate  string // e.g. https://github.com/o/r/releases/download/v{version}/{file}
	MinimumSystemVersion string
	NotesPath            string
}

// DownloadURL expands DownloadURLTemplate for one artifact.
// Supported placeholders are {app}, {version} and {file}.
func (c AppcastConfig) DownloadURL(appName, version, fileName string) string {
	if c.DownloadURLTemplate == "" {
		return ""
	}
	return strings.NewReplacer("{app}", appName, "{version}", version, "{file}", fileName).Replace(c.DownloadURLTemplate)
}

// PublishConfig controls release hosting and version-control updates
type PublishConfig struct {
	GitHubOwner   string
	GitHubRepo    string
	GitRemote     string
	GitBranch     string
	CommitAuthor  string
	CommitEmail   string
	S3Bucket      string
	S3Prefix      string
	TapPath       string // local checkout of the package tap
	TapCaskFile   string // cask file relative to TapPath
	SignChecksums bool
}

// ValidateSigning refuses configurations that would fall back to implicit or automatic signing
func (c *ReleaseConfig) ValidateSigning() error {
	identity := strings.TrimSpace(c.SigningIdentity)
	switch {
	case identity == "":
		return fmt.Errorf("signing_identity is required; automatic signing is not supported")
	case identity == "-":
		return fmt.Errorf("ad-hoc signing identity %q cannot be notarized", identity)
	case !strings.HasPrefix(identity, "Developer ID Application") && !isCertificateHash(identity):
		return fmt.Errorf("signing identity %q is not a Developer ID Application certificate", identity)
	case c.TeamID == "":
		return fmt.Errorf("team_id is required for manual signing")
	}
	return nil
}

// Validate checks the settings every pipeline run depends on
func (c *ReleaseConfig) Validate() error {
	if c.Scheme == "" {
		return fmt.Errorf("scheme is required")
	}
	if (c.Project == "") == (c.Workspace == "") {
		return fmt.Errorf("exactly one of project or workspace must be set")
	}
	if c.BundleID == "" {
		return fmt.Errorf("bundle_id is required")
	}
	return c.ValidateSigning()
}

// isCertificateHash accepts the 40 character SHA-1 form codesign also understands
func isCertificateHash(s string) bool {
	if len(s) != 40 {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return false
		}
	}
	return true
}
