// Package entities defines core domain models and data structures.
package entities

import (
	"path/filepath"
	"strings"
	"time"
)

// BuildArtifact is the signed application bundle exported for one release.
// Stapler mutates it in place once the ticket is embedded.
type BuildArtifact struct {
	BundlePath          string
	ArchivePath         string
	Version             string
	BuildTimestamp      time.Time
	SigningIdentityUsed string
	TeamID              string
	LogPath             string
	Stapled             bool
}

// AppName returns the bundle's directory name without the .app suffix.
func (a *BuildArtifact) AppName() string {
	return strings.TrimSuffix(filepath.Base(a.BundlePath), ".app")
}

// PackagedArtifacts contains the distributable files produced for a version
type PackagedArtifacts struct {
	ZipPath           string
	ZipChecksum       string
	DiskImagePath     string
	DiskImageChecksum string
	SymbolsPath       string // debug symbols tar.gz, empty when the archive had none
	Reused            bool   // true when every output already existed on disk
}

// Paths returns all non-empty artifact paths
func (p *PackagedArtifacts) Paths() []string {
	var paths []string
	for _, path := range []string{p.ZipPath, p.DiskImagePath, p.SymbolsPath} {
		if path != "" {
			paths = append(paths, path)
		}
	}
	return paths
}

// StapleResult reports the outcome of attaching a notarization ticket
type StapleResult struct {
	Success  bool
	Deferred bool
	Attempts int
	Output   string
}

// ArtifactKind names one distributable format
type ArtifactKind string

// Distributable formats
const (
	KindZip       ArtifactKind = "zip"
	KindDiskImage ArtifactKind = "dmg"
	KindSymbols   ArtifactKind = "symbols"
)

// ArtifactFileName returns the canonical file name for an app/version/kind
func ArtifactFileName(appName, version string, kind ArtifactKind) string {
	version = strings.TrimPrefix(version, "v")
	switch kind {
	case KindZip:
		return appName + "-" + version + ".zip"
	case KindDiskImage:
		return appName + "-" + version + ".dmg"
	case KindSymbols:
		return appName + "-" + version + "-dSYMs.tar.gz"
	default:
		return ""
	}
}

// BundleInfo is what the exported bundle says about itself
type BundleInfo struct {
	BundleID      string
	ShortVersion  string
	BuildVersion  string
	Executable    string
	Architectures []string
	PIE           bool
	CodeSigned    bool // main executable carries an embedded code signature
}
