// Package gateways defines interfaces for external service adapters.
package gateways

import (
	"context"
	"errors"
	"io"
)

// ErrReleaseNotFound is returned when no release exists for a tag
var ErrReleaseNotFound = errors.New("release not found")

// GitHubRelease is the release a version's artifacts are attached to
type GitHubRelease struct {
	ID        int64
	TagName   string
	Name      string
	Body      string
	HTMLURL   string
	UploadURL string
}

// GitHubAsset represents an uploaded release asset
type GitHubAsset struct {
	ID                 int64
	Name               string
	State              string
	Size               int64
	BrowserDownloadURL string
}

// GitHubGateway is the slice of the GitHub API the publisher needs
type GitHubGateway interface {
	CreateRelease(ctx context.Context, owner, repo string, release *GitHubRelease) (*GitHubRelease, error)

	// GetRelease retrieves a release by tag name, or ErrReleaseNotFound
	GetRelease(ctx context.Context, owner, repo, tag string) (*GitHubRelease, error)

	// UploadAsset posts content to a release's upload URL
	UploadAsset(ctx context.Context, uploadURL, filename string, content io.Reader) (*GitHubAsset, error)

	ListReleaseAssets(ctx context.Context, owner, repo string, releaseID int64) ([]*GitHubAsset, error)

	// DeleteAsset removes an asset so it can be replaced
	DeleteAsset(ctx context.Context, owner, repo string, assetID int64) error
}
