package gateways

import "context"

// ArtifactStore mirrors release artifacts to object storage
type ArtifactStore interface {
	// Upload stores the file under key and returns its public location
	Upload(ctx context.Context, key, path string) (string, error)
}

// CommitSignature identifies the author of a publishing commit
type CommitSignature struct {
	Name  string
	Email string
}

// VersionControl commits and pushes files in a local checkout
type VersionControl interface {
	// CommitAndPush stages paths relative to the checkout, commits and pushes.
	// It returns the new commit hash, or "" when nothing changed.
	CommitAndPush(ctx context.Context, paths []string, message string, author CommitSignature) (string, error)
}
