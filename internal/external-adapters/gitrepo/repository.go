// Package gitrepo commits and pushes published files with go-git.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/ochairo/macrelease/internal/domain/interfaces"
	"github.com/ochairo/macrelease/internal/domain/interfaces/gateways"
)

// DefaultRemote is used when Options.Remote is empty
const DefaultRemote = "origin"

// ErrDetachedHead is returned when no branch is configured and HEAD is detached
var ErrDetachedHead = errors.New("checkout has a detached HEAD and no branch is configured")

// Options configure a Repository
type Options struct {
	Remote string
	Branch string // defaults to the checked out branch
	Token  string // HTTPS token; empty uses the transport default
	Clock  interfaces.Clock
}

// Repository is a local checkout. It implements gateways.VersionControl.
type Repository struct {
	repo    *git.Repository
	root    string
	options Options
}

var _ gateways.VersionControl = (*Repository)(nil)

// Open opens the checkout containing path
func Open(path string, options Options) (*Repository, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open git checkout at %s: %w", path, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("checkout at %s has no worktree: %w", path, err)
	}
	if options.Remote == "" {
		options.Remote = DefaultRemote
	}
	if options.Clock == nil {
		options.Clock = interfaces.RealClock{}
	}
	return &Repository{repo: repo, root: wt.Filesystem.Root(), options: options}, nil
}

// Root returns the worktree root
func (r *Repository) Root() string { return r.root }

// CommitAndPush implements gateways.VersionControl
func (r *Repository) CommitAndPush(ctx context.Context, paths []string, message string, author gateways.CommitSignature) (string, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to open worktree: %w", err)
	}

	staged := make([]string, 0, len(paths))
	for _, p := range paths {
		rel, err := r.relative(p)
		if err != nil {
			return "", err
		}
		if _, err := wt.Add(rel); err != nil {
			return "", fmt.Errorf("failed to stage %s: %w", rel, err)
		}
		staged = append(staged, rel)
	}

	changed, err := hasStagedChanges(wt, staged)
	if err != nil {
		return "", err
	}
	if !changed {
		return "", nil
	}

	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: author.Name, Email: author.Email, When: r.options.Clock.Now()},
	})
	if err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}

	if err := r.push(ctx); err != nil {
		return hash.String(), err
	}
	return hash.String(), nil
}

func (r *Repository) push(ctx context.Context) error {
	branch, err := r.branch()
	if err != nil {
		return err
	}
	ref := plumbing.NewBranchReferenceName(branch)

	opts := &git.PushOptions{
		RemoteName: r.options.Remote,
		RefSpecs:   []config.RefSpec{config.RefSpec(ref + ":" + ref)},
		Auth:       r.auth(),
	}
	err = r.repo.PushContext(ctx, opts)
	switch {
	case err == nil, errors.Is(err, git.NoErrAlreadyUpToDate):
		return nil
	case errors.Is(err, git.ErrRemoteNotFound):
		return fmt.Errorf("remote %q is not configured: %w", r.options.Remote, err)
	case errors.Is(err, git.ErrNonFastForwardUpdate):
		return fmt.Errorf("push to %s/%s rejected, pull and retry: %w", r.options.Remote, branch, err)
	case errors.Is(err, transport.ErrAuthenticationRequired), errors.Is(err, transport.ErrAuthorizationFailed):
		return fmt.Errorf("push to %s rejected credentials: %w", r.options.Remote, err)
	default:
		return fmt.Errorf("failed to push to %s: %w", r.options.Remote, err)
	}
}

func (r *Repository) branch() (string, error) {
	if r.options.Branch != "" {
		return r.options.Branch, nil
	}
	head, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", ErrDetachedHead
	}
	return head.Name().Short(), nil
}

//nolint:ireturn // go-git takes transport.AuthMethod
func (r *Repository) auth() transport.AuthMethod {
	if r.options.Token == "" {
		return nil
	}
	return &githttp.BasicAuth{Username: "x-access-token", Password: r.options.Token}
}

func (r *Repository) relative(path string) (string, error) {
	if !filepath.IsAbs(path) {
		return filepath.ToSlash(filepath.Clean(path)), nil
	}
	rel, err := filepath.Rel(r.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside the checkout at %s", path, r.root)
	}
	return filepath.ToSlash(rel), nil
}

func hasStagedChanges(wt *git.Worktree, paths []string) (bool, error) {
	status, err := wt.Status()
	if err != nil {
		return false, fmt.Errorf("failed to read worktree status: %w", err)
	}
	for _, p := range paths {
		fs, ok := status[p]
		if ok && fs.Staging != git.Unmodified && fs.Staging != git.Untracked {
			return true, nil
		}
	}
	return false, nil
}
