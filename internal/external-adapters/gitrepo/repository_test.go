package gitrepo

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ochairo/macrelease/internal/domain/interfaces/gateways"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func (c fixedClock) Sleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

var author = gateways.CommitSignature{Name: "Release Bot", Email: "release@example.com"}

// newCheckout creates a working repository with one commit and a bare origin
func newCheckout(t *testing.T) (string, *git.Repository) {
	t.Helper()
	remoteDir := filepath.Join(t.TempDir(), "origin.git")
	remote, err := git.PlainInit(remoteDir, true)
	require.NoError(t, err)

	workDir := filepath.Join(t.TempDir(), "site")
	repo, err := git.PlainInit(workDir, false)
	require.NoError(t, err)
	_, err = repo.CreateRemote(&config.RemoteConfig{Name: "origin", URLs: []string{remoteDir}})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(workDir, "README.md"), []byte("site\n"), 0o600))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("README.md")
	require.NoError(t, err)
	_, err = wt.Commit("initial", &git.CommitOptions{Author: &object.Signature{Name: "a", Email: "a@example.com", When: time.Now()}})
	require.NoError(t, err)

	return workDir, remote
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git is required for the local push transport")
	}
}

func TestCommitAndPush(t *testing.T) {
	requireGit(t)
	workDir, remote := newCheckout(t)
	when := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	repo, err := Open(workDir, Options{Clock: fixedClock{now: when}})
	require.NoError(t, err)

	feed := filepath.Join(workDir, "appcast.xml")
	require.NoError(t, os.WriteFile(feed, []byte("<rss/>"), 0o600))

	hash, err := repo.CommitAndPush(context.Background(), []string{feed}, "Publish 1.4.0", author)
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	local, err := git.PlainOpen(workDir)
	require.NoError(t, err)
	head, err := local.Head()
	require.NoError(t, err)
	assert.Equal(t, hash, head.Hash().String())

	commit, err := local.CommitObject(head.Hash())
	require.NoError(t, err)
	assert.Equal(t, "Publish 1.4.0", commit.Message)
	assert.Equal(t, "Release Bot", commit.Author.Name)
	assert.True(t, when.Equal(commit.Author.When))

	pushed, err := remote.Reference(head.Name(), true)
	require.NoError(t, err)
	assert.Equal(t, hash, pushed.Hash().String())
}

func TestCommitAndPushWithoutChanges(t *testing.T) {
	workDir, _ := newCheckout(t)
	repo, err := Open(workDir, Options{})
	require.NoError(t, err)

	hash, err := repo.CommitAndPush(context.Background(), []string{"README.md"}, "noop", author)
	require.NoError(t, err)
	assert.Empty(t, hash)
}

func TestCommitAndPushRejectsOutsidePaths(t *testing.T) {
	workDir, _ := newCheckout(t)
	repo, err := Open(workDir, Options{})
	require.NoError(t, err)

	outside := filepath.Join(t.TempDir(), "appcast.xml")
	_, err = repo.CommitAndPush(context.Background(), []string{outside}, "publish", author)
	assert.ErrorContains(t, err, "outside the checkout")
}

func TestCommitAndPushMissingRemote(t *testing.T) {
	workDir, _ := newCheckout(t)
	repo, err := Open(workDir, Options{Remote: "upstream"})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(workDir, "appcast.xml"), []byte("<rss/>"), 0o600))
	hash, err := repo.CommitAndPush(context.Background(), []string{"appcast.xml"}, "publish", author)

	require.Error(t, err)
	assert.NotEmpty(t, hash, "the local commit is kept")
	assert.ErrorIs(t, err, git.ErrRemoteNotFound)
}

func TestOpenOutsideRepository(t *testing.T) {
	_, err := Open(t.TempDir(), Options{})
	assert.Error(t, err)
}

func TestAuth(t *testing.T) {
	workDir, _ := newCheckout(t)

	repo, err := Open(workDir, Options{})
	require.NoError(t, err)
	assert.Nil(t, repo.auth())

	repo, err = Open(workDir, Options{Token: "ghp_example"})
	require.NoError(t, err)
	assert.NotNil(t, repo.auth())
	assert.Equal(t, "origin", repo.options.Remote)
}
