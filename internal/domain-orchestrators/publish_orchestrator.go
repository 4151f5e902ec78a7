package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ochairo/macrelease/internal/domain/entities"
	"github.com/ochairo/macrelease/internal/domain/interfaces"
	"github.com/ochairo/macrelease/internal/domain/interfaces/gateways"
	"github.com/ochairo/macrelease/internal/domain/services"
)

const (
	defaultCommitAuthor = "macrelease"
	defaultCommitEmail  = "macrelease@users.noreply.github.com"
)

// ChecksumWriter writes a SHA256SUMS manifest
type ChecksumWriter interface {
	WriteChecksumsFile(dir string, paths []string) (string, error)
}

// FileSigner produces a detached signature file next to path
type FileSigner interface {
	SignFile(path string) (string, error)
}

// CaskUpdater rewrites the version and checksum of a tap cask
type CaskUpdater interface {
	UpdateCask(path, version, sha256 string) (bool, error)
}

// PublishDependencies wires the publishing collaborators. Every field except
// Checksums is optional; a nil collaborator skips its step.
type PublishDependencies struct {
	GitHub    gateways.GitHubGateway
	Mirror    gateways.ArtifactStore
	Checksums ChecksumWriter
	Signer    FileSigner
	FeedRepo  gateways.VersionControl
	TapRepo   gateways.VersionControl
	Cask      CaskUpdater
}

// PublishRequest names what a release publishes
type PublishRequest struct {
	Version   string
	AppName   string
	Artifacts *entities.PackagedArtifacts
	FeedPath  string // appcast document to commit, empty to skip
	Notes     string // release body
}

// PublishResult reports what was published
type PublishResult struct {
	ReleaseURL    string
	Uploaded      []string
	Mirrored      []string
	ChecksumsPath string
	SignaturePath string
	FeedCommit    string
	TapCommit     string
	Duration      time.Duration
}

// PublishOrchestrator uploads packaged artifacts and records the release in version control
type PublishOrchestrator struct {
	deps    PublishDependencies
	config  entities.PublishConfig
	pkg     entities.PackageConfig
	release *services.ReleaseService
	clock   interfaces.Clock
	logger  interfaces.Logger
}

// NewPublishOrchestrator creates a publish orchestrator
func NewPublishOrchestrator(deps PublishDependencies, config entities.PublishConfig, pkg entities.PackageConfig, clock interfaces.Clock, logger interfaces.Logger) *PublishOrchestrator {
	if clock == nil {
		clock = interfaces.RealClock{}
	}
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	return &PublishOrchestrator{
		deps:    deps,
		config:  config,
		pkg:     pkg,
		release: services.NewReleaseService(),
		clock:   clock,
		logger:  logger,
	}
}

// Publish runs every configured publishing step in order and stops at the first failure
func (o *PublishOrchestrator) Publish(ctx context.Context, req *PublishRequest) (*PublishResult, error) {
	start := o.clock.Now()
	result := &PublishResult{}

	if req.Artifacts == nil {
		return result, errors.New("no packaged artifacts to publish")
	}
	paths := req.Artifacts.Paths()
	validation := o.release.ValidateRelease(o.pkg, req.AppName, req.Version, paths)
	if !validation.IsReady() {
		return result, errors.New(validation.ErrorMessage())
	}

	if o.deps.Checksums != nil {
		if err := o.writeChecksums(req, paths, result); err != nil {
			return result, err
		}
	}

	uploads := append([]string(nil), paths...)
	if result.ChecksumsPath != "" {
		uploads = append(uploads, result.ChecksumsPath)
	}
	if result.SignaturePath != "" {
		uploads = append(uploads, result.SignaturePath)
	}

	if o.deps.GitHub != nil {
		if err := o.uploadToGitHub(ctx, req, uploads, result); err != nil {
			return result, err
		}
	}

	if o.deps.Mirror != nil {
		for _, path := range uploads {
			location, err := o.deps.Mirror.Upload(ctx, filepath.Base(path), path)
			if err != nil {
				return result, err
			}
			result.Mirrored = append(result.Mirrored, location)
			o.logger.Info("mirrored artifact", interfaces.F("location", location))
		}
	}

	if o.deps.FeedRepo != nil && req.FeedPath != "" {
		hash, err := o.deps.FeedRepo.CommitAndPush(ctx, []string{req.FeedPath},
			fmt.Sprintf("Update appcast for %s %s", req.AppName, req.Version), o.author())
		if err != nil {
			return result, fmt.Errorf("failed to publish appcast: %w", err)
		}
		result.FeedCommit = hash
	}

	if o.deps.TapRepo != nil && o.deps.Cask != nil && o.config.TapPath != "" && o.config.TapCaskFile != "" {
		if err := o.updateTap(ctx, req, result); err != nil {
			return result, err
		}
	}

	result.Duration = o.clock.Now().Sub(start)
	return result, nil
}

func (o *PublishOrchestrator) writeChecksums(req *PublishRequest, paths []string, result *PublishResult) error {
	dir := filepath.Dir(paths[0])
	sums, err := o.deps.Checksums.WriteChecksumsFile(dir, paths)
	if err != nil {
		return err
	}
	result.ChecksumsPath = sums
	o.logger.Info("wrote checksums", interfaces.F("path", sums), interfaces.F("version", req.Version))

	if o.deps.Signer != nil && o.config.SignChecksums {
		sig, err := o.deps.Signer.SignFile(sums)
		if err != nil {
			return fmt.Errorf("failed to sign checksums: %w", err)
		}
		result.SignaturePath = sig
	}
	return nil
}

// uploadToGitHub creates the v<version> release when missing and replaces
// assets that already exist under the same name
func (o *PublishOrchestrator) uploadToGitHub(ctx context.Context, req *PublishRequest, uploads []string, result *PublishResult) error {
	owner, repo := o.config.GitHubOwner, o.config.GitHubRepo
	if owner == "" || repo == "" {
		return errors.New("github owner and repository are required to publish a release")
	}
	tag := "v" + strings.TrimPrefix(req.Version, "v")

	release, err := o.deps.GitHub.GetRelease(ctx, owner, repo, tag)
	if errors.Is(err, gateways.ErrReleaseNotFound) {
		release, err = o.deps.GitHub.CreateRelease(ctx, owner, repo, &gateways.GitHubRelease{
			TagName: tag,
			Name:    fmt.Sprintf("%s %s", req.AppName, strings.TrimPrefix(req.Version, "v")),
			Body:    req.Notes,
		})
	}
	if err != nil {
		return err
	}
	result.ReleaseURL = release.HTMLURL

	existing, err := o.deps.GitHub.ListReleaseAssets(ctx, owner, repo, release.ID)
	if err != nil {
		return err
	}
	byName := make(map[string]*gateways.GitHubAsset, len(existing))
	for _, a := range existing {
		byName[a.Name] = a
	}

	for _, path := range uploads {
		name := filepath.Base(path)
		if old, ok := byName[name]; ok {
			o.logger.Info("replacing existing asset", interfaces.F("asset", name))
			if err := o.deps.GitHub.DeleteAsset(ctx, owner, repo, old.ID); err != nil {
				return err
			}
		}
		if err := o.uploadAsset(ctx, release.UploadURL, path); err != nil {
			return err
		}
		result.Uploaded = append(result.Uploaded, name)
	}
	return nil
}

func (o *PublishOrchestrator) uploadAsset(ctx context.Context, uploadURL, path string) error {
	//nolint:gosec // G304: packaged artifact from this run
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", filepath.Base(path), err)
	}
	//nolint:errcheck // Defer close on read-only file
	defer f.Close()

	asset, err := o.deps.GitHub.UploadAsset(ctx, uploadURL, filepath.Base(path), f)
	if err != nil {
		return err
	}
	o.logger.Info("uploaded asset", interfaces.F("asset", asset.Name), interfaces.F("size", asset.Size))
	return nil
}

func (o *PublishOrchestrator) updateTap(ctx context.Context, req *PublishRequest, result *PublishResult) error {
	checksum := req.Artifacts.DiskImageChecksum
	if checksum == "" {
		checksum = req.Artifacts.ZipChecksum
	}
	cask := filepath.Join(o.config.TapPath, o.config.TapCaskFile)

	changed, err := o.deps.Cask.UpdateCask(cask, req.Version, checksum)
	if err != nil {
		return fmt.Errorf("failed to update cask: %w", err)
	}
	if !changed {
		o.logger.Info("cask already up to date", interfaces.F("cask", o.config.TapCaskFile))
		return nil
	}

	hash, err := o.deps.TapRepo.CommitAndPush(ctx, []string{cask},
		fmt.Sprintf("Update %s to %s", strings.TrimSuffix(filepath.Base(cask), ".rb"), strings.TrimPrefix(req.Version, "v")), o.author())
	if err != nil {
		return fmt.Errorf("failed to publish cask: %w", err)
	}
	result.TapCommit = hash
	return nil
}

func (o *PublishOrchestrator) author() gateways.CommitSignature {
	author := gateways.CommitSignature{Name: o.config.CommitAuthor, Email: o.config.CommitEmail}
	if author.Name == "" {
		author.Name = defaultCommitAuthor
	}
	if author.Email == "" {
		author.Email = defaultCommitEmail
	}
	return author
}
