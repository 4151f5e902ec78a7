package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ochairo/macrelease/internal/domain-adapters/gateways"
	orchestrators "github.com/ochairo/macrelease/internal/domain-orchestrators"
	"github.com/ochairo/macrelease/internal/domain/entities"
	"github.com/ochairo/macrelease/internal/domain/interfaces"
	"github.com/ochairo/macrelease/internal/domain/services"
	"github.com/ochairo/macrelease/internal/external-adapters/environment"
	"github.com/ochairo/macrelease/internal/external-adapters/gitrepo"
	"github.com/ochairo/macrelease/internal/external-adapters/gpg"
	"github.com/ochairo/macrelease/internal/external-adapters/keychain"
	"github.com/ochairo/macrelease/internal/external-adapters/lockfile"
	"github.com/ochairo/macrelease/internal/external-adapters/prompt"
	"github.com/ochairo/macrelease/internal/external-adapters/s3store"
	"github.com/ochairo/macrelease/internal/external-adapters/sparkle"
	"github.com/ochairo/macrelease/internal/external-adapters/yaml"
)

// toolchain bundles the command runner and the notary client built on it
type toolchain struct {
	runner *gateways.ToolchainRunner
	notary *gateways.NotarytoolGateway
}

func (a *app) toolchain() *toolchain {
	runner := gateways.NewToolchainRunner(a.logger)
	return &toolchain{runner: runner, notary: gateways.NewNotarytoolGateway(runner, a.logger)}
}

func (a *app) keychainService() string {
	return keychain.ServiceName(a.cfg.BundleID)
}

// credentialResolver consults the keychain, the config file, the environment
// and finally an interactive prompt. Call settings.WipeSecrets once every
// component that needs a secret has been built.
func (a *app) credentialResolver() *services.CredentialResolver {
	envSource := environment.NewSource(a.settings)
	identity := yaml.NewIdentitySource(a.cfg)

	return services.NewCredentialResolver(a.logger, a.cfg.TeamID,
		keychain.NewSource(keychain.NewStore(), a.keychainService()),
		identity,
		envSource,
		prompt.NewSource(prompt.NewTerminal(), a.settings.NonInteractive, identity, envSource),
	)
}

func (a *app) prerequisiteChecker(tc *toolchain) *services.PrerequisiteChecker {
	return services.NewPrerequisiteChecker(gateways.NewToolProber(tc.runner), services.DefaultToolRequirements(a.cfg.Package.DiskImage), a.logger)
}

func (a *app) pollPolicy() services.PollPolicy {
	policy := services.DefaultPollPolicy()
	n := a.cfg.Notarize
	if n.PollInterval > 0 {
		policy.Interval = n.PollInterval
	}
	if n.MaxPollInterval > 0 {
		policy.MaxInterval = n.MaxPollInterval
	}
	if n.Timeout > 0 {
		policy.Timeout = n.Timeout
	}
	return policy
}

func (a *app) submissions() *yaml.SubmissionRepository {
	return yaml.NewSubmissionRepository(services.StateDir(a.workDir()))
}

func (a *app) notarizer(tc *toolchain) *services.NotarizationService {
	return services.NewNotarizationService(
		tc.notary,
		gateways.NewBundleSanitizer(tc.runner, a.cfg.SigningIdentity, a.workDir(), a.logger),
		a.submissions(),
		services.WithClock(a.clock),
		services.WithPollPolicy(a.pollPolicy()),
		services.WithProgress(printProgress),
		services.WithNotarizationLogger(a.logger),
	)
}

func printProgress(s *entities.NotarizationSubmission, elapsed time.Duration) {
	fmt.Printf("⏳ Notarization %s: %s (%s elapsed)\n", s.SubmissionID, s.Status, elapsed.Round(time.Second))
}

func (a *app) stapler(tc *toolchain) *gateways.Stapler {
	return gateways.NewStapler(tc.runner, a.clock, a.cfg.Notarize.StapleDelay, a.logger)
}

func (a *app) lock() *lockfile.Locker {
	return lockfile.NewLocker(services.StateDir(a.workDir()))
}

// appcastGenerator returns nil when no feed is configured
func (a *app) appcastGenerator() *services.AppcastGenerator {
	ac := a.cfg.Appcast
	if ac.FeedPath == "" {
		return nil
	}
	feed := sparkle.NewFeed(ac.FeedPath, sparkle.FeedSettings{
		Title:       firstNonEmpty(ac.Title, a.cfg.AppName),
		Link:        ac.Link,
		Description: "Most recent changes with links to updates.",
	})
	return services.NewAppcastGenerator(gateways.NewChecksumVerifier(), feed, a.clock, a.logger, services.AppcastGeneratorConfig{
		AppName:              a.cfg.AppName,
		Title:                ac.Title,
		MinimumSystemVersion: ac.MinimumSystemVersion,
	})
}

// feedSigner loads the EdDSA or DSA key, or returns nil for unsigned entries
func (a *app) feedSigner() (services.ArtifactSigner, error) {
	signer, err := sparkle.SelectSigner(a.settings.EdKeyFile, a.settings.DSAKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load appcast signing key: %w", err)
	}
	if signer == nil {
		return nil, nil
	}
	return signer, nil
}

// publisher returns nil when no publishing destination is configured
func (a *app) publisher(ctx context.Context) (*orchestrators.PublishOrchestrator, error) {
	pub := a.cfg.Publish
	deps := orchestrators.PublishDependencies{Checksums: gateways.NewChecksumVerifier()}
	configured := false

	if pub.GitHubOwner != "" && pub.GitHubRepo != "" {
		if a.settings.GitHubToken == "" {
			return nil, fmt.Errorf("GITHUB_TOKEN is required to publish to %s/%s", pub.GitHubOwner, pub.GitHubRepo)
		}
		deps.GitHub = gateways.NewHTTPGitHubGateway(a.settings.GitHubToken,
			gateways.WithGitHubClock(a.clock),
			gateways.WithGitHubLogger(a.logger))
		configured = true
	}

	if pub.S3Bucket != "" {
		store, err := s3store.New(ctx, s3store.Options{Bucket: pub.S3Bucket, Prefix: pub.S3Prefix})
		if err != nil {
			return nil, err
		}
		deps.Mirror = store
		configured = true
	}

	if pub.SignChecksums {
		if a.settings.PGPKeyFile == "" {
			return nil, fmt.Errorf("sign_checksums is enabled but MACRELEASE_PGP_KEY_FILE is not set")
		}
		signer, err := gpg.NewSignerFromFile(a.settings.PGPKeyFile, []byte(a.settings.PGPPassphrase))
		if err != nil {
			return nil, err
		}
		a.logger.Debug("loaded checksum signing key", interfaces.F("key_id", signer.KeyID()))
		deps.Signer = signer
	}

	gitOptions := gitrepo.Options{
		Remote: pub.GitRemote,
		Token:  firstNonEmpty(a.settings.GitToken, a.settings.GitHubToken),
		Clock:  a.clock,
	}

	if a.cfg.Appcast.FeedPath != "" {
		feedOptions := gitOptions
		feedOptions.Branch = pub.GitBranch
		repo, err := gitrepo.Open(filepath.Dir(a.cfg.Appcast.FeedPath), feedOptions)
		if err != nil {
			a.logger.Warn("appcast is not inside a git checkout and will not be pushed", interfaces.F("feed", a.cfg.Appcast.FeedPath))
		} else {
			deps.FeedRepo = repo
			configured = true
		}
	}

	if pub.TapPath != "" && pub.TapCaskFile != "" {
		repo, err := gitrepo.Open(pub.TapPath, gitOptions)
		if err != nil {
			return nil, err
		}
		deps.TapRepo = repo
		deps.Cask = gateways.NewTapUpdater()
		configured = true
	}

	if !configured {
		return nil, nil
	}
	return orchestrators.NewPublishOrchestrator(deps, pub, a.cfg.Package, a.clock, a.logger), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
