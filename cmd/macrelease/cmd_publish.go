package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ochairo/macrelease/internal/domain-adapters/gateways"
	orchestrators "github.com/ochairo/macrelease/internal/domain-orchestrators"
	"github.com/ochairo/macrelease/internal/domain/entities"
	"github.com/ochairo/macrelease/internal/domain/services"
)

func runPublish(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("publish", flag.ContinueOnError)
	common := addCommonFlags(fs)
	artifactsDir := fs.String("artifacts", "", "Directory containing packaged artifacts (default <work-dir>/dist/<version>)")
	notes := fs.String("notes", "", "Release notes file for the GitHub release body")
	skipFeed := fs.Bool("skip-feed", false, "Do not commit and push the appcast")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: macrelease publish <version> [options]

Upload the packaged artifacts of a version to the configured GitHub release
and S3 bucket, then commit and push the appcast and the tap cask.
Safe to re-run: existing release assets are replaced.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Environment Variables:
  GITHUB_TOKEN               GitHub token for releases and HTTPS pushes
  MACRELEASE_GIT_TOKEN       Token for git pushes when different from GITHUB_TOKEN
  MACRELEASE_PGP_KEY_FILE    Private key for signing SHA256SUMS
  AWS_REGION, AWS_PROFILE    Standard AWS settings for the S3 mirror
`)
	}

	if err := fs.Parse(args); err != nil {
		return flagExit(err)
	}
	if fs.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Error: version is required\n\n")
		fs.Usage()
		return exitUsage
	}

	return finish(os.Stderr, executePublish(ctx, fs.Arg(0), common, *artifactsDir, *notes, *skipFeed))
}

func executePublish(ctx context.Context, version string, common *commonFlags, artifactsDir, notesPath string, skipFeed bool) error {
	a, err := loadApp(common, os.Environ())
	if err != nil {
		return err
	}

	publisher, err := a.publisher(ctx)
	a.settings.WipeSecrets()
	if err != nil {
		return usagef("invalid publishing setup: %v", err)
	}
	if publisher == nil {
		return usagef("no publishing destination configured (publish.github, publish.s3, publish.tap)")
	}

	if artifactsDir == "" {
		artifactsDir = services.NewPipelineContext(version, a.cfg, a.logger, a.clock).OutputDir()
	}
	fmt.Printf("🚀 Publishing %s %s\n", a.cfg.AppName, version)
	fmt.Printf("📁 Artifacts directory: %s\n", artifactsDir)

	packaged, err := gateways.NewArtifactFinder().FindPackaged(artifactsDir, a.cfg.AppName, version)
	if err != nil {
		return err
	}

	req := &orchestrators.PublishRequest{
		Version:   version,
		AppName:   a.cfg.AppName,
		Artifacts: packaged,
	}
	if !skipFeed {
		req.FeedPath = a.cfg.Appcast.FeedPath
	}
	if notesPath != "" {
		//nolint:gosec // G304: notes file named by the operator
		data, err := os.ReadFile(notesPath)
		if err != nil {
			return fmt.Errorf("failed to read release notes: %w", err)
		}
		req.Notes = string(data)
	}

	result, err := publisher.Publish(ctx, req)
	if err != nil {
		return &entities.StageFailure{
			At:   entities.StagePublish,
			Hint: fmt.Sprintf("fix the cause above and re-run `macrelease publish %s`", version),
			Err:  err,
		}
	}

	fmt.Printf("\n✅ Published in %v\n", result.Duration.Round(time.Second))
	for _, name := range result.Uploaded {
		fmt.Printf("  ⬆️  %s\n", name)
	}
	for _, location := range result.Mirrored {
		fmt.Printf("  🪣 %s\n", location)
	}
	if result.ReleaseURL != "" {
		fmt.Printf("🔗 %s\n", result.ReleaseURL)
	}
	if result.FeedCommit != "" {
		fmt.Printf("📝 Appcast commit %s\n", shortHash(result.FeedCommit))
	}
	if result.TapCommit != "" {
		fmt.Printf("🍺 Tap commit %s\n", shortHash(result.TapCommit))
	}
	return nil
}
