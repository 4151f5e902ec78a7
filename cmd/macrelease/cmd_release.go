package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ochairo/macrelease/internal/domain-adapters/gateways"
	orchestrators "github.com/ochairo/macrelease/internal/domain-orchestrators"
	"github.com/ochairo/macrelease/internal/domain/services"
)

func runRelease(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("release", flag.ContinueOnError)
	common := addCommonFlags(fs)
	skipPublish := fs.Bool("skip-publish", false, "Stop after the appcast entry is written")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: macrelease release <version> [options]

Build, sign, notarize, staple and package a version, write its appcast entry
and publish it to the configured destinations.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Environment Variables:
  MACRELEASE_APPLE_ID      Notarization identity (with MACRELEASE_APP_PASSWORD)
  MACRELEASE_APP_PASSWORD  App-specific password
  MACRELEASE_TEAM_ID       Developer team id
  MACRELEASE_ED_KEY_FILE   EdDSA key for appcast signatures
  GITHUB_TOKEN             Token for GitHub releases
  CI                       Disables the interactive password prompt

Examples:
  macrelease release 1.4.0
  macrelease release 1.4.0 --skip-publish
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

	return finish(os.Stderr, executeRelease(ctx, fs.Arg(0), common, *skipPublish))
}

func executeRelease(ctx context.Context, version string, common *commonFlags, skipPublish bool) error {
	a, err := loadApp(common, os.Environ())
	if err != nil {
		return err
	}
	if err := a.cfg.Validate(); err != nil {
		return usagef("invalid configuration: %v", err)
	}

	fmt.Printf("🚀 Releasing %s %s\n", a.cfg.AppName, version)

	pc := services.NewPipelineContext(version, a.cfg, a.logger, a.clock)
	tc := a.toolchain()

	deps := orchestrators.ReleaseDependencies{
		Lock:      a.lock(),
		Checker:   a.prerequisiteChecker(tc),
		Resolver:  a.credentialResolver(),
		Validator: services.NewCredentialValidator(tc.notary),
		Builder:   gateways.NewXcodeExporter(tc.runner),
		Inspector: gateways.NewBundleInspector(),
		Notarizer: a.notarizer(tc),
		Stapler:   a.stapler(tc),
		Packager:  gateways.NewPackager(tc.runner, a.cfg.Package, pc.OutputDir(), a.logger),
	}
	if gen := a.appcastGenerator(); gen != nil {
		signer, err := a.feedSigner()
		if err != nil {
			return usagef("%v", err)
		}
		deps.Appcast = gen
		deps.Signer = signer
	}
	if !skipPublish {
		publisher, err := a.publisher(ctx)
		if err != nil {
			return usagef("invalid publishing setup: %v", err)
		}
		if publisher != nil {
			deps.Publisher = publisher
		}
	}
	a.settings.WipeSecrets()

	fmt.Printf("📁 Work directory: %s\n", pc.WorkDir())
	fmt.Printf("🆔 Run: %s\n\n", pc.RunID)

	result, err := orchestrators.NewReleaseOrchestrator(deps).Run(ctx, pc)
	if err != nil {
		if errors.Is(err, context.Canceled) && result.Submission != nil {
			fmt.Printf("\n⚠️  Interrupted while waiting for submission %s\n", result.Submission.SubmissionID)
			fmt.Printf("   Resume with: macrelease status %s\n", version)
		}
		return err
	}

	printReleaseResult(result)
	return nil
}

func printReleaseResult(result *orchestrators.ReleaseResult) {
	fmt.Printf("\n✅ %s\n\n", result.GetReleaseSummary())

	if result.Staple.Deferred {
		fmt.Printf("⚠️  Ticket not stapled yet; run `macrelease staple %s` later\n", result.Version)
	}
	if result.Packaged != nil {
		fmt.Println("📦 Artifacts:")
		for _, p := range result.Packaged.Paths() {
			fmt.Printf("  - %s\n", filepath.Base(p))
		}
	}
	if result.Entry != nil {
		signed := "unsigned"
		if result.Entry.Signed() {
			signed = string(result.Entry.Signature.Scheme)
		}
		fmt.Printf("📰 Appcast entry %s (%s)\n", result.Entry.Version, signed)
	}
	if pub := result.Published; pub != nil {
		if pub.ReleaseURL != "" {
			fmt.Printf("🔗 %s\n", pub.ReleaseURL)
		}
		if pub.FeedCommit != "" {
			fmt.Printf("📝 Appcast commit %s\n", shortHash(pub.FeedCommit))
		}
		if pub.TapCommit != "" {
			fmt.Printf("🍺 Tap commit %s\n", shortHash(pub.TapCommit))
		}
	}
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}

// flagExit maps a flag parse error to an exit code; -h is not a failure
func flagExit(err error) int {
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	return exitUsage
}
