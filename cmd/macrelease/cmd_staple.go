package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ochairo/macrelease/internal/domain/entities"
	"github.com/ochairo/macrelease/internal/domain/interfaces/repositories"
	"github.com/ochairo/macrelease/internal/domain/services"
)

func runStaple(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("staple", flag.ContinueOnError)
	common := addCommonFlags(fs)
	bundle := fs.String("bundle", "", "Bundle to staple (defaults to the one recorded with the submission)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: macrelease staple <version> [options]

Attach the notarization ticket of an accepted submission to its bundle.
Use this when a release finished with the staple deferred.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return flagExit(err)
	}
	if fs.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Error: version is required\n\n")
		fs.Usage()
		return exitUsage
	}

	return finish(os.Stderr, executeStaple(ctx, fs.Arg(0), common, *bundle))
}

func executeStaple(ctx context.Context, version string, common *commonFlags, bundle string) error {
	a, err := loadApp(common, os.Environ())
	if err != nil {
		return err
	}

	submission, err := a.submissions().Get(ctx, version)
	if errors.Is(err, repositories.ErrSubmissionNotFound) {
		return usagef("no submission recorded for %s", version)
	}
	if err != nil {
		return err
	}
	if submission.Status != entities.StatusAccepted {
		return &entities.StageFailure{
			At:   entities.StageStaple,
			Hint: fmt.Sprintf("wait for acceptance with `macrelease status %s`", version),
			Err:  fmt.Errorf("submission %s is %s, only accepted submissions can be stapled", submission.SubmissionID, submission.Status),
		}
	}

	artifact := &entities.BuildArtifact{
		BundlePath: firstNonEmpty(bundle, submission.BundlePath),
		Version:    version,
	}
	fmt.Printf("📎 Stapling %s\n", artifact.BundlePath)

	result := a.stapler(a.toolchain()).Staple(ctx, artifact)
	if !result.Success {
		return &entities.StageFailure{
			At:   entities.StageStaple,
			Hint: fmt.Sprintf("the ticket may not be published yet; retry `macrelease staple %s` in a few minutes", version),
			Err:  fmt.Errorf("%w after %d attempt(s): %s", entities.ErrStapleDeferred, result.Attempts, result.Output),
		}
	}

	fmt.Printf("✅ Stapled after %d attempt(s)\n", result.Attempts)

	outputDir := services.NewPipelineContext(version, a.cfg, a.logger, a.clock).OutputDir()
	if notice := restapleNotice(outputDir, unstapledArchives(outputDir, firstNonEmpty(a.cfg.AppName, artifact.AppName()), version)); notice != "" {
		fmt.Print(notice)
	}
	return nil
}

// unstapledArchives lists the zip and disk image already packaged for version.
// They were built before the ticket was attached and still hold the unstapled app.
func unstapledArchives(dir, appName, version string) []string {
	var found []string
	for _, kind := range []entities.ArtifactKind{entities.KindZip, entities.KindDiskImage} {
		path := filepath.Join(dir, entities.ArtifactFileName(appName, version, kind))
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			found = append(found, path)
		}
	}
	return found
}

func restapleNotice(dir string, archives []string) string {
	if len(archives) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("⚠️  These archives were packaged before stapling and are reused as-is by later runs:\n")
	for _, path := range archives {
		fmt.Fprintf(&b, "   %s\n", path)
	}
	fmt.Fprintf(&b, "   Remove %s and run `macrelease release` again to repackage the stapled bundle before publishing\n", dir)
	return b.String()
}
