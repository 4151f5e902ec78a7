package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ochairo/macrelease/internal/domain/services"
)

func runAppcast(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("appcast", flag.ContinueOnError)
	common := addCommonFlags(fs)
	buildVersion := fs.String("build-version", "", "Machine version (CFBundleVersion), defaults to <version>")
	downloadURL := fs.String("url", "", "Download URL (defaults to download_url_template from the config)")
	notes := fs.String("notes", "", "HTML release notes file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: macrelease appcast <version> <artifact> [options]

Compute the checksum and size of a packaged artifact, sign it when an EdDSA or
DSA key is configured, and write its entry into the appcast. An existing entry
for the same version is replaced; every other entry is left untouched.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  macrelease appcast 1.4.0 dist/1.4.0/Widget-1.4.0.zip
  macrelease appcast 1.4.0 Widget-1.4.0.zip --build-version 140 --notes notes.html
`)
	}

	if err := fs.Parse(args); err != nil {
		return flagExit(err)
	}
	if fs.NArg() < 2 {
		fmt.Fprintf(os.Stderr, "Error: version and artifact are required\n\n")
		fs.Usage()
		return exitUsage
	}

	return finish(os.Stderr, executeAppcast(ctx, fs.Arg(0), fs.Arg(1), common, *buildVersion, *downloadURL, *notes))
}

func executeAppcast(ctx context.Context, version, artifact string, common *commonFlags, buildVersion, downloadURL, notes string) error {
	a, err := loadApp(common, os.Environ())
	if err != nil {
		return err
	}

	gen := a.appcastGenerator()
	if gen == nil {
		return usagef("appcast.feed_path is not configured")
	}
	signer, err := a.feedSigner()
	if err != nil {
		return usagef("%v", err)
	}

	if downloadURL == "" {
		downloadURL = a.cfg.Appcast.DownloadURL(a.cfg.AppName, version, filepath.Base(artifact))
	}

	entry, err := gen.GenerateAndUpsert(ctx, services.GenerateRequest{
		Version:         firstNonEmpty(buildVersion, version),
		ShortVersion:    version,
		ArtifactPath:    artifact,
		DownloadURL:     downloadURL,
		NotesPath:       firstNonEmpty(notes, a.cfg.Appcast.NotesPath),
		Signer:          signer,
		PublicationDate: a.clock.Now().UTC(),
	})
	if err != nil {
		return err
	}

	fmt.Printf("📰 Wrote %s entry to %s\n", entry.Version, a.cfg.Appcast.FeedPath)
	fmt.Printf("  SHA-256: %s\n", entry.Checksum)
	fmt.Printf("  Size:    %d bytes\n", entry.FileSizeBytes)
	if entry.Signed() {
		fmt.Printf("  Signed:  %s\n", entry.Signature.Scheme)
	} else {
		fmt.Println("  ⚠️  Unsigned: set MACRELEASE_ED_KEY_FILE to sign updates")
	}
	return nil
}
