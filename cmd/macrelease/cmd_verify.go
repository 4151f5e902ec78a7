package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ochairo/macrelease/internal/domain-adapters/gateways"
	"github.com/ochairo/macrelease/internal/external-adapters/gpg"
	"github.com/ochairo/macrelease/internal/external-adapters/sparkle"
)

// verifyOptions selects which checks run against a file
type verifyOptions struct {
	checksums   string
	pgpSig      string
	pgpKey      string
	feed        string
	edPublicKey string
	bundleID    string
	version     string
	all         bool
}

func runVerify(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	var opts verifyOptions
	fs.StringVar(&opts.checksums, "checksums", "", "SHA256SUMS manifest to verify against")
	fs.StringVar(&opts.pgpSig, "pgp-sig", "", "Detached OpenPGP signature of the manifest (.asc)")
	fs.StringVar(&opts.pgpKey, "pgp-key", "", "OpenPGP public key file")
	fs.StringVar(&opts.feed, "feed", "", "Appcast whose entry for this file is checked")
	fs.StringVar(&opts.edPublicKey, "ed-public-key", os.Getenv("MACRELEASE_ED_PUBLIC_KEY"), "Base64 EdDSA public key (SUPublicEDKey)")
	fs.StringVar(&opts.bundleID, "bundle-id", "", "Expected bundle identifier when verifying a .app")
	fs.StringVar(&opts.version, "version", "", "Expected CFBundleShortVersionString when verifying a .app")
	fs.BoolVar(&opts.all, "all", false, "Use SHA256SUMS and SHA256SUMS.asc next to the file when present")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: macrelease verify <file> [options]

Verify a published artifact the way a user or the updater would.

Supports:
  - Checksums: SHA-256 against a SHA256SUMS manifest
  - OpenPGP: detached signature over the manifest
  - Appcast: checksum, length and EdDSA signature of the feed entry
  - Bundles: identifier, version and code signature of a .app

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  macrelease verify Widget-1.4.0.zip --all --pgp-key release.pub.asc
  macrelease verify Widget-1.4.0.zip --feed appcast.xml --ed-public-key <key>
  macrelease verify build/1.4.0/export/Widget.app --bundle-id com.example.widget --version 1.4.0
`)
	}

	if err := fs.Parse(args); err != nil {
		return flagExit(err)
	}
	if fs.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Error: file path is required\n\n")
		fs.Usage()
		return exitUsage
	}

	return finish(os.Stderr, executeVerify(ctx, fs.Arg(0), opts))
}

func executeVerify(ctx context.Context, filePath string, opts verifyOptions) error {
	if _, err := os.Stat(filePath); err != nil {
		return usagef("cannot read %s: %v", filePath, err)
	}

	if opts.all {
		dir := filepath.Dir(filePath)
		if opts.checksums == "" && fileExists(filepath.Join(dir, gateways.ChecksumsFileName)) {
			opts.checksums = filepath.Join(dir, gateways.ChecksumsFileName)
		}
		if opts.pgpSig == "" && opts.checksums != "" && fileExists(opts.checksums+".asc") {
			opts.pgpSig = opts.checksums + ".asc"
		}
	}

	checks := []struct {
		enabled bool
		label   string
		run     func() error
	}{
		{strings.HasSuffix(filePath, ".app"), "📦 Verifying bundle...", func() error { return verifyBundle(filePath, opts) }},
		{opts.checksums != "", "📋 Verifying checksum...", func() error { return verifyManifest(ctx, filePath, opts.checksums) }},
		{opts.pgpSig != "", "🔐 Verifying OpenPGP signature...", func() error { return verifyPGP(opts) }},
		{opts.feed != "", "📰 Verifying appcast entry...", func() error { return verifyFeedEntry(ctx, filePath, opts) }},
	}

	fmt.Printf("🔍 Verifying %s\n\n", filepath.Base(filePath))

	verified, failed := 0, 0
	for _, c := range checks {
		if !c.enabled {
			continue
		}
		fmt.Println(c.label)
		if err := c.run(); err != nil {
			fmt.Printf("❌ FAILED: %v\n\n", err)
			failed++
			continue
		}
		fmt.Printf("✅ Verified\n\n")
		verified++
	}

	switch {
	case verified+failed == 0:
		return usagef("nothing to verify; pass --checksums, --pgp-sig, --feed or --all")
	case failed > 0:
		return fmt.Errorf("%d of %d verification(s) failed", failed, verified+failed)
	}
	fmt.Printf("✅ All %d verification(s) passed\n", verified)
	return nil
}

func verifyBundle(bundlePath string, opts verifyOptions) error {
	info, err := gateways.NewBundleInspector().Verify(bundlePath, opts.bundleID, opts.version)
	if info != nil {
		fmt.Printf("   %s %s (%s) %s\n", info.BundleID, info.ShortVersion, info.BuildVersion, strings.Join(info.Architectures, ", "))
	}
	return err
}

func verifyManifest(ctx context.Context, filePath, manifest string) error {
	verifier := gateways.NewChecksumVerifier()
	sums, err := verifier.ReadChecksumsFile(manifest)
	if err != nil {
		return err
	}
	expected, ok := sums[filepath.Base(filePath)]
	if !ok {
		return fmt.Errorf("%s is not listed in %s", filepath.Base(filePath), filepath.Base(manifest))
	}
	return verifier.VerifyChecksum(ctx, filePath, expected)
}

func verifyPGP(opts verifyOptions) error {
	if opts.pgpKey == "" {
		return errors.New("--pgp-key is required to check an OpenPGP signature")
	}
	if opts.checksums == "" {
		return errors.New("the OpenPGP signature covers the checksums manifest; pass --checksums")
	}
	verifier := gpg.NewVerifier()
	if err := verifier.ImportKeyFromFile(opts.pgpKey); err != nil {
		return err
	}
	return verifier.VerifySignatureFromFile(opts.checksums, opts.pgpSig)
}

func verifyFeedEntry(ctx context.Context, filePath string, opts verifyOptions) error {
	items, err := sparkle.NewFeed(opts.feed, sparkle.FeedSettings{}).Items()
	if err != nil {
		return err
	}

	name := filepath.Base(filePath)
	var item *sparkle.FeedItem
	for i := range items {
		if path.Base(items[i].URL) == name {
			item = &items[i]
			break
		}
	}
	if item == nil {
		return fmt.Errorf("no appcast entry links to %s", name)
	}
	fmt.Printf("   entry %s (%s)\n", item.Version, item.ShortVersion)

	info, err := os.Stat(filePath)
	if err != nil {
		return err
	}
	if item.Length != info.Size() {
		return fmt.Errorf("appcast length is %d bytes, file is %d bytes", item.Length, info.Size())
	}
	if item.SHA256 != "" {
		if err := gateways.NewChecksumVerifier().VerifyChecksum(ctx, filePath, item.SHA256); err != nil {
			return err
		}
	}

	switch {
	case item.EdSignature != "":
		if opts.edPublicKey == "" {
			return errors.New("entry is EdDSA signed; pass --ed-public-key to check it")
		}
		return sparkle.VerifyEd(opts.edPublicKey, filePath, item.EdSignature)
	case item.DSASignature != "":
		fmt.Println("   ⚠️  DSA signature present but not checked")
	default:
		fmt.Println("   ⚠️  entry is unsigned")
	}
	return nil
}

func fileExists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}
