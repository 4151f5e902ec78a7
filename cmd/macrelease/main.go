package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitUsage)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := dispatch(ctx, os.Args[1], os.Args[2:])
	stop()
	os.Exit(code)
}

func dispatch(ctx context.Context, command string, args []string) int {
	switch command {
	case "release":
		return runRelease(ctx, args)
	case "preflight":
		return runPreflight(ctx, args)
	case "setup-credentials":
		return runSetupCredentials(ctx, args)
	case "status":
		return runStatus(ctx, args)
	case "staple":
		return runStaple(ctx, args)
	case "appcast":
		return runAppcast(ctx, args)
	case "publish":
		return runPublish(ctx, args)
	case "verify":
		return runVerify(ctx, args)
	case "help", "-h", "--help":
		printUsage()
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		return exitUsage
	}
}

func printUsage() {
	fmt.Println(`macrelease - Signed and notarized macOS release pipeline

Usage:
  macrelease <command> [options]

Commands:
  release            Build, notarize, staple, package and publish a version
  preflight          Check the toolchain and validate notarization credentials
  setup-credentials  Store notarization credentials in the login keychain
  status             Resume polling a recorded notarization submission
  staple             Staple the ticket of an accepted submission
  appcast            Write the update feed entry for a packaged artifact
  publish            Upload packaged artifacts and push feed and tap updates
  verify             Verify checksums and signatures of published artifacts

Exit Codes:
  0  Success
  1  A pipeline stage failed
  2  Usage error
  3  Prerequisites or credentials are not usable
  4  Notarization rejected the submission

Use "macrelease <command> --help" for more information about a command.`)
}
