package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/ochairo/macrelease/internal/domain/entities"
	"github.com/ochairo/macrelease/internal/domain/services"
)

func runPreflight(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("preflight", flag.ContinueOnError)
	common := addCommonFlags(fs)
	skipCredentials := fs.Bool("skip-credentials", false, "Only check the local toolchain")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: macrelease preflight [options]

Check that the build and notarization tools are installed and recent enough,
then resolve the notarization credential and validate it with one read-only
call to the notary service. Nothing is submitted.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return flagExit(err)
	}

	return finish(os.Stderr, executePreflight(ctx, common, *skipCredentials))
}

func executePreflight(ctx context.Context, common *commonFlags, skipCredentials bool) error {
	a, err := loadApp(common, os.Environ())
	if err != nil {
		return err
	}
	if err := a.cfg.Validate(); err != nil {
		return usagef("invalid configuration: %v", err)
	}

	tc := a.toolchain()

	fmt.Println("🔍 Checking toolchain...")
	results, checkErr := a.prerequisiteChecker(tc).Check(ctx)
	printPrerequisites(results)
	if checkErr != nil {
		return checkErr
	}

	if skipCredentials {
		return nil
	}

	fmt.Println("\n🔐 Validating notarization credentials...")
	resolver := a.credentialResolver()
	a.settings.WipeSecrets()
	cred, err := resolver.Resolve(ctx)
	if err != nil {
		return err
	}
	defer cred.Wipe()

	validation, err := services.NewCredentialValidator(tc.notary).Validate(ctx, cred)
	if err != nil {
		return err
	}

	fmt.Printf("  ✅ %s accepted (source: %s)\n", validation.Identity, cred.Source)
	if validation.OrganizationID != "" {
		fmt.Printf("  Team: %s\n", validation.OrganizationID)
	}
	fmt.Printf("  Previous submissions: %d\n", validation.SubmissionsSeen)
	fmt.Println("\n✅ Ready to release")
	return nil
}

func printPrerequisites(results []entities.PrerequisiteResult) {
	for _, r := range results {
		switch {
		case r.Satisfied():
			fmt.Printf("  ✅ %-11s %s\n", r.ToolName, r.VersionString)
		case r.Required:
			fmt.Printf("  ❌ %-11s %s\n", r.ToolName, r.Problem)
		default:
			fmt.Printf("  ⚠️  %-11s %s (optional)\n", r.ToolName, r.Problem)
		}
	}
}
