package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/ochairo/macrelease/internal/domain/entities"
	"github.com/ochairo/macrelease/internal/domain/services"
	"github.com/ochairo/macrelease/internal/external-adapters/keychain"
	"github.com/ochairo/macrelease/internal/external-adapters/prompt"
)

func runSetupCredentials(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("setup-credentials", flag.ContinueOnError)
	common := addCommonFlags(fs)
	appleID := fs.String("apple-id", "", "Apple ID used for notarization (prompted when empty)")
	teamID := fs.String("team-id", "", "Developer team id (defaults to team_id from the config)")
	noValidate := fs.Bool("no-validate", false, "Store without a validation round-trip")
	remove := fs.Bool("remove", false, "Delete the stored credential instead")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: macrelease setup-credentials [options]

Store the notarization identity and app-specific password in the login
keychain under the service "<bundle_id>.release". The password is always read
from the terminal without echo and is never accepted as a flag.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return flagExit(err)
	}

	return finish(os.Stderr, executeSetupCredentials(ctx, common, *appleID, *teamID, *noValidate, *remove))
}

func executeSetupCredentials(ctx context.Context, common *commonFlags, appleID, teamID string, noValidate, remove bool) error {
	a, err := loadApp(common, os.Environ())
	if err != nil {
		return err
	}
	a.settings.WipeSecrets()
	if a.cfg.BundleID == "" {
		return usagef("bundle_id must be set in the config to name the keychain entry")
	}

	store := keychain.NewStore()
	service := a.keychainService()

	if remove {
		if err := keychain.Remove(store, service); err != nil {
			return fmt.Errorf("failed to remove credential: %w", err)
		}
		fmt.Printf("🗑️  Removed credential for %s\n", service)
		return nil
	}

	terminal := prompt.NewTerminal()
	if !terminal.Interactive() {
		return usagef("setup-credentials needs an interactive terminal")
	}

	if appleID == "" {
		appleID = a.cfg.AppleID
	}
	if appleID == "" {
		appleID, err = terminal.ReadLine("Apple ID: ")
		if err != nil {
			return err
		}
	}
	secret, err := terminal.ReadSecret(fmt.Sprintf("App-specific password for %s: ", appleID))
	if err != nil {
		return err
	}

	cred := &entities.Credential{
		Identity:       appleID,
		Secret:         secret,
		OrganizationID: firstNonEmpty(teamID, a.cfg.TeamID),
		Source:         entities.TierInteractivePrompt,
	}
	defer cred.Wipe()
	if !cred.Complete() {
		return &entities.MissingCredentialError{Reason: "both an Apple ID and an app-specific password are required"}
	}

	if !noValidate {
		fmt.Println("🔐 Validating with the notary service...")
		if _, err := services.NewCredentialValidator(a.toolchain().notary).Validate(ctx, cred); err != nil {
			return err
		}
	}

	if err := keychain.Save(store, service, cred); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	fmt.Printf("✅ Stored credential for %s in keychain service %s\n", cred.Identity, service)
	return nil
}
