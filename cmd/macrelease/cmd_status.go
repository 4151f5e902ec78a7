package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ochairo/macrelease/internal/domain/entities"
	"github.com/ochairo/macrelease/internal/domain/interfaces/repositories"
)

func runStatus(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	common := addCommonFlags(fs)
	noWait := fs.Bool("no-wait", false, "Print the recorded status without polling")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: macrelease status [version] [options]

Show recorded notarization submissions. With a version, resume polling its
submission until it is accepted or rejected.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return flagExit(err)
	}

	if fs.NArg() == 0 {
		return finish(os.Stderr, listSubmissions(ctx, common))
	}
	return finish(os.Stderr, executeStatus(ctx, fs.Arg(0), common, *noWait))
}

func listSubmissions(ctx context.Context, common *commonFlags) error {
	a, err := loadApp(common, os.Environ())
	if err != nil {
		return err
	}

	submissions, err := a.submissions().List(ctx)
	if err != nil {
		return err
	}
	if len(submissions) == 0 {
		fmt.Println("No recorded submissions")
		return nil
	}

	fmt.Printf("📋 %d recorded submission(s):\n", len(submissions))
	for _, s := range submissions {
		fmt.Printf("  %-12s %-12s %s  %s\n", s.Version, s.Status, s.SubmittedAt.Local().Format(time.DateTime), s.SubmissionID)
	}
	return nil
}

func executeStatus(ctx context.Context, version string, common *commonFlags, noWait bool) error {
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

	fmt.Printf("🔍 Submission %s for %s: %s\n", submission.SubmissionID, version, submission.Status)
	if noWait && !submission.Status.IsTerminal() {
		return nil
	}

	tc := a.toolchain()
	resolver := a.credentialResolver()
	a.settings.WipeSecrets()
	cred, err := resolver.Resolve(ctx)
	if err != nil {
		return err
	}
	defer cred.Wipe()

	if !submission.Status.IsTerminal() {
		submission, err = a.notarizer(tc).Poll(ctx, submission, cred)
		if err != nil {
			return err
		}
	}

	switch submission.Status {
	case entities.StatusAccepted:
		fmt.Printf("✅ Accepted. Staple with: macrelease staple %s\n", version)
		return nil
	case entities.StatusInvalid:
		return &entities.RejectedSubmissionError{Submission: submission, Identity: cred.Identity, TeamID: cred.OrganizationID}
	default:
		return fmt.Errorf("submission %s ended in unexpected status %s", submission.SubmissionID, submission.Status)
	}
}
