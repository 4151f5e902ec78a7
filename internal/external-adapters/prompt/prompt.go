// Package prompt reads credentials interactively with masked input.
package prompt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/ochairo/macrelease/internal/domain/entities"
	"github.com/ochairo/macrelease/internal/domain/services"
)

// Terminal reads lines and masked secrets from a terminal
type Terminal struct {
	fd           int
	in           *bufio.Reader
	out          io.Writer
	isTerminal   func(fd int) bool
	readPassword func(fd int) ([]byte, error)
}

// NewTerminal creates a terminal reader on stdin, prompting on stderr
func NewTerminal() *Terminal {
	return &Terminal{
		fd:           int(os.Stdin.Fd()),
		in:           bufio.NewReader(os.Stdin),
		out:          os.Stderr,
		isTerminal:   term.IsTerminal,
		readPassword: term.ReadPassword,
	}
}

// Interactive reports whether input comes from a terminal
func (t *Terminal) Interactive() bool {
	return t.isTerminal(t.fd)
}

// ReadLine prompts and reads a visible line
func (t *Terminal) ReadLine(label string) (string, error) {
	fmt.Fprint(t.out, label)
	line, err := t.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// ReadSecret prompts and reads without echo
func (t *Terminal) ReadSecret(label string) (string, error) {
	fmt.Fprint(t.out, label)
	b, err := t.readPassword(t.fd)
	fmt.Fprintln(t.out)
	if err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// Source is the last-resort interactive credential tier. It only asks for the
// secret, pairing it with an identity already supplied by the config file or
// the environment.
type Source struct {
	terminal   *Terminal
	identities []services.IdentitySource
	disabled   bool
}

// NewSource creates the tier. Identity sources are consulted in order;
// disabled turns the tier off for unattended runs.
func NewSource(terminal *Terminal, disabled bool, identities ...services.IdentitySource) *Source {
	return &Source{terminal: terminal, identities: identities, disabled: disabled}
}

// Tier implements services.CredentialSource
func (s *Source) Tier() entities.CredentialTier { return entities.TierInteractivePrompt }

// Lookup implements services.CredentialSource
func (s *Source) Lookup(ctx context.Context) (*entities.Credential, error) {
	if s.disabled || !s.terminal.Interactive() {
		return nil, services.ErrSourceEmpty
	}

	identity := ""
	for _, src := range s.identities {
		if id := src.Identity(); id != "" {
			identity = id
			break
		}
	}
	if identity == "" {
		return nil, services.ErrSourceEmpty
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	secret, err := s.terminal.ReadSecret(fmt.Sprintf("App-specific password for %s: ", identity))
	if err != nil {
		return nil, err
	}
	if secret == "" {
		return nil, services.ErrSourceEmpty
	}
	return &entities.Credential{Identity: identity, Secret: secret}, nil
}
