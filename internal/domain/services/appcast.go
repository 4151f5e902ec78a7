package services

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ochairo/macrelease/internal/domain/entities"
	"github.com/ochairo/macrelease/internal/domain/interfaces"
)

// ChecksumCalculator hashes artifact files
type ChecksumCalculator interface {
	CalculateChecksum(filePath string) (string, error)
}

// ArtifactSigner produces a detached, base64 signature over a file
type ArtifactSigner interface {
	Scheme() entities.SignatureScheme
	Sign(filePath string) (string, error)
}

// FeedStore is the update-feed document
type FeedStore interface {
	// HasSignedEntry reports whether any existing entry carries a signature
	HasSignedEntry(ctx context.Context) (bool, error)

	// Upsert replaces the entry for entry.Version or adds it, preserving all others
	Upsert(ctx context.Context, entry *entities.AppcastEntry) error
}

// GenerateRequest describes one appcast entry to produce
type GenerateRequest struct {
	Version         string
	ShortVersion    string
	ArtifactPath    string
	DownloadURL     string
	NotesPath       string         // caller-supplied release notes, overrides the template
	Signer          ArtifactSigner // nil for an unsigned entry
	PublicationDate time.Time
}

// AppcastGenerator computes artifact metadata and emits update-feed entries
type AppcastGenerator struct {
	checksums     ChecksumCalculator
	feed          FeedStore
	clock         interfaces.Clock
	logger        interfaces.Logger
	appName       string
	title         string
	minimumSystem string
}

// AppcastGeneratorConfig holds static feed settings
type AppcastGeneratorConfig struct {
	AppName              string
	Title                string
	MinimumSystemVersion string
}

// NewAppcastGenerator creates a generator
func NewAppcastGenerator(checksums ChecksumCalculator, feed FeedStore, clock interfaces.Clock, logger interfaces.Logger, config AppcastGeneratorConfig) *AppcastGenerator {
	if clock == nil {
		clock = interfaces.RealClock{}
	}
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	return &AppcastGenerator{
		checksums:     checksums,
		feed:          feed,
		clock:         clock,
		logger:        logger,
		appName:       config.AppName,
		title:         config.Title,
		minimumSystem: config.MinimumSystemVersion,
	}
}

// Generate builds the entry for a release without touching the feed document
func (g *AppcastGenerator) Generate(ctx context.Context, req GenerateRequest) (*entities.AppcastEntry, error) {
	if req.Version == "" {
		return nil, fmt.Errorf("version is required")
	}
	info, err := os.Stat(req.ArtifactPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat artifact: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("artifact %s is a directory", req.ArtifactPath)
	}

	checksum, err := g.checksums.CalculateChecksum(req.ArtifactPath)
	if err != nil {
		return nil, fmt.Errorf("failed to checksum artifact: %w", err)
	}

	entry := &entities.AppcastEntry{
		Version:              req.Version,
		ShortVersion:         req.ShortVersion,
		Title:                g.entryTitle(req.Version),
		DownloadURL:          req.DownloadURL,
		FileSizeBytes:        info.Size(),
		Checksum:             checksum,
		PublicationDate:      req.PublicationDate,
		MinimumSystemVersion: g.minimumSystem,
	}
	if entry.ShortVersion == "" {
		entry.ShortVersion = req.Version
	}
	if entry.PublicationDate.IsZero() {
		entry.PublicationDate = g.clock.Now().UTC()
	}

	if req.Signer != nil {
		signature, err := req.Signer.Sign(req.ArtifactPath)
		if err != nil {
			return nil, fmt.Errorf("failed to sign artifact with %s key: %w", req.Signer.Scheme(), err)
		}
		entry.Signature = &entities.EntrySignature{Scheme: req.Signer.Scheme(), Value: signature}
	} else {
		g.logger.Warn("no signing key supplied, appcast entry will be unsigned",
			interfaces.F("version", req.Version))
	}

	notes, err := g.releaseNotes(ctx, req, entry)
	if err != nil {
		return nil, err
	}
	entry.ReleaseNotesHTML = notes

	return entry, nil
}

// GenerateAndUpsert builds the entry and writes it into the feed document
func (g *AppcastGenerator) GenerateAndUpsert(ctx context.Context, req GenerateRequest) (*entities.AppcastEntry, error) {
	entry, err := g.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := g.feed.Upsert(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to update feed: %w", err)
	}
	return entry, nil
}

func (g *AppcastGenerator) entryTitle(version string) string {
	if g.title != "" {
		return strings.ReplaceAll(g.title, "{version}", version)
	}
	if g.appName != "" {
		return fmt.Sprintf("%s %s", g.appName, version)
	}
	return "Version " + version
}

var (
	firstSignedNotes = template.Must(template.New("first").Parse(
		`<h2>{{.App}} {{.Version}}</h2>
<p>This is the first release of {{.App}} delivered with signed updates.
Future updates will be verified before they are installed.</p>
`))
	routineNotes = template.Must(template.New("routine").Parse(
		`<h2>{{.App}} {{.Version}}</h2>
<p>Bug fixes and improvements.</p>
`))
)

func (g *AppcastGenerator) releaseNotes(ctx context.Context, req GenerateRequest, entry *entities.AppcastEntry) (string, error) {
	if req.NotesPath != "" {
		//nolint:gosec // G304: notes path is supplied by the operator
		data, err := os.ReadFile(req.NotesPath)
		if err != nil {
			return "", fmt.Errorf("failed to read release notes %s: %w", filepath.Base(req.NotesPath), err)
		}
		return string(data), nil
	}

	tmpl := routineNotes
	if entry.Signed() {
		hadSigned, err := g.feed.HasSignedEntry(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to read feed: %w", err)
		}
		if !hadSigned {
			tmpl = firstSignedNotes
		}
	}

	app := g.appName
	if app == "" {
		app = "This app"
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, struct{ App, Version string }{App: app, Version: entry.ShortVersion}); err != nil {
		return "", fmt.Errorf("failed to render release notes: %w", err)
	}
	return buf.String(), nil
}
