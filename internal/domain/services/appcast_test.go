package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ochairo/macrelease/internal/domain/entities"
)

func writeArtifact(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Widget-1.4.0.zip")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newTestGenerator(feed *memFeed, logger *recordingLogger) *AppcastGenerator {
	return NewAppcastGenerator(sha256Calculator{}, feed, newFakeClock(), logger, AppcastGeneratorConfig{
		AppName:              "Widget",
		MinimumSystemVersion: "12.0",
	})
}

func TestAppcastGenerateIsDeterministic(t *testing.T) {
	artifact := writeArtifact(t, "release payload")
	gen := newTestGenerator(&memFeed{}, &recordingLogger{})
	req := GenerateRequest{Version: "140", ShortVersion: "1.4.0", ArtifactPath: artifact, DownloadURL: "https://example.com/Widget-1.4.0.zip"}

	first, err := gen.Generate(context.Background(), req)
	require.NoError(t, err)
	second, err := gen.Generate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Checksum, second.Checksum)
	assert.Equal(t, int64(len("release payload")), first.FileSizeBytes)
	assert.Len(t, first.Checksum, 64)
	assert.Equal(t, "12.0", first.MinimumSystemVersion)
	assert.Equal(t, "Widget 140", first.Title)
}

func TestAppcastGenerateUnsigned(t *testing.T) {
	logger := &recordingLogger{}
	gen := newTestGenerator(&memFeed{}, logger)

	entry, err := gen.Generate(context.Background(), GenerateRequest{Version: "1.4.0", ArtifactPath: writeArtifact(t, "x")})
	require.NoError(t, err)

	assert.Nil(t, entry.Signature)
	assert.False(t, entry.Signed())
	require.Len(t, logger.warnings, 1)
	assert.Contains(t, logger.warnings[0], "unsigned")
	assert.Contains(t, entry.ReleaseNotesHTML, "Bug fixes")
}

func TestAppcastGenerateSignedNotes(t *testing.T) {
	tests := []struct {
		name        string
		feedSigned  bool
		expectNotes string
	}{
		{name: "first signed release", feedSigned: false, expectNotes: "first release of Widget delivered with signed updates"},
		{name: "routine signed release", feedSigned: true, expectNotes: "Bug fixes and improvements"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := newTestGenerator(&memFeed{hasSigned: tt.feedSigned}, &recordingLogger{})
			entry, err := gen.Generate(context.Background(), GenerateRequest{
				Version:      "1.4.0",
				ArtifactPath: writeArtifact(t, "x"),
				Signer:       fakeSigner{scheme: entities.SchemeEdDSA},
			})
			require.NoError(t, err)

			require.True(t, entry.Signed())
			assert.Equal(t, entities.SchemeEdDSA, entry.Signature.Scheme)
			assert.Contains(t, entry.ReleaseNotesHTML, tt.expectNotes)
		})
	}
}

func TestAppcastGenerateNotesFileOverrides(t *testing.T) {
	notes := filepath.Join(t.TempDir(), "notes.html")
	require.NoError(t, os.WriteFile(notes, []byte("<ul><li>New sync engine</li></ul>"), 0o600))
	gen := newTestGenerator(&memFeed{}, &recordingLogger{})

	entry, err := gen.Generate(context.Background(), GenerateRequest{
		Version:      "1.4.0",
		ArtifactPath: writeArtifact(t, "x"),
		NotesPath:    notes,
		Signer:       fakeSigner{scheme: entities.SchemeDSA},
	})
	require.NoError(t, err)

	assert.Equal(t, "<ul><li>New sync engine</li></ul>", entry.ReleaseNotesHTML)
}

func TestAppcastGenerateErrors(t *testing.T) {
	gen := newTestGenerator(&memFeed{}, &recordingLogger{})

	_, err := gen.Generate(context.Background(), GenerateRequest{Version: "1.4.0", ArtifactPath: filepath.Join(t.TempDir(), "missing.zip")})
	assert.Error(t, err)

	_, err = gen.Generate(context.Background(), GenerateRequest{ArtifactPath: writeArtifact(t, "x")})
	assert.Error(t, err)

	_, err = gen.Generate(context.Background(), GenerateRequest{
		Version:      "1.4.0",
		ArtifactPath: writeArtifact(t, "x"),
		Signer:       fakeSigner{scheme: entities.SchemeEdDSA, err: errors.New("bad key")},
	})
	assert.ErrorContains(t, err, "bad key")
}

func TestAppcastGenerateAndUpsert(t *testing.T) {
	feed := &memFeed{entries: []*entities.AppcastEntry{{Version: "1.3.0"}, {Version: "1.4.0", Title: "old"}}}
	gen := newTestGenerator(feed, &recordingLogger{})
	published := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	entry, err := gen.GenerateAndUpsert(context.Background(), GenerateRequest{
		Version:         "1.4.0",
		ArtifactPath:    writeArtifact(t, "x"),
		PublicationDate: published,
	})
	require.NoError(t, err)

	require.Len(t, feed.entries, 2)
	assert.Same(t, entry, feed.entries[1])
	assert.Equal(t, published, entry.PublicationDate)
}
