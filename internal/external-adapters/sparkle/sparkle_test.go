package sparkle

import (
	"context"
	"crypto/dsa" //nolint:staticcheck // legacy scheme under test
	"crypto/ed25519"
	"crypto/rand"
	"encoding/asn1"
	"encoding/base64"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ochairo/macrelease/internal/domain/entities"
)

const existingFeed = `<?xml version="1.0" encoding="utf-8"?>
<rss version="2.0" xmlns:sparkle="http://www.andymatuschak.org/xml-namespaces/sparkle">
  <channel>
    <title>Widget Changelog</title>
    <item>
      <title>Version 1.3.0</title>
      <!-- hand edited -->
      <sparkle:version>1.3.0</sparkle:version>
      <description><![CDATA[<p>Old notes</p>]]></description>
      <enclosure url="https://example.com/Widget-1.3.0.zip" length="42" type="application/octet-stream" sparkle:edSignature="b2xk"/>
    </item>
    <item>
      <title>Version 1.2.0</title>
      <enclosure url="https://example.com/Widget-1.2.0.zip" length="40" sparkle:version="1.2.0" type="application/octet-stream"/>
    </item>
  </channel>
</rss>
`

var oldItem = existingFeed[strings.Index(existingFeed, "<item>") : strings.Index(existingFeed, "</item>")+len("</item>")]

func testEntry(version string) *entities.AppcastEntry {
	return &entities.AppcastEntry{
		Version:              version,
		ShortVersion:         version,
		Title:                "Widget " + version,
		DownloadURL:          "https://example.com/Widget-" + version + ".zip?a=1&b=2",
		FileSizeBytes:        1024,
		Checksum:             strings.Repeat("ab", 32),
		ReleaseNotesHTML:     "<p>Bug fixes</p>",
		PublicationDate:      time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
		MinimumSystemVersion: "12.0",
	}
}

func writeFeed(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "appcast.xml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFeedUpsertCreatesMissingFeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "site", "appcast.xml")
	feed := NewFeed(path, FeedSettings{Title: "Widget & Co", Link: "https://example.com"})

	require.NoError(t, feed.Upsert(context.Background(), testEntry("1.4.0")))

	items, err := feed.Items()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "1.4.0", items[0].Version)
	assert.Equal(t, "https://example.com/Widget-1.4.0.zip?a=1&b=2", items[0].URL)
	assert.Equal(t, int64(1024), items[0].Length)
	assert.Equal(t, strings.Repeat("ab", 32), items[0].SHA256)
	assert.False(t, items[0].Signed())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<title>Widget &amp; Co</title>")
	assert.Contains(t, string(data), "Sat, 01 Jun 2024 10:00:00 +0000")
	assert.NotContains(t, string(data), "Signature=")
}

func TestFeedUpsertPreservesExistingItems(t *testing.T) {
	path := writeFeed(t, existingFeed)
	feed := NewFeed(path, FeedSettings{})

	entry := testEntry("1.4.0")
	entry.Signature = &entities.EntrySignature{Scheme: entities.SchemeEdDSA, Value: "c2ln"}
	require.NoError(t, feed.Upsert(context.Background(), entry))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), oldItem)
	assert.Contains(t, string(data), `sparkle:edSignature="c2ln"`)

	items, err := feed.Items()
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, []string{"1.4.0", "1.3.0", "1.2.0"}, []string{items[0].Version, items[1].Version, items[2].Version})
	assert.Equal(t, "b2xk", items[1].EdSignature)
}

func TestFeedUpsertReplacesSameVersion(t *testing.T) {
	path := writeFeed(t, existingFeed)
	feed := NewFeed(path, FeedSettings{})

	first := testEntry("1.2.0")
	require.NoError(t, feed.Upsert(context.Background(), first))
	second := testEntry("1.2.0")
	second.Title = "Widget 1.2.0 (rebuilt)"
	second.Signature = &entities.EntrySignature{Scheme: entities.SchemeDSA, Value: "ZHNh"}
	require.NoError(t, feed.Upsert(context.Background(), second))

	items, err := feed.Items()
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "1.3.0", items[0].Version)
	assert.Equal(t, "Widget 1.2.0 (rebuilt)", items[1].Title)
	assert.Equal(t, "ZHNh", items[1].DSASignature)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), oldItem)
}

func buildEntry(short, build string) *entities.AppcastEntry {
	e := testEntry(short)
	e.Version = build
	return e
}

func TestFeedUpsertMatchesByShortVersion(t *testing.T) {
	feed := NewFeed(filepath.Join(t.TempDir(), "appcast.xml"), FeedSettings{Title: "Widget"})

	require.NoError(t, feed.Upsert(context.Background(), buildEntry("1.4.0", "140")))
	require.NoError(t, feed.Upsert(context.Background(), buildEntry("1.5.0", "150")))
	require.NoError(t, feed.Upsert(context.Background(), buildEntry("1.5.0", "151")))

	items, err := feed.Items()
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "1.5.0", items[0].ShortVersion)
	assert.Equal(t, "151", items[0].Version)
	assert.Equal(t, "1.4.0", items[1].ShortVersion)
}

func TestFeedUpsertRefusesReusedBuildVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "appcast.xml")
	feed := NewFeed(path, FeedSettings{Title: "Widget"})
	require.NoError(t, feed.Upsert(context.Background(), buildEntry("1.4.0", "140")))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	err = feed.Upsert(context.Background(), buildEntry("1.5.0", "140"))

	require.ErrorIs(t, err, ErrBuildVersionInUse)
	assert.Contains(t, err.Error(), "belongs to 1.4.0")
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestFeedHasSignedEntry(t *testing.T) {
	signed, err := NewFeed(writeFeed(t, existingFeed), FeedSettings{}).HasSignedEntry(context.Background())
	require.NoError(t, err)
	assert.True(t, signed)

	feed := NewFeed(filepath.Join(t.TempDir(), "appcast.xml"), FeedSettings{})
	signed, err = feed.HasSignedEntry(context.Background())
	require.NoError(t, err)
	assert.False(t, signed)

	require.NoError(t, feed.Upsert(context.Background(), testEntry("1.0.0")))
	signed, err = feed.HasSignedEntry(context.Background())
	require.NoError(t, err)
	assert.False(t, signed)
}

func TestFeedUpsertEscapesReleaseNotes(t *testing.T) {
	feed := NewFeed(filepath.Join(t.TempDir(), "appcast.xml"), FeedSettings{})
	entry := testEntry("1.4.0")
	entry.ReleaseNotesHTML = "<p>a ]]> b</p>"

	require.NoError(t, feed.Upsert(context.Background(), entry))

	items, err := feed.Items()
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestFeedRejectsMalformedDocument(t *testing.T) {
	feed := NewFeed(writeFeed(t, "<rss><channel><item>"), FeedSettings{})

	assert.Error(t, feed.Upsert(context.Background(), testEntry("1.4.0")))
	_, err := feed.Items()
	assert.Error(t, err)
}

func writeArtifact(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Widget-1.4.0.zip")
	require.NoError(t, os.WriteFile(path, []byte("release payload"), 0o600))
	return path
}

func TestEdSigner(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	artifact := writeArtifact(t)

	for name, encoded := range map[string]string{
		"seed":        base64.StdEncoding.EncodeToString(priv.Seed()),
		"private key": base64.StdEncoding.EncodeToString(priv),
	} {
		t.Run(name, func(t *testing.T) {
			signer, err := NewEdSigner(encoded)
			require.NoError(t, err)
			assert.Equal(t, entities.SchemeEdDSA, signer.Scheme())

			sig, err := signer.Sign(artifact)
			require.NoError(t, err)
			require.NoError(t, VerifyEd(signer.PublicKey(), artifact, sig))

			require.NoError(t, os.WriteFile(artifact, []byte("tampered"), 0o600))
			assert.Error(t, VerifyEd(signer.PublicKey(), artifact, sig))
			require.NoError(t, os.WriteFile(artifact, []byte("release payload"), 0o600))
		})
	}

	_, err = NewEdSigner("not base64!")
	assert.Error(t, err)
	_, err = NewEdSigner(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.ErrorContains(t, err, "expected 32 or 64")
}

func TestDSASigner(t *testing.T) {
	var key dsa.PrivateKey
	require.NoError(t, dsa.GenerateParameters(&key.Parameters, rand.Reader, dsa.L1024N160))
	require.NoError(t, dsa.GenerateKey(&key, rand.Reader))

	der, err := asn1.Marshal(dsaKeyASN1{P: key.P, Q: key.Q, G: key.G, Y: key.Y, X: key.X})
	require.NoError(t, err)
	keyFile := filepath.Join(t.TempDir(), "dsa_priv.pem")
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "DSA PRIVATE KEY", Bytes: der}), 0o600))

	signer, err := NewDSASignerFromFile(keyFile)
	require.NoError(t, err)
	assert.Equal(t, entities.SchemeDSA, signer.Scheme())

	artifact := writeArtifact(t)
	sig, err := signer.Sign(artifact)
	require.NoError(t, err)
	require.NoError(t, signer.verify(artifact, sig))

	require.NoError(t, os.WriteFile(artifact, []byte("tampered"), 0o600))
	assert.Error(t, signer.verify(artifact, sig))

	_, err = NewDSASigner([]byte("-----BEGIN PUBLIC KEY-----\nAAAA\n-----END PUBLIC KEY-----\n"))
	assert.Error(t, err)
}

func TestSelectSigner(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	edKey := filepath.Join(t.TempDir(), "ed_priv")
	require.NoError(t, os.WriteFile(edKey, []byte(base64.StdEncoding.EncodeToString(priv.Seed())+"\n"), 0o600))

	signer, err := SelectSigner("", "")
	require.NoError(t, err)
	assert.Nil(t, signer)

	signer, err = SelectSigner(edKey, "")
	require.NoError(t, err)
	assert.Equal(t, entities.SchemeEdDSA, signer.Scheme())

	_, err = SelectSigner(edKey, "/keys/dsa_priv.pem")
	assert.ErrorIs(t, err, ErrMultipleSigningKeys)

	_, err = SelectSigner(filepath.Join(t.TempDir(), "missing"), "")
	assert.Error(t, err)
}
