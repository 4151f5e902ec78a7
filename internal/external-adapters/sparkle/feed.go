// Package sparkle reads and writes Sparkle appcast feeds and signs update archives.
package sparkle

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ochairo/macrelease/internal/domain/entities"
)

// Namespace is the Sparkle XML namespace
const Namespace = "http://www.andymatuschak.org/xml-namespaces/sparkle"

// ChecksumNamespace carries the SHA-256 of each enclosure, which Sparkle itself has no element for
const ChecksumNamespace = "https://github.com/ochairo/macrelease/xml-namespaces/appcast"

// ErrBuildVersionInUse is returned when another release already owns the entry's sparkle:version
var ErrBuildVersionInUse = errors.New("build version already used by another release")

// FeedItem is what an existing feed item says about its release
type FeedItem struct {
	Version      string
	ShortVersion string
	Title        string
	URL          string
	Length       int64
	SHA256       string
	EdSignature  string
	DSASignature string
}

// Signed reports whether the item carries either signature
func (i FeedItem) Signed() bool {
	return i.EdSignature != "" || i.DSASignature != ""
}

type rawEnclosure struct {
	URL          string `xml:"url,attr"`
	Length       string `xml:"length,attr"`
	Version      string `xml:"http://www.andymatuschak.org/xml-namespaces/sparkle version,attr"`
	ShortVersion string `xml:"http://www.andymatuschak.org/xml-namespaces/sparkle shortVersionString,attr"`
	EdSignature  string `xml:"http://www.andymatuschak.org/xml-namespaces/sparkle edSignature,attr"`
	DSASignature string `xml:"http://www.andymatuschak.org/xml-namespaces/sparkle dsaSignature,attr"`
}

type rawItem struct {
	Title        string       `xml:"title"`
	Version      string       `xml:"http://www.andymatuschak.org/xml-namespaces/sparkle version"`
	ShortVersion string       `xml:"http://www.andymatuschak.org/xml-namespaces/sparkle shortVersionString"`
	SHA256       string       `xml:"https://github.com/ochairo/macrelease/xml-namespaces/appcast sha256"`
	Enclosure    rawEnclosure `xml:"enclosure"`
}

// itemSpan locates one <item> element in the original document bytes
type itemSpan struct {
	start, end int64
	item       FeedItem
}

// FeedSettings describe the channel written when a feed is created
type FeedSettings struct {
	Title       string
	Link        string
	Description string
}

// Feed is an appcast file on disk. It implements services.FeedStore.
// Items other than the one being written are preserved byte for byte.
type Feed struct {
	path     string
	settings FeedSettings
}

// NewFeed creates a feed bound to path
func NewFeed(path string, settings FeedSettings) *Feed {
	return &Feed{path: path, settings: settings}
}

// Path returns the feed file location
func (f *Feed) Path() string { return f.path }

// Items returns the feed's items in document order
func (f *Feed) Items() ([]FeedItem, error) {
	data, err := f.read()
	if err != nil || data == nil {
		return nil, err
	}
	spans, _, err := scanItems(data)
	if err != nil {
		return nil, err
	}
	items := make([]FeedItem, 0, len(spans))
	for _, s := range spans {
		items = append(items, s.item)
	}
	return items, nil
}

// HasSignedEntry implements services.FeedStore
func (f *Feed) HasSignedEntry(_ context.Context) (bool, error) {
	items, err := f.Items()
	if err != nil {
		return false, err
	}
	for _, item := range items {
		if item.Signed() {
			return true, nil
		}
	}
	return false, nil
}

// Upsert implements services.FeedStore. An existing item for the release is
// replaced in place; otherwise the new item becomes the first one. Items are
// matched by shortVersionString, falling back to sparkle:version when either
// side lacks one. A new release reusing another release's sparkle:version is
// refused, since Sparkle would never offer it as an update.
func (f *Feed) Upsert(_ context.Context, entry *entities.AppcastEntry) error {
	data, err := f.read()
	if err != nil {
		return err
	}
	if data == nil {
		data = f.skeleton()
	}

	spans, channelEnd, err := scanItems(data)
	if err != nil {
		return err
	}

	idx, err := matchItem(spans, entry)
	if err != nil {
		return fmt.Errorf("failed to add %s to %s: %w", firstNonEmpty(entry.ShortVersion, entry.Version), f.path, err)
	}

	var out []byte
	rendered := []byte(renderItem(entry))
	switch {
	case idx >= 0:
		out = splice(data, spans[idx].start, spans[idx].end, rendered)
	case len(spans) > 0:
		out = splice(data, spans[0].start, spans[0].start, append(rendered, []byte("\n    ")...))
	case channelEnd >= 0:
		out = splice(data, channelEnd, channelEnd, append(append([]byte("  "), rendered...), []byte("\n  ")...))
	default:
		return fmt.Errorf("feed %s has no channel element", f.path)
	}

	return writeAtomic(f.path, out)
}

func (f *Feed) read() ([]byte, error) {
	//nolint:gosec // G304: feed path comes from the project configuration
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read feed: %w", err)
	}
	return data, nil
}

func (f *Feed) skeleton() []byte {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>` + "\n")
	b.WriteString(`<rss version="2.0" xmlns:sparkle="` + Namespace + `" xmlns:dc="http://purl.org/dc/elements/1.1/">` + "\n")
	b.WriteString("  <channel>\n")
	b.WriteString("    <title>" + escape(f.settings.Title) + "</title>\n")
	if f.settings.Link != "" {
		b.WriteString("    <link>" + escape(f.settings.Link) + "</link>\n")
	}
	if f.settings.Description != "" {
		b.WriteString("    <description>" + escape(f.settings.Description) + "</description>\n")
	}
	b.WriteString("    <language>en</language>\n")
	b.WriteString("  </channel>\n")
	b.WriteString("</rss>\n")
	return []byte(b.String())
}

// scanItems returns the byte span of every channel item and the offset of </channel>
func scanItems(data []byte) ([]itemSpan, int64, error) {
	d := xml.NewDecoder(bytes.NewReader(data))
	var spans []itemSpan
	channelEnd := int64(-1)
	depth := 0

	for {
		offset := d.InputOffset()
		tok, err := d.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, -1, fmt.Errorf("failed to parse feed: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "item" && depth == 2 {
				var raw rawItem
				if err := d.DecodeElement(&raw, &t); err != nil {
					return nil, -1, fmt.Errorf("failed to parse feed item: %w", err)
				}
				spans = append(spans, itemSpan{start: offset, end: d.InputOffset(), item: toFeedItem(raw)})
				continue
			}
			depth++
		case xml.EndElement:
			depth--
			if t.Name.Local == "channel" && depth == 1 {
				channelEnd = offset
			}
		}
	}
	return spans, channelEnd, nil
}

func toFeedItem(raw rawItem) FeedItem {
	item := FeedItem{
		Version:      firstNonEmpty(raw.Version, raw.Enclosure.Version),
		ShortVersion: firstNonEmpty(raw.ShortVersion, raw.Enclosure.ShortVersion),
		Title:        strings.TrimSpace(raw.Title),
		URL:          raw.Enclosure.URL,
		SHA256:       strings.TrimSpace(raw.SHA256),
		EdSignature:  raw.Enclosure.EdSignature,
		DSASignature: raw.Enclosure.DSASignature,
	}
	item.Length, _ = strconv.ParseInt(raw.Enclosure.Length, 10, 64)
	return item
}

func renderItem(e *entities.AppcastEntry) string {
	var b strings.Builder
	b.WriteString("<item>\n")
	b.WriteString("      <title>" + escape(e.Title) + "</title>\n")
	b.WriteString("      <pubDate>" + e.PublicationDate.UTC().Format(time.RFC1123Z) + "</pubDate>\n")
	b.WriteString("      <sparkle:version>" + escape(e.Version) + "</sparkle:version>\n")
	b.WriteString("      <sparkle:shortVersionString>" + escape(e.ShortVersion) + "</sparkle:shortVersionString>\n")
	if e.MinimumSystemVersion != "" {
		b.WriteString("      <sparkle:minimumSystemVersion>" + escape(e.MinimumSystemVersion) + "</sparkle:minimumSystemVersion>\n")
	}
	b.WriteString(`      <sha256 xmlns="` + ChecksumNamespace + `">` + escape(e.Checksum) + "</sha256>\n")
	b.WriteString("      <description><![CDATA[" + strings.ReplaceAll(e.ReleaseNotesHTML, "]]>", "]]]]><![CDATA[>") + "]]></description>\n")

	b.WriteString(`      <enclosure url="` + escape(e.DownloadURL) + `" length="` + strconv.FormatInt(e.FileSizeBytes, 10) + `" type="application/octet-stream"`)
	if e.Signed() {
		switch e.Signature.Scheme {
		case entities.SchemeEdDSA:
			b.WriteString(` sparkle:edSignature="` + escape(e.Signature.Value) + `"`)
		case entities.SchemeDSA:
			b.WriteString(` sparkle:dsaSignature="` + escape(e.Signature.Value) + `"`)
		}
	}
	b.WriteString("/>\n")
	b.WriteString("    </item>")
	return b.String()
}

// matchItem returns the index of the item describing the same release as entry, or -1
func matchItem(spans []itemSpan, entry *entities.AppcastEntry) (int, error) {
	match := -1
	for i, s := range spans {
		if sameRelease(s.item, entry) {
			match = i
			break
		}
	}
	for i, s := range spans {
		if i == match || s.item.Version != entry.Version {
			continue
		}
		return -1, fmt.Errorf("%w: sparkle:version %s belongs to %s, bump CFBundleVersion (CURRENT_PROJECT_VERSION)",
			ErrBuildVersionInUse, entry.Version, firstNonEmpty(s.item.ShortVersion, s.item.Title))
	}
	return match, nil
}

func sameRelease(item FeedItem, entry *entities.AppcastEntry) bool {
	if item.ShortVersion != "" && entry.ShortVersion != "" {
		return item.ShortVersion == entry.ShortVersion
	}
	return item.Version == entry.Version
}

func splice(data []byte, start, end int64, insert []byte) []byte {
	out := make([]byte, 0, len(data)+len(insert))
	out = append(out, data[:start]...)
	out = append(out, insert...)
	return append(out, data[end:]...)
}

func escape(s string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create feed directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil { //nolint:gosec // feed is public
		return fmt.Errorf("failed to write feed: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace feed: %w", err)
	}
	return nil
}
