package entities

import "time"

// SignatureScheme names the update-feed signing algorithm
type SignatureScheme string

// Supported appcast signature schemes
const (
	SchemeEdDSA SignatureScheme = "eddsa"
	SchemeDSA   SignatureScheme = "dsa"
)

// EntrySignature is a detached signature over the release artifact
type EntrySignature struct {
	Scheme SignatureScheme
	Value  string // base64
}

// AppcastEntry is one immutable item of the update feed
type AppcastEntry struct {
	Version              string
	ShortVersion         string
	Title                string
	DownloadURL          string
	FileSizeBytes        int64
	Checksum             string // hex sha256
	Signature            *EntrySignature
	ReleaseNotesHTML     string
	PublicationDate      time.Time
	MinimumSystemVersion string
}

// Signed reports whether the entry carries a signature
func (e *AppcastEntry) Signed() bool {
	return e.Signature != nil && e.Signature.Value != ""
}
