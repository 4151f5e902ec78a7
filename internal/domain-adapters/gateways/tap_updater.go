package gateways

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

var (
	caskVersionLine = regexp.MustCompile(`(?m)^(\s*version\s+)"[^"]*"`)
	caskSHA256Line  = regexp.MustCompile(`(?m)^(\s*sha256\s+)(?:"[^"]*"|:no_check)`)
)

// TapUpdater rewrites the version and checksum stanzas of a cask file
type TapUpdater struct{}

// NewTapUpdater creates a tap updater
func NewTapUpdater() *TapUpdater {
	return &TapUpdater{}
}

// UpdateCask sets version and sha256 in the cask at path. It reports whether
// the file changed; everything else in the file is left untouched.
func (u *TapUpdater) UpdateCask(path, version, sha256 string) (bool, error) {
	//nolint:gosec // G304: cask path comes from the project configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("failed to read cask: %w", err)
	}

	updated, err := RewriteCask(string(data), version, sha256)
	if err != nil {
		return false, fmt.Errorf("failed to update %s: %w", path, err)
	}
	if updated == string(data) {
		return false, nil
	}

	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		return false, fmt.Errorf("failed to write cask: %w", err)
	}
	return true, nil
}

// RewriteCask replaces the first version and sha256 stanzas in a cask definition
func RewriteCask(cask, version, sha256 string) (string, error) {
	version = strings.TrimPrefix(version, "v")
	if !caskVersionLine.MatchString(cask) {
		return "", fmt.Errorf("cask has no version stanza")
	}
	if !caskSHA256Line.MatchString(cask) {
		return "", fmt.Errorf("cask has no sha256 stanza")
	}

	cask = replaceFirst(caskVersionLine, cask, `${1}"`+version+`"`)
	cask = replaceFirst(caskSHA256Line, cask, `${1}"`+sha256+`"`)
	return cask, nil
}

func replaceFirst(re *regexp.Regexp, s, repl string) string {
	loc := re.FindStringSubmatchIndex(s)
	if loc == nil {
		return s
	}
	var out []byte
	out = re.ExpandString(out, repl, s, loc)
	return s[:loc[0]] + string(out) + s[loc[1]:]
}
