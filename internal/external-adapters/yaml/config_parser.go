// Package yaml loads the project release configuration and persists
// notarization submission records as YAML files.
package yaml

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ochairo/macrelease/internal/domain/entities"
)

// DefaultConfigFile is the untracked per-project settings file
const DefaultConfigFile = ".macrelease.yml"

// ErrConfigNotFound is returned when the config file does not exist
var ErrConfigNotFound = errors.New("config file not found")

// secretKeyMarkers identify keys that must never appear in the config file
var secretKeyMarkers = []string{"password", "secret", "token", "passphrase", "private_key"}

// yamlConfig represents the raw YAML structure
type yamlConfig struct {
	AppName         string       `yaml:"app_name"`
	BundleID        string       `yaml:"bundle_id"`
	Project         string       `yaml:"project"`
	Workspace       string       `yaml:"workspace"`
	Scheme          string       `yaml:"scheme"`
	SigningIdentity string       `yaml:"signing_identity"`
	TeamID          string       `yaml:"team_id"`
	AppleID         string       `yaml:"apple_id"`
	WorkDir         string       `yaml:"work_dir"`
	OutputDir       string       `yaml:"output_dir"`
	Notarize        yamlNotarize `yaml:"notarize"`
	Package         yamlPackage  `yaml:"package"`
	Appcast         yamlAppcast  `yaml:"appcast"`
	Publish         yamlPublish  `yaml:"publish"`
}

type yamlNotarize struct {
	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxPollInterval time.Duration `yaml:"max_poll_interval"`
	Timeout         time.Duration `yaml:"timeout"`
	StapleDelay     time.Duration `yaml:"staple_delay"`
}

type yamlPackage struct {
	Zip            *bool  `yaml:"zip"`
	DiskImage      bool   `yaml:"disk_image"`
	VolumeName     string `yaml:"volume_name"`
	IncludeSymbols *bool  `yaml:"include_symbols"`
}

type yamlAppcast struct {
	FeedPath             string `yaml:"feed_path"`
	Title                string `yaml:"title"`
	Link                 string `yaml:"link"`
	DownloadURLTemplate  string `yaml:"download_url_template"`
	MinimumSystemVersion string `yaml:"minimum_system_version"`
	NotesPath            string `yaml:"notes_path"`
}

type yamlPublish struct {
	GitHub struct {
		Owner string `yaml:"owner"`
		Repo  string `yaml:"repo"`
	} `yaml:"github"`
	Git struct {
		Remote string `yaml:"remote"`
		Branch string `yaml:"branch"`
		Author string `yaml:"author"`
		Email  string `yaml:"email"`
	} `yaml:"git"`
	S3 struct {
		Bucket string `yaml:"bucket"`
		Prefix string `yaml:"prefix"`
	} `yaml:"s3"`
	Tap struct {
		Path     string `yaml:"path"`
		CaskFile string `yaml:"cask_file"`
	} `yaml:"tap"`
	SignChecksums bool `yaml:"sign_checksums"`
}

// ConfigParser parses .macrelease.yml files
type ConfigParser struct{}

// NewConfigParser creates a new YAML config parser
func NewConfigParser() *ConfigParser {
	return &ConfigParser{}
}

// ParseFile parses a YAML config file into a ReleaseConfig entity
func (p *ConfigParser) ParseFile(filePath string) (*entities.ReleaseConfig, error) {
	//nolint:gosec // G304: filePath is the project config location
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, filePath)
		}
		return nil, fmt.Errorf("failed to read file %s: %w", filePath, err)
	}

	return p.Parse(data)
}

// Parse parses YAML bytes into a ReleaseConfig entity.
// Keys that look like they carry a secret are rejected outright.
func (p *ConfigParser) Parse(data []byte) (*entities.ReleaseConfig, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := rejectSecretKeys(&root, ""); err != nil {
		return nil, err
	}

	var raw yamlConfig
	if root.Kind != 0 {
		if err := root.Decode(&raw); err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	}

	return convertConfig(raw), nil
}

func rejectSecretKeys(node *yaml.Node, path string) error {
	switch node.Kind {
	case yaml.DocumentNode, yaml.SequenceNode:
		for _, child := range node.Content {
			if err := rejectSecretKeys(child, path); err != nil {
				return err
			}
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i].Value
			full := key
			if path != "" {
				full = path + "." + key
			}
			lower := strings.ToLower(key)
			for _, marker := range secretKeyMarkers {
				if strings.Contains(lower, marker) {
					return fmt.Errorf("config key %q (line %d) looks like a secret; secrets belong in the keychain or environment, never in %s",
						full, node.Content[i].Line, DefaultConfigFile)
				}
			}
			if err := rejectSecretKeys(node.Content[i+1], full); err != nil {
				return err
			}
		}
	}
	return nil
}

func convertConfig(raw yamlConfig) *entities.ReleaseConfig {
	appName := raw.AppName
	if appName == "" {
		appName = raw.Scheme
	}

	return &entities.ReleaseConfig{
		AppName:         appName,
		BundleID:        raw.BundleID,
		Project:         raw.Project,
		Workspace:       raw.Workspace,
		Scheme:          raw.Scheme,
		SigningIdentity: raw.SigningIdentity,
		TeamID:          raw.TeamID,
		AppleID:         raw.AppleID,
		WorkDir:         raw.WorkDir,
		OutputDir:       raw.OutputDir,
		Notarize: entities.NotarizeConfig{
			PollInterval:    raw.Notarize.PollInterval,
			MaxPollInterval: raw.Notarize.MaxPollInterval,
			Timeout:         raw.Notarize.Timeout,
			StapleDelay:     raw.Notarize.StapleDelay,
		},
		Package: convertPackage(raw.Package, appName),
		Appcast: entities.AppcastConfig{
			FeedPath:             raw.Appcast.FeedPath,
			Title:                raw.Appcast.Title,
			Link:                 raw.Appcast.Link,
			DownloadURLTemplate:  raw.Appcast.DownloadURLTemplate,
			MinimumSystemVersion: raw.Appcast.MinimumSystemVersion,
			NotesPath:            raw.Appcast.NotesPath,
		},
		Publish: entities.PublishConfig{
			GitHubOwner:   raw.Publish.GitHub.Owner,
			GitHubRepo:    raw.Publish.GitHub.Repo,
			GitRemote:     defaultString(raw.Publish.Git.Remote, "origin"),
			GitBranch:     raw.Publish.Git.Branch,
			CommitAuthor:  raw.Publish.Git.Author,
			CommitEmail:   raw.Publish.Git.Email,
			S3Bucket:      raw.Publish.S3.Bucket,
			S3Prefix:      raw.Publish.S3.Prefix,
			TapPath:       raw.Publish.Tap.Path,
			TapCaskFile:   raw.Publish.Tap.CaskFile,
			SignChecksums: raw.Publish.SignChecksums,
		},
	}
}

func convertPackage(yp yamlPackage, appName string) entities.PackageConfig {
	return entities.PackageConfig{
		Zip:            yp.Zip == nil || *yp.Zip,
		DiskImage:      yp.DiskImage,
		VolumeName:     defaultString(yp.VolumeName, appName),
		IncludeSymbols: yp.IncludeSymbols == nil || *yp.IncludeSymbols,
	}
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
