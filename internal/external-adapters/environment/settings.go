// Package environment reads pipeline settings and the unattended credential
// tier from process environment variables.
package environment

import (
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/ochairo/macrelease/internal/domain/entities"
)

// Settings holds everything the environment may supply. Secret fields are
// only ever handed to the components that need them and are never logged.
type Settings struct {
	AppleID     string `env:"MACRELEASE_APPLE_ID"`
	AppPassword string `env:"MACRELEASE_APP_PASSWORD"`
	TeamID      string `env:"MACRELEASE_TEAM_ID"`

	ConfigFile string `env:"MACRELEASE_CONFIG" envDefault:".macrelease.yml"`
	WorkDir    string `env:"MACRELEASE_WORK_DIR"`
	LogLevel   string `env:"MACRELEASE_LOG_LEVEL" envDefault:"info"`

	PollTimeout  time.Duration `env:"MACRELEASE_POLL_TIMEOUT"`
	PollInterval time.Duration `env:"MACRELEASE_POLL_INTERVAL"`

	EdKeyFile     string `env:"MACRELEASE_ED_KEY_FILE"`
	DSAKeyFile    string `env:"MACRELEASE_DSA_KEY_FILE"`
	PGPKeyFile    string `env:"MACRELEASE_PGP_KEY_FILE"`
	PGPPassphrase string `env:"MACRELEASE_PGP_PASSPHRASE"`

	GitHubToken string `env:"GITHUB_TOKEN"`
	GitToken    string `env:"MACRELEASE_GIT_TOKEN"`
	S3Bucket    string `env:"MACRELEASE_S3_BUCKET"`

	NonInteractive bool `env:"CI"`
}

// Parse reads Settings from environ (os.Environ() form)
func Parse(environ []string) (*Settings, error) {
	var s Settings

	err := env.ParseWithOptions(&s, env.Options{
		Environment: env.ToMap(environ),
	})
	if err != nil {
		return nil, err
	}

	return &s, nil
}

// Apply overlays environment overrides onto the file configuration
func (s *Settings) Apply(cfg *entities.ReleaseConfig) {
	if s.TeamID != "" {
		cfg.TeamID = s.TeamID
	}
	if s.WorkDir != "" {
		cfg.WorkDir = s.WorkDir
	}
	if s.S3Bucket != "" {
		cfg.Publish.S3Bucket = s.S3Bucket
	}
	if s.PollTimeout > 0 {
		cfg.Notarize.Timeout = s.PollTimeout
	}
	if s.PollInterval > 0 {
		cfg.Notarize.PollInterval = s.PollInterval
	}
}

// WipeSecrets drops secret values once they have been handed off
func (s *Settings) WipeSecrets() {
	s.AppPassword = ""
	s.PGPPassphrase = ""
}
