// Package config handles loading, parsing, and validating the YAML
// configuration for the monitor, with environment variable overrides for
// secrets.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/beamkit/mixer-go/internal/rest"
)

// Config is the full monitor configuration.
type Config struct {
	// BaseURL is the API root. Defaults to the production endpoint.
	BaseURL string `yaml:"base_url"`
	// ConstellationURL overrides the constellation endpoint when set.
	ConstellationURL string `yaml:"constellation_url"`

	// Channels are the channel tokens to watch.
	Channels []string `yaml:"channels"`
	// Chat joins the first channel's chat when true.
	Chat bool `yaml:"chat"`

	Auth AuthConfig `yaml:"auth"`
	Log  LogConfig  `yaml:"log"`
}

// AuthConfig holds login credentials. Prefer the MIXER_USERNAME and
// MIXER_PASSWORD environment variables over writing secrets to the file.
type AuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// CredentialsFile is the JSON file credentials persist to.
	CredentialsFile string `yaml:"credentials_file"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

// Load reads a Config from a YAML file, applies defaults, and overlays
// environment variables for secrets.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = rest.DefaultBaseURL
	}
	if cfg.Auth.CredentialsFile == "" {
		cfg.Auth.CredentialsFile = "credentials.json"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "INFO"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIXER_USERNAME"); v != "" {
		cfg.Auth.Username = v
	}
	if v := os.Getenv("MIXER_PASSWORD"); v != "" {
		cfg.Auth.Password = v
	}
	if v := os.Getenv("MIXER_API_URL"); v != "" {
		cfg.BaseURL = v
	}
}

// Validate checks the configuration for common errors.
func Validate(cfg *Config) error {
	if len(cfg.Channels) == 0 {
		return fmt.Errorf("at least one channel must be configured")
	}
	for i, ch := range cfg.Channels {
		if ch == "" {
			return fmt.Errorf("channel at index %d is empty", i)
		}
	}
	if cfg.Auth.Password != "" && cfg.Auth.Username == "" {
		return fmt.Errorf("password configured without a username")
	}
	return nil
}
