package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models quorumline.yml.
type Config struct {
	Limits struct {
		// MaxParticipants caps the roster size of a single collaboration.
		MaxParticipants int `yaml:"max_participants" json:"max_participants"`
	} `yaml:"limits" json:"limits"`
	Decision struct {
		// TimeoutMS bounds vote collection for a single decision round.
		TimeoutMS int `yaml:"timeout_ms" json:"timeout_ms"`
		// DefaultStrategy is used when a coordination strategy carries no
		// explicit decision mode.
		DefaultStrategy string `yaml:"default_strategy" json:"default_strategy"`
	} `yaml:"decision" json:"decision"`
	Auth struct {
		JWTSecret              string `yaml:"jwt_secret" json:"jwt_secret,omitempty"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header" json:"allow_legacy_actor_header"`
	} `yaml:"auth" json:"auth"`
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks,omitempty"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Secret         string   `yaml:"secret" json:"secret,omitempty"`
	Events         []string `yaml:"events" json:"events,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
}

var decisionStrategies = map[string]bool{
	"simple_voting":   true,
	"weighted_voting": true,
	"consensus":       true,
	"delegation":      true,
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Limits.MaxParticipants < 2 {
		return fmt.Errorf("config.limits.max_participants must be at least 2")
	}
	if c.Decision.TimeoutMS <= 0 {
		return fmt.Errorf("config.decision.timeout_ms must be positive")
	}
	if c.Decision.DefaultStrategy != "" && !decisionStrategies[c.Decision.DefaultStrategy] {
		return fmt.Errorf("config.decision.default_strategy %s is not a known strategy", c.Decision.DefaultStrategy)
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "quorumline.yml")
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	cfg.Limits.MaxParticipants = 100
	cfg.Decision.TimeoutMS = 30000
	cfg.Decision.DefaultStrategy = "simple_voting"
	cfg.Auth.AllowLegacyActorHeader = true
	return &cfg
}

// Load reads and validates config from the workspace, falling back to
// defaults when quorumline.yml does not exist.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes. Unset limits
// fall back to defaults before validation.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if cfg.Limits.MaxParticipants == 0 {
		cfg.Limits.MaxParticipants = 100
	}
	if cfg.Decision.TimeoutMS == 0 {
		cfg.Decision.TimeoutMS = 30000
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}
