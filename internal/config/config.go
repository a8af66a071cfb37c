package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/docserve/internal/foundation/errors"
)

// DefaultPath is the configuration file looked up when --config is not given.
const DefaultPath = "docserve.yaml"

// Config represents the application configuration.
type Config struct {
	RootDir        string        `yaml:"root_dir"`
	OutputDir      string        `yaml:"output_dir"`
	IgnorePatterns []string      `yaml:"ignore_patterns,omitempty"`
	OrphanPolicy   OrphanPolicy  `yaml:"orphan_policy"`
	DebounceMS     int           `yaml:"debounce_ms"`
	ServeAddr      string        `yaml:"serve_addr"`
	StrictLinks    bool          `yaml:"strict_links"`
	NavFile        string        `yaml:"nav_file"`
	Template       string        `yaml:"template,omitempty"`
	Workers        int           `yaml:"workers,omitempty"`
	GitInfo        bool          `yaml:"git_info"`
	LiveReload     *bool         `yaml:"live_reload,omitempty"`
	RebuildEvery   time.Duration `yaml:"rebuild_interval,omitempty"`
	Site           SiteConfig    `yaml:"site"`
	History        HistoryConfig `yaml:"history,omitempty"`
	Notify         NotifyConfig  `yaml:"notify,omitempty"`
	Metrics        MetricsConfig `yaml:"metrics,omitempty"`
}

// SiteConfig holds values rendered into every page.
type SiteConfig struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description,omitempty"`
}

// HistoryConfig enables the sqlite build history when Path is set.
type HistoryConfig struct {
	Path string `yaml:"path,omitempty"`
}

// NotifyConfig enables NATS build notifications when NATSURL is set.
type NotifyConfig struct {
	NATSURL string `yaml:"nats_url,omitempty"`
	Subject string `yaml:"subject,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint of the dev server.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Path    string `yaml:"path,omitempty"`
}

// Debounce returns the watch debounce window.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

// LiveReloadEnabled reports whether served HTML gets the reload script.
func (c *Config) LiveReloadEnabled() bool {
	return c.LiveReload == nil || *c.LiveReload
}

// MetricsEnabled reports whether /metrics is exposed.
func (c *Config) MetricsEnabled() bool {
	return c.Metrics.Enabled == nil || *c.Metrics.Enabled
}

// Load loads, normalizes and validates configuration from the specified file.
func Load(configPath string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ferrors.ConfigError("configuration file not found").
				WithContext("path", configPath).
				Build()
		}
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "read config file").
			Fatal().
			WithContext("path", configPath).
			Build()
	}
	return Parse(data)
}

// LoadOrDefault behaves like Load but falls back to defaults when configPath is the
// implicit default and no such file exists.
func LoadOrDefault(configPath string) (*Config, error) {
	if configPath == DefaultPath {
		if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
			loadEnvFiles()
			cfg := Default()
			return cfg, cfg.Validate()
		}
	}
	return Load(configPath)
}

// Parse decodes YAML configuration after expanding environment variables.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "unmarshal config").Fatal().Build()
	}
	if _, err := Normalize(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Init creates a new configuration file with starter content.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return ferrors.ConfigError(fmt.Sprintf("configuration file already exists: %s (use --force to overwrite)", configPath)).Build()
	}

	starter := Default()
	starter.IgnorePatterns = []string{"drafts/**", "*.tmp"}
	starter.Workers = 0
	starter.Site.Description = "Project documentation"

	data, err := yaml.Marshal(starter)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "write config file").
			WithContext("path", configPath).
			Build()
	}
	return nil
}
