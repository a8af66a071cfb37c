package config

import "runtime"

const (
	DefaultRootDir      = "docs"
	DefaultOutputDir    = "site"
	DefaultDebounceMS   = 100
	DefaultServeAddr    = "127.0.0.1:1316"
	DefaultNavFile      = "nav.yaml"
	DefaultSiteTitle    = "Documentation"
	DefaultNotifySubj   = "docserve.builds"
	DefaultMetricsPath  = "/metrics"
	DefaultOrphanPolicy = OrphanWarn
)

// Default returns a configuration with every field at its default value.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.RootDir == "" {
		cfg.RootDir = DefaultRootDir
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = DefaultOutputDir
	}
	if cfg.OrphanPolicy == "" {
		cfg.OrphanPolicy = DefaultOrphanPolicy
	}
	// debounce_ms: 0 is treated as unset; negative values are rejected by validation.
	if cfg.DebounceMS == 0 {
		cfg.DebounceMS = DefaultDebounceMS
	}
	if cfg.ServeAddr == "" {
		cfg.ServeAddr = DefaultServeAddr
	}
	if cfg.NavFile == "" {
		cfg.NavFile = DefaultNavFile
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Site.Title == "" {
		cfg.Site.Title = DefaultSiteTitle
	}
	if cfg.Notify.Subject == "" {
		cfg.Notify.Subject = DefaultNotifySubj
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
}
