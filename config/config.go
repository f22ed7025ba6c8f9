package config

import (
	"fmt"
	"os"
	"time"
)

type SystemConfig struct {
	DataDirectory string `toml:"data_directory"`
}

type UserConfig struct {
	DefaultProvider        string              `toml:"default_provider"`
	RetentionDays          int                 `toml:"retention_days"`
	HistoryLimit           int                 `toml:"history_limit"`
	ModelCacheTTL          Duration            `toml:"model_cache_ttl"`
	ModelCacheTTLOverrides map[string]Duration `toml:"model_cache_ttl_overrides,omitempty"`
	Debug                  bool                `toml:"debug"`
}

type Config struct {
	DataDirectory          string
	DefaultProvider        string
	RetentionDays          int
	HistoryLimit           int
	ModelCacheTTL          time.Duration
	ModelCacheTTLOverrides map[string]time.Duration
	Debug                  bool
}

// Duration is a time.Duration that reads and writes as "24h" style text in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func (c *Config) DataDir() string {
	return ExpandPath(c.DataDirectory)
}

// TTLFor returns the model cache TTL for a provider.
func (c *Config) TTLFor(providerID string) time.Duration {
	if ttl, ok := c.ModelCacheTTLOverrides[providerID]; ok && ttl > 0 {
		return ttl
	}
	return c.ModelCacheTTL
}

func (c *Config) applyUserConfig(u *UserConfig) {
	c.DefaultProvider = u.DefaultProvider
	if u.RetentionDays > 0 {
		c.RetentionDays = u.RetentionDays
	}
	if u.HistoryLimit > 0 {
		c.HistoryLimit = u.HistoryLimit
	}
	if u.ModelCacheTTL.Duration > 0 {
		c.ModelCacheTTL = u.ModelCacheTTL.Duration
	}
	if len(u.ModelCacheTTLOverrides) > 0 {
		c.ModelCacheTTLOverrides = make(map[string]time.Duration, len(u.ModelCacheTTLOverrides))
		for id, d := range u.ModelCacheTTLOverrides {
			c.ModelCacheTTLOverrides[id] = d.Duration
		}
	}
	c.Debug = u.Debug
}

func (c *Config) applyEnvOverrides() {
	if provider := os.Getenv("GLIMPSE_DEFAULT_PROVIDER"); provider != "" {
		c.DefaultProvider = provider
	}
	if CheckDebug() {
		c.Debug = true
	}
}

// CheckDebug reports whether GLIMPSE_DEBUG enables debug logging.
func CheckDebug() bool {
	debug := os.Getenv("GLIMPSE_DEBUG")
	return debug == "true" || debug == "1"
}

// Load reads settings.toml and <data_dir>/config.toml, creating commented
// templates on first run, then applies environment overrides.
func Load() (*Config, error) {
	cfg := defaultConfig()

	systemCfg, err := LoadSystemConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load system config: %w", err)
	}
	cfg.DataDirectory = systemCfg.DataDirectory
	if dataDir := os.Getenv("GLIMPSE_DATA_DIR"); dataDir != "" {
		cfg.DataDirectory = dataDir
	}

	dataDir := cfg.DataDir()
	if err := EnsureDataDirPermissions(dataDir); err != nil {
		return nil, fmt.Errorf("failed to set data directory permissions: %w", err)
	}

	userCfg, err := LoadUserConfig(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	}
	cfg.applyUserConfig(userCfg)
	cfg.applyEnvOverrides()

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		DataDirectory: DefaultSystemConfig().DataDirectory,
		RetentionDays: DefaultRetentionDays,
		HistoryLimit:  DefaultHistoryLimit,
		ModelCacheTTL: DefaultModelCacheTTL,
	}
}
