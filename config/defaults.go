package config

import "time"

const (
	DefaultRetentionDays = 30
	DefaultHistoryLimit  = 20
	DefaultModelCacheTTL = 24 * time.Hour
)

func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		DataDirectory: "~/.local/share/glimpse",
	}
}

func DefaultUserConfig() *UserConfig {
	return &UserConfig{
		DefaultProvider: "ollama",
		RetentionDays:   DefaultRetentionDays,
		HistoryLimit:    DefaultHistoryLimit,
		ModelCacheTTL:   Duration{DefaultModelCacheTTL},
	}
}

func GenerateSystemConfigTemplate() string {
	return `# Glimpse System Configuration
# Location: ~/.config/glimpse/settings.toml
# This file uses TOML format: https://toml.io

# Directory where sessions, provider metadata and user config are stored
data_directory = "~/.local/share/glimpse"
`
}

func GenerateUserConfigTemplate() string {
	return `# Glimpse User Configuration
# Location: <data_directory>/config.toml
# This file uses TOML format: https://toml.io

# Provider used when none is given on the command line
default_provider = "ollama"

# Unsaved conversations older than this many days are removed at startup
retention_days = 30

# Maximum number of earlier turns sent along with a new message
history_limit = 20

# How long a fetched model list is trusted before it is refreshed
model_cache_ttl = "24h"

# Write debug-level entries to <data_directory>/glimpse.log
debug = false

# Per-provider cache TTLs (optional)
# [model_cache_ttl_overrides]
# openrouter = "1h"
`
}

func GenerateProvidersTemplateHeader() string {
	return `# Glimpse Provider Settings
# Location: <data_directory>/providers.toml
# API keys are stored separately in credentials.toml.
#
# [providers.openai]
# model = "gpt-4o-mini"
# base_url = ""
# system_prompt = "You are a concise assistant that explains what is on screen."

`
}
