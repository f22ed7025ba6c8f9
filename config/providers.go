package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// ProviderConfig is the user's configuration for one provider. APIKey is
// filled from the CredentialStore and never written to providers.toml.
type ProviderConfig struct {
	APIKey       string `toml:"-"`
	Model        string `toml:"model,omitempty"`
	BaseURL      string `toml:"base_url,omitempty"`
	SystemPrompt string `toml:"system_prompt,omitempty"`
}

type providersFile struct {
	Providers map[string]ProviderConfig `toml:"providers"`
}

// ProviderSettings is the file-backed store of per-provider configuration
// (<data_dir>/providers.toml), keyed by lower-case provider id.
type ProviderSettings struct {
	mu        sync.RWMutex
	path      string
	providers map[string]ProviderConfig
	creds     *CredentialStore
}

// LoadProviderSettings reads providers.toml. A missing file yields an empty
// store; call Seed to write first-run defaults.
func LoadProviderSettings(dataDir string, creds *CredentialStore) (*ProviderSettings, error) {
	s := &ProviderSettings{
		path:      filepath.Join(dataDir, "providers.toml"),
		providers: make(map[string]ProviderConfig),
		creds:     creds,
	}

	if !FileExists(s.path) {
		return s, nil
	}

	var pf providersFile
	if _, err := toml.DecodeFile(s.path, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse provider settings: %w", err)
	}
	for id, pc := range pf.Providers {
		s.providers[strings.ToLower(id)] = pc
	}

	return s, nil
}

// Get returns the configuration for a provider with its API key attached.
func (s *ProviderSettings) Get(providerID string) ProviderConfig {
	id := strings.ToLower(providerID)

	s.mu.RLock()
	pc := s.providers[id]
	s.mu.RUnlock()

	if s.creds != nil {
		pc.APIKey = s.creds.Get(id)
	}
	return pc
}

// Seed writes defaults for providers the file does not mention yet. It is a
// no-op once providers.toml exists.
func (s *ProviderSettings) Seed(defaults map[string]ProviderConfig) error {
	if FileExists(s.path) {
		return nil
	}

	s.mu.Lock()
	for id, pc := range defaults {
		id = strings.ToLower(id)
		if _, ok := s.providers[id]; !ok {
			pc.APIKey = ""
			s.providers[id] = pc
		}
	}
	s.mu.Unlock()

	return s.save()
}

// UpdateProviderField updates a single provider configuration field.
//
// Fields: "model", "base_url", "system_prompt", "apikey". API keys go to the
// credential store, everything else to providers.toml.
func (s *ProviderSettings) UpdateProviderField(providerID, fieldName, value string) error {
	id := strings.ToLower(providerID)

	if fieldName == "apikey" {
		if s.creds == nil {
			return fmt.Errorf("no credential store configured")
		}
		if value == "" {
			s.creds.Delete(id)
		} else {
			s.creds.Set(id, value)
		}
		if err := s.creds.Save(); err != nil {
			return fmt.Errorf("failed to persist credentials: %w", err)
		}
		return nil
	}

	s.mu.Lock()
	pc := s.providers[id]
	switch fieldName {
	case "model":
		pc.Model = value
	case "base_url":
		pc.BaseURL = value
	case "system_prompt":
		pc.SystemPrompt = value
	default:
		s.mu.Unlock()
		return fmt.Errorf("unknown field for %s: %s", id, fieldName)
	}
	s.providers[id] = pc
	s.mu.Unlock()

	return s.save()
}

func (s *ProviderSettings) save() error {
	s.mu.RLock()
	pf := providersFile{Providers: make(map[string]ProviderConfig, len(s.providers))}
	for id, pc := range s.providers {
		pf.Providers[id] = pc
	}
	s.mu.RUnlock()

	var buf bytes.Buffer
	buf.WriteString(GenerateProvidersTemplateHeader())
	if err := toml.NewEncoder(&buf).Encode(pf); err != nil {
		return fmt.Errorf("failed to encode provider settings: %w", err)
	}

	if err := EnsureDir(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.WriteFile(s.path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write provider settings: %w", err)
	}
	return nil
}
