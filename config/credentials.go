package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// CredentialStore keeps per-provider API keys in <data_dir>/credentials.toml.
// It stands in for the platform secret store; the file is user-only (0600)
// but not encrypted.
type CredentialStore struct {
	mu          sync.RWMutex
	dataDir     string
	credentials map[string]string // providerID → API key
}

type credentialsFile struct {
	Credentials map[string]string `toml:"credentials"`
}

// NewCredentialStore creates an empty credential store rooted at dataDir.
func NewCredentialStore(dataDir string) *CredentialStore {
	return &CredentialStore{
		dataDir:     dataDir,
		credentials: make(map[string]string),
	}
}

// Load reads credentials from disk. A missing file leaves the store empty.
func (c *CredentialStore) Load() error {
	path := credentialsPath(c.dataDir)
	if !FileExists(path) {
		return nil
	}

	var cf credentialsFile
	if _, err := toml.DecodeFile(path, &cf); err != nil {
		return fmt.Errorf("failed to parse credentials file: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.credentials = make(map[string]string, len(cf.Credentials))
	for id, key := range cf.Credentials {
		c.credentials[strings.ToLower(id)] = key
	}
	return nil
}

// Save writes credentials to disk with 0600 permissions.
func (c *CredentialStore) Save() error {
	c.mu.RLock()
	cf := credentialsFile{Credentials: make(map[string]string, len(c.credentials))}
	for id, key := range c.credentials {
		cf.Credentials[id] = key
	}
	c.mu.RUnlock()

	if err := EnsureDir(c.dataDir); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	f, err := os.OpenFile(credentialsPath(c.dataDir), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create credentials file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cf); err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}

	return nil
}

// Get retrieves a credential for a provider
func (c *CredentialStore) Get(providerID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.credentials[strings.ToLower(providerID)]
}

// Set stores a credential for a provider
func (c *CredentialStore) Set(providerID string, apiKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credentials[strings.ToLower(providerID)] = apiKey
}

// Delete removes a credential for a provider
func (c *CredentialStore) Delete(providerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.credentials, strings.ToLower(providerID))
}

func credentialsPath(dataDir string) string {
	return filepath.Join(dataDir, "credentials.toml")
}
