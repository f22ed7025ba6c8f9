// Package registry holds the declarative metadata of every known provider.
//
// Built-in descriptors ship with the binary; a user-writable JSON file in the
// data directory can add providers or override built-in fields. The registry
// never contacts the network.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"glimpse/config"
	"glimpse/model"

	"go.uber.org/zap"
)

// Protocol identifies the wire family an adapter speaks.
type Protocol string

const (
	ProtocolOpenAI           Protocol = "openai"
	ProtocolAnthropic        Protocol = "anthropic"
	ProtocolGemini           Protocol = "gemini"
	ProtocolOllama           Protocol = "ollama"
	ProtocolOpenAICompatible Protocol = "openai-compatible"
)

// ModelMeta describes one model a provider declares.
type ModelMeta struct {
	ID          string            `json:"id"`
	DisplayName string            `json:"display_name"`
	Options     map[string]string `json:"options,omitempty"`
}

// Descriptor is the static metadata of one provider.
type Descriptor struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Protocol       Protocol    `json:"protocol"`
	Description    string      `json:"description,omitempty"`
	Website        string      `json:"website,omitempty"`
	BaseURL        string      `json:"base_url,omitempty"`
	DefaultModel   string      `json:"default_model"`
	RequiresAPIKey bool        `json:"requires_api_key"`
	Models         []ModelMeta `json:"models"`
}

// ModelInfos returns the declared models in display order.
func (d Descriptor) ModelInfos() []model.ModelInfo {
	out := make([]model.ModelInfo, 0, len(d.Models))
	for _, m := range d.Models {
		name := m.DisplayName
		if name == "" {
			name = m.ID
		}
		out = append(out, model.ModelInfo{ID: m.ID, DisplayName: name})
	}
	return out
}

type overrideFile struct {
	Providers map[string]Descriptor `json:"providers"`
}

// overrideEntry mirrors Descriptor with requires_api_key optional, so a
// partial override does not silently clear it.
type overrideEntry struct {
	Descriptor
	RequiresAPIKey *bool `json:"requires_api_key,omitempty"`
}

type overrideInput struct {
	Providers map[string]overrideEntry `json:"providers"`
}

// Registry is the in-memory provider table. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]Descriptor
	path        string
	logger      *zap.Logger
}

// New returns a registry populated with the built-in descriptors.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		descriptors: make(map[string]Descriptor),
		logger:      logger.With(zap.String("component", "registry")),
	}
	for _, d := range Builtins() {
		r.descriptors[d.ID] = d
	}
	return r
}

// Load merges the override file at path over the built-ins.
//
// A missing file is created from the built-ins. A file that cannot be parsed
// is logged and ignored. Neither case is an error; only an unreadable
// existing file is.
func (r *Registry) Load(path string) error {
	r.mu.Lock()
	r.path = path
	r.mu.Unlock()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if werr := r.persist(); werr != nil {
			r.logger.Warn("failed to write default provider registry",
				zap.String("path", path), zap.Error(werr))
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read provider registry: %w", err)
	}

	var of overrideInput
	if err := json.Unmarshal(data, &of); err != nil {
		r.logger.Warn("provider registry override is malformed, using built-in defaults",
			zap.String("path", path), zap.Error(err))
		r.reset()
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.descriptors = make(map[string]Descriptor)
	for _, d := range Builtins() {
		r.descriptors[d.ID] = d
	}
	for id, e := range of.Providers {
		id = strings.ToLower(id)
		d := e.Descriptor
		if base, ok := r.descriptors[id]; ok {
			d = merge(base, e)
		} else if e.RequiresAPIKey != nil {
			d.RequiresAPIKey = *e.RequiresAPIKey
		}
		d.ID = id
		if d.Protocol == "" {
			d.Protocol = ProtocolOpenAICompatible
		}
		r.descriptors[id] = d
	}

	r.logger.Debug("provider registry loaded",
		zap.String("path", path), zap.Int("providers", len(r.descriptors)))
	return nil
}

// Reload re-reads the file last passed to Load.
func (r *Registry) Reload() error {
	r.mu.RLock()
	path := r.path
	r.mu.RUnlock()
	if path == "" {
		return fmt.Errorf("registry has not been loaded from a file")
	}
	return r.Load(path)
}

// Update replaces (or adds) a descriptor and writes the registry back to
// the override file when one is configured.
func (r *Registry) Update(d Descriptor) error {
	if d.ID == "" {
		return fmt.Errorf("descriptor id is required")
	}
	d.ID = strings.ToLower(d.ID)
	if d.Protocol == "" {
		d.Protocol = ProtocolOpenAICompatible
	}

	r.mu.Lock()
	r.descriptors[d.ID] = d
	r.mu.Unlock()

	return r.persist()
}

// List returns every descriptor sorted by id.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get looks up a descriptor case-insensitively.
func (r *Registry) Get(id string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[strings.ToLower(id)]
	return d, ok
}

func (r *Registry) Has(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// ModelsFor returns the declared models of a provider, or nil if unknown.
func (r *Registry) ModelsFor(id string) []model.ModelInfo {
	d, ok := r.Get(id)
	if !ok {
		return nil
	}
	return d.ModelInfos()
}

// DefaultConfigTemplate seeds first-run provider settings: the default
// model and base URL of every known provider, with no credentials.
func (r *Registry) DefaultConfigTemplate() map[string]config.ProviderConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]config.ProviderConfig, len(r.descriptors))
	for id, d := range r.descriptors {
		out[id] = config.ProviderConfig{
			Model:   d.DefaultModel,
			BaseURL: d.BaseURL,
		}
	}
	return out
}

func (r *Registry) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.descriptors = make(map[string]Descriptor)
	for _, d := range Builtins() {
		r.descriptors[d.ID] = d
	}
}

func (r *Registry) persist() error {
	r.mu.RLock()
	path := r.path
	of := overrideFile{Providers: make(map[string]Descriptor, len(r.descriptors))}
	for id, d := range r.descriptors {
		of.Providers[id] = d
	}
	r.mu.RUnlock()

	if path == "" {
		return nil
	}

	data, err := json.MarshalIndent(of, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode provider registry: %w", err)
	}
	if err := config.EnsureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write provider registry: %w", err)
	}
	return nil
}

// merge overlays the non-zero fields of o onto base. A non-empty model list
// replaces the built-in list entirely so the user controls display order.
func merge(base Descriptor, e overrideEntry) Descriptor {
	o := e.Descriptor
	if o.Name != "" {
		base.Name = o.Name
	}
	if o.Protocol != "" {
		base.Protocol = o.Protocol
	}
	if o.Description != "" {
		base.Description = o.Description
	}
	if o.Website != "" {
		base.Website = o.Website
	}
	if o.BaseURL != "" {
		base.BaseURL = o.BaseURL
	}
	if o.DefaultModel != "" {
		base.DefaultModel = o.DefaultModel
	}
	if len(o.Models) > 0 {
		base.Models = o.Models
	}
	if e.RequiresAPIKey != nil {
		base.RequiresAPIKey = *e.RequiresAPIKey
	}
	return base
}
