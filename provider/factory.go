package provider

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"glimpse/config"
	"glimpse/model"
	"glimpse/registry"

	"go.uber.org/zap"
)

// Factory creates adapters from registry descriptors.
//
// Constructors are registered per protocol family ("openai", "anthropic",
// "gemini", "ollama", "openai-compatible"). A constructor may also be
// registered under a provider id, which takes precedence over the protocol
// and allows providers that have no registry descriptor at all.
type Factory struct {
	registry     *registry.Registry
	mu           sync.RWMutex
	constructors map[string]Constructor
	httpClient   *http.Client
	logger       *zap.Logger
}

// NewFactory returns a factory with the built-in protocol constructors
// registered.
func NewFactory(reg *registry.Registry, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Factory{
		registry:     reg,
		constructors: make(map[string]Constructor),
		logger:       logger,
	}
	f.Register(string(registry.ProtocolOpenAI), NewOpenAIProvider)
	f.Register(string(registry.ProtocolOpenAICompatible), NewOpenAICompatibleProvider)
	f.Register(string(registry.ProtocolAnthropic), NewAnthropicProvider)
	f.Register(string(registry.ProtocolGemini), NewGeminiProvider)
	f.Register(string(registry.ProtocolOllama), NewOllamaProvider)
	return f
}

// Register adds or replaces the constructor for a protocol or provider id.
func (f *Factory) Register(key string, c Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[strings.ToLower(key)] = c
}

// SetHTTPClient makes every adapter created afterwards use client.
func (f *Factory) SetHTTPClient(client *http.Client) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.httpClient = client
}

// Registry returns the registry the factory resolves descriptors from.
func (f *Factory) Registry() *registry.Registry {
	return f.registry
}

// Create builds the adapter for providerID.
//
// The credential is not validated here. Base URL precedence is cfg.BaseURL,
// then the descriptor's base URL, then the adapter default; the model is
// cfg.Model, then the descriptor's default model.
func (f *Factory) Create(providerID, credential string, cfg config.ProviderConfig) (model.Provider, error) {
	id := strings.ToLower(providerID)

	var (
		desc    registry.Descriptor
		hasDesc bool
	)
	if f.registry != nil {
		desc, hasDesc = f.registry.Get(id)
	}

	f.mu.RLock()
	ctor, byID := f.constructors[id]
	if !byID {
		ctor = f.constructors[string(MapProviderIDToProtocol(f.registry, id))]
	}
	httpClient := f.httpClient
	f.mu.RUnlock()

	if ctor == nil {
		if hasDesc {
			return nil, fmt.Errorf("%w: %s (protocol %q has no adapter)", model.ErrUnknownProvider, id, desc.Protocol)
		}
		return nil, fmt.Errorf("%w: %s", model.ErrUnknownProvider, id)
	}

	opts := Options{
		ProviderID:     id,
		APIKey:         credential,
		BaseURL:        desc.BaseURL,
		Model:          desc.DefaultModel,
		SystemPrompt:   cfg.SystemPrompt,
		RequiresAPIKey: desc.RequiresAPIKey,
		Models:         desc.ModelInfos(),
		HTTPClient:     httpClient,
		Logger:         f.logger,
	}
	if !hasDesc {
		// Providers known only by constructor are assumed to need a key.
		opts.RequiresAPIKey = true
	}
	if cfg.BaseURL != "" {
		opts.BaseURL = cfg.BaseURL
	}
	if cfg.Model != "" {
		opts.Model = cfg.Model
	}

	p, err := ctor(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider %s: %w", id, err)
	}

	f.logger.Debug("provider created",
		zap.String("provider", id),
		zap.String("model", p.GetModel()),
		zap.Bool("has_credential", credential != ""))
	return p, nil
}

// MapProviderIDToProtocol converts a provider id to its protocol family.
// Create dispatches on it when no constructor is registered under the id.
//
// Mappings for the built-ins:
//   - "ollama" → ProtocolOllama
//   - "openrouter", "groq", "lmstudio" → ProtocolOpenAICompatible
//   - "openai" → ProtocolOpenAI
//   - "anthropic" → ProtocolAnthropic
//   - "gemini" → ProtocolGemini
//
// For unknown IDs, returns the ID cast as Protocol (the factory will error).
func MapProviderIDToProtocol(reg *registry.Registry, id string) registry.Protocol {
	if reg != nil {
		if d, ok := reg.Get(id); ok {
			return d.Protocol
		}
	}
	return registry.Protocol(strings.ToLower(id))
}
