// Package provider implements the vendor adapters behind model.Provider.
//
// Glimpse talks to several LLM vendors (OpenAI, Anthropic, Gemini, Ollama)
// and to any server speaking the OpenAI chat-completions protocol. Each
// vendor family gets one adapter that converts the uniform model.ChatRequest
// into its wire format and streams text deltas back.
//
// # Architecture
//
//   - model.Provider defines the contract (interface)
//   - OpenAIProvider serves both "openai" and the "openai-compatible" family
//   - AnthropicProvider, GeminiProvider and OllamaProvider serve their vendors
//   - Factory picks the constructor from the registry descriptor's protocol
//
// # Credentials
//
// Construction never validates the API key. A provider that requires a key
// and was built without one fails every network call with
// model.ErrUnauthenticated without touching the network.
//
// # Usage
//
//	f := provider.NewFactory(reg, logger)
//	p, err := f.Create("ollama", "", config.ProviderConfig{Model: "llava:latest"})
//	if err != nil {
//	    // handle error
//	}
//	err = p.StreamResponse(ctx, model.ChatRequest{Text: "What is on screen?"}, onChunk)
package provider

import (
	"errors"
	"net/http"

	"glimpse/model"

	"go.uber.org/zap"
)

// Options carries everything an adapter constructor needs. The factory
// resolves it from the registry descriptor and the user's ProviderConfig.
type Options struct {
	ProviderID     string
	APIKey         string
	BaseURL        string
	Model          string
	SystemPrompt   string
	RequiresAPIKey bool
	Models         []model.ModelInfo
	HTTPClient     *http.Client
	Logger         *zap.Logger
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger.With(zap.String("provider", o.ProviderID))
}

// Constructor builds an adapter from resolved options.
type Constructor func(opts Options) (model.Provider, error)

// errNoAPIKey is the cause attached when a keyed provider is called without one.
var errNoAPIKey = errors.New("no api key configured")

// requireKey enforces the optimistic-construction policy: a missing key is
// reported at call time, before any network I/O.
func requireKey(providerID string, required bool, apiKey string) error {
	if required && apiKey == "" {
		return model.NewProviderError(providerID, model.ErrUnauthenticated, 0, errNoAPIKey)
	}
	return nil
}

// systemPromptFor prefers the per-request prompt over the configured one.
func systemPromptFor(req model.ChatRequest, fallback string) string {
	if req.SystemPrompt != "" {
		return req.SystemPrompt
	}
	return fallback
}

func copyModels(models []model.ModelInfo) []model.ModelInfo {
	out := make([]model.ModelInfo, len(models))
	copy(out, models)
	return out
}
