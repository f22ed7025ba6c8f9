package provider

import (
	"context"
	"fmt"
	"net/http"

	"glimpse/model"
	"glimpse/ollama"

	"go.uber.org/zap"
)

// OllamaProvider wraps ollama.Client to implement model.Provider.
//
// Ollama is local and normally keyless. When a key is configured (a remote
// server behind an authenticating proxy) it is sent as a bearer token.
type OllamaProvider struct {
	id           string
	client       *ollama.Client
	apiKey       string
	requiresKey  bool
	systemPrompt string
	models       []model.ModelInfo
	logger       *zap.Logger
}

// NewOllamaProvider creates a new Ollama adapter.
//
// An empty base URL defaults to http://localhost:11434 and an empty model
// to llama3.2-vision:latest.
func NewOllamaProvider(opts Options) (model.Provider, error) {
	httpClient := opts.HTTPClient
	if opts.APIKey != "" {
		base := http.DefaultTransport
		if httpClient != nil && httpClient.Transport != nil {
			base = httpClient.Transport
		}
		httpClient = &http.Client{Transport: &bearerTransport{token: opts.APIKey, base: base}}
	}

	client, err := ollama.NewClient(opts.BaseURL, opts.Model, httpClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create Ollama client: %w", err)
	}
	if opts.ProviderID == "" {
		opts.ProviderID = "ollama"
	}

	return &OllamaProvider{
		id:           opts.ProviderID,
		client:       client,
		apiKey:       opts.APIKey,
		requiresKey:  opts.RequiresAPIKey,
		systemPrompt: opts.SystemPrompt,
		models:       copyModels(opts.Models),
		logger:       opts.logger(),
	}, nil
}

func (p *OllamaProvider) Name() string {
	return p.id
}

// StreamResponse converts the request and streams through the client. The
// callback aborts the api client once ctx is cancelled; that abort is not
// reported as an error.
func (p *OllamaProvider) StreamResponse(ctx context.Context, req model.ChatRequest, onChunk model.StreamCallback) error {
	if err := requireKey(p.id, p.requiresKey, p.apiKey); err != nil {
		return err
	}
	if req.Image != nil && !p.client.SupportsVision() {
		p.logger.Warn("model is not known to accept images", zap.String("model", p.client.GetModel()))
	}

	p.logger.Debug("starting stream",
		zap.String("model", p.client.GetModel()),
		zap.Int("history", len(req.History)),
		zap.Bool("image", req.Image != nil))

	messages := ConvertToOllamaMessages(req, systemPromptFor(req, p.systemPrompt))
	err := p.client.Chat(ctx, messages, func(chunk string) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return onChunk(chunk)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return mapError(p.id, err)
	}
	return nil
}

func (p *OllamaProvider) SendMessage(ctx context.Context, text string, image *model.Image) (string, error) {
	if err := requireKey(p.id, p.requiresKey, p.apiKey); err != nil {
		return "", err
	}

	messages := ConvertToOllamaMessages(model.ChatRequest{Text: text, Image: image}, p.systemPrompt)
	reply, err := p.client.ChatOnce(ctx, messages)
	if err != nil {
		return "", mapError(p.id, err)
	}
	return reply, nil
}

// ListModels returns the models installed on the server.
func (p *OllamaProvider) ListModels(ctx context.Context) ([]model.ModelInfo, error) {
	if err := requireKey(p.id, p.requiresKey, p.apiKey); err != nil {
		return nil, err
	}
	models, err := p.client.ListModels(ctx)
	if err != nil {
		return nil, mapError(p.id, err)
	}
	return models, nil
}

// ValidateAPIKey checks that the server answers /api/tags.
func (p *OllamaProvider) ValidateAPIKey(ctx context.Context) bool {
	if requireKey(p.id, p.requiresKey, p.apiKey) != nil {
		return false
	}
	if err := p.client.Ping(ctx); err != nil {
		p.logger.Debug("ollama ping failed", zap.Error(err))
		return false
	}
	return true
}

func (p *OllamaProvider) Models() []model.ModelInfo {
	return copyModels(p.models)
}

func (p *OllamaProvider) GetModel() string {
	return p.client.GetModel()
}

func (p *OllamaProvider) SetModel(model string) {
	p.client.SetModel(model)
}

type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(r)
}
