package provider

import (
	"context"
	"fmt"
	"net/http"

	"glimpse/model"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o-mini"
)

// OpenAIProvider implements model.Provider on the official OpenAI Go SDK.
//
// The same adapter serves the openai-compatible family (OpenRouter, Groq,
// LM Studio, user-defined entries); those differ only in base URL, key
// policy and model-name display.
type OpenAIProvider struct {
	id           string
	client       openai.Client
	model        string
	baseURL      string
	apiKey       string
	requiresKey  bool
	systemPrompt string
	models       []model.ModelInfo
	compatible   bool
	logger       *zap.Logger
}

// NewOpenAIProvider creates an adapter for the native OpenAI API.
func NewOpenAIProvider(opts Options) (model.Provider, error) {
	return newOpenAIProvider(opts, false), nil
}

// NewOpenAICompatibleProvider creates an adapter for any server speaking the
// OpenAI chat-completions protocol.
func NewOpenAICompatibleProvider(opts Options) (model.Provider, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("%s: base URL is required for openai-compatible providers", opts.ProviderID)
	}
	return newOpenAIProvider(opts, true), nil
}

func newOpenAIProvider(opts Options, compatible bool) *OpenAIProvider {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	modelName := opts.Model
	if modelName == "" {
		modelName = defaultOpenAIModel
	}
	id := opts.ProviderID
	if id == "" {
		id = "openai"
	}

	clientOpts := []option.RequestOption{
		option.WithBaseURL(baseURL),
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(opts.HTTPClient))
	}

	opts.ProviderID = id
	return &OpenAIProvider{
		id:           id,
		client:       openai.NewClient(clientOpts...),
		model:        modelName,
		baseURL:      baseURL,
		apiKey:       opts.APIKey,
		requiresKey:  opts.RequiresAPIKey,
		systemPrompt: opts.SystemPrompt,
		models:       copyModels(opts.Models),
		compatible:   compatible,
		logger:       opts.logger(),
	}
}

func (p *OpenAIProvider) Name() string {
	return p.id
}

// StreamResponse implements model.Provider with streaming chat completions.
func (p *OpenAIProvider) StreamResponse(ctx context.Context, req model.ChatRequest, onChunk model.StreamCallback) error {
	if err := requireKey(p.id, p.requiresKey, p.apiKey); err != nil {
		return err
	}

	params := openai.ChatCompletionNewParams{
		Messages: ConvertToOpenAIMessages(req, systemPromptFor(req, p.systemPrompt)),
		Model:    openai.ChatModel(p.model),
	}

	p.logger.Debug("starting stream",
		zap.String("model", p.model),
		zap.Int("history", len(req.History)),
		zap.Bool("image", req.Image != nil))

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	for stream.Next() {
		if ctx.Err() != nil {
			return nil
		}
		chunk := stream.Current()
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		if err := onChunk(chunk.Choices[0].Delta.Content); err != nil {
			return err
		}
	}

	if err := stream.Err(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return mapError(p.id, err)
	}
	return nil
}

// SendMessage performs one non-streaming completion.
func (p *OpenAIProvider) SendMessage(ctx context.Context, text string, image *model.Image) (string, error) {
	if err := requireKey(p.id, p.requiresKey, p.apiKey); err != nil {
		return "", err
	}

	req := model.ChatRequest{Text: text, Image: image}
	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: ConvertToOpenAIMessages(req, p.systemPrompt),
		Model:    openai.ChatModel(p.model),
	})
	if err != nil {
		return "", mapError(p.id, err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// ListModels fetches the live model list. Aggregator ids keep their vendor
// prefix; the display name drops it.
func (p *OpenAIProvider) ListModels(ctx context.Context) ([]model.ModelInfo, error) {
	if err := requireKey(p.id, p.requiresKey, p.apiKey); err != nil {
		return nil, err
	}

	modelsPage, err := p.client.Models.List(ctx)
	if err != nil {
		return nil, mapError(p.id, err)
	}

	result := make([]model.ModelInfo, 0, len(modelsPage.Data))
	for _, m := range modelsPage.Data {
		display := m.ID
		if p.compatible {
			display = stripProviderPrefix(m.ID)
		}
		result = append(result, model.ModelInfo{ID: m.ID, DisplayName: display})
	}
	return result, nil
}

// ValidateAPIKey lists models. Compatible servers without a /models route
// (404/405) get a one-token completion instead, judged only by whether the
// server rejected the credential.
func (p *OpenAIProvider) ValidateAPIKey(ctx context.Context) bool {
	if requireKey(p.id, p.requiresKey, p.apiKey) != nil {
		return false
	}

	_, err := p.client.Models.List(ctx)
	if err == nil {
		return true
	}

	status, _ := statusOf(err)
	if !p.compatible || (status != http.StatusNotFound && status != http.StatusMethodNotAllowed) {
		p.logger.Debug("api key validation failed", zap.Error(err))
		return false
	}

	_, err = p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages:  []openai.ChatCompletionMessageParamUnion{openai.UserMessage("ping")},
		Model:     openai.ChatModel(p.model),
		MaxTokens: openai.Int(1),
	})
	if err == nil {
		return true
	}
	if code, _ := statusOf(err); code == 0 || isAuthFailure(err) {
		p.logger.Debug("api key validation failed", zap.Error(err))
		return false
	}
	return true
}

func (p *OpenAIProvider) Models() []model.ModelInfo {
	return copyModels(p.models)
}

func (p *OpenAIProvider) GetModel() string {
	return p.model
}

func (p *OpenAIProvider) SetModel(model string) {
	p.model = model
}

// BaseURL returns the endpoint the adapter talks to.
func (p *OpenAIProvider) BaseURL() string {
	return p.baseURL
}
