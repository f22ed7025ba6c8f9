package provider

import (
	"context"
	"strings"

	"glimpse/model"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicMaxTokens      = 4096 // Required by Anthropic API
)

// AnthropicProvider implements model.Provider using Anthropic's official SDK.
type AnthropicProvider struct {
	id           string
	client       *anthropic.Client
	model        anthropic.Model
	baseURL      string
	apiKey       string
	requiresKey  bool
	systemPrompt string
	models       []model.ModelInfo
	logger       *zap.Logger
}

// NewAnthropicProvider creates a new Anthropic adapter. An empty model
// defaults to Claude Sonnet 4.5.
func NewAnthropicProvider(opts Options) (model.Provider, error) {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}

	var anthropicModel anthropic.Model
	if opts.Model == "" {
		anthropicModel = anthropic.ModelClaudeSonnet4_5_20250929
	} else {
		anthropicModel = anthropic.Model(opts.Model)
	}
	if opts.ProviderID == "" {
		opts.ProviderID = "anthropic"
	}

	clientOpts := []option.RequestOption{
		option.WithBaseURL(baseURL),
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	client := anthropic.NewClient(clientOpts...)

	return &AnthropicProvider{
		id:           opts.ProviderID,
		client:       &client,
		model:        anthropicModel,
		baseURL:      baseURL,
		apiKey:       opts.APIKey,
		requiresKey:  opts.RequiresAPIKey,
		systemPrompt: opts.SystemPrompt,
		models:       copyModels(opts.Models),
		logger:       opts.logger(),
	}, nil
}

func (p *AnthropicProvider) Name() string {
	return p.id
}

func (p *AnthropicProvider) params(req model.ChatRequest, systemPrompt string) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     p.model,
		Messages:  convertToAnthropicMessages(req),
		MaxTokens: anthropicMaxTokens,
	}
	// Anthropic uses a separate system parameter, not in messages array
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	return params
}

// StreamResponse implements model.Provider with streaming support.
func (p *AnthropicProvider) StreamResponse(ctx context.Context, req model.ChatRequest, onChunk model.StreamCallback) error {
	if err := requireKey(p.id, p.requiresKey, p.apiKey); err != nil {
		return err
	}

	p.logger.Debug("starting stream",
		zap.String("model", string(p.model)),
		zap.Int("history", len(req.History)),
		zap.Bool("image", req.Image != nil))

	stream := p.client.Messages.NewStreaming(ctx, p.params(req, systemPromptFor(req, p.systemPrompt)))
	defer stream.Close()

	for stream.Next() {
		if ctx.Err() != nil {
			return nil
		}

		event := stream.Current()
		switch eventVariant := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch deltaVariant := eventVariant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if deltaVariant.Text == "" {
					continue
				}
				if err := onChunk(deltaVariant.Text); err != nil {
					return err
				}
			}
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

// SendMessage performs one non-streaming request and joins the text blocks.
func (p *AnthropicProvider) SendMessage(ctx context.Context, text string, image *model.Image) (string, error) {
	if err := requireKey(p.id, p.requiresKey, p.apiKey); err != nil {
		return "", err
	}

	msg, err := p.client.Messages.New(ctx, p.params(model.ChatRequest{Text: text, Image: image}, p.systemPrompt))
	if err != nil {
		return "", mapError(p.id, err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(tb.Text)
		}
	}
	return sb.String(), nil
}

// ListModels pages through the Anthropic models endpoint.
func (p *AnthropicProvider) ListModels(ctx context.Context) ([]model.ModelInfo, error) {
	if err := requireKey(p.id, p.requiresKey, p.apiKey); err != nil {
		return nil, err
	}

	page, err := p.client.Models.List(ctx, anthropic.ModelListParams{})
	if err != nil {
		return nil, mapError(p.id, err)
	}

	result := make([]model.ModelInfo, 0, len(page.Data))
	for _, m := range page.Data {
		display := m.DisplayName
		if display == "" {
			display = m.ID
		}
		result = append(result, model.ModelInfo{ID: m.ID, DisplayName: display})
	}
	return result, nil
}

// ValidateAPIKey lists models; Anthropic has no dedicated key check.
func (p *AnthropicProvider) ValidateAPIKey(ctx context.Context) bool {
	if requireKey(p.id, p.requiresKey, p.apiKey) != nil {
		return false
	}
	if _, err := p.client.Models.List(ctx, anthropic.ModelListParams{}); err != nil {
		p.logger.Debug("api key validation failed", zap.Error(err))
		return false
	}
	return true
}

func (p *AnthropicProvider) Models() []model.ModelInfo {
	return copyModels(p.models)
}

func (p *AnthropicProvider) GetModel() string {
	return string(p.model)
}

func (p *AnthropicProvider) SetModel(model string) {
	p.model = anthropic.Model(model)
}

// convertToAnthropicMessages converts history plus the new turn to Anthropic
// format. An attached image goes before the text block.
func convertToAnthropicMessages(req model.ChatRequest) []anthropic.MessageParam {
	msgs := make([]anthropic.MessageParam, 0, len(req.History)+1)

	for _, msg := range req.History {
		switch msg.Role {
		case model.RoleAssistant:
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Text)))
		default:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Text)))
		}
	}

	if req.Image == nil {
		msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(req.Text)))
		return msgs
	}

	msgs = append(msgs, anthropic.NewUserMessage(
		anthropic.NewImageBlockBase64(req.Image.MediaType(), req.Image.Base64()),
		anthropic.NewTextBlock(req.Text),
	))
	return msgs
}
