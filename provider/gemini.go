package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"

	"glimpse/model"

	"go.uber.org/zap"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
	defaultGeminiModel   = "gemini-2.0-flash"
)

// GeminiProvider implements model.Provider for Google's Generative Language
// API over plain HTTP.
//
// Gemini specifics: the key travels in the x-goog-api-key header, the
// assistant role is called "model", and streaming uses
// streamGenerateContent?alt=sse.
type GeminiProvider struct {
	id           string
	client       *http.Client
	model        string
	baseURL      string
	apiKey       string
	requiresKey  bool
	systemPrompt string
	models       []model.ModelInfo
	logger       *zap.Logger
}

// NewGeminiProvider creates a Gemini adapter.
func NewGeminiProvider(opts Options) (model.Provider, error) {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	modelName := opts.Model
	if modelName == "" {
		modelName = defaultGeminiModel
	}
	if opts.ProviderID == "" {
		opts.ProviderID = "gemini"
	}
	client := opts.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	return &GeminiProvider{
		id:           opts.ProviderID,
		client:       client,
		model:        modelName,
		baseURL:      baseURL,
		apiKey:       opts.APIKey,
		requiresKey:  opts.RequiresAPIKey,
		systemPrompt: opts.SystemPrompt,
		models:       copyModels(opts.Models),
		logger:       opts.logger(),
	}, nil
}

// Gemini wire types
type geminiContent struct {
	Role  string       `json:"role,omitempty"` // user, model
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64 encoded
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

func (r geminiResponse) text() string {
	var sb strings.Builder
	for _, c := range r.Candidates {
		for _, part := range c.Content.Parts {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

type geminiErrorResp struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (p *GeminiProvider) Name() string {
	return p.id
}

// convertToGeminiContents maps history and the new turn onto Gemini
// contents. An attached image is sent as inlineData before the text part.
func convertToGeminiContents(req model.ChatRequest) []geminiContent {
	contents := make([]geminiContent, 0, len(req.History)+1)

	for _, msg := range req.History {
		if strings.TrimSpace(msg.Text) == "" {
			// Gemini rejects contents with an empty part.
			continue
		}
		role := "user"
		if msg.Role == model.RoleAssistant {
			role = "model"
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: msg.Text}},
		})
	}

	turn := geminiContent{Role: "user"}
	if req.Image != nil {
		turn.Parts = append(turn.Parts, geminiPart{InlineData: &geminiInlineData{
			MimeType: req.Image.MediaType(),
			Data:     req.Image.Base64(),
		}})
	}
	if req.Text != "" || len(turn.Parts) == 0 {
		turn.Parts = append(turn.Parts, geminiPart{Text: req.Text})
	}
	contents = append(contents, turn)

	return contents
}

func (p *GeminiProvider) newRequest(ctx context.Context, method, endpoint string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		r = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+endpoint, r)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-goog-api-key", p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (p *GeminiProvider) do(req *http.Request) (*http.Response, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, mapError(p.id, err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		msg := readGeminiErrMsg(resp.Body)
		return nil, mapError(p.id, &httpStatusError{StatusCode: resp.StatusCode, Message: msg})
	}
	return resp, nil
}

func (p *GeminiProvider) body(req model.ChatRequest, systemPrompt string) geminiRequest {
	body := geminiRequest{Contents: convertToGeminiContents(req)}
	if systemPrompt != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: systemPrompt}}}
	}
	return body
}

// StreamResponse reads the SSE stream line by line, forwarding the text of
// every data: event.
func (p *GeminiProvider) StreamResponse(ctx context.Context, req model.ChatRequest, onChunk model.StreamCallback) error {
	if err := requireKey(p.id, p.requiresKey, p.apiKey); err != nil {
		return err
	}

	endpoint := fmt.Sprintf("/v1beta/models/%s:streamGenerateContent?alt=sse", p.model)
	httpReq, err := p.newRequest(ctx, http.MethodPost, endpoint, p.body(req, systemPromptFor(req, p.systemPrompt)))
	if err != nil {
		return err
	}

	p.logger.Debug("starting stream",
		zap.String("model", p.model),
		zap.Int("history", len(req.History)),
		zap.Bool("image", req.Image != nil))

	resp, err := p.do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" || data == "[DONE]" {
			continue
		}

		var gr geminiResponse
		if err := json.Unmarshal([]byte(data), &gr); err != nil {
			p.logger.Debug("skipping undecodable stream event", zap.Error(err))
			continue
		}
		if text := gr.text(); text != "" {
			if err := onChunk(text); err != nil {
				return err
			}
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return mapError(p.id, err)
	}
	return nil
}

func (p *GeminiProvider) SendMessage(ctx context.Context, text string, image *model.Image) (string, error) {
	if err := requireKey(p.id, p.requiresKey, p.apiKey); err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("/v1beta/models/%s:generateContent", p.model)
	httpReq, err := p.newRequest(ctx, http.MethodPost, endpoint, p.body(model.ChatRequest{Text: text, Image: image}, p.systemPrompt))
	if err != nil {
		return "", err
	}

	resp, err := p.do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var gr geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return "", mapError(p.id, fmt.Errorf("failed to decode response: %w", err))
	}
	return gr.text(), nil
}

// ListModels returns the models that support generateContent, with the
// "models/" prefix removed.
func (p *GeminiProvider) ListModels(ctx context.Context) ([]model.ModelInfo, error) {
	if err := requireKey(p.id, p.requiresKey, p.apiKey); err != nil {
		return nil, err
	}

	httpReq, err := p.newRequest(ctx, http.MethodGet, "/v1beta/models", nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var modelsResp struct {
		Models []struct {
			Name             string   `json:"name"`
			DisplayName      string   `json:"displayName"`
			SupportedMethods []string `json:"supportedGenerationMethods"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&modelsResp); err != nil {
		return nil, mapError(p.id, fmt.Errorf("failed to decode model list: %w", err))
	}

	result := make([]model.ModelInfo, 0, len(modelsResp.Models))
	for _, m := range modelsResp.Models {
		if len(m.SupportedMethods) > 0 && !slices.Contains(m.SupportedMethods, "generateContent") {
			continue
		}
		id := strings.TrimPrefix(m.Name, "models/")
		display := m.DisplayName
		if display == "" {
			display = id
		}
		result = append(result, model.ModelInfo{ID: id, DisplayName: display})
	}
	return result, nil
}

// ValidateAPIKey issues GET /v1beta/models.
func (p *GeminiProvider) ValidateAPIKey(ctx context.Context) bool {
	if requireKey(p.id, p.requiresKey, p.apiKey) != nil {
		return false
	}

	httpReq, err := p.newRequest(ctx, http.MethodGet, "/v1beta/models", nil)
	if err != nil {
		return false
	}
	resp, err := p.do(httpReq)
	if err != nil {
		p.logger.Debug("api key validation failed", zap.Error(err))
		return false
	}
	resp.Body.Close()
	return true
}

func (p *GeminiProvider) Models() []model.ModelInfo {
	return copyModels(p.models)
}

func (p *GeminiProvider) GetModel() string {
	return p.model
}

func (p *GeminiProvider) SetModel(model string) {
	p.model = model
}

func readGeminiErrMsg(body io.Reader) string {
	data, err := io.ReadAll(body)
	if err != nil {
		return "failed to read error response"
	}
	var errResp geminiErrorResp
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	return string(data)
}
