package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"glimpse/model"

	"github.com/ollama/ollama/api"
)

const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "llama3.2-vision:latest"
)

type Client struct {
	client  *api.Client
	model   string
	baseURL string
}

// ChunkFunc receives the content of one streamed chat response.
type ChunkFunc func(chunk string) error

// NewClient builds a client for the Ollama server at baseURL. A nil
// httpClient uses http.DefaultClient.
func NewClient(baseURL, model string, httpClient *http.Client) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama URL: %w", err)
	}

	return &Client{
		client:  api.NewClient(parsedURL, httpClient),
		model:   model,
		baseURL: baseURL,
	}, nil
}

// Chat streams a chat completion, calling fn with each content delta.
func (c *Client) Chat(ctx context.Context, messages []api.Message, fn ChunkFunc) error {
	return c.chat(ctx, messages, true, fn)
}

// ChatOnce performs a non-streaming chat and returns the full reply.
func (c *Client) ChatOnce(ctx context.Context, messages []api.Message) (string, error) {
	var sb strings.Builder
	err := c.chat(ctx, messages, false, func(chunk string) error {
		sb.WriteString(chunk)
		return nil
	})
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (c *Client) chat(ctx context.Context, messages []api.Message, stream bool, fn ChunkFunc) error {
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   &stream,
	}

	respFunc := func(resp api.ChatResponse) error {
		if fn == nil || resp.Message.Content == "" {
			return nil
		}
		return fn(resp.Message.Content)
	}

	return c.client.Chat(ctx, req, respFunc)
}

func (c *Client) ListModels(ctx context.Context) ([]model.ModelInfo, error) {
	resp, err := c.client.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}

	models := make([]model.ModelInfo, len(resp.Models))
	for i, m := range resp.Models {
		models[i] = model.ModelInfo{
			ID:          m.Name,
			DisplayName: m.Name, // Ollama uses same name for display and API
		}
	}

	return models, nil
}

func (c *Client) SetModel(model string) {
	c.model = model
}

func (c *Client) GetModel() string {
	return c.model
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := c.client.List(ctx)
	return err
}

// visionModels tracks which model families accept image input.
// This is a curated list based on the Ollama library.
var visionModels = map[string]bool{
	"llama3.2-vision": true,
	"llava":           true, // llava, llava-llama3, llava-phi3
	"bakllava":        true,
	"minicpm-v":       true,
	"moondream":       true,
	"qwen2.5vl":       true,
	"gemma3":          true, // 4b and above
	"mistral-small3":  true, // 3.1 and later

	"llama3": false,
	"qwen":   false,
	"gemma":  false,
}

// orderedPrefixes defines the order to check model prefixes.
// IMPORTANT: Check most specific prefixes first to avoid false matches
// (e.g., "llama3.2-vision" before "llama3").
var orderedPrefixes = []string{
	"llama3.2-vision",
	"qwen2.5vl",
	"gemma3",
	"mistral-small3",
	"bakllava", "llava", "minicpm-v", "moondream",
	// Generic patterns LAST
	"llama3", "qwen", "gemma",
}

// SupportsVision reports whether the current model is known to accept images.
func (c *Client) SupportsVision() bool {
	return ModelSupportsVision(c.model)
}

// ModelSupportsVision checks a model name against the known vision families.
// Unknown models report false.
func ModelSupportsVision(modelName string) bool {
	modelName = strings.ToLower(modelName)

	for _, prefix := range orderedPrefixes {
		if strings.HasPrefix(modelName, prefix) {
			if supported, exists := visionModels[prefix]; exists {
				return supported
			}
		}
	}

	return false
}
