package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"glimpse/config"
	"glimpse/model"
	"glimpse/provider/testutil"
	"glimpse/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactoryCreateBuiltins(t *testing.T) {
	f := NewFactory(registry.New(nil), nil)

	tests := []struct {
		name       string
		providerID string
		credential string
		wantType   any
		wantModel  string
	}{
		{"openai", "openai", "sk-test", &OpenAIProvider{}, "gpt-4o-mini"},
		{"anthropic", "anthropic", "sk-ant", &AnthropicProvider{}, "claude-sonnet-4-5-20250929"},
		{"gemini", "gemini", "AIza", &GeminiProvider{}, "gemini-2.0-flash"},
		{"openrouter", "openrouter", "sk-or", &OpenAIProvider{}, "meta-llama/llama-3.2-90b-vision-instruct"},
		{"groq", "groq", "gsk", &OpenAIProvider{}, "llama-3.3-70b-versatile"},
		{"ollama", "ollama", "", &OllamaProvider{}, "llama3.2-vision:latest"},
		{"lmstudio", "lmstudio", "", &OpenAIProvider{}, "local-model"},
		{"mixed case id", "OpenAI", "sk-test", &OpenAIProvider{}, "gpt-4o-mini"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := f.Create(tt.providerID, tt.credential, config.ProviderConfig{})
			require.NoError(t, err)
			assert.IsType(t, tt.wantType, p)
			assert.Equal(t, tt.wantModel, p.GetModel())
			assert.NotEmpty(t, p.Models())
		})
	}
}

func TestFactoryEmptyCredentialNeverFailsConstruction(t *testing.T) {
	f := NewFactory(registry.New(nil), nil)

	for _, d := range f.Registry().List() {
		t.Run(d.ID, func(t *testing.T) {
			p, err := f.Create(d.ID, "", config.ProviderConfig{})
			require.NoError(t, err)
			require.NotNil(t, p)
		})
	}
}

func TestFactoryKeyedProviderWithoutKeyFailsAtCallTime(t *testing.T) {
	f := NewFactory(registry.New(nil), nil)

	p, err := f.Create("anthropic", "", config.ProviderConfig{BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err)

	err = p.StreamResponse(context.Background(), model.ChatRequest{Text: "hi"}, func(string) error { return nil })
	assert.ErrorIs(t, err, model.ErrUnauthenticated)
	assert.False(t, p.ValidateAPIKey(context.Background()))
}

func TestFactoryUnknownProvider(t *testing.T) {
	f := NewFactory(registry.New(nil), nil)

	_, err := f.Create("does-not-exist", "key", config.ProviderConfig{})
	assert.ErrorIs(t, err, model.ErrUnknownProvider)
}

func TestFactoryUnknownProtocol(t *testing.T) {
	reg := registry.New(nil)
	require.NoError(t, reg.Update(registry.Descriptor{ID: "weird", Protocol: "carrier-pigeon"}))
	f := NewFactory(reg, nil)

	_, err := f.Create("weird", "", config.ProviderConfig{})
	assert.ErrorIs(t, err, model.ErrUnknownProvider)
}

func TestFactoryPrecedence(t *testing.T) {
	f := NewFactory(registry.New(nil), nil)

	p, err := f.Create("openai", "sk", config.ProviderConfig{
		Model:   "gpt-4.1",
		BaseURL: "http://proxy.local/v1",
	})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1", p.GetModel())
	assert.Equal(t, "http://proxy.local/v1", p.(*OpenAIProvider).BaseURL())

	p, err = f.Create("groq", "gsk", config.ProviderConfig{})
	require.NoError(t, err)
	assert.Equal(t, "https://api.groq.com/openai/v1", p.(*OpenAIProvider).BaseURL())
}

func TestFactoryRegisterByID(t *testing.T) {
	f := NewFactory(registry.New(nil), nil)
	mock := testutil.NewMockProvider("custom", "custom-model")

	var got Options
	f.Register("custom", func(opts Options) (model.Provider, error) {
		got = opts
		return mock, nil
	})

	p, err := f.Create("Custom", "k", config.ProviderConfig{Model: "m2", SystemPrompt: "be brief"})
	require.NoError(t, err)
	assert.Same(t, mock, p)
	assert.Equal(t, "custom", got.ProviderID)
	assert.Equal(t, "m2", got.Model)
	assert.Equal(t, "be brief", got.SystemPrompt)
	assert.True(t, got.RequiresAPIKey)
}

func TestFactoryConstructorError(t *testing.T) {
	f := NewFactory(registry.New(nil), nil)
	boom := errors.New("boom")
	f.Register("openai", func(Options) (model.Provider, error) { return nil, boom })

	_, err := f.Create("openai", "k", config.ProviderConfig{})
	assert.ErrorIs(t, err, boom)
}

func TestFactoryUserDefinedCompatibleProvider(t *testing.T) {
	reg := registry.New(nil)
	require.NoError(t, reg.Update(registry.Descriptor{
		ID:           "vllm",
		Protocol:     registry.ProtocolOpenAICompatible,
		BaseURL:      "http://localhost:8000/v1",
		DefaultModel: "qwen2.5-vl",
	}))
	f := NewFactory(reg, nil)

	p, err := f.Create("vllm", "", config.ProviderConfig{})
	require.NoError(t, err)
	assert.Equal(t, "vllm", p.Name())
	assert.Equal(t, "qwen2.5-vl", p.GetModel())
}

func TestFactoryDispatchesOnProtocol(t *testing.T) {
	f := NewFactory(registry.New(nil), nil)
	mock := testutil.NewMockProvider("compat", "m")

	var got Options
	f.Register(string(registry.ProtocolOpenAICompatible), func(opts Options) (model.Provider, error) {
		got = opts
		return mock, nil
	})

	p, err := f.Create("Groq", "k", config.ProviderConfig{})
	require.NoError(t, err)
	assert.Same(t, mock, p)
	assert.Equal(t, "groq", got.ProviderID)
	assert.True(t, got.RequiresAPIKey)

	p, err = f.Create("openai", "k", config.ProviderConfig{})
	require.NoError(t, err)
	assert.NotSame(t, mock, p)
}

func TestMapProviderIDToProtocol(t *testing.T) {
	reg := registry.New(nil)

	tests := []struct {
		id   string
		want registry.Protocol
	}{
		{"ollama", registry.ProtocolOllama},
		{"openrouter", registry.ProtocolOpenAICompatible},
		{"openai", registry.ProtocolOpenAI},
		{"anthropic", registry.ProtocolAnthropic},
		{"gemini", registry.ProtocolGemini},
		{"Mystery", registry.Protocol("mystery")},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.Equal(t, tt.want, MapProviderIDToProtocol(reg, tt.id))
		})
	}
}

func TestValidateProviderMissingKey(t *testing.T) {
	f := NewFactory(registry.New(nil), nil)

	res := f.ValidateProvider(context.Background(), "openai", "", config.ProviderConfig{})
	assert.False(t, res.Valid)
	assert.ErrorIs(t, res.Err, model.ErrMissingAPIKey)
}

func TestValidateProviderKeylessUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	f := NewFactory(registry.New(nil), nil)

	res := f.ValidateProvider(context.Background(), "ollama", "", config.ProviderConfig{BaseURL: srv.URL})
	assert.False(t, res.Valid)
	assert.ErrorIs(t, res.Err, model.ErrNetwork)
	assert.NotErrorIs(t, res.Err, model.ErrUnauthenticated)
	assert.False(t, model.NeedsReconfigure(res.Err))
}

func TestFetchModels(t *testing.T) {
	mock := testutil.NewMockProvider("mock", "m")

	models, err := FetchModels(context.Background(), mock)
	require.NoError(t, err)
	assert.Equal(t, "live-model-1", models[0].ID)
	assert.EqualValues(t, 1, mock.ListCalls.Load())

	static := testutil.StaticProvider{MockProvider: testutil.NewMockProvider("static", "m")}
	models, err = FetchModels(context.Background(), static)
	require.NoError(t, err)
	assert.Equal(t, testutil.TestModels(), models)
}
