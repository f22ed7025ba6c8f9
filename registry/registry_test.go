package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryBuiltins(t *testing.T) {
	r := New(nil)

	tests := []struct {
		id             string
		protocol       Protocol
		requiresAPIKey bool
	}{
		{"openai", ProtocolOpenAI, true},
		{"anthropic", ProtocolAnthropic, true},
		{"gemini", ProtocolGemini, true},
		{"openrouter", ProtocolOpenAICompatible, true},
		{"groq", ProtocolOpenAICompatible, true},
		{"ollama", ProtocolOllama, false},
		{"lmstudio", ProtocolOpenAICompatible, false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			d, ok := r.Get(tt.id)
			require.True(t, ok)
			assert.Equal(t, tt.protocol, d.Protocol)
			assert.Equal(t, tt.requiresAPIKey, d.RequiresAPIKey)
			assert.NotEmpty(t, d.DefaultModel)
			assert.NotEmpty(t, r.ModelsFor(tt.id))
		})
	}
}

func TestRegistryCaseInsensitive(t *testing.T) {
	r := New(nil)

	assert.True(t, r.Has("OpenAI"))
	assert.True(t, r.Has("OLLAMA"))
	assert.False(t, r.Has("nope"))
	assert.Nil(t, r.ModelsFor("nope"))
}

func TestRegistryModelsForKeepsOrder(t *testing.T) {
	r := New(nil)

	models := r.ModelsFor("openai")
	require.NotEmpty(t, models)
	assert.Equal(t, "gpt-4o-mini", models[0].ID)
	assert.Equal(t, "GPT-4o mini", models[0].DisplayName)
}

func TestRegistryLoadWritesDefaultsWhenAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.json")
	r := New(nil)

	require.NoError(t, r.Load(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var of overrideFile
	require.NoError(t, json.Unmarshal(data, &of))
	assert.Len(t, of.Providers, len(Builtins()))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestRegistryLoadMergesOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.json")
	override := `{
  "providers": {
    "OpenAI": {"default_model": "gpt-4.1"},
    "together": {
      "name": "Together",
      "base_url": "https://api.together.xyz/v1",
      "default_model": "meta-llama/Llama-3-70b",
      "requires_api_key": true,
      "models": [{"id": "meta-llama/Llama-3-70b", "display_name": "Llama 3 70B"}]
    }
  }
}`
	require.NoError(t, os.WriteFile(path, []byte(override), 0600))

	r := New(nil)
	require.NoError(t, r.Load(path))

	openai, ok := r.Get("openai")
	require.True(t, ok)
	assert.Equal(t, "gpt-4.1", openai.DefaultModel)
	assert.True(t, openai.RequiresAPIKey, "partial override must not clear requires_api_key")
	assert.Equal(t, "https://api.openai.com/v1", openai.BaseURL)

	together, ok := r.Get("together")
	require.True(t, ok)
	assert.Equal(t, ProtocolOpenAICompatible, together.Protocol)
	assert.True(t, together.RequiresAPIKey)
	assert.Equal(t, "together", together.ID)

	assert.True(t, r.Has("ollama"), "built-ins survive an override file")
}

func TestRegistryLoadMalformedFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	r := New(nil)
	require.NoError(t, r.Load(path))
	assert.Len(t, r.List(), len(Builtins()))

	// The broken file is left alone for the user to fix.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(data))
}

func TestRegistryUpdateAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.json")
	r := New(nil)
	require.NoError(t, r.Load(path))

	err := r.Update(Descriptor{
		ID:           "Local-VLLM",
		Name:         "vLLM",
		BaseURL:      "http://localhost:8000/v1",
		DefaultModel: "qwen2.5-vl",
	})
	require.NoError(t, err)

	fresh := New(nil)
	require.NoError(t, fresh.Load(path))
	d, ok := fresh.Get("local-vllm")
	require.True(t, ok)
	assert.Equal(t, ProtocolOpenAICompatible, d.Protocol)
	assert.False(t, d.RequiresAPIKey)

	require.NoError(t, fresh.Reload())
	assert.True(t, fresh.Has("local-vllm"))
}

func TestRegistryUpdateRequiresID(t *testing.T) {
	r := New(nil)
	assert.Error(t, r.Update(Descriptor{Name: "nameless"}))
}

func TestRegistryReloadWithoutLoad(t *testing.T) {
	assert.Error(t, New(nil).Reload())
}

func TestDefaultConfigTemplate(t *testing.T) {
	r := New(nil)
	tmpl := r.DefaultConfigTemplate()

	require.Contains(t, tmpl, "ollama")
	assert.Equal(t, "http://localhost:11434", tmpl["ollama"].BaseURL)
	assert.Empty(t, tmpl["openai"].APIKey)
	assert.Equal(t, "gpt-4o-mini", tmpl["openai"].Model)
}
