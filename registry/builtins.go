package registry

// Builtins returns the provider set shipped with the binary. Each call
// returns fresh slices so callers may mutate the result.
func Builtins() []Descriptor {
	return []Descriptor{
		{
			ID:             "openai",
			Name:           "OpenAI",
			Protocol:       ProtocolOpenAI,
			Description:    "GPT models via the OpenAI API",
			Website:        "https://platform.openai.com",
			BaseURL:        "https://api.openai.com/v1",
			DefaultModel:   "gpt-4o-mini",
			RequiresAPIKey: true,
			Models: []ModelMeta{
				{ID: "gpt-4o-mini", DisplayName: "GPT-4o mini"},
				{ID: "gpt-4o", DisplayName: "GPT-4o"},
				{ID: "gpt-4.1", DisplayName: "GPT-4.1"},
				{ID: "o4-mini", DisplayName: "o4-mini", Options: map[string]string{"reasoning_effort": "medium"}},
			},
		},
		{
			ID:             "anthropic",
			Name:           "Anthropic",
			Protocol:       ProtocolAnthropic,
			Description:    "Claude models via the Anthropic API",
			Website:        "https://console.anthropic.com",
			BaseURL:        "https://api.anthropic.com",
			DefaultModel:   "claude-sonnet-4-5-20250929",
			RequiresAPIKey: true,
			Models: []ModelMeta{
				{ID: "claude-sonnet-4-5-20250929", DisplayName: "Claude Sonnet 4.5"},
				{ID: "claude-3-5-haiku-20241022", DisplayName: "Claude 3.5 Haiku"},
				{ID: "claude-3-opus-20240229", DisplayName: "Claude 3 Opus"},
			},
		},
		{
			ID:             "gemini",
			Name:           "Google Gemini",
			Protocol:       ProtocolGemini,
			Description:    "Gemini models via the Generative Language API",
			Website:        "https://aistudio.google.com",
			BaseURL:        "https://generativelanguage.googleapis.com",
			DefaultModel:   "gemini-2.0-flash",
			RequiresAPIKey: true,
			Models: []ModelMeta{
				{ID: "gemini-2.0-flash", DisplayName: "Gemini 2.0 Flash"},
				{ID: "gemini-1.5-pro", DisplayName: "Gemini 1.5 Pro"},
				{ID: "gemini-1.5-flash", DisplayName: "Gemini 1.5 Flash"},
			},
		},
		{
			ID:             "openrouter",
			Name:           "OpenRouter",
			Protocol:       ProtocolOpenAICompatible,
			Description:    "Hundreds of hosted models behind one OpenAI-compatible API",
			Website:        "https://openrouter.ai",
			BaseURL:        "https://openrouter.ai/api/v1",
			DefaultModel:   "meta-llama/llama-3.2-90b-vision-instruct",
			RequiresAPIKey: true,
			Models: []ModelMeta{
				{ID: "meta-llama/llama-3.2-90b-vision-instruct", DisplayName: "Llama 3.2 90B Vision"},
				{ID: "qwen/qwen2.5-vl-72b-instruct", DisplayName: "Qwen2.5 VL 72B"},
				{ID: "google/gemini-2.0-flash-001", DisplayName: "Gemini 2.0 Flash (OpenRouter)"},
			},
		},
		{
			ID:             "groq",
			Name:           "Groq",
			Protocol:       ProtocolOpenAICompatible,
			Description:    "Low-latency inference for open models",
			Website:        "https://console.groq.com",
			BaseURL:        "https://api.groq.com/openai/v1",
			DefaultModel:   "llama-3.3-70b-versatile",
			RequiresAPIKey: true,
			Models: []ModelMeta{
				{ID: "llama-3.3-70b-versatile", DisplayName: "Llama 3.3 70B"},
				{ID: "meta-llama/llama-4-scout-17b-16e-instruct", DisplayName: "Llama 4 Scout"},
			},
		},
		{
			ID:             "ollama",
			Name:           "Ollama",
			Protocol:       ProtocolOllama,
			Description:    "Local models served by Ollama",
			Website:        "https://ollama.com",
			BaseURL:        "http://localhost:11434",
			DefaultModel:   "llama3.2-vision:latest",
			RequiresAPIKey: false,
			Models: []ModelMeta{
				{ID: "llama3.2-vision:latest", DisplayName: "Llama 3.2 Vision"},
				{ID: "llava:latest", DisplayName: "LLaVA"},
			},
		},
		{
			ID:             "lmstudio",
			Name:           "LM Studio",
			Protocol:       ProtocolOpenAICompatible,
			Description:    "Local models served by LM Studio",
			Website:        "https://lmstudio.ai",
			BaseURL:        "http://localhost:1234/v1",
			DefaultModel:   "local-model",
			RequiresAPIKey: false,
			Models: []ModelMeta{
				{ID: "local-model", DisplayName: "Loaded model"},
			},
		},
	}
}
