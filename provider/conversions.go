package provider

import (
	"strings"

	"glimpse/model"

	"github.com/ollama/ollama/api"
	"github.com/openai/openai-go/v3"
)

// ConvertToOpenAIMessages converts a ChatRequest to OpenAI chat messages.
//
// The system prompt (if any) goes first, then history in order, then the new
// user turn. An attached image makes the new turn a two-part payload: the
// text part followed by an image_url part carrying a data URI.
func ConvertToOpenAIMessages(req model.ChatRequest, systemPrompt string) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+2)

	if systemPrompt != "" {
		result = append(result, openai.SystemMessage(systemPrompt))
	}

	for _, msg := range req.History {
		switch msg.Role {
		case model.RoleAssistant:
			result = append(result, openai.AssistantMessage(msg.Text))
		default:
			result = append(result, openai.UserMessage(msg.Text))
		}
	}

	if req.Image == nil {
		result = append(result, openai.UserMessage(req.Text))
		return result
	}

	parts := []openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(req.Text),
		openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: req.Image.DataURI(),
		}),
	}
	result = append(result, openai.UserMessage(parts))
	return result
}

// ConvertToOllamaMessages converts a ChatRequest to Ollama api.Message.
//
// Ollama carries images as raw bytes on the message; the api client encodes
// them. Timestamps and ids are not part of the Ollama wire format.
func ConvertToOllamaMessages(req model.ChatRequest, systemPrompt string) []api.Message {
	result := make([]api.Message, 0, len(req.History)+2)

	if systemPrompt != "" {
		result = append(result, api.Message{Role: "system", Content: systemPrompt})
	}

	for _, msg := range req.History {
		role := model.RoleUser
		if msg.Role == model.RoleAssistant {
			role = model.RoleAssistant
		}
		result = append(result, api.Message{Role: role, Content: msg.Text})
	}

	turn := api.Message{Role: model.RoleUser, Content: req.Text}
	if req.Image != nil {
		turn.Images = []api.ImageData{req.Image.Data}
	}
	result = append(result, turn)

	return result
}

// stripProviderPrefix removes vendor prefixes from aggregator model names.
// "meta-llama/llama-3.2-90b-instruct" → "llama-3.2-90b-instruct"
// "anthropic/claude-sonnet-4" → "claude-sonnet-4"
func stripProviderPrefix(modelName string) string {
	if idx := strings.Index(modelName, "/"); idx != -1 {
		return modelName[idx+1:]
	}
	return modelName
}
