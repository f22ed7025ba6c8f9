package testutil

import (
	"time"

	"glimpse/model"
)

// TestMessages returns a sample conversation for testing
func TestMessages() []model.Message {
	now := time.Now()
	return []model.Message{
		{
			ID:        "m1",
			Role:      model.RoleUser,
			Text:      "Hello, how are you?",
			Timestamp: now.Add(-2 * time.Minute),
		},
		{
			ID:        "m2",
			Role:      model.RoleAssistant,
			Text:      "I'm doing well, thank you!",
			Timestamp: now.Add(-time.Minute),
		},
		{
			ID:        "m3",
			Role:      model.RoleUser,
			Text:      "Can you help me with a task?",
			Timestamp: now,
		},
	}
}

// Turns builds an alternating user/assistant history of n messages,
// starting with a user turn.
func Turns(n int) []model.Message {
	out := make([]model.Message, n)
	for i := range out {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		out[i] = model.Message{
			ID:   string(rune('a' + i%26)),
			Role: role,
			Text: role + " turn",
		}
	}
	return out
}

// TestImage returns a tiny PNG-typed payload.
func TestImage() *model.Image {
	return &model.Image{
		Data:     []byte{0x89, 'P', 'N', 'G'},
		MIMEType: "image/png",
	}
}

// TestModels returns a declared model list.
func TestModels() []model.ModelInfo {
	return []model.ModelInfo{
		{ID: "mock-model-1", DisplayName: "Mock Model 1"},
		{ID: "mock-model-2", DisplayName: "Mock Model 2"},
	}
}
