package model

import (
	"encoding/base64"
	"time"
)

// Conversation roles. Only user and assistant turns are ever persisted.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation in provider-agnostic form.
// The order of a []Message is the canonical conversation order.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	HasImage  bool      `json:"has_image"`
	Timestamp time.Time `json:"timestamp"`
}

// Image is a captured screenshot attached to the newest user turn.
type Image struct {
	Data     []byte
	MIMEType string
}

// Base64 returns the image payload encoded for inline transport.
func (i *Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// DataURI returns the image as a data: URI (OpenAI image_url form).
func (i *Image) DataURI() string {
	return "data:" + i.MediaType() + ";base64," + i.Base64()
}

// MediaType returns the MIME type, defaulting to PNG.
func (i *Image) MediaType() string {
	if i.MIMEType == "" {
		return "image/png"
	}
	return i.MIMEType
}

// ChatRequest is the uniform request handed to an adapter.
type ChatRequest struct {
	Text         string
	Image        *Image
	History      []Message
	SystemPrompt string
}

// ModelInfo describes one selectable model of a provider.
type ModelInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}
