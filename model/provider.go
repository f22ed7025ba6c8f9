package model

import "context"

// Provider abstracts one vendor protocol behind the uniform request model.
//
// This interface lives in the model package (not the provider package) so the
// stream, modelcache and gateway packages can depend on it without importing
// the concrete adapters.
type Provider interface {
	// Name returns the stable provider identifier (e.g. "openai", "ollama").
	Name() string

	// SendMessage performs one complete, non-streaming round trip.
	SendMessage(ctx context.Context, text string, image *Image) (string, error)

	// StreamResponse streams the reply to req, calling onChunk for every
	// non-empty text delta in arrival order. Cancelling ctx stops delivery
	// between chunks and returns nil.
	StreamResponse(ctx context.Context, req ChatRequest, onChunk StreamCallback) error

	// ValidateAPIKey performs the cheapest available credential check.
	// It reports false on any failure instead of returning the error.
	ValidateAPIKey(ctx context.Context) bool

	// Models returns the static or previously known model list without I/O.
	Models() []ModelInfo

	// GetModel returns the model id used for requests.
	GetModel() string

	// SetModel changes the active model.
	SetModel(model string)
}

// ModelLister is implemented by adapters that can query the vendor for a
// live model list.
type ModelLister interface {
	ListModels(ctx context.Context) ([]ModelInfo, error)
}

// StreamCallback receives one text delta. Returning an error stops the stream.
type StreamCallback func(chunk string) error
