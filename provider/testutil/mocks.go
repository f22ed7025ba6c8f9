package testutil

import (
	"context"
	"sync"
	"sync/atomic"

	"glimpse/model"
)

// MockProvider implements model.Provider and model.ModelLister for testing.
type MockProvider struct {
	// Configurable responses
	StreamFunc     func(ctx context.Context, req model.ChatRequest, onChunk model.StreamCallback) error
	SendFunc       func(ctx context.Context, text string, image *model.Image) (string, error)
	ListModelsFunc func(ctx context.Context) ([]model.ModelInfo, error)
	ValidateFunc   func(ctx context.Context) bool

	// Call counters
	StreamCalls   atomic.Int32
	SendCalls     atomic.Int32
	ListCalls     atomic.Int32
	ValidateCalls atomic.Int32

	// State
	mu           sync.Mutex
	name         string
	currentModel string
	models       []model.ModelInfo
	lastRequest  model.ChatRequest
}

// NewMockProvider creates a mock provider with default implementations.
func NewMockProvider(name, modelName string) *MockProvider {
	mock := &MockProvider{
		name:         name,
		currentModel: modelName,
		models:       TestModels(),
	}
	mock.StreamFunc = mock.defaultStream
	mock.SendFunc = mock.defaultSend
	mock.ListModelsFunc = mock.defaultListModels
	mock.ValidateFunc = func(ctx context.Context) bool { return true }
	return mock
}

func (m *MockProvider) defaultStream(ctx context.Context, req model.ChatRequest, onChunk model.StreamCallback) error {
	// Default: echo back a mock response
	return onChunk("Mock response")
}

func (m *MockProvider) defaultSend(ctx context.Context, text string, image *model.Image) (string, error) {
	return "Mock response", nil
}

func (m *MockProvider) defaultListModels(ctx context.Context) ([]model.ModelInfo, error) {
	return []model.ModelInfo{
		{ID: "live-model-1", DisplayName: "Live Model 1"},
		{ID: "live-model-2", DisplayName: "Live Model 2"},
	}, nil
}

func (m *MockProvider) Name() string {
	return m.name
}

func (m *MockProvider) StreamResponse(ctx context.Context, req model.ChatRequest, onChunk model.StreamCallback) error {
	m.StreamCalls.Add(1)
	m.mu.Lock()
	m.lastRequest = req
	m.mu.Unlock()
	return m.StreamFunc(ctx, req, onChunk)
}

func (m *MockProvider) SendMessage(ctx context.Context, text string, image *model.Image) (string, error) {
	m.SendCalls.Add(1)
	return m.SendFunc(ctx, text, image)
}

func (m *MockProvider) ListModels(ctx context.Context) ([]model.ModelInfo, error) {
	m.ListCalls.Add(1)
	return m.ListModelsFunc(ctx)
}

func (m *MockProvider) ValidateAPIKey(ctx context.Context) bool {
	m.ValidateCalls.Add(1)
	return m.ValidateFunc(ctx)
}

func (m *MockProvider) Models() []model.ModelInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ModelInfo, len(m.models))
	copy(out, m.models)
	return out
}

func (m *MockProvider) GetModel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentModel
}

func (m *MockProvider) SetModel(model string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentModel = model
}

// LastRequest returns the request passed to the most recent StreamResponse.
func (m *MockProvider) LastRequest() model.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRequest
}

// StaticProvider hides the ModelLister method of a MockProvider so callers
// see an adapter without live model listing.
type StaticProvider struct {
	*MockProvider
}

func (s StaticProvider) ListModels() {}
