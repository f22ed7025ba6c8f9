// Package gateway is the entry point the UI talks to. It resolves providers,
// starts streaming exchanges and exposes the session store.
package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"glimpse/config"
	"glimpse/conversation"
	"glimpse/model"
	"glimpse/modelcache"
	"glimpse/provider"
	"glimpse/registry"
	"glimpse/storage"
	"glimpse/stream"
)

// Credentials looks up the API key of a provider. config.CredentialStore
// implements it.
type Credentials interface {
	Get(providerID string) string
}

// Settings looks up per-provider configuration. config.ProviderSettings
// implements it.
type Settings interface {
	Get(providerID string) config.ProviderConfig
}

type Options struct {
	Config      *config.Config
	Registry    *registry.Registry
	Factory     *provider.Factory
	Sessions    *storage.SessionStorage
	ModelStore  *storage.ModelCacheStore
	Credentials Credentials
	Settings    Settings
	Logger      *zap.Logger
}

type Gateway struct {
	cfg          *config.Config
	registry     *registry.Registry
	factory      *provider.Factory
	sessions     *storage.SessionStorage
	models       *modelcache.Cache
	orchestrator *stream.Orchestrator
	credentials  Credentials
	settings     Settings
	logger       *zap.Logger

	wg sync.WaitGroup
}

// New wires a gateway. Registry and Sessions are required; the factory is
// built from the registry when not given.
func New(opts Options) (*Gateway, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("gateway: registry is required")
	}
	if opts.Sessions == nil {
		return nil, fmt.Errorf("gateway: session storage is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = &config.Config{
			RetentionDays: config.DefaultRetentionDays,
			HistoryLimit:  config.DefaultHistoryLimit,
			ModelCacheTTL: config.DefaultModelCacheTTL,
		}
	}
	factory := opts.Factory
	if factory == nil {
		factory = provider.NewFactory(opts.Registry, logger)
	}

	g := &Gateway{
		cfg:          cfg,
		registry:     opts.Registry,
		factory:      factory,
		sessions:     opts.Sessions,
		orchestrator: stream.NewOrchestrator(logger),
		credentials:  opts.Credentials,
		settings:     opts.Settings,
		logger:       logger,
	}

	g.models = modelcache.New(modelcache.Options{
		Factory:  factory,
		TTL:      cfg.TTLFor,
		Store:    opts.ModelStore,
		Settings: opts.Settings,
		Logger:   logger,
	})

	return g, nil
}

// Start runs retention cleanup in the background. Cleanup failures are
// logged and never block other operations.
func (g *Gateway) Start(ctx context.Context) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if ctx.Err() != nil {
			return
		}
		removed, err := g.sessions.CleanupOld(g.cfg.RetentionDays, true)
		if err != nil {
			g.logger.Warn("session cleanup failed", zap.Error(err))
			return
		}
		g.logger.Debug("session cleanup finished", zap.Int("removed", removed))
	}()
}

// Close cancels the active exchange and waits for background work.
func (g *Gateway) Close() {
	g.orchestrator.CancelActive()
	g.wg.Wait()
}

// CompletionRequest is one user turn.
//
// Credential and Config default to the stores the gateway was built with.
// With a SessionID and nil History the stored conversation is used, and the
// session summary stands in for an empty Summary. Without a SessionID a new
// session is created when the exchange completes.
type CompletionRequest struct {
	ProviderID string
	Credential string
	Config     *config.ProviderConfig
	SessionID  string
	Text       string
	Image      *model.Image
	History    []model.Message
	Summary    string
}

// Completion is a running exchange plus the session it is recorded into.
type Completion struct {
	*stream.Exchange
	SessionID string
}

// RequestCompletion starts a streaming completion.
//
// A keyed provider without a credential fails with model.ErrMissingAPIKey
// before any network call. A completed exchange is appended to its session
// before the complete event is emitted; cancelled and failed exchanges are
// not recorded. Once recording has begun the exchange can no longer be
// cancelled.
func (g *Gateway) RequestCompletion(ctx context.Context, req CompletionRequest) (*Completion, error) {
	id := strings.ToLower(req.ProviderID)
	if id == "" {
		id = strings.ToLower(g.cfg.DefaultProvider)
	}

	credential := req.Credential
	if credential == "" {
		credential = g.credential(id)
	}
	cfg := g.providerConfig(id)
	if req.Config != nil {
		cfg = *req.Config
	}

	history := req.History
	summary := req.Summary
	var existing *storage.Session
	if req.SessionID != "" {
		session, err := g.sessions.Load(req.SessionID)
		if err != nil {
			return nil, err
		}
		existing = session
		if history == nil {
			history = session.Messages
		}
		if summary == "" {
			summary = session.Summary
		}
	}

	p, err := g.factory.Create(id, credential, cfg)
	if err != nil {
		return nil, err
	}

	projection := conversation.Build(history, req.Text, summary, g.cfg.HistoryLimit)
	chatReq := projection.Request(req.Image, cfg.SystemPrompt)

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	userTurn := model.Message{
		ID:       uuid.New().String(),
		Role:     model.RoleUser,
		Text:     req.Text,
		HasImage: req.Image != nil,
	}

	ex, err := g.orchestrator.Start(ctx, stream.StartRequest{
		ProviderID:     id,
		Provider:       p,
		Request:        chatReq,
		RequiresAPIKey: g.requiresKey(id),
		Credential:     credential,
		Recorder: func(response string) error {
			return g.record(existing != nil, sessionID, id, p.GetModel(), userTurn, response)
		},
	})
	if err != nil {
		g.logger.Debug("completion rejected", zap.String("provider", id), zap.Error(err))
		return nil, err
	}

	g.logger.Debug("completion started",
		zap.String("provider", id),
		zap.String("model", p.GetModel()),
		zap.String("session_id", sessionID),
		zap.Int("history", len(chatReq.History)),
		zap.Bool("image", req.Image != nil))

	return &Completion{Exchange: ex, SessionID: sessionID}, nil
}

func (g *Gateway) record(exists bool, sessionID, providerID, modelID string, userTurn model.Message, response string) error {
	assistantTurn := model.Message{
		ID:   uuid.New().String(),
		Role: model.RoleAssistant,
		Text: response,
	}

	if exists {
		_, err := g.sessions.Update(sessionID, func(s *storage.Session) error {
			s.Messages = append(s.Messages, userTurn, assistantTurn)
			s.ProviderID = providerID
			s.ModelID = modelID
			return nil
		})
		if err != nil {
			return err
		}
	} else {
		_, err := g.sessions.Save(&storage.Session{
			ID:         sessionID,
			Title:      storage.GenerateSessionName(userTurn.Text),
			ProviderID: providerID,
			ModelID:    modelID,
			Messages:   []model.Message{userTurn, assistantTurn},
		})
		if err != nil {
			return err
		}
	}

	if err := g.sessions.SaveCurrentSessionID(sessionID); err != nil {
		g.logger.Warn("failed to record current session", zap.Error(err))
	}
	return nil
}

// CancelCompletion cancels the active exchange, if any.
func (g *Gateway) CancelCompletion() {
	g.orchestrator.CancelActive()
}

func (g *Gateway) ListSessions() ([]*storage.Session, error) {
	return g.sessions.ListAll()
}

func (g *Gateway) SearchSessions(query string) ([]*storage.Session, error) {
	return g.sessions.Search(query)
}

// SearchMessages returns message-level hits across all sessions.
func (g *Gateway) SearchMessages(query string) ([]storage.MessageMatch, error) {
	return storage.NewSearchIndex(g.sessions).SearchAllSessions(query)
}

func (g *Gateway) LoadSession(id string) (*storage.Session, error) {
	return g.sessions.Load(id)
}

func (g *Gateway) DeleteSession(id string) error {
	return g.sessions.Delete(id)
}

func (g *Gateway) RenameSession(id, title string) (*storage.Session, error) {
	return g.sessions.Rename(id, title)
}

func (g *Gateway) ToggleSessionSaved(id string) (*storage.Session, error) {
	return g.sessions.ToggleSaved(id)
}

// SetSessionSaved accepts loosely typed input from the UI layer and coerces
// it with storage.Truthy.
func (g *Gateway) SetSessionSaved(id string, saved any) (*storage.Session, error) {
	return g.sessions.SetSaved(id, storage.Truthy(saved))
}

// ProviderMeta is the UI view of one provider.
type ProviderMeta struct {
	registry.Descriptor
	HasCredential bool
	Models        []model.ModelInfo
	ModelsStale   bool
}

// GetProviderMeta lists every known provider with its current model list.
func (g *Gateway) GetProviderMeta() []ProviderMeta {
	descriptors := g.registry.List()
	out := make([]ProviderMeta, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, ProviderMeta{
			Descriptor:    d,
			HasCredential: g.credential(d.ID) != "",
			Models:        g.models.Models(d.ID),
			ModelsStale:   g.models.IsStale(d.ID),
		})
	}
	return out
}

// ListModels returns the cached model list of a provider without network.
func (g *Gateway) ListModels(providerID string) []model.ModelInfo {
	return g.models.Models(providerID)
}

// RefreshModels fetches a provider's model list and updates the cache.
func (g *Gateway) RefreshModels(ctx context.Context, providerID string) ([]model.ModelInfo, error) {
	return g.models.Refresh(ctx, providerID, g.credential(providerID))
}

// ValidateAPIKey checks the stored credential of a provider.
func (g *Gateway) ValidateAPIKey(ctx context.Context, providerID string) (bool, error) {
	id := strings.ToLower(providerID)
	result := g.factory.ValidateProvider(ctx, id, g.credential(id), g.providerConfig(id))
	return result.Valid, result.Err
}

const summaryPrompt = "Summarize the conversation below in a few sentences. " +
	"Keep names, decisions and open questions. Reply with the summary only.\n\n"

// Summarize asks a provider for a rolling summary of history.
func (g *Gateway) Summarize(ctx context.Context, providerID string, history []model.Message) (string, error) {
	id := strings.ToLower(providerID)
	credential := g.credential(id)
	if g.requiresKey(id) && credential == "" {
		return "", model.NewProviderError(id, model.ErrMissingAPIKey, 0, nil)
	}
	if len(history) == 0 {
		return "", nil
	}

	p, err := g.factory.Create(id, credential, g.providerConfig(id))
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(summaryPrompt)
	for _, msg := range history {
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Text)
	}

	summary, err := p.SendMessage(ctx, b.String(), nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(summary), nil
}

// SummarizeSession summarizes a stored session with its own provider and
// stores the result as the session summary.
func (g *Gateway) SummarizeSession(ctx context.Context, sessionID string) (*storage.Session, error) {
	session, err := g.sessions.Load(sessionID)
	if err != nil {
		return nil, err
	}

	summary, err := g.Summarize(ctx, session.ProviderID, session.Messages)
	if err != nil {
		return nil, err
	}

	return g.sessions.Update(sessionID, func(s *storage.Session) error {
		s.Summary = summary
		return nil
	})
}

func (g *Gateway) credential(providerID string) string {
	if g.credentials == nil {
		return ""
	}
	return g.credentials.Get(providerID)
}

func (g *Gateway) providerConfig(providerID string) config.ProviderConfig {
	if g.settings == nil {
		return config.ProviderConfig{}
	}
	return g.settings.Get(providerID)
}

// requiresKey treats providers missing from the registry as keyed.
func (g *Gateway) requiresKey(providerID string) bool {
	d, ok := g.registry.Get(providerID)
	if !ok {
		return true
	}
	return d.RequiresAPIKey
}
