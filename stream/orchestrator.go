// Package stream runs one provider exchange at a time and turns the
// adapter's chunk callbacks into an ordered event sequence.
package stream

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"glimpse/model"
)

// State is the lifecycle of an exchange.
type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

type EventType int

const (
	EventChunk EventType = iota
	EventComplete
	EventError
	EventCancelled
)

func (t EventType) String() string {
	switch t {
	case EventChunk:
		return "chunk"
	case EventComplete:
		return "complete"
	case EventError:
		return "error"
	case EventCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event is one item of an exchange's output.
//
// Chunk carries the text delta of an EventChunk. Text is the full response on
// EventComplete. Err is the failure of an EventError, or a persistence
// failure reported alongside an otherwise delivered EventComplete.
type Event struct {
	Type  EventType
	Chunk string
	Text  string
	Err   error
}

// Terminal reports whether the event ends the exchange.
func (e Event) Terminal() bool {
	return e.Type != EventChunk
}

// Recorder runs with the complete response before EventComplete is emitted.
type Recorder func(response string) error

// StartRequest describes one exchange.
type StartRequest struct {
	ProviderID     string
	Provider       model.Provider
	Request        model.ChatRequest
	RequiresAPIKey bool
	Credential     string
	Recorder       Recorder
}

// Orchestrator owns at most one active exchange.
type Orchestrator struct {
	logger *zap.Logger

	mu     sync.Mutex
	active *Exchange
}

func NewOrchestrator(logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{logger: logger.With(zap.String("component", "stream"))}
}

// Start begins a streaming exchange and returns immediately.
//
// A keyed provider without a credential fails with model.ErrMissingAPIKey
// before the adapter is touched. A started exchange supersedes the active
// one, which ends Cancelled.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (*Exchange, error) {
	if req.RequiresAPIKey && req.Credential == "" {
		return nil, model.NewProviderError(req.ProviderID, model.ErrMissingAPIKey, 0, nil)
	}
	if req.Provider == nil {
		return nil, fmt.Errorf("%w: %s (no adapter)", model.ErrUnknownProvider, req.ProviderID)
	}

	exCtx, cancel := context.WithCancel(ctx)
	ex := &Exchange{
		id:         uuid.New().String(),
		providerID: req.ProviderID,
		ctx:        exCtx,
		cancel:     cancel,
		finished:   make(chan struct{}),
		done:       make(chan struct{}),
	}
	ex.cond = sync.NewCond(&ex.mu)
	ex.onEnd = func() { o.clear(ex) }
	ex.logger = o.logger.With(
		zap.String("exchange_id", ex.id),
		zap.String("provider", req.ProviderID))

	o.mu.Lock()
	previous := o.active
	o.active = ex
	o.mu.Unlock()

	if previous != nil {
		previous.logger.Debug("exchange superseded", zap.String("by", ex.id))
		previous.Cancel()
	}

	ex.transition(StateSending)

	go ex.run(req)
	return ex, nil
}

// Active returns the running exchange, or nil.
func (o *Orchestrator) Active() *Exchange {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// CancelActive cancels the running exchange, if any.
func (o *Orchestrator) CancelActive() {
	if ex := o.Active(); ex != nil {
		ex.Cancel()
	}
}

func (o *Orchestrator) clear(ex *Exchange) {
	o.mu.Lock()
	if o.active == ex {
		o.active = nil
	}
	o.mu.Unlock()
}

// Exchange is one request/response cycle. Consume it with Next or Events;
// exactly one terminal event follows the chunks.
type Exchange struct {
	id         string
	providerID string
	logger     *zap.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	onEnd      func()

	mu        sync.Mutex
	cond      *sync.Cond
	state     State
	queue     []Event
	ended     bool // terminal event queued
	committed bool // recorder started; Cancel no longer applies
	delivered bool // terminal event handed out
	response  strings.Builder

	done     chan struct{}
	finished chan struct{}
}

func (ex *Exchange) ID() string { return ex.id }

func (ex *Exchange) ProviderID() string { return ex.providerID }

func (ex *Exchange) State() State {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.state
}

// Response returns the text streamed so far.
func (ex *Exchange) Response() string {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.response.String()
}

// Done is closed once the terminal event is queued.
func (ex *Exchange) Done() <-chan struct{} {
	return ex.done
}

// Wait blocks until the adapter call has returned.
func (ex *Exchange) Wait() {
	<-ex.finished
}

// Cancel stops the exchange. It is idempotent, and once it returns no
// further chunk is delivered; chunks queued but not yet read are dropped.
// Once the response is being recorded the exchange is committed and Cancel
// has no effect; it ends Completed.
func (ex *Exchange) Cancel() {
	ex.mu.Lock()
	if ex.ended || ex.committed {
		ex.mu.Unlock()
		return
	}
	ex.queue = ex.queue[:0]
	ex.endLocked(StateCancelled, Event{Type: EventCancelled, Err: model.ErrStreamCancelled})
	ex.mu.Unlock()

	ex.cancel()
	ex.onEnd()
}

// Next blocks for the next event. It returns false after the terminal event
// has been delivered.
func (ex *Exchange) Next() (Event, bool) {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	for len(ex.queue) == 0 && !ex.delivered {
		ex.cond.Wait()
	}
	if len(ex.queue) == 0 {
		return Event{}, false
	}

	ev := ex.queue[0]
	ex.queue = ex.queue[1:]
	if ev.Terminal() {
		ex.delivered = true
	}
	return ev, true
}

// Events ranges over the remaining events, terminal event included.
func (ex *Exchange) Events() iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for {
			ev, ok := ex.Next()
			if !ok || !yield(ev) {
				return
			}
		}
	}
}

func (ex *Exchange) run(req StartRequest) {
	defer close(ex.finished)

	err := req.Provider.StreamResponse(ex.ctx, req.Request, ex.push)

	if err == nil && ex.ctx.Err() != nil {
		// Adapters return nil when they stop on a cancelled context.
		err = ex.ctx.Err()
	}

	switch {
	case ex.isEnded():
		// Cancelled (or superseded) while streaming.
	case errors.Is(err, context.Canceled), errors.Is(err, model.ErrStreamCancelled):
		ex.end(StateCancelled, Event{Type: EventCancelled, Err: model.ErrStreamCancelled})
	case err != nil:
		ex.logger.Debug("exchange failed", zap.Error(err))
		ex.end(StateFailed, Event{Type: EventError, Err: err})
	default:
		ex.complete(req.Recorder)
	}

	ex.cancel()
}

func (ex *Exchange) complete(record Recorder) {
	ex.mu.Lock()
	if ex.ended {
		ex.mu.Unlock()
		return
	}
	ex.committed = true
	response := ex.response.String()
	ex.mu.Unlock()

	var recErr error
	if record != nil {
		if err := record(response); err != nil {
			recErr = err
			if !errors.Is(err, model.ErrPersistenceIO) {
				recErr = fmt.Errorf("%w: %w", model.ErrPersistenceIO, err)
			}
			ex.logger.Warn("failed to record exchange", zap.Error(err))
		}
	}

	ex.end(StateCompleted, Event{Type: EventComplete, Text: response, Err: recErr})
}

// push is the adapter's chunk callback.
func (ex *Exchange) push(chunk string) error {
	if chunk == "" {
		return nil
	}

	ex.mu.Lock()
	defer ex.mu.Unlock()

	if ex.ended || ex.committed {
		return context.Canceled
	}
	if ex.state == StateSending {
		ex.setStateLocked(StateStreaming)
	}
	ex.response.WriteString(chunk)
	ex.queue = append(ex.queue, Event{Type: EventChunk, Chunk: chunk})
	ex.cond.Broadcast()
	return nil
}

func (ex *Exchange) isEnded() bool {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.ended
}

func (ex *Exchange) end(state State, ev Event) {
	ex.mu.Lock()
	if ex.ended {
		ex.mu.Unlock()
		return
	}
	ex.endLocked(state, ev)
	ex.mu.Unlock()

	ex.onEnd()
}

func (ex *Exchange) endLocked(state State, ev Event) {
	ex.ended = true
	ex.setStateLocked(state)
	ex.queue = append(ex.queue, ev)
	close(ex.done)
	ex.cond.Broadcast()
}

func (ex *Exchange) transition(state State) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	ex.setStateLocked(state)
}

func (ex *Exchange) setStateLocked(state State) {
	if ex.state == state {
		return
	}
	ex.logger.Debug("exchange state",
		zap.Stringer("from", ex.state),
		zap.Stringer("to", state))
	ex.state = state
}
