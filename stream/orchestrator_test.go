package stream

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"glimpse/model"
	"glimpse/provider/testutil"
)

// endlessStream emits chunks until its context is cancelled or the callback
// refuses one.
func endlessStream(ctx context.Context, _ model.ChatRequest, onChunk model.StreamCallback) error {
	for i := 0; ; i++ {
		if ctx.Err() != nil {
			return nil
		}
		if err := onChunk(fmt.Sprintf("c%d ", i)); err != nil {
			return err
		}
		time.Sleep(time.Millisecond)
	}
}

func chunksStream(chunks ...string) func(context.Context, model.ChatRequest, model.StreamCallback) error {
	return func(ctx context.Context, _ model.ChatRequest, onChunk model.StreamCallback) error {
		for _, c := range chunks {
			if ctx.Err() != nil {
				return nil
			}
			if err := onChunk(c); err != nil {
				return err
			}
		}
		return nil
	}
}

func collect(ex *Exchange) []Event {
	var events []Event
	for ev := range ex.Events() {
		events = append(events, ev)
	}
	return events
}

func terminalCount(events []Event) int {
	n := 0
	for _, ev := range events {
		if ev.Terminal() {
			n++
		}
	}
	return n
}

func TestExchangeCompletes(t *testing.T) {
	mock := testutil.NewMockProvider("mock", "m")
	mock.StreamFunc = chunksStream("Hel", "", "lo")

	var recorded atomic.Value
	o := NewOrchestrator(nil)
	ex, err := o.Start(context.Background(), StartRequest{
		ProviderID: "mock",
		Provider:   mock,
		Request:    model.ChatRequest{Text: "hi"},
		Recorder: func(response string) error {
			recorded.Store(response)
			return nil
		},
	})
	require.NoError(t, err)

	events := collect(ex)
	require.Len(t, events, 3)
	assert.Equal(t, Event{Type: EventChunk, Chunk: "Hel"}, events[0])
	assert.Equal(t, Event{Type: EventChunk, Chunk: "lo"}, events[1])
	assert.Equal(t, EventComplete, events[2].Type)
	assert.Equal(t, "Hello", events[2].Text)
	assert.NoError(t, events[2].Err)

	assert.Equal(t, "Hello", recorded.Load())
	assert.Equal(t, StateCompleted, ex.State())
	assert.Equal(t, "hi", mock.LastRequest().Text)

	ex.Wait()
	assert.Nil(t, o.Active())

	_, ok := ex.Next()
	assert.False(t, ok)
}

func TestCancelAfterChunks(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 10).Draw(rt, "chunks before cancel")

		mock := testutil.NewMockProvider("mock", "m")
		mock.StreamFunc = endlessStream
		var recorderCalls atomic.Int32

		ex, err := NewOrchestrator(nil).Start(context.Background(), StartRequest{
			ProviderID: "mock",
			Provider:   mock,
			Recorder: func(string) error {
				recorderCalls.Add(1)
				return nil
			},
		})
		require.NoError(rt, err)

		for i := 0; i < n; i++ {
			ev, ok := ex.Next()
			require.True(rt, ok)
			require.Equal(rt, EventChunk, ev.Type)
		}
		ex.Cancel()

		rest := collect(ex)
		if len(rest) != 1 || rest[0].Type != EventCancelled {
			rt.Fatalf("expected exactly one cancelled event after cancel, got %v", rest)
		}
		ex.Wait()

		if recorderCalls.Load() != 0 {
			rt.Fatalf("recorder ran for a cancelled exchange")
		}
		if ex.State() != StateCancelled {
			rt.Fatalf("state %v after cancel", ex.State())
		}
	})
}

func TestCancelIsIdempotent(t *testing.T) {
	mock := testutil.NewMockProvider("mock", "m")
	mock.StreamFunc = endlessStream

	ex, err := NewOrchestrator(nil).Start(context.Background(), StartRequest{ProviderID: "mock", Provider: mock})
	require.NoError(t, err)

	ex.Cancel()
	ex.Cancel()
	events := collect(ex)
	assert.Equal(t, 1, terminalCount(events))
	assert.ErrorIs(t, events[len(events)-1].Err, model.ErrStreamCancelled)
	ex.Wait()
}

func TestCancelAfterCompleteIsNoop(t *testing.T) {
	mock := testutil.NewMockProvider("mock", "m")
	ex, err := NewOrchestrator(nil).Start(context.Background(), StartRequest{ProviderID: "mock", Provider: mock})
	require.NoError(t, err)

	events := collect(ex)
	ex.Cancel()
	assert.Equal(t, StateCompleted, ex.State())
	assert.Equal(t, EventComplete, events[len(events)-1].Type)
}

func TestMissingAPIKeyFailsFast(t *testing.T) {
	mock := testutil.NewMockProvider("mock", "m")
	o := NewOrchestrator(nil)

	ex, err := o.Start(context.Background(), StartRequest{
		ProviderID:     "mock",
		Provider:       mock,
		RequiresAPIKey: true,
	})
	assert.Nil(t, ex)
	assert.ErrorIs(t, err, model.ErrMissingAPIKey)
	assert.True(t, model.NeedsReconfigure(err))
	assert.Equal(t, int32(0), mock.StreamCalls.Load())
	assert.Nil(t, o.Active())
}

func TestKeylessProviderWithEmptyCredentialStarts(t *testing.T) {
	mock := testutil.NewMockProvider("mock", "m")
	ex, err := NewOrchestrator(nil).Start(context.Background(), StartRequest{ProviderID: "mock", Provider: mock})
	require.NoError(t, err)

	events := collect(ex)
	assert.Equal(t, EventComplete, events[len(events)-1].Type)
	assert.Equal(t, "Mock response", events[len(events)-1].Text)
}

func TestNewExchangeSupersedesActive(t *testing.T) {
	first := testutil.NewMockProvider("slow", "m")
	first.StreamFunc = endlessStream
	second := testutil.NewMockProvider("fast", "m")

	var firstRecorded atomic.Int32
	o := NewOrchestrator(nil)
	exA, err := o.Start(context.Background(), StartRequest{
		ProviderID: "slow",
		Provider:   first,
		Recorder: func(string) error {
			firstRecorded.Add(1)
			return nil
		},
	})
	require.NoError(t, err)

	ev, ok := exA.Next()
	require.True(t, ok)
	require.Equal(t, EventChunk, ev.Type)

	exB, err := o.Start(context.Background(), StartRequest{ProviderID: "fast", Provider: second})
	require.NoError(t, err)

	eventsA := collect(exA)
	require.NotEmpty(t, eventsA)
	assert.Equal(t, EventCancelled, eventsA[len(eventsA)-1].Type)
	for _, ev := range eventsA {
		assert.NotEqual(t, EventComplete, ev.Type)
	}
	assert.Equal(t, 1, terminalCount(eventsA))

	eventsB := collect(exB)
	assert.Equal(t, EventComplete, eventsB[len(eventsB)-1].Type)

	exA.Wait()
	assert.Zero(t, firstRecorded.Load())
}

func TestAdapterErrorFailsExchange(t *testing.T) {
	mock := testutil.NewMockProvider("mock", "m")
	mock.StreamFunc = func(ctx context.Context, req model.ChatRequest, onChunk model.StreamCallback) error {
		if err := onChunk("partial"); err != nil {
			return err
		}
		return model.NewProviderError("mock", model.ErrUnauthenticated, 401, errors.New("bad key"))
	}
	var recorded atomic.Int32

	ex, err := NewOrchestrator(nil).Start(context.Background(), StartRequest{
		ProviderID: "mock",
		Provider:   mock,
		Credential: "sk-wrong",
		Recorder: func(string) error {
			recorded.Add(1)
			return nil
		},
	})
	require.NoError(t, err)

	events := collect(ex)
	require.Len(t, events, 2)
	assert.Equal(t, EventChunk, events[0].Type)
	assert.Equal(t, EventError, events[1].Type)
	assert.ErrorIs(t, events[1].Err, model.ErrUnauthenticated)
	assert.True(t, model.NeedsReconfigure(events[1].Err))
	assert.Equal(t, StateFailed, ex.State())
	assert.Zero(t, recorded.Load())
}

func TestRecorderErrorReportedOnComplete(t *testing.T) {
	mock := testutil.NewMockProvider("mock", "m")
	ex, err := NewOrchestrator(nil).Start(context.Background(), StartRequest{
		ProviderID: "mock",
		Provider:   mock,
		Recorder:   func(string) error { return errors.New("disk full") },
	})
	require.NoError(t, err)

	events := collect(ex)
	last := events[len(events)-1]
	assert.Equal(t, EventComplete, last.Type)
	assert.Equal(t, "Mock response", last.Text)
	assert.ErrorIs(t, last.Err, model.ErrPersistenceIO)
	assert.Equal(t, StateCompleted, ex.State())
}

func TestCancelDuringRecordIsNoop(t *testing.T) {
	mock := testutil.NewMockProvider("mock", "m")
	entered := make(chan struct{})
	release := make(chan struct{})
	var recorded atomic.Int32

	ex, err := NewOrchestrator(nil).Start(context.Background(), StartRequest{
		ProviderID: "mock",
		Provider:   mock,
		Recorder: func(string) error {
			close(entered)
			<-release
			recorded.Add(1)
			return nil
		},
	})
	require.NoError(t, err)

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("recorder not called")
	}
	ex.Cancel()
	close(release)

	events := collect(ex)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventComplete, last.Type)
	assert.NoError(t, last.Err)
	assert.Equal(t, 1, terminalCount(events))
	assert.Equal(t, StateCompleted, ex.State())
	assert.Equal(t, int32(1), recorded.Load())
}

func TestSupersedeDuringRecordKeepsCompletion(t *testing.T) {
	first := testutil.NewMockProvider("first", "m")
	entered := make(chan struct{})
	release := make(chan struct{})

	o := NewOrchestrator(nil)
	exA, err := o.Start(context.Background(), StartRequest{
		ProviderID: "first",
		Provider:   first,
		Recorder: func(string) error {
			close(entered)
			<-release
			return nil
		},
	})
	require.NoError(t, err)
	<-entered

	exB, err := o.Start(context.Background(), StartRequest{ProviderID: "second", Provider: testutil.NewMockProvider("second", "m")})
	require.NoError(t, err)
	close(release)

	eventsA := collect(exA)
	assert.Equal(t, EventComplete, eventsA[len(eventsA)-1].Type)
	assert.Equal(t, StateCompleted, exA.State())

	eventsB := collect(exB)
	assert.Equal(t, EventComplete, eventsB[len(eventsB)-1].Type)
}

func TestParentContextCancellation(t *testing.T) {
	mock := testutil.NewMockProvider("mock", "m")
	mock.StreamFunc = endlessStream

	ctx, cancel := context.WithCancel(context.Background())
	ex, err := NewOrchestrator(nil).Start(ctx, StartRequest{ProviderID: "mock", Provider: mock})
	require.NoError(t, err)

	_, ok := ex.Next()
	require.True(t, ok)
	cancel()

	events := collect(ex)
	assert.Equal(t, EventCancelled, events[len(events)-1].Type)
	assert.Equal(t, 1, terminalCount(events))
	assert.Equal(t, StateCancelled, ex.State())
}

func TestCancelActive(t *testing.T) {
	mock := testutil.NewMockProvider("mock", "m")
	mock.StreamFunc = endlessStream
	o := NewOrchestrator(nil)

	o.CancelActive()

	ex, err := o.Start(context.Background(), StartRequest{ProviderID: "mock", Provider: mock})
	require.NoError(t, err)
	assert.Same(t, ex, o.Active())

	o.CancelActive()
	select {
	case <-ex.Done():
	case <-time.After(time.Second):
		t.Fatal("exchange not done after CancelActive")
	}
	assert.Nil(t, o.Active())
	assert.Equal(t, StateCancelled, ex.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "streaming", StateStreaming.String())
	assert.True(t, StateCancelled.Terminal())
	assert.False(t, StateSending.Terminal())
	assert.Equal(t, "complete", EventComplete.String())
}
