package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"glimpse/model"
	"glimpse/provider/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOpenAI serves /chat/completions as SSE and /models as a list.
type fakeOpenAI struct {
	chunks       []string
	modelsStatus int
	chatStatus   int
	hits         atomic.Int32
	lastBody     atomic.Value // map[string]any
}

func (f *fakeOpenAI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.hits.Add(1)

	switch {
	case strings.HasSuffix(r.URL.Path, "/models"):
		if f.modelsStatus != 0 && f.modelsStatus != http.StatusOK {
			writeOpenAIError(w, f.modelsStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"object":"list","data":[{"id":"gpt-4o","object":"model","created":1,"owned_by":"openai"},{"id":"meta-llama/llama-3.2-90b","object":"model","created":1,"owned_by":"meta"}]}`)

	case strings.HasSuffix(r.URL.Path, "/chat/completions"):
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.lastBody.Store(body)

		if f.chatStatus != 0 && f.chatStatus != http.StatusOK {
			writeOpenAIError(w, f.chatStatus)
			return
		}

		if stream, _ := body["stream"].(bool); !stream {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o","choices":[{"index":0,"message":{"role":"assistant","content":%q},"finish_reason":"stop"}]}`,
				strings.Join(f.chunks, ""))
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range f.chunks {
			fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q},\"finish_reason\":null}]}\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")

	default:
		http.NotFound(w, r)
	}
}

func writeOpenAIError(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprint(w, `{"error":{"message":"nope","type":"invalid_request_error","code":"invalid_api_key"}}`)
}

func newOpenAITestProvider(t *testing.T, fake *fakeOpenAI, key string, compatible bool) *OpenAIProvider {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	opts := Options{
		ProviderID:     "openai",
		APIKey:         key,
		BaseURL:        srv.URL + "/v1",
		Model:          "gpt-4o",
		RequiresAPIKey: true,
		HTTPClient:     srv.Client(),
	}
	if compatible {
		opts.ProviderID = "openrouter"
		p, err := NewOpenAICompatibleProvider(opts)
		require.NoError(t, err)
		return p.(*OpenAIProvider)
	}
	p, err := NewOpenAIProvider(opts)
	require.NoError(t, err)
	return p.(*OpenAIProvider)
}

func TestOpenAIStreamResponse(t *testing.T) {
	fake := &fakeOpenAI{chunks: []string{"Hel", "", "lo"}}
	p := newOpenAITestProvider(t, fake, "sk-test", false)

	var got []string
	err := p.StreamResponse(context.Background(), model.ChatRequest{
		Text:    "hi",
		History: testutil.TestMessages()[:2],
	}, func(chunk string) error {
		got = append(got, chunk)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, got, "empty deltas are not forwarded")

	body := fake.lastBody.Load().(map[string]any)
	assert.Equal(t, "gpt-4o", body["model"])
	assert.Len(t, body["messages"], 3)
}

func TestOpenAIStreamCallbackErrorStops(t *testing.T) {
	fake := &fakeOpenAI{chunks: []string{"a", "b", "c"}}
	p := newOpenAITestProvider(t, fake, "sk-test", false)

	stop := fmt.Errorf("stop")
	calls := 0
	err := p.StreamResponse(context.Background(), model.ChatRequest{Text: "hi"}, func(string) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestOpenAIStreamCancelledContext(t *testing.T) {
	fake := &fakeOpenAI{chunks: []string{"a", "b", "c"}}
	p := newOpenAITestProvider(t, fake, "sk-test", false)

	ctx, cancel := context.WithCancel(context.Background())
	var got []string
	err := p.StreamResponse(ctx, model.ChatRequest{Text: "hi"}, func(chunk string) error {
		got = append(got, chunk)
		cancel()
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, []string{"a"}, got)
}

func TestOpenAIUnauthorizedMapsToUnauthenticated(t *testing.T) {
	fake := &fakeOpenAI{chatStatus: http.StatusUnauthorized}
	p := newOpenAITestProvider(t, fake, "sk-bad", false)

	err := p.StreamResponse(context.Background(), model.ChatRequest{Text: "hi"}, func(string) error { return nil })
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrUnauthenticated)

	var pe *model.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusUnauthorized, pe.StatusCode)
	assert.True(t, model.NeedsReconfigure(err))
}

func TestOpenAIMissingKeyDoesNotTouchNetwork(t *testing.T) {
	fake := &fakeOpenAI{chunks: []string{"x"}}
	p := newOpenAITestProvider(t, fake, "", false)

	err := p.StreamResponse(context.Background(), model.ChatRequest{Text: "hi"}, func(string) error { return nil })
	assert.ErrorIs(t, err, model.ErrUnauthenticated)

	_, err = p.SendMessage(context.Background(), "hi", nil)
	assert.ErrorIs(t, err, model.ErrUnauthenticated)

	assert.False(t, p.ValidateAPIKey(context.Background()))
	assert.EqualValues(t, 0, fake.hits.Load())
}

func TestOpenAISendMessage(t *testing.T) {
	fake := &fakeOpenAI{chunks: []string{"whole ", "reply"}}
	p := newOpenAITestProvider(t, fake, "sk-test", false)

	reply, err := p.SendMessage(context.Background(), "hi", testutil.TestImage())
	require.NoError(t, err)
	assert.Equal(t, "whole reply", reply)
}

func TestOpenAIListModels(t *testing.T) {
	fake := &fakeOpenAI{}

	native := newOpenAITestProvider(t, fake, "sk-test", false)
	models, err := native.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "meta-llama/llama-3.2-90b", models[1].DisplayName)

	compat := newOpenAITestProvider(t, fake, "sk-test", true)
	models, err = compat.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "meta-llama/llama-3.2-90b", models[1].ID)
	assert.Equal(t, "llama-3.2-90b", models[1].DisplayName)
}

func TestOpenAIValidateAPIKey(t *testing.T) {
	tests := []struct {
		name         string
		compatible   bool
		modelsStatus int
		chatStatus   int
		want         bool
	}{
		{"models ok", false, http.StatusOK, 0, true},
		{"models unauthorized", false, http.StatusUnauthorized, 0, false},
		{"native 404 has no fallback", false, http.StatusNotFound, 0, false},
		{"compatible 404 falls back to completion", true, http.StatusNotFound, 0, true},
		{"compatible 405 fallback rejected key", true, http.StatusMethodNotAllowed, http.StatusUnauthorized, false},
		{"compatible fallback bad request still authenticates", true, http.StatusNotFound, http.StatusBadRequest, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeOpenAI{modelsStatus: tt.modelsStatus, chatStatus: tt.chatStatus, chunks: []string{"p"}}
			p := newOpenAITestProvider(t, fake, "sk-test", tt.compatible)
			assert.Equal(t, tt.want, p.ValidateAPIKey(context.Background()))
		})
	}
}

func TestOpenAICompatibleRequiresBaseURL(t *testing.T) {
	_, err := NewOpenAICompatibleProvider(Options{ProviderID: "custom"})
	assert.Error(t, err)
}

func TestOpenAIKeylessCompatibleProvider(t *testing.T) {
	fake := &fakeOpenAI{chunks: []string{"local"}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	p, err := NewOpenAICompatibleProvider(Options{
		ProviderID: "lmstudio",
		BaseURL:    srv.URL + "/v1",
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)

	var got string
	err = p.StreamResponse(context.Background(), model.ChatRequest{Text: "hi"}, func(c string) error {
		got += c
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "local", got)
}
