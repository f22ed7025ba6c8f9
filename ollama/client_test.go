package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ollama/ollama/api"
)

func newFakeServer(t *testing.T, chunks []string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		var req api.ChatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, c := range chunks {
			fmt.Fprintf(w, `{"model":%q,"message":{"role":"assistant","content":%q},"done":false}`+"\n", req.Model, c)
		}
		fmt.Fprintf(w, `{"model":%q,"message":{"role":"assistant","content":""},"done":true}`+"\n", req.Model)
	})
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"models":[{"name":"llava:latest","model":"llava:latest","size":4000},{"name":"llama3.2-vision:latest","model":"llama3.2-vision:latest","size":8000}]}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestNewClientDefaults(t *testing.T) {
	c, err := NewClient("", "", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, c.BaseURL())
	assert.Equal(t, DefaultModel, c.GetModel())

	c.SetModel("llava:latest")
	assert.Equal(t, "llava:latest", c.GetModel())
}

func TestNewClientInvalidURL(t *testing.T) {
	_, err := NewClient("://bad", "", nil)
	assert.Error(t, err)
}

func TestClientChatStreams(t *testing.T) {
	srv := newFakeServer(t, []string{"Hel", "lo"})
	c, err := NewClient(srv.URL, "llava:latest", srv.Client())
	require.NoError(t, err)

	var got []string
	err = c.Chat(context.Background(), []api.Message{{Role: "user", Content: "hi"}}, func(chunk string) error {
		got = append(got, chunk)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, got)
}

func TestClientChatOnce(t *testing.T) {
	srv := newFakeServer(t, []string{"full ", "answer"})
	c, err := NewClient(srv.URL, "llava:latest", srv.Client())
	require.NoError(t, err)

	reply, err := c.ChatOnce(context.Background(), []api.Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "full answer", reply)
}

func TestClientListModels(t *testing.T) {
	srv := newFakeServer(t, nil)
	c, err := NewClient(srv.URL, "", srv.Client())
	require.NoError(t, err)

	models, err := c.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "llava:latest", models[0].ID)
	assert.Equal(t, "llava:latest", models[0].DisplayName)

	assert.NoError(t, c.Ping(context.Background()))
}

func TestModelSupportsVision(t *testing.T) {
	tests := []struct {
		model string
		want  bool
	}{
		{"llama3.2-vision:11b", true},
		{"LLaVA:latest", true},
		{"qwen2.5vl:7b", true},
		{"llama3.1:latest", false},
		{"qwen2.5-coder", false},
		{"unknown-model", false},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, ModelSupportsVision(tt.model))
		})
	}
}
