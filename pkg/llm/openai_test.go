package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acervolabs/acervo/pkg/apperr"
)

func TestNewOpenAIProviderRequiresAPIKey(t *testing.T) {
	_, err := NewOpenAIProvider(OpenAIConfig{})
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidConfiguration))
}

func TestProviderNames(t *testing.T) {
	assert.Equal(t, "ollama", NewOllamaProvider(LocalConfig{}).Name())
	assert.Equal(t, "lmstudio", NewLMStudioProvider(LocalConfig{}).Name())
}

func TestModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/models", r.URL.Path)
		w.Write([]byte(`{"data":[{"id":"llama3"},{"id":"nomic-embed-text"}]}`))
	}))
	defer srv.Close()

	p := NewOllamaProvider(LocalConfig{BaseURL: srv.URL})
	models, err := p.Models(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"llama3", "nomic-embed-text"}, models)
}

func TestEmbedBatchOrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)

		var req embeddingsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		assert.Equal(t, []string{"first", "second"}, req.Input)

		// Deliberately out of order: the client must sort by index.
		w.Write([]byte(`{"data":[
			{"index":1,"embedding":[2.0]},
			{"index":0,"embedding":[1.0]}
		],"usage":{"total_tokens":4}}`))
	}))
	defer srv.Close()

	p := NewOllamaProvider(LocalConfig{BaseURL: srv.URL})
	vectors, err := p.EmbedBatch(context.Background(), []string{"first", "second"}, "nomic-embed-text")
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1.0}, {2.0}}, vectors)
}

func TestEmbedBatchRejectsShortResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"index":0,"embedding":[1.0]}]}`))
	}))
	defer srv.Close()

	p := NewOllamaProvider(LocalConfig{BaseURL: srv.URL})
	_, err := p.EmbedBatch(context.Background(), []string{"a", "b"}, "m")
	assert.True(t, apperr.IsKind(err, apperr.KindProviderUnavailable))
}

func TestCompleteSendsSystemAndAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "user", req.Messages[1].Role)

		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"done"}}],"usage":{"total_tokens":7}}`))
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL})
	require.NoError(t, err)

	out, err := p.Complete(context.Background(), CompletionParams{
		Model:  "gpt-4o-mini",
		System: "be brief",
		Prompt: "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "done", out)
}

func TestStatusErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		kind   apperr.Kind
	}{
		{http.StatusTooManyRequests, apperr.KindRateLimited},
		{http.StatusNotFound, apperr.KindModelNotFound},
		{http.StatusBadRequest, apperr.KindInvalidInput},
		{http.StatusUnauthorized, apperr.KindInvalidConfiguration},
		{http.StatusInternalServerError, apperr.KindProviderUnavailable},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			w.Write([]byte(`{"error":{"message":"nope"}}`))
		}))

		p := NewOllamaProvider(LocalConfig{BaseURL: srv.URL})
		_, err := p.Embed(context.Background(), "text", "m")
		assert.True(t, apperr.IsKind(err, tt.kind), "status %d should map to %s, got %v", tt.status, tt.kind, err)
		srv.Close()
	}
}

func TestUnreachableServer(t *testing.T) {
	p := NewOllamaProvider(LocalConfig{BaseURL: "http://127.0.0.1:1"})
	_, err := p.Models(context.Background())
	assert.True(t, apperr.IsKind(err, apperr.KindProviderUnavailable))
}
