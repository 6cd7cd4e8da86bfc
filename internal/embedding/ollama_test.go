package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOllamaServer(t *testing.T, dims int, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/api/embeddings" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Prompt == "boom" {
			http.Error(w, "model crashed", http.StatusInternalServerError)
			return
		}
		v, _ := NewHashEmbedder(dims).Embed(r.Context(), req.Prompt)
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: v})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaEmbedder_Embed(t *testing.T) {
	var calls atomic.Int32
	srv := newOllamaServer(t, 16, &calls)
	emb := NewOllamaEmbedder(srv.URL+"/", "test-model", WithRateLimit(1000))
	defer emb.Close()

	assert.Equal(t, 0, emb.Dimensions())
	v, err := emb.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Len(t, v, 16)
	assert.Equal(t, 16, emb.Dimensions(), "dimension is learned from the first response")
	assert.Equal(t, "test-model", emb.Model())
}

func TestOllamaEmbedder_ErrorStatus(t *testing.T) {
	var calls atomic.Int32
	srv := newOllamaServer(t, 8, &calls)
	emb := NewOllamaEmbedder(srv.URL, "m")

	_, err := emb.Embed(context.Background(), "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestOllamaEmbedder_DimensionMismatch(t *testing.T) {
	var calls atomic.Int32
	srv := newOllamaServer(t, 8, &calls)
	emb := NewOllamaEmbedder(srv.URL, "m", WithDimensions(4))

	_, err := emb.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 4")
}

func TestOllamaEmbedder_EmbedBatchKeepsOrder(t *testing.T) {
	var calls atomic.Int32
	srv := newOllamaServer(t, 8, &calls)
	emb := NewOllamaEmbedder(srv.URL, "m", WithConcurrency(3))

	texts := []string{"alpha", "beta", "gamma", "delta", "epsilon"}
	got, err := emb.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, got, len(texts))
	for i, text := range texts {
		want, _ := NewHashEmbedder(8).Embed(context.Background(), text)
		assert.Equal(t, want, got[i], text)
	}
	assert.Equal(t, int32(len(texts)), calls.Load())

	_, err = emb.EmbedBatch(context.Background(), []string{"ok", "boom"})
	assert.Error(t, err)
}
