package cli

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/ragindex/internal/config"
	"github.com/hyperjump/ragindex/internal/models"
	"github.com/hyperjump/ragindex/internal/rag"
	"github.com/hyperjump/ragindex/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Storage: config.StorageConfig{
			DatabasePath:      filepath.Join(dir, "rag_index.db"),
			PersistDebounceMS: int(time.Hour / time.Millisecond),
		},
		Embedding: config.EmbeddingConfig{Provider: "hash", Dimensions: 32},
	}
	config.ApplyDefaults(cfg)
	m := rag.NewManager(cfg)
	_, err := m.Load(context.Background())
	require.NoError(t, err)
	t.Cleanup(m.Reset)

	ts := httptest.NewServer(server.NewServer(m, &cfg.Server, nil, nil, "", nil).Routes())
	t.Cleanup(ts.Close)
	return NewClient(ts.URL + "/")
}

func TestClient_RoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	require.True(t, c.Ping(ctx))

	path := filepath.Join(t.TempDir(), "faq.csv")
	require.NoError(t, os.WriteFile(path, []byte("question,answer\nHow do I pay?,By card\nWhere is my order?,In transit\n"), 0600))

	res, err := c.IndexFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 2, res.IndexedCount)

	_, err = c.IndexFile(ctx, path)
	assert.ErrorIs(t, err, ErrUnchanged)

	resp, err := c.Search(ctx, &models.SearchQuery{Query: "question: How do I pay? | answer: By card", TopK: 1})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, res.DatasetID+"_row_0", resp.Results[0].Document.ID)

	bundle, err := c.Context(ctx, &models.ContextQuery{SearchQuery: models.SearchQuery{Query: "Where is my order?"}})
	require.NoError(t, err)
	assert.Equal(t, bundle.ContextCount > 0, bundle.HasContext)

	datasets, err := c.Datasets(ctx, true)
	require.NoError(t, err)
	require.Len(t, datasets, 1)
	assert.Len(t, datasets[0].Documents, 2)

	report, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.TotalDocuments)
	assert.Equal(t, "ready", report.EngineState)

	removed, err := c.RemoveDataset(ctx, datasets[0].DatasetID)
	require.NoError(t, err)
	assert.Equal(t, 2, removed.RemovedDocuments)
}

func TestClient_Errors(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.RemoveDataset(ctx, "missing")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Contains(t, se.Message, "not found")

	_, err = c.Search(ctx, &models.SearchQuery{})
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.Code)

	_, err = c.WatchList(ctx)
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotImplemented, se.Code)

	assert.False(t, NewClient("http://127.0.0.1:1").Ping(ctx))
}
