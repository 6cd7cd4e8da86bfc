package rag

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperjump/ragindex/internal/config"
	"github.com/hyperjump/ragindex/internal/embedding"
	"github.com/hyperjump/ragindex/internal/lifecycle"
	"github.com/hyperjump/ragindex/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// topicEmbedder places synonyms on shared axes.
type topicEmbedder struct {
	*embedding.HashEmbedder
}

var topics = map[string]int{
	"cat": 0, "cats": 0, "feline": 0,
	"dog": 1, "dogs": 1, "bark": 1,
	"behavior": 2, "sat": 2, "pets": 2,
}

func newTopicEmbedder() *topicEmbedder {
	return &topicEmbedder{HashEmbedder: embedding.NewHashEmbedder(4)}
}

func (e *topicEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v := make([]float32, 4)
	v[3] = 0.01
	for _, w := range strings.Fields(strings.ToLower(text)) {
		if i, ok := topics[strings.Trim(w, ".,")]; ok {
			v[i]++
		}
	}
	return v, nil
}

func (e *topicEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}

func (e *topicEmbedder) Dimensions() int { return 4 }

func testConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Storage: config.StorageConfig{
			Backend:           backend,
			DatabasePath:      filepath.Join(dir, "rag_index.db"),
			IndexPath:         filepath.Join(dir, "rag_index.json"),
			PersistDebounceMS: int(time.Hour / time.Millisecond),
		},
		Embedding: config.EmbeddingConfig{Provider: "hash", Dimensions: 32},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func sampleRequest() *models.IndexRequest {
	return &models.IndexRequest{
		DatasetID:   "sample",
		DatasetName: "Sample",
		Documents: []models.DocumentInput{
			{FullText: "The cat sat on the mat.", Category: "pets"},
			{FullText: "Dogs bark loudly.", Category: "pets"},
			{FullText: "Cats and dogs are pets.", Category: "pets", Metadata: map[string]interface{}{"page": 2}},
		},
	}
}

func openService(t *testing.T, cfg *config.Config, opts ...Option) *Service {
	t.Helper()
	svc, err := Open(context.Background(), cfg, opts...)
	require.NoError(t, err)
	return svc
}

func TestService_FelineScenario(t *testing.T) {
	cfg := testConfig(t, "sqlite")
	svc := openService(t, cfg, WithEmbedder(newTopicEmbedder()))
	defer svc.Close(context.Background())
	ctx := context.Background()

	res, err := svc.Index(ctx, sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, 3, res.IndexedCount)
	assert.True(t, svc.PersistPending())

	zero := 0.0
	results, err := svc.Search(ctx, &models.SearchQuery{Query: "feline behavior", TopK: 2, Threshold: &zero})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Contains(t, strings.ToLower(r.Document.FullText), "cat")
	}
	assert.GreaterOrEqual(t, results[0].RelevanceScore, results[1].RelevanceScore)

	bundle, err := svc.BuildContext(ctx, &models.ContextQuery{SearchQuery: models.SearchQuery{Query: "feline behavior", TopK: 2, Threshold: &zero}})
	require.NoError(t, err)
	assert.True(t, bundle.HasContext)
	assert.Equal(t, 2, bundle.ContextCount)
	assert.True(t, strings.HasPrefix(bundle.Prompt, config.DefaultSystemPreamble))

	again, err := svc.BuildContext(ctx, &models.ContextQuery{SearchQuery: models.SearchQuery{Query: "feline behavior", TopK: 2, Threshold: &zero}})
	require.NoError(t, err)
	assert.Equal(t, bundle.Prompt, again.Prompt)
}

func TestService_SearchResponseAndReport(t *testing.T) {
	svc := openService(t, testConfig(t, "sqlite"), WithEmbedder(newTopicEmbedder()))
	defer svc.Close(context.Background())
	ctx := context.Background()
	_, err := svc.Index(ctx, sampleRequest())
	require.NoError(t, err)

	resp, err := svc.SearchResponse(ctx, &models.SearchQuery{Query: "dogs"})
	require.NoError(t, err)
	assert.Equal(t, "dogs", resp.Query)
	assert.Equal(t, len(resp.Results), resp.TotalResults)
	assert.Equal(t, 5, resp.Parameters.TopK, "defaults are reported")
	require.NotNil(t, resp.Parameters.Threshold)
	assert.Equal(t, 0.1, *resp.Parameters.Threshold)

	_, err = svc.SearchResponse(ctx, &models.SearchQuery{Query: ""})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	report := svc.Report()
	assert.Equal(t, 3, report.TotalDocuments)
	assert.True(t, report.PersistPending)
	assert.Empty(t, report.EngineState)

	require.NoError(t, svc.Persist(ctx))
	report = svc.Report()
	assert.False(t, report.PersistPending)
	require.NotNil(t, report.DiskUsageBytes)
	assert.Greater(t, *report.DiskUsageBytes, int64(0))
}

func TestService_PersistAndReopen(t *testing.T) {
	for _, backend := range []string{"sqlite", "file"} {
		t.Run(backend, func(t *testing.T) {
			cfg := testConfig(t, backend)
			ctx := context.Background()

			svc := openService(t, cfg)
			_, err := svc.Index(ctx, sampleRequest())
			require.NoError(t, err)
			require.NoError(t, svc.Persist(ctx))
			assert.False(t, svc.PersistPending())
			usage, err := svc.DiskUsage()
			require.NoError(t, err)
			assert.Positive(t, usage)
			before := svc.Stats()
			require.NoError(t, svc.Close(ctx))

			reopened := openService(t, cfg)
			defer reopened.Close(ctx)
			after := reopened.Stats()
			assert.Equal(t, before.TotalDocuments, after.TotalDocuments)
			assert.Equal(t, before.TotalIndexedDatasets, after.TotalIndexedDatasets)
			assert.Equal(t, 32, after.Dimension)
			assert.Equal(t, "hash", after.ModelVersion)
			require.NotNil(t, after.LastUpdated)
			assert.True(t, before.LastUpdated.Equal(*after.LastUpdated))

			zero := 0.0
			results, err := reopened.Search(ctx, &models.SearchQuery{Query: "Dogs bark loudly.", TopK: 1, Threshold: &zero})
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.Equal(t, "sample_row_1", results[0].Document.ID)
		})
	}
}

func TestService_SnapshotDuringChurn(t *testing.T) {
	cfg := testConfig(t, "sqlite")
	svc := openService(t, cfg)
	defer svc.Close(context.Background())
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 300; i++ {
			id := fmt.Sprintf("d%d", i)
			_, err := svc.Index(ctx, &models.IndexRequest{
				DatasetID: id,
				Documents: []models.DocumentInput{{FullText: "row " + id}},
			})
			assert.NoError(t, err)
			_, err = svc.RemoveDataset(id)
			assert.NoError(t, err)
		}
	}()
	for {
		select {
		case <-done:
			require.NoError(t, svc.Persist(ctx))
			return
		default:
		}
		require.NoError(t, svc.Snapshot().Validate())
	}
}

func TestService_CloseFlushesPendingChanges(t *testing.T) {
	cfg := testConfig(t, "sqlite")
	ctx := context.Background()
	svc := openService(t, cfg)
	_, err := svc.Index(ctx, sampleRequest())
	require.NoError(t, err)
	require.NoError(t, svc.Close(ctx))

	reopened := openService(t, cfg)
	defer reopened.Close(ctx)
	assert.Equal(t, 3, reopened.Stats().TotalDocuments)
}

func TestService_RejectsDimensionMismatch(t *testing.T) {
	cfg := testConfig(t, "file")
	ctx := context.Background()
	svc := openService(t, cfg)
	_, err := svc.Index(ctx, sampleRequest())
	require.NoError(t, err)
	require.NoError(t, svc.Close(ctx))

	cfg.Embedding.Dimensions = 16
	_, err = Open(ctx, cfg)
	assert.ErrorIs(t, err, models.ErrDimensionMismatch)
}

func TestService_RejectsUnknownFormat(t *testing.T) {
	cfg := testConfig(t, "file")
	require.NoError(t, os.WriteFile(cfg.Storage.IndexPath, []byte(`{"format":"other/v9","documents":[]}`), 0600))
	_, err := Open(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported snapshot format")
}

func TestService_RemoveDataset(t *testing.T) {
	cfg := testConfig(t, "sqlite")
	ctx := context.Background()
	svc := openService(t, cfg)
	defer svc.Close(ctx)
	_, err := svc.Index(ctx, sampleRequest())
	require.NoError(t, err)
	_, err = svc.Index(ctx, &models.IndexRequest{DatasetID: "other", Documents: []models.DocumentInput{{FullText: "unrelated"}}})
	require.NoError(t, err)

	before := svc.Stats()
	_, err = svc.RemoveDataset("missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Equal(t, before, svc.Stats())

	res, err := svc.RemoveDataset("sample")
	require.NoError(t, err)
	assert.Equal(t, &models.RemoveResult{DatasetID: "sample", RemovedDocuments: 3}, res)
	assert.Equal(t, before.TotalDocuments-3, svc.Stats().TotalDocuments)

	list := svc.ListIndexedDatasets(true)
	require.Len(t, list, 1)
	assert.Equal(t, "other", list[0].DatasetID)
	require.Len(t, list[0].Documents, 1)
	assert.Equal(t, "unrelated", list[0].Documents[0].TextPreview)
}

func TestService_IndexFileAndRemoveFile(t *testing.T) {
	cfg := testConfig(t, "sqlite")
	ctx := context.Background()
	svc := openService(t, cfg)
	defer svc.Close(ctx)

	path := filepath.Join(t.TempDir(), "qa.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"prompt":"a","completion":"b"}`+"\n"), 0600))
	res, err := svc.IndexFile(ctx, path)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.IndexedCount)

	res, err = svc.IndexFile(ctx, path)
	require.NoError(t, err)
	assert.Nil(t, res)

	removed, err := svc.RemoveFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, removed.RemovedDocuments)
	assert.Equal(t, 0, svc.Stats().TotalDocuments)
}

func TestService_IndexDirectory(t *testing.T) {
	cfg := testConfig(t, "sqlite")
	ctx := context.Background()
	svc := openService(t, cfg)
	defer svc.Close(ctx)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.csv"), []byte("q\none\ntwo\n"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.jsonl"), []byte(`{"q":"three"}`+"\n"), 0600))
	n, err := svc.IndexDirectory(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 3, svc.Stats().TotalDocuments)
	assert.True(t, svc.PersistPending())
}

func TestNewManager(t *testing.T) {
	cfg := testConfig(t, "sqlite")
	m := NewManager(cfg)

	_, ok := m.GetSync()
	assert.False(t, ok, "nothing is returned before Ready")

	var fired atomic.Int32
	ready := make(chan struct{})
	m.OnReady(func(*Service) {
		if fired.Add(1) == 1 {
			close(ready)
		}
	})
	m.Preload()
	m.Preload()
	svc, err := m.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Ready, m.State())
	got, ok := m.GetSync()
	require.True(t, ok)
	assert.Same(t, svc, got)
	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("OnReady callback did not fire")
	}
	assert.Equal(t, int32(1), fired.Load())

	_, err = svc.Index(context.Background(), sampleRequest())
	require.NoError(t, err)

	// Reset releases the service, which flushes the pending save.
	m.Reset()
	_, ok = m.GetSync()
	assert.False(t, ok)

	reloaded, err := m.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, reloaded.Stats().TotalDocuments)
	m.Reset()
}

func TestNewManager_Failure(t *testing.T) {
	cfg := testConfig(t, "file")
	require.NoError(t, os.WriteFile(cfg.Storage.IndexPath, []byte("not json"), 0600))
	m := NewManager(cfg)

	_, err := m.Load(context.Background())
	assert.ErrorIs(t, err, models.ErrInitializationFailed)
	assert.Equal(t, lifecycle.Failed, m.State())
	_, ok := m.GetSync()
	assert.False(t, ok)

	m.Preload()
	assert.Equal(t, lifecycle.Failed, m.State(), "no retry without reset")

	require.NoError(t, os.Remove(cfg.Storage.IndexPath))
	m.Reset()
	_, err = m.Load(context.Background())
	require.NoError(t, err)
	m.Reset()
}
