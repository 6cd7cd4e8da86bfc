package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperjump/ragindex/internal/embedding"
	"github.com/hyperjump/ragindex/internal/fileid"
	"github.com/hyperjump/ragindex/internal/models"
	"github.com/hyperjump/ragindex/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type countingEmbedder struct {
	*embedding.HashEmbedder
	texts atomic.Int64
	fail  error
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if c.fail != nil {
		return nil, c.fail
	}
	c.texts.Add(int64(len(texts)))
	return c.HashEmbedder.EmbedBatch(ctx, texts)
}

func newTestIndexer(t *testing.T) (*Indexer, *store.DocumentStore, *countingEmbedder) {
	t.Helper()
	st := store.New()
	emb := &countingEmbedder{HashEmbedder: embedding.NewHashEmbedder(16)}
	return NewIndexer(st, emb, nil, WithConcurrency(2)), st, emb
}

func intPtr(i int) *int { return &i }

func TestExtensionAllowed(t *testing.T) {
	tests := []struct {
		ext     string
		allowed []string
		want    bool
	}{
		{".csv", []string{".csv", ".jsonl"}, true},
		{".CSV", []string{".csv"}, true},
		{".jsonl", []string{"csv", "jsonl"}, true},
		{".go", []string{".csv"}, false},
		{"", []string{".csv"}, false},
	}
	for _, tt := range tests {
		got := extensionAllowed(tt.ext, tt.allowed)
		if got != tt.want {
			t.Errorf("extensionAllowed(%q, %v) = %v, want %v", tt.ext, tt.allowed, got, tt.want)
		}
	}
}

func TestPreprocess(t *testing.T) {
	assert.Equal(t, "a b c", Preprocess("  a \n\t b\x00 c  "))
	assert.Equal(t, "", Preprocess(" \n "))
}

func TestIndex(t *testing.T) {
	idx, st, emb := newTestIndexer(t)
	res, err := idx.Index(context.Background(), &models.IndexRequest{
		DatasetID:   "sample",
		DatasetName: "Sample",
		Documents: []models.DocumentInput{
			{FullText: "The cat sat on the mat.", Category: "pets"},
			{FullText: "Dogs bark loudly.", Prompt: "Dogs bark loudly.", Completion: "Yes."},
			{ID: "custom", FullText: "Cats and dogs are pets.", RowIndex: intPtr(7), Metadata: map[string]interface{}{"page": 3}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, &models.IndexResult{IndexedCount: 3, DatasetID: "sample", DatasetName: "Sample"}, res)
	assert.Equal(t, int64(4), emb.texts.Load(), "identical field texts share one embedding")

	docs := st.Documents()
	require.Len(t, docs, 3)
	assert.Equal(t, "sample_row_0", docs[0].ID)
	assert.Equal(t, "sample_row_1", docs[1].ID)
	assert.Equal(t, "custom", docs[2].ID)
	assert.Equal(t, 7, docs[2].RowIndex)
	assert.Equal(t, 3, docs[2].Metadata["page"])
	assert.Len(t, docs[0].Embeddings, 1)
	assert.Len(t, docs[1].Embeddings, 3)
	assert.Equal(t, docs[1].Embedding(models.FieldFullText), docs[1].Embedding(models.FieldPrompt))
	assert.False(t, docs[0].IndexedAt.IsZero())
}

func TestIndex_SkipsStoredIDs(t *testing.T) {
	idx, st, emb := newTestIndexer(t)
	req := &models.IndexRequest{DatasetID: "ds", Documents: []models.DocumentInput{{FullText: "one"}, {FullText: "two"}}}
	_, err := idx.Index(context.Background(), req)
	require.NoError(t, err)
	before := emb.texts.Load()

	req.Documents = append(req.Documents, models.DocumentInput{FullText: "three"})
	res, err := idx.Index(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, res.IndexedCount)
	assert.Equal(t, 2, res.SkippedCount)
	assert.Equal(t, "ds", res.DatasetName, "name defaults to id")
	assert.Equal(t, before+1, emb.texts.Load(), "skipped documents are not embedded")
	assert.Equal(t, 3, st.Len())
}

func TestIndex_GeneratesDatasetID(t *testing.T) {
	idx, _, _ := newTestIndexer(t)
	res, err := idx.Index(context.Background(), &models.IndexRequest{Documents: []models.DocumentInput{{FullText: "x"}}})
	require.NoError(t, err)
	assert.Len(t, res.DatasetID, 36)
	assert.Equal(t, res.DatasetID, res.DatasetName)
}

func TestIndex_Errors(t *testing.T) {
	idx, st, emb := newTestIndexer(t)

	_, err := idx.Index(context.Background(), &models.IndexRequest{DatasetID: "ds", Documents: []models.DocumentInput{{FullText: "ok"}, {FullText: "  "}}})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
	assert.Equal(t, 0, st.Len(), "nothing stored when one document is invalid")

	emb.fail = models.ErrEmbeddingUnavailable
	_, err = idx.Index(context.Background(), &models.IndexRequest{DatasetID: "ds", Documents: []models.DocumentInput{{FullText: "ok"}}})
	assert.ErrorIs(t, err, models.ErrEmbeddingUnavailable)
	assert.Equal(t, 0, st.Len())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = idx.Index(ctx, &models.IndexRequest{DatasetID: "ds", Documents: []models.DocumentInput{{FullText: "ok"}}})
	assert.ErrorIs(t, err, models.ErrCancelled)
}

func TestIndex_DimensionMismatch(t *testing.T) {
	st := store.New()
	_, err := NewIndexer(st, embedding.NewHashEmbedder(8), nil).Index(context.Background(),
		&models.IndexRequest{DatasetID: "a", Documents: []models.DocumentInput{{FullText: "first"}}})
	require.NoError(t, err)

	_, err = NewIndexer(st, embedding.NewHashEmbedder(4), nil).Index(context.Background(),
		&models.IndexRequest{DatasetID: "b", Documents: []models.DocumentInput{{FullText: "second"}}})
	var dimErr *models.DimensionError
	require.True(t, errors.As(err, &dimErr))
	assert.Equal(t, 4, dimErr.Got)
	assert.Equal(t, 8, dimErr.Want)
	assert.Equal(t, 1, st.Len())
}

func TestIndexFile_CreateUpdateAndSkip(t *testing.T) {
	idx, st, emb := newTestIndexer(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "faq.csv")
	require.NoError(t, os.WriteFile(path, []byte("prompt,completion\nHi,Hello\nBye,Goodbye\n"), 0600))

	res, err := idx.IndexFile(ctx, path, nil)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 2, res.IndexedCount)
	assert.Equal(t, fileid.DatasetID(path), res.DatasetID)
	assert.Equal(t, "faq.csv", res.DatasetName)

	calls := emb.texts.Load()
	res, err = idx.IndexFile(ctx, path, nil)
	require.NoError(t, err)
	assert.Nil(t, res, "unchanged file is skipped")
	assert.Equal(t, calls, emb.texts.Load())

	require.NoError(t, os.WriteFile(path, []byte("prompt,completion\nHi,Hello there\n"), 0600))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))
	res, err = idx.IndexFile(ctx, path, nil)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.IndexedCount)
	assert.Equal(t, 1, st.Len(), "changed file replaces its dataset")
	assert.Equal(t, "Hello there", st.Documents()[0].Completion)

	n, err := idx.RemoveFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = idx.RemoveFile(path)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestIndexFile_Errors(t *testing.T) {
	idx, _, _ := newTestIndexer(t)
	dir := t.TempDir()

	_, err := idx.IndexFile(context.Background(), filepath.Join(dir, "missing.csv"), nil)
	assert.Error(t, err)

	txt := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("x"), 0600))
	_, err = idx.IndexFile(context.Background(), txt, []string{".csv"})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = idx.IndexFile(context.Background(), dir, nil)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestIndexDirectory(t *testing.T) {
	idx, st, _ := newTestIndexer(t)
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.MkdirAll(sub, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.csv"), []byte("q\nfirst\n"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "b.jsonl"), []byte(`{"q":"second"}`+"\n"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte(`{"nothing":true}`), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.md"), []byte("# skip"), 0600))

	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]interface{}{"q"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]interface{}{"third"}))
	require.NoError(t, f.SaveAs(filepath.Join(sub, "c.xlsx")))
	require.NoError(t, f.Close())

	n, err := idx.IndexDirectory(context.Background(), dir, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, st.Len())
	assert.Len(t, st.ListDatasets(false), 3)

	n, err = idx.IndexDirectory(context.Background(), dir, []string{".csv"})
	require.NoError(t, err)
	assert.Equal(t, 0, n, "unchanged files are not counted")

	_, err = idx.IndexDirectory(context.Background(), filepath.Join(dir, "a.csv"), nil)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}
