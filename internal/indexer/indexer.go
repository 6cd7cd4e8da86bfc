// Package indexer embeds parsed documents and adds them to the document store.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/ragindex/internal/embedding"
	"github.com/hyperjump/ragindex/internal/extract"
	"github.com/hyperjump/ragindex/internal/fileid"
	"github.com/hyperjump/ragindex/internal/models"
	"github.com/hyperjump/ragindex/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultConcurrency = 4
	embedBatchSize     = 32

	metaKeySourcePath  = "source_path"
	metaKeySourceMtime = "source_mtime"
	metaKeySourceSize  = "source_size"
)

// Indexer embeds documents and writes them into a DocumentStore.
type Indexer struct {
	store       *store.DocumentStore
	embedder    embedding.Embedder
	extractor   *extract.Extractor
	concurrency int
	logger      *zap.Logger // optional; when set, logs debug events
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for debug output (dataset indexed, file skipped, etc.).
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithConcurrency bounds the number of embedding batches in flight.
func WithConcurrency(n int) IndexerOption {
	return func(idx *Indexer) {
		if n > 0 {
			idx.concurrency = n
		}
	}
}

// NewIndexer creates an indexer. extractor may be nil; IndexFile then uses a default one.
func NewIndexer(st *store.DocumentStore, embedder embedding.Embedder, extractor *extract.Extractor, opts ...IndexerOption) *Indexer {
	if extractor == nil {
		extractor = extract.NewExtractor()
	}
	idx := &Indexer{
		store:       st,
		embedder:    embedder,
		extractor:   extractor,
		concurrency: defaultConcurrency,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	if idx.logger == nil {
		idx.logger = zap.NewNop()
	}
	return idx
}

// Index embeds and stores req.Documents under one dataset. A missing dataset id is
// generated; a missing name defaults to the id. Documents whose id is already stored
// are skipped. Either every new document is stored or none is.
func (idx *Indexer) Index(ctx context.Context, req *models.IndexRequest) (*models.IndexResult, error) {
	datasetID, datasetName := datasetIdentity(req)
	docs, err := idx.prepare(ctx, datasetID, datasetName, req.Documents, true)
	if err != nil {
		return nil, err
	}
	added, err := idx.store.AddBatch(docs)
	if err != nil {
		return nil, err
	}
	idx.logger.Debug("indexer dataset indexed",
		zap.String("dataset_id", datasetID),
		zap.Int("indexed", added),
		zap.Int("skipped", len(req.Documents)-added),
	)
	return &models.IndexResult{
		IndexedCount: added,
		SkippedCount: len(req.Documents) - added,
		DatasetID:    datasetID,
		DatasetName:  datasetName,
	}, nil
}

func datasetIdentity(req *models.IndexRequest) (string, string) {
	id := strings.TrimSpace(req.DatasetID)
	if id == "" {
		id = uuid.New().String()
	}
	name := strings.TrimSpace(req.DatasetName)
	if name == "" {
		name = id
	}
	return id, name
}

// prepare validates inputs and embeds every non-empty text field. With skipStored,
// documents already in the store are dropped before any embedding call.
func (idx *Indexer) prepare(ctx context.Context, datasetID, datasetName string, inputs []models.DocumentInput, skipStored bool) ([]*models.IndexedDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrCancelled, err)
	}
	now := time.Now().UTC()
	docs := make([]*models.IndexedDocument, 0, len(inputs))
	seen := make(map[string]struct{}, len(inputs))
	for i := range inputs {
		in := &inputs[i]
		rowIndex := i
		if in.RowIndex != nil {
			rowIndex = *in.RowIndex
		}
		id := strings.TrimSpace(in.ID)
		if id == "" {
			id = fmt.Sprintf("%s_row_%d", datasetID, rowIndex)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		if skipStored && idx.store.Has(id) {
			continue
		}
		fullText := Preprocess(in.FullText)
		if fullText == "" {
			return nil, fmt.Errorf("%w: document %d (%s) has empty fullText", models.ErrInvalidInput, i, id)
		}
		seen[id] = struct{}{}
		docs = append(docs, &models.IndexedDocument{
			ID:          id,
			DatasetID:   datasetID,
			DatasetName: datasetName,
			FullText:    fullText,
			Prompt:      Preprocess(in.Prompt),
			Completion:  Preprocess(in.Completion),
			Intent:      in.Intent,
			Category:    in.Category,
			RowIndex:    rowIndex,
			Metadata:    copyMetadata(in.Metadata),
			Embeddings:  make(map[models.SearchField][]float32, len(models.SearchFields)),
			IndexedAt:   now,
		})
	}
	if len(docs) == 0 {
		return docs, nil
	}
	if err := idx.embedAll(ctx, docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// embedAll embeds the distinct field texts of docs in bounded concurrent batches and
// attaches the vectors. Identical texts share one embedding.
func (idx *Indexer) embedAll(ctx context.Context, docs []*models.IndexedDocument) error {
	slot := make(map[string]int)
	var texts []string
	for _, d := range docs {
		for _, f := range models.SearchFields {
			t := d.Text(f)
			if t == "" {
				continue
			}
			if _, ok := slot[t]; !ok {
				slot[t] = len(texts)
				texts = append(texts, t)
			}
		}
	}

	vectors := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.concurrency)
	for start := 0; start < len(texts); start += embedBatchSize {
		start := start
		end := start + embedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		g.Go(func() error {
			out, err := idx.embedder.EmbedBatch(gctx, texts[start:end])
			if err != nil {
				return err
			}
			if len(out) != end-start {
				return fmt.Errorf("%w: provider returned %d vectors for %d texts", models.ErrEmbeddingUnavailable, len(out), end-start)
			}
			copy(vectors[start:end], out)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to generate embeddings: %w", err)
	}

	for _, d := range docs {
		for _, f := range models.SearchFields {
			if t := d.Text(f); t != "" {
				d.Embeddings[f] = vectors[slot[t]]
			}
		}
	}
	idx.logger.Debug("indexer embedded texts", zap.Int("documents", len(docs)), zap.Int("texts", len(texts)))
	return nil
}

func copyMetadata(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// IndexFile loads a dataset export and indexes it as one dataset whose id is derived
// from the absolute path, so re-indexing a changed file replaces its previous rows.
// If allowedExts is non-empty, the file's extension must be in the list. Returns a nil
// result when the file is already indexed with the same mtime and size.
func (idx *Indexer) IndexFile(ctx context.Context, path string, allowedExts []string) (*models.IndexResult, error) {
	idx.logger.Debug("indexer indexing file", zap.String("path", path))
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(absPath))
	if len(allowedExts) > 0 && !extensionAllowed(ext, allowedExts) {
		return nil, fmt.Errorf("%w: extension %q not in allowed list", models.ErrInvalidInput, ext)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: not a regular file: %s", models.ErrInvalidInput, absPath)
	}

	datasetID := fileid.DatasetID(absPath)
	if idx.unchanged(datasetID, absPath, info) {
		idx.logger.Debug("indexer skipping unchanged file", zap.String("path", absPath))
		return nil, nil
	}
	ds, err := idx.extractor.Extract(absPath, datasetID, "")
	if err != nil {
		return nil, fmt.Errorf("%w: extract %s: %w", models.ErrInvalidInput, filepath.Base(absPath), err)
	}
	for i := range ds.Documents {
		if ds.Documents[i].Metadata == nil {
			ds.Documents[i].Metadata = make(map[string]interface{})
		}
		ds.Documents[i].Metadata[metaKeySourcePath] = absPath
		ds.Documents[i].Metadata[metaKeySourceMtime] = strconv.FormatInt(info.ModTime().UnixNano(), 10)
		ds.Documents[i].Metadata[metaKeySourceSize] = strconv.FormatInt(info.Size(), 10)
	}

	docs, err := idx.prepare(ctx, ds.ID, ds.Name, ds.Documents, false)
	if err != nil {
		return nil, err
	}
	removed, added, err := idx.store.ReplaceDataset(ds.ID, docs)
	if err != nil {
		return nil, err
	}
	idx.logger.Debug("indexer file indexed",
		zap.String("path", absPath),
		zap.String("dataset_id", ds.ID),
		zap.Int("indexed", added),
		zap.Int("replaced", removed),
	)
	return &models.IndexResult{
		IndexedCount: added,
		SkippedCount: len(ds.Documents) - added,
		DatasetID:    ds.ID,
		DatasetName:  ds.Name,
	}, nil
}

// unchanged reports whether the dataset of absPath was indexed from a file with the
// same mtime and size.
func (idx *Indexer) unchanged(datasetID, absPath string, info os.FileInfo) bool {
	for _, d := range idx.store.Documents() {
		if d.DatasetID != datasetID {
			continue
		}
		if d.Metadata[metaKeySourcePath] != absPath {
			return false
		}
		// Stored as strings: UnixNano exceeds float64 precision after a JSON round trip.
		return metadataInt64(d.Metadata, metaKeySourceMtime) == info.ModTime().UnixNano() &&
			metadataInt64(d.Metadata, metaKeySourceSize) == info.Size()
	}
	return false
}

func metadataInt64(m map[string]interface{}, key string) int64 {
	v, ok := m[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case string:
		x, _ := strconv.ParseInt(n, 10, 64)
		return x
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// RemoveFile removes the dataset indexed from path. A file that was never indexed
// returns models.ErrNotFound.
func (idx *Indexer) RemoveFile(path string) (int, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	n, err := idx.store.RemoveDataset(fileid.DatasetID(absPath))
	if err != nil {
		return 0, err
	}
	idx.logger.Debug("indexer file dataset removed", zap.String("path", absPath), zap.Int("removed", n))
	return n, nil
}

// IndexDirectory walks dir recursively and indexes each regular file whose extension
// is in allowedExts (if non-empty; otherwise every supported export). Files that fail
// to parse are logged and skipped. Returns the number of files indexed or refreshed.
func (idx *Indexer) IndexDirectory(ctx context.Context, dir string, allowedExts []string) (n int, err error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return 0, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("%w: not a directory: %s", models.ErrInvalidInput, absDir)
	}
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if len(allowedExts) > 0 && !extensionAllowed(ext, allowedExts) {
			return nil
		}
		if len(allowedExts) == 0 && !extract.Supported(path) {
			return nil
		}
		// Resolve symlinks so we only index regular files
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		res, indexErr := idx.IndexFile(ctx, path, allowedExts)
		if indexErr != nil {
			if errors.Is(indexErr, models.ErrInvalidInput) {
				idx.logger.Warn("indexer skipping file", zap.String("path", path), zap.Error(indexErr))
				return nil
			}
			return indexErr
		}
		if res != nil {
			n++
		}
		return nil
	})
	return n, err
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
