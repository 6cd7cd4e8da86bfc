// Package rag composes the document store, similarity search, context assembly,
// ingestion and persistence into one engine handle.
package rag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/ragindex/internal/config"
	"github.com/hyperjump/ragindex/internal/embedding"
	"github.com/hyperjump/ragindex/internal/extract"
	"github.com/hyperjump/ragindex/internal/fileid"
	"github.com/hyperjump/ragindex/internal/indexer"
	"github.com/hyperjump/ragindex/internal/lifecycle"
	"github.com/hyperjump/ragindex/internal/models"
	"github.com/hyperjump/ragindex/internal/search"
	"github.com/hyperjump/ragindex/internal/storage"
	"github.com/hyperjump/ragindex/internal/store"
	"go.uber.org/zap"
)

const (
	warmupText   = "warmup"
	closeTimeout = 30 * time.Second
)

// Service is the engine handle: a loaded index plus everything needed to query and
// mutate it. All methods are safe for concurrent use.
type Service struct {
	cfg          *config.Config
	store        *store.DocumentStore
	embedder     embedding.Embedder
	ownsEmbedder bool
	engine       *search.Engine
	indexer      *indexer.Indexer
	backing      storage.Backing
	persister    *storage.Persister
	modelVersion string
	logger       *zap.Logger
}

type options struct {
	logger   *zap.Logger
	embedder embedding.Embedder
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the logger for the service and its components.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithEmbedder replaces the configured embedding provider. The caller keeps
// ownership; Close does not close it.
func WithEmbedder(e embedding.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// Open builds a Service: it opens the persistence backing, warms the embedding
// provider and restores the last saved snapshot. A snapshot written in another format
// or whose vector dimension disagrees with the provider is rejected, not truncated.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (svc *Service, err error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	logger := o.logger

	s := &Service{
		cfg:          cfg,
		embedder:     o.embedder,
		modelVersion: cfg.Embedding.VersionLabel(),
		logger:       logger,
	}
	defer func() {
		if err != nil {
			s.closeResources()
		}
	}()

	if s.embedder == nil {
		g, err := embedding.New(&cfg.Embedding, logger)
		if err != nil {
			return nil, fmt.Errorf("embedding provider: %w", err)
		}
		s.embedder = g
		s.ownsEmbedder = true
	}
	s.backing, err = storage.Open(&cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	warm, err := s.embedder.Embed(ctx, warmupText)
	if err != nil {
		return nil, fmt.Errorf("warm embedding provider: %w", err)
	}
	dim := len(warm)

	s.store = store.New(store.WithLogger(logger))
	snap, err := s.backing.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if snap != nil {
		if err := s.restore(snap, dim); err != nil {
			return nil, err
		}
	}

	s.engine = search.NewEngine(s.store, s.embedder, &cfg.Search, logger)
	s.indexer = indexer.NewIndexer(s.store, s.embedder, extract.NewExtractor(),
		indexer.WithLogger(logger),
		indexer.WithConcurrency(cfg.Embedding.Concurrency),
	)
	s.persister = storage.NewPersister(s.backing, s.Snapshot, cfg.Storage.PersistDebounce(),
		storage.WithPersisterLogger(logger))

	logger.Info("rag engine opened",
		zap.String("backend", cfg.Storage.Backend),
		zap.String("model_version", s.modelVersion),
		zap.Int("dimension", dim),
		zap.Int("documents", s.store.Len()),
	)
	return s, nil
}

func (s *Service) restore(snap *storage.Snapshot, dim int) error {
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("persisted index rejected: %w", err)
	}
	if len(snap.Documents) > 0 && snap.Dimension != dim {
		return fmt.Errorf("persisted index rejected: %w", &models.DimensionError{Got: snap.Dimension, Want: dim})
	}
	if snap.ModelVersion != "" && snap.ModelVersion != s.modelVersion {
		s.logger.Warn("persisted index was built by another model version",
			zap.String("persisted", snap.ModelVersion),
			zap.String("configured", s.modelVersion),
		)
	}
	if err := s.store.Restore(snap.Documents, snap.LastUpdated); err != nil {
		return fmt.Errorf("persisted index rejected: %w", err)
	}
	return nil
}

// NewManager returns a lifecycle manager whose initialization opens a Service with
// cfg. Reset closes the loaded service.
func NewManager(cfg *config.Config, opts ...Option) *lifecycle.Manager[*Service] {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	open := func(ctx context.Context) (*Service, error) {
		return Open(ctx, cfg, opts...)
	}
	release := func(s *Service) {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := s.Close(ctx); err != nil && o.logger != nil {
			o.logger.Warn("close rag engine", zap.Error(err))
		}
	}
	return lifecycle.NewManager(open,
		lifecycle.WithLogger[*Service](o.logger),
		lifecycle.WithRelease[*Service](release),
	)
}

// Index embeds and stores documents under one dataset and schedules a save.
func (s *Service) Index(ctx context.Context, req *models.IndexRequest) (*models.IndexResult, error) {
	res, err := s.indexer.Index(ctx, req)
	if err != nil {
		return nil, err
	}
	if res.IndexedCount > 0 {
		s.persister.Schedule()
	}
	return res, nil
}

// IndexFile ingests a dataset export file. The result is nil when the file is unchanged
// since it was last indexed.
func (s *Service) IndexFile(ctx context.Context, path string) (*models.IndexResult, error) {
	res, err := s.indexer.IndexFile(ctx, path, s.cfg.Watch.Extensions)
	if err != nil {
		return nil, err
	}
	if res != nil {
		s.persister.Schedule()
	}
	return res, nil
}

// IndexDirectory ingests every supported export under dir.
func (s *Service) IndexDirectory(ctx context.Context, dir string) (int, error) {
	n, err := s.indexer.IndexDirectory(ctx, dir, s.cfg.Watch.Extensions)
	if n > 0 {
		s.persister.Schedule()
	}
	return n, err
}

// RemoveFile removes the dataset ingested from path.
func (s *Service) RemoveFile(path string) (*models.RemoveResult, error) {
	n, err := s.indexer.RemoveFile(path)
	if err != nil {
		return nil, err
	}
	s.persister.Schedule()
	return &models.RemoveResult{DatasetID: fileid.DatasetID(path), RemovedDocuments: n}, nil
}

// Search ranks stored documents against query.
func (s *Service) Search(ctx context.Context, query *models.SearchQuery) ([]*models.SearchResult, error) {
	return s.engine.Search(ctx, query)
}

// SearchResponse runs Search and wraps the results with the effective parameters
// and the elapsed time.
func (s *Service) SearchResponse(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	start := time.Now()
	results, err := s.engine.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	return &models.SearchResponse{
		Results:      results,
		TotalResults: len(results),
		Query:        query.Query,
		QueryTime:    time.Since(start).Milliseconds(),
		Parameters:   *query,
	}, nil
}

// BuildContext searches and assembles a grounding context bundle.
func (s *Service) BuildContext(ctx context.Context, query *models.ContextQuery) (*models.ContextBundle, error) {
	return s.engine.BuildContext(ctx, query)
}

// ListIndexedDatasets summarises live datasets, with document previews when requested.
func (s *Service) ListIndexedDatasets(previews bool) []models.DatasetSummary {
	return s.store.ListDatasets(previews)
}

// RemoveDataset deletes every document of datasetID. A missing dataset returns
// models.ErrNotFound.
func (s *Service) RemoveDataset(datasetID string) (*models.RemoveResult, error) {
	n, err := s.store.RemoveDataset(datasetID)
	if err != nil {
		return nil, err
	}
	s.persister.Schedule()
	s.logger.Info("dataset removed", zap.String("dataset_id", datasetID), zap.Int("documents", n))
	return &models.RemoveResult{DatasetID: datasetID, RemovedDocuments: n}, nil
}

// Stats summarises the store and names the embedding model version.
func (s *Service) Stats() models.Stats {
	st := s.store.Stats()
	st.ModelVersion = s.modelVersion
	return st
}

// Report combines Stats with disk usage and the persistence state.
// Disk usage is omitted when the backing cannot be measured.
func (s *Service) Report() models.StatusReport {
	r := models.StatusReport{Stats: s.Stats(), PersistPending: s.PersistPending()}
	if n, err := s.DiskUsage(); err == nil {
		r.DiskUsageBytes = &n
	} else {
		s.logger.Debug("disk usage unavailable", zap.Error(err))
	}
	return r
}

// DiskUsage returns the bytes used by the persisted index.
func (s *Service) DiskUsage() (int64, error) {
	return storage.BackingDiskUsage(s.backing)
}

// Persist saves the current contents immediately.
func (s *Service) Persist(ctx context.Context) error {
	if err := s.persister.Flush(ctx); err != nil {
		return fmt.Errorf("persist index: %w", err)
	}
	return nil
}

// PersistPending reports whether changes are waiting for the debounced save.
func (s *Service) PersistPending() bool {
	return s.persister.Pending()
}

// Snapshot captures the current contents in persisted form.
func (s *Service) Snapshot() *storage.Snapshot {
	docs, dim, lastUpdated := s.store.Snapshot()
	return &storage.Snapshot{
		Format:       storage.FormatVersion,
		ModelVersion: s.modelVersion,
		Dimension:    dim,
		SavedAt:      time.Now().UTC(),
		LastUpdated:  lastUpdated,
		Documents:    docs,
	}
}

// Close flushes pending changes and releases the backing and the provider.
func (s *Service) Close(ctx context.Context) error {
	var errs []error
	if s.persister != nil {
		if err := s.persister.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush index: %w", err))
		}
	}
	if err := s.closeResources(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Service) closeResources() error {
	var errs []error
	if s.backing != nil {
		if err := s.backing.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		}
	}
	if s.ownsEmbedder && s.embedder != nil {
		if err := s.embedder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close embedder: %w", err))
		}
	}
	return errors.Join(errs...)
}
