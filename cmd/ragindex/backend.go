package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/ragindex/internal/cli"
	"github.com/hyperjump/ragindex/internal/config"
	"github.com/hyperjump/ragindex/internal/lifecycle"
	"github.com/hyperjump/ragindex/internal/models"
	"github.com/hyperjump/ragindex/internal/rag"
	"github.com/hyperjump/ragindex/pkg/utils"
	"go.uber.org/zap"
)

// backend is what the query commands need, served either by a running server
// or by an engine opened in-process.
type backend interface {
	Search(ctx context.Context, q *models.SearchQuery) (*models.SearchResponse, error)
	Context(ctx context.Context, q *models.ContextQuery) (*models.ContextBundle, error)
	Datasets(ctx context.Context, previews bool) ([]models.DatasetSummary, error)
	RemoveDataset(ctx context.Context, id string) (*models.RemoveResult, error)
	Stats(ctx context.Context) (*models.StatusReport, error)
	IndexFile(ctx context.Context, path string) (*models.IndexResult, error)
	Close(ctx context.Context) error
}

type remoteBackend struct {
	*cli.Client
}

func (remoteBackend) Close(context.Context) error { return nil }

// IndexFile maps the client's unchanged marker onto the nil result the engine returns.
func (b remoteBackend) IndexFile(ctx context.Context, path string) (*models.IndexResult, error) {
	res, err := b.Client.IndexFile(ctx, path)
	if errors.Is(err, cli.ErrUnchanged) {
		return nil, nil
	}
	return res, err
}

type localBackend struct {
	svc *rag.Service
}

func (b localBackend) Search(ctx context.Context, q *models.SearchQuery) (*models.SearchResponse, error) {
	return b.svc.SearchResponse(ctx, q)
}

func (b localBackend) Context(ctx context.Context, q *models.ContextQuery) (*models.ContextBundle, error) {
	return b.svc.BuildContext(ctx, q)
}

func (b localBackend) Datasets(_ context.Context, previews bool) ([]models.DatasetSummary, error) {
	return b.svc.ListIndexedDatasets(previews), nil
}

func (b localBackend) RemoveDataset(_ context.Context, id string) (*models.RemoveResult, error) {
	return b.svc.RemoveDataset(id)
}

func (b localBackend) Stats(context.Context) (*models.StatusReport, error) {
	r := b.svc.Report()
	return &r, nil
}

func (b localBackend) IndexFile(ctx context.Context, path string) (*models.IndexResult, error) {
	return b.svc.IndexFile(ctx, path)
}

func (b localBackend) Close(ctx context.Context) error {
	return b.svc.Close(ctx)
}

// openBackend prefers the server at serverURL and falls back to opening the index
// directly when serverURL is empty or nothing answers there.
func openBackend(ctx context.Context, serverURL string, cfg *config.Config, logger *zap.Logger) (backend, error) {
	logger = utils.OrNop(logger)
	if serverURL != "" {
		c := cli.NewClient(serverURL)
		if c.Ping(ctx) {
			return remoteBackend{c}, nil
		}
		logger.Debug("server not reachable, opening index directly", zap.String("server", serverURL))
	}
	svc, err := rag.Open(ctx, cfg, rag.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	return localBackend{svc}, nil
}

// engineSink feeds watcher events to whichever engine the manager currently holds.
// Events that arrive while it is loading fail with models.ErrNotReady.
type engineSink struct {
	engines *lifecycle.Manager[*rag.Service]
}

func (s engineSink) service() (*rag.Service, error) {
	svc, ok := s.engines.GetSync()
	if !ok {
		return nil, models.ErrNotReady
	}
	return svc, nil
}

func (s engineSink) IndexFile(ctx context.Context, path string) (*models.IndexResult, error) {
	svc, err := s.service()
	if err != nil {
		return nil, err
	}
	return svc.IndexFile(ctx, path)
}

func (s engineSink) RemoveFile(path string) (*models.RemoveResult, error) {
	svc, err := s.service()
	if err != nil {
		return nil, err
	}
	return svc.RemoveFile(path)
}
