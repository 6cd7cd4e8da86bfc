// Package server provides the HTTP API for the retrieval engine.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/ragindex/internal/config"
	"github.com/hyperjump/ragindex/internal/lifecycle"
	"github.com/hyperjump/ragindex/internal/rag"
	"go.uber.org/zap"
)

// Engines hands out the engine without blocking. It is satisfied by
// *lifecycle.Manager[*rag.Service].
type Engines interface {
	GetSync() (*rag.Service, bool)
	State() lifecycle.State
	Err() error
	Preload()
	Reset()
}

// WatchService manages watched export directories. *watcher.Watcher satisfies it.
type WatchService interface {
	Directories() []string
	AddDirectory(path string, syncExisting bool) error
	RemoveDirectory(path string) error
}

// Server is the HTTP server for the retrieval API.
type Server struct {
	engines       Engines
	watch         WatchService
	config        *config.ServerConfig
	configPath    string
	watchConfig   *config.Config
	watchConfigMu sync.Mutex
	logger        *zap.Logger
	server        *http.Server
	onReload      func()
}

// NewServer creates a server. watch may be nil when no directories are watched.
// When configPath and fullConfig are set, watch directory changes are saved to the config file.
func NewServer(
	engines Engines,
	cfg *config.ServerConfig,
	logger *zap.Logger,
	watch WatchService,
	configPath string,
	fullConfig *config.Config,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		engines:     engines,
		watch:       watch,
		config:      cfg,
		configPath:  configPath,
		watchConfig: fullConfig,
		logger:      logger,
	}
}

// OnReload registers fn to run on every reload, after the engine is reset and before
// the new load starts. Reset drops engine subscriptions, so fn is where they are
// registered again.
func (s *Server) OnReload(fn func()) {
	s.onReload = fn
}

// Routes returns the API handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1/rag", func(r chi.Router) {
		r.Post("/index", s.handleIndex)
		r.Post("/index-file", s.handleIndexFile)
		r.Post("/search", s.handleSearch)
		r.Post("/context", s.handleContext)
		r.Get("/datasets", s.handleListDatasets)
		r.Get("/available-datasets", s.handleAvailableDatasets)
		r.Delete("/datasets/{id}", s.handleRemoveDataset)
		r.Get("/stats", s.handleStats)
		r.Post("/persist", s.handlePersist)
	})

	r.Post("/api/v1/admin/reload", s.handleReload)

	r.Get("/api/v1/watch/directories", s.handleWatchDirectoriesList)
	r.Post("/api/v1/watch/directories", s.handleWatchDirectoriesAdd)
	r.Delete("/api/v1/watch/directories", s.handleWatchDirectoriesRemove)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
