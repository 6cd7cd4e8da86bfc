package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/ragindex/internal/config"
	"github.com/hyperjump/ragindex/internal/extract"
	"github.com/hyperjump/ragindex/internal/models"
	"github.com/hyperjump/ragindex/internal/rag"
	"go.uber.org/zap"
)

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrDimensionMismatch):
		return http.StatusConflict
	case errors.Is(err, models.ErrEmbeddingUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, models.ErrCancelled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	case errors.Is(err, models.ErrNotReady), errors.Is(err, models.ErrInitializationFailed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// service returns the ready engine, or writes 503 and returns false.
func (s *Server) service(w http.ResponseWriter) (*rag.Service, bool) {
	svc, ok := s.engines.GetSync()
	if ok {
		return svc, true
	}
	resp := map[string]string{
		"error":        models.ErrNotReady.Error(),
		"engine_state": s.engines.State().String(),
	}
	if err := s.engines.Err(); err != nil {
		resp["detail"] = err.Error()
	}
	s.respondJSON(w, http.StatusServiceUnavailable, resp)
	return nil, false
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", zap.Error(err))
	} else {
		s.logger.Debug(op+" rejected", zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.service(w)
	if !ok {
		return
	}
	var req models.IndexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("index request", zap.String("dataset_id", req.DatasetID), zap.Int("documents", len(req.Documents)))
	res, err := svc.Index(r.Context(), &req)
	if err != nil {
		s.fail(w, "index", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, res)
}

type indexFileRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleIndexFile(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.service(w)
	if !ok {
		return
	}
	var req indexFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	res, err := svc.IndexFile(r.Context(), req.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.respondError(w, http.StatusNotFound, "file not found")
			return
		}
		s.fail(w, "index file", err)
		return
	}
	if res == nil {
		s.respondJSON(w, http.StatusOK, map[string]string{"path": req.Path, "status": "unchanged"})
		return
	}
	s.respondJSON(w, http.StatusCreated, res)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.service(w)
	if !ok {
		return
	}
	var query models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("search request", zap.String("query", query.Query), zap.Int("top_k", query.TopK))
	resp, err := svc.SearchResponse(r.Context(), &query)
	if err != nil {
		s.fail(w, "search", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.service(w)
	if !ok {
		return
	}
	var query models.ContextQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	bundle, err := svc.BuildContext(r.Context(), &query)
	if err != nil {
		s.fail(w, "context", err)
		return
	}
	s.respondJSON(w, http.StatusOK, bundle)
}

func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.service(w)
	if !ok {
		return
	}
	previews, _ := strconv.ParseBool(r.URL.Query().Get("documents"))
	datasets := svc.ListIndexedDatasets(previews)
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"datasets": datasets,
		"total":    len(datasets),
	})
}

func (s *Server) handleRemoveDataset(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.service(w)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	s.logger.Debug("remove dataset request", zap.String("dataset_id", id))
	res, err := svc.RemoveDataset(id)
	if err != nil {
		s.fail(w, "remove dataset", err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.service(w)
	if !ok {
		return
	}
	report := svc.Report()
	report.EngineState = s.engines.State().String()
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handlePersist(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.service(w)
	if !ok {
		return
	}
	if err := svc.Persist(r.Context()); err != nil {
		s.fail(w, "persist", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "persisted"})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("engine reload requested")
	s.engines.Reset()
	if s.onReload != nil {
		s.onReload()
	}
	s.engines.Preload()
	s.respondJSON(w, http.StatusAccepted, map[string]string{
		"status":       "reloading",
		"engine_state": s.engines.State().String(),
	})
}

func (s *Server) handleAvailableDatasets(w http.ResponseWriter, r *http.Request) {
	var dirs, exts []string
	if s.watch != nil {
		dirs = s.watch.Directories()
	}
	if s.watchConfig != nil {
		s.watchConfigMu.Lock()
		if dirs == nil {
			dirs = append(dirs, s.watchConfig.Watch.Directories...)
		}
		exts = append(exts, s.watchConfig.Watch.Extensions...)
		s.watchConfigMu.Unlock()
	}
	datasets, err := extract.Available(dirs, exts)
	if err != nil {
		s.logger.Warn("listing export files failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"datasets":       datasets,
		"total_datasets": len(datasets),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status":       "ok",
		"engine_state": s.engines.State().String(),
	})
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.watch.Directories()})
}

type watchAddRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	s.logger.Debug("watch add directory request", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if err := s.watch.AddDirectory(abs, syncExisting); err != nil {
		s.logger.Error("watch add directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.saveWatchConfig()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		var body struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.Path != "" {
			path = body.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	s.logger.Debug("watch remove directory request", zap.String("path", abs))
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.logger.Error("watch remove directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.saveWatchConfig()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

// saveWatchConfig writes the current watch roots back to the config file, if one is known.
func (s *Server) saveWatchConfig() {
	if s.configPath == "" || s.watchConfig == nil {
		return
	}
	s.watchConfigMu.Lock()
	defer s.watchConfigMu.Unlock()
	s.watchConfig.Watch.Directories = s.watch.Directories()
	if err := config.Save(s.configPath, s.watchConfig); err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
