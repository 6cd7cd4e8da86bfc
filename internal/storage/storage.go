// Package storage persists snapshots of the document store and restores them at startup.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperjump/ragindex/internal/config"
	"github.com/hyperjump/ragindex/internal/models"
)

// FormatVersion tags every snapshot this build writes.
const FormatVersion = "ragindex/v1"

// Snapshot is the persisted form of the store.
type Snapshot struct {
	Format       string                    `json:"format"`
	ModelVersion string                    `json:"model_version"`
	Dimension    int                       `json:"dimension"`
	SavedAt      time.Time                 `json:"saved_at"`
	LastUpdated  time.Time                 `json:"last_updated"`
	Documents    []*models.IndexedDocument `json:"documents"`
}

// Validate rejects snapshots written in another format or whose vectors disagree with
// the recorded dimension.
func (s *Snapshot) Validate() error {
	if s.Format != FormatVersion {
		return fmt.Errorf("unsupported snapshot format %q (want %q)", s.Format, FormatVersion)
	}
	for _, d := range s.Documents {
		for field, v := range d.Embeddings {
			if len(v) != s.Dimension {
				return fmt.Errorf("snapshot document %q field %s: %w", d.ID, field,
					&models.DimensionError{Got: len(v), Want: s.Dimension})
			}
		}
	}
	return nil
}

// Backing stores and loads whole snapshots.
type Backing interface {
	// Load returns the last saved snapshot, or nil when nothing was saved yet.
	Load(ctx context.Context) (*Snapshot, error)
	// Save replaces the stored snapshot atomically.
	Save(ctx context.Context, snap *Snapshot) error
	// Paths lists the files the backing writes, for disk usage reporting.
	Paths() []string
	Close() error
}

// Open returns the backing selected by cfg.
func Open(cfg *config.StorageConfig) (Backing, error) {
	switch cfg.Backend {
	case "", "sqlite":
		return NewSQLiteBacking(cfg.DatabasePath)
	case "file":
		return NewFileBacking(cfg.IndexPath), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
