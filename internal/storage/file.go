package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileBacking keeps the snapshot as a single JSON document.
type FileBacking struct {
	path string
}

// NewFileBacking returns a backing that reads and writes path.
func NewFileBacking(path string) *FileBacking {
	return &FileBacking{path: path}
}

// Load reads the snapshot. Returns nil when the file does not exist.
func (f *FileBacking) Load(ctx context.Context) (*Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read index file: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse index file: %w", err)
	}
	return &snap, nil
}

// Save writes snap to a temporary file and renames it over the target.
func (f *FileBacking) Save(ctx context.Context, snap *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace index file: %w", err)
	}
	return nil
}

// Paths returns the index file path.
func (f *FileBacking) Paths() []string {
	return []string{f.path}
}

// Close is a no-op.
func (f *FileBacking) Close() error {
	return nil
}
