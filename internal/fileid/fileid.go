// Package fileid derives deterministic dataset IDs from file paths for watched exports.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
)

const (
	prefix = "file_"
	hexLen = 16
)

// DatasetID returns a stable dataset ID for the given path. The same path always
// yields the same ID, so a re-exported file replaces its previous dataset.
// Relative paths are resolved against the working directory first.
func DatasetID(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	hash := sha256.Sum256([]byte(filepath.Clean(path)))
	return prefix + hex.EncodeToString(hash[:])[:hexLen]
}

// IsFileDataset reports whether id looks like an ID produced by DatasetID.
func IsFileDataset(id string) bool {
	if len(id) != len(prefix)+hexLen || id[:len(prefix)] != prefix {
		return false
	}
	_, err := hex.DecodeString(id[len(prefix):])
	return err == nil
}
