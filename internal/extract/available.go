package extract

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/ragindex/internal/models"
)

// Files lists the supported export files under dir in walk order. A non-empty
// extensions list narrows the result further.
func Files(dir string, extensions []string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !Supported(p) {
			return nil
		}
		if len(extensions) > 0 && !hasExtension(p, extensions) {
			return nil
		}
		files = append(files, p)
		return nil
	})
	return files, err
}

func hasExtension(path string, extensions []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range extensions {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

// Available describes the export files found under dirs. Directories that no
// longer exist are skipped.
func Available(dirs, extensions []string) ([]models.AvailableDataset, error) {
	out := []models.AvailableDataset{}
	for _, dir := range dirs {
		files, err := Files(dir, extensions)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, p := range files {
			info, err := os.Stat(p)
			if err != nil {
				continue
			}
			base := filepath.Base(p)
			ext := filepath.Ext(base)
			out = append(out, models.AvailableDataset{
				Path:       p,
				Name:       strings.TrimSuffix(base, ext),
				Format:     strings.ToLower(strings.TrimPrefix(ext, ".")),
				SizeBytes:  info.Size(),
				ModifiedAt: info.ModTime().UTC(),
			})
		}
	}
	return out, nil
}
