package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/ragindex/internal/models"
)

type recordingSink struct {
	mu        sync.Mutex
	indexed   []string
	removed   []string
	removeErr error
}

func (s *recordingSink) IndexFile(_ context.Context, path string) (*models.IndexResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexed = append(s.indexed, path)
	return &models.IndexResult{DatasetID: "ds", IndexedCount: 1}, nil
}

func (s *recordingSink) RemoveFile(path string) (*models.RemoveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, path)
	if s.removeErr != nil {
		return nil, s.removeErr
	}
	return &models.RemoveResult{DatasetID: "ds", RemovedDocuments: 1}, nil
}

func (s *recordingSink) snapshot() (indexed, removed []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.indexed...), append([]string(nil), s.removed...)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func containsSuffix(paths []string, suffix string) bool {
	for _, p := range paths {
		if strings.HasSuffix(p, suffix) {
			return true
		}
	}
	return false
}

func TestWatcher_AddRemoveDirectories(t *testing.T) {
	dir := t.TempDir()
	w := NewWatcher(nil, []string{".csv"}, true, &recordingSink{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := w.AddDirectory(dir, false); err != nil {
		t.Fatal(err)
	}
	if err := w.AddDirectory(dir, false); err != nil {
		t.Fatal(err)
	}
	dirs := w.Directories()
	if len(dirs) != 1 || filepath.Clean(dirs[0]) != filepath.Clean(dir) {
		t.Errorf("Directories() = %v", dirs)
	}

	if err := w.RemoveDirectory(dir); err != nil {
		t.Fatal(err)
	}
	if len(w.Directories()) != 0 {
		t.Errorf("after remove: %v", w.Directories())
	}
}

func TestWatcher_AddDirectoryBeforeStart(t *testing.T) {
	dir := t.TempDir()
	w := NewWatcher(nil, nil, true, &recordingSink{})
	if err := w.AddDirectory(dir, true); err != nil {
		t.Fatal(err)
	}
	if len(w.Directories()) != 1 {
		t.Fatalf("root should be remembered before Start: %v", w.Directories())
	}
}

func TestWatcher_IngestsAndRemovesExports(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := mkdirAll(sub); err != nil {
		t.Fatal(err)
	}
	sink := &recordingSink{}
	w := NewWatcher([]string{dir}, []string{".csv"}, true, sink, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	fPath := filepath.Join(sub, "rows.csv")
	if err := writeFile(fPath, "q\nhello\n"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(sub, "notes.txt"), "skip"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		indexed, _ := sink.snapshot()
		return containsSuffix(indexed, "rows.csv")
	})

	if err := os.Remove(fPath); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		_, removed := sink.snapshot()
		return containsSuffix(removed, "rows.csv")
	})

	indexed, removed := sink.snapshot()
	if containsSuffix(indexed, "notes.txt") || containsSuffix(removed, "notes.txt") {
		t.Errorf("files outside the extension filter must be ignored: %v %v", indexed, removed)
	}
}

func TestWatcher_DebounceCoalescesWrites(t *testing.T) {
	dir := t.TempDir()
	sink := &recordingSink{}
	w := NewWatcher([]string{dir}, []string{".jsonl"}, false, sink, WithDebounce(300*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	fPath := filepath.Join(dir, "rows.jsonl")
	for i := 0; i < 5; i++ {
		if err := writeFile(fPath, fmt.Sprintf(`{"n":%d}`, i)); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	waitFor(t, func() bool {
		indexed, _ := sink.snapshot()
		return len(indexed) > 0
	})
	time.Sleep(400 * time.Millisecond)
	indexed, _ := sink.snapshot()
	if len(indexed) != 1 {
		t.Errorf("burst of writes should be ingested once, got %d", len(indexed))
	}
}

func TestWatcher_RemoveNotFoundIsIgnored(t *testing.T) {
	sink := &recordingSink{removeErr: fmt.Errorf("dataset x: %w", models.ErrNotFound)}
	w := NewWatcher(nil, nil, true, sink)
	w.remove("/data/gone.csv")
	_, removed := sink.snapshot()
	if len(removed) != 1 {
		t.Errorf("sink should still be asked, got %v", removed)
	}
}

func TestMatchExtension(t *testing.T) {
	tests := []struct {
		path       string
		extensions []string
		want       bool
	}{
		{"/a/b.csv", []string{".csv"}, true},
		{"/a/b.CSV", []string{"csv"}, true},
		{"/a/b.md", []string{".csv"}, false},
		{"/a/b.xlsx", nil, true},
		{"/a/b.md", nil, false},
		{"/a/b", []string{}, false},
	}
	for _, tt := range tests {
		got := matchExtension(tt.path, tt.extensions)
		if got != tt.want {
			t.Errorf("matchExtension(%q, %v) = %v, want %v", tt.path, tt.extensions, got, tt.want)
		}
	}
}

func TestInDir(t *testing.T) {
	tests := []struct {
		dir  string
		path string
		want bool
	}{
		{"/tmp/a", "/tmp/a", true},
		{"/tmp/a", "/tmp/a/b.csv", true},
		{"/tmp/a", "/tmp/b", false},
		{"/tmp/a", "/tmp/a/../b", false},
	}
	for _, tt := range tests {
		got := inDir(tt.dir, tt.path)
		if got != tt.want {
			t.Errorf("inDir(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}

func TestWatcher_SyncExistingFiles(t *testing.T) {
	dir := t.TempDir()
	if err := writeFile(filepath.Join(dir, "a.csv"), "q\nx\n"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "ignore.xyz"), "x"); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(dir, "nested")
	if err := mkdirAll(nested); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(nested, "b.csv"), "q\ny\n"); err != nil {
		t.Fatal(err)
	}

	sink := &recordingSink{}
	w := NewWatcher([]string{dir}, nil, false, sink)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	w.SyncExistingFiles()

	indexed, _ := sink.snapshot()
	if len(indexed) != 1 || !strings.HasSuffix(indexed[0], "a.csv") {
		t.Errorf("non-recursive sync should ingest only a.csv, got %v", indexed)
	}
}

func TestWatcher_Start_createsMissingRootDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "watch", "me")
	w := NewWatcher([]string{root}, nil, true, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	if _, err := os.Stat(root); err != nil {
		t.Errorf("root directory should exist after Start: %v", err)
	}
}

func TestWatcher_HandleNewDirectory_ingestsNestedExports(t *testing.T) {
	dir := t.TempDir()
	sink := &recordingSink{}
	w := NewWatcher([]string{dir}, nil, true, sink, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	nested := filepath.Join(dir, "level1", "level2")
	if err := mkdirAll(nested); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(nested, "deep.jsonl"), `{"a":"b"}`); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		indexed, _ := sink.snapshot()
		return containsSuffix(indexed, "deep.jsonl")
	})
}

func mkdirAll(path string) error {
	return os.MkdirAll(path, 0755)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0600)
}
