// Package store holds indexed documents in memory, grouped by dataset, and
// hands out consistent snapshots to concurrent readers.
package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/hyperjump/ragindex/internal/models"
	"github.com/hyperjump/ragindex/pkg/utils"
	"go.uber.org/zap"
)

const previewChars = 100

// DocumentStore is the in-memory collection of indexed documents.
// Writers replace or extend the document slice under the write lock; readers take a
// snapshot under the read lock and scan it without holding any lock.
type DocumentStore struct {
	mu          sync.RWMutex
	docs        []*models.IndexedDocument
	ids         map[string]struct{}
	datasets    map[string]*datasetInfo
	order       []string
	dimension   int
	lastUpdated time.Time
	logger      *zap.Logger
}

type datasetInfo struct {
	name       string
	count      int
	categories map[string]int
	catOrder   []string
}

func (d *datasetInfo) addCategory(c string) {
	if c == "" {
		return
	}
	if _, ok := d.categories[c]; !ok {
		d.catOrder = append(d.catOrder, c)
	}
	d.categories[c]++
}

// category is the most common category, first seen wins ties, "unknown" when none.
func (d *datasetInfo) category() string {
	best, bestN := "unknown", 0
	for _, c := range d.catOrder {
		if n := d.categories[c]; n > bestN {
			best, bestN = c, n
		}
	}
	return best
}

// Option configures a DocumentStore.
type Option func(*DocumentStore)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *DocumentStore) { s.logger = utils.OrNop(l) }
}

// New returns an empty store. The dimension is fixed by the first accepted batch.
func New(opts ...Option) *DocumentStore {
	s := &DocumentStore{
		ids:      make(map[string]struct{}),
		datasets: make(map[string]*datasetInfo),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddBatch appends docs atomically. Documents whose id is already stored, or repeated
// within the batch, are skipped. If any remaining vector has the wrong length nothing
// is added and a *models.DimensionError is returned. Returns the number added.
func (s *DocumentStore) AddBatch(docs []*models.IndexedDocument) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh, dim, err := s.acceptLocked(docs, s.dimension, nil)
	if err != nil {
		return 0, err
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	s.dimension = dim
	s.appendLocked(fresh)
	s.lastUpdated = time.Now().UTC()
	s.logger.Debug("documents added",
		zap.Int("added", len(fresh)),
		zap.Int("skipped", len(docs)-len(fresh)),
		zap.Int("total", len(s.docs)),
	)
	return len(fresh), nil
}

// ReplaceDataset swaps every document of datasetID for docs in one step: readers see
// either the old dataset or the new one. The dataset need not exist. On error the
// store is unchanged.
func (s *DocumentStore) ReplaceDataset(datasetID string, docs []*models.IndexedDocument) (removed, added int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	leaving := make(map[string]struct{})
	kept := make([]*models.IndexedDocument, 0, len(s.docs))
	for _, d := range s.docs {
		if d.DatasetID == datasetID {
			leaving[d.ID] = struct{}{}
			continue
		}
		kept = append(kept, d)
	}
	dim := s.dimension
	if len(kept) == 0 {
		dim = 0
	}
	for _, d := range docs {
		if d != nil && d.DatasetID != datasetID {
			return 0, 0, fmt.Errorf("%w: document %q belongs to dataset %q, not %q", models.ErrInvalidInput, d.ID, d.DatasetID, datasetID)
		}
	}
	fresh, dim, err := s.acceptLocked(docs, dim, leaving)
	if err != nil {
		return 0, 0, err
	}
	if len(leaving) == 0 && len(fresh) == 0 {
		return 0, 0, nil
	}

	for id := range leaving {
		delete(s.ids, id)
	}
	s.docs = kept
	if _, ok := s.datasets[datasetID]; ok {
		delete(s.datasets, datasetID)
		s.dropOrderLocked(datasetID)
	}
	s.dimension = dim
	s.appendLocked(fresh)
	s.lastUpdated = time.Now().UTC()
	s.logger.Debug("dataset replaced",
		zap.String("dataset_id", datasetID),
		zap.Int("removed", len(leaving)),
		zap.Int("added", len(fresh)),
	)
	return len(leaving), len(fresh), nil
}

// acceptLocked filters docs down to those that can be stored and checks their vectors
// against dim (0 means unset). Ids in freed are treated as available.
func (s *DocumentStore) acceptLocked(docs []*models.IndexedDocument, dim int, freed map[string]struct{}) ([]*models.IndexedDocument, int, error) {
	fresh := make([]*models.IndexedDocument, 0, len(docs))
	seen := make(map[string]struct{}, len(docs))
	for _, d := range docs {
		if d == nil {
			continue
		}
		if _, dup := s.ids[d.ID]; dup {
			if _, ok := freed[d.ID]; !ok {
				continue
			}
		}
		if _, dup := seen[d.ID]; dup {
			continue
		}
		if d.Dimension() == 0 {
			return nil, 0, fmt.Errorf("%w: document %q has no full-text embedding", models.ErrInvalidInput, d.ID)
		}
		if dim == 0 {
			dim = d.Dimension()
		}
		for field, v := range d.Embeddings {
			if len(v) != dim {
				return nil, 0, fmt.Errorf("document %q field %s: %w", d.ID, field, &models.DimensionError{Got: len(v), Want: dim})
			}
		}
		seen[d.ID] = struct{}{}
		fresh = append(fresh, d)
	}
	return fresh, dim, nil
}

func (s *DocumentStore) dropOrderLocked(datasetID string) {
	for i, id := range s.order {
		if id == datasetID {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			return
		}
	}
}

// appendLocked adds docs without validation. Caller holds the write lock.
func (s *DocumentStore) appendLocked(docs []*models.IndexedDocument) {
	for _, d := range docs {
		s.docs = append(s.docs, d)
		s.ids[d.ID] = struct{}{}
		info, ok := s.datasets[d.DatasetID]
		if !ok {
			info = &datasetInfo{name: d.DatasetName, categories: make(map[string]int)}
			s.datasets[d.DatasetID] = info
			s.order = append(s.order, d.DatasetID)
		}
		info.count++
		info.addCategory(d.Category)
	}
}

// RemoveDataset deletes every document of datasetID and returns how many were removed.
// Returns models.ErrNotFound when the dataset has no documents.
func (s *DocumentStore) RemoveDataset(datasetID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.datasets[datasetID]; !ok {
		return 0, fmt.Errorf("dataset %q: %w", datasetID, models.ErrNotFound)
	}
	kept := make([]*models.IndexedDocument, 0, len(s.docs))
	removed := 0
	for _, d := range s.docs {
		if d.DatasetID == datasetID {
			delete(s.ids, d.ID)
			removed++
			continue
		}
		kept = append(kept, d)
	}
	s.docs = kept
	delete(s.datasets, datasetID)
	s.dropOrderLocked(datasetID)
	if len(s.docs) == 0 {
		s.dimension = 0
	}
	s.lastUpdated = time.Now().UTC()
	s.logger.Debug("dataset removed", zap.String("dataset_id", datasetID), zap.Int("removed", removed))
	return removed, nil
}

// Documents returns a read-only snapshot of all documents in insertion order.
// Later writes never modify the returned slice.
func (s *DocumentStore) Documents() []*models.IndexedDocument {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.docs[:len(s.docs):len(s.docs)]
}

// Snapshot returns the documents with the dimension and update time they were stored
// under, read in one critical section so the three always agree.
func (s *DocumentStore) Snapshot() (docs []*models.IndexedDocument, dimension int, lastUpdated time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.docs[:len(s.docs):len(s.docs)], s.dimension, s.lastUpdated
}

// Has reports whether a document with id is stored.
func (s *DocumentStore) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of stored documents.
func (s *DocumentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Dimension returns the established vector length, 0 when the store is empty.
func (s *DocumentStore) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension
}

// ListDatasets summarises live datasets in first-indexed order. With previews, each
// summary lists its documents with a short text preview.
func (s *DocumentStore) ListDatasets(previews bool) []models.DatasetSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.DatasetSummary, 0, len(s.order))
	index := make(map[string]int, len(s.order))
	for _, id := range s.order {
		info := s.datasets[id]
		index[id] = len(out)
		out = append(out, models.DatasetSummary{
			DatasetID:     id,
			DatasetName:   info.name,
			DocumentCount: info.count,
			Category:      info.category(),
		})
	}
	if previews {
		for _, d := range s.docs {
			i := index[d.DatasetID]
			out[i].Documents = append(out[i].Documents, models.DocumentPreview{
				ID:          d.ID,
				RowIndex:    d.RowIndex,
				TextPreview: utils.Truncate(d.FullText, previewChars),
			})
		}
	}
	return out
}

// Stats summarises the store.
func (s *DocumentStore) Stats() models.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := models.Stats{
		TotalDocuments:       len(s.docs),
		TotalIndexedDatasets: len(s.datasets),
		Dimension:            s.dimension,
	}
	for _, d := range s.docs {
		st.TotalEmbeddings += len(d.Embeddings)
	}
	if !s.lastUpdated.IsZero() {
		t := s.lastUpdated
		st.LastUpdated = &t
	}
	return st
}

// LastUpdated returns the time of the last successful mutation.
func (s *DocumentStore) LastUpdated() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdated
}

// Restore replaces the contents with docs, as loaded from persistence. The vectors
// must all share one length; duplicates keep the first occurrence.
func (s *DocumentStore) Restore(docs []*models.IndexedDocument, lastUpdated time.Time) error {
	fresh := New(WithLogger(s.logger))
	if _, err := fresh.AddBatch(docs); err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = fresh.docs
	s.ids = fresh.ids
	s.datasets = fresh.datasets
	s.order = fresh.order
	s.dimension = fresh.dimension
	s.lastUpdated = lastUpdated
	return nil
}

// Reset empties the store.
func (s *DocumentStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = nil
	s.ids = make(map[string]struct{})
	s.datasets = make(map[string]*datasetInfo)
	s.order = nil
	s.dimension = 0
	s.lastUpdated = time.Time{}
}
