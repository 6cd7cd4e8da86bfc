package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/ragindex/internal/models"
	"github.com/hyperjump/ragindex/internal/vector"
)

// SQLiteBacking keeps the snapshot in three tables: index metadata, documents, and one
// BLOB row per document field embedding.
type SQLiteBacking struct {
	db   *sql.DB
	path string
}

// NewSQLiteBacking opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteBacking(dbPath string) (*SQLiteBacking, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteBacking{db: db, path: dbPath}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS index_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS documents (
		seq INTEGER PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		dataset_id TEXT NOT NULL,
		dataset_name TEXT,
		full_text TEXT NOT NULL,
		prompt TEXT,
		completion TEXT,
		intent TEXT,
		category TEXT,
		row_index INTEGER NOT NULL,
		metadata TEXT,
		indexed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_documents_dataset_id ON documents(dataset_id);

	CREATE TABLE IF NOT EXISTS document_embeddings (
		document_id TEXT NOT NULL,
		field TEXT NOT NULL,
		vector BLOB NOT NULL,
		PRIMARY KEY (document_id, field),
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);
	`
	_, err := db.Exec(schema)
	return err
}

const (
	metaFormat       = "format"
	metaModelVersion = "model_version"
	metaDimension    = "dimension"
	metaSavedAt      = "saved_at"
	metaLastUpdated  = "last_updated"
)

// Save replaces all stored rows with snap in a single transaction.
func (s *SQLiteBacking) Save(ctx context.Context, snap *Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{`DELETE FROM document_embeddings`, `DELETE FROM documents`, `DELETE FROM index_meta`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear snapshot: %w", err)
		}
	}

	meta := map[string]string{
		metaFormat:       snap.Format,
		metaModelVersion: snap.ModelVersion,
		metaDimension:    strconv.Itoa(snap.Dimension),
		metaSavedAt:      formatTime(snap.SavedAt),
		metaLastUpdated:  formatTime(snap.LastUpdated),
	}
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx, `INSERT INTO index_meta (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("write meta %s: %w", k, err)
		}
	}

	docStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO documents (seq, id, dataset_id, dataset_name, full_text, prompt, completion, intent, category, row_index, metadata, indexed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer docStmt.Close()

	embStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO document_embeddings (document_id, field, vector) VALUES (?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer embStmt.Close()

	for i, d := range snap.Documents {
		metadataJSON, err := json.Marshal(d.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata for %s: %w", d.ID, err)
		}
		if _, err := docStmt.ExecContext(ctx,
			i, d.ID, d.DatasetID, d.DatasetName, d.FullText, d.Prompt, d.Completion, d.Intent, d.Category,
			d.RowIndex, string(metadataJSON), formatTime(d.IndexedAt),
		); err != nil {
			return fmt.Errorf("write document %s: %w", d.ID, err)
		}
		for field, v := range d.Embeddings {
			if _, err := embStmt.ExecContext(ctx, d.ID, string(field), vector.Encode(v)); err != nil {
				return fmt.Errorf("write embedding %s/%s: %w", d.ID, field, err)
			}
		}
	}
	return tx.Commit()
}

// Load reads the stored snapshot. Returns nil when the database holds none.
func (s *SQLiteBacking) Load(ctx context.Context) (*Snapshot, error) {
	meta := make(map[string]string)
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM index_meta`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			rows.Close()
			return nil, err
		}
		meta[k] = v
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(meta) == 0 {
		return nil, nil
	}

	dim, err := strconv.Atoi(meta[metaDimension])
	if err != nil {
		return nil, fmt.Errorf("invalid stored dimension %q: %w", meta[metaDimension], err)
	}
	snap := &Snapshot{
		Format:       meta[metaFormat],
		ModelVersion: meta[metaModelVersion],
		Dimension:    dim,
		SavedAt:      parseTime(meta[metaSavedAt]),
		LastUpdated:  parseTime(meta[metaLastUpdated]),
	}

	docs, byID, err := s.loadDocuments(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.loadEmbeddings(ctx, byID); err != nil {
		return nil, err
	}
	snap.Documents = docs
	return snap, nil
}

func (s *SQLiteBacking) loadDocuments(ctx context.Context) ([]*models.IndexedDocument, map[string]*models.IndexedDocument, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, dataset_id, dataset_name, full_text, prompt, completion, intent, category, row_index, metadata, indexed_at
		 FROM documents ORDER BY seq`,
	)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var docs []*models.IndexedDocument
	byID := make(map[string]*models.IndexedDocument)
	for rows.Next() {
		var d models.IndexedDocument
		var name, prompt, completion, intent, category, metadataJSON, indexedAt sql.NullString
		if err := rows.Scan(&d.ID, &d.DatasetID, &name, &d.FullText, &prompt, &completion, &intent, &category,
			&d.RowIndex, &metadataJSON, &indexedAt); err != nil {
			return nil, nil, err
		}
		d.DatasetName = name.String
		d.Prompt = prompt.String
		d.Completion = completion.String
		d.Intent = intent.String
		d.Category = category.String
		d.IndexedAt = parseTime(indexedAt.String)
		if metadataJSON.String != "" && metadataJSON.String != "null" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &d.Metadata); err != nil {
				return nil, nil, fmt.Errorf("failed to unmarshal metadata for %s: %w", d.ID, err)
			}
		}
		d.Embeddings = make(map[models.SearchField][]float32)
		docs = append(docs, &d)
		byID[d.ID] = &d
	}
	return docs, byID, rows.Err()
}

func (s *SQLiteBacking) loadEmbeddings(ctx context.Context, byID map[string]*models.IndexedDocument) error {
	rows, err := s.db.QueryContext(ctx, `SELECT document_id, field, vector FROM document_embeddings`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id, field string
		var blob []byte
		if err := rows.Scan(&id, &field, &blob); err != nil {
			return err
		}
		d, ok := byID[id]
		if !ok {
			continue
		}
		v, err := vector.Decode(blob)
		if err != nil {
			return fmt.Errorf("embedding %s/%s: %w", id, field, err)
		}
		d.Embeddings[models.SearchField(field)] = v
	}
	return rows.Err()
}

// Paths returns the database file and its WAL companions.
func (s *SQLiteBacking) Paths() []string {
	return []string{s.path, s.path + "-wal", s.path + "-shm"}
}

// Close closes the database connection.
func (s *SQLiteBacking) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
