package vector

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/docchat/internal/models"
)

// SQLiteStore keeps namespaces in a SQLite database. Vectors are stored as little-endian
// float32 blobs and scored in process.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a vector database at dbPath.
// Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create vector database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector database: %w", err)
	}
	// A single connection serializes writers so read-then-write transactions never hit SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := initVectorSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize vector schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func initVectorSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS namespaces (
		name TEXT PRIMARY KEY,
		dimensions INTEGER NOT NULL,
		expected INTEGER NOT NULL DEFAULT 0,
		sealed INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS vectors (
		namespace TEXT NOT NULL,
		chunk_id TEXT NOT NULL,
		page INTEGER NOT NULL,
		chunk_index INTEGER NOT NULL,
		ordinal INTEGER NOT NULL,
		content TEXT NOT NULL,
		embedding BLOB NOT NULL,
		PRIMARY KEY (namespace, chunk_id)
	);

	CREATE INDEX IF NOT EXISTS idx_vectors_namespace_ordinal ON vectors(namespace, ordinal);
	`
	_, err := db.Exec(schema)
	return err
}

// NamespaceExists reports whether ns holds any record.
func (s *SQLiteStore) NamespaceExists(ctx context.Context, ns string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM vectors WHERE namespace = ? LIMIT 1`, ns).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Describe returns the stats of ns.
func (s *SQLiteStore) Describe(ctx context.Context, ns string) (NamespaceStats, error) {
	var stats NamespaceStats
	var sealed int
	err := s.db.QueryRowContext(ctx,
		`SELECT dimensions, expected, sealed FROM namespaces WHERE name = ?`, ns,
	).Scan(&stats.Dimensions, &stats.Expected, &sealed)
	if err == sql.ErrNoRows {
		return NamespaceStats{}, nil
	}
	if err != nil {
		return NamespaceStats{}, err
	}
	stats.Sealed = sealed == 1
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM vectors WHERE namespace = ?`, ns,
	).Scan(&stats.Vectors); err != nil {
		return NamespaceStats{}, err
	}
	return stats, nil
}

// Upsert writes records into ns in a single transaction.
func (s *SQLiteStore) Upsert(ctx context.Context, ns string, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var dims int
	err = tx.QueryRowContext(ctx, `SELECT dimensions FROM namespaces WHERE name = ?`, ns).Scan(&dims)
	if err != nil && err != sql.ErrNoRows {
		return err
	}
	if dims, err = checkDimensions(records, dims); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO namespaces (name, dimensions) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`, ns, dims,
	); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO vectors (namespace, chunk_id, page, chunk_index, ordinal, content, embedding)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(namespace, chunk_id) DO UPDATE SET
		   page = excluded.page, chunk_index = excluded.chunk_index, ordinal = excluded.ordinal,
		   content = excluded.content, embedding = excluded.embedding`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, ns, r.Chunk.ID, r.Chunk.Page, r.Chunk.Index, r.Chunk.Ordinal,
			r.Chunk.Text, float32SliceToBytes(r.Vector)); err != nil {
			return fmt.Errorf("failed to write chunk %s: %w", r.Chunk.ID, err)
		}
	}
	return tx.Commit()
}

// Query scores every record of ns against vector and returns the top k.
func (s *SQLiteStore) Query(ctx context.Context, ns string, vector []float32, k int) ([]*models.RetrievalResult, error) {
	stats, err := s.Describe(ctx, ns)
	if err != nil {
		return nil, err
	}
	if stats.Vectors == 0 {
		return nil, nil
	}
	if len(vector) != stats.Dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(vector), stats.Dimensions)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_id, page, chunk_index, ordinal, content, embedding
		 FROM vectors WHERE namespace = ? ORDER BY ordinal`, ns)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	records := make([]models.Record, 0, stats.Vectors)
	for rows.Next() {
		chunk := &models.Chunk{DocumentID: ns}
		var blob []byte
		if err := rows.Scan(&chunk.ID, &chunk.Page, &chunk.Index, &chunk.Ordinal, &chunk.Text, &blob); err != nil {
			return nil, err
		}
		records = append(records, models.Record{Chunk: chunk, Vector: bytesToFloat32Slice(blob)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return scoreRecords(records, vector, k), nil
}

// Seal marks ns complete.
func (s *SQLiteStore) Seal(ctx context.Context, ns string, expected int) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE namespaces SET expected = ?, sealed = 1 WHERE name = ?`, expected, ns)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("namespace %s does not exist", ns)
	}
	return nil
}

// DeleteNamespace removes ns and its records.
func (s *SQLiteStore) DeleteNamespace(ctx context.Context, ns string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM vectors WHERE namespace = ?`, ns); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM namespaces WHERE name = ?`, ns); err != nil {
		return err
	}
	return tx.Commit()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
