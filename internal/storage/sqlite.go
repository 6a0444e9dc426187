package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/hyperjump/docchat/internal/apperr"
	"github.com/hyperjump/docchat/internal/models"
	"github.com/hyperjump/docchat/internal/status"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
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

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS registrations (
		doc_id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		location TEXT NOT NULL,
		file_name TEXT,
		content_type TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_registrations_owner ON registrations(owner_id, created_at);

	CREATE TABLE IF NOT EXISTS statuses (
		doc_id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		reason TEXT,
		kind TEXT,
		metrics TEXT,
		updated_at TIMESTAMP NOT NULL
	);
	`
	_, err := db.Exec(schema)
	return err
}

// RegisterDocument inserts a registration. A document id may be registered once.
func (s *SQLiteStorage) RegisterDocument(ctx context.Context, doc *models.Document) error {
	if doc.ID == "" || doc.OwnerID == "" || doc.Location == "" {
		return apperr.Errorf(apperr.KindInvalidInput, "register", "id, owner and location are required")
	}
	doc.CreatedAt = time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO registrations (doc_id, owner_id, location, file_name, content_type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.OwnerID, doc.Location, doc.FileName, doc.ContentType, doc.CreatedAt,
	)
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) && sqlErr.Code == sqlite3.ErrConstraint {
		return apperr.Errorf(apperr.KindInvalidInput, "register", "document %s is already registered", doc.ID)
	}
	return err
}

// GetDocument returns the registration of docID owned by ownerID. A document owned by someone
// else is reported as not found.
func (s *SQLiteStorage) GetDocument(ctx context.Context, ownerID, docID string) (*models.Document, error) {
	var doc models.Document
	var fileName, contentType sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT doc_id, owner_id, location, file_name, content_type, created_at
		 FROM registrations WHERE doc_id = ? AND owner_id = ?`, docID, ownerID,
	).Scan(&doc.ID, &doc.OwnerID, &doc.Location, &fileName, &contentType, &doc.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, apperr.Errorf(apperr.KindNotFound, "resolve", "document not found: %s", docID)
	}
	if err != nil {
		return nil, err
	}
	doc.FileName = fileName.String
	doc.ContentType = contentType.String
	return &doc, nil
}

// Resolve returns the location of docID owned by ownerID.
func (s *SQLiteStorage) Resolve(ctx context.Context, ownerID, docID string) (models.Location, error) {
	doc, err := s.GetDocument(ctx, ownerID, docID)
	if err != nil {
		return models.Location{}, err
	}
	return models.Location{URL: doc.Location, FileName: doc.FileName, ContentType: doc.ContentType}, nil
}

// ListDocuments returns the registrations of ownerID, newest first.
func (s *SQLiteStorage) ListDocuments(ctx context.Context, ownerID string, offset, limit int) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc_id, owner_id, location, file_name, content_type, created_at
		 FROM registrations WHERE owner_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		ownerID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		var doc models.Document
		var fileName, contentType sql.NullString
		if err := rows.Scan(&doc.ID, &doc.OwnerID, &doc.Location, &fileName, &contentType, &doc.CreatedAt); err != nil {
			return nil, err
		}
		doc.FileName = fileName.String
		doc.ContentType = contentType.String
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

// DeleteDocument removes the registration and status of docID.
func (s *SQLiteStorage) DeleteDocument(ctx context.Context, ownerID, docID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM registrations WHERE doc_id = ? AND owner_id = ?`, docID, ownerID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperr.Errorf(apperr.KindNotFound, "delete", "document not found: %s", docID)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM statuses WHERE doc_id = ?`, docID); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveStatus writes or replaces the snapshot of st.DocID.
func (s *SQLiteStorage) SaveStatus(ctx context.Context, st status.Status) error {
	metricsJSON, err := json.Marshal(st.Metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO statuses (doc_id, state, reason, kind, metrics, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(doc_id) DO UPDATE SET
		   state = excluded.state, reason = excluded.reason, kind = excluded.kind,
		   metrics = excluded.metrics, updated_at = excluded.updated_at`,
		st.DocID, string(st.State), st.Reason, st.Kind, string(metricsJSON), st.UpdatedAt,
	)
	return err
}

// LoadStatus returns the snapshot of docID, or false when none was saved.
func (s *SQLiteStorage) LoadStatus(ctx context.Context, docID string) (status.Status, bool, error) {
	var st status.Status
	var state string
	var reason, kind, metricsJSON sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT doc_id, state, reason, kind, metrics, updated_at FROM statuses WHERE doc_id = ?`, docID,
	).Scan(&st.DocID, &state, &reason, &kind, &metricsJSON, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return status.Status{}, false, nil
	}
	if err != nil {
		return status.Status{}, false, err
	}
	st.State = status.State(state)
	st.Reason = reason.String
	st.Kind = kind.String
	if metricsJSON.String != "" {
		if err := json.Unmarshal([]byte(metricsJSON.String), &st.Metrics); err != nil {
			return status.Status{}, false, fmt.Errorf("failed to unmarshal metrics: %w", err)
		}
	}
	return st, true, nil
}

// DeleteStatus removes the snapshot of docID.
func (s *SQLiteStorage) DeleteStatus(ctx context.Context, docID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM statuses WHERE doc_id = ?`, docID)
	return err
}

// CountDocuments returns the total number of registrations.
func (s *SQLiteStorage) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM registrations`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
