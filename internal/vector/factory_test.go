package vector

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hyperjump/docchat/internal/config"
)

func TestNewStore_Memory(t *testing.T) {
	s, err := NewStore(context.Background(), config.VectorConfig{Backend: "memory"})
	if err != nil {
		t.Fatalf("NewStore(memory): %v", err)
	}
	defer s.Close()
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("expected *MemoryStore, got %T", s)
	}
}

func TestNewStore_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.db")
	s, err := NewStore(context.Background(), config.VectorConfig{Backend: "sqlite", Path: path})
	if err != nil {
		t.Fatalf("NewStore(sqlite): %v", err)
	}
	defer s.Close()
	if _, ok := s.(*SQLiteStore); !ok {
		t.Errorf("expected *SQLiteStore, got %T", s)
	}
}

func TestNewStore_SQLiteRequiresPath(t *testing.T) {
	if _, err := NewStore(context.Background(), config.VectorConfig{Backend: "sqlite"}); err == nil {
		t.Error("expected error without path")
	}
}

func TestNewStore_Unknown(t *testing.T) {
	if _, err := NewStore(context.Background(), config.VectorConfig{Backend: "faiss"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}
