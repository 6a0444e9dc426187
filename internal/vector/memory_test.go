package vector

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/docchat/internal/models"
)

func TestMemoryStore_CopiesVectors(t *testing.T) {
	s, _ := NewMemoryStore("")
	ctx := context.Background()
	rec := record("doc", 0, 1, 0)
	if err := s.Upsert(ctx, "doc", []models.Record{rec}); err != nil {
		t.Fatal(err)
	}
	rec.Vector[0] = 0
	results, _ := s.Query(ctx, "doc", []float32{1, 0}, 1)
	if len(results) != 1 || results[0].Score != 1 {
		t.Errorf("stored vector should not alias caller slice: %+v", results)
	}
}

func TestMemoryStore_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshots", "vectors.bin")
	ctx := context.Background()

	s, err := NewMemoryStore(path)
	if err != nil {
		t.Fatal(err)
	}
	_ = s.Upsert(ctx, "a", []models.Record{record("a", 0, 1, 0), record("a", 1, 0, 1)})
	_ = s.Seal(ctx, "a", 2)
	_ = s.Upsert(ctx, "b", []models.Record{record("b", 0, 0.6, 0.8, 0)})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("snapshot not written: %v", err)
	}

	loaded, err := NewMemoryStore(path)
	if err != nil {
		t.Fatal(err)
	}
	stats, _ := loaded.Describe(ctx, "a")
	if stats != (NamespaceStats{Vectors: 2, Dimensions: 2, Expected: 2, Sealed: true}) {
		t.Errorf("namespace a stats: %+v", stats)
	}
	stats, _ = loaded.Describe(ctx, "b")
	if stats.Vectors != 1 || stats.Dimensions != 3 || stats.Sealed {
		t.Errorf("namespace b stats: %+v", stats)
	}
	results, err := loaded.Query(ctx, "a", []float32{0, 1}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Chunk.ID != "a#p1-c1" || results[0].Chunk.Text != "chunk 1 of a" {
		t.Errorf("unexpected result after load: %+v", results[0].Chunk)
	}
}

func TestMemoryStore_LoadMissingFile(t *testing.T) {
	s, err := NewMemoryStore(filepath.Join(t.TempDir(), "missing.bin"))
	if err != nil {
		t.Fatalf("missing snapshot should not fail: %v", err)
	}
	if exists, _ := s.NamespaceExists(context.Background(), "x"); exists {
		t.Error("expected empty store")
	}
}

func TestMemoryStore_LoadTruncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.bin")
	if err := os.WriteFile(path, []byte{1, 0, 0, 0, 5, 0}, 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewMemoryStore(path); err == nil {
		t.Error("expected error for truncated snapshot")
	}
}

func TestInnerProduct(t *testing.T) {
	if got := InnerProduct([]float32{1, 2}, []float32{3, 4}); got != 11 {
		t.Errorf("InnerProduct = %v", got)
	}
	if got := InnerProduct([]float32{1}, []float32{1, 2}); got != 0 {
		t.Errorf("mismatched lengths should yield 0, got %v", got)
	}
}
