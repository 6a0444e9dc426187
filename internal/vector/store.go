// Package vector provides namespaced vector stores. Each document's chunks live in their own
// namespace; queries never cross namespaces.
package vector

import (
	"context"

	"github.com/hyperjump/docchat/internal/models"
)

// Store persists chunk embeddings partitioned by namespace.
type Store interface {
	// NamespaceExists reports whether any record has been written to ns.
	NamespaceExists(ctx context.Context, ns string) (bool, error)
	// Describe returns the stats of ns; a missing namespace yields zero stats.
	Describe(ctx context.Context, ns string) (NamespaceStats, error)
	// Upsert writes records into ns, replacing records with the same chunk id.
	// All vectors of a namespace must share one dimension.
	Upsert(ctx context.Context, ns string, records []models.Record) error
	// Query returns up to k records of ns ordered by score descending, ties by lower ordinal.
	Query(ctx context.Context, ns string, vector []float32, k int) ([]*models.RetrievalResult, error)
	// Seal marks ns complete with the expected number of vectors.
	Seal(ctx context.Context, ns string, expected int) error
	// DeleteNamespace removes ns and all its records. Deleting a missing namespace is a no-op.
	DeleteNamespace(ctx context.Context, ns string) error
	Close() error
}

// NamespaceStats describes a namespace.
type NamespaceStats struct {
	Vectors    int  `json:"vectors"`
	Dimensions int  `json:"dimensions"`
	Expected   int  `json:"expected"`
	Sealed     bool `json:"sealed"`
}
