package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hyperjump/docchat/internal/models"
)

// MemoryStore is an in-memory namespaced store using brute-force inner product search.
// When created with a path, the contents are loaded on open and saved on Close.
type MemoryStore struct {
	path       string
	namespaces map[string]*memNamespace
	mu         sync.RWMutex
}

type memNamespace struct {
	dimensions int
	expected   int
	sealed     bool
	records    map[string]models.Record
}

// NewMemoryStore creates an in-memory store. path may be empty for a purely in-memory store.
func NewMemoryStore(path string) (*MemoryStore, error) {
	m := &MemoryStore{path: path, namespaces: make(map[string]*memNamespace)}
	if err := m.Load(path); err != nil {
		return nil, err
	}
	return m, nil
}

// NamespaceExists reports whether ns holds any record.
func (m *MemoryStore) NamespaceExists(ctx context.Context, ns string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.namespaces[ns]
	return ok && len(n.records) > 0, nil
}

// Describe returns the stats of ns.
func (m *MemoryStore) Describe(ctx context.Context, ns string) (NamespaceStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.namespaces[ns]
	if !ok {
		return NamespaceStats{}, nil
	}
	return NamespaceStats{
		Vectors:    len(n.records),
		Dimensions: n.dimensions,
		Expected:   n.expected,
		Sealed:     n.sealed,
	}, nil
}

// Upsert writes records into ns. Vectors are copied.
func (m *MemoryStore) Upsert(ctx context.Context, ns string, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.namespaces[ns]
	if !ok {
		n = &memNamespace{records: make(map[string]models.Record)}
	}
	dims, err := checkDimensions(records, n.dimensions)
	if err != nil {
		return err
	}
	n.dimensions = dims
	for _, r := range records {
		chunk := *r.Chunk
		vec := make([]float32, len(r.Vector))
		copy(vec, r.Vector)
		n.records[chunk.ID] = models.Record{Chunk: &chunk, Vector: vec}
	}
	m.namespaces[ns] = n
	return nil
}

// Query returns the top-k records of ns by inner product.
func (m *MemoryStore) Query(ctx context.Context, ns string, vector []float32, k int) ([]*models.RetrievalResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.namespaces[ns]
	if !ok {
		return nil, nil
	}
	if len(vector) != n.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(vector), n.dimensions)
	}
	return scoreRecords(n.sorted(), vector, k), nil
}

// Seal marks ns complete.
func (m *MemoryStore) Seal(ctx context.Context, ns string, expected int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.namespaces[ns]
	if !ok {
		return fmt.Errorf("namespace %s does not exist", ns)
	}
	n.expected = expected
	n.sealed = true
	return nil
}

// DeleteNamespace removes ns.
func (m *MemoryStore) DeleteNamespace(ctx context.Context, ns string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.namespaces, ns)
	return nil
}

// Close saves the store to its path, if any.
func (m *MemoryStore) Close() error {
	return m.Save(m.path)
}

// sorted returns the records of n in document order.
func (n *memNamespace) sorted() []models.Record {
	out := make([]models.Record, 0, len(n.records))
	for _, r := range n.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Chunk.Ordinal < out[j].Chunk.Ordinal })
	return out
}
