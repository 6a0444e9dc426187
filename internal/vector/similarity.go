package vector

import (
	"fmt"
	"sort"

	"github.com/hyperjump/docchat/internal/models"
)

// InnerProduct returns the inner product of two vectors (for normalized vectors equals cosine similarity).
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i] * b[i])
	}
	return dot
}

// scoreRecords scores every record against query and returns the top k.
func scoreRecords(records []models.Record, query []float32, k int) []*models.RetrievalResult {
	if k <= 0 || len(records) == 0 {
		return nil
	}
	results := make([]*models.RetrievalResult, len(records))
	for i, r := range records {
		results[i] = &models.RetrievalResult{Chunk: r.Chunk, Score: InnerProduct(query, r.Vector)}
	}
	sortResults(results)
	if k > len(results) {
		k = len(results)
	}
	return results[:k]
}

// sortResults orders results by score descending; equal scores keep document order.
func sortResults(results []*models.RetrievalResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.Ordinal < results[j].Chunk.Ordinal
	})
}

// checkDimensions returns the shared dimension of records, or want if it is non-zero.
func checkDimensions(records []models.Record, want int) (int, error) {
	for _, r := range records {
		if r.Chunk == nil {
			return 0, fmt.Errorf("record without chunk")
		}
		if len(r.Vector) == 0 {
			return 0, fmt.Errorf("chunk %s has an empty vector", r.Chunk.ID)
		}
		if want == 0 {
			want = len(r.Vector)
		}
		if len(r.Vector) != want {
			return 0, fmt.Errorf("vector dimension mismatch for chunk %s: got %d, expected %d", r.Chunk.ID, len(r.Vector), want)
		}
	}
	return want, nil
}
