package embedding

import (
	"context"
	"testing"
)

type countingEmbedder struct {
	*HashEmbedder
	texts int
	calls int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.texts++
	c.calls++
	return c.HashEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.texts += len(texts)
	c.calls++
	return c.HashEmbedder.EmbedBatch(ctx, texts)
}

func TestCached_Embed(t *testing.T) {
	inner := &countingEmbedder{HashEmbedder: NewHashEmbedder(16)}
	e := NewCached(inner, 10)
	ctx := context.Background()
	a, _ := e.Embed(ctx, "hello")
	b, _ := e.Embed(ctx, "hello")
	if inner.texts != 1 {
		t.Errorf("expected 1 computed embedding, got %d", inner.texts)
	}
	if len(a) != len(b) || a[0] != b[0] {
		t.Error("cached value differs")
	}
	if e.Dimensions() != 16 {
		t.Errorf("Dimensions() = %d", e.Dimensions())
	}
}

func TestCached_EmbedBatchOnlyMisses(t *testing.T) {
	inner := &countingEmbedder{HashEmbedder: NewHashEmbedder(16)}
	e := NewCached(inner, 10)
	ctx := context.Background()
	_, _ = e.EmbedBatch(ctx, []string{"b"})
	out, err := e.EmbedBatch(ctx, []string{"a", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 {
		t.Fatalf("got %d embeddings", len(out))
	}
	if inner.texts != 3 || inner.calls != 2 {
		t.Errorf("texts=%d calls=%d, want 3 texts over 2 calls", inner.texts, inner.calls)
	}
	want, _ := NewHashEmbedder(16).Embed(ctx, "c")
	for i := range want {
		if out[2][i] != want[i] {
			t.Fatal("batch result out of order")
		}
	}
	if _, err := e.EmbedBatch(ctx, []string{"a", "c"}); err != nil {
		t.Fatal(err)
	}
	if inner.calls != 2 {
		t.Error("fully cached batch should not call the embedder")
	}
}

// taskEmbedder returns different vectors for queries and documents.
type taskEmbedder struct{ *HashEmbedder }

func (e taskEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.HashEmbedder.Embed(ctx, "query: "+text)
}

func TestCached_QueriesAndDocumentsCachedSeparately(t *testing.T) {
	inner := taskEmbedder{NewHashEmbedder(64)}
	e := NewCached(inner, 10)
	ctx := context.Background()
	text := "The capital of France is Paris."

	docs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		t.Fatal(err)
	}
	query, err := e.Embed(ctx, text)
	if err != nil {
		t.Fatal(err)
	}
	wantQuery, _ := inner.Embed(ctx, text)
	wantDoc, _ := inner.EmbedBatch(ctx, []string{text})
	for i := range wantQuery {
		if query[i] != wantQuery[i] {
			t.Fatal("query answered from the document cache")
		}
		if docs[0][i] != wantDoc[0][i] {
			t.Fatal("document embedding changed")
		}
	}
	again, _ := e.EmbedBatch(ctx, []string{text})
	for i := range wantDoc[0] {
		if again[0][i] != wantDoc[0][i] {
			t.Fatal("document answered from the query cache")
		}
	}
}

func TestCached_EmbedBatchCountedReportsMisses(t *testing.T) {
	inner := &countingEmbedder{HashEmbedder: NewHashEmbedder(16)}
	c := NewCached(inner, 10).(*Cached)
	ctx := context.Background()

	_, n, err := c.EmbedBatchCounted(ctx, []string{"a", "b"})
	if err != nil || n != 2 {
		t.Fatalf("first batch computed %d, %v", n, err)
	}
	out, n, err := c.EmbedBatchCounted(ctx, []string{"a", "b", "c"})
	if err != nil || n != 1 || len(out) != 3 {
		t.Errorf("second batch computed %d of %d, %v", n, len(out), err)
	}
	if _, n, _ = c.EmbedBatchCounted(ctx, []string{"c", "a"}); n != 0 {
		t.Errorf("cached batch computed %d", n)
	}
	var _ ComputeCounter = c
}

func TestNewCached_zeroCapacity(t *testing.T) {
	inner := NewHashEmbedder(4)
	if NewCached(inner, 0) != Embedder(inner) {
		t.Error("zero capacity should return the embedder unchanged")
	}
}
