package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/hyperjump/docchat/internal/vector"
)

func TestHashEmbedder_Deterministic(t *testing.T) {
	e := NewHashEmbedder(64)
	ctx := context.Background()
	a, _ := e.Embed(ctx, "The capital of France is Paris.")
	b, _ := e.Embed(ctx, "The capital of France is Paris.")
	if len(a) != 64 {
		t.Fatalf("dimension %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("same text should produce the same embedding")
		}
	}
}

func TestHashEmbedder_Normalized(t *testing.T) {
	e := NewHashEmbedder(32)
	v, _ := e.Embed(context.Background(), "alpha beta gamma delta")
	var sum float64
	for _, x := range v {
		sum += float64(x * x)
	}
	if math.Abs(sum-1) > 1e-5 {
		t.Errorf("norm^2 = %v, want 1", sum)
	}
	blank, _ := e.Embed(context.Background(), "the of and")
	for _, x := range blank {
		if x != 0 {
			t.Fatal("stopword-only text should embed to the zero vector")
		}
	}
}

func TestHashEmbedder_SharedTermsScoreHigher(t *testing.T) {
	e := NewHashEmbedder(256)
	ctx := context.Background()
	q, _ := e.Embed(ctx, "What is the capital of France?")
	related, _ := e.Embed(ctx, "The capital of France is Paris.")
	unrelated, _ := e.Embed(ctx, "Bananas grow in tropical climates.")
	if vector.InnerProduct(q, related) <= vector.InnerProduct(q, unrelated) {
		t.Errorf("related=%v unrelated=%v", vector.InnerProduct(q, related), vector.InnerProduct(q, unrelated))
	}
}

func TestHashEmbedder_EmbedBatch(t *testing.T) {
	e := NewHashEmbedder(0)
	if e.Dimensions() != 384 {
		t.Errorf("default dimensions = %d", e.Dimensions())
	}
	out, err := e.EmbedBatch(context.Background(), []string{"one", "two", "three"})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 {
		t.Errorf("got %d embeddings", len(out))
	}
}

func TestHashEmbedder_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewHashEmbedder(8).Embed(ctx, "x"); err == nil {
		t.Error("expected error for canceled context")
	}
}
