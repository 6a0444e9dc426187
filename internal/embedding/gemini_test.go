package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/google/generative-ai-go/genai"

	"github.com/hyperjump/docchat/internal/apperr"
)

func fakeGemini(dims int, calls *[]int, tasks *[]genai.TaskType) embedFunc {
	return func(ctx context.Context, task genai.TaskType, texts []string) ([][]float32, error) {
		*calls = append(*calls, len(texts))
		*tasks = append(*tasks, task)
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = make([]float32, dims)
		}
		return out, nil
	}
}

func TestGeminiEmbedder_EmbedBatchSplitsRequests(t *testing.T) {
	var calls []int
	var tasks []genai.TaskType
	e := newGeminiEmbedder(4, 2, fakeGemini(4, &calls, &tasks))
	out, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c", "d", "e"})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 5 {
		t.Fatalf("got %d embeddings", len(out))
	}
	if len(calls) != 3 || calls[0] != 2 || calls[2] != 1 {
		t.Errorf("request sizes = %v", calls)
	}
	for _, task := range tasks {
		if task != genai.TaskTypeRetrievalDocument {
			t.Errorf("batch task = %v", task)
		}
	}
}

func TestGeminiEmbedder_EmbedUsesQueryTask(t *testing.T) {
	var calls []int
	var tasks []genai.TaskType
	e := newGeminiEmbedder(4, 0, fakeGemini(4, &calls, &tasks))
	if e.batchSize != maxGeminiBatch {
		t.Errorf("batch size = %d", e.batchSize)
	}
	if _, err := e.Embed(context.Background(), "q"); err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 || tasks[0] != genai.TaskTypeRetrievalQuery {
		t.Errorf("tasks = %v", tasks)
	}
}

func TestGeminiEmbedder_RejectsWrongDimension(t *testing.T) {
	var calls []int
	var tasks []genai.TaskType
	e := newGeminiEmbedder(8, 10, fakeGemini(4, &calls, &tasks))
	_, err := e.EmbedBatch(context.Background(), []string{"a"})
	if !errors.Is(err, apperr.ErrProvider) {
		t.Errorf("expected provider error, got %v", err)
	}
}

func TestGeminiEmbedder_PropagatesProviderError(t *testing.T) {
	want := apperr.Transient(apperr.KindProvider, "embed", errors.New("quota"))
	e := newGeminiEmbedder(4, 10, func(ctx context.Context, task genai.TaskType, texts []string) ([][]float32, error) {
		return nil, want
	})
	_, err := e.Embed(context.Background(), "q")
	if !errors.Is(err, want) || !apperr.IsRetryable(err) {
		t.Errorf("expected transient provider error, got %v", err)
	}
}
