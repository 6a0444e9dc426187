package status

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/docchat/internal/apperr"
)

type memStore struct {
	mu   sync.Mutex
	data map[string]Status
}

func newMemStore() *memStore { return &memStore{data: make(map[string]Status)} }

func (m *memStore) SaveStatus(ctx context.Context, st Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[st.DocID] = st
	return nil
}

func (m *memStore) LoadStatus(ctx context.Context, docID string) (Status, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.data[docID]
	return st, ok, nil
}

func (m *memStore) DeleteStatus(ctx context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, docID)
	return nil
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{"", Registered, true},
		{"", Ingesting, true},
		{"", Indexed, false},
		{Registered, Ingesting, true},
		{Registered, Embedding, false},
		{Ingesting, Embedding, true},
		{Ingesting, Indexed, false},
		{Embedding, Indexed, true},
		{Embedding, Failed, true},
		{Registered, Failed, true},
		{Failed, Ingesting, true},
		{Indexed, Ingesting, false},
		{Indexed, Failed, false},
		{Failed, Failed, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTracker_HappyPath(t *testing.T) {
	tr := NewTracker()
	ctx := context.Background()
	for _, s := range []State{Registered, Ingesting, Embedding} {
		if _, err := tr.Transition(ctx, "d1", s, nil); err != nil {
			t.Fatalf("transition to %s: %v", s, err)
		}
	}
	st, err := tr.Transition(ctx, "d1", Indexed, func(s *Status) {
		s.Metrics.Chunks = 7
		s.Metrics.EmbeddingsComputed = 7
	})
	if err != nil {
		t.Fatal(err)
	}
	if st.State != Indexed || st.Metrics.Chunks != 7 || st.UpdatedAt.IsZero() {
		t.Errorf("unexpected snapshot %+v", st)
	}
	got, ok := tr.Get(ctx, "d1")
	if !ok || got.State != Indexed {
		t.Errorf("Get = %+v, %v", got, ok)
	}
}

func TestTracker_RejectsIllegalTransition(t *testing.T) {
	tr := NewTracker()
	ctx := context.Background()
	_, _ = tr.Transition(ctx, "d1", Registered, nil)
	st, err := tr.Transition(ctx, "d1", Indexed, nil)
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected illegal transition, got %v", err)
	}
	if st.State != Registered {
		t.Errorf("state changed to %s", st.State)
	}
}

func TestTracker_FailRecordsKindAndReason(t *testing.T) {
	tr := NewTracker()
	ctx := context.Background()
	_, _ = tr.Transition(ctx, "d1", Ingesting, nil)
	st, err := tr.Fail(ctx, "d1", apperr.Errorf(apperr.KindEmptyContent, "chunk", "no text"))
	if err != nil {
		t.Fatal(err)
	}
	if st.State != Failed || st.Kind != string(apperr.KindEmptyContent) || st.Reason == "" {
		t.Errorf("unexpected failed snapshot %+v", st)
	}
	// Retrying clears the failure.
	st, err = tr.Transition(ctx, "d1", Ingesting, nil)
	if err != nil {
		t.Fatal(err)
	}
	if st.Reason != "" || st.Kind != "" {
		t.Errorf("reason not cleared: %+v", st)
	}
}

func TestTracker_SubscribeReceivesTransitions(t *testing.T) {
	tr := NewTracker()
	ctx := context.Background()
	_, _ = tr.Transition(ctx, "d1", Registered, nil)

	ch, cancel := tr.Subscribe("d1")
	defer cancel()
	_, _ = tr.Transition(ctx, "d1", Ingesting, nil)
	_, _ = tr.Transition(ctx, "other", Registered, nil)

	want := []State{Registered, Ingesting}
	for _, w := range want {
		select {
		case st := <-ch:
			if st.State != w || st.DocID != "d1" {
				t.Errorf("got %s/%s, want d1/%s", st.DocID, st.State, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", w)
		}
	}
	select {
	case st := <-ch:
		t.Errorf("unexpected snapshot %+v", st)
	default:
	}
}

func TestTracker_SlowSubscriberDoesNotBlock(t *testing.T) {
	tr := NewTracker()
	ctx := context.Background()
	ch, cancel := tr.Subscribe("d1")
	for i := 0; i < subscriberBuffer*2; i++ {
		if _, err := tr.Transition(ctx, "d1", Registered, nil); err != nil {
			t.Fatal(err)
		}
	}
	if len(ch) != subscriberBuffer {
		t.Errorf("buffer holds %d, want %d", len(ch), subscriberBuffer)
	}
	cancel()
	cancel()
}

func TestTracker_CancelClosesChannel(t *testing.T) {
	tr := NewTracker()
	ch, cancel := tr.Subscribe("d1")
	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel should be closed")
	}
	if _, err := tr.Transition(context.Background(), "d1", Registered, nil); err != nil {
		t.Fatal(err)
	}
}

func TestTracker_PersistsThroughStore(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	tr := NewTracker(WithStore(store))
	_, _ = tr.Transition(ctx, "d1", Ingesting, func(s *Status) { s.Metrics.Pages = 3 })

	restarted := NewTracker(WithStore(store))
	st, ok := restarted.Get(ctx, "d1")
	if !ok || st.State != Ingesting || st.Metrics.Pages != 3 {
		t.Fatalf("loaded %+v, %v", st, ok)
	}
	if err := restarted.Reset(ctx, "d1"); err != nil {
		t.Fatal(err)
	}
	if _, ok := NewTracker(WithStore(store)).Get(ctx, "d1"); ok {
		t.Error("status should be deleted from store")
	}
}

func TestTracker_NewRunResetsMetrics(t *testing.T) {
	tr := NewTracker()
	ctx := context.Background()
	_, _ = tr.Transition(ctx, "d1", Ingesting, func(s *Status) { s.Metrics.Pages = 4 })
	_, _ = tr.Fail(ctx, "d1", errors.New("boom"))
	st, _ := tr.Transition(ctx, "d1", Ingesting, nil)
	if st.Metrics.Pages != 0 {
		t.Errorf("metrics carried over from failed run: %+v", st.Metrics)
	}
}

func TestTracker_ReadsStoreForRunsItDoesNotOwn(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	a := NewTracker(WithStore(store))
	b := NewTracker(WithStore(store))

	_, _ = a.Transition(ctx, "d1", Registered, nil)
	if st, _ := b.Get(ctx, "d1"); st.State != Registered {
		t.Fatalf("b sees %s", st.State)
	}
	_, _ = a.Transition(ctx, "d1", Ingesting, nil)
	if st, _ := b.Get(ctx, "d1"); st.State != Ingesting {
		t.Errorf("b kept a stale snapshot: %s", st.State)
	}

	// While a owns the run, its snapshot wins over the store.
	store.data["d1"] = Status{DocID: "d1", State: Failed}
	if st, _ := a.Get(ctx, "d1"); st.State != Ingesting {
		t.Errorf("a lost its own run: %s", st.State)
	}
	if st, _ := b.Get(ctx, "d1"); st.State != Failed {
		t.Errorf("b sees %s", st.State)
	}

	_, _ = a.Transition(ctx, "d1", Embedding, nil)
	_, _ = a.Transition(ctx, "d1", Indexed, nil)
	_ = b.Reset(ctx, "d1")
	if _, ok := a.Get(ctx, "d1"); ok {
		t.Error("a still reports a document reset through the shared store")
	}
}
