package status

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hyperjump/docchat/internal/apperr"
	"go.uber.org/zap"
)

// subscriberBuffer is the channel capacity of a subscription. Snapshots are dropped for
// subscribers that fall this far behind.
const subscriberBuffer = 16

// Tracker holds the current status of every document it has seen. With a store, only
// documents whose run this tracker started are answered from memory; every other lookup
// reads the store so that writes by other processes sharing it are seen.
type Tracker struct {
	mu       sync.Mutex
	statuses map[string]Status
	running  map[string]bool
	subs     map[string]map[int]chan Status
	nextSub  int
	store    Store
	logger   *zap.Logger
	now      func() time.Time
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithLogger sets the logger used to report persistence failures and dropped snapshots.
func WithLogger(l *zap.Logger) TrackerOption {
	return func(t *Tracker) { t.logger = l }
}

// WithStore persists every snapshot to s and loads unknown documents from it.
func WithStore(s Store) TrackerOption {
	return func(t *Tracker) { t.store = s }
}

// NewTracker creates an empty tracker.
func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{
		statuses: make(map[string]Status),
		running:  make(map[string]bool),
		subs:     make(map[string]map[int]chan Status),
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Get returns the current status of docID.
func (t *Tracker) Get(ctx context.Context, docID string) (Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.lookup(ctx, docID)
	return st.clone(), ok
}

// lookup must be called with t.mu held. A failed store read falls back to the last known
// snapshot.
func (t *Tracker) lookup(ctx context.Context, docID string) (Status, bool) {
	cached, known := t.statuses[docID]
	if t.store == nil || t.running[docID] {
		return cached, known
	}
	st, ok, err := t.store.LoadStatus(ctx, docID)
	if err != nil {
		t.logger.Warn("status load failed", zap.String("doc_id", docID), zap.Error(err))
		return cached, known
	}
	if !ok {
		delete(t.statuses, docID)
		return Status{}, false
	}
	t.statuses[docID] = st
	return st, true
}

// Transition moves docID to state to, applying update to the snapshot first when non-nil.
// Reason and Kind are cleared unless to is Failed.
func (t *Tracker) Transition(ctx context.Context, docID string, to State, update func(*Status)) (Status, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, _ := t.lookup(ctx, docID)
	if !CanTransition(cur.State, to) {
		return cur.clone(), fmt.Errorf("%w: %s: %q -> %q", ErrIllegalTransition, docID, cur.State, to)
	}
	next := cur.clone()
	next.DocID = docID
	if cur.State == Failed || cur.State == "" {
		// A new run starts with fresh metrics.
		next.Metrics = Metrics{}
	}
	if to != Failed {
		next.Reason, next.Kind = "", ""
	}
	if update != nil {
		update(&next)
	}
	next.State = to
	next.UpdatedAt = t.now()
	t.statuses[docID] = next
	if to == Ingesting || to == Embedding {
		t.running[docID] = true
	} else {
		delete(t.running, docID)
	}
	t.persist(ctx, next)
	t.publish(next)
	return next.clone(), nil
}

// Fail moves docID to Failed with the reason and kind of err.
func (t *Tracker) Fail(ctx context.Context, docID string, err error) (Status, error) {
	return t.Transition(ctx, docID, Failed, func(s *Status) {
		s.Kind = string(apperr.KindOf(err))
		if err != nil {
			s.Reason = err.Error()
		}
	})
}

// Reset forgets docID. Subscriptions stay open.
func (t *Tracker) Reset(ctx context.Context, docID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.statuses, docID)
	delete(t.running, docID)
	if t.store != nil {
		if err := t.store.DeleteStatus(ctx, docID); err != nil {
			return fmt.Errorf("failed to delete status: %w", err)
		}
	}
	return nil
}

// Subscribe returns a channel receiving a snapshot on every transition of docID, starting with
// the current snapshot when one exists. cancel closes the channel; it is safe to call twice.
func (t *Tracker) Subscribe(docID string) (<-chan Status, func()) {
	ch := make(chan Status, subscriberBuffer)
	t.mu.Lock()
	id := t.nextSub
	t.nextSub++
	if t.subs[docID] == nil {
		t.subs[docID] = make(map[int]chan Status)
	}
	t.subs[docID][id] = ch
	if st, ok := t.statuses[docID]; ok {
		ch <- st.clone()
	}
	t.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			delete(t.subs[docID], id)
			if len(t.subs[docID]) == 0 {
				delete(t.subs, docID)
			}
			close(ch)
		})
	}
	return ch, cancel
}

// publish must be called with t.mu held.
func (t *Tracker) publish(st Status) {
	for _, ch := range t.subs[st.DocID] {
		select {
		case ch <- st.clone():
		default:
			t.logger.Debug("status subscriber lagging, dropped snapshot",
				zap.String("doc_id", st.DocID), zap.String("state", string(st.State)))
		}
	}
}

// persist must be called with t.mu held.
func (t *Tracker) persist(ctx context.Context, st Status) {
	if t.store == nil {
		return
	}
	if err := t.store.SaveStatus(ctx, st); err != nil {
		t.logger.Warn("status save failed", zap.String("doc_id", st.DocID), zap.Error(err))
	}
}
