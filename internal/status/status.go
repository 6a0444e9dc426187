// Package status tracks the pipeline state of each document. Snapshots can be polled with Get
// or pushed to subscribers on every transition.
package status

import (
	"context"
	"errors"
	"time"
)

// State is a pipeline state of a document.
type State string

const (
	Registered State = "registered"
	Ingesting  State = "ingesting"
	Embedding  State = "embedding"
	Indexed    State = "indexed"
	Failed     State = "failed"
)

// Stage names used as keys of Metrics.StageDurations.
const (
	StageIngest = "ingest"
	StageEmbed  = "embed"
)

// ErrIllegalTransition is returned when a transition is not allowed from the current state.
var ErrIllegalTransition = errors.New("illegal status transition")

// transitions lists the states reachable from each state. The empty state is a document the
// tracker has not seen.
var transitions = map[State][]State{
	"":         {Registered, Ingesting},
	Registered: {Registered, Ingesting, Failed},
	Ingesting:  {Embedding, Failed},
	Embedding:  {Indexed, Failed},
	Failed:     {Registered, Ingesting},
	Indexed:    nil,
}

// CanTransition reports whether from -> to is legal.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s ends a pipeline run.
func (s State) Terminal() bool {
	return s == Indexed || s == Failed
}

// Metrics are the counters and timings collected during a pipeline run.
type Metrics struct {
	Pages              int                      `json:"pages"`
	Chunks             int                      `json:"chunks"`
	EmbeddingsComputed int                      `json:"embeddings_computed"`
	Reused             bool                     `json:"reused"`
	StageDurations     map[string]time.Duration `json:"stage_durations,omitempty"`
}

// Status is a snapshot of a document's pipeline state.
type Status struct {
	DocID     string    `json:"doc_id"`
	State     State     `json:"state"`
	Reason    string    `json:"reason,omitempty"`
	Kind      string    `json:"kind,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
	Metrics   Metrics   `json:"metrics"`
}

func (s Status) clone() Status {
	if s.Metrics.StageDurations != nil {
		d := make(map[string]time.Duration, len(s.Metrics.StageDurations))
		for k, v := range s.Metrics.StageDurations {
			d[k] = v
		}
		s.Metrics.StageDurations = d
	}
	return s
}

// Store persists status snapshots across restarts.
type Store interface {
	SaveStatus(ctx context.Context, st Status) error
	// LoadStatus returns false when no snapshot exists for docID.
	LoadStatus(ctx context.Context, docID string) (Status, bool, error)
	DeleteStatus(ctx context.Context, docID string) error
}
