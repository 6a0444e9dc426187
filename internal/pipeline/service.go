// Package pipeline drives a document through ingestion, chunking and indexing, and answers
// questions about indexed documents. Progress is published through a status.Tracker.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/docchat/internal/apperr"
	"github.com/hyperjump/docchat/internal/docid"
	"github.com/hyperjump/docchat/internal/identity"
	"github.com/hyperjump/docchat/internal/indexer"
	"github.com/hyperjump/docchat/internal/models"
	"github.com/hyperjump/docchat/internal/status"
	"github.com/hyperjump/docchat/internal/telemetry"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Ingester returns the pages of a document owned by ownerID.
type Ingester interface {
	Ingest(ctx context.Context, docID, ownerID string) ([]models.Page, error)
}

// DocumentIndexer writes and removes per-document vector namespaces.
type DocumentIndexer interface {
	Reusable(ctx context.Context, docID string) (bool, error)
	IndexDocument(ctx context.Context, docID string, pages []models.Page) (*indexer.IndexResult, error)
	DeleteDocument(ctx context.Context, docID string) error
}

// Answerer answers a question from the namespace of docID.
type Answerer interface {
	Answer(ctx context.Context, docID string, history []models.ConversationTurn, question string) (*models.Answer, error)
}

// Registry stores document registrations.
type Registry interface {
	RegisterDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, ownerID, docID string) (*models.Document, error)
	DeleteDocument(ctx context.Context, ownerID, docID string) error
}

// LocationChecker rejects document locations the service must not fetch.
type LocationChecker interface {
	CheckLocation(location string) error
}

// Outcome is the result of IngestAndIndex. Kind and Reason are set when State is Failed.
type Outcome struct {
	DocID  string               `json:"doc_id"`
	State  status.State         `json:"state"`
	Reason string               `json:"reason,omitempty"`
	Kind   apperr.Kind          `json:"kind,omitempty"`
	Result *indexer.IndexResult `json:"result,omitempty"`
}

// Err returns the classified failure of a Failed outcome, or nil.
func (o Outcome) Err() error {
	if o.State != status.Failed {
		return nil
	}
	return apperr.E(o.Kind, "index", errors.New(o.Reason))
}

// Service is the entry point for indexing and asking.
type Service struct {
	ingester Ingester
	indexer  DocumentIndexer
	answerer Answerer
	tracker  *status.Tracker
	registry Registry
	identity identity.Resolver
	location LocationChecker
	metrics  *telemetry.Metrics
	logger   *zap.Logger
	group    singleflight.Group
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithRegistry enables registration and ownership checks against r.
func WithRegistry(r Registry) Option {
	return func(s *Service) { s.registry = r }
}

// WithIdentity checks that the caller resolved by r owns the documents it touches.
func WithIdentity(r identity.Resolver) Option {
	return func(s *Service) { s.identity = r }
}

// WithLocationCheck makes Register reject locations c refuses.
func WithLocationCheck(c LocationChecker) Option {
	return func(s *Service) { s.location = c }
}

// WithMetrics records run and question metrics to m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a Service. A nil tracker is replaced by an in-memory one.
func NewService(ingester Ingester, idx DocumentIndexer, answerer Answerer, tracker *status.Tracker, opts ...Option) *Service {
	if tracker == nil {
		tracker = status.NewTracker()
	}
	s := &Service{
		ingester: ingester,
		indexer:  idx,
		answerer: answerer,
		tracker:  tracker,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register stores doc and marks it Registered. An empty ID is generated; an empty OwnerID is
// taken from the caller.
func (s *Service) Register(ctx context.Context, doc *models.Document) (status.Status, error) {
	if s.registry == nil {
		return status.Status{}, apperr.Errorf(apperr.KindInternal, "register", "no registry configured")
	}
	if doc == nil || doc.Location == "" {
		return status.Status{}, apperr.Errorf(apperr.KindInvalidInput, "register", "location is required")
	}
	if s.location != nil {
		if err := s.location.CheckLocation(doc.Location); err != nil {
			return status.Status{}, apperr.Wrap(apperr.KindInvalidInput, "register", err)
		}
	}
	if s.identity != nil {
		caller, err := s.identity.Resolve(ctx)
		if err != nil {
			return status.Status{}, apperr.Wrap(apperr.KindAuth, "register", err)
		}
		if doc.OwnerID == "" {
			doc.OwnerID = caller
		}
		if doc.OwnerID != caller {
			return status.Status{}, apperr.Errorf(apperr.KindAuth, "register", "cannot register a document for another owner")
		}
	}
	if doc.ID == "" {
		doc.ID = docid.New()
	} else if err := docid.Validate(doc.ID); err != nil {
		return status.Status{}, apperr.E(apperr.KindInvalidInput, "register", err)
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = s.now()
	}
	if err := s.registry.RegisterDocument(ctx, doc); err != nil {
		return status.Status{}, apperr.Wrap(apperr.KindInternal, "register", err)
	}
	st, err := s.tracker.Transition(ctx, doc.ID, status.Registered, nil)
	if err != nil {
		return st, apperr.E(apperr.KindInternal, "register", err)
	}
	s.logger.Info("document registered", zap.String("doc_id", doc.ID), zap.String("owner_id", doc.OwnerID))
	return st, nil
}

// IngestAndIndex runs ingestion and indexing for docID. Stage failures are reported in the
// Outcome and leave the document Failed; the returned error is reserved for requests that were
// rejected before a run started or abandoned by the caller. Concurrent calls for the same
// document share one run, and a run continues after its caller goes away.
func (s *Service) IngestAndIndex(ctx context.Context, docID, ownerID string) (Outcome, error) {
	if err := s.authorize(ctx, "index", docID, ownerID); err != nil {
		return Outcome{}, err
	}
	runCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(docID, func() (any, error) {
		return s.run(runCtx, docID, ownerID), nil
	})
	select {
	case res := <-ch:
		if res.Shared {
			s.logger.Debug("joined in-flight run", zap.String("doc_id", docID))
		}
		return res.Val.(Outcome), nil
	case <-ctx.Done():
		s.logger.Info("caller abandoned run; indexing continues", zap.String("doc_id", docID))
		return Outcome{}, ctx.Err()
	}
}

func (s *Service) run(ctx context.Context, docID, ownerID string) Outcome {
	start := time.Now()
	out := s.index(ctx, docID, ownerID)
	var embeddings int
	var reused bool
	if out.Result != nil {
		embeddings = out.Result.EmbeddingsComputed
		reused = out.Result.Reused
	}
	s.metrics.RecordIngest(ctx, string(out.State), string(out.Kind), embeddings, reused, time.Since(start))
	return out
}

func (s *Service) index(ctx context.Context, docID, ownerID string) Outcome {
	cur, known := s.tracker.Get(ctx, docID)
	switch {
	case known && cur.State == status.Indexed:
		reusable, err := s.indexer.Reusable(ctx, docID)
		if err != nil {
			return Outcome{DocID: docID, State: status.Failed, Reason: err.Error(), Kind: apperr.KindOf(err)}
		}
		if reusable {
			return Outcome{DocID: docID, State: status.Indexed, Result: &indexer.IndexResult{
				Namespace: docID, Reused: true, Chunks: cur.Metrics.Chunks,
			}}
		}
		s.logger.Warn("indexed document lost its namespace; rebuilding", zap.String("doc_id", docID))
		if err := s.tracker.Reset(ctx, docID); err != nil {
			return s.fail(ctx, docID, apperr.E(apperr.KindInternal, "index", err))
		}
	case known && (cur.State == status.Ingesting || cur.State == status.Embedding):
		// No run is in flight in this process, so the persisted state belongs to an interrupted one.
		s.logger.Warn("marking interrupted run failed", zap.String("doc_id", docID), zap.String("state", string(cur.State)))
		if _, err := s.tracker.Fail(ctx, docID, apperr.Errorf(apperr.KindInternal, "index", "interrupted")); err != nil {
			return s.fail(ctx, docID, apperr.E(apperr.KindInternal, "index", err))
		}
	}

	if _, err := s.tracker.Transition(ctx, docID, status.Ingesting, nil); err != nil {
		return s.fail(ctx, docID, apperr.E(apperr.KindInternal, "index", err))
	}

	ingestStart := time.Now()
	reusable, err := s.indexer.Reusable(ctx, docID)
	if err != nil {
		return s.fail(ctx, docID, err)
	}
	var pages []models.Page
	if !reusable {
		if pages, err = s.ingester.Ingest(ctx, docID, ownerID); err != nil {
			return s.fail(ctx, docID, err)
		}
	}
	ingestDuration := time.Since(ingestStart)
	if _, err := s.tracker.Transition(ctx, docID, status.Embedding, func(st *status.Status) {
		st.Metrics.Pages = len(pages)
		recordStage(st, status.StageIngest, ingestDuration)
	}); err != nil {
		return s.fail(ctx, docID, apperr.E(apperr.KindInternal, "index", err))
	}

	embedStart := time.Now()
	res, err := s.indexer.IndexDocument(ctx, docID, pages)
	if err != nil {
		return s.fail(ctx, docID, err)
	}
	embedDuration := time.Since(embedStart)
	if _, err := s.tracker.Transition(ctx, docID, status.Indexed, func(st *status.Status) {
		st.Metrics.Chunks = res.Chunks
		st.Metrics.EmbeddingsComputed = res.EmbeddingsComputed
		st.Metrics.Reused = res.Reused
		recordStage(st, status.StageEmbed, embedDuration)
	}); err != nil {
		return s.fail(ctx, docID, apperr.E(apperr.KindInternal, "index", err))
	}
	s.logger.Info("document indexed",
		zap.String("doc_id", docID),
		zap.Int("pages", len(pages)),
		zap.Int("chunks", res.Chunks),
		zap.Int("embeddings", res.EmbeddingsComputed),
		zap.Bool("reused", res.Reused))
	return Outcome{DocID: docID, State: status.Indexed, Result: res}
}

func (s *Service) fail(ctx context.Context, docID string, err error) Outcome {
	kind := apperr.KindOf(err)
	if _, terr := s.tracker.Fail(ctx, docID, err); terr != nil {
		s.logger.Error("could not record failure", zap.String("doc_id", docID), zap.Error(terr))
	}
	s.logger.Warn("document indexing failed", zap.String("doc_id", docID), zap.String("kind", string(kind)), zap.Error(err))
	return Outcome{DocID: docID, State: status.Failed, Reason: err.Error(), Kind: kind}
}

func recordStage(st *status.Status, stage string, d time.Duration) {
	if st.Metrics.StageDurations == nil {
		st.Metrics.StageDurations = make(map[string]time.Duration)
	}
	st.Metrics.StageDurations[stage] = d
}

// Ask answers question about docID. Documents that are not Indexed yield a NotReady error
// carrying their state and, when Failed, the failure reason.
func (s *Service) Ask(ctx context.Context, docID string, history []models.ConversationTurn, question string) (*models.Answer, error) {
	start := time.Now()
	ans, err := s.ask(ctx, docID, history, question)
	s.metrics.RecordAsk(ctx, kindLabel(err), time.Since(start))
	return ans, err
}

func (s *Service) ask(ctx context.Context, docID string, history []models.ConversationTurn, question string) (*models.Answer, error) {
	if s.identity != nil {
		caller, err := s.identity.Resolve(ctx)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindAuth, "ask", err)
		}
		if err := s.authorize(ctx, "ask", docID, caller); err != nil {
			return nil, err
		}
	} else if err := docid.Validate(docID); err != nil {
		return nil, apperr.E(apperr.KindInvalidInput, "ask", err)
	}
	st, err := s.current(ctx, docID)
	if err != nil {
		return nil, err
	}
	if st.State != status.Indexed {
		return nil, apperr.NotReady("ask", string(st.State), st.Reason)
	}
	return s.answerer.Answer(ctx, docID, history, question)
}

// Status returns the current status of docID.
func (s *Service) Status(ctx context.Context, ownerID, docID string) (status.Status, error) {
	if err := s.authorize(ctx, "status", docID, ownerID); err != nil {
		return status.Status{}, err
	}
	return s.current(ctx, docID)
}

// current returns the tracked status, treating an untracked document with a reusable
// namespace as Indexed.
func (s *Service) current(ctx context.Context, docID string) (status.Status, error) {
	if st, ok := s.tracker.Get(ctx, docID); ok {
		return st, nil
	}
	reusable, err := s.indexer.Reusable(ctx, docID)
	if err != nil {
		return status.Status{}, apperr.Wrap(apperr.KindProvider, "status", err)
	}
	if reusable {
		return status.Status{DocID: docID, State: status.Indexed, Metrics: status.Metrics{Reused: true}}, nil
	}
	if s.registry != nil {
		// authorize has already found the registration
		return status.Status{DocID: docID, State: status.Registered}, nil
	}
	return status.Status{}, apperr.Errorf(apperr.KindNotFound, "status", "unknown document %q", docID)
}

// Subscribe streams status snapshots of docID until cancel is called.
func (s *Service) Subscribe(ctx context.Context, ownerID, docID string) (<-chan status.Status, func(), error) {
	if err := s.authorize(ctx, "subscribe", docID, ownerID); err != nil {
		return nil, nil, err
	}
	ch, cancel := s.tracker.Subscribe(docID)
	return ch, cancel, nil
}

// Delete removes the namespace, registration and status of docID. Documents being indexed
// cannot be deleted.
func (s *Service) Delete(ctx context.Context, ownerID, docID string) error {
	if err := s.authorize(ctx, "delete", docID, ownerID); err != nil {
		return err
	}
	if st, ok := s.tracker.Get(ctx, docID); ok && (st.State == status.Ingesting || st.State == status.Embedding) {
		return apperr.NotReady("delete", string(st.State), "")
	}
	if err := s.indexer.DeleteDocument(ctx, docID); err != nil {
		return apperr.Wrap(apperr.KindProvider, "delete", err)
	}
	if s.registry != nil {
		if err := s.registry.DeleteDocument(ctx, ownerID, docID); err != nil {
			return apperr.Wrap(apperr.KindInternal, "delete", err)
		}
	}
	if err := s.tracker.Reset(ctx, docID); err != nil {
		return apperr.E(apperr.KindInternal, "delete", err)
	}
	s.logger.Info("document deleted", zap.String("doc_id", docID))
	return nil
}

// authorize checks the document id, that the caller is ownerID, and that ownerID registered
// docID. It does not touch tracked state.
func (s *Service) authorize(ctx context.Context, op, docID, ownerID string) error {
	if err := docid.Validate(docID); err != nil {
		return apperr.E(apperr.KindInvalidInput, op, err)
	}
	if s.identity != nil {
		caller, err := s.identity.Resolve(ctx)
		if err != nil {
			return apperr.Wrap(apperr.KindAuth, op, err)
		}
		if caller != ownerID {
			return apperr.E(apperr.KindAuth, op, fmt.Errorf("caller does not own document %q", docID))
		}
	}
	if s.registry != nil {
		if _, err := s.registry.GetDocument(ctx, ownerID, docID); err != nil {
			return apperr.Wrap(apperr.KindInternal, op, err)
		}
	}
	return nil
}

func kindLabel(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return string(apperr.KindOf(err))
}
