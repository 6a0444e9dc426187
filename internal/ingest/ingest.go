// Package ingest resolves a document identifier to its raw bytes and parses them into ordered
// page text.
package ingest

import (
	"context"
	"errors"
	"net/url"
	"path"
	"time"

	"github.com/hyperjump/docchat/internal/apperr"
	"github.com/hyperjump/docchat/internal/extract"
	"github.com/hyperjump/docchat/internal/identity"
	"github.com/hyperjump/docchat/internal/models"
	"github.com/hyperjump/docchat/internal/retry"
	"go.uber.org/zap"
)

// LocationResolver maps a document owned by ownerID to where its bytes live. Unknown
// documents yield a NotFoundError.
type LocationResolver interface {
	Resolve(ctx context.Context, ownerID, docID string) (models.Location, error)
}

// Ingestor turns a document identifier into pages.
type Ingestor struct {
	identity  identity.Resolver
	locations LocationResolver
	fetcher   Fetcher
	extractor *extract.Extractor
	retry     retry.Policy
	logger    *zap.Logger
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithLogger sets the logger for fetch and parse events.
func WithLogger(l *zap.Logger) Option {
	return func(in *Ingestor) { in.logger = l }
}

// WithRetryPolicy sets the retry policy for location lookups and fetches.
func WithRetryPolicy(p retry.Policy) Option {
	return func(in *Ingestor) { in.retry = p }
}

// NewIngestor creates an ingestor.
func NewIngestor(ids identity.Resolver, locations LocationResolver, fetcher Fetcher, opts ...Option) *Ingestor {
	in := &Ingestor{
		identity:  ids,
		locations: locations,
		fetcher:   fetcher,
		extractor: extract.NewExtractor(),
		retry:     retry.DefaultPolicy(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Ingest checks that the caller owns docID, fetches its bytes and returns its pages in order.
// It reads only and is safe to re-run.
func (in *Ingestor) Ingest(ctx context.Context, docID, ownerID string) ([]models.Page, error) {
	caller, err := in.identity.Resolve(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindAuth, "ingest", err)
	}
	if caller != ownerID {
		return nil, apperr.E(apperr.KindAuth, "ingest", errors.New("caller does not own the document"))
	}

	loc, err := retry.Do(ctx, in.retry, "resolve", func(ctx context.Context) (models.Location, error) {
		return in.locations.Resolve(ctx, ownerID, docID)
	})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	content, err := retry.Do(ctx, in.retry.WithKind(apperr.KindFetch), "fetch", func(ctx context.Context) (*Content, error) {
		return in.fetcher.Fetch(ctx, loc)
	})
	if err != nil {
		return nil, err
	}
	in.logger.Debug("ingest fetched document",
		zap.String("doc_id", docID), zap.Int("bytes", len(content.Data)), zap.Duration("duration", time.Since(start)))

	contentType := loc.ContentType
	if contentType == "" {
		contentType = content.ContentType
	}
	pages, err := in.extractor.Extract(content.Data, contentType, fileName(loc))
	if err != nil {
		return nil, err
	}
	in.logger.Debug("ingest parsed document", zap.String("doc_id", docID), zap.Int("pages", len(pages)))
	return pages, nil
}

// fileName returns the registered file name, or the last element of the location path.
func fileName(loc models.Location) string {
	if loc.FileName != "" {
		return loc.FileName
	}
	if u, err := url.Parse(loc.URL); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(loc.URL)
}
