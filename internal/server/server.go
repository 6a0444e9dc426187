// Package server provides the HTTP API for docchat.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/hyperjump/docchat/internal/apperr"
	"github.com/hyperjump/docchat/internal/config"
	"github.com/hyperjump/docchat/internal/identity"
	"github.com/hyperjump/docchat/internal/models"
	"github.com/hyperjump/docchat/internal/pipeline"
	"github.com/hyperjump/docchat/internal/status"
	"github.com/hyperjump/docchat/internal/storage"
	"go.uber.org/zap"
)

// RequestIDHeader carries the request id on requests and responses.
const RequestIDHeader = "X-Request-ID"

// Service is the pipeline surface exposed over HTTP.
type Service interface {
	Register(ctx context.Context, doc *models.Document) (status.Status, error)
	IngestAndIndex(ctx context.Context, docID, ownerID string) (pipeline.Outcome, error)
	Ask(ctx context.Context, docID string, history []models.ConversationTurn, question string) (*models.Answer, error)
	Status(ctx context.Context, ownerID, docID string) (status.Status, error)
	Subscribe(ctx context.Context, ownerID, docID string) (<-chan status.Status, func(), error)
	Delete(ctx context.Context, ownerID, docID string) error
}

// TokenVerifier returns the owner id of a bearer token.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Server is the HTTP server for the docchat API.
type Server struct {
	service  Service
	verifier TokenVerifier
	storage  storage.Storage
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	service Service,
	verifier TokenVerifier,
	storage storage.Storage,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		service:  service,
		verifier: verifier,
		storage:  storage,
		config:   cfg,
		logger:   logger,
	}
}

// Router returns the HTTP handler with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authenticate)
		// Event streams stay open for the whole run, so they get no timeout or compression.
		r.Get("/documents/{id}/events", s.handleEvents)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Use(middleware.Compress(5))
			r.Post("/documents", s.handleRegisterDocument)
			r.Post("/documents/{id}/index", s.handleIndexDocument)
			r.Get("/documents/{id}/status", s.handleGetStatus)
			r.Post("/documents/{id}/ask", s.handleAsk)
			r.Delete("/documents/{id}", s.handleDeleteDocument)
			r.Get("/stats", s.handleStats)
		})
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

type requestIDKey struct{}

// requestID reuses the caller's X-Request-ID or assigns a new one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)))
	})
}

// authenticate verifies the bearer token and places its subject in the request context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := identity.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			s.respondError(w, r, apperr.E(apperr.KindAuth, "authenticate", errors.New("missing bearer token")))
			return
		}
		owner, err := s.verifier.Verify(token)
		if err != nil {
			s.respondError(w, r, apperr.Wrap(apperr.KindAuth, "authenticate", err))
			return
		}
		next.ServeHTTP(w, r.WithContext(identity.WithOwner(r.Context(), owner)))
	})
}
