package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/docchat/internal/apperr"
	"github.com/hyperjump/docchat/internal/identity"
	"github.com/hyperjump/docchat/internal/models"
	"github.com/hyperjump/docchat/internal/status"
	"github.com/hyperjump/docchat/internal/storage"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

type registerRequest struct {
	ID          string `json:"id,omitempty"`
	Location    string `json:"location"`
	FileName    string `json:"file_name,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

type askRequest struct {
	History  []models.ConversationTurn `json:"history"`
	Question string                    `json:"question"`
}

type errorResponse struct {
	ErrorCode apperr.Kind `json:"error_code"`
	Message   string      `json:"message"`
	State     string      `json:"state,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

// owner returns the caller placed in the context by authenticate.
func owner(r *http.Request) string {
	id, _ := identity.OwnerFromContext(r.Context())
	return id
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.E(apperr.KindInvalidInput, "decode", fmt.Errorf("invalid request body: %w", err))
	}
	return nil
}

func (s *Server) handleRegisterDocument(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := s.decode(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	doc := &models.Document{
		ID:          req.ID,
		OwnerID:     owner(r),
		Location:    req.Location,
		FileName:    req.FileName,
		ContentType: req.ContentType,
	}
	s.logger.Debug("register document request", zap.String("id", doc.ID), zap.String("file_name", doc.FileName))
	st, err := s.service.Register(r.Context(), doc)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"id": doc.ID, "state": string(st.State)})
}

func (s *Server) handleIndexDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("index document request", zap.String("id", id))
	out, err := s.service.IngestAndIndex(r.Context(), id, owner(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	code := http.StatusOK
	if out.State == status.Failed {
		code = http.StatusUnprocessableEntity
	}
	s.respondJSON(w, code, out)
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.service.Status(r.Context(), owner(r), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, st)
}

// handleEvents streams status snapshots as server-sent events until the document reaches a
// terminal state or the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, r, apperr.Errorf(apperr.KindInternal, "events", "streaming unsupported"))
		return
	}
	updates, cancel, err := s.service.Subscribe(ctx, owner(r), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	defer cancel()
	current, err := s.service.Status(ctx, owner(r), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	last := current
	if err := writeEvent(w, current); err != nil {
		return
	}
	flusher.Flush()
	if current.State.Terminal() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			if st.State == last.State && st.UpdatedAt.Equal(last.UpdatedAt) {
				continue
			}
			last = st
			if err := writeEvent(w, st); err != nil {
				s.logger.Debug("event stream closed", zap.String("id", id), zap.Error(err))
				return
			}
			flusher.Flush()
			if st.State.Terminal() {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, st status.Status) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: status\ndata: %s\n\n", data)
	return err
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := s.decode(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	s.logger.Debug("ask request", zap.String("id", id), zap.Int("history", len(req.History)))
	ans, err := s.service.Ask(r.Context(), id, req.History, req.Question)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, ans)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete document request", zap.String("id", id))
	if err := s.service.Delete(r.Context(), owner(r), id); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{}
	if s.storage != nil {
		docCount, err := s.storage.CountDocuments(r.Context())
		if err != nil {
			s.logger.Error("stats: count documents failed", zap.Error(err))
			s.respondError(w, r, apperr.E(apperr.KindInternal, "stats", err))
			return
		}
		resp["documents"] = docCount
	}
	if s.config != nil {
		resp["config"] = map[string]interface{}{
			"vector_backend":      s.config.Vector.Backend,
			"embedding_provider":  s.config.Embedding.Provider,
			"generation_provider": s.config.Generation.Provider,
			"chunk_size":          s.config.Chunking.Size,
			"chunk_overlap":       s.config.Chunking.Overlap,
			"reuse_policy":        s.config.Index.ReusePolicy,
		}
		paths := storage.DatabaseFiles(s.config.Storage.DatabasePath)
		if s.config.Vector.Backend != "redis" && s.config.Vector.Path != "" {
			paths = append(paths, storage.DatabaseFiles(s.config.Vector.Path)...)
		}
		if diskBytes, err := storage.DiskUsageBytes(paths...); err == nil {
			resp["disk_usage_bytes"] = diskBytes
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondError writes the stable code and message of err's kind. Causes are logged, never sent.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	code := apperr.HTTPStatus(kind)
	resp := errorResponse{ErrorCode: kind, Message: apperr.Message(kind), RequestID: requestIDFrom(r.Context())}
	var ae *apperr.Error
	if errors.As(err, &ae) && kind == apperr.KindNotReady {
		resp.State = ae.State
	}
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("request_id", resp.RequestID), zap.String("kind", string(kind)), zap.Error(err))
	} else {
		s.logger.Debug("request rejected", zap.String("request_id", resp.RequestID), zap.String("kind", string(kind)), zap.Error(err))
	}
	s.respondJSON(w, code, resp)
}
