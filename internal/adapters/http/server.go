// Package http exposes the session backend over a JSON HTTP API.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/moneymentor/mentor/internal/logging"
	"github.com/moneymentor/mentor/pkg/domain"
	"github.com/moneymentor/mentor/pkg/engagement"
	"github.com/moneymentor/mentor/pkg/session"
)

// Responder produces the assistant's reply for a chat turn. The LLM pipeline
// behind it is not this package's concern.
type Responder interface {
	Respond(ctx context.Context, sess *domain.Session, query string) (string, error)
}

// ResponderFunc adapts a function to the Responder interface.
type ResponderFunc func(ctx context.Context, sess *domain.Session, query string) (string, error)

func (f ResponderFunc) Respond(ctx context.Context, sess *domain.Session, query string) (string, error) {
	return f(ctx, sess, query)
}

// EchoResponder is the development fallback when no model is wired in.
func EchoResponder() Responder {
	return ResponderFunc(func(ctx context.Context, sess *domain.Session, query string) (string, error) {
		return fmt.Sprintf("You said: %s", query), nil
	})
}

// Server bundles the collaborators behind the HTTP surface.
type Server struct {
	sessions  *session.Manager
	responder Responder
	syncer    *engagement.Syncer
	logger    *slog.Logger
}

// ServerOption configures the HTTP server.
type ServerOption func(*Server)

// WithResponder sets the chat responder. Defaults to EchoResponder.
func WithResponder(r Responder) ServerOption {
	return func(s *Server) {
		s.responder = r
	}
}

// WithSyncer exposes the engagement syncer's status/force endpoints.
func WithSyncer(sy *engagement.Syncer) ServerOption {
	return func(s *Server) {
		s.syncer = sy
	}
}

// WithLogger configures the request logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewHandler creates the HTTP handler for the session backend.
// gatherer backs the /metrics endpoint; pass prometheus.DefaultGatherer in
// production wiring.
func NewHandler(manager *session.Manager, gatherer prometheus.Gatherer, opts ...ServerOption) http.Handler {
	s := &Server{
		sessions:  manager,
		responder: EchoResponder(),
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "mentor"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/sessions", s.handleCreateSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleDeleteSession)
			r.Post("/messages", s.handleAppendMessage)
			r.Post("/quiz", s.handleAppendQuiz)
			r.Patch("/progress", s.handleMergeProgress)
			r.Post("/clear", s.handleClearHistory)
			r.Get("/engagement", s.handleEngagement)
		})

		r.Post("/chat", s.handleChat)

		r.Get("/sync/status", s.handleSyncStatus)
		r.Post("/sync/force", s.handleSyncForce)
	})

	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type createSessionRequest struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		req.UserID = "default_user"
	}

	sess, err := s.sessions.CreateSession(r.Context(), req.ID, req.UserID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.DeleteSession(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleAppendMessage(w http.ResponseWriter, r *http.Request) {
	var msg domain.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg.Role == "" || msg.Content == "" {
		writeError(w, http.StatusBadRequest, "role and content are required")
		return
	}

	sess, err := s.sessions.AppendChatMessage(r.Context(), chi.URLParam(r, "id"), msg)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleAppendQuiz(w http.ResponseWriter, r *http.Request) {
	var rec domain.QuizRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := s.sessions.AppendQuizRecord(r.Context(), chi.URLParam(r, "id"), rec)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleMergeProgress(w http.ResponseWriter, r *http.Request) {
	var partial map[string]any
	if err := json.NewDecoder(r.Body).Decode(&partial); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := s.sessions.MergeProgress(r.Context(), chi.URLParam(r, "id"), partial)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.ClearHistory(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleEngagement(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, engagement.BuildReport(sess, time.Now().UTC()))
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Query     string `json:"query"`
}

type chatResponse struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// handleChat is the conversational entry point: it lazily creates the
// session, records the learner's turn, asks the responder for a reply and
// records that too.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.UserID == "" {
		req.UserID = "default_user"
	}

	ctx := r.Context()
	sess, err := s.sessions.GetSession(ctx, req.SessionID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		sess, err = s.sessions.CreateSession(ctx, req.SessionID, req.UserID)
		if err == nil {
			s.logger.Info("created new session", "session_id", sess.ID)
		}
	}
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	sess, err = s.sessions.AppendChatMessage(ctx, sess.ID, domain.Message{
		Role:    "user",
		Content: req.Query,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	reply, err := s.responder.Respond(ctx, sess, req.Query)
	if err != nil {
		s.logger.Error("responder failed", "session_id", sess.ID, "err", err)
		reply = "I apologize, but I encountered an error processing your message. Please try again."
	}

	if _, err := s.sessions.AppendChatMessage(ctx, sess.ID, domain.Message{
		Role:    "assistant",
		Content: reply,
	}); err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{SessionID: sess.ID, Message: reply})
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil {
		writeError(w, http.StatusNotFound, "engagement sync is not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.syncer.Status())
}

func (s *Server) handleSyncForce(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil {
		writeError(w, http.StatusNotFound, "engagement sync is not configured")
		return
	}
	if err := s.syncer.ForceSync(r.Context()); err != nil {
		s.logger.Error("forced engagement sync failed", "err", err)
		writeError(w, http.StatusBadGateway, "export failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "synced"})
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, domain.ErrSessionExists):
		writeError(w, http.StatusConflict, "session already exists")
	case errors.Is(err, domain.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "session store unavailable")
	default:
		s.logger.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
