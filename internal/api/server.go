package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/sibyl/internal/session"
)

// SessionAdmin is the slice of the pipeline the admin surface needs.
type SessionAdmin interface {
	ActiveSessions() []string
	FinalizeSession(id string) error
}

type Server struct {
	router   *chi.Mux
	port     int
	version  string
	sessions SessionAdmin
	logger   *slog.Logger
}

func NewServer(port int, version, apiToken string, sessions SessionAdmin, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:   router,
		port:     port,
		version:  version,
		sessions: sessions,
		logger:   logger,
	}

	router.Get("/health", s.health)
	router.Route("/api/v1/sibyl", func(r chi.Router) {
		r.Use(BearerAuthMiddleware(apiToken))
		r.Get("/status", s.status)
		r.Get("/sessions", s.listSessions)
		r.Delete("/sessions/{id}", s.finalizeSession)
	})

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("API server starting", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"agent":           "sibyl",
		"status":          "active",
		"version":         s.version,
		"active_sessions": len(s.sessions.ActiveSessions()),
	})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	ids := s.sessions.ActiveSessions()
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": ids})
}

// finalizeSession ends a meeting: session state is discarded and background
// listeners are cancelled.
func (s *Server) finalizeSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sessions.FinalizeSession(id); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
			return
		}
		if errors.Is(err, session.ErrSessionFinalized) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "session already finalized"})
			return
		}
		s.logger.Error("session finalize failed", "session_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "finalize failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id, "status": "finalized"})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
