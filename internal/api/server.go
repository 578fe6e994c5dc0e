// Package api exposes course sections, question banks and learner sessions
// over HTTP and WebSocket.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/p-n-ai/course-checks/internal/bank"
	"github.com/p-n-ai/course-checks/internal/curriculum"
	"github.com/p-n-ai/course-checks/internal/session"
)

const readyTimeout = 2 * time.Second

// Content lists and resolves loaded course content.
type Content interface {
	Section(id string) (curriculum.Section, bool)
	Sections() []curriculum.Section
	Bank(id string) (bank.Bank, bool)
	Banks() []bank.Bank
}

// HealthChecker is a dependency checked by /readyz.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Config holds dependencies for the API server.
type Config struct {
	Content      Content
	Engine       *session.Engine
	PassingScore int
	Checks       map[string]HealthChecker

	// OriginPatterns lists extra hosts allowed to open session WebSockets.
	OriginPatterns []string
}

// Server serves the course-checks API.
type Server struct {
	content Content
	engine  *session.Engine
	passing int
	checks  map[string]HealthChecker
	origins []string
	mux     *http.ServeMux
}

// NewServer creates the API server and registers its routes.
func NewServer(cfg Config) *Server {
	s := &Server{
		content: cfg.Content,
		engine:  cfg.Engine,
		passing: cfg.PassingScore,
		checks:  cfg.Checks,
		origins: cfg.OriginPatterns,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /readyz", s.handleReadyz)

	s.mux.HandleFunc("GET /api/v1/sections", s.handleListSections)
	s.mux.HandleFunc("GET /api/v1/sections/{id}", s.handleGetSection)
	s.mux.HandleFunc("POST /api/v1/sections/{id}/sessions", s.handleStartSection)

	s.mux.HandleFunc("GET /api/v1/banks", s.handleListBanks)
	s.mux.HandleFunc("POST /api/v1/banks/{id}/exams", s.handleStartExam)

	s.mux.HandleFunc("GET /api/v1/sessions/{sid}", s.handleGetSession)
	s.mux.HandleFunc("DELETE /api/v1/sessions/{sid}", s.handleEndSession)
	s.mux.HandleFunc("POST /api/v1/sessions/{sid}/checks/{checkID}", s.handleSelectCheck)
	s.mux.HandleFunc("POST /api/v1/sessions/{sid}/quiz/answer", s.handleAnswer)
	s.mux.HandleFunc("POST /api/v1/sessions/{sid}/quiz/advance", s.handleAdvance)
	s.mux.HandleFunc("POST /api/v1/sessions/{sid}/quiz/restart", s.handleRestart)
	s.mux.HandleFunc("GET /api/v1/sessions/{sid}/ws", s.handleWebSocket)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	results := make(map[string]string, len(names))
	for _, name := range names {
		if err := s.checks[name].HealthCheck(ctx); err != nil {
			slog.Warn("readiness check failed", "check", name, "error", err)
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	body := map[string]any{"status": "ready", "checks": results}
	if status != http.StatusOK {
		body["status"] = "unavailable"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}
