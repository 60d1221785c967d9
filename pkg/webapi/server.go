// Package webapi serves the coordinator's read-only status API plus the
// Prometheus metrics endpoint. It exists for the continuous serve mode; the
// one-shot CLI commands read the same state directly.
package webapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"copydesk/pkg/escalation"
	"copydesk/pkg/logx"
	"copydesk/pkg/monitor"
	"copydesk/pkg/queue"
)

// Server exposes queue, agent, and escalation state over HTTP.
type Server struct {
	queue       *queue.Queue
	monitor     *monitor.Monitor
	escalations *escalation.Manager
	logger      *logx.Logger
}

// NewServer creates a status server over the live coordinator state.
func NewServer(q *queue.Queue, m *monitor.Monitor, esc *escalation.Manager) *Server {
	return &Server{
		queue:       q,
		monitor:     m,
		escalations: esc,
		logger:      logx.NewLogger("webapi"),
	}
}

// RegisterRoutes sets up all HTTP routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/tasks", s.handleTasks)
	mux.HandleFunc("/api/agents", s.handleAgents)
	mux.HandleFunc("/api/escalations", s.handleEscalations)
}

// handleHealth implements GET /healthz.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, map[string]string{"status": "ok"})
}

// handleTasks implements GET /api/tasks with an optional ?status= filter.
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var tasks []*queue.Task
	if filter := r.URL.Query().Get("status"); filter != "" {
		tasks = s.queue.ByStatus(queue.TaskStatus(filter))
	} else {
		tasks = s.queue.All()
	}
	s.writeJSON(w, map[string]any{"tasks": tasks, "count": len(tasks)})
}

// handleAgents implements GET /api/agents.
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, map[string]any{"agents": s.monitor.All()})
}

// handleEscalations implements GET /api/escalations (unresolved only).
func (s *Server) handleEscalations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	unresolved := s.escalations.Unresolved()
	s.writeJSON(w, map[string]any{"escalations": unresolved, "count": len(unresolved)})
}

func (s *Server) writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response: %v", err)
	}
}

// StartServer starts the HTTP server and shuts it down when ctx is
// cancelled. Non-blocking.
func (s *Server) StartServer(ctx context.Context, host string, port int) {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	addr := fmt.Sprintf("%s:%d", host, port)
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	s.logger.Info("starting status server on %s", addr)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("server error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		s.logger.Info("shutting down status server")
		// The parent context is already cancelled; shutdown needs its own.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("status server shutdown failed: %v", err)
		}
	}()
}
