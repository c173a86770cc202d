// Package gateway is the local HTTP/websocket surface of the core: health,
// event history, sessions, task submission and inspection, and the worker
// fleet, all read-only except for the inbox.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/xbot-ai/xbot/internal/events"
	"github.com/xbot-ai/xbot/internal/gateway/ws"
	"github.com/xbot-ai/xbot/internal/sessions"
	"github.com/xbot-ai/xbot/internal/workers"
)

// Server is the gateway HTTP server.
type Server struct {
	httpServer *http.Server
	hub        *ws.Hub
	bus        *events.Bus
	store      sessions.Store
	fleet      *workers.Store
	tasks      *TaskHandler
}

// NewServer wires the routes. fleet and tasks may be nil in reduced modes
// (e.g. mcp-serve); their routes then answer 503.
func NewServer(bus *events.Bus, store sessions.Store, fleet *workers.Store, host string, port int) *Server {
	s := &Server{
		hub:   ws.NewHub(bus),
		bus:   bus,
		store: store,
		fleet: fleet,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ws", s.hub.ServeWS)
	r.Get("/api/events", s.handleEvents)
	r.Get("/api/sessions", s.handleSessions)
	r.Get("/api/workers", s.handleWorkers)
	r.Route("/api/tasks", func(r chi.Router) {
		r.Get("/", s.handleListTasks)
		r.Post("/", s.handleSubmitTask)
		r.Get("/{taskID}", s.handleGetTask)
		r.Post("/{taskID}/cancel", s.handleCancelTask)
	})

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: r,
	}
	return s
}

// SetTaskHandler enables the task routes and ws task methods.
func (s *Server) SetTaskHandler(t *TaskHandler) {
	s.tasks = t
	s.hub.SetTaskHandler(t)
}

// Start listens and blocks until the server stops.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	slog.Info("gateway listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown drains the hub and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	type eventJSON struct {
		ID        string             `json:"id"`
		SessionID string             `json:"session_id,omitempty"`
		TaskID    string             `json:"task_id,omitempty"`
		Type      string             `json:"type"`
		Timestamp string             `json:"timestamp"`
		Source    events.EventSource `json:"source"`
		Payload   map[string]any     `json:"payload"`
	}

	history := s.bus.History(limit)
	result := make([]eventJSON, len(history))
	for i, e := range history {
		result[i] = eventJSON{
			ID:        e.ID,
			SessionID: e.SessionID,
			TaskID:    e.TaskID,
			Type:      string(e.Type),
			Timestamp: e.Timestamp.Format(time.RFC3339Nano),
			Source:    e.Source,
			Payload:   e.Payload,
		}
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	list, err := s.store.List()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleWorkers(w http.ResponseWriter, _ *http.Request) {
	if s.fleet == nil {
		http.Error(w, "worker fleet not available", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.fleet.List())
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		http.Error(w, "task system not available", http.StatusServiceUnavailable)
		return
	}
	result, err := s.tasks.List(r.URL.Query().Get("session_id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		http.Error(w, "task system not available", http.StatusServiceUnavailable)
		return
	}
	var body struct {
		SessionID string `json:"session_id"`
		UserID    string `json:"user_id"`
		Platform  string `json:"platform"`
		Goal      string `json:"goal"`
		Priority  string `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	taskID, err := s.tasks.Submit(body.SessionID, body.UserID, body.Platform, body.Goal, body.Priority)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		http.Error(w, "task system not available", http.StatusServiceUnavailable)
		return
	}
	result, err := s.tasks.Check(chi.URLParam(r, "taskID"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		http.Error(w, "task system not available", http.StatusServiceUnavailable)
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	if err := s.tasks.Cancel(chi.URLParam(r, "taskID"), body.Reason); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}
