// Package gateway exposes a read-only HTTP view of the coordination
// system: board snapshots, task lookups, agent status, and a WebSocket
// event stream. It never writes boards or mailboxes.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dreamos-ai/dreamos/internal/board"
	"github.com/dreamos-ai/dreamos/internal/config"
	"github.com/dreamos-ai/dreamos/internal/events"
	"github.com/dreamos-ai/dreamos/internal/gateway/ws"
	"github.com/dreamos-ai/dreamos/internal/mailbox"
	"github.com/dreamos-ai/dreamos/internal/report"
)

// Server is the DreamOS gateway HTTP server.
type Server struct {
	httpServer *http.Server
	hub        *ws.Hub
	bus        *events.Bus
	boards     *board.Manager
	mail       *mailbox.Store
	registry   *config.Registry
	heartbeats string
}

// NewServer creates a new gateway server.
func NewServer(bus *events.Bus, boards *board.Manager, mail *mailbox.Store, registry *config.Registry, heartbeats, host string, port int) *Server {
	hub := ws.NewHub(bus)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	s := &Server{
		hub:        hub,
		bus:        bus,
		boards:     boards,
		mail:       mail,
		registry:   registry,
		heartbeats: heartbeats,
	}

	// Routes
	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ws", hub.ServeWS)
	r.Get("/api/events", s.handleEvents)
	r.Get("/api/status", s.handleStatus)
	r.Get("/api/boards/{name}", s.handleBoard)
	r.Get("/api/tasks", s.handleTasks)
	r.Get("/api/tasks/{id}", s.handleTask)
	r.Get("/api/agents", s.handleAgents)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: r,
	}

	return s
}

// Start begins listening. It blocks until the server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	slog.Info("DreamOS gateway listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limitStr := r.URL.Query().Get("limit")
	limit := 50
	if limitStr != "" {
		fmt.Sscanf(limitStr, "%d", &limit)
	}

	history := s.bus.Recent(limit)

	type eventJSON struct {
		ID        string             `json:"id"`
		Type      string             `json:"type"`
		Timestamp string             `json:"timestamp"`
		Source    events.EventSource `json:"source"`
		AgentID   string             `json:"agent_id,omitempty"`
		TaskID    string             `json:"task_id,omitempty"`
		Payload   map[string]any     `json:"payload,omitempty"`
	}

	result := make([]eventJSON, len(history))
	for i, e := range history {
		result[i] = eventJSON{
			ID:        e.ID,
			Type:      string(e.Type),
			Timestamp: e.Timestamp.Format(time.RFC3339Nano),
			Source:    e.Source,
			AgentID:   e.AgentID,
			TaskID:    e.TaskID,
			Payload:   e.Payload,
		}
	}

	writeJSON(w, result)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := report.Collect(r.Context(), s.boards, s.mail, s.registry, s.heartbeats)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, status)
}

func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	name := board.Name(chi.URLParam(r, "name"))
	if !name.Valid() {
		http.Error(w, fmt.Sprintf("unknown board %q", name), http.StatusNotFound)
		return
	}

	tasks, err := s.boards.Snapshot(r.Context(), name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, tasks)
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := board.Filter{
		Board:       board.Name(q.Get("board")),
		Status:      board.Status(q.Get("status")),
		TaskType:    q.Get("task_type"),
		TargetAgent: q.Get("agent"),
	}

	tasks, err := s.boards.ListTasks(r.Context(), filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, tasks)
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	task, err := s.boards.GetTask(r.Context(), id)
	if err != nil {
		if errors.Is(err, board.ErrTaskNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, task)
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	type agentJSON struct {
		ID           string   `json:"id"`
		Role         string   `json:"role,omitempty"`
		Capabilities []string `json:"capabilities,omitempty"`
		Supervisor   bool     `json:"supervisor,omitempty"`
		Claimed      bool     `json:"mailbox_claimed"`
	}

	result := make([]agentJSON, 0, len(s.registry.Agents))
	for _, a := range s.registry.Agents {
		result = append(result, agentJSON{
			ID:           a.ID,
			Role:         a.Role,
			Capabilities: a.Capabilities,
			Supervisor:   a.Supervisor,
			Claimed:      s.mail.Claimed(a.ID),
		})
	}
	writeJSON(w, result)
}
