// Package gateway is the HTTP surface of the task server: streaming chat,
// task management, event history, and the websocket bridge.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dohr-michael/sidekick/internal/events"
	"github.com/dohr-michael/sidekick/internal/gateway/ws"
	"github.com/dohr-michael/sidekick/internal/tasks"
)

// defaultUserID is used when a request carries no identity. Single-user
// local deployments never set the header.
const defaultUserID = "local"

// UserID resolves the calling user from the request.
func UserID(r *http.Request) string {
	if id := r.Header.Get("X-User-Id"); id != "" {
		return id
	}
	return defaultUserID
}

// detach strips cancellation so persistence outlives a client disconnect.
func detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

// Server is the gateway HTTP server.
type Server struct {
	httpServer *http.Server
	hub        *ws.Hub
	bus        *events.Bus
	service    *tasks.Service
	host       string
	port       int
}

// NewServer creates a new gateway server.
func NewServer(bus *events.Bus, service *tasks.Service, chat *ChatHandler, host string, port int) *Server {
	hub := ws.NewHub(bus, service)
	taskHandler := NewTaskHandler(service)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	s := &Server{
		hub:     hub,
		bus:     bus,
		service: service,
		host:    host,
		port:    port,
	}

	// Routes
	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ws", s.handleWS)
	r.Get("/api/events", s.handleEvents)

	r.Post("/api/chat/stream", chat.HandleStart)
	r.Get("/api/chat/stream", chat.HandleResume)

	r.Get("/api/tasks", taskHandler.HandleList)
	r.Get("/api/tasks/{uid}", taskHandler.HandleGet)
	r.Delete("/api/tasks/{uid}", taskHandler.HandleDelete)
	r.Get("/api/tasks/{uid}/stream-id", taskHandler.HandleStreamID)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: r,
	}

	return s
}

// Handler exposes the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening. It blocks until the server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	slog.Info("gateway listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown stops accepting requests, aborts in-flight generations, and
// closes the websocket hub.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.service.GracefulShutdown(ctx)
	s.hub.Close()
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":    "ok",
		"streaming": s.service.StreamingCount(),
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWS(UserID(r), w, r)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limitStr := r.URL.Query().Get("limit")
	limit := 50
	if limitStr != "" {
		fmt.Sscanf(limitStr, "%d", &limit)
	}
	userID := UserID(r)

	history := s.bus.History(limit)

	type eventJSON struct {
		ID        string             `json:"id"`
		Type      string             `json:"type"`
		Timestamp string             `json:"timestamp"`
		Source    events.EventSource `json:"source"`
		Payload   map[string]any     `json:"payload"`
	}

	result := make([]eventJSON, 0, len(history))
	for _, e := range history {
		if e.UserID != "" && e.UserID != userID {
			continue
		}
		result = append(result, eventJSON{
			ID:        e.ID,
			Type:      string(e.Type),
			Timestamp: e.Timestamp.Format(time.RFC3339Nano),
			Source:    e.Source,
			Payload:   e.Payload,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}
