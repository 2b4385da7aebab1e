package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/dohr-michael/sidekick/internal/events"
	"github.com/dohr-michael/sidekick/internal/tasks"
)

// TaskAPI is the slice of the task service the hub exposes over WS.
type TaskAPI interface {
	Get(ctx context.Context, userID string, taskID int64) (*tasks.Task, error)
	List(ctx context.Context, userID string, page, limit int, filter tasks.ListFilter) (*tasks.Page, error)
	Delete(ctx context.Context, userID string, taskID int64) error
}

// Client represents a connected WebSocket client.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	userID string
}

// Hub manages WebSocket clients and bridges them to the event bus. Events
// carry an owning user; each client only sees its own user's events.
type Hub struct {
	mu          sync.RWMutex
	clients     map[*Client]struct{}
	bus         *events.Bus
	api         TaskAPI
	unsubscribe func()
}

// NewHub creates a new WebSocket hub connected to an event bus.
func NewHub(bus *events.Bus, api TaskAPI) *Hub {
	h := &Hub{
		clients: make(map[*Client]struct{}),
		bus:     bus,
		api:     api,
	}

	h.unsubscribe = bus.Subscribe(func(e events.Event) {
		frame, err := NewEventFrame(string(e.Type), e.Payload)
		if err != nil {
			slog.Error("marshal event frame", "error", err)
			return
		}
		data, err := MarshalFrame(frame)
		if err != nil {
			slog.Error("marshal frame", "error", err)
			return
		}
		h.broadcast(e.UserID, data)
	})

	return h
}

// broadcast sends data to the user's connected clients. An empty userID
// reaches everyone.
func (h *Hub) broadcast(userID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if userID != "" && c.userID != userID {
			continue
		}
		select {
		case c.send <- data:
		default:
			// Client too slow, skip
		}
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	slog.Info("ws client connected", "user_id", c.userID, "clients", len(h.clients))
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		slog.Info("ws client disconnected", "user_id", c.userID, "clients", len(h.clients))
	}
}

// ServeWS handles a WebSocket upgrade and manages the client lifecycle.
// userID must already be resolved by the HTTP layer.
func (h *Hub) ServeWS(userID string, w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Allow any origin for dev
	})
	if err != nil {
		slog.Error("ws accept", "error", err)
		return
	}

	client := &Client{
		conn:   conn,
		send:   make(chan []byte, 256),
		hub:    h,
		userID: userID,
	}

	h.register(client)

	ctx := r.Context()
	go client.writePump(ctx)
	client.readPump(ctx)
}

// readPump reads frames from the WS connection and dispatches them.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("ws read closed", "status", websocket.CloseStatus(err))
			} else {
				slog.Debug("ws read error", "error", err)
			}
			return
		}

		frame, err := UnmarshalFrame(data)
		if err != nil {
			slog.Error("ws unmarshal frame", "error", err)
			continue
		}

		c.handleFrame(ctx, frame)
	}
}

func (c *Client) handleFrame(ctx context.Context, frame Frame) {
	switch frame.Type {
	case FrameTypeRequest:
		c.handleRequest(ctx, frame)
	default:
		slog.Debug("ws unknown frame type", "type", frame.Type)
	}
}

// handleRequest processes a request frame (method dispatch).
func (c *Client) handleRequest(ctx context.Context, frame Frame) {
	switch Method(frame.Method) {
	case MethodListTasks:
		var params struct {
			Page  int    `json:"page"`
			Limit int    `json:"limit"`
			CWD   string `json:"cwd"`
		}
		if len(frame.Params) > 0 {
			if err := json.Unmarshal(frame.Params, &params); err != nil {
				c.sendError(frame.ID, "invalid params")
				return
			}
		}
		page, err := c.hub.api.List(ctx, c.userID, params.Page, params.Limit, tasks.ListFilter{CWD: params.CWD})
		if err != nil {
			c.sendError(frame.ID, err.Error())
			return
		}
		c.sendOK(frame.ID, page)

	case MethodGetTask:
		var params struct {
			TaskID int64 `json:"taskId"`
		}
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			c.sendError(frame.ID, "invalid params")
			return
		}
		task, err := c.hub.api.Get(ctx, c.userID, params.TaskID)
		if err != nil {
			c.sendError(frame.ID, err.Error())
			return
		}
		c.sendOK(frame.ID, task)

	case MethodDeleteTask:
		var params struct {
			TaskID int64 `json:"taskId"`
		}
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			c.sendError(frame.ID, "invalid params")
			return
		}
		if err := c.hub.api.Delete(ctx, c.userID, params.TaskID); err != nil {
			c.sendError(frame.ID, err.Error())
			return
		}
		c.sendOK(frame.ID, map[string]string{"status": "deleted"})

	default:
		c.sendError(frame.ID, "unknown method: "+frame.Method)
	}
}

// writePump writes queued messages to the WS connection.
func (c *Client) writePump(ctx context.Context) {
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) sendOK(id string, payload any) {
	f, err := NewResponseFrame(id, true, payload, "")
	if err != nil {
		return
	}
	data, err := MarshalFrame(f)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) sendError(id string, errMsg string) {
	f, err := NewResponseFrame(id, false, nil, errMsg)
	if err != nil {
		return
	}
	data, err := MarshalFrame(f)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// Close shuts down the hub and all client connections.
func (h *Hub) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close(websocket.StatusGoingAway, "server shutdown")
		delete(h.clients, c)
	}
}
