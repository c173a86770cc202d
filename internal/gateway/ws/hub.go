package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/xbot-ai/xbot/internal/events"
)

// TaskHandler is what the hub needs from the task system. The gateway
// package implements it over the inbox.
type TaskHandler interface {
	Submit(sessionID, userID, platform, goal, priority string) (string, error)
	Check(taskID string) (any, error)
	Cancel(taskID, reason string) error
	List(sessionID string) (any, error)
}

// Client is one connected websocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// Hub fans bus events out to websocket clients and dispatches their
// request frames into the task system.
type Hub struct {
	mu          sync.RWMutex
	clients     map[*Client]struct{}
	bus         *events.Bus
	tasks       TaskHandler
	unsubscribe func()
}

// NewHub subscribes to the bus and starts bridging events to clients.
func NewHub(bus *events.Bus) *Hub {
	h := &Hub{
		clients: make(map[*Client]struct{}),
		bus:     bus,
	}

	h.unsubscribe = bus.Subscribe(func(e events.Event) {
		frame, err := NewEventFrame(string(e.Type), e.SessionID, e)
		if err != nil {
			slog.Error("ws event frame", "error", err)
			return
		}
		data, err := MarshalFrame(frame)
		if err != nil {
			return
		}
		h.broadcast(data)
	})

	return h
}

// SetTaskHandler installs the task bridge; before that, task methods
// answer with an error frame.
func (h *Hub) SetTaskHandler(t TaskHandler) { h.tasks = t }

func (h *Hub) broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// slow client, drop the frame
		}
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	slog.Info("ws client connected", "clients", len(h.clients))
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		slog.Info("ws client disconnected", "clients", len(h.clients))
	}
}

// ServeWS upgrades the request and pumps frames until the peer leaves.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // local gateway, any origin
	})
	if err != nil {
		slog.Error("ws accept", "error", err)
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
	}
	h.register(client)

	ctx := r.Context()
	go client.writePump(ctx)
	client.readPump(ctx)
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			slog.Debug("ws read ended", "error", err)
			return
		}

		frame, err := UnmarshalFrame(data)
		if err != nil {
			slog.Error("ws bad frame", "error", err)
			continue
		}
		if frame.Type == FrameTypeRequest {
			c.handleRequest(ctx, frame)
		}
	}
}

func (c *Client) handleRequest(ctx context.Context, frame Frame) {
	if c.hub.tasks == nil {
		c.sendError(frame.ID, "task system not available")
		return
	}

	switch frame.Method {
	case MethodSendMessage:
		var params struct {
			SessionID string `json:"session_id"`
			UserID    string `json:"user_id"`
			Platform  string `json:"platform"`
			Content   string `json:"content"`
		}
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			c.sendError(frame.ID, "invalid params")
			return
		}
		taskID, err := c.hub.tasks.Submit(params.SessionID, params.UserID, params.Platform, params.Content, "")
		if err != nil {
			c.sendError(frame.ID, err.Error())
			return
		}
		c.sendOK(frame.ID, map[string]string{"task_id": taskID})

	case MethodSubmitTask:
		var params struct {
			SessionID string `json:"session_id"`
			UserID    string `json:"user_id"`
			Platform  string `json:"platform"`
			Goal      string `json:"goal"`
			Priority  string `json:"priority"`
		}
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			c.sendError(frame.ID, "invalid params")
			return
		}
		taskID, err := c.hub.tasks.Submit(params.SessionID, params.UserID, params.Platform, params.Goal, params.Priority)
		if err != nil {
			c.sendError(frame.ID, err.Error())
			return
		}
		c.sendOK(frame.ID, map[string]string{"task_id": taskID})

	case MethodCheckTask:
		var params struct {
			TaskID string `json:"task_id"`
		}
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			c.sendError(frame.ID, "invalid params")
			return
		}
		result, err := c.hub.tasks.Check(params.TaskID)
		if err != nil {
			c.sendError(frame.ID, err.Error())
			return
		}
		c.sendOK(frame.ID, result)

	case MethodCancelTask:
		var params struct {
			TaskID string `json:"task_id"`
			Reason string `json:"reason"`
		}
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			c.sendError(frame.ID, "invalid params")
			return
		}
		if err := c.hub.tasks.Cancel(params.TaskID, params.Reason); err != nil {
			c.sendError(frame.ID, err.Error())
			return
		}
		c.sendOK(frame.ID, map[string]string{"status": "cancelled"})

	case MethodListTasks:
		var params struct {
			SessionID string `json:"session_id"`
		}
		if len(frame.Params) > 0 {
			if err := json.Unmarshal(frame.Params, &params); err != nil {
				c.sendError(frame.ID, "invalid params")
				return
			}
		}
		result, err := c.hub.tasks.List(params.SessionID)
		if err != nil {
			c.sendError(frame.ID, err.Error())
			return
		}
		c.sendOK(frame.ID, result)

	default:
		c.sendError(frame.ID, "unknown method: "+frame.Method)
	}
}

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
	c.enqueue(f)
}

func (c *Client) sendError(id, errMsg string) {
	f, err := NewResponseFrame(id, false, nil, errMsg)
	if err != nil {
		return
	}
	c.enqueue(f)
}

func (c *Client) enqueue(f Frame) {
	data, err := MarshalFrame(f)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// Close detaches from the bus and drops every client.
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
