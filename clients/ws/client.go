// Package ws is the client side of the gateway websocket protocol. The ask
// command and the TUI both talk to a running core through it.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/coder/websocket"

	wsprotocol "github.com/xbot-ai/xbot/internal/gateway/ws"
)

// Client is one websocket connection to the gateway.
type Client struct {
	conn   *websocket.Conn
	reqSeq uint64
	ctx    context.Context
	cancel context.CancelFunc
}

// Dial connects to the gateway websocket endpoint.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ws dial: %w", err)
	}

	clientCtx, cancel := context.WithCancel(ctx)
	return &Client{
		conn:   conn,
		ctx:    clientCtx,
		cancel: cancel,
	}, nil
}

func (c *Client) request(method string, params any) (string, error) {
	seq := atomic.AddUint64(&c.reqSeq, 1)
	id := fmt.Sprintf("req-%d", seq)

	raw, err := json.Marshal(params)
	if err != nil {
		return "", err
	}

	frame := wsprotocol.Frame{
		Type:   wsprotocol.FrameTypeRequest,
		ID:     id,
		Method: method,
		Params: raw,
	}
	data, err := wsprotocol.MarshalFrame(frame)
	if err != nil {
		return "", err
	}
	if err := c.conn.Write(c.ctx, websocket.MessageText, data); err != nil {
		return "", err
	}
	return id, nil
}

// SendMessage submits a chat message as a user_chat task. It returns the
// request id; the matching response frame carries the task id.
func (c *Client) SendMessage(sessionID, userID, platform, content string) (string, error) {
	return c.request(wsprotocol.MethodSendMessage, map[string]string{
		"session_id": sessionID,
		"user_id":    userID,
		"platform":   platform,
		"content":    content,
	})
}

// SubmitTask enters a goal-driven task with an explicit priority.
func (c *Client) SubmitTask(sessionID, userID, platform, goal, priority string) (string, error) {
	return c.request(wsprotocol.MethodSubmitTask, map[string]string{
		"session_id": sessionID,
		"user_id":    userID,
		"platform":   platform,
		"goal":       goal,
		"priority":   priority,
	})
}

// CheckTask asks for one task summary.
func (c *Client) CheckTask(taskID string) (string, error) {
	return c.request(wsprotocol.MethodCheckTask, map[string]string{"task_id": taskID})
}

// CancelTask cancels a pending or running task.
func (c *Client) CancelTask(taskID, reason string) (string, error) {
	return c.request(wsprotocol.MethodCancelTask, map[string]string{
		"task_id": taskID,
		"reason":  reason,
	})
}

// ReadFrame blocks for the next frame from the gateway.
func (c *Client) ReadFrame() (wsprotocol.Frame, error) {
	_, data, err := c.conn.Read(c.ctx)
	if err != nil {
		return wsprotocol.Frame{}, err
	}
	return wsprotocol.UnmarshalFrame(data)
}

// Close shuts the connection down.
func (c *Client) Close() error {
	c.cancel()
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}
