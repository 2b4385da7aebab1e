// Package ws provides a WebSocket client for the Sidekick gateway.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/coder/websocket"

	wsprotocol "github.com/dohr-michael/sidekick/internal/gateway/ws"
	"github.com/dohr-michael/sidekick/internal/tasks"
)

// Client is a WebSocket client for the Sidekick gateway.
type Client struct {
	conn   *websocket.Conn
	reqSeq uint64
	ctx    context.Context
	cancel context.CancelFunc
}

// Dial connects to the gateway WebSocket endpoint as the given user.
func Dial(ctx context.Context, url, userID string) (*Client, error) {
	opts := &websocket.DialOptions{}
	if userID != "" {
		opts.HTTPHeader = http.Header{"X-User-Id": []string{userID}}
	}
	conn, _, err := websocket.Dial(ctx, url, opts)
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

// ListTasks fetches a page of the user's tasks.
func (c *Client) ListTasks(page, limit int, cwd string) (*tasks.Page, error) {
	var result tasks.Page
	params := map[string]any{"page": page, "limit": limit, "cwd": cwd}
	if err := c.call(wsprotocol.MethodListTasks, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetTask fetches one task with its full conversation.
func (c *Client) GetTask(taskID int64) (*tasks.Task, error) {
	var result tasks.Task
	if err := c.call(wsprotocol.MethodGetTask, map[string]any{"taskId": taskID}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DeleteTask removes a task.
func (c *Client) DeleteTask(taskID int64) error {
	return c.call(wsprotocol.MethodDeleteTask, map[string]any{"taskId": taskID}, nil)
}

// call sends one request frame and waits for its response, skipping any
// event frames that arrive in between.
func (c *Client) call(method wsprotocol.Method, params any, result any) error {
	seq := atomic.AddUint64(&c.reqSeq, 1)
	id := fmt.Sprintf("req-%d", seq)

	rawParams, err := json.Marshal(params)
	if err != nil {
		return err
	}

	data, err := wsprotocol.MarshalFrame(wsprotocol.Frame{
		Type:   wsprotocol.FrameTypeRequest,
		ID:     id,
		Method: string(method),
		Params: rawParams,
	})
	if err != nil {
		return err
	}
	if err := c.conn.Write(c.ctx, websocket.MessageText, data); err != nil {
		return err
	}

	for {
		frame, err := c.ReadFrame()
		if err != nil {
			return err
		}
		if frame.Type != wsprotocol.FrameTypeResponse || frame.ID != id {
			continue
		}
		if frame.OK == nil || !*frame.OK {
			return fmt.Errorf("%s: %s", method, frame.Error)
		}
		if result != nil {
			return json.Unmarshal(frame.Payload, result)
		}
		return nil
	}
}

// ReadFrame reads the next frame from the connection.
func (c *Client) ReadFrame() (wsprotocol.Frame, error) {
	_, data, err := c.conn.Read(c.ctx)
	if err != nil {
		return wsprotocol.Frame{}, err
	}
	return wsprotocol.UnmarshalFrame(data)
}

// Close gracefully closes the connection.
func (c *Client) Close() error {
	c.cancel()
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}
