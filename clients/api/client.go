// Package api provides an HTTP client for the Sidekick gateway's streaming
// chat endpoints.
package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dohr-michael/sidekick/internal/pipeline"
	"github.com/dohr-michael/sidekick/internal/tasks"
)

// Client talks to the gateway REST and streaming endpoints over HTTP.
type Client struct {
	baseURL string
	userID  string
	http    *http.Client
}

// New creates a gateway client. baseURL is the server root, for example
// http://127.0.0.1:18520.
func New(baseURL, userID string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		userID:  userID,
		http:    &http.Client{},
	}
}

// StartRequest is the body of a chat stream request. Either Message (a new
// user turn) or ToolResults (a pending-tool continuation) must be set.
type StartRequest struct {
	TaskID      int64              `json:"taskId,omitempty"`
	Message     string             `json:"message,omitempty"`
	ToolResults []tasks.ToolResult `json:"toolResults,omitempty"`
	Environment *tasks.Environment `json:"environment,omitempty"`
}

// Stream is one open chat stream. Frames arrive in order; the first frame of
// a new turn is the start header carrying the task identifiers.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

// Next returns the next frame, or io.EOF when the stream is done.
func (s *Stream) Next() (pipeline.Frame, error) {
	for s.scanner.Scan() {
		line := s.scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok || strings.TrimSpace(data) == "" {
			continue
		}
		var frame pipeline.Frame
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			return pipeline.Frame{}, fmt.Errorf("decode frame: %w", err)
		}
		return frame, nil
	}
	if err := s.scanner.Err(); err != nil {
		return pipeline.Frame{}, err
	}
	return pipeline.Frame{}, io.EOF
}

// Close releases the underlying response body.
func (s *Stream) Close() error {
	return s.body.Close()
}

// StartStream opens a generation turn and returns the frame stream.
func (c *Client) StartStream(ctx context.Context, req StartRequest) (*Stream, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat/stream", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.setUser(httpReq)

	return c.openStream(httpReq)
}

// ResumeStream re-attaches to a task's most recent stream by public id.
func (c *Client) ResumeStream(ctx context.Context, uid string) (*Stream, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/chat/stream?chatId="+uid, nil)
	if err != nil {
		return nil, err
	}
	c.setUser(httpReq)

	return c.openStream(httpReq)
}

func (c *Client) openStream(req *http.Request) (*Stream, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("gateway: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Stream{body: resp.Body, scanner: scanner}, nil
}

// Health reports the gateway health payload.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return nil, err
	}
	c.setUser(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway: %s", resp.Status)
	}

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func (c *Client) setUser(req *http.Request) {
	if c.userID != "" {
		req.Header.Set("X-User-Id", c.userID)
	}
}
