package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dohr-michael/sidekick/internal/events"
	"github.com/dohr-michael/sidekick/internal/pipeline"
	"github.com/dohr-michael/sidekick/internal/stream"
	"github.com/dohr-michael/sidekick/internal/tasks"
)

// ChatHandler owns the streaming chat endpoints: starting a generation turn
// and resuming a stream after a disconnect.
type ChatHandler struct {
	service     *tasks.Service
	streams     *stream.Registry
	pipe        pipeline.Pipeline
	bus         *events.Bus
	idleTimeout time.Duration
}

// NewChatHandler wires the orchestrator, stream registry, and generation
// pipeline together.
func NewChatHandler(service *tasks.Service, streams *stream.Registry, pipe pipeline.Pipeline, bus *events.Bus, idleTimeout time.Duration) *ChatHandler {
	return &ChatHandler{
		service:     service,
		streams:     streams,
		pipe:        pipe,
		bus:         bus,
		idleTimeout: idleTimeout,
	}
}

type startChatRequest struct {
	TaskID      int64              `json:"taskId,omitempty"`
	Message     string             `json:"message,omitempty"`
	ToolResults []tasks.ToolResult `json:"toolResults,omitempty"`
	Environment *tasks.Environment `json:"environment,omitempty"`
}

// HandleStart starts one generation turn and streams its frames back.
// The response starts with a header frame carrying the task identifiers so
// a new client learns its task id before any model output arrives.
func (h *ChatHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r)

	var req startChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	var result *tasks.StartResult
	var err error
	switch {
	case req.Message != "":
		result, err = h.service.Start(r.Context(), userID, tasks.StartRequest{
			TaskID:      req.TaskID,
			Message:     tasks.NewUserMessage(req.Message),
			Environment: req.Environment,
		})
	case len(req.ToolResults) > 0:
		if req.TaskID == 0 {
			http.Error(w, "taskId is required with tool results", http.StatusBadRequest)
			return
		}
		result, err = h.service.Continue(r.Context(), userID, req.TaskID, req.ToolResults, req.Environment)
	default:
		http.Error(w, "message or toolResults is required", http.StatusBadRequest)
		return
	}
	if err != nil {
		writeStartError(w, err)
		return
	}

	writer, err := h.streams.Create(result.StreamID)
	if err != nil {
		// The id is a fresh uuid; a collision here is a bug, not load.
		slog.Error("create stream", "stream_id", result.StreamID, "error", err)
		h.service.Fail(r.Context(), userID, result.TaskID, &tasks.TaskError{
			Kind:    tasks.KindInternal,
			Message: "could not open the response stream",
		})
		http.Error(w, "could not open the response stream", http.StatusInternalServerError)
		return
	}

	// The generation is tied to the request context: a client disconnect
	// cancels it and the task fails with an abort error. cancelGen also
	// fires when the relay gives up on a silent stream.
	ctx, cancelGen := context.WithCancel(r.Context())
	defer cancelGen()
	done := make(chan struct{})
	go func() {
		defer close(done)
		completion, genErr := h.pipe.Generate(ctx, pipeline.Request{
			UserID:   userID,
			TaskID:   result.TaskID,
			Messages: result.Messages,
		}, writer)

		finishReason := ""
		if genErr != nil {
			taskErr := tasks.ClassifyError(genErr)
			_ = pipeline.WriteFrame(writer, pipeline.Frame{Type: "error", Error: taskErr.Message})
			h.service.Fail(detach(ctx), userID, result.TaskID, taskErr)
		} else {
			finishReason = string(completion.FinishReason)
			var totalTokens *int
			if completion.Usage != nil && completion.Usage.TotalTokens > 0 {
				totalTokens = &completion.Usage.TotalTokens
			}
			if err := h.service.Finish(detach(ctx), userID, result.TaskID, completion.Messages, completion.FinishReason, totalTokens, true); err != nil {
				slog.Error("finish task", "task_id", result.TaskID, "error", err)
			}
		}

		h.streams.Finish(result.StreamID)
		h.bus.Publish(events.NewTypedEvent(events.SourceRegistry, userID, events.StreamFinishedPayload{
			TaskID:       result.TaskID,
			StreamID:     result.StreamID,
			FinishReason: finishReason,
		}))
	}()

	header := pipeline.Frame{Type: "start"}
	headerPayload, _ := json.Marshal(map[string]any{
		"taskId":   result.TaskID,
		"uid":      result.UID,
		"streamId": result.StreamID,
		"created":  result.Created,
	})
	header.Args = headerPayload

	if timedOut := h.relay(w, r, result.StreamID, &header); timedOut {
		// The provider went silent past the idle timeout; abort the turn
		// instead of holding the request open indefinitely.
		cancelGen()
	}
	<-done
}

// HandleResume re-attaches a client to a task's most recent stream.
func (h *ChatHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r)
	uid := r.URL.Query().Get("chatId")
	if uid == "" {
		http.Error(w, "chatId is required", http.StatusBadRequest)
		return
	}

	task, err := h.service.GetByUID(r.Context(), userID, uid)
	if err != nil {
		writeStartError(w, err)
		return
	}

	streamID, err := h.service.LatestStreamID(r.Context(), userID, task.TaskID)
	if err != nil {
		writeStartError(w, err)
		return
	}

	if streamID != "" && h.streams.Has(streamID) {
		h.relay(w, r, streamID, nil)
		return
	}

	// The stream is gone (expired or from a previous process). Synthesize
	// the terminal state from what was persisted.
	h.writeFallback(w, task)
}

// relay subscribes to the stream and forwards frames to the client as SSE
// data events. The idle timer bounds the silence between frames, independent
// of client disconnect: a stream that stalls past the timeout is abandoned.
// Reports whether it stopped on that timer.
func (h *ChatHandler) relay(w http.ResponseWriter, r *http.Request, streamID string, header *pipeline.Frame) bool {
	sub, err := h.streams.Subscribe(r.Context(), streamID)
	if err != nil {
		http.Error(w, "stream not found", http.StatusNotFound)
		return false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)

	if header != nil {
		if err := writeSSE(w, rc, *header, h.idleTimeout); err != nil {
			return false
		}
	}

	idle := time.NewTimer(h.idleTimeout)
	defer idle.Stop()
	for {
		select {
		case chunk, ok := <-sub:
			if !ok {
				return false
			}
			_ = rc.SetWriteDeadline(time.Now().Add(h.idleTimeout))
			if _, err := fmt.Fprintf(w, "data: %s\n", chunk); err != nil {
				return false
			}
			_ = rc.Flush()
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(h.idleTimeout)
		case <-idle.C:
			return true
		}
	}
}

// writeFallback emits a one-shot replay of the last assistant message, or
// an empty completed stream when there is nothing to replay.
func (h *ChatHandler) writeFallback(w http.ResponseWriter, task *tasks.Task) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)

	if last := task.LastMessage(); last != nil && last.Role == tasks.RoleAssistant {
		_ = writeSSE(w, rc, pipeline.Frame{Type: "message", Message: last}, h.idleTimeout)
	}
	_ = writeSSE(w, rc, pipeline.Frame{Type: "finish", FinishReason: string(task.Status)}, h.idleTimeout)
}

func writeSSE(w http.ResponseWriter, rc *http.ResponseController, frame pipeline.Frame, idle time.Duration) error {
	data, err := pipeline.EncodeFrame(frame)
	if err != nil {
		return err
	}
	_ = rc.SetWriteDeadline(time.Now().Add(idle))
	if _, err := fmt.Fprintf(w, "data: %s\n", data); err != nil {
		return err
	}
	return rc.Flush()
}

func writeStartError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tasks.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, tasks.ErrEnvironmentMismatch):
		http.Error(w, err.Error(), http.StatusPreconditionFailed)
	case errors.Is(err, tasks.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
