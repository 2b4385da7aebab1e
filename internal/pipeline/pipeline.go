// Package pipeline drives one model generation turn. It feeds the task
// conversation to a chat model, relays incremental output into a resumable
// stream, and hands the accumulated result back to the orchestrator.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dohr-michael/sidekick/internal/tasks"
)

// Sink receives encoded stream frames in order. stream.Stream satisfies it.
type Sink interface {
	Write(chunk []byte) error
}

// Request is one generation turn.
type Request struct {
	UserID   string
	TaskID   int64
	Messages []tasks.Message
	// Tools the model may call this turn, by name.
	ToolNames []string
}

// Usage is the token accounting reported by the provider for one turn.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Completion is the terminal outcome of a turn: the updated conversation
// (input messages plus the new assistant message), why generation stopped,
// and what it cost.
type Completion struct {
	Messages     []tasks.Message
	FinishReason tasks.FinishReason
	Usage        *Usage
}

// Pipeline generates one assistant turn. Generate blocks until the provider
// finishes or ctx is cancelled; frames are written to sink as they arrive.
// A returned error means no completion was produced and the task must fail.
type Pipeline interface {
	Generate(ctx context.Context, req Request, sink Sink) (*Completion, error)
}

// Frame is the wire unit written to the stream. Subscribers decode frames
// to rebuild the assistant message incrementally.
type Frame struct {
	Type string `json:"type"` // "text-delta" | "tool-call" | "message" | "finish" | "error"

	Text string `json:"text,omitempty"`

	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`

	// Full message payload, used when replaying a finished task.
	Message *tasks.Message `json:"message,omitempty"`

	FinishReason string `json:"finishReason,omitempty"`
	Error        string `json:"error,omitempty"`
}

// EncodeFrame renders a frame as one JSON line.
func EncodeFrame(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return append(data, '\n'), nil
}

// WriteFrame encodes and writes one frame to the sink.
func WriteFrame(sink Sink, f Frame) error {
	data, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	return sink.Write(data)
}

// MapFinishReason normalizes provider finish-reason strings onto the task
// state machine's vocabulary.
func MapFinishReason(raw string) tasks.FinishReason {
	switch raw {
	case "tool_calls", "tool-calls", "tool_use":
		return tasks.FinishToolCalls
	case "stop", "end_turn", "stop_sequence":
		return tasks.FinishStop
	case "length", "max_tokens":
		return tasks.FinishLength
	case "":
		return tasks.FinishUnknown
	default:
		return tasks.FinishUnknown
	}
}
