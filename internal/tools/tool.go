package tools

import (
	"context"
	"encoding/json"
)

// Tool is a single executable capability. Execute returns a JSON-able value;
// errors are captured by the dispatcher into a structured result, so tools
// may simply return them.
type Tool interface {
	Name() string
	Description() string
	Execute(ctx context.Context, args json.RawMessage) (any, error)
}

// Previewer is implemented by tools that support the best-effort preview
// path (e.g. showing a diff before a file write lands).
type Previewer interface {
	Tool
	Preview(ctx context.Context, args json.RawMessage, state string) error
}

// Call identifies one tool invocation.
type Call struct {
	ToolName   string
	ToolCallID string
	Args       json.RawMessage
	State      string // preview only: "partial-call" | "call" | "result"
}

// Outcome is the coarse classification recorded per call.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
	OutcomeAborted Outcome = "aborted"
)

// Result is what every Execute call produces. Callers always receive a
// Result, never a propagated error: tool failures are rendered inline in the
// conversation.
type Result struct {
	Output any    `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ServerToolApproved marks a tool that executes on the server side; the
// runtime acknowledges it without running anything locally.
const ServerToolApproved = "server-tool-approved"

func approvedResult() Result {
	return Result{Output: map[string]string{"status": ServerToolApproved}}
}

func errorResult(msg string) Result {
	return Result{Error: msg}
}

// decodeArgs unmarshals tool arguments, treating empty args as an empty
// object. A decode failure is reported as an ArgumentError for the named tool.
func decodeArgs(name string, args json.RawMessage, v any) error {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if err := json.Unmarshal(args, v); err != nil {
		return &ArgumentError{ToolName: name, Cause: err}
	}
	return nil
}
