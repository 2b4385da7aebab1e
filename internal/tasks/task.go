// Package tasks owns the task lifecycle: the status state machine, the
// streaming-task index, and the orchestration of stream starts, finishes,
// and failures against the persistent store.
package tasks

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPendingModel Status = "pending-model"
	StatusStreaming    Status = "streaming"
	StatusPendingTool  Status = "pending-tool"
	StatusPendingInput Status = "pending-input"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// Terminal reports whether the status ends a generation turn. Terminal
// statuses are re-enterable: a failed task may be retried.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// FinishReason is the generation pipeline's terminal signal.
type FinishReason string

const (
	FinishToolCalls FinishReason = "tool-calls"
	FinishStop      FinishReason = "stop"
	FinishLength    FinishReason = "length"
	FinishError     FinishReason = "error"
	FinishUnknown   FinishReason = "unknown"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// InvocationState tracks a tool invocation through its lifecycle.
type InvocationState string

const (
	InvocationPartialCall InvocationState = "partial-call"
	InvocationCall        InvocationState = "call"
	InvocationResult      InvocationState = "result"
)

// ToolInvocation is a single request to execute a named tool, identified by
// (ToolName, ToolCallID) within one task turn.
type ToolInvocation struct {
	ToolName   string          `json:"toolName"`
	ToolCallID string          `json:"toolCallId"`
	State      InvocationState `json:"state"`
	Args       map[string]any  `json:"args,omitempty"`
	Result     map[string]any  `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Part is one segment of a message: plain text or a tool invocation.
type Part struct {
	Type           string          `json:"type"` // "text" | "tool-invocation"
	Text           string          `json:"text,omitempty"`
	ToolInvocation *ToolInvocation `json:"toolInvocation,omitempty"`
}

// Message is one entry in a task's conversation.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
	Parts     []Part    `json:"parts"`
}

// NewUserMessage builds a single-part text message from the user.
func NewUserMessage(text string) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      RoleUser,
		CreatedAt: time.Now(),
		Parts:     []Part{{Type: "text", Text: text}},
	}
}

// Task is one agent working session, identified per user. TaskID is a dense
// per-user sequence; RowID is the global store row backing the public UID.
type Task struct {
	RowID        int64        `json:"-"`
	UserID       string       `json:"userId"`
	TaskID       int64        `json:"id"`
	UID          string       `json:"uid,omitempty"`
	Status       Status       `json:"status"`
	Conversation []Message    `json:"conversation,omitempty"`
	Environment  *Environment `json:"environment,omitempty"`
	TotalTokens  *int         `json:"totalTokens,omitempty"`
	Error        *TaskError   `json:"error,omitempty"`
	StreamIDs    []string     `json:"streamIds,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// Title returns the leading text of the first message, for listings.
func (t *Task) Title() string {
	if len(t.Conversation) == 0 {
		return ""
	}
	for _, p := range t.Conversation[0].Parts {
		if p.Type == "text" && p.Text != "" {
			return firstLine(p.Text)
		}
	}
	return ""
}

// LastMessage returns the most recent conversation message, or nil.
func (t *Task) LastMessage() *Message {
	if len(t.Conversation) == 0 {
		return nil
	}
	return &t.Conversation[len(t.Conversation)-1]
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}

// NewStreamID generates a process-unique stream identifier.
func NewStreamID() string {
	return uuid.New().String()
}
