package events

import "encoding/json"

// EventPayload is the interface all typed payloads implement.
type EventPayload interface {
	EventType() EventType
}

// TaskStatusChangedPayload announces a task status transition.
// Consumers must tolerate missed events by polling current status.
type TaskStatusChangedPayload struct {
	TaskID int64  `json:"taskId"`
	Status string `json:"status"`
}

func (TaskStatusChangedPayload) EventType() EventType { return EventTaskStatusChanged }

// TaskDeletedPayload announces a task removal.
type TaskDeletedPayload struct {
	TaskID int64 `json:"taskId"`
}

func (TaskDeletedPayload) EventType() EventType { return EventTaskDeleted }

// StreamStartedPayload announces a new stream attempt for a task.
type StreamStartedPayload struct {
	TaskID   int64  `json:"taskId"`
	StreamID string `json:"streamId"`
}

func (StreamStartedPayload) EventType() EventType { return EventStreamStarted }

// StreamFinishedPayload announces the end of a stream attempt.
type StreamFinishedPayload struct {
	TaskID       int64  `json:"taskId"`
	StreamID     string `json:"streamId"`
	FinishReason string `json:"finishReason,omitempty"`
}

func (StreamFinishedPayload) EventType() EventType { return EventStreamFinished }

// ToolCallPayload records a tool call outcome for observability.
type ToolCallPayload struct {
	ToolName   string `json:"toolName"`
	ToolCallID string `json:"toolCallId"`
	Outcome    string `json:"outcome"` // "success" | "error" | "aborted"
	DurationMs int64  `json:"durationMs"`
}

func (ToolCallPayload) EventType() EventType { return EventToolCall }

// NotificationPayload is a user-facing push about a task transition.
type NotificationPayload struct {
	TaskID  int64  `json:"taskId"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (NotificationPayload) EventType() EventType { return EventNotification }

// NewTypedEvent wraps a typed payload into an Event for the given user.
func NewTypedEvent(source EventSource, userID string, payload EventPayload) Event {
	return NewEvent(payload.EventType(), source, userID, toMap(payload))
}

func toMap(v any) map[string]any {
	var result map[string]any
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

// ExtractPayload decodes an event's payload map back into a typed payload.
func ExtractPayload[T EventPayload](e Event) (T, bool) {
	var result T
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return result, false
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, false
	}
	return result, true
}

func GetTaskStatusChangedPayload(e Event) (TaskStatusChangedPayload, bool) {
	return ExtractPayload[TaskStatusChangedPayload](e)
}

func GetToolCallPayload(e Event) (ToolCallPayload, bool) {
	return ExtractPayload[ToolCallPayload](e)
}
