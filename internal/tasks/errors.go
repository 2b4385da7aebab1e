package tasks

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrConflict is returned when a second start arrives while a task is
	// already streaming. Callers must not retry with the same stream.
	ErrConflict = errors.New("task is already streaming")

	// ErrEnvironmentMismatch is returned when a resume request comes from a
	// different machine or workspace than the task was created on.
	ErrEnvironmentMismatch = errors.New("environment mismatch")

	// ErrNotFound is returned by the store when no task row exists.
	ErrNotFound = errors.New("task not found")
)

// ErrorKind classifies a task failure for persistence and client display.
type ErrorKind string

const (
	KindProviderCall ErrorKind = "ProviderCallError"
	KindAbort        ErrorKind = "AbortError"
	KindInternal     ErrorKind = "InternalError"
)

// TaskError is the persisted failure record. Only Message reaches clients;
// RequestBody is kept for log inspection of provider failures.
type TaskError struct {
	Kind        ErrorKind `json:"kind"`
	Message     string    `json:"message"`
	RequestBody string    `json:"requestBodyValues,omitempty"`
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// ProviderError signals that the upstream model call itself failed.
type ProviderError struct {
	Message     string
	RequestBody string
}

func (e *ProviderError) Error() string { return e.Message }

// ClassifyError maps an arbitrary generation failure onto the persisted
// taxonomy. Tool execution failures never reach this path: they are fed
// back into the conversation as tool results instead.
func ClassifyError(err error) *TaskError {
	if err == nil {
		return nil
	}

	var provider *ProviderError
	if errors.As(err, &provider) {
		return &TaskError{
			Kind:        KindProviderCall,
			Message:     provider.Message,
			RequestBody: provider.RequestBody,
		}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &TaskError{Kind: KindAbort, Message: err.Error()}
	}

	var taskErr *TaskError
	if errors.As(err, &taskErr) {
		return taskErr
	}

	return &TaskError{Kind: KindInternal, Message: err.Error()}
}
