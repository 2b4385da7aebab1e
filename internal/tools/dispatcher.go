package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dohr-michael/sidekick/internal/events"
)

// Dispatcher executes and previews tool calls for one client runtime
// instance. At most one operation is in flight at a time; queued calls run
// in FIFO order through a single worker goroutine.
type Dispatcher struct {
	registry *Registry
	bus      *events.Bus
	userID   string

	jobs chan func()
	done chan struct{}
}

// NewDispatcher creates and starts a dispatcher. bus may be nil.
func NewDispatcher(registry *Registry, bus *events.Bus, userID string) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		bus:      bus,
		userID:   userID,
		jobs:     make(chan func(), 64),
		done:     make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	for {
		select {
		case job := <-d.jobs:
			job()
		case <-d.done:
			return
		}
	}
}

// Close stops the worker. Queued jobs that have not started are dropped;
// their callers unblock through their contexts.
func (d *Dispatcher) Close() {
	close(d.done)
}

// enqueue submits a job and waits for it to finish or for ctx cancellation
// while still queued. Once a job starts it always runs to completion.
func (d *Dispatcher) enqueue(ctx context.Context, job func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		job()
	}

	select {
	case d.jobs <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	case <-d.done:
		return fmt.Errorf("dispatcher closed")
	}

	select {
	case <-finished:
		return nil
	case <-d.done:
		return fmt.Errorf("dispatcher closed")
	}
}

// Execute runs a named tool. The caller always receives a Result: unknown
// names, argument errors, and panics are captured as structured errors so
// they can be rendered inline in the conversation.
func (d *Dispatcher) Execute(ctx context.Context, call Call) Result {
	if d.registry.IsApproved(call.ToolName) {
		return approvedResult()
	}

	tool, ok := d.registry.Resolve(call.ToolName)
	if !ok {
		unknown := &UnknownToolError{ToolName: call.ToolName}
		return errorResult(unknown.Error())
	}

	var result Result
	err := d.enqueue(ctx, func() {
		start := time.Now()
		result = safeExecute(ctx, tool, call.Args)
		duration := time.Since(start)

		outcome := OutcomeSuccess
		switch {
		case ctx.Err() != nil:
			outcome = OutcomeAborted
		case result.Error != "":
			outcome = OutcomeError
		}

		slog.Debug("executeToolCall",
			"tool", call.ToolName,
			"tool_call_id", call.ToolCallID,
			"duration_ms", duration.Milliseconds(),
			"outcome", outcome,
		)
		d.capture(call, outcome, duration)
	})
	if err != nil {
		return errorResult(err.Error())
	}
	return result
}

// Preview runs the preview path for a tool. Only a subset of tools support
// previews; unsupported names are a silent no-op since previews are
// best-effort UI assistance.
func (d *Dispatcher) Preview(ctx context.Context, call Call) {
	tool, ok := d.registry.ResolvePreview(call.ToolName)
	if !ok {
		return
	}

	if call.State == "call" {
		slog.Debug("previewToolCall", "tool", call.ToolName, "tool_call_id", call.ToolCallID)
	}

	_ = d.enqueue(ctx, func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("tool preview panic", "tool", call.ToolName, "panic", r)
			}
		}()
		if err := tool.Preview(ctx, call.Args, call.State); err != nil {
			slog.Debug("tool preview error", "tool", call.ToolName, "error", err)
		}
	})
}

func (d *Dispatcher) capture(call Call, outcome Outcome, duration time.Duration) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(events.NewTypedEvent(events.SourceDispatcher, d.userID, events.ToolCallPayload{
		ToolName:   call.ToolName,
		ToolCallID: call.ToolCallID,
		Outcome:    string(outcome),
		DurationMs: duration.Milliseconds(),
	}))
}

// safeExecute runs the tool and converts errors and panics into a Result.
func safeExecute(ctx context.Context, tool Tool, args []byte) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = errorResult(fmt.Sprintf("tool %s panicked: %v", tool.Name(), r))
		}
	}()

	output, err := tool.Execute(ctx, args)
	if err != nil {
		return errorResult(err.Error())
	}
	return Result{Output: output}
}
