// Package notify pushes task status transitions to connected clients. The
// relay is fire-and-forget: a notification that cannot be delivered never
// fails the task that triggered it.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/dohr-michael/sidekick/internal/events"
	"github.com/dohr-michael/sidekick/internal/tasks"
)

// Relay publishes user-scoped notification events onto the bus, where the
// websocket hub fans them out to that user's connections.
type Relay struct {
	bus     *events.Bus
	enabled atomic.Bool
}

// NewRelay creates a relay. When disabled it still logs transitions so
// local runs keep a visible task trail.
func NewRelay(bus *events.Bus, enabled bool) *Relay {
	r := &Relay{bus: bus}
	r.enabled.Store(enabled)
	return r
}

// SetEnabled toggles delivery at runtime, typically from a config reload.
func (r *Relay) SetEnabled(enabled bool) {
	r.enabled.Store(enabled)
}

// Notify reports a task transition to the owning user.
func (r *Relay) Notify(_ context.Context, userID string, taskID int64, status tasks.Status) {
	slog.Info("task notification", "user_id", userID, "task_id", taskID, "status", status)
	if !r.enabled.Load() || r.bus == nil {
		return
	}
	r.bus.Publish(events.NewTypedEvent(events.SourceOrchestrator, userID, events.NotificationPayload{
		TaskID:  taskID,
		Status:  string(status),
		Message: notificationMessage(taskID, status),
	}))
}

func notificationMessage(taskID int64, status tasks.Status) string {
	switch status {
	case tasks.StatusCompleted:
		return fmt.Sprintf("Task %d completed", taskID)
	case tasks.StatusFailed:
		return fmt.Sprintf("Task %d failed", taskID)
	case tasks.StatusPendingInput:
		return fmt.Sprintf("Task %d is waiting for your input", taskID)
	default:
		return fmt.Sprintf("Task %d is now %s", taskID, status)
	}
}

var _ tasks.Notifier = (*Relay)(nil)
