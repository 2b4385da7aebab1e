package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dohr-michael/sidekick/internal/events"
	"github.com/dohr-michael/sidekick/internal/tools"
)

// Notifier delivers terminal status changes to an external messaging surface.
// Implementations must be best-effort: failures are logged, never returned.
type Notifier interface {
	Notify(ctx context.Context, userID string, taskID int64, status Status)
}

// streamingTask is one entry in the in-memory index of live streams. The
// index is a process-local optimization and the shutdown drain list; the
// authoritative single-writer guard is the store's conditional update.
type streamingTask struct {
	StreamID string
	UserID   string
	TaskID   int64
}

func streamKey(userID string, taskID int64) string {
	return fmt.Sprintf("%s:%d", userID, taskID)
}

// Service owns the task status state machine.
type Service struct {
	store    Store
	bus      *events.Bus
	notifier Notifier

	mu        sync.Mutex
	streaming map[string]streamingTask
}

// NewService creates the task orchestrator. notifier may be nil.
func NewService(store Store, bus *events.Bus, notifier Notifier) *Service {
	return &Service{
		store:     store,
		bus:       bus,
		notifier:  notifier,
		streaming: make(map[string]streamingTask),
	}
}

// StartRequest asks for a new generation turn on a task.
type StartRequest struct {
	TaskID      int64 // 0 creates a new task
	Message     Message
	Environment *Environment
}

// StartResult describes the stream the orchestrator opened.
type StartResult struct {
	TaskID   int64
	UID      string
	StreamID string
	Messages []Message // prior conversation plus the new user message
	Created  bool      // true when the task was implicitly created
}

// Start resolves or creates the task, validates the environment, and
// transitions it into streaming with a fresh stream id. A task already
// streaming is rejected with ErrConflict; the decision is made by the
// store's conditional update so it holds across processes.
func (s *Service) Start(ctx context.Context, userID string, req StartRequest) (*StartResult, error) {
	taskID := req.TaskID
	created := false
	if taskID == 0 {
		id, err := s.store.Create(ctx, userID, &Task{Status: StatusPendingModel})
		if err != nil {
			return nil, fmt.Errorf("create task: %w", err)
		}
		taskID = id
		created = true
	}

	task, err := s.store.Read(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}

	if err := VerifyEnvironment(req.Environment, task.Environment); err != nil {
		return nil, err
	}
	if task.Status == StatusStreaming {
		return nil, ErrConflict
	}

	streamID := NewStreamID()
	merged := append(append([]Message(nil), task.Conversation...), req.Message)

	status := StatusStreaming
	ok, err := s.store.UpdateIfNotStreaming(ctx, userID, taskID, Patch{
		Status:       &status,
		Conversation: merged,
		Environment:  req.Environment,
		ClearError:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("transition to streaming: %w", err)
	}
	if !ok {
		// Lost the race to a concurrent start.
		return nil, ErrConflict
	}

	if err := s.store.AppendStreamID(ctx, userID, taskID, streamID); err != nil {
		// The task is already marked streaming; leave it failed rather
		// than permanently conflicting.
		s.Fail(ctx, userID, taskID, &TaskError{
			Kind:    KindInternal,
			Message: "could not record the stream id",
		})
		return nil, fmt.Errorf("append stream id: %w", err)
	}

	s.mu.Lock()
	s.streaming[streamKey(userID, taskID)] = streamingTask{
		StreamID: streamID,
		UserID:   userID,
		TaskID:   taskID,
	}
	s.mu.Unlock()

	s.publishStatus(userID, taskID, StatusStreaming)
	s.bus.Publish(events.NewTypedEvent(events.SourceOrchestrator, userID, events.StreamStartedPayload{
		TaskID:   taskID,
		StreamID: streamID,
	}))

	return &StartResult{
		TaskID:   taskID,
		UID:      UIDEncode(task.RowID),
		StreamID: streamID,
		Messages: merged,
		Created:  created,
	}, nil
}

// ToolResult carries the outcome of one client-side tool execution back into
// the conversation.
type ToolResult struct {
	ToolCallID string         `json:"toolCallId"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Continue resumes a pending-tool task with the results of its tool calls.
// The results are merged into the invocation parts of the last assistant
// message, then the task transitions back into streaming exactly like Start.
func (s *Service) Continue(ctx context.Context, userID string, taskID int64, results []ToolResult, env *Environment) (*StartResult, error) {
	if len(results) == 0 {
		return nil, fmt.Errorf("continue task %d: no tool results", taskID)
	}

	task, err := s.store.Read(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	if err := VerifyEnvironment(env, task.Environment); err != nil {
		return nil, err
	}
	if task.Status == StatusStreaming {
		return nil, ErrConflict
	}

	merged, err := mergeToolResults(task.Conversation, results)
	if err != nil {
		return nil, err
	}

	streamID := NewStreamID()
	status := StatusStreaming
	ok, err := s.store.UpdateIfNotStreaming(ctx, userID, taskID, Patch{
		Status:       &status,
		Conversation: merged,
		ClearError:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("transition to streaming: %w", err)
	}
	if !ok {
		return nil, ErrConflict
	}

	if err := s.store.AppendStreamID(ctx, userID, taskID, streamID); err != nil {
		s.Fail(ctx, userID, taskID, &TaskError{
			Kind:    KindInternal,
			Message: "could not record the stream id",
		})
		return nil, fmt.Errorf("append stream id: %w", err)
	}

	s.mu.Lock()
	s.streaming[streamKey(userID, taskID)] = streamingTask{
		StreamID: streamID,
		UserID:   userID,
		TaskID:   taskID,
	}
	s.mu.Unlock()

	s.publishStatus(userID, taskID, StatusStreaming)
	s.bus.Publish(events.NewTypedEvent(events.SourceOrchestrator, userID, events.StreamStartedPayload{
		TaskID:   taskID,
		StreamID: streamID,
	}))

	return &StartResult{
		TaskID:   taskID,
		UID:      UIDEncode(task.RowID),
		StreamID: streamID,
		Messages: merged,
	}, nil
}

// mergeToolResults writes each result into the matching call-state invocation
// part of the last assistant message. A result without a matching pending
// call is an error: it would silently vanish from the conversation.
func mergeToolResults(conversation []Message, results []ToolResult) ([]Message, error) {
	merged := append([]Message(nil), conversation...)

	var last *Message
	for i := len(merged) - 1; i >= 0; i-- {
		if merged[i].Role == RoleAssistant {
			last = &merged[i]
			break
		}
	}
	if last == nil {
		return nil, fmt.Errorf("no assistant message to attach tool results to")
	}

	parts := append([]Part(nil), last.Parts...)
	for _, res := range results {
		found := false
		for i := range parts {
			inv := parts[i].ToolInvocation
			if inv == nil || inv.ToolCallID != res.ToolCallID || inv.State == InvocationResult {
				continue
			}
			updated := *inv
			updated.State = InvocationResult
			updated.Result = res.Result
			updated.Error = res.Error
			parts[i].ToolInvocation = &updated
			found = true
			break
		}
		if !found {
			return nil, fmt.Errorf("tool result %q does not match a pending call", res.ToolCallID)
		}
	}
	last.Parts = parts
	return merged, nil
}

// Finish records a completed generation: the final conversation, token usage,
// and the status computed from the finish reason and the last message.
func (s *Service) Finish(ctx context.Context, userID string, taskID int64, messages []Message, reason FinishReason, totalTokens *int, notify bool) error {
	status := StatusFor(messages, reason)

	patch := Patch{
		Status:       &status,
		Conversation: messages,
		TotalTokens:  totalTokens,
	}
	if status == StatusFailed {
		// Abnormal finish reason without a thrown error; keep the failed
		// status honest by recording why.
		patch.Error = &TaskError{
			Kind:    KindInternal,
			Message: fmt.Sprintf("generation finished abnormally (%s)", reason),
		}
	} else {
		patch.ClearError = true
	}

	if err := s.store.Update(ctx, userID, taskID, patch); err != nil {
		return fmt.Errorf("persist finish: %w", err)
	}

	s.dropStreaming(userID, taskID)
	s.publishStatus(userID, taskID, status)

	if notify && status != StatusPendingTool && s.notifier != nil {
		s.notifier.Notify(ctx, userID, taskID, status)
	}
	return nil
}

// Fail transitions the task to failed and persists the classified error.
// It is best-effort: this path runs during error handling and shutdown, so
// persistence problems are logged rather than re-raised.
func (s *Service) Fail(ctx context.Context, userID string, taskID int64, taskErr *TaskError) {
	status := StatusFailed
	if err := s.store.Update(ctx, userID, taskID, Patch{Status: &status, Error: taskErr}); err != nil {
		slog.Error("persist task failure", "user_id", userID, "task_id", taskID, "error", err)
	}

	s.dropStreaming(userID, taskID)
	s.publishStatus(userID, taskID, StatusFailed)
}

// CreateWithUserMessage is the explicit creation path: a new pending-model
// task seeded with a single user message, no stream opened yet.
func (s *Service) CreateWithUserMessage(ctx context.Context, userID, prompt string) (int64, error) {
	return s.store.Create(ctx, userID, &Task{
		Status:       StatusPendingModel,
		Conversation: []Message{NewUserMessage(prompt)},
	})
}

// Get loads a task by per-user id and fills in its public UID.
func (s *Service) Get(ctx context.Context, userID string, taskID int64) (*Task, error) {
	task, err := s.store.Read(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	task.UID = UIDEncode(task.RowID)
	return task, nil
}

// GetByUID loads a task by public id, enforcing ownership.
func (s *Service) GetByUID(ctx context.Context, userID, uid string) (*Task, error) {
	rowID, err := UIDDecode(uid)
	if err != nil {
		return nil, ErrNotFound
	}
	task, err := s.store.ReadByRowID(ctx, rowID)
	if err != nil {
		return nil, err
	}
	if task.UserID != userID {
		return nil, ErrNotFound
	}
	task.UID = uid
	return task, nil
}

// List returns a page of the user's tasks, newest first.
func (s *Service) List(ctx context.Context, userID string, page, limit int, filter ListFilter) (*Page, error) {
	result, err := s.store.List(ctx, userID, page, limit, filter)
	if err != nil {
		return nil, err
	}
	for _, task := range result.Tasks {
		task.UID = UIDEncode(task.RowID)
	}
	return result, nil
}

// Delete removes the task row entirely.
func (s *Service) Delete(ctx context.Context, userID string, taskID int64) error {
	if err := s.store.Delete(ctx, userID, taskID); err != nil {
		return err
	}
	s.dropStreaming(userID, taskID)
	s.bus.Publish(events.NewTypedEvent(events.SourceOrchestrator, userID, events.TaskDeletedPayload{TaskID: taskID}))
	return nil
}

// LatestStreamID returns the current stream id for resume lookups, or ""
// when the task never streamed.
func (s *Service) LatestStreamID(ctx context.Context, userID string, taskID int64) (string, error) {
	id, err := s.store.LatestStreamID(ctx, userID, taskID)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return id, err
}

// StreamingCount reports how many tasks are currently streaming in this
// process, for health reporting.
func (s *Service) StreamingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streaming)
}

// RecoverStale fails every task a previous process left in streaming, so a
// crash never bricks a task behind the conflict guard. Call it on startup
// before the gateway accepts requests.
func (s *Service) RecoverStale(ctx context.Context) (int, error) {
	stale, err := s.store.ListStreaming(ctx)
	if err != nil {
		return 0, fmt.Errorf("list streaming tasks: %w", err)
	}
	for _, task := range stale {
		s.Fail(ctx, task.UserID, task.TaskID, &TaskError{
			Kind:    KindAbort,
			Message: "Server restarted while the task was streaming",
		})
	}
	return len(stale), nil
}

// GracefulShutdown fails every currently streaming task with an abort
// classification. The index is cleared before the drain so racing finishes
// cannot double-send notifications.
func (s *Service) GracefulShutdown(ctx context.Context) {
	s.mu.Lock()
	draining := make([]streamingTask, 0, len(s.streaming))
	for _, st := range s.streaming {
		draining = append(draining, st)
	}
	s.streaming = make(map[string]streamingTask)
	s.mu.Unlock()

	slog.Info("process exiting, cleaning up streaming tasks", "count", len(draining))
	if len(draining) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, st := range draining {
		wg.Add(1)
		go func(st streamingTask) {
			defer wg.Done()
			s.Fail(ctx, st.UserID, st.TaskID, &TaskError{
				Kind:    KindAbort,
				Message: "Server is shutting down, task was aborted",
			})
		}(st)
	}
	wg.Wait()
}

func (s *Service) dropStreaming(userID string, taskID int64) {
	s.mu.Lock()
	delete(s.streaming, streamKey(userID, taskID))
	s.mu.Unlock()
}

func (s *Service) publishStatus(userID string, taskID int64, status Status) {
	s.bus.Publish(events.NewTypedEvent(events.SourceOrchestrator, userID, events.TaskStatusChangedPayload{
		TaskID: taskID,
		Status: string(status),
	}))
}

// StatusFor computes the post-generation status from the finish reason and
// the last assistant message.
func StatusFor(messages []Message, reason FinishReason) Status {
	var last *Message
	if len(messages) > 0 {
		last = &messages[len(messages)-1]
	}

	switch reason {
	case FinishToolCalls:
		if hasToolInvocation(last, tools.IsCompletionTool) {
			return StatusCompleted
		}
		if hasToolInvocation(last, tools.IsUserInputTool) {
			return StatusPendingInput
		}
		return StatusPendingTool
	case FinishStop:
		return StatusPendingInput
	default:
		return StatusFailed
	}
}

func hasToolInvocation(msg *Message, match func(string) bool) bool {
	if msg == nil || msg.Role != RoleAssistant {
		return false
	}
	for _, part := range msg.Parts {
		if part.Type == "tool-invocation" && part.ToolInvocation != nil && match(part.ToolInvocation.ToolName) {
			return true
		}
	}
	return false
}
