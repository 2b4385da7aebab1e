package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/dohr-michael/sidekick/internal/events"
	"github.com/dohr-michael/sidekick/internal/pipeline"
	"github.com/dohr-michael/sidekick/internal/store"
	"github.com/dohr-michael/sidekick/internal/stream"
	"github.com/dohr-michael/sidekick/internal/tasks"
)

// waitForEvents polls the bus history until at least n events are present.
func waitForEvents(bus *events.Bus, n int) {
	for i := 0; i < 200; i++ {
		if len(bus.History(100)) >= n {
			return
		}
		runtime.Gosched()
		time.Sleep(time.Millisecond)
	}
}

type testEnv struct {
	server  *Server
	service *tasks.Service
	bus     *events.Bus
	streams *stream.Registry
}

func newTestServer(t *testing.T, pipe pipeline.Pipeline) *testEnv {
	return newTestServerIdle(t, pipe, 30*time.Second)
}

func newTestServerIdle(t *testing.T, pipe pipeline.Pipeline, idle time.Duration) *testEnv {
	t.Helper()
	bus := events.NewBus(64)
	t.Cleanup(func() { bus.Close() })

	service := tasks.NewService(store.NewMemoryStore(), bus, nil)
	streams := stream.NewRegistry(time.Minute)
	chat := NewChatHandler(service, streams, pipe, bus, idle)
	srv := NewServer(bus, service, chat, "localhost", 0)
	t.Cleanup(func() { srv.hub.Close() })

	return &testEnv{server: srv, service: service, bus: bus, streams: streams}
}

// sseFrames extracts the JSON frames from an SSE body.
func sseFrames(t *testing.T, body string) []pipeline.Frame {
	t.Helper()
	var frames []pipeline.Frame
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var f pipeline.Frame
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &f); err != nil {
			t.Fatalf("decode frame %q: %v", line, err)
		}
		frames = append(frames, f)
	}
	return frames
}

func TestHandleHealth(t *testing.T) {
	env := newTestServer(t, &pipeline.FakePipeline{})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status %q, got %v", "ok", body["status"])
	}
}

func TestChatStream_StartNewTask(t *testing.T) {
	pipe := &pipeline.FakePipeline{Turns: []pipeline.FakeTurn{
		{Deltas: []string{"Hello", " there"}, FinishReason: tasks.FinishStop},
	}}
	env := newTestServer(t, pipe)

	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream",
		strings.NewReader(`{"message":"hi"}`))
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	frames := sseFrames(t, w.Body.String())
	if len(frames) == 0 || frames[0].Type != "start" {
		t.Fatalf("expected a start frame first, got %+v", frames)
	}

	var deltas []string
	for _, f := range frames {
		if f.Type == "text-delta" {
			deltas = append(deltas, f.Text)
		}
	}
	if strings.Join(deltas, "") != "Hello there" {
		t.Errorf("unexpected deltas %v", deltas)
	}

	// stop finish reason leaves the task waiting for the user.
	task, err := env.service.Get(req.Context(), "local", 1)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Status != tasks.StatusPendingInput {
		t.Errorf("expected pending-input, got %q", task.Status)
	}
	if len(task.Conversation) != 2 {
		t.Errorf("expected user + assistant messages, got %d", len(task.Conversation))
	}
}

func TestChatStream_ToolResultContinuation(t *testing.T) {
	pipe := &pipeline.FakePipeline{Turns: []pipeline.FakeTurn{
		{
			ToolCalls: []tasks.ToolInvocation{
				{ToolName: "readFile", ToolCallID: "call-1", State: tasks.InvocationCall},
			},
			FinishReason: tasks.FinishToolCalls,
		},
		{Deltas: []string{"done"}, FinishReason: tasks.FinishStop},
	}}
	env := newTestServer(t, pipe)

	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream",
		strings.NewReader(`{"message":"read it"}`))
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("start: expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var sawToolCall bool
	for _, f := range sseFrames(t, w.Body.String()) {
		if f.Type == "tool-call" && f.ToolCallID == "call-1" {
			sawToolCall = true
		}
	}
	if !sawToolCall {
		t.Fatal("expected a tool-call frame in the first turn")
	}

	task, err := env.service.Get(req.Context(), "local", 1)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Status != tasks.StatusPendingTool {
		t.Fatalf("expected pending-tool after first turn, got %q", task.Status)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/chat/stream",
		strings.NewReader(`{"taskId":1,"toolResults":[{"toolCallId":"call-1","result":{"content":"file body"}}]}`))
	w = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("continue: expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	task, err = env.service.Get(req.Context(), "local", 1)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Status != tasks.StatusPendingInput {
		t.Errorf("expected pending-input after continuation, got %q", task.Status)
	}

	// The tool result must be recorded on the original invocation part.
	var resolved bool
	for _, msg := range task.Conversation {
		for _, part := range msg.Parts {
			inv := part.ToolInvocation
			if inv != nil && inv.ToolCallID == "call-1" && inv.State == tasks.InvocationResult {
				resolved = true
			}
		}
	}
	if !resolved {
		t.Error("tool invocation was not resolved in the conversation")
	}
}

func TestChatStream_PipelineFailureFailsTask(t *testing.T) {
	pipe := &pipeline.FakePipeline{Turns: []pipeline.FakeTurn{
		{Err: &tasks.ProviderError{Message: "upstream unavailable"}},
	}}
	env := newTestServer(t, pipe)

	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream",
		strings.NewReader(`{"message":"hi"}`))
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)

	frames := sseFrames(t, w.Body.String())
	foundError := false
	for _, f := range frames {
		if f.Type == "error" {
			foundError = true
		}
	}
	if !foundError {
		t.Error("expected an error frame in the stream")
	}

	task, err := env.service.Get(req.Context(), "local", 1)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Status != tasks.StatusFailed {
		t.Errorf("expected failed, got %q", task.Status)
	}
	if task.Error == nil || task.Error.Kind != tasks.KindProviderCall {
		t.Errorf("expected a provider call error, got %+v", task.Error)
	}
}

func TestChatStream_IdleTimeoutAbortsStalledTurn(t *testing.T) {
	pipe := &pipeline.FakePipeline{Turns: []pipeline.FakeTurn{
		{Block: true},
	}}
	env := newTestServerIdle(t, pipe, 50*time.Millisecond)

	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream",
		strings.NewReader(`{"message":"hi"}`))
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		env.server.Handler().ServeHTTP(w, req)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler still holding the request after the idle timeout")
	}

	task, err := env.service.Get(context.Background(), "local", 1)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Status != tasks.StatusFailed {
		t.Errorf("expected failed, got %q", task.Status)
	}
	if task.Error == nil || task.Error.Kind != tasks.KindAbort {
		t.Errorf("expected an abort error, got %+v", task.Error)
	}
}

func TestChatStream_MissingMessage(t *testing.T) {
	env := newTestServer(t, &pipeline.FakePipeline{})

	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestChatStream_ResumeFallback(t *testing.T) {
	pipe := &pipeline.FakePipeline{Turns: []pipeline.FakeTurn{
		{Deltas: []string{"Done."}, FinishReason: tasks.FinishStop},
	}}
	env := newTestServer(t, pipe)

	// Run a full turn, then expire its stream.
	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream",
		strings.NewReader(`{"message":"hi"}`))
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)
	startFrames := sseFrames(t, w.Body.String())
	if len(startFrames) == 0 {
		t.Fatal("no frames from start")
	}
	var header struct {
		UID string `json:"uid"`
	}
	if err := json.Unmarshal(startFrames[0].Args, &header); err != nil {
		t.Fatalf("decode start frame: %v", err)
	}
	env.streams.Sweep(time.Now().Add(2 * time.Minute))

	resume := httptest.NewRequest(http.MethodGet, "/api/chat/stream?chatId="+header.UID, nil)
	w = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, resume)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	frames := sseFrames(t, w.Body.String())
	if len(frames) != 2 {
		t.Fatalf("expected message + finish frames, got %+v", frames)
	}
	if frames[0].Type != "message" || frames[0].Message == nil {
		t.Errorf("expected a synthesized message frame, got %+v", frames[0])
	}
	if frames[1].Type != "finish" {
		t.Errorf("expected a finish frame, got %+v", frames[1])
	}
}

func TestChatStream_ResumeUnknownTask(t *testing.T) {
	env := newTestServer(t, &pipeline.FakePipeline{})

	req := httptest.NewRequest(http.MethodGet, "/api/chat/stream?chatId=zzzzzzzz", nil)
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestTasksREST(t *testing.T) {
	pipe := &pipeline.FakePipeline{Turns: []pipeline.FakeTurn{
		{Deltas: []string{"ok"}, FinishReason: tasks.FinishStop},
	}}
	env := newTestServer(t, pipe)

	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream",
		strings.NewReader(`{"message":"first task"}`))
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)

	// List
	w = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tasks", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", w.Code)
	}
	var page tasks.Page
	if err := json.NewDecoder(w.Body).Decode(&page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if page.TotalCount != 1 || len(page.Tasks) != 1 {
		t.Fatalf("expected one task, got %+v", page)
	}
	uid := page.Tasks[0].UID
	if uid == "" {
		t.Fatal("listed task must carry its uid")
	}

	// Get by uid
	w = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tasks/"+uid, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", w.Code)
	}

	// Stream id lookup
	w = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tasks/"+uid+"/stream-id", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("stream-id: expected 200, got %d", w.Code)
	}
	var sid map[string]string
	if err := json.NewDecoder(w.Body).Decode(&sid); err != nil {
		t.Fatalf("decode stream id: %v", err)
	}
	if sid["streamId"] == "" {
		t.Error("expected a stream id after one turn")
	}

	// Another user cannot see it.
	other := httptest.NewRequest(http.MethodGet, "/api/tasks/"+uid, nil)
	other.Header.Set("X-User-Id", "intruder")
	w = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, other)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another user, got %d", w.Code)
	}

	// Delete
	w = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/tasks/"+uid, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", w.Code)
	}
	w = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tasks/"+uid, nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", w.Code)
	}
}

func TestHandleEvents_UserScoped(t *testing.T) {
	env := newTestServer(t, &pipeline.FakePipeline{})

	env.bus.Publish(events.NewTypedEvent(events.SourceOrchestrator, "local", events.TaskStatusChangedPayload{TaskID: 1, Status: "completed"}))
	env.bus.Publish(events.NewTypedEvent(events.SourceOrchestrator, "someone-else", events.TaskStatusChangedPayload{TaskID: 9, Status: "failed"}))
	waitForEvents(env.bus, 2)

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body []map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body) != 1 {
		t.Fatalf("expected only the caller's events, got %d", len(body))
	}
}
