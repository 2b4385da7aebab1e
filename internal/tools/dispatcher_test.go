package tools

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeTool records executions and optionally blocks or fails.
type fakeTool struct {
	name    string
	execute func(ctx context.Context, args json.RawMessage) (any, error)
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return "fake" }

func (f *fakeTool) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	return f.execute(ctx, args)
}

func TestDispatcher_Execute(t *testing.T) {
	registry := NewRegistry(&fakeTool{
		name: "greet",
		execute: func(_ context.Context, _ json.RawMessage) (any, error) {
			return "hello", nil
		},
	})
	d := NewDispatcher(registry, nil, "user-1")
	defer d.Close()

	result := d.Execute(context.Background(), Call{ToolName: "greet", ToolCallID: "c1"})
	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	if result.Output != "hello" {
		t.Errorf("expected output 'hello', got %v", result.Output)
	}
}

func TestDispatcher_UnknownTool(t *testing.T) {
	d := NewDispatcher(NewRegistry(), nil, "user-1")
	defer d.Close()

	result := d.Execute(context.Background(), Call{ToolName: "nope", ToolCallID: "c1"})
	if result.Error == "" {
		t.Fatal("expected an error result for an unknown tool")
	}
	if result.Error != (&UnknownToolError{ToolName: "nope"}).Error() {
		t.Errorf("error should carry the unknown-tool message, got %q", result.Error)
	}
}

func TestDispatcher_BadArgumentsBecomeResult(t *testing.T) {
	d := NewDispatcher(NewRegistry(NewReadFileTool()), nil, "user-1")
	defer d.Close()

	result := d.Execute(context.Background(), Call{
		ToolName:   NameReadFile,
		ToolCallID: "c1",
		Args:       json.RawMessage(`{"path": 42}`),
	})
	if result.Error == "" {
		t.Fatal("expected an error result for malformed arguments")
	}
	if !strings.Contains(result.Error, "invalid arguments") || !strings.Contains(result.Error, NameReadFile) {
		t.Errorf("error should name the tool and the argument problem, got %q", result.Error)
	}
}

func TestDispatcher_ApprovedTool(t *testing.T) {
	registry := NewRegistry()
	registry.SetApproved([]string{"remoteSearch"})
	d := NewDispatcher(registry, nil, "user-1")
	defer d.Close()

	result := d.Execute(context.Background(), Call{ToolName: "remoteSearch", ToolCallID: "c1"})
	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	out, ok := result.Output.(map[string]string)
	if !ok || out["status"] != ServerToolApproved {
		t.Errorf("expected a server-tool-approved acknowledgement, got %v", result.Output)
	}
}

func TestDispatcher_ToolErrorBecomesResult(t *testing.T) {
	registry := NewRegistry(&fakeTool{
		name: "boom",
		execute: func(_ context.Context, _ json.RawMessage) (any, error) {
			return nil, context.DeadlineExceeded
		},
	})
	d := NewDispatcher(registry, nil, "user-1")
	defer d.Close()

	result := d.Execute(context.Background(), Call{ToolName: "boom", ToolCallID: "c1"})
	if result.Error == "" {
		t.Fatal("expected tool error to surface in the result")
	}
}

func TestDispatcher_PanicCaptured(t *testing.T) {
	registry := NewRegistry(&fakeTool{
		name: "panicky",
		execute: func(_ context.Context, _ json.RawMessage) (any, error) {
			panic("broken")
		},
	})
	d := NewDispatcher(registry, nil, "user-1")
	defer d.Close()

	result := d.Execute(context.Background(), Call{ToolName: "panicky", ToolCallID: "c1"})
	if !strings.Contains(result.Error, "broken") {
		t.Errorf("expected panic message in result, got %q", result.Error)
	}
}

func TestDispatcher_SerializesCalls(t *testing.T) {
	var inFlight, maxInFlight int64
	tool := &fakeTool{
		name: "slow",
		execute: func(_ context.Context, _ json.RawMessage) (any, error) {
			n := atomic.AddInt64(&inFlight, 1)
			for {
				max := atomic.LoadInt64(&maxInFlight)
				if n <= max || atomic.CompareAndSwapInt64(&maxInFlight, max, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&inFlight, -1)
			return nil, nil
		},
	}
	d := NewDispatcher(NewRegistry(tool), nil, "user-1")
	defer d.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Execute(context.Background(), Call{ToolName: "slow"})
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&maxInFlight); got != 1 {
		t.Errorf("expected at most one call in flight, observed %d", got)
	}
}

func TestDispatcher_QueuedCallUnblocksOnCancel(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	tool := &fakeTool{
		name: "blocker",
		execute: func(_ context.Context, _ json.RawMessage) (any, error) {
			close(started)
			<-release
			return nil, nil
		},
	}
	d := NewDispatcher(NewRegistry(tool), nil, "user-1")
	defer d.Close()

	go d.Execute(context.Background(), Call{ToolName: "blocker"})
	<-started

	// Fill the queue behind the blocked worker, then cancel the waiter.
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Result, 1)
	go func() {
		done <- d.Execute(ctx, Call{ToolName: "blocker"})
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	close(release)

	select {
	case result := <-done:
		// Either the cancellation won while queued or the job ran; both
		// are valid, the caller just must not hang.
		_ = result
	case <-time.After(time.Second):
		t.Fatal("queued call did not unblock after cancellation")
	}
}
