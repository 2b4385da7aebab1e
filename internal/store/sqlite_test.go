package store

import (
	"context"
	"errors"
	"testing"

	"github.com/dohr-michael/sidekick/internal/tasks"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func statusPtr(s tasks.Status) *tasks.Status { return &s }

func TestSQLiteStore_CreateAllocatesDenseIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := s.Create(ctx, "alice", &tasks.Task{Status: tasks.StatusPendingModel})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if got != want {
			t.Errorf("expected task id %d, got %d", want, got)
		}
	}

	// Another user starts from 1 again.
	got, err := s.Create(ctx, "bob", &tasks.Task{Status: tasks.StatusPendingModel})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got != 1 {
		t.Errorf("expected bob's first task id 1, got %d", got)
	}
}

func TestSQLiteStore_ReadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	env := &tasks.Environment{Info: tasks.EnvironmentInfo{OS: "linux", CWD: "/work"}}
	taskID, err := s.Create(ctx, "alice", &tasks.Task{
		Status:       tasks.StatusPendingModel,
		Conversation: []tasks.Message{tasks.NewUserMessage("hello")},
		Environment:  env,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	task, err := s.Read(ctx, "alice", taskID)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if task.Status != tasks.StatusPendingModel {
		t.Errorf("unexpected status %q", task.Status)
	}
	if len(task.Conversation) != 1 || task.Conversation[0].Role != tasks.RoleUser {
		t.Errorf("unexpected conversation %+v", task.Conversation)
	}
	if task.Environment == nil || task.Environment.Info.CWD != "/work" {
		t.Errorf("unexpected environment %+v", task.Environment)
	}
	if task.RowID == 0 {
		t.Error("expected a row id")
	}

	byRow, err := s.ReadByRowID(ctx, task.RowID)
	if err != nil {
		t.Fatalf("read by row id: %v", err)
	}
	if byRow.TaskID != taskID || byRow.UserID != "alice" {
		t.Errorf("row id lookup mismatch: %+v", byRow)
	}
}

func TestSQLiteStore_ReadMissing(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Read(context.Background(), "alice", 99); !errors.Is(err, tasks.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStore_UpdateIfNotStreaming(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	taskID, err := s.Create(ctx, "alice", &tasks.Task{Status: tasks.StatusPendingInput})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	ok, err := s.UpdateIfNotStreaming(ctx, "alice", taskID, tasks.Patch{Status: statusPtr(tasks.StatusStreaming)})
	if err != nil || !ok {
		t.Fatalf("expected guard to pass: ok=%v err=%v", ok, err)
	}

	// Second attempt must lose: the row is streaming now.
	ok, err = s.UpdateIfNotStreaming(ctx, "alice", taskID, tasks.Patch{Status: statusPtr(tasks.StatusStreaming)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("guard should reject a second streaming transition")
	}

	// Missing task is an error, not a quiet conflict.
	if _, err := s.UpdateIfNotStreaming(ctx, "alice", 99, tasks.Patch{Status: statusPtr(tasks.StatusStreaming)}); !errors.Is(err, tasks.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStore_ErrorPatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	taskID, _ := s.Create(ctx, "alice", &tasks.Task{Status: tasks.StatusPendingModel})
	failed := tasks.StatusFailed
	err := s.Update(ctx, "alice", taskID, tasks.Patch{
		Status: &failed,
		Error:  &tasks.TaskError{Kind: tasks.KindAbort, Message: "aborted"},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	task, _ := s.Read(ctx, "alice", taskID)
	if task.Error == nil || task.Error.Kind != tasks.KindAbort {
		t.Fatalf("expected persisted error, got %+v", task.Error)
	}

	completed := tasks.StatusCompleted
	if err := s.Update(ctx, "alice", taskID, tasks.Patch{Status: &completed, ClearError: true}); err != nil {
		t.Fatalf("update: %v", err)
	}
	task, _ = s.Read(ctx, "alice", taskID)
	if task.Error != nil {
		t.Errorf("expected error cleared, got %+v", task.Error)
	}
}

func TestSQLiteStore_StreamIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	taskID, _ := s.Create(ctx, "alice", &tasks.Task{Status: tasks.StatusPendingModel})

	latest, err := s.LatestStreamID(ctx, "alice", taskID)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest != "" {
		t.Errorf("expected no stream id yet, got %q", latest)
	}

	for _, id := range []string{"s1", "s2", "s3"} {
		if err := s.AppendStreamID(ctx, "alice", taskID, id); err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}

	latest, err = s.LatestStreamID(ctx, "alice", taskID)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest != "s3" {
		t.Errorf("expected s3, got %q", latest)
	}

	task, _ := s.Read(ctx, "alice", taskID)
	if len(task.StreamIDs) != 3 || task.StreamIDs[0] != "s1" {
		t.Errorf("unexpected stream ids %v", task.StreamIDs)
	}

	if err := s.AppendStreamID(ctx, "alice", 99, "sX"); !errors.Is(err, tasks.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStore_ListFiltersAndPages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		cwd := "/a"
		if i%2 == 1 {
			cwd = "/b"
		}
		_, err := s.Create(ctx, "alice", &tasks.Task{
			Status:      tasks.StatusCompleted,
			Environment: &tasks.Environment{Info: tasks.EnvironmentInfo{OS: "linux", CWD: cwd}},
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if _, err := s.Create(ctx, "bob", &tasks.Task{Status: tasks.StatusCompleted}); err != nil {
		t.Fatalf("create: %v", err)
	}

	page, err := s.List(ctx, "alice", 1, 2, tasks.ListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.TotalCount != 5 || page.TotalPages != 3 || len(page.Tasks) != 2 {
		t.Errorf("unexpected page: total=%d pages=%d len=%d", page.TotalCount, page.TotalPages, len(page.Tasks))
	}
	if page.Tasks[0].TaskID != 5 {
		t.Errorf("expected newest first, got task %d", page.Tasks[0].TaskID)
	}

	filtered, err := s.List(ctx, "alice", 1, 10, tasks.ListFilter{CWD: "/a"})
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if filtered.TotalCount != 3 {
		t.Errorf("expected 3 tasks in /a, got %d", filtered.TotalCount)
	}
}

func TestSQLiteStore_ListStreamingCrossesUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Create(ctx, "alice", &tasks.Task{Status: tasks.StatusStreaming}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Create(ctx, "alice", &tasks.Task{Status: tasks.StatusCompleted}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Create(ctx, "bob", &tasks.Task{Status: tasks.StatusStreaming}); err != nil {
		t.Fatalf("create: %v", err)
	}

	streaming, err := s.ListStreaming(ctx)
	if err != nil {
		t.Fatalf("list streaming: %v", err)
	}
	if len(streaming) != 2 {
		t.Fatalf("expected 2 streaming tasks, got %d", len(streaming))
	}
	if streaming[0].UserID != "alice" || streaming[1].UserID != "bob" {
		t.Errorf("unexpected owners %q, %q", streaming[0].UserID, streaming[1].UserID)
	}
	for _, task := range streaming {
		if task.Status != tasks.StatusStreaming {
			t.Errorf("unexpected status %q", task.Status)
		}
	}
}

func TestSQLiteStore_Delete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	taskID, _ := s.Create(ctx, "alice", &tasks.Task{Status: tasks.StatusCompleted})
	if err := s.Delete(ctx, "alice", taskID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Read(ctx, "alice", taskID); !errors.Is(err, tasks.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.Delete(ctx, "alice", taskID); !errors.Is(err, tasks.ErrNotFound) {
		t.Errorf("expected ErrNotFound for double delete, got %v", err)
	}
}
