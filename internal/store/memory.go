package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dohr-michael/sidekick/internal/tasks"
)

// MemoryStore is an in-memory tasks.Store with the same atomicity contract
// as the SQLite store. It backs tests and ephemeral runs.
type MemoryStore struct {
	mu        sync.Mutex
	nextRowID int64
	sequences map[string]int64
	byRow     map[int64]*tasks.Task
	byKey     map[memKey]int64
}

type memKey struct {
	userID string
	taskID int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sequences: make(map[string]int64),
		byRow:     make(map[int64]*tasks.Task),
		byKey:     make(map[memKey]int64),
	}
}

func (s *MemoryStore) Create(_ context.Context, userID string, initial *tasks.Task) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sequences[userID]++
	taskID := s.sequences[userID]
	s.nextRowID++

	task := cloneTask(initial)
	task.RowID = s.nextRowID
	task.UserID = userID
	task.TaskID = taskID
	task.StreamIDs = nil
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now

	s.byRow[task.RowID] = task
	s.byKey[memKey{userID, taskID}] = task.RowID
	return taskID, nil
}

func (s *MemoryStore) Read(_ context.Context, userID string, taskID int64) (*tasks.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, err := s.lookup(userID, taskID)
	if err != nil {
		return nil, err
	}
	return cloneTask(task), nil
}

func (s *MemoryStore) ReadByRowID(_ context.Context, rowID int64) (*tasks.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.byRow[rowID]
	if !ok {
		return nil, tasks.ErrNotFound
	}
	return cloneTask(task), nil
}

func (s *MemoryStore) Update(_ context.Context, userID string, taskID int64, patch tasks.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, err := s.lookup(userID, taskID)
	if err != nil {
		return err
	}
	applyMemPatch(task, patch)
	return nil
}

func (s *MemoryStore) UpdateIfNotStreaming(_ context.Context, userID string, taskID int64, patch tasks.Patch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, err := s.lookup(userID, taskID)
	if err != nil {
		return false, err
	}
	if task.Status == tasks.StatusStreaming {
		return false, nil
	}
	applyMemPatch(task, patch)
	return true, nil
}

func (s *MemoryStore) AppendStreamID(_ context.Context, userID string, taskID int64, streamID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, err := s.lookup(userID, taskID)
	if err != nil {
		return err
	}
	task.StreamIDs = append(task.StreamIDs, streamID)
	task.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) LatestStreamID(_ context.Context, userID string, taskID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, err := s.lookup(userID, taskID)
	if err != nil {
		return "", err
	}
	if len(task.StreamIDs) == 0 {
		return "", nil
	}
	return task.StreamIDs[len(task.StreamIDs)-1], nil
}

func (s *MemoryStore) ListStreaming(_ context.Context) ([]*tasks.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*tasks.Task
	for _, task := range s.byRow {
		if task.Status == tasks.StatusStreaming {
			out = append(out, cloneTask(task))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RowID < out[j].RowID })
	return out, nil
}

func (s *MemoryStore) List(_ context.Context, userID string, page, limit int, filter tasks.ListFilter) (*tasks.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	var matched []*tasks.Task
	for _, task := range s.byRow {
		if task.UserID != userID {
			continue
		}
		if filter.CWD != "" && (task.Environment == nil || task.Environment.Info.CWD != filter.CWD) {
			continue
		}
		matched = append(matched, task)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].TaskID > matched[j].TaskID })

	total := len(matched)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	out := make([]*tasks.Task, 0, end-start)
	for _, task := range matched[start:end] {
		out = append(out, cloneTask(task))
	}
	return &tasks.Page{
		Tasks:      out,
		TotalCount: total,
		Limit:      limit,
		Current:    page,
		TotalPages: (total + limit - 1) / limit,
	}, nil
}

func (s *MemoryStore) Delete(_ context.Context, userID string, taskID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := memKey{userID, taskID}
	rowID, ok := s.byKey[key]
	if !ok {
		return tasks.ErrNotFound
	}
	delete(s.byKey, key)
	delete(s.byRow, rowID)
	return nil
}

func (s *MemoryStore) lookup(userID string, taskID int64) (*tasks.Task, error) {
	rowID, ok := s.byKey[memKey{userID, taskID}]
	if !ok {
		return nil, tasks.ErrNotFound
	}
	return s.byRow[rowID], nil
}

func applyMemPatch(task *tasks.Task, patch tasks.Patch) {
	if patch.Status != nil {
		task.Status = *patch.Status
	}
	if patch.Conversation != nil {
		task.Conversation = append([]tasks.Message(nil), patch.Conversation...)
	}
	if patch.Environment != nil {
		task.Environment = patch.Environment
	}
	if patch.TotalTokens != nil {
		task.TotalTokens = patch.TotalTokens
	}
	if patch.Error != nil {
		task.Error = patch.Error
	} else if patch.ClearError {
		task.Error = nil
	}
	task.UpdatedAt = time.Now().UTC()
}

func cloneTask(task *tasks.Task) *tasks.Task {
	if task == nil {
		return &tasks.Task{}
	}
	clone := *task
	clone.Conversation = make([]tasks.Message, len(task.Conversation))
	for i, msg := range task.Conversation {
		clone.Conversation[i] = msg
		clone.Conversation[i].Parts = append([]tasks.Part(nil), msg.Parts...)
	}
	clone.StreamIDs = append([]string(nil), task.StreamIDs...)
	return &clone
}

var _ tasks.Store = (*MemoryStore)(nil)
