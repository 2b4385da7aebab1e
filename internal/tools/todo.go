package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// TodoItem is one entry of the task's working checklist.
type TodoItem struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Status  string `json:"status"` // pending | in-progress | completed
}

// TodoWriteTool replaces the checklist the model maintains while working on
// a task. The list lives in memory for the lifetime of the runtime instance.
type TodoWriteTool struct {
	mu    sync.Mutex
	items []TodoItem
}

// NewTodoWriteTool creates a new todoWrite tool.
func NewTodoWriteTool() *TodoWriteTool {
	return &TodoWriteTool{}
}

type todoWriteInput struct {
	Todos []TodoItem `json:"todos"`
}

type todoWriteOutput struct {
	Count int `json:"count"`
}

func (t *TodoWriteTool) Name() string { return NameTodoWrite }

func (t *TodoWriteTool) Description() string {
	return "Replace the working checklist for the current task."
}

// Execute swaps in the new checklist.
func (t *TodoWriteTool) Execute(_ context.Context, args json.RawMessage) (any, error) {
	var input todoWriteInput
	if err := decodeArgs(NameTodoWrite, args, &input); err != nil {
		return nil, err
	}
	for _, item := range input.Todos {
		if item.Content == "" {
			return nil, fmt.Errorf("todoWrite: todo content is required")
		}
	}

	t.mu.Lock()
	t.items = input.Todos
	t.mu.Unlock()

	return todoWriteOutput{Count: len(input.Todos)}, nil
}

// Items returns a copy of the current checklist.
func (t *TodoWriteTool) Items() []TodoItem {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TodoItem, len(t.items))
	copy(out, t.items)
	return out
}
