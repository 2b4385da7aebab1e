package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// WriteToFileTool writes content to a file, creating parent directories.
// It supports the preview path so clients can render the pending write
// while the model is still streaming the call.
type WriteToFileTool struct{}

// NewWriteToFileTool creates a new writeToFile tool.
func NewWriteToFileTool() *WriteToFileTool {
	return &WriteToFileTool{}
}

type writeToFileInput struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type writeToFileOutput struct {
	Path    string `json:"path"`
	Written int    `json:"written"`
}

func (t *WriteToFileTool) Name() string { return NameWriteToFile }

func (t *WriteToFileTool) Description() string {
	return "Write content to a file. Creates parent directories. Returns the absolute path and bytes written."
}

// Execute writes the file.
func (t *WriteToFileTool) Execute(_ context.Context, args json.RawMessage) (any, error) {
	var input writeToFileInput
	if err := decodeArgs(NameWriteToFile, args, &input); err != nil {
		return nil, err
	}
	if input.Path == "" {
		return nil, fmt.Errorf("writeToFile: path is required")
	}

	abs, err := filepath.Abs(input.Path)
	if err != nil {
		return nil, fmt.Errorf("writeToFile: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("writeToFile: create parent: %w", err)
	}
	if err := os.WriteFile(abs, []byte(input.Content), 0o644); err != nil {
		return nil, fmt.Errorf("writeToFile: %w", err)
	}

	return writeToFileOutput{Path: abs, Written: len(input.Content)}, nil
}

// Preview surfaces the in-flight write target. Partial argument payloads
// are expected while the call is still streaming and are skipped quietly.
func (t *WriteToFileTool) Preview(_ context.Context, args json.RawMessage, state string) error {
	var input writeToFileInput
	if err := decodeArgs(NameWriteToFile, args, &input); err != nil || input.Path == "" {
		return nil
	}
	slog.Debug("writeToFile preview", "path", input.Path, "state", state, "pending_bytes", len(input.Content))
	return nil
}

var _ Previewer = (*WriteToFileTool)(nil)
