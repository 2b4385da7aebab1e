package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

const readFileMaxLines = 2000

// ReadFileTool reads file contents with optional offset and limit.
type ReadFileTool struct{}

// NewReadFileTool creates a new readFile tool.
func NewReadFileTool() *ReadFileTool {
	return &ReadFileTool{}
}

type readFileInput struct {
	Path   string `json:"path"`
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
}

type readFileOutput struct {
	Content   string `json:"content"`
	Lines     int    `json:"lines"`
	Truncated bool   `json:"truncated"`
}

func (t *ReadFileTool) Name() string { return NameReadFile }

func (t *ReadFileTool) Description() string {
	return "Read the contents of a file. Returns the text content with optional line offset and limit."
}

// Execute reads the file and returns its contents.
func (t *ReadFileTool) Execute(_ context.Context, args json.RawMessage) (any, error) {
	var input readFileInput
	if err := decodeArgs(NameReadFile, args, &input); err != nil {
		return nil, err
	}
	if input.Path == "" {
		return nil, fmt.Errorf("readFile: path is required")
	}

	data, err := os.ReadFile(input.Path)
	if err != nil {
		return nil, fmt.Errorf("readFile: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	total := len(lines)

	offset := input.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return readFileOutput{Content: "", Lines: 0}, nil
	}

	limit := input.Limit
	if limit <= 0 || limit > readFileMaxLines {
		limit = readFileMaxLines
	}

	end := offset + limit
	truncated := false
	if end < total {
		truncated = true
	} else {
		end = total
	}

	selected := lines[offset:end]
	return readFileOutput{
		Content:   strings.Join(selected, "\n"),
		Lines:     len(selected),
		Truncated: truncated,
	}, nil
}
