package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// ListFilesTool lists directory entries.
type ListFilesTool struct{}

// NewListFilesTool creates a new listFiles tool.
func NewListFilesTool() *ListFilesTool {
	return &ListFilesTool{}
}

type listFilesInput struct {
	Path string `json:"path"`
}

type listFilesEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

type listFilesOutput struct {
	Entries []listFilesEntry `json:"entries"`
}

func (t *ListFilesTool) Name() string { return NameListFiles }

func (t *ListFilesTool) Description() string {
	return "List the entries of a directory with name, type, and size."
}

// Execute lists the directory (default current directory).
func (t *ListFilesTool) Execute(_ context.Context, args json.RawMessage) (any, error) {
	var input listFilesInput
	if err := decodeArgs(NameListFiles, args, &input); err != nil {
		return nil, err
	}
	path := input.Path
	if path == "" {
		path = "."
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("listFiles: %w", err)
	}

	out := make([]listFilesEntry, 0, len(entries))
	for _, e := range entries {
		var size int64
		if info, err := e.Info(); err == nil {
			size = info.Size()
		}
		out = append(out, listFilesEntry{Name: e.Name(), IsDir: e.IsDir(), Size: size})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return listFilesOutput{Entries: out}, nil
}
