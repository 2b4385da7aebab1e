package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

const globMaxResults = 500

// GlobFilesTool matches files against a glob pattern, ** included.
type GlobFilesTool struct{}

// NewGlobFilesTool creates a new globFiles tool.
func NewGlobFilesTool() *GlobFilesTool {
	return &GlobFilesTool{}
}

type globFilesInput struct {
	Pattern string `json:"pattern"`
	Root    string `json:"root"`
}

type globFilesOutput struct {
	Files     []string `json:"files"`
	Truncated bool     `json:"truncated"`
}

func (t *GlobFilesTool) Name() string { return NameGlobFiles }

func (t *GlobFilesTool) Description() string {
	return "Find files matching a glob pattern, including ** for recursive matches."
}

// Execute evaluates the pattern relative to root (default current directory).
func (t *GlobFilesTool) Execute(_ context.Context, args json.RawMessage) (any, error) {
	var input globFilesInput
	if err := decodeArgs(NameGlobFiles, args, &input); err != nil {
		return nil, err
	}
	if input.Pattern == "" {
		return nil, fmt.Errorf("globFiles: pattern is required")
	}
	root := input.Root
	if root == "" {
		root = "."
	}

	matches, err := doublestar.Glob(os.DirFS(root), input.Pattern, doublestar.WithFilesOnly())
	if err != nil {
		if errors.Is(err, doublestar.ErrBadPattern) {
			return nil, fmt.Errorf("globFiles: invalid pattern %q", input.Pattern)
		}
		return nil, fmt.Errorf("globFiles: %w", err)
	}

	sort.Strings(matches)
	truncated := false
	if len(matches) > globMaxResults {
		matches = matches[:globMaxResults]
		truncated = true
	}

	return globFilesOutput{Files: matches, Truncated: truncated}, nil
}
