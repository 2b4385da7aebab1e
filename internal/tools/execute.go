package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"mvdan.cc/sh/v3/syntax"
)

const maxExecuteTimeout = 300 * time.Second

// ExecuteCommandTool runs shell commands with a configurable timeout. The
// command is parsed before it runs so malformed shell is rejected up front
// instead of producing a confusing shell error.
type ExecuteCommandTool struct {
	defaultTimeout time.Duration
}

// NewExecuteCommandTool creates a new executeCommand tool. timeoutSeconds
// is the default applied when the call does not carry its own.
func NewExecuteCommandTool(timeoutSeconds int) *ExecuteCommandTool {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}
	return &ExecuteCommandTool{defaultTimeout: time.Duration(timeoutSeconds) * time.Second}
}

type executeCommandInput struct {
	Command    string `json:"command"`
	WorkingDir string `json:"working_dir"`
	Timeout    int    `json:"timeout"`
}

type executeCommandOutput struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

func (t *ExecuteCommandTool) Name() string { return NameExecuteCommand }

func (t *ExecuteCommandTool) Description() string {
	return "Execute a shell command. Returns stdout, stderr, and exit code."
}

// Execute parses then runs the shell command.
func (t *ExecuteCommandTool) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	var input executeCommandInput
	if err := decodeArgs(NameExecuteCommand, args, &input); err != nil {
		return nil, err
	}
	if input.Command == "" {
		return nil, fmt.Errorf("executeCommand: command is required")
	}

	if _, err := syntax.NewParser().Parse(strings.NewReader(input.Command), ""); err != nil {
		return nil, fmt.Errorf("executeCommand: invalid shell syntax: %w", err)
	}

	timeout := t.defaultTimeout
	if input.Timeout > 0 {
		timeout = time.Duration(input.Timeout) * time.Second
		if timeout > maxExecuteTimeout {
			timeout = maxExecuteTimeout
		}
	}

	slog.Info("executeCommand", "command", input.Command, "timeout", timeout)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", input.Command)
	if input.WorkingDir != "" {
		cmd.Dir = input.WorkingDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	exitCode := 0
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("executeCommand: %w", ctx.Err())
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("executeCommand: exec: %w", err)
		}
	}

	return executeCommandOutput{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
	}, nil
}
