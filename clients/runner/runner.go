// Package runner drives a full agent turn from the client side: it streams
// the model output from the gateway, executes requested tool calls locally
// through the dispatcher, and feeds the results back until the task settles.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/dohr-michael/sidekick/clients/api"
	"github.com/dohr-michael/sidekick/internal/tasks"
	"github.com/dohr-michael/sidekick/internal/tools"
)

// Runner owns one client runtime: a gateway connection plus the local tool
// dispatcher. Tool calls execute strictly one at a time.
type Runner struct {
	client     *api.Client
	dispatcher *tools.Dispatcher
	out        io.Writer
}

// New creates a runner writing model text to out.
func New(client *api.Client, dispatcher *tools.Dispatcher, out io.Writer) *Runner {
	return &Runner{
		client:     client,
		dispatcher: dispatcher,
		out:        out,
	}
}

// TurnResult summarizes a finished turn.
type TurnResult struct {
	TaskID       int64
	UID          string
	FinishReason string
	Rounds       int // generation rounds, including tool continuations
}

// Run sends one user message and loops until the task leaves pending-tool:
// each generation round that ends in executable tool calls is continued with
// their results. taskID 0 starts a new task.
func (r *Runner) Run(ctx context.Context, taskID int64, message string, env *tasks.Environment) (*TurnResult, error) {
	req := api.StartRequest{
		TaskID:      taskID,
		Message:     message,
		Environment: env,
	}

	result := &TurnResult{TaskID: taskID}
	for {
		round, err := r.round(ctx, req)
		if err != nil {
			return nil, err
		}
		result.Rounds++
		if round.taskID != 0 {
			result.TaskID = round.taskID
		}
		if round.uid != "" {
			result.UID = round.uid
		}
		result.FinishReason = round.finishReason

		calls := executableCalls(round.toolCalls)
		if round.finishReason != string(tasks.FinishToolCalls) || len(calls) == 0 {
			return result, nil
		}

		results := make([]tasks.ToolResult, 0, len(calls))
		for _, call := range calls {
			res := r.dispatcher.Execute(ctx, call)
			results = append(results, tasks.ToolResult{
				ToolCallID: call.ToolCallID,
				Result:     resultPayload(res),
				Error:      res.Error,
			})
		}

		req = api.StartRequest{
			TaskID:      result.TaskID,
			ToolResults: results,
			Environment: env,
		}
	}
}

type roundOutcome struct {
	taskID       int64
	uid          string
	finishReason string
	toolCalls    []tools.Call
}

func (r *Runner) round(ctx context.Context, req api.StartRequest) (*roundOutcome, error) {
	stream, err := r.client.StartStream(ctx, req)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	outcome := &roundOutcome{}
	wroteText := false
	for {
		frame, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch frame.Type {
		case "start":
			var header struct {
				TaskID int64  `json:"taskId"`
				UID    string `json:"uid"`
			}
			if err := json.Unmarshal(frame.Args, &header); err == nil {
				outcome.taskID = header.TaskID
				outcome.uid = header.UID
			}
		case "text-delta":
			fmt.Fprint(r.out, frame.Text)
			wroteText = true
		case "tool-call":
			outcome.toolCalls = append(outcome.toolCalls, tools.Call{
				ToolName:   frame.ToolName,
				ToolCallID: frame.ToolCallID,
				Args:       frame.Args,
			})
		case "finish":
			outcome.finishReason = frame.FinishReason
		case "error":
			return nil, fmt.Errorf("generation failed: %s", frame.Error)
		}
	}

	if wroteText {
		fmt.Fprintln(r.out)
	}
	return outcome, nil
}

// executableCalls filters out the marker tools: completion and user-input
// calls end the turn on the server side and run nothing locally.
func executableCalls(calls []tools.Call) []tools.Call {
	out := make([]tools.Call, 0, len(calls))
	for _, call := range calls {
		if tools.IsCompletionTool(call.ToolName) || tools.IsUserInputTool(call.ToolName) {
			continue
		}
		out = append(out, call)
	}
	return out
}

// resultPayload renders a dispatcher result as the conversation's result
// object. Non-object outputs are wrapped so the payload stays a JSON object.
func resultPayload(res tools.Result) map[string]any {
	if res.Output == nil {
		return nil
	}
	raw, err := json.Marshal(res.Output)
	if err != nil {
		return map[string]any{"output": fmt.Sprint(res.Output)}
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return map[string]any{"output": res.Output}
	}
	return obj
}

// BuildEnvironment captures the local machine identity sent with each turn.
func BuildEnvironment() *tasks.Environment {
	cwd, _ := os.Getwd()
	return &tasks.Environment{
		CurrentTime: time.Now().Format(time.RFC3339),
		Info: tasks.EnvironmentInfo{
			OS:    runtime.GOOS,
			CWD:   cwd,
			Shell: os.Getenv("SHELL"),
		},
	}
}
