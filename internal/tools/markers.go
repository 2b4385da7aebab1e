package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// AttemptCompletionTool marks the task as done. It performs no work: its
// presence as the last tool call is what drives the task to its final
// status. The result echoes the summary so clients can display it.
type AttemptCompletionTool struct{}

// NewAttemptCompletionTool creates a new attemptCompletion tool.
func NewAttemptCompletionTool() *AttemptCompletionTool {
	return &AttemptCompletionTool{}
}

type attemptCompletionInput struct {
	Result string `json:"result"`
}

func (t *AttemptCompletionTool) Name() string { return NameAttemptCompletion }

func (t *AttemptCompletionTool) Description() string {
	return "Signal that the task is complete, with a summary of the result."
}

func (t *AttemptCompletionTool) Execute(_ context.Context, args json.RawMessage) (any, error) {
	var input attemptCompletionInput
	if err := decodeArgs(NameAttemptCompletion, args, &input); err != nil {
		return nil, err
	}
	return map[string]string{"result": input.Result}, nil
}

// AskFollowupQuestionTool pauses the task until the user answers. Like
// attemptCompletion it carries no behavior of its own.
type AskFollowupQuestionTool struct{}

// NewAskFollowupQuestionTool creates a new askFollowupQuestion tool.
func NewAskFollowupQuestionTool() *AskFollowupQuestionTool {
	return &AskFollowupQuestionTool{}
}

type askFollowupQuestionInput struct {
	Question string `json:"question"`
}

func (t *AskFollowupQuestionTool) Name() string { return NameAskFollowupQuestion }

func (t *AskFollowupQuestionTool) Description() string {
	return "Ask the user a question and wait for their answer before continuing."
}

func (t *AskFollowupQuestionTool) Execute(_ context.Context, args json.RawMessage) (any, error) {
	var input askFollowupQuestionInput
	if err := decodeArgs(NameAskFollowupQuestion, args, &input); err != nil {
		return nil, err
	}
	if input.Question == "" {
		return nil, fmt.Errorf("askFollowupQuestion: question is required")
	}
	return map[string]string{"question": input.Question}, nil
}
