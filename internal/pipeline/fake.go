package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dohr-michael/sidekick/internal/tasks"
)

// FakeTurn scripts one Generate call of a FakePipeline.
type FakeTurn struct {
	Deltas       []string
	ToolCalls    []tasks.ToolInvocation
	FinishReason tasks.FinishReason
	Usage        *Usage
	Err          error
	// Block, when set, makes Generate wait for ctx cancellation after
	// writing its deltas, then return ctx.Err().
	Block bool
}

// FakePipeline replays scripted turns. The zero value finishes immediately
// with a single empty stop turn.
type FakePipeline struct {
	Turns []FakeTurn
	calls int
}

// Generate plays the next scripted turn.
func (p *FakePipeline) Generate(ctx context.Context, req Request, sink Sink) (*Completion, error) {
	turn := FakeTurn{FinishReason: tasks.FinishStop}
	if p.calls < len(p.Turns) {
		turn = p.Turns[p.calls]
	}
	p.calls++

	for _, delta := range turn.Deltas {
		if err := WriteFrame(sink, Frame{Type: "text-delta", Text: delta}); err != nil {
			return nil, err
		}
	}
	for _, call := range turn.ToolCalls {
		_ = WriteFrame(sink, Frame{Type: "tool-call", ToolCallID: call.ToolCallID, ToolName: call.ToolName})
	}

	if turn.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if turn.Err != nil {
		return nil, turn.Err
	}

	assistant := tasks.Message{
		ID:        uuid.New().String(),
		Role:      tasks.RoleAssistant,
		CreatedAt: time.Now(),
	}
	for _, delta := range turn.Deltas {
		if len(assistant.Parts) > 0 && assistant.Parts[0].Type == "text" {
			assistant.Parts[0].Text += delta
		} else {
			assistant.Parts = append(assistant.Parts, tasks.Part{Type: "text", Text: delta})
		}
	}
	for i := range turn.ToolCalls {
		call := turn.ToolCalls[i]
		if call.State == "" {
			call.State = tasks.InvocationCall
		}
		assistant.Parts = append(assistant.Parts, tasks.Part{Type: "tool-invocation", ToolInvocation: &call})
	}

	_ = WriteFrame(sink, Frame{Type: "finish", FinishReason: string(turn.FinishReason)})

	return &Completion{
		Messages:     append(append([]tasks.Message(nil), req.Messages...), assistant),
		FinishReason: turn.FinishReason,
		Usage:        turn.Usage,
	}, nil
}

var _ Pipeline = (*FakePipeline)(nil)
