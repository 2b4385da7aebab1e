package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/dohr-michael/sidekick/internal/tasks"
)

// EinoPipeline generates turns through an eino chat model.
type EinoPipeline struct {
	chatModel model.ToolCallingChatModel
}

// NewEinoPipeline binds the tool definitions to the model once; every turn
// reuses the bound instance.
func NewEinoPipeline(chatModel model.ToolCallingChatModel, toolInfos []*schema.ToolInfo) (*EinoPipeline, error) {
	if len(toolInfos) > 0 {
		bound, err := chatModel.WithTools(toolInfos)
		if err != nil {
			return nil, fmt.Errorf("bind tools: %w", err)
		}
		chatModel = bound
	}
	return &EinoPipeline{chatModel: chatModel}, nil
}

// Generate streams one assistant turn, relaying deltas into the sink.
func (p *EinoPipeline) Generate(ctx context.Context, req Request, sink Sink) (*Completion, error) {
	input, err := toSchemaMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	reader, err := p.chatModel.Stream(ctx, input)
	if err != nil {
		return nil, &tasks.ProviderError{Message: err.Error(), RequestBody: requestBody(req)}
	}
	defer reader.Close()

	var chunks []*schema.Message
	for {
		chunk, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &tasks.ProviderError{Message: err.Error(), RequestBody: requestBody(req)}
		}
		chunks = append(chunks, chunk)

		if chunk.Content != "" {
			if err := WriteFrame(sink, Frame{Type: "text-delta", Text: chunk.Content}); err != nil {
				slog.Warn("drop text delta", "task_id", req.TaskID, "error", err)
			}
		}
	}
	if len(chunks) == 0 {
		return nil, &tasks.ProviderError{Message: "provider returned an empty stream", RequestBody: requestBody(req)}
	}

	final, err := schema.ConcatMessages(chunks)
	if err != nil {
		return nil, fmt.Errorf("concat stream: %w", err)
	}

	for _, call := range final.ToolCalls {
		frame := Frame{
			Type:       "tool-call",
			ToolCallID: call.ID,
			ToolName:   call.Function.Name,
			Args:       json.RawMessage(call.Function.Arguments),
		}
		if err := WriteFrame(sink, frame); err != nil {
			slog.Warn("drop tool call frame", "task_id", req.TaskID, "error", err)
		}
	}

	finishReason := tasks.FinishUnknown
	var usage *Usage
	if final.ResponseMeta != nil {
		finishReason = MapFinishReason(final.ResponseMeta.FinishReason)
		if u := final.ResponseMeta.Usage; u != nil {
			usage = &Usage{
				PromptTokens:     u.PromptTokens,
				CompletionTokens: u.CompletionTokens,
				TotalTokens:      u.TotalTokens,
			}
		}
	}
	if len(final.ToolCalls) > 0 {
		finishReason = tasks.FinishToolCalls
	}

	// A hard token cutoff cannot be resumed into a coherent turn.
	if finishReason == tasks.FinishLength {
		return nil, &tasks.ProviderError{Message: "generation truncated by the provider token limit", RequestBody: requestBody(req)}
	}

	assistant := fromSchemaMessage(final)
	_ = WriteFrame(sink, Frame{Type: "finish", FinishReason: string(finishReason)})

	return &Completion{
		Messages:     append(append([]tasks.Message(nil), req.Messages...), assistant),
		FinishReason: finishReason,
		Usage:        usage,
	}, nil
}

// toSchemaMessages flattens the task conversation into provider messages.
// Tool results become separate tool-role messages following their assistant
// message, the shape every provider expects.
func toSchemaMessages(messages []tasks.Message) ([]*schema.Message, error) {
	var out []*schema.Message
	for _, msg := range messages {
		switch msg.Role {
		case tasks.RoleUser:
			out = append(out, schema.UserMessage(messageText(msg)))
		case tasks.RoleAssistant:
			assistant := &schema.Message{Role: schema.Assistant, Content: messageText(msg)}
			var toolResults []*schema.Message
			for _, part := range msg.Parts {
				inv := part.ToolInvocation
				if part.Type != "tool-invocation" || inv == nil {
					continue
				}
				args, err := json.Marshal(inv.Args)
				if err != nil {
					return nil, fmt.Errorf("encode tool args: %w", err)
				}
				assistant.ToolCalls = append(assistant.ToolCalls, schema.ToolCall{
					ID: inv.ToolCallID,
					Function: schema.FunctionCall{
						Name:      inv.ToolName,
						Arguments: string(args),
					},
				})
				if inv.State == tasks.InvocationResult {
					content := inv.Error
					if content == "" {
						result, err := json.Marshal(inv.Result)
						if err != nil {
							return nil, fmt.Errorf("encode tool result: %w", err)
						}
						content = string(result)
					}
					toolResults = append(toolResults, schema.ToolMessage(content, inv.ToolCallID))
				}
			}
			out = append(out, assistant)
			out = append(out, toolResults...)
		default:
			return nil, fmt.Errorf("unsupported message role %q", msg.Role)
		}
	}
	return out, nil
}

// fromSchemaMessage rebuilds a task message from the concatenated provider
// output.
func fromSchemaMessage(msg *schema.Message) tasks.Message {
	out := tasks.Message{
		ID:        uuid.New().String(),
		Role:      tasks.RoleAssistant,
		CreatedAt: time.Now(),
	}
	if msg.Content != "" {
		out.Parts = append(out.Parts, tasks.Part{Type: "text", Text: msg.Content})
	}
	for _, call := range msg.ToolCalls {
		var args map[string]any
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				slog.Warn("tool call arguments are not an object", "tool", call.Function.Name, "error", err)
			}
		}
		out.Parts = append(out.Parts, tasks.Part{
			Type: "tool-invocation",
			ToolInvocation: &tasks.ToolInvocation{
				ToolName:   call.Function.Name,
				ToolCallID: call.ID,
				State:      tasks.InvocationCall,
				Args:       args,
			},
		})
	}
	return out
}

func messageText(msg tasks.Message) string {
	text := ""
	for _, part := range msg.Parts {
		if part.Type == "text" {
			text += part.Text
		}
	}
	return text
}

func requestBody(req Request) string {
	data, err := json.Marshal(map[string]any{
		"taskId":   req.TaskID,
		"messages": len(req.Messages),
		"tools":    req.ToolNames,
	})
	if err != nil {
		return ""
	}
	return string(data)
}

var _ Pipeline = (*EinoPipeline)(nil)
