package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"

	"github.com/minhyannv/mcp-chat-go/pkg/conversation"
	loggerpkg "github.com/minhyannv/mcp-chat-go/pkg/logger"
)

// AnthropicOptions configures the Anthropic provider.
type AnthropicOptions struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int64
	Logger    loggerpkg.Logger
}

// Anthropic produces assistant turns with the Anthropic Messages API.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	logger    loggerpkg.Logger
}

// NewAnthropic builds a provider from opts.
func NewAnthropic(opts AnthropicOptions) *Anthropic {
	reqOpts := []anthropicoption.RequestOption{}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, anthropicoption.WithBaseURL(opts.BaseURL))
	}
	if opts.APIKey != "" {
		reqOpts = append(reqOpts, anthropicoption.WithAPIKey(opts.APIKey))
	}
	logger := opts.Logger
	if logger == nil {
		logger = loggerpkg.NopLogger{}
	}
	return &Anthropic{
		client:    anthropic.NewClient(reqOpts...),
		model:     opts.Model,
		maxTokens: opts.MaxTokens,
		logger:    logger,
	}
}

// Complete sends the history and tool list and returns the assistant turn.
func (p *Anthropic) Complete(ctx context.Context, history []conversation.Turn, tools []conversation.ToolSpec) (conversation.Turn, error) {
	messages, err := toAnthropicMessages(history)
	if err != nil {
		return conversation.Turn{}, err
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: p.maxTokens,
		Messages:  messages,
		Tools:     toAnthropicTools(tools),
	}

	loggerpkg.Debug(p.logger, "anthropic request", map[string]any{
		"model":    p.model,
		"messages": len(messages),
		"tools":    len(tools),
	})
	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return conversation.Turn{}, fmt.Errorf("anthropic messages: %w", err)
	}
	loggerpkg.Debug(p.logger, "anthropic response", map[string]any{
		"stop_reason":   msg.StopReason,
		"blocks":        len(msg.Content),
		"input_tokens":  msg.Usage.InputTokens,
		"output_tokens": msg.Usage.OutputTokens,
	})
	return fromAnthropicMessage(msg), nil
}

// toAnthropicMessages maps history to API messages. Consecutive tool-result
// turns are merged into one user message: every tool_result answering an
// assistant turn must sit in the single message after it.
func toAnthropicMessages(history []conversation.Turn) ([]anthropic.MessageParam, error) {
	out := make([]anthropic.MessageParam, 0, len(history))
	for i := 0; i < len(history); i++ {
		turn := history[i]
		switch {
		case turn.IsToolResult():
			blocks := []anthropic.ContentBlockParamUnion{}
			for ; i < len(history) && history[i].IsToolResult(); i++ {
				r := history[i].Result
				blocks = append(blocks, anthropic.NewToolResultBlock(r.CallID, r.Content, r.IsError))
			}
			i--
			out = append(out, anthropic.NewUserMessage(blocks...))
		case turn.Role == conversation.RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Text)))
		case turn.Role == conversation.RoleAssistant:
			if native, ok := turn.Native.(anthropic.MessageParam); ok {
				out = append(out, native)
				continue
			}
			blocks := []anthropic.ContentBlockParamUnion{}
			if strings.TrimSpace(turn.Text) != "" {
				blocks = append(blocks, anthropic.NewTextBlock(turn.Text))
			}
			for _, call := range turn.ToolCalls {
				input := call.Arguments
				if len(input) == 0 {
					input = json.RawMessage(`{}`)
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, input, call.Name))
			}
			if len(blocks) == 0 {
				return nil, fmt.Errorf("assistant turn %d is empty", i)
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		default:
			return nil, fmt.Errorf("invalid turn role at index %d: %q", i, turn.Role)
		}
	}
	return out, nil
}

func toAnthropicTools(tools []conversation.ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, spec := range tools {
		schema := anthropic.ToolInputSchemaParam{
			Properties: spec.InputSchema["properties"],
			Required:   requiredFields(spec.InputSchema),
		}
		if extra := extraSchemaFields(spec.InputSchema); len(extra) > 0 {
			schema.ExtraFields = extra
		}
		tool := anthropic.ToolParam{
			Name:        spec.Name,
			InputSchema: schema,
		}
		if spec.Description != "" {
			tool.Description = anthropic.String(spec.Description)
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return out
}

// extraSchemaFields returns the top-level schema keywords ToolInputSchemaParam
// has no field for, such as $defs or additionalProperties.
func extraSchemaFields(schema map[string]any) map[string]any {
	extra := map[string]any{}
	for k, v := range schema {
		switch k {
		case "type", "properties", "required":
			continue
		}
		extra[k] = v
	}
	return extra
}

func requiredFields(schema map[string]any) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// fromAnthropicMessage flattens msg into a turn. The message itself is kept
// as the turn's native form so block order and thinking blocks survive the
// next request.
func fromAnthropicMessage(msg *anthropic.Message) conversation.Turn {
	turn := conversation.Turn{Role: conversation.RoleAssistant, Native: msg.ToParam()}
	var text []string
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text = append(text, b.Text)
		case anthropic.ToolUseBlock:
			turn.ToolCalls = append(turn.ToolCalls, conversation.ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: append(json.RawMessage(nil), b.Input...),
			})
		}
	}
	turn.Text = strings.Join(text, "\n")
	return turn
}
