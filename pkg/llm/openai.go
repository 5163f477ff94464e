package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/tidwall/gjson"

	"github.com/minhyannv/mcp-chat-go/pkg/conversation"
	loggerpkg "github.com/minhyannv/mcp-chat-go/pkg/logger"
)

// OpenAIOptions configures the OpenAI-compatible provider.
type OpenAIOptions struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int64
	Logger    loggerpkg.Logger
}

// OpenAI produces assistant turns with the Chat Completions API.
type OpenAI struct {
	client    openai.Client
	model     string
	maxTokens int64
	logger    loggerpkg.Logger
}

// NewOpenAI builds a provider from opts.
func NewOpenAI(opts OpenAIOptions) *OpenAI {
	reqOpts := []option.RequestOption{}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(opts.APIKey))
	}
	logger := opts.Logger
	if logger == nil {
		logger = loggerpkg.NopLogger{}
	}
	return &OpenAI{
		client:    openai.NewClient(reqOpts...),
		model:     opts.Model,
		maxTokens: opts.MaxTokens,
		logger:    logger,
	}
}

// Complete sends one non-streaming chat completion request.
func (p *OpenAI) Complete(ctx context.Context, history []conversation.Turn, tools []conversation.ToolSpec) (conversation.Turn, error) {
	messages, err := toOpenAIMessages(history)
	if err != nil {
		return conversation.Turn{}, err
	}
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.model),
		Messages: messages,
		Tools:    toOpenAITools(tools),
	}
	if p.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(p.maxTokens)
	}

	loggerpkg.Debug(p.logger, "openai request", map[string]any{
		"model":    p.model,
		"messages": len(messages),
		"tools":    len(tools),
	})
	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return conversation.Turn{}, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return conversation.Turn{}, ErrEmptyCompletion
	}
	choice := completion.Choices[0]
	loggerpkg.Debug(p.logger, "openai response", map[string]any{
		"finish_reason": choice.FinishReason,
		"tool_calls":    len(choice.Message.ToolCalls),
	})
	return fromOpenAIMessage(choice.Message)
}

func toOpenAIMessages(history []conversation.Turn) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(history))
	for i, turn := range history {
		switch {
		case turn.IsToolResult():
			out = append(out, openai.ToolMessage(turn.Result.Content, turn.Result.CallID))
		case turn.Role == conversation.RoleUser:
			out = append(out, openai.UserMessage(turn.Text))
		case turn.Role == conversation.RoleAssistant:
			msg := openai.ChatCompletionAssistantMessageParam{}
			if turn.Text != "" {
				msg.Content.OfString = openai.String(turn.Text)
			}
			for _, call := range turn.ToolCalls {
				args := string(call.Arguments)
				if args == "" {
					args = "{}"
				}
				msg.ToolCalls = append(msg.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: call.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      call.Name,
						Arguments: args,
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &msg})
		default:
			return nil, fmt.Errorf("invalid turn role at index %d: %q", i, turn.Role)
		}
	}
	return out, nil
}

func toOpenAITools(tools []conversation.ToolSpec) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, spec := range tools {
		def := openai.FunctionDefinitionParam{
			Name:       spec.Name,
			Parameters: openai.FunctionParameters(spec.InputSchema),
		}
		if spec.Description != "" {
			def.Description = openai.String(spec.Description)
		}
		out = append(out, openai.ChatCompletionToolParam{Function: def})
	}
	return out
}

func fromOpenAIMessage(msg openai.ChatCompletionMessage) (conversation.Turn, error) {
	turn := conversation.Turn{
		Role: conversation.RoleAssistant,
		Text: msg.Content,
	}
	for _, call := range msg.ToolCalls {
		args := strings.TrimSpace(call.Function.Arguments)
		if args == "" {
			args = "{}"
		}
		if !gjson.Valid(args) || !gjson.Parse(args).IsObject() {
			return conversation.Turn{}, fmt.Errorf("%w: %s(id=%s) arguments are not a JSON object", ErrMalformedToolCall, call.Function.Name, call.ID)
		}
		turn.ToolCalls = append(turn.ToolCalls, conversation.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: json.RawMessage(args),
		})
	}
	return turn, nil
}
