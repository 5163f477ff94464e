// Package conversation holds the provider-neutral chat history exchanged
// between the completion provider and the tool adapter.
package conversation

import (
	"encoding/json"
	"strings"
)

// Role is the originator of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ToolCall is a structured request, embedded in an assistant turn, to run a
// named tool with the given arguments.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolResult is the outcome of one ToolCall.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// Turn is one message of a conversation. A tool-result turn carries a
// non-nil Result and is attributed to the user side.
//
// Text and ToolCalls flatten an assistant message: interleaved text and
// tool calls lose their relative order here. Native keeps the provider's
// own form of the message, which that provider replays verbatim; other
// providers ignore it.
type Turn struct {
	Role      Role        `json:"role"`
	Text      string      `json:"text,omitempty"`
	ToolCalls []ToolCall  `json:"tool_calls,omitempty"`
	Result    *ToolResult `json:"result,omitempty"`
	Native    any         `json:"-"`
}

// UserText builds a plain user turn.
func UserText(text string) Turn {
	return Turn{Role: RoleUser, Text: text}
}

// ToolResultTurn builds the user-side turn answering call.
func ToolResultTurn(call ToolCall, content string, isError bool) Turn {
	return Turn{
		Role: RoleUser,
		Result: &ToolResult{
			CallID:  call.ID,
			Name:    call.Name,
			Content: content,
			IsError: isError,
		},
	}
}

// IsToolResult reports whether the turn answers a tool call.
func (t Turn) IsToolResult() bool {
	return t.Result != nil
}

// String renders the turn for human-readable traces.
func (t Turn) String() string {
	var b strings.Builder
	if t.Text != "" {
		b.WriteString(t.Text)
	}
	for _, call := range t.ToolCalls {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("-> ")
		b.WriteString(call.Name)
		if len(call.Arguments) > 0 {
			b.WriteByte(' ')
			b.Write(call.Arguments)
		}
	}
	if t.Result != nil {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("<- ")
		b.WriteString(t.Result.Name)
		if t.Result.IsError {
			b.WriteString(" (error)")
		}
		b.WriteString(": ")
		b.WriteString(t.Result.Content)
	}
	return b.String()
}

func (t Turn) clone() Turn {
	out := t
	if t.ToolCalls != nil {
		out.ToolCalls = make([]ToolCall, len(t.ToolCalls))
		for i, call := range t.ToolCalls {
			call.Arguments = append(json.RawMessage(nil), call.Arguments...)
			out.ToolCalls[i] = call
		}
	}
	if t.Result != nil {
		r := *t.Result
		out.Result = &r
	}
	return out
}

// ToolSpec describes one callable tool in a provider-neutral shape.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}
