package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	configpkg "github.com/minhyannv/mcp-chat-go/pkg/config"
	"github.com/minhyannv/mcp-chat-go/pkg/conversation"
)

// fakeAPI serves one canned JSON body on path and records request bodies.
type fakeAPI struct {
	mu     sync.Mutex
	bodies []map[string]any
	path   string
	status int
	reply  string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != f.path {
		http.Error(w, "unexpected path "+r.URL.Path, http.StatusNotFound)
		return
	}
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)
	f.mu.Lock()
	f.bodies = append(f.bodies, body)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	status := f.status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = io.WriteString(w, f.reply)
}

func (f *fakeAPI) lastBody(t *testing.T) map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.bodies) == 0 {
		t.Fatal("no request recorded")
	}
	return f.bodies[len(f.bodies)-1]
}

func newFakeAPI(t *testing.T, path, reply string) (*fakeAPI, string) {
	t.Helper()
	api := &fakeAPI{path: path, reply: reply}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return api, srv.URL
}

// historyWithTwoResults is a seed, an assistant turn with two tool calls and
// the two results.
func historyWithTwoResults() []conversation.Turn {
	first := conversation.ToolCall{ID: "toolu_1", Name: "exa_web_search", Arguments: json.RawMessage(`{"query":"a"}`)}
	second := conversation.ToolCall{ID: "toolu_2", Name: "exa_web_search", Arguments: json.RawMessage(`{"query":"b"}`)}
	return []conversation.Turn{
		conversation.UserText("find events"),
		{Role: conversation.RoleAssistant, Text: "Searching.", ToolCalls: []conversation.ToolCall{first, second}},
		conversation.ToolResultTurn(first, "result a", false),
		conversation.ToolResultTurn(second, "failed", true),
	}
}

var testTools = []conversation.ToolSpec{{
	Name:        "exa_web_search",
	Description: "Search the web",
	InputSchema: map[string]any{
		"type":       "object",
		"properties": map[string]any{"query": map[string]any{"type": "string"}},
		"required":   []any{"query"},
	},
}}

const anthropicToolUseReply = `{
  "id": "msg_1",
  "type": "message",
  "role": "assistant",
  "model": "claude-3-5-sonnet-20241022",
  "content": [
    {"type": "text", "text": "Let me search."},
    {"type": "tool_use", "id": "toolu_9", "name": "exa_web_search", "input": {"query": "ai events singapore"}}
  ],
  "stop_reason": "tool_use",
  "stop_sequence": null,
  "usage": {"input_tokens": 12, "output_tokens": 7}
}`

func TestAnthropicCompleteParsesToolUse(t *testing.T) {
	api, baseURL := newFakeAPI(t, "/v1/messages", anthropicToolUseReply)
	p := NewAnthropic(AnthropicOptions{APIKey: "test", BaseURL: baseURL, Model: "claude-test", MaxTokens: 256})

	turn, err := p.Complete(context.Background(), historyWithTwoResults(), testTools)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if turn.Role != conversation.RoleAssistant || turn.Text != "Let me search." {
		t.Fatalf("unexpected turn %+v", turn)
	}
	if len(turn.ToolCalls) != 1 || turn.ToolCalls[0].ID != "toolu_9" || turn.ToolCalls[0].Name != "exa_web_search" {
		t.Fatalf("unexpected tool calls %+v", turn.ToolCalls)
	}
	var input map[string]any
	if err := json.Unmarshal(turn.ToolCalls[0].Arguments, &input); err != nil || input["query"] != "ai events singapore" {
		t.Fatalf("unexpected arguments %s (%v)", turn.ToolCalls[0].Arguments, err)
	}

	body := api.lastBody(t)
	if body["model"] != "claude-test" || body["max_tokens"] != float64(256) {
		t.Fatalf("unexpected request params: model=%v max_tokens=%v", body["model"], body["max_tokens"])
	}
	messages, _ := body["messages"].([]any)
	if len(messages) != 3 {
		t.Fatalf("expected tool results merged into 3 messages, got %d", len(messages))
	}
	last, _ := messages[2].(map[string]any)
	if last["role"] != "user" {
		t.Fatalf("expected merged results as user message, got %v", last["role"])
	}
	blocks, _ := last["content"].([]any)
	if len(blocks) != 2 {
		t.Fatalf("expected 2 tool_result blocks, got %d", len(blocks))
	}
	for i, id := range []string{"toolu_1", "toolu_2"} {
		block, _ := blocks[i].(map[string]any)
		if block["type"] != "tool_result" || block["tool_use_id"] != id {
			t.Fatalf("block %d = %v, want tool_result for %s", i, block, id)
		}
	}
	tools, _ := body["tools"].([]any)
	if len(tools) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(tools))
	}
}

func TestAnthropicToolSchemaKeepsExtraKeywords(t *testing.T) {
	api, baseURL := newFakeAPI(t, "/v1/messages", anthropicToolUseReply)
	p := NewAnthropic(AnthropicOptions{APIKey: "test", BaseURL: baseURL, Model: "claude-test", MaxTokens: 64})
	tools := []conversation.ToolSpec{{
		Name: "db_query",
		InputSchema: map[string]any{
			"type":                 "object",
			"properties":           map[string]any{"filter": map[string]any{"$ref": "#/$defs/Filter"}},
			"required":             []any{"filter"},
			"additionalProperties": false,
			"$defs": map[string]any{
				"Filter": map[string]any{"type": "object", "properties": map[string]any{"field": map[string]any{"type": "string"}}},
			},
		},
	}}

	if _, err := p.Complete(context.Background(), []conversation.Turn{conversation.UserText("hi")}, tools); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	sent, _ := api.lastBody(t)["tools"].([]any)
	if len(sent) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(sent))
	}
	schema, _ := sent[0].(map[string]any)["input_schema"].(map[string]any)
	defs, _ := schema["$defs"].(map[string]any)
	if _, ok := defs["Filter"]; !ok {
		t.Fatalf("expected $defs.Filter in input_schema, got %v", schema)
	}
	if schema["additionalProperties"] != false {
		t.Fatalf("expected additionalProperties=false, got %v", schema["additionalProperties"])
	}
	if schema["type"] != "object" {
		t.Fatalf("expected object schema, got %v", schema["type"])
	}
}

const anthropicInterleavedReply = `{
  "id": "msg_2",
  "type": "message",
  "role": "assistant",
  "model": "claude-3-5-sonnet-20241022",
  "content": [
    {"type": "text", "text": "First I search."},
    {"type": "tool_use", "id": "toolu_a", "name": "exa_web_search", "input": {"query": "a"}},
    {"type": "text", "text": "Then I check dates."},
    {"type": "tool_use", "id": "toolu_b", "name": "exa_web_search", "input": {"query": "b"}}
  ],
  "stop_reason": "tool_use",
  "stop_sequence": null,
  "usage": {"input_tokens": 5, "output_tokens": 9}
}`

func TestAnthropicReplaysAssistantBlocksInOrder(t *testing.T) {
	api, baseURL := newFakeAPI(t, "/v1/messages", anthropicInterleavedReply)
	p := NewAnthropic(AnthropicOptions{APIKey: "test", BaseURL: baseURL, Model: "claude-test", MaxTokens: 64})
	seed := conversation.UserText("find events")

	turn, err := p.Complete(context.Background(), []conversation.Turn{seed}, testTools)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(turn.ToolCalls) != 2 || turn.Text != "First I search.\nThen I check dates." {
		t.Fatalf("unexpected flattened turn %+v", turn)
	}

	history := []conversation.Turn{
		seed,
		turn,
		conversation.ToolResultTurn(turn.ToolCalls[0], "ra", false),
		conversation.ToolResultTurn(turn.ToolCalls[1], "rb", false),
	}
	if _, err := p.Complete(context.Background(), history, testTools); err != nil {
		t.Fatalf("second Complete: %v", err)
	}
	messages, _ := api.lastBody(t)["messages"].([]any)
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	blocks, _ := messages[1].(map[string]any)["content"].([]any)
	var types []string
	for _, b := range blocks {
		block, _ := b.(map[string]any)
		typ, _ := block["type"].(string)
		types = append(types, typ)
	}
	if got := strings.Join(types, ","); got != "text,tool_use,text,tool_use" {
		t.Fatalf("assistant blocks replayed as %s", got)
	}
}

func TestAnthropicCompletePropagatesAPIError(t *testing.T) {
	api, baseURL := newFakeAPI(t, "/v1/messages", `{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`)
	api.status = http.StatusBadRequest
	p := NewAnthropic(AnthropicOptions{APIKey: "test", BaseURL: baseURL, Model: "claude-test", MaxTokens: 16})

	_, err := p.Complete(context.Background(), []conversation.Turn{conversation.UserText("hi")}, nil)
	if err == nil || !strings.Contains(err.Error(), "anthropic messages") {
		t.Fatalf("expected wrapped API error, got %v", err)
	}
}

func TestToAnthropicMessagesRejectsEmptyAssistant(t *testing.T) {
	_, err := toAnthropicMessages([]conversation.Turn{
		conversation.UserText("hi"),
		{Role: conversation.RoleAssistant},
	})
	if err == nil {
		t.Fatal("expected error for empty assistant turn")
	}
}

const openAIToolCallReply = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1,
  "model": "gpt-test",
  "choices": [{
    "index": 0,
    "finish_reason": "tool_calls",
    "message": {
      "role": "assistant",
      "content": null,
      "tool_calls": [{
        "id": "call_1",
        "type": "function",
        "function": {"name": "exa_web_search", "arguments": "{\"query\":\"meetups\"}"}
      }]
    }
  }]
}`

func TestOpenAICompleteParsesToolCalls(t *testing.T) {
	api, baseURL := newFakeAPI(t, "/chat/completions", openAIToolCallReply)
	p := NewOpenAI(OpenAIOptions{APIKey: "test", BaseURL: baseURL, Model: "gpt-test", MaxTokens: 64})

	turn, err := p.Complete(context.Background(), historyWithTwoResults(), testTools)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(turn.ToolCalls) != 1 || string(turn.ToolCalls[0].Arguments) != `{"query":"meetups"}` {
		t.Fatalf("unexpected tool calls %+v", turn.ToolCalls)
	}

	body := api.lastBody(t)
	messages, _ := body["messages"].([]any)
	if len(messages) != 4 {
		t.Fatalf("expected one message per turn, got %d", len(messages))
	}
	wantRoles := []string{"user", "assistant", "tool", "tool"}
	for i, role := range wantRoles {
		m, _ := messages[i].(map[string]any)
		if m["role"] != role {
			t.Fatalf("message %d role = %v, want %s", i, m["role"], role)
		}
	}
}

func TestOpenAICompleteRejectsMalformedArguments(t *testing.T) {
	reply := strings.Replace(openAIToolCallReply, `{\"query\":\"meetups\"}`, `{\"query\":`, 1)
	_, baseURL := newFakeAPI(t, "/chat/completions", reply)
	p := NewOpenAI(OpenAIOptions{APIKey: "test", BaseURL: baseURL, Model: "gpt-test"})

	_, err := p.Complete(context.Background(), []conversation.Turn{conversation.UserText("hi")}, nil)
	if !errors.Is(err, ErrMalformedToolCall) {
		t.Fatalf("expected ErrMalformedToolCall, got %v", err)
	}
}

func TestOpenAICompleteEmptyChoices(t *testing.T) {
	_, baseURL := newFakeAPI(t, "/chat/completions", `{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[]}`)
	p := NewOpenAI(OpenAIOptions{APIKey: "test", BaseURL: baseURL, Model: "m"})

	_, err := p.Complete(context.Background(), []conversation.Turn{conversation.UserText("hi")}, nil)
	if !errors.Is(err, ErrEmptyCompletion) {
		t.Fatalf("expected ErrEmptyCompletion, got %v", err)
	}
}

func TestNewSelectsProvider(t *testing.T) {
	tests := []struct {
		provider string
		check    func(any) bool
	}{
		{configpkg.ProviderAnthropic, func(p any) bool { _, ok := p.(*Anthropic); return ok }},
		{configpkg.ProviderOpenAI, func(p any) bool { _, ok := p.(*OpenAI); return ok }},
	}
	for _, tt := range tests {
		p, err := New(configpkg.Normalize(configpkg.Config{Provider: tt.provider}), nil)
		if err != nil {
			t.Fatalf("New(%s): %v", tt.provider, err)
		}
		if !tt.check(p) {
			t.Fatalf("New(%s) returned %T", tt.provider, p)
		}
	}
	if _, err := New(configpkg.Config{Provider: "other"}, nil); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
