package mcpclient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/minhyannv/mcp-chat-go/pkg/conversation"
	loggerpkg "github.com/minhyannv/mcp-chat-go/pkg/logger"
)

// maxToolNameLen is the longest tool name the completion APIs accept.
const maxToolNameLen = 64

// invalidToolChars matches characters the completion APIs reject in tool names.
var invalidToolChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// sessionSource is the subset of MultiClient the adapter needs.
type sessionSource interface {
	Names() []string
	Session(name string) (*mcp.ClientSession, bool)
}

type toolRoute struct {
	server string
	name   string
}

// Adapter exposes the tools of every connected server to the conversation
// loop. Tool names are namespaced as "<server>_<tool>".
type Adapter struct {
	source      sessionSource
	logger      loggerpkg.Logger
	callTimeout time.Duration

	mu     sync.RWMutex
	routes map[string]toolRoute
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithAdapterLogger sets the adapter logger.
func WithAdapterLogger(l loggerpkg.Logger) AdapterOption {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithCallTimeout bounds each individual tool call. Zero means no bound.
func WithCallTimeout(d time.Duration) AdapterOption {
	return func(a *Adapter) {
		a.callTimeout = d
	}
}

// NewAdapter builds an adapter over the sessions of client.
func NewAdapter(client *MultiClient, opts ...AdapterOption) *Adapter {
	return newAdapter(client, opts...)
}

func newAdapter(source sessionSource, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		source: source,
		logger: loggerpkg.NopLogger{},
		routes: map[string]toolRoute{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// ListTools fetches the current tool list from every server. The dispatch
// table used by CallTools is rebuilt from the result.
func (a *Adapter) ListTools(ctx context.Context) ([]conversation.ToolSpec, error) {
	var specs []conversation.ToolSpec
	routes := map[string]toolRoute{}

	for _, server := range a.source.Names() {
		session, ok := a.source.Session(server)
		if !ok {
			continue
		}
		for tool, err := range session.Tools(ctx, nil) {
			if err != nil {
				return nil, fmt.Errorf("list tools from %s: %w", server, err)
			}
			name := ToolName(server, tool.Name)
			if _, dup := routes[name]; dup {
				return nil, fmt.Errorf("tool name collision on %q", name)
			}
			schema, err := schemaMap(tool.InputSchema)
			if err != nil {
				return nil, fmt.Errorf("tool %s input schema: %w", name, err)
			}
			routes[name] = toolRoute{server: server, name: tool.Name}
			specs = append(specs, conversation.ToolSpec{
				Name:        name,
				Description: tool.Description,
				InputSchema: schema,
			})
		}
	}

	a.mu.Lock()
	a.routes = routes
	a.mu.Unlock()

	loggerpkg.Debug(a.logger, "tools listed", map[string]any{"count": len(specs)})
	return specs, nil
}

// CallTools executes every tool call in turn concurrently and returns one
// result turn per call, in call order. Unknown tools and tool-reported
// failures become error results; malformed arguments and transport
// failures abort the whole batch.
func (a *Adapter) CallTools(ctx context.Context, turn conversation.Turn) ([]conversation.Turn, error) {
	if len(turn.ToolCalls) == 0 {
		return nil, nil
	}

	results := make([]conversation.Turn, len(turn.ToolCalls))
	g, gctx := errgroup.WithContext(ctx)
	for i, call := range turn.ToolCalls {
		g.Go(func() error {
			res, err := a.callOne(gctx, call)
			if err != nil {
				return fmt.Errorf("tool call %s (%s): %w", call.Name, call.ID, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (a *Adapter) callOne(ctx context.Context, call conversation.ToolCall) (conversation.Turn, error) {
	a.mu.RLock()
	route, ok := a.routes[call.Name]
	a.mu.RUnlock()
	if !ok {
		loggerpkg.Warn(a.logger, "unknown tool requested", map[string]any{"tool": call.Name})
		return conversation.ToolResultTurn(call, fmt.Sprintf("unknown tool: %s", call.Name), true), nil
	}
	session, ok := a.source.Session(route.server)
	if !ok {
		return conversation.Turn{}, fmt.Errorf("server %s is not connected", route.server)
	}

	args, err := decodeArguments(call.Arguments)
	if err != nil {
		return conversation.Turn{}, err
	}

	if a.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.callTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: route.name, Arguments: args})
	if err != nil {
		return conversation.Turn{}, err
	}
	text := extractText(res.Content)
	loggerpkg.Debug(a.logger, "tool call finished", map[string]any{
		"tool":        call.Name,
		"server":      route.server,
		"is_error":    res.IsError,
		"bytes":       len(text),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return conversation.ToolResultTurn(call, text, res.IsError), nil
}

func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("malformed tool arguments: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// schemaMap converts whatever schema representation the SDK hands back into
// a plain JSON object.
func schemaMap(schema any) (map[string]any, error) {
	out := map[string]any{"type": "object"}
	if schema == nil {
		return out, nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	if string(raw) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// extractText joins all text content blocks into a single string.
// Non-text blocks are represented as inline markers.
func extractText(blocks []mcp.Content) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		switch c := b.(type) {
		case *mcp.TextContent:
			parts = append(parts, c.Text)
		case *mcp.ImageContent:
			parts = append(parts, "[image]")
		case *mcp.AudioContent:
			parts = append(parts, "[audio]")
		case *mcp.EmbeddedResource:
			parts = append(parts, "[resource]")
		case *mcp.ResourceLink:
			parts = append(parts, fmt.Sprintf("[resource %s]", c.URI))
		default:
			parts = append(parts, "[content]")
		}
	}
	return strings.Join(parts, "\n")
}

// ToolName generates a namespaced tool name, "<server>_<tool>". Case and
// dashes are kept. When a character has to be replaced or the name is longer
// than maxToolNameLen, a short hash of the original pair is appended so
// distinct tools keep distinct names.
func ToolName(serverName, toolName string) string {
	raw := serverName + "_" + toolName
	name := invalidToolChars.ReplaceAllString(raw, "_")
	if name == raw && len(name) <= maxToolNameLen {
		return name
	}
	sum := sha256.Sum256([]byte(serverName + "\x00" + toolName))
	suffix := "_" + hex.EncodeToString(sum[:4])
	if limit := maxToolNameLen - len(suffix); len(name) > limit {
		name = name[:limit]
	}
	return name + suffix
}
