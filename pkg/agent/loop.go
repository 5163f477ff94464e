package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/minhyannv/mcp-chat-go/pkg/conversation"
	loggerpkg "github.com/minhyannv/mcp-chat-go/pkg/logger"
)

var (
	// ErrInvalidSeed is returned when the loop is not started from exactly
	// one user turn.
	ErrInvalidSeed = errors.New("history must start with exactly one user turn")
	// ErrMaxCycles is returned when a configured cycle cap is exceeded.
	ErrMaxCycles = errors.New("max cycles reached before the assistant stopped calling tools")
)

// CompletionProvider produces the next assistant turn for a history.
type CompletionProvider interface {
	Complete(ctx context.Context, history []conversation.Turn, tools []conversation.ToolSpec) (conversation.Turn, error)
}

// ToolAdapter lists callable tools and executes the tool calls embedded in
// an assistant turn, returning one result turn per call in call order.
type ToolAdapter interface {
	ListTools(ctx context.Context) ([]conversation.ToolSpec, error)
	CallTools(ctx context.Context, turn conversation.Turn) ([]conversation.Turn, error)
}

// Tracer observes each cycle. Implementations must not retain the slices.
type Tracer interface {
	Tools(tools []conversation.ToolSpec)
	Assistant(turn conversation.Turn)
	Results(turns []conversation.Turn)
}

// HistoryTracer is an optional Tracer extension that sees the whole
// history at the end of each cycle.
type HistoryTracer interface {
	History(turns []conversation.Turn)
}

// Result summarizes a finished run.
type Result struct {
	Cycles int
}

// Loop drives a completion provider and a tool adapter until the assistant
// stops requesting tools.
type Loop struct {
	provider CompletionProvider
	tools    ToolAdapter

	tracer    Tracer
	logger    loggerpkg.Logger
	maxCycles int
}

// New builds a Loop. Provider and tools are required.
func New(provider CompletionProvider, tools ToolAdapter, opts ...Option) (*Loop, error) {
	if provider == nil {
		return nil, errors.New("completion provider is required")
	}
	if tools == nil {
		return nil, errors.New("tool adapter is required")
	}
	deps := loopDeps{logger: loggerpkg.NopLogger{}, tracer: nopTracer{}}
	for _, opt := range opts {
		if opt != nil {
			opt(&deps)
		}
	}
	return &Loop{
		provider:  provider,
		tools:     tools,
		tracer:    deps.tracer,
		logger:    deps.logger,
		maxCycles: deps.maxCycles,
	}, nil
}

// Run cycles until a cycle produces zero tool results. history must hold a
// single user turn on entry and holds the full conversation on return.
// Errors from the provider or the adapter abort the run unchanged apart
// from wrapping.
func (l *Loop) Run(ctx context.Context, history *conversation.History) (Result, error) {
	if err := checkSeed(history); err != nil {
		return Result{}, err
	}

	for cycle := 1; ; cycle++ {
		if l.maxCycles > 0 && cycle > l.maxCycles {
			return Result{Cycles: cycle - 1}, ErrMaxCycles
		}
		loggerpkg.Debug(l.logger, "cycle start", map[string]any{
			"cycle":   cycle,
			"history": history.Len(),
		})

		results, err := l.runCycle(ctx, history)
		if err != nil {
			return Result{Cycles: cycle}, fmt.Errorf("cycle %d: %w", cycle, err)
		}
		if len(results) == 0 {
			loggerpkg.Debug(l.logger, "loop done", map[string]any{
				"cycles":  cycle,
				"history": history.Len(),
			})
			return Result{Cycles: cycle}, nil
		}
	}
}

func (l *Loop) runCycle(ctx context.Context, history *conversation.History) ([]conversation.Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	specs, err := l.tools.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	l.tracer.Tools(specs)

	turn, err := l.provider.Complete(ctx, history.Turns(), specs)
	if err != nil {
		return nil, fmt.Errorf("complete: %w", err)
	}
	if turn.Role != conversation.RoleAssistant {
		return nil, fmt.Errorf("complete: provider returned %q turn, want %q", turn.Role, conversation.RoleAssistant)
	}
	history.Append(turn)
	l.tracer.Assistant(turn)

	results, err := l.tools.CallTools(ctx, turn)
	if err != nil {
		return nil, fmt.Errorf("call tools: %w", err)
	}
	history.Append(results...)
	l.tracer.Results(results)
	if ht, ok := l.tracer.(HistoryTracer); ok {
		ht.History(history.Turns())
	}

	loggerpkg.Debug(l.logger, "cycle end", map[string]any{
		"tool_calls": len(turn.ToolCalls),
		"results":    len(results),
	})
	return results, nil
}

func checkSeed(history *conversation.History) error {
	if history == nil || history.Len() != 1 {
		return ErrInvalidSeed
	}
	seed, _ := history.Last()
	if seed.Role != conversation.RoleUser || seed.IsToolResult() {
		return ErrInvalidSeed
	}
	return nil
}

type nopTracer struct{}

func (nopTracer) Tools([]conversation.ToolSpec) {}
func (nopTracer) Assistant(conversation.Turn)   {}
func (nopTracer) Results([]conversation.Turn)   {}
