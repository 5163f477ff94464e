// Package transcript prints a human-readable trace of each conversation
// cycle and the final conversation.
package transcript

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/fatih/color"

	"github.com/minhyannv/mcp-chat-go/pkg/conversation"
)

var (
	headerColor    = color.New(color.Bold)
	userColor      = color.New(color.Bold, color.FgCyan)
	assistantColor = color.New(color.Bold, color.FgGreen)
	toolColor      = color.New(color.Bold, color.FgYellow)
	faint          = color.New(color.Faint)
)

// Printer writes the trace to an io.Writer.
type Printer struct {
	out         io.Writer
	renderer    *glamour.TermRenderer
	dumpHistory bool
}

// Option configures a Printer.
type Option func(*Printer) error

// WithMarkdown renders assistant text as terminal markdown, wrapped at width.
func WithMarkdown(width int) Option {
	return func(p *Printer) error {
		r, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle("dark"),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			return fmt.Errorf("markdown renderer: %w", err)
		}
		p.renderer = r
		return nil
	}
}

// WithHistoryDump prints the full message history as JSON after every cycle.
func WithHistoryDump() Option {
	return func(p *Printer) error {
		p.dumpHistory = true
		return nil
	}
}

// New returns a Printer writing to out.
func New(out io.Writer, opts ...Option) (*Printer, error) {
	if out == nil {
		out = io.Discard
	}
	p := &Printer{out: out}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Tools prints the tool list fetched for a cycle.
func (p *Printer) Tools(tools []conversation.ToolSpec) {
	raw, err := json.MarshalIndent(tools, "", "  ")
	if err != nil {
		raw = []byte(fmt.Sprintf("%d tool(s)", len(tools)))
	}
	p.printf("%s %s\n", headerColor.Sprint("Available tools"), raw)
}

// Assistant prints the assistant turn of a cycle.
func (p *Printer) Assistant(turn conversation.Turn) {
	p.printf("%s\n%s\n", headerColor.Sprint("Chat response:"), p.body(turn))
}

// Results prints the tool result turns of a cycle.
func (p *Printer) Results(turns []conversation.Turn) {
	p.printf("%s %d\n", headerColor.Sprint("Tool messages:"), len(turns))
	for _, t := range turns {
		p.printf("  %s\n", p.body(t))
	}
}

// History prints turns as indented JSON when the history dump is enabled.
func (p *Printer) History(turns []conversation.Turn) {
	if !p.dumpHistory {
		return
	}
	raw, err := json.MarshalIndent(turns, "", "  ")
	if err != nil {
		return
	}
	p.printf("%s %s\n", headerColor.Sprint("Messages:"), raw)
}

// Transcript prints every turn with an upper-cased role header.
func (p *Printer) Transcript(turns []conversation.Turn) {
	p.printf("\n%s\n", headerColor.Sprint("Final conversation:"))
	for _, t := range turns {
		p.printf("\n%s\n%s\n", roleHeader(t), p.body(t))
	}
}

func roleHeader(t conversation.Turn) string {
	label := strings.ToUpper(string(t.Role)) + ":"
	switch {
	case t.IsToolResult():
		return toolColor.Sprint(label)
	case t.Role == conversation.RoleAssistant:
		return assistantColor.Sprint(label)
	default:
		return userColor.Sprint(label)
	}
}

func (p *Printer) body(t conversation.Turn) string {
	if p.renderer == nil || t.Role != conversation.RoleAssistant || t.Text == "" {
		return t.String()
	}
	rendered, err := p.renderer.Render(t.Text)
	if err != nil {
		return t.String()
	}
	calls := conversation.Turn{Role: t.Role, ToolCalls: t.ToolCalls}.String()
	if calls == "" {
		return strings.TrimRight(rendered, "\n")
	}
	return strings.TrimRight(rendered, "\n") + "\n" + faint.Sprint(calls)
}

func (p *Printer) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.out, format, args...)
}
