// Package main runs one tool-augmented conversation against remote MCP
// tool servers and prints the transcript.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/minhyannv/mcp-chat-go/pkg/agent"
	configpkg "github.com/minhyannv/mcp-chat-go/pkg/config"
	"github.com/minhyannv/mcp-chat-go/pkg/conversation"
	"github.com/minhyannv/mcp-chat-go/pkg/llm"
	loggerpkg "github.com/minhyannv/mcp-chat-go/pkg/logger"
	"github.com/minhyannv/mcp-chat-go/pkg/mcpclient"
	"github.com/minhyannv/mcp-chat-go/pkg/transcript"
)

const markdownWidth = 100

// toolSession is a connected tool adapter that must be released.
type toolSession interface {
	agent.ToolAdapter
	Close() error
}

// runDeps are the collaborators run reaches the network through.
type runDeps struct {
	connect     func(ctx context.Context, cfg cliConfig, servers []configpkg.Server, logger loggerpkg.Logger) (toolSession, error)
	newProvider func(cfg configpkg.Config, logger loggerpkg.Logger) (agent.CompletionProvider, error)
}

func defaultDeps() runDeps {
	return runDeps{
		connect:     connectServers,
		newProvider: llm.New,
	}
}

// main is the program entry point.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

// run executes one conversation and returns the process exit status.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, deps runDeps) int {
	cfg, err := parseCLIConfig(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		if errors.Is(err, configpkg.ErrMissingConfig) {
			_, _ = fmt.Fprintf(stderr, "Missing required environment variables (.env): %v\n", err)
		} else {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return 1
	}

	level := loggerpkg.LevelInfo
	if cfg.Verbose {
		level = loggerpkg.LevelDebug
	}
	logger := loggerpkg.With(loggerpkg.NewWriterLogger(stderr, level), map[string]any{
		"run_id": uuid.NewString(),
	})

	if err := chat(ctx, cfg, stdout, logger, deps); err != nil {
		loggerpkg.Error(logger, "run failed", map[string]any{"error": err.Error()})
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// chat connects, runs the loop and prints the final conversation. The tool
// connection is released on every return path.
func chat(ctx context.Context, cfg cliConfig, stdout io.Writer, logger loggerpkg.Logger, deps runDeps) (err error) {
	cfg.Servers, err = resolveServers(cfg)
	if err != nil {
		return err
	}

	provider, err := deps.newProvider(cfg.Config, logger)
	if err != nil {
		return err
	}

	var printerOpts []transcript.Option
	if cfg.Markdown {
		printerOpts = append(printerOpts, transcript.WithMarkdown(markdownWidth))
	}
	if cfg.Verbose {
		printerOpts = append(printerOpts, transcript.WithHistoryDump())
	}
	printer, err := transcript.New(stdout, printerOpts...)
	if err != nil {
		return err
	}

	session, err := deps.connect(ctx, cfg, cfg.Servers, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close tool servers: %w", closeErr))
		}
	}()
	_, _ = fmt.Fprintf(stdout, "Connected to %d tool server(s): %s\n", len(cfg.Servers), strings.Join(cfg.ServerNames(), ", "))

	loop, err := agent.New(provider, session,
		agent.WithLogger(logger),
		agent.WithTracer(printer),
		agent.WithMaxCycles(cfg.MaxCycles),
	)
	if err != nil {
		return err
	}

	history := conversation.NewHistory(conversation.UserText(cfg.Prompt))
	res, err := loop.Run(ctx, history)
	if err != nil {
		return err
	}
	loggerpkg.Info(logger, "conversation finished", map[string]any{
		"cycles": res.Cycles,
		"turns":  history.Len(),
	})

	printer.Transcript(history.Turns())
	return nil
}

// mcpSession joins the tool adapter with the client that owns the sessions.
type mcpSession struct {
	*mcpclient.Adapter
	*mcpclient.MultiClient
}

func connectServers(ctx context.Context, cfg cliConfig, servers []configpkg.Server, logger loggerpkg.Logger) (toolSession, error) {
	transports := make(map[string]mcp.Transport, len(servers))
	for _, s := range servers {
		endpoint, err := s.Endpoint()
		if err != nil {
			return nil, err
		}
		transports[s.Name] = &mcpclient.WebSocketTransport{URL: endpoint}
	}

	client := mcpclient.NewMultiClient(logger)
	if err := client.ConnectAll(ctx, transports); err != nil {
		return nil, err
	}
	adapter := mcpclient.NewAdapter(client,
		mcpclient.WithAdapterLogger(logger),
		mcpclient.WithCallTimeout(cfg.ToolTimeout),
	)
	return mcpSession{Adapter: adapter, MultiClient: client}, nil
}
