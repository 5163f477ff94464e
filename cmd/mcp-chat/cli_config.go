package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	configpkg "github.com/minhyannv/mcp-chat-go/pkg/config"
)

// cliConfig is the runtime config plus CLI-only settings.
type cliConfig struct {
	configpkg.Config
	ToolTimeout time.Duration
	ExtraServer []configpkg.Server
}

// parseCLIConfig loads .env, environment variables and flags.
func parseCLIConfig(args []string, stderr io.Writer) (cliConfig, error) {
	_ = godotenv.Load()

	defaults := configpkg.DefaultConfig()
	fs := flag.NewFlagSet("mcp-chat", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var servers serverFlag
	provider := fs.String("provider", defaults.Provider, "Completion provider: anthropic or openai")
	model := fs.String("model", strings.TrimSpace(os.Getenv("MCP_CHAT_MODEL")), "Model name (empty = provider default)")
	maxTokens := fs.Int64("max_tokens", defaults.MaxTokens, "Max tokens per completion")
	maxCycles := fs.Int("max_cycles", defaults.MaxCycles, "Max model/tool cycles (0 = unlimited)")
	serversFile := fs.String("servers", "", "YAML file listing tool servers")
	prompt := fs.String("prompt", defaults.Prompt, "Task request sent as the first user turn")
	markdown := fs.Bool("markdown", false, "Render assistant text as terminal markdown")
	verbose := fs.Bool("verbose", false, "Verbose debug logging")
	toolTimeout := fs.Duration("tool_timeout", 0, "Timeout for a single tool call (0 = none)")
	fs.Var(&servers, "server", "Extra tool server as name=ws-url. Repeat the flag for multiple servers")
	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}

	cfg := defaults
	cfg.Provider = *provider
	cfg.Model = *model
	cfg.MaxTokens = *maxTokens
	cfg.MaxCycles = *maxCycles
	cfg.ServersFile = *serversFile
	cfg.Prompt = *prompt
	if rest := fs.Args(); len(rest) > 0 {
		cfg.Prompt = strings.Join(rest, " ")
	}
	cfg.Markdown = *markdown
	cfg.Verbose = *verbose
	cfg.SearchAPIKey = os.Getenv(configpkg.EnvSearchAPIKey)
	cfg.AnthropicAPIKey = os.Getenv(configpkg.EnvAnthropicAPIKey)
	cfg.AnthropicBaseURL = os.Getenv("ANTHROPIC_BASE_URL")
	cfg.OpenAIAPIKey = os.Getenv(configpkg.EnvOpenAIAPIKey)
	cfg.OpenAIBaseURL = os.Getenv("OPENAI_BASE_URL")

	return cliConfig{
		Config:      configpkg.Normalize(cfg),
		ToolTimeout: *toolTimeout,
		ExtraServer: servers.values(),
	}, nil
}

// resolveServers picks the servers to connect to: the servers file and
// -server flags when given, the default search server otherwise.
func resolveServers(cfg cliConfig) ([]configpkg.Server, error) {
	var servers []configpkg.Server
	if cfg.ServersFile != "" {
		loaded, err := configpkg.LoadServers(cfg.ServersFile)
		if err != nil {
			return nil, err
		}
		servers = append(servers, loaded...)
	}
	servers = append(servers, cfg.ExtraServer...)
	if len(servers) == 0 {
		return configpkg.DefaultServers(cfg.SearchAPIKey), nil
	}

	seen := make(map[string]bool, len(servers))
	for _, s := range servers {
		if seen[s.Name] {
			return nil, fmt.Errorf("duplicate server name %q", s.Name)
		}
		seen[s.Name] = true
	}
	return servers, nil
}

// serverFlag supports repeatable -server name=url flags.
type serverFlag []configpkg.Server

func (f *serverFlag) String() string {
	if f == nil {
		return ""
	}
	parts := make([]string, 0, len(*f))
	for _, s := range *f {
		parts = append(parts, s.Name+"="+s.URL)
	}
	return strings.Join(parts, ",")
}

func (f *serverFlag) Set(value string) error {
	name, rawURL, ok := strings.Cut(strings.TrimSpace(value), "=")
	name = strings.TrimSpace(name)
	rawURL = strings.TrimSpace(rawURL)
	if !ok || name == "" || rawURL == "" {
		return errors.New("expected name=url")
	}
	*f = append(*f, configpkg.Server{Name: name, URL: rawURL})
	return nil
}

func (f serverFlag) values() []configpkg.Server {
	out := make([]configpkg.Server, len(f))
	copy(out, f)
	return out
}
