package config

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"

	EnvSearchAPIKey    = "EXA_API_KEY"
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"

	DefaultAnthropicModel = "claude-3-5-sonnet-20241022"
	DefaultOpenAIModel    = "gpt-4o-mini"
	DefaultMaxTokens      = 1024

	DefaultPrompt   = "What are some AI events happening in Singapore and how many days until the next one?"
	DefaultExaWSURL = "https://server.smithery.ai/exa/ws"
)

// ErrMissingConfig is returned by Validate when a required value is absent.
var ErrMissingConfig = errors.New("missing required configuration")

// Server is one remote tool server to connect to.
type Server struct {
	Name   string         `yaml:"name"`
	URL    string         `yaml:"url"`
	Config map[string]any `yaml:"config"`
}

// Config holds all runtime configuration for the chat client.
type Config struct {
	Provider  string
	Model     string
	MaxTokens int64
	MaxCycles int
	Prompt    string
	Verbose   bool
	Markdown  bool

	ServersFile string
	Servers     []Server

	SearchAPIKey     string
	AnthropicAPIKey  string
	AnthropicBaseURL string
	OpenAIAPIKey     string
	OpenAIBaseURL    string
}

// DefaultConfig returns a baseline configuration without side effects.
func DefaultConfig() Config {
	return Config{
		Provider:  ProviderAnthropic,
		MaxTokens: DefaultMaxTokens,
		MaxCycles: 0,
		Prompt:    DefaultPrompt,
	}
}

// Normalize sanitizes configuration values and applies defaults.
func Normalize(cfg Config) Config {
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	if cfg.Provider == "" {
		cfg.Provider = ProviderAnthropic
	}
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.Model == "" {
		switch cfg.Provider {
		case ProviderOpenAI:
			cfg.Model = DefaultOpenAIModel
		default:
			cfg.Model = DefaultAnthropicModel
		}
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.MaxCycles < 0 {
		cfg.MaxCycles = 0
	}
	cfg.Prompt = strings.TrimSpace(cfg.Prompt)
	if cfg.Prompt == "" {
		cfg.Prompt = DefaultPrompt
	}
	cfg.ServersFile = strings.TrimSpace(cfg.ServersFile)
	cfg.SearchAPIKey = strings.TrimSpace(cfg.SearchAPIKey)
	cfg.AnthropicAPIKey = strings.TrimSpace(cfg.AnthropicAPIKey)
	cfg.AnthropicBaseURL = strings.TrimSpace(cfg.AnthropicBaseURL)
	cfg.OpenAIAPIKey = strings.TrimSpace(cfg.OpenAIAPIKey)
	cfg.OpenAIBaseURL = strings.TrimSpace(cfg.OpenAIBaseURL)
	return cfg
}

// Validate checks that every required secret is present. It never touches
// the network.
func (c Config) Validate() error {
	var missing []string
	if c.SearchAPIKey == "" {
		missing = append(missing, EnvSearchAPIKey)
	}
	switch c.Provider {
	case ProviderAnthropic:
		if c.AnthropicAPIKey == "" {
			missing = append(missing, EnvAnthropicAPIKey)
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			missing = append(missing, EnvOpenAIAPIKey)
		}
	default:
		return fmt.Errorf("unknown provider %q (want %s or %s)", c.Provider, ProviderAnthropic, ProviderOpenAI)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
	}
	return nil
}

// DefaultServers returns the single search server used when no servers
// file is configured.
func DefaultServers(searchAPIKey string) []Server {
	return []Server{{
		Name:   "exa",
		URL:    DefaultExaWSURL,
		Config: map[string]any{"exaApiKey": searchAPIKey},
	}}
}

type serversFile struct {
	Servers []Server `yaml:"servers"`
}

// LoadServers reads a YAML servers file. String values under each server's
// config are expanded against the process environment.
func LoadServers(path string) ([]Server, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read servers file: %w", err)
	}
	var file serversFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse servers file %s: %w", path, err)
	}
	if len(file.Servers) == 0 {
		return nil, fmt.Errorf("servers file %s lists no servers", path)
	}

	seen := make(map[string]bool, len(file.Servers))
	for i := range file.Servers {
		s := &file.Servers[i]
		s.Name = strings.TrimSpace(s.Name)
		s.URL = strings.TrimSpace(s.URL)
		if s.Name == "" || s.URL == "" {
			return nil, fmt.Errorf("server %d: name and url are required", i)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("duplicate server name %q", s.Name)
		}
		seen[s.Name] = true
		s.Config = expandEnv(s.Config)
	}
	return file.Servers, nil
}

func expandEnv(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case string:
			out[k] = os.ExpandEnv(val)
		case map[string]any:
			out[k] = expandEnv(val)
		default:
			out[k] = v
		}
	}
	return out
}

// Endpoint returns the WebSocket URL for s with its config embedded as a
// base64-encoded JSON query parameter.
func (s Server) Endpoint() (string, error) {
	u, err := url.Parse(s.URL)
	if err != nil {
		return "", fmt.Errorf("parse server url %q: %w", s.URL, err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q for server %s", u.Scheme, s.Name)
	}

	if len(s.Config) > 0 {
		raw, err := json.Marshal(s.Config)
		if err != nil {
			return "", fmt.Errorf("encode config for server %s: %w", s.Name, err)
		}
		q := u.Query()
		q.Set("config", base64.StdEncoding.EncodeToString(raw))
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// ServerNames lists the configured server names in sorted order.
func (c Config) ServerNames() []string {
	names := make([]string, 0, len(c.Servers))
	for _, s := range c.Servers {
		names = append(names, s.Name)
	}
	sort.Strings(names)
	return names
}
