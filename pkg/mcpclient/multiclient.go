package mcpclient

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	loggerpkg "github.com/minhyannv/mcp-chat-go/pkg/logger"
)

// ClientName and ClientVersion identify this program during the MCP
// handshake.
const (
	ClientName    = "mcp-chat-go"
	ClientVersion = "0.1.0"
)

// MultiClient holds one MCP session per named server.
type MultiClient struct {
	client *mcp.Client
	logger loggerpkg.Logger

	mu       sync.RWMutex
	sessions map[string]*mcp.ClientSession
	names    []string
	closed   bool
}

// NewMultiClient creates an unconnected client.
func NewMultiClient(logger loggerpkg.Logger) *MultiClient {
	if logger == nil {
		logger = loggerpkg.NopLogger{}
	}
	return &MultiClient{
		client:   mcp.NewClient(&mcp.Implementation{Name: ClientName, Version: ClientVersion}, nil),
		logger:   logger,
		sessions: make(map[string]*mcp.ClientSession),
	}
}

// ConnectAll opens a session for every transport, in name order. If any
// connection fails, the sessions opened so far are closed before the error
// is returned.
func (m *MultiClient) ConnectAll(ctx context.Context, transports map[string]mcp.Transport) error {
	if len(transports) == 0 {
		return errors.New("no tool servers configured")
	}
	names := make([]string, 0, len(transports))
	for name := range transports {
		names = append(names, name)
	}
	sort.Strings(names)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("client is closed")
	}

	opened := make(map[string]*mcp.ClientSession, len(names))
	for _, name := range names {
		if _, dup := m.sessions[name]; dup {
			closeSessions(opened)
			return fmt.Errorf("server %q is already connected", name)
		}
		session, err := m.client.Connect(ctx, transports[name], nil)
		if err != nil {
			closeSessions(opened)
			return fmt.Errorf("connect %s: %w", name, err)
		}
		opened[name] = session

		info := map[string]any{"server": name}
		if res := session.InitializeResult(); res != nil && res.ServerInfo != nil {
			info["server_name"] = res.ServerInfo.Name
			info["server_version"] = res.ServerInfo.Version
			info["protocol_version"] = res.ProtocolVersion
		}
		loggerpkg.Info(m.logger, "MCP server connected", info)
	}

	for name, session := range opened {
		m.sessions[name] = session
	}
	m.names = append(m.names, names...)
	sort.Strings(m.names)
	return nil
}

// Names returns the connected server names in sorted order.
func (m *MultiClient) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.names...)
}

// Session returns the session for a server.
func (m *MultiClient) Session(name string) (*mcp.ClientSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[name]
	return s, ok
}

// Close ends every session. Only the first call has any effect.
func (m *MultiClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	err := closeSessions(m.sessions)
	m.sessions = map[string]*mcp.ClientSession{}
	m.names = nil
	loggerpkg.Info(m.logger, "MCP client closed", nil)
	return err
}

func closeSessions(sessions map[string]*mcp.ClientSession) error {
	var errs []error
	for name, s := range sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
