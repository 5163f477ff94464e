package mcpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Subprotocol is the WebSocket subprotocol negotiated for MCP.
const Subprotocol = "mcp"

const closeGracePeriod = time.Second

// WebSocketTransport dials an MCP server over WebSocket.
type WebSocketTransport struct {
	// URL is the ws:// or wss:// endpoint, credentials included.
	URL string

	// Header is sent with the handshake request.
	Header http.Header

	// Dialer overrides the default dialer. Its Subprotocols are replaced.
	Dialer *websocket.Dialer
}

var _ mcp.Transport = (*WebSocketTransport)(nil)

// Connect dials the endpoint and returns a connection ready for an MCP
// session.
func (t *WebSocketTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 30 * time.Second,
		ReadBufferSize:   64 * 1024,
		WriteBufferSize:  64 * 1024,
	}
	if t.Dialer != nil {
		dialer = *t.Dialer
	}
	dialer.Subprotocols = []string{Subprotocol}

	ws, resp, err := dialer.DialContext(ctx, t.URL, t.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial websocket: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial websocket: %w", err)
	}
	return NewWebSocketConn(ws), nil
}

// WebSocketConn carries JSON-RPC messages over one WebSocket, one message
// per text frame. Reads are pumped by a background goroutine so that Read
// can honour context cancellation.
type WebSocketConn struct {
	ws       *websocket.Conn
	incoming chan []byte
	done     chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error

	errMu   sync.Mutex
	readErr error
}

var _ mcp.Connection = (*WebSocketConn)(nil)

// NewWebSocketConn wraps an established WebSocket. It is used by the
// client transport and works equally for the accepting side.
func NewWebSocketConn(ws *websocket.Conn) *WebSocketConn {
	ws.SetReadLimit(32 << 20)
	c := &WebSocketConn{
		ws:       ws,
		incoming: make(chan []byte),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *WebSocketConn) readLoop() {
	defer close(c.incoming)
	for {
		typ, data, err := c.ws.ReadMessage()
		if err != nil {
			c.setReadErr(err)
			return
		}
		if typ != websocket.TextMessage && typ != websocket.BinaryMessage {
			continue
		}
		select {
		case c.incoming <- data:
		case <-c.done:
			return
		}
	}
}

func (c *WebSocketConn) setReadErr(err error) {
	select {
	case <-c.done:
		err = io.EOF
	default:
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			err = io.EOF
		}
	}
	c.errMu.Lock()
	c.readErr = err
	c.errMu.Unlock()
}

func (c *WebSocketConn) lastReadErr() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.readErr == nil {
		return io.EOF
	}
	return c.readErr
}

// Read returns the next JSON-RPC message. It returns io.EOF once the peer
// closes normally or Close has been called.
func (c *WebSocketConn) Read(ctx context.Context) (jsonrpc.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case data, ok := <-c.incoming:
		if !ok {
			return nil, c.lastReadErr()
		}
		msg, err := jsonrpc.DecodeMessage(data)
		if err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		return msg, nil
	}
}

// Write sends msg as a single text frame.
func (c *WebSocketConn) Write(ctx context.Context, msg jsonrpc.Message) error {
	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return errors.New("websocket connection closed")
	default:
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Close sends a normal closure frame and releases the socket. It does not
// wait for an in-flight Write. Calling it more than once is safe.
func (c *WebSocketConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		// WriteControl and Close may run concurrently with a blocked Write.
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod),
		)
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// SessionID is empty; WebSocket sessions are bound to the socket.
func (c *WebSocketConn) SessionID() string {
	return ""
}
