// Package mcpclient connects to remote MCP (Model Context Protocol) tool
// servers over WebSocket and adapts their tools to the conversation loop.
//
// The protocol itself is handled by the official go-sdk; this package only
// supplies the WebSocket transport (subprotocol "mcp"), a client that holds
// one session per named server, and an adapter that lists tools under
// namespaced names and dispatches tool calls back to the owning server.
//
// Only the client side is implemented.
package mcpclient
