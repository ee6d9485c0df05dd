package mcp

import (
	"context"
	"encoding/json"
)

// Transport is the wire layer under a Client.
type Transport interface {
	// Connect establishes the transport connection.
	Connect(ctx context.Context) error

	// Close closes the transport connection.
	Close() error

	// Call sends a request and waits for a response.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// Notify sends a notification (no response expected).
	Notify(ctx context.Context, method string, params any) error

	// Connected returns whether the transport is connected.
	Connected() bool
}

// NewTransport creates the transport a server configuration calls for.
func NewTransport(cfg *ServerConfig) Transport {
	switch cfg.Transport {
	case TransportStreamableHTTP, TransportSSE:
		return NewHTTPTransport(cfg)
	default:
		return NewStdioTransport(cfg)
	}
}
