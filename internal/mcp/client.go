package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Client connects to a single external tool server, caching its tool
// schemas on connect.
type Client struct {
	config    *ServerConfig
	transport Transport
	logger    *slog.Logger

	mu    sync.RWMutex
	tools []*ServerTool

	serverInfo serverInfo
}

// NewClient creates a client for one configured server.
func NewClient(cfg *ServerConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		config:    cfg,
		transport: NewTransport(cfg),
		logger:    logger.With("mcp_server", cfg.Name),
	}
}

// Connect establishes the connection, performs the initialize handshake, and
// caches the server's tool list.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.transport.Connect(ctx); err != nil {
		return fmt.Errorf("transport connect: %w", err)
	}

	result, err := c.transport.Call(ctx, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "seelenmaschine",
			"version": "1.0.0",
		},
	})
	if err != nil {
		c.transport.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	var initResult initializeResult
	if err := json.Unmarshal(result, &initResult); err != nil {
		c.transport.Close()
		return fmt.Errorf("parse initialize result: %w", err)
	}
	c.serverInfo = initResult.ServerInfo
	c.logger.Info("connected to tool server",
		"name", c.serverInfo.Name,
		"version", c.serverInfo.Version,
		"protocol", initResult.ProtocolVersion)

	if err := c.transport.Notify(ctx, "notifications/initialized", nil); err != nil {
		c.logger.Warn("failed to send initialized notification", "error", err)
	}

	if err := c.refreshTools(ctx); err != nil {
		c.logger.Warn("failed to list tools", "error", err)
	}
	return nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.transport.Close()
}

// Name returns the configured server name.
func (c *Client) Name() string { return c.config.Name }

// Connected reports whether the client is connected.
func (c *Client) Connected() bool { return c.transport.Connected() }

func (c *Client) refreshTools(ctx context.Context) error {
	result, err := c.transport.Call(ctx, "tools/list", nil)
	if err != nil {
		return err
	}
	var resp listToolsResult
	if err := json.Unmarshal(result, &resp); err != nil {
		return fmt.Errorf("parse tools/list result: %w", err)
	}

	c.mu.Lock()
	c.tools = resp.Tools
	c.mu.Unlock()
	c.logger.Debug("cached tool schemas", "count", len(resp.Tools))
	return nil
}

// Tools returns the tool schemas cached at connect time.
func (c *Client) Tools() []*ServerTool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tools
}

// CallTool forwards arguments to the server and flattens the result to the
// text handed back to the LLM.
func (c *Client) CallTool(ctx context.Context, name string, arguments json.RawMessage) (string, bool, error) {
	params := callToolParams{Name: name, Arguments: arguments}

	result, err := c.transport.Call(ctx, "tools/call", params)
	if err != nil {
		return "", false, err
	}

	var callResult ToolCallResult
	if err := json.Unmarshal(result, &callResult); err != nil {
		return "", false, fmt.Errorf("parse result: %w", err)
	}

	var parts []string
	for _, content := range callResult.Content {
		switch content.Type {
		case "text":
			parts = append(parts, content.Text)
		default:
			parts = append(parts, fmt.Sprintf("[%s content omitted]", content.Type))
		}
	}
	return strings.Join(parts, "\n"), callResult.IsError, nil
}
