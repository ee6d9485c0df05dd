package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/fluviusmagnus/Seelenmaschine/internal/tools"
)

// bridgedTool adapts one cached server tool into the registry's Tool shape,
// so external and in-process tools present identically to the Orchestrator.
type bridgedTool struct {
	client *Client
	tool   *ServerTool
}

var _ tools.Tool = (*bridgedTool)(nil)

func (b *bridgedTool) Name() string {
	return fmt.Sprintf("mcp_%s_%s", b.client.Name(), b.tool.Name)
}

func (b *bridgedTool) Description() string {
	if b.tool.Description != "" {
		return b.tool.Description
	}
	return fmt.Sprintf("Tool %s from server %s", b.tool.Name, b.client.Name())
}

func (b *bridgedTool) Schema() json.RawMessage {
	if len(b.tool.InputSchema) > 0 {
		return b.tool.InputSchema
	}
	return json.RawMessage(`{"type":"object"}`)
}

func (b *bridgedTool) Execute(ctx context.Context, params json.RawMessage) (*tools.Result, error) {
	text, isErr, err := b.client.CallTool(ctx, b.tool.Name, params)
	if err != nil {
		return &tools.Result{Content: "tool server call failed: " + err.Error(), IsError: true}, nil
	}
	return &tools.Result{Content: text, IsError: isErr}, nil
}

// RegisterAll connects every configured server and registers its cached
// tools into the registry. A server that fails to connect is logged and
// skipped; the rest of the system keeps running. Returns the connected
// clients so the caller can Close them on shutdown.
func RegisterAll(ctx context.Context, configs []*ServerConfig, registry *tools.Registry, logger *slog.Logger) []*Client {
	if logger == nil {
		logger = slog.Default()
	}

	var clients []*Client
	for _, cfg := range configs {
		client := NewClient(cfg, logger)
		if err := client.Connect(ctx); err != nil {
			logger.Warn("tool server unavailable, skipping", "server", cfg.Name, "error", err)
			continue
		}
		clients = append(clients, client)
		for _, tool := range client.Tools() {
			registry.Register(&bridgedTool{client: client, tool: tool})
		}
		logger.Info("registered external tools", "server", cfg.Name, "count", len(client.Tools()))
	}
	return clients
}
