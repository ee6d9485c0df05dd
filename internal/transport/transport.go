// Package transport defines the chat-transport contract: an adapter
// receives user text and renders assistant text. The core stays
// transport-agnostic; the Telegram implementation in the telegram
// subpackage is the reference adapter.
package transport

import "context"

// Handler is what an adapter drives: the Orchestrator plus the two
// transport-level session commands.
type Handler interface {
	HandleUserTurn(ctx context.Context, text string) (string, error)
	NewSession(ctx context.Context) error
	ResetSession(ctx context.Context) error
}
