// Package telegram is the reference chat-transport adapter: a long-polling
// Telegram bot that accepts messages from the single authorised
// correspondent, drives the Orchestrator, and renders assistant text back
// as one message.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/fluviusmagnus/Seelenmaschine/internal/transport"
)

const apologyText = "Sorry, something went wrong on my side and I could not save that. Please try again."

// Config holds the adapter configuration.
type Config struct {
	// Token is the bot token from @BotFather (required).
	Token string

	// UserID is the single authorised correspondent; messages from any
	// other sender are ignored.
	UserID int64

	Logger *slog.Logger
}

// Adapter bridges Telegram long polling to the Handler.
type Adapter struct {
	config  Config
	handler transport.Handler
	logger  *slog.Logger

	mu  sync.Mutex
	bot *bot.Bot
}

// New creates an adapter; call Start to begin long polling.
func New(config Config, handler transport.Handler) (*Adapter, error) {
	if config.Token == "" {
		return nil, fmt.Errorf("telegram: token is required")
	}
	if config.UserID == 0 {
		return nil, fmt.Errorf("telegram: user id is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{config: config, handler: handler, logger: logger.With("component", "telegram")}, nil
}

// Start connects the bot and blocks in long polling until ctx is cancelled.
func (a *Adapter) Start(ctx context.Context) error {
	b, err := bot.New(a.config.Token, bot.WithDefaultHandler(a.handleUpdate))
	if err != nil {
		return fmt.Errorf("telegram: create bot: %w", err)
	}

	a.mu.Lock()
	a.bot = b
	a.mu.Unlock()

	a.logger.Info("telegram adapter started", "authorized_user", a.config.UserID)
	b.Start(ctx)
	return nil
}

// Notify delivers a proactive assistant message (a scheduler firing) to the
// authorised user. For private chats the chat id equals the user id.
func (a *Adapter) Notify(ctx context.Context, text string) error {
	a.mu.Lock()
	b := a.bot
	a.mu.Unlock()
	if b == nil {
		return fmt.Errorf("telegram: adapter not started")
	}

	_, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: a.config.UserID,
		Text:   text,
	})
	return err
}

func (a *Adapter) handleUpdate(ctx context.Context, b *bot.Bot, update *tgmodels.Update) {
	msg := update.Message
	if msg == nil || msg.Text == "" {
		return
	}
	if msg.From == nil || msg.From.ID != a.config.UserID {
		a.logger.Warn("ignoring message from unauthorised sender")
		return
	}

	reply := a.dispatch(ctx, strings.TrimSpace(msg.Text))
	if reply == "" {
		return
	}

	if _, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: msg.Chat.ID, Text: reply}); err != nil {
		a.logger.Error("failed to send reply", "error", err)
	}
}

// dispatch routes the two transport commands and plain user turns.
func (a *Adapter) dispatch(ctx context.Context, text string) string {
	switch text {
	case "/new":
		if err := a.handler.NewSession(ctx); err != nil {
			a.logger.Error("session finalisation failed", "error", err)
			return apologyText
		}
		return "Started a fresh session. The previous one is archived and summarised."
	case "/reset":
		if err := a.handler.ResetSession(ctx); err != nil {
			a.logger.Error("session reset failed", "error", err)
			return apologyText
		}
		return "Wiped the current session and started over."
	default:
		reply, err := a.handler.HandleUserTurn(ctx, text)
		if err != nil {
			// The user's input must never be dropped silently: signal the
			// failure so the user can retry.
			a.logger.Error("user turn failed", "error", err)
			return apologyText
		}
		return reply
	}
}

// ParseUserID parses the TELEGRAM_USER_ID configuration value.
func ParseUserID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("telegram: invalid user id %q", s)
	}
	return id, nil
}
