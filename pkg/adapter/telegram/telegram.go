// Package telegram normalizes Telegram bot updates into canonical messages.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/omnirelay/omnirelay/pkg/adapter"
	"github.com/omnirelay/omnirelay/pkg/config"
	"github.com/omnirelay/omnirelay/pkg/message"
	"github.com/omnirelay/omnirelay/pkg/telemetry"
)

type Adapter struct {
	token  string
	bot    *bot.Bot
	bridge *adapter.Bridge
	cancel context.CancelFunc

	mu      sync.RWMutex
	handler adapter.Handler
	started bool
}

func New(cfg config.PlatformConfig) (adapter.Adapter, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram: bot token not set")
	}
	return &Adapter{
		token:  cfg.Token,
		bridge: adapter.NewBridge(64),
	}, nil
}

func (a *Adapter) Name() string { return "telegram" }

func (a *Adapter) Initialize(ctx context.Context) error {
	logger := telemetry.FromContext(ctx)

	b, err := bot.New(a.token, bot.WithDefaultHandler(a.handleUpdate))
	if err != nil {
		return fmt.Errorf("telegram: creating bot: %w", err)
	}
	a.bot = b

	// The bot's long-poll loop and the send bridge share one private
	// execution context that outlives the caller's init deadline.
	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	go b.Start(runCtx)
	go a.bridge.Run(runCtx)

	a.mu.Lock()
	a.started = true
	a.mu.Unlock()

	logger.Info("telegram adapter started")
	return nil
}

func (a *Adapter) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	a.started = false
	a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
	}
	return nil
}

func (a *Adapter) HealthCheck(ctx context.Context) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.started && a.bot != nil
}

func (a *Adapter) SetMessageHandler(h adapter.Handler) {
	a.mu.Lock()
	a.handler = h
	a.mu.Unlock()
}

func (a *Adapter) SendMessage(ctx context.Context, to, messageType, content, conversationType string) (string, error) {
	return a.bridge.Do(ctx, func(ctx context.Context) (string, error) {
		m, err := a.bot.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID(to),
			Text:   content,
		})
		if err != nil {
			return "", fmt.Errorf("telegram: sending message: %w", err)
		}
		return strconv.Itoa(m.ID), nil
	})
}

// HandleWebhook ingests a Telegram update delivered over an HTTP callback
// instead of the long-poll loop.
func (a *Adapter) HandleWebhook(ctx context.Context, body []byte) error {
	var update models.Update
	if err := json.Unmarshal(body, &update); err != nil {
		return fmt.Errorf("telegram: decoding webhook update: %w", err)
	}
	a.handleUpdate(ctx, a.bot, &update)
	return nil
}

func (a *Adapter) handleUpdate(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	msg := toCanonical(update.Message)

	a.mu.RLock()
	handler := a.handler
	a.mu.RUnlock()
	if handler != nil {
		handler(msg)
	}
}

// toCanonical applies the normalization rules: a private chat is a user
// conversation addressed by the sender's id, anything else is a group
// conversation addressed by the chat id.
func toCanonical(m *models.Message) message.Message {
	senderID := strconv.FormatInt(m.From.ID, 10)
	senderName := m.From.FirstName
	if m.From.Username != "" {
		senderName = m.From.Username
	}

	convType := message.ConversationGroup
	convID := strconv.FormatInt(m.Chat.ID, 10)
	if m.Chat.Type == models.ChatTypePrivate {
		convType = message.ConversationUser
		convID = senderID
	}

	ts := int64(m.Date) * 1000
	if m.Date == 0 {
		ts = message.Now()
	}

	return message.Message{
		Platform:  "telegram",
		MessageID: strconv.Itoa(m.ID),
		Sender: message.Sender{
			ID:   senderID,
			Name: senderName,
			Type: "user",
		},
		Conversation: message.Conversation{
			ID:   convID,
			Type: convType,
		},
		Content: message.Content{
			Type: message.ContentText,
			Text: m.Text,
			Data: map[string]any{
				"chat_id":   m.Chat.ID,
				"chat_type": string(m.Chat.Type),
			},
		},
		Timestamp: ts,
	}
}

// chatID preserves numeric ids as integers; anything else (a @username) is
// passed through as is.
func chatID(to string) any {
	if id, err := strconv.ParseInt(to, 10, 64); err == nil {
		return id
	}
	return to
}
