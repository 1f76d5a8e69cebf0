// Package discord normalizes Discord gateway events into canonical messages.
package discord

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/omnirelay/omnirelay/pkg/adapter"
	"github.com/omnirelay/omnirelay/pkg/config"
	"github.com/omnirelay/omnirelay/pkg/message"
	"github.com/omnirelay/omnirelay/pkg/telemetry"
)

type Adapter struct {
	token   string
	session *discordgo.Session
	bridge  *adapter.Bridge
	cancel  context.CancelFunc

	mu      sync.RWMutex
	handler adapter.Handler
	started bool
}

func New(cfg config.PlatformConfig) (adapter.Adapter, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token not set")
	}
	return &Adapter{
		token:  cfg.BotToken,
		bridge: adapter.NewBridge(64),
	}, nil
}

func (a *Adapter) Name() string { return "discord" }

func (a *Adapter) Initialize(ctx context.Context) error {
	logger := telemetry.FromContext(ctx)

	dg, err := discordgo.New("Bot " + a.token)
	if err != nil {
		return fmt.Errorf("discord: creating session: %w", err)
	}

	dg.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent
	dg.AddHandler(a.handleMessage)

	if err := dg.Open(); err != nil {
		return fmt.Errorf("discord: opening gateway connection: %w", err)
	}
	a.session = dg

	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	go a.bridge.Run(runCtx)

	a.mu.Lock()
	a.started = true
	a.mu.Unlock()

	logger.Info("discord adapter started")
	return nil
}

func (a *Adapter) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	a.started = false
	a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
	}
	if a.session != nil {
		return a.session.Close()
	}
	return nil
}

func (a *Adapter) HealthCheck(ctx context.Context) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.started && a.session != nil
}

func (a *Adapter) SetMessageHandler(h adapter.Handler) {
	a.mu.Lock()
	a.handler = h
	a.mu.Unlock()
}

// SendMessage resolves a user conversation to its DM channel first, since the
// canonical conversation id for one-to-one chats is the user's id, not a
// channel handle.
func (a *Adapter) SendMessage(ctx context.Context, to, messageType, content, conversationType string) (string, error) {
	if a.session == nil {
		return "", fmt.Errorf("discord: not connected")
	}
	return a.bridge.Do(ctx, func(ctx context.Context) (string, error) {
		channelID := to
		if conversationType == message.ConversationUser {
			ch, err := a.session.UserChannelCreate(to)
			if err != nil {
				return "", fmt.Errorf("discord: opening DM channel: %w", err)
			}
			channelID = ch.ID
		}
		m, err := a.session.ChannelMessageSend(channelID, content)
		if err != nil {
			return "", fmt.Errorf("discord: sending message: %w", err)
		}
		return m.ID, nil
	})
}

func (a *Adapter) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == s.State.User.ID {
		return
	}
	if m.Content == "" {
		return
	}

	msg := toCanonical(m)

	a.mu.RLock()
	handler := a.handler
	a.mu.RUnlock()
	if handler != nil {
		handler(msg)
	}
}

// toCanonical treats DMs (no guild) as user conversations addressed by the
// author's id and guild messages as group conversations addressed by the
// channel id.
func toCanonical(m *discordgo.MessageCreate) message.Message {
	convType := message.ConversationGroup
	convID := m.ChannelID
	if m.GuildID == "" {
		convType = message.ConversationUser
		convID = m.Author.ID
	}

	ts := m.Timestamp.UnixMilli()
	if m.Timestamp.IsZero() {
		ts = message.Now()
	}

	return message.Message{
		Platform:  "discord",
		MessageID: m.ID,
		Sender: message.Sender{
			ID:   m.Author.ID,
			Name: m.Author.Username,
			Type: "user",
		},
		Conversation: message.Conversation{
			ID:   convID,
			Type: convType,
		},
		Content: message.Content{
			Type: message.ContentText,
			Text: m.Content,
			Data: map[string]any{
				"channel_id": m.ChannelID,
				"guild_id":   m.GuildID,
			},
		},
		Timestamp: ts,
	}
}
