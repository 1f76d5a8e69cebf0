// Package slack normalizes Slack Events API payloads, received over socket
// mode, into canonical messages.
package slack

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/omnirelay/omnirelay/pkg/adapter"
	"github.com/omnirelay/omnirelay/pkg/config"
	"github.com/omnirelay/omnirelay/pkg/message"
	"github.com/omnirelay/omnirelay/pkg/telemetry"
)

type Adapter struct {
	botToken string
	appToken string
	client   *slackapi.Client
	socket   *socketmode.Client
	bridge   *adapter.Bridge
	cancel   context.CancelFunc

	mu      sync.RWMutex
	handler adapter.Handler
	started bool
}

func New(cfg config.PlatformConfig) (adapter.Adapter, error) {
	if cfg.BotToken == "" || cfg.AppToken == "" {
		return nil, fmt.Errorf("slack: bot token and app token required")
	}
	return &Adapter{
		botToken: cfg.BotToken,
		appToken: cfg.AppToken,
		bridge:   adapter.NewBridge(64),
	}, nil
}

func (a *Adapter) Name() string { return "slack" }

func (a *Adapter) Initialize(ctx context.Context) error {
	logger := telemetry.FromContext(ctx)

	a.client = slackapi.New(
		a.botToken,
		slackapi.OptionAppLevelToken(a.appToken),
	)

	// Fail initialization up front when the credentials are rejected
	// instead of letting socket mode retry forever.
	if _, err := a.client.AuthTestContext(ctx); err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}

	a.socket = socketmode.New(a.client)

	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	go a.listenEvents(runCtx)
	go func() {
		if err := a.socket.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			logger.Error("slack socket stopped", "err", err.Error())
		}
	}()
	go a.bridge.Run(runCtx)

	a.mu.Lock()
	a.started = true
	a.mu.Unlock()

	logger.Info("slack adapter started")
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
	return a.started && a.socket != nil
}

func (a *Adapter) SetMessageHandler(h adapter.Handler) {
	a.mu.Lock()
	a.handler = h
	a.mu.Unlock()
}

// SendMessage opens the direct-message conversation first when addressing a
// user, mirroring the canonical rule that one-to-one conversation ids are
// user ids. The returned id is the Slack message timestamp.
func (a *Adapter) SendMessage(ctx context.Context, to, messageType, content, conversationType string) (string, error) {
	if a.client == nil {
		return "", fmt.Errorf("slack: not connected")
	}
	return a.bridge.Do(ctx, func(ctx context.Context) (string, error) {
		channelID := to
		if conversationType == message.ConversationUser {
			ch, _, _, err := a.client.OpenConversationContext(ctx, &slackapi.OpenConversationParameters{
				Users: []string{to},
			})
			if err != nil {
				return "", fmt.Errorf("slack: opening conversation: %w", err)
			}
			channelID = ch.ID
		}
		_, ts, err := a.client.PostMessageContext(ctx, channelID,
			slackapi.MsgOptionText(content, false),
		)
		if err != nil {
			return "", fmt.Errorf("slack: posting message: %w", err)
		}
		return ts, nil
	})
}

func (a *Adapter) listenEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-a.socket.Events:
			if !ok {
				return
			}
			if evt.Type != socketmode.EventTypeEventsAPI {
				continue
			}
			apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
			if !ok {
				continue
			}
			if evt.Request != nil {
				a.socket.Ack(*evt.Request)
			}
			if apiEvent.Type != slackevents.CallbackEvent {
				continue
			}
			if ev, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent); ok {
				a.handleMessage(ev)
			}
		}
	}
}

func (a *Adapter) handleMessage(ev *slackevents.MessageEvent) {
	// Skip bot echoes and channel-topic style subtypes.
	if ev.BotID != "" || ev.User == "" || ev.SubType != "" {
		return
	}

	msg := toCanonical(ev)

	a.mu.RLock()
	handler := a.handler
	a.mu.RUnlock()
	if handler != nil {
		handler(msg)
	}
}

// toCanonical maps an "im" channel to a user conversation addressed by the
// sender's id; every other channel type is a group conversation addressed by
// the Slack channel id.
func toCanonical(ev *slackevents.MessageEvent) message.Message {
	convType := message.ConversationGroup
	convID := ev.Channel
	if ev.ChannelType == "im" {
		convType = message.ConversationUser
		convID = ev.User
	}

	return message.Message{
		Platform:  "slack",
		MessageID: ev.TimeStamp,
		Sender: message.Sender{
			ID:   ev.User,
			Type: "user",
		},
		Conversation: message.Conversation{
			ID:   convID,
			Type: convType,
		},
		Content: message.Content{
			Type: message.ContentText,
			Text: ev.Text,
			Data: map[string]any{
				"channel":      ev.Channel,
				"channel_type": ev.ChannelType,
			},
		},
		Timestamp: slackTimestampMillis(ev.TimeStamp),
	}
}

// slackTimestampMillis converts a Slack "seconds.fraction" timestamp to
// milliseconds, falling back to receipt time when unparsable.
func slackTimestampMillis(ts string) int64 {
	f, err := strconv.ParseFloat(ts, 64)
	if err != nil || f <= 0 {
		return message.Now()
	}
	return int64(f * 1000)
}
