// Package app assembles the hub's components into one explicit application
// context: configuration, adapter registry, router, event hub, archive, and
// gateway. Nothing in the process reaches for global singletons; everything
// hangs off the App constructed at startup.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/omnirelay/omnirelay/pkg/adapter"
	"github.com/omnirelay/omnirelay/pkg/adapter/discord"
	"github.com/omnirelay/omnirelay/pkg/adapter/slack"
	"github.com/omnirelay/omnirelay/pkg/adapter/telegram"
	"github.com/omnirelay/omnirelay/pkg/auth"
	"github.com/omnirelay/omnirelay/pkg/config"
	"github.com/omnirelay/omnirelay/pkg/gateway"
	"github.com/omnirelay/omnirelay/pkg/hub"
	"github.com/omnirelay/omnirelay/pkg/message"
	"github.com/omnirelay/omnirelay/pkg/router"
	"github.com/omnirelay/omnirelay/pkg/store"
	"github.com/omnirelay/omnirelay/pkg/telemetry"
)

const (
	configWatchInterval = 5 * time.Second
	prunePeriod         = 30 * time.Second
	staleTimeout        = 90 * time.Second
)

type App struct {
	Config   *config.Manager
	Registry *adapter.Registry
	Router   *router.Router
	Hub      *hub.Hub
	Store    *store.Store
	Gateway  *gateway.Gateway

	logger *slog.Logger
}

// New assembles the application around an already-loaded configuration
// manager. The caller owns the initial Load so the document is parsed once.
func New(manager *config.Manager, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := manager.Current()

	validator, err := auth.FromConfig(cfg.Auth)
	if err != nil {
		return nil, err
	}

	eventHub := hub.New(logger)
	eventHub.SetValidator(validator)

	registry := adapter.NewRegistry(logger)
	registry.Register("telegram", telegram.New)
	registry.Register("discord", discord.New)
	registry.Register("slack", slack.New)

	msgRouter := router.New(registry, logger)

	archive, err := store.New(cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening message archive: %w", err)
	}

	a := &App{
		Config:   manager,
		Registry: registry,
		Router:   msgRouter,
		Hub:      eventHub,
		Store:    archive,
		logger:   logger,
	}

	a.Gateway = gateway.New(gateway.Config{
		Host:     cfg.Server.Host,
		Port:     cfg.Server.Port,
		Hub:      eventHub,
		Router:   msgRouter,
		Registry: registry,
		Store:    archive,
		Logger:   logger,
	})

	// Hot reload re-arms the event-channel credentials without dropping
	// live connections.
	manager.OnChange(func(next *config.Settings) error {
		v, err := auth.FromConfig(next.Auth)
		if err != nil {
			return err
		}
		eventHub.SetValidator(v)
		return nil
	})

	return a, nil
}

// Run loads the enabled platform adapters and serves until ctx is cancelled,
// then tears everything down.
func (a *App) Run(ctx context.Context) error {
	cfg := a.Config.Current()

	loaded := a.Registry.LoadAll(ctx, cfg.Platforms)
	enabled := len(cfg.EnabledPlatforms())
	if enabled == 0 {
		a.logger.Warn("no platforms enabled in configuration")
	} else {
		a.logger.Info("platforms loaded",
			slog.Int("loaded", loaded),
			slog.Int("enabled", enabled))
	}
	a.Registry.SetMessageHandler(a.handleInbound(ctx))

	go func() {
		_ = a.Config.Watch(ctx, configWatchInterval)
	}()
	go a.pruneLoop(ctx)

	err := a.Gateway.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if uerr := a.Registry.UnloadAll(shutdownCtx); uerr != nil {
		a.logger.Error("adapter shutdown reported errors", slog.String("err", uerr.Error()))
	}
	if cerr := a.Store.Close(); cerr != nil {
		a.logger.Error("closing message archive", slog.String("err", cerr.Error()))
	}
	return err
}

// handleInbound is the single message handler installed on every adapter:
// archive the canonical message, then fan it out to event subscribers.
func (a *App) handleInbound(ctx context.Context) adapter.Handler {
	return func(msg message.Message) {
		if err := msg.Validate(); err != nil {
			a.logger.Warn("dropping malformed canonical message",
				slog.String("platform", msg.Platform),
				slog.String("err", err.Error()))
			return
		}

		telemetry.Metrics.InboundMessages.WithLabelValues(msg.Platform).Inc()
		a.logger.Info("message received",
			slog.String("platform", msg.Platform),
			slog.String("message_id", msg.MessageID),
			slog.String("sender", msg.Sender.ID),
			slog.String("conversation", msg.Conversation.Type+":"+msg.Conversation.ID))

		if err := a.Store.RecordInbound(ctx, msg); err != nil {
			a.logger.Warn("archiving inbound message failed", slog.String("err", err.Error()))
		}

		a.Hub.Broadcast(ctx, hub.Frame{
			Type:    hub.FrameMessage,
			Channel: hub.ChannelMessages,
			Payload: map[string]any{
				"platform":     msg.Platform,
				"message_id":   msg.MessageID,
				"sender":       msg.Sender,
				"conversation": msg.Conversation,
				"content":      msg.Content,
				"timestamp":    msg.Timestamp,
			},
		}, hub.ChannelMessages)
	}
}

func (a *App) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(prunePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.Hub.PruneStale(ctx, staleTimeout); n > 0 {
				a.logger.Info("pruned stale connections", slog.Int("count", n))
			}
		}
	}
}
