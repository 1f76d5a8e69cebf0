// Package gateway exposes the HTTP surface: health, metrics, the real-time
// event channel, and the thin send/status/webhook endpoints over the core.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/omnirelay/omnirelay/pkg/adapter"
	"github.com/omnirelay/omnirelay/pkg/hub"
	"github.com/omnirelay/omnirelay/pkg/router"
	"github.com/omnirelay/omnirelay/pkg/store"
	"github.com/omnirelay/omnirelay/pkg/telemetry"
)

type Gateway struct {
	server   *http.Server
	mux      *chi.Mux
	hub      *hub.Hub
	router   *router.Router
	registry *adapter.Registry
	store    *store.Store
	logger   *slog.Logger
}

type Config struct {
	Host     string
	Port     int
	Hub      *hub.Hub
	Router   *router.Router
	Registry *adapter.Registry
	Store    *store.Store
	Logger   *slog.Logger
}

func New(cfg Config) *Gateway {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	g := &Gateway{
		mux:      r,
		hub:      cfg.Hub,
		router:   cfg.Router,
		registry: cfg.Registry,
		store:    cfg.Store,
		logger:   cfg.Logger,
	}
	g.registerRoutes()

	host := cfg.Host
	if host == "" {
		host = "0.0.0.0"
	}
	g.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return g
}

func (g *Gateway) registerRoutes() {
	g.mux.Get("/healthz", g.handleHealthz)
	g.mux.Get("/readyz", g.handleReadyz)
	g.mux.Handle("/metrics", promhttp.Handler())

	g.mux.Get("/ws/events", g.handleWebSocket)

	g.mux.Route("/api/messages", func(r chi.Router) {
		r.Post("/send", g.handleSend)
		r.Get("/recent", g.handleRecent)
		r.Get("/{id}", g.handleStatus)
	})

	g.mux.Post("/webhooks/{platform}", g.handleWebhook)
}

// Handler exposes the route tree, principally for tests.
func (g *Gateway) Handler() http.Handler { return g.mux }

func (g *Gateway) Start(ctx context.Context) error {
	logger := telemetry.FromContext(ctx)
	logger.Info("gateway listening", slog.String("addr", g.server.Addr))

	ln, err := net.Listen("tcp", g.server.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := g.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return g.shutdown()
	case err := <-errCh:
		return err
	}
}

func (g *Gateway) shutdown() error {
	g.logger.Info("gateway shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return g.server.Shutdown(ctx)
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "healthy",
		"platforms_loaded": g.registry.Count(),
		"connections":      g.hub.ConnectionCount(),
	})
}

func (g *Gateway) handleReadyz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
