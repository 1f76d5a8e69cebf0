// Package hub manages live event-stream subscriber connections:
// authentication, channel subscription, broadcast, and staleness reaping.
package hub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/omnirelay/omnirelay/pkg/auth"
	"github.com/omnirelay/omnirelay/pkg/telemetry"
)

// Conn is one live subscriber session's transport. The gateway wraps the
// real websocket; tests substitute fakes.
type Conn interface {
	WriteFrame(ctx context.Context, f Frame) error
	Close(code websocket.StatusCode, reason string) error
}

type connState struct {
	id            string
	authenticated bool
	lastSeen      time.Time
	channels      map[string]struct{}
}

// Hub owns the connection and subscription maps. Every state transition
// happens under one lock, so connect/disconnect/subscribe are atomic with
// respect to broadcast: iteration always observes a consistent snapshot of
// the subscriber set taken at the instant it begins.
type Hub struct {
	logger      *slog.Logger
	sendTimeout time.Duration

	mu        sync.RWMutex
	conns     map[Conn]*connState
	validator auth.Validator
	nextID    uint64
}

func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:      logger,
		sendTimeout: 5 * time.Second,
		conns:       make(map[Conn]*connState),
	}
}

// SetValidator swaps the token validator; called whenever a configuration
// reload changes the auth credentials.
func (h *Hub) SetValidator(v auth.Validator) {
	h.mu.Lock()
	h.validator = v
	h.mu.Unlock()
	h.logger.Info("event hub auth validator updated")
}

// Connect accepts a connection, assigns its ephemeral identity, and starts it
// in the unauthenticated state. A new connect always yields a new identity;
// connections are never resurrected.
func (h *Hub) Connect(conn Conn) string {
	h.mu.Lock()
	h.nextID++
	id := fmt.Sprintf("ws_user_%d", h.nextID)
	h.conns[conn] = &connState{
		id:       id,
		lastSeen: time.Now(),
		channels: make(map[string]struct{}),
	}
	total := len(h.conns)
	h.mu.Unlock()

	telemetry.Metrics.ActiveConnections.Set(float64(total))
	h.logger.Info("event connection opened", slog.String("conn_id", id))
	return id
}

// Disconnect removes the connection record and every one of its subscription
// entries as one atomic step with respect to in-flight broadcasts.
func (h *Hub) Disconnect(conn Conn) {
	h.mu.Lock()
	st, ok := h.conns[conn]
	if ok {
		delete(h.conns, conn)
	}
	total := len(h.conns)
	h.mu.Unlock()

	if !ok {
		return
	}
	telemetry.Metrics.ActiveConnections.Set(float64(total))
	h.logger.Info("event connection closed", slog.String("conn_id", st.id))
}

// UpdateLastSeen refreshes the staleness clock; called for every inbound
// frame regardless of type.
func (h *Hub) UpdateLastSeen(conn Conn) {
	h.mu.Lock()
	if st, ok := h.conns[conn]; ok {
		st.lastSeen = time.Now()
	}
	h.mu.Unlock()
}

// ConnectionID returns the ephemeral identity assigned at Connect.
func (h *Hub) ConnectionID(conn Conn) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st, ok := h.conns[conn]
	if !ok {
		return "", false
	}
	return st.id, true
}

func (h *Hub) IsAuthenticated(conn Conn) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st, ok := h.conns[conn]
	return ok && st.authenticated
}

// Authenticate checks the presented token against the active validator. On
// match the connection transitions to authenticated and receives an auth_ack
// frame; on mismatch it receives an error frame and its state is unchanged —
// a bad token alone never closes the connection.
func (h *Hub) Authenticate(ctx context.Context, conn Conn, token string) bool {
	h.mu.Lock()
	st, ok := h.conns[conn]
	validator := h.validator
	if ok && validator != nil && validator.Validate(token) {
		st.authenticated = true
		id := st.id
		h.mu.Unlock()

		telemetry.Metrics.AuthAttempts.WithLabelValues("ok").Inc()
		h.send(ctx, conn, Frame{
			Type:    FrameAuthAck,
			Channel: ChannelSystem,
			Payload: map[string]any{"user_id": id, "status": "authenticated"},
		})
		h.logger.Info("event connection authenticated", slog.String("conn_id", id))
		return true
	}
	h.mu.Unlock()

	telemetry.Metrics.AuthAttempts.WithLabelValues("rejected").Inc()
	h.send(ctx, conn, Frame{
		Type:    FrameError,
		Channel: ChannelSystem,
		Payload: map[string]any{"error": "Invalid token", "code": 401},
	})
	return false
}

// Subscribe adds the connection to the named channel's subscriber set.
// Authentication is enforced by the caller before invoking this, not here.
func (h *Hub) Subscribe(conn Conn, channel string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.conns[conn]
	if !ok {
		return false
	}
	st.channels[channel] = struct{}{}
	h.logger.Debug("subscribed",
		slog.String("conn_id", st.id),
		slog.String("channel", channel))
	return true
}

func (h *Hub) Unsubscribe(conn Conn, channel string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.conns[conn]
	if !ok {
		return false
	}
	if _, subscribed := st.channels[channel]; !subscribed {
		return false
	}
	delete(st.channels, channel)
	return true
}

// HandleSubscribe subscribes the connection to every requested channel and
// acknowledges with a subscribed event on the system channel.
func (h *Hub) HandleSubscribe(ctx context.Context, conn Conn, channels []string) {
	for _, ch := range channels {
		h.Subscribe(conn, ch)
	}
	h.send(ctx, conn, Frame{
		Type:    FrameEvent,
		Channel: ChannelSystem,
		Payload: map[string]any{"event": "subscribed", "channels": channels},
	})
}

// Broadcast delivers a frame to the wildcard audience (every live connection)
// or to the named channel's current subscriber set. A delivery failure
// force-disconnects that connection and delivery continues to the rest.
// Returns the count of successful deliveries.
func (h *Hub) Broadcast(ctx context.Context, f Frame, channel string) int {
	if f.Channel == "" {
		f.Channel = channel
	}

	h.mu.RLock()
	targets := make([]Conn, 0, len(h.conns))
	for conn, st := range h.conns {
		if channel == ChannelWildcard {
			targets = append(targets, conn)
			continue
		}
		if _, ok := st.channels[channel]; ok {
			targets = append(targets, conn)
		}
	}
	h.mu.RUnlock()

	telemetry.Metrics.BroadcastsTotal.WithLabelValues(channel).Inc()

	sent := 0
	var failed []Conn
	for _, conn := range targets {
		if err := h.write(ctx, conn, f); err != nil {
			h.logger.Warn("broadcast delivery failed, dropping connection",
				slog.String("channel", channel),
				slog.String("err", err.Error()))
			telemetry.Metrics.DeliveriesTotal.WithLabelValues("error").Inc()
			failed = append(failed, conn)
			continue
		}
		telemetry.Metrics.DeliveriesTotal.WithLabelValues("ok").Inc()
		sent++
	}

	// Half-dead sockets heal themselves out of the set.
	for _, conn := range failed {
		_ = conn.Close(websocket.StatusNormalClosure, "delivery failed")
		h.Disconnect(conn)
	}

	if sent > 0 {
		h.logger.Debug("broadcast delivered",
			slog.String("channel", channel),
			slog.Int("count", sent))
	}
	return sent
}

// PruneStale closes and removes every connection whose last activity is older
// than timeout. Returns the number pruned.
func (h *Hub) PruneStale(ctx context.Context, timeout time.Duration) int {
	now := time.Now()

	h.mu.RLock()
	var stale []Conn
	for conn, st := range h.conns {
		if now.Sub(st.lastSeen) > timeout {
			stale = append(stale, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range stale {
		if id, ok := h.ConnectionID(conn); ok {
			h.logger.Warn("pruning stale event connection", slog.String("conn_id", id))
		}
		_ = conn.Close(websocket.StatusNormalClosure, "stale connection")
		h.Disconnect(conn)
		telemetry.Metrics.PrunedConnections.Inc()
	}
	return len(stale)
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// SubscriberCount reports how many live connections are subscribed to the
// named channel.
func (h *Hub) SubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, st := range h.conns {
		if _, ok := st.channels[channel]; ok {
			count++
		}
	}
	return count
}

// send writes a frame to one connection; a failed write force-disconnects it.
func (h *Hub) send(ctx context.Context, conn Conn, f Frame) {
	if err := h.write(ctx, conn, f); err != nil {
		h.logger.Error("frame send failed", slog.String("err", err.Error()))
		_ = conn.Close(websocket.StatusNormalClosure, "send failed")
		h.Disconnect(conn)
	}
}

func (h *Hub) write(ctx context.Context, conn Conn, f Frame) error {
	if f.Timestamp == 0 {
		f.Timestamp = time.Now().Unix()
	}
	ctx, cancel := context.WithTimeout(ctx, h.sendTimeout)
	defer cancel()
	return conn.WriteFrame(ctx, f)
}
