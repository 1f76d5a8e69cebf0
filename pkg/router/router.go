// Package router translates outbound send requests into calls on the correct
// live adapter, with deadline and request-id bookkeeping.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/omnirelay/omnirelay/pkg/adapter"
	"github.com/omnirelay/omnirelay/pkg/message"
	"github.com/omnirelay/omnirelay/pkg/telemetry"
)

// ErrSendTimeout is returned when the client-side deadline elapses before the
// adapter call completes. The underlying send is not guaranteed to be
// cancelled: the platform transport may still complete asynchronously.
var ErrSendTimeout = errors.New("send timed out")

const DefaultSendTimeout = 30 * time.Second

// Request describes one outbound send.
type Request struct {
	Platform         string
	To               string
	MessageType      string
	Content          string
	ConversationType string
}

func (r *Request) normalize() {
	if r.MessageType == "" {
		r.MessageType = message.ContentText
	}
	if r.ConversationType == "" {
		r.ConversationType = message.ConversationUser
	}
}

type Router struct {
	registry *adapter.Registry
	logger   *slog.Logger
}

func New(registry *adapter.Registry, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{registry: registry, logger: logger}
}

// RouteOutgoing looks up the live adapter for the request's platform and
// delegates to its SendMessage, propagating any transport error unchanged.
// Returns the platform-issued message id.
func (r *Router) RouteOutgoing(ctx context.Context, req Request) (string, error) {
	req.normalize()

	ctx, span := telemetry.StartSpan(ctx, "router.RouteOutgoing",
		attribute.String("platform", req.Platform),
		attribute.String("conversation_type", req.ConversationType))
	defer span.End()

	inst, err := r.registry.Get(req.Platform)
	if err != nil {
		telemetry.Metrics.OutboundSends.WithLabelValues(req.Platform, "not_loaded").Inc()
		return "", err
	}

	start := time.Now()
	id, err := inst.SendMessage(ctx, req.To, req.MessageType, req.Content, req.ConversationType)
	telemetry.Metrics.SendDuration.WithLabelValues(req.Platform).Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.Metrics.OutboundSends.WithLabelValues(req.Platform, "error").Inc()
		r.logger.Error("outbound send failed",
			slog.String("platform", req.Platform),
			slog.String("err", err.Error()))
		return "", err
	}

	telemetry.Metrics.OutboundSends.WithLabelValues(req.Platform, "ok").Inc()
	r.logger.Info("message sent",
		slog.String("platform", req.Platform),
		slog.String("message_id", id))
	return id, nil
}

// SendAndWait wraps RouteOutgoing with a client-side deadline. This is a
// best-effort deadline, not a cancellation guarantee.
func (r *Router) SendAndWait(ctx context.Context, req Request, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	id, err := r.RouteOutgoing(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			telemetry.Metrics.OutboundSends.WithLabelValues(req.Platform, "timeout").Inc()
			return "", fmt.Errorf("%w after %s", ErrSendTimeout, timeout)
		}
		return "", err
	}
	return id, nil
}

// NewMessageID generates a collision-resistant opaque identifier for
// router-level bookkeeping, distinct from platform-issued message ids.
func NewMessageID() string {
	return "msg_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
