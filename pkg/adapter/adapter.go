// Package adapter defines the capability contract every platform integration
// satisfies and the registry that manages adapter lifecycles.
package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/omnirelay/omnirelay/pkg/message"
)

// Handler receives every canonical message an adapter produces.
type Handler func(message.Message)

// Adapter is the capability set a platform integration must implement.
// Everything about how it talks to its platform is its own concern; only the
// canonical messages it emits and the contract below are.
type Adapter interface {
	Name() string

	// Initialize performs the platform handshake (opening a long-lived
	// socket, validating credentials). Called once per instance.
	Initialize(ctx context.Context) error

	// Shutdown releases background connections. Safe to call even when
	// Initialize never fully succeeded.
	Shutdown(ctx context.Context) error

	// HealthCheck reports whether the transport is currently considered
	// live. Purely observational.
	HealthCheck(ctx context.Context) bool

	// SetMessageHandler installs the single inbound callback; later calls
	// replace the previous handler.
	SetMessageHandler(h Handler)

	// SendMessage delivers an outbound message and returns the
	// platform-issued message id. It never partially sends: either an id
	// is returned or an error, no ambiguous state.
	SendMessage(ctx context.Context, to, messageType, content, conversationType string) (string, error)
}

// WebhookReceiver is implemented by adapters that can ingest platform events
// delivered over an HTTP callback instead of their own socket.
type WebhookReceiver interface {
	HandleWebhook(ctx context.Context, body []byte) error
}

// ErrNotLoaded is returned when a platform has no live adapter instance.
var ErrNotLoaded = errors.New("adapter not loaded")

// InitError reports a failed adapter initialization. It is isolated to one
// platform: the registry logs it and leaves that platform out of the live set.
type InitError struct {
	Platform string
	Err      error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("adapter %s: initialize: %v", e.Platform, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }
