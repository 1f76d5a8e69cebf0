package hub

import "github.com/coder/websocket"

// Client-originated frame types.
const (
	FrameAuth      = "auth"
	FramePing      = "ping"
	FrameSubscribe = "subscribe"
)

// Server-originated frame types.
const (
	FrameAuthAck = "auth_ack"
	FramePong    = "pong"
	FrameEvent   = "event"
	FrameError   = "error"
	FrameMessage = "message"
)

// Well-known channels. Wildcard broadcasts reach every live connection
// regardless of subscriptions.
const (
	ChannelSystem   = "system"
	ChannelMessages = "messages"
	ChannelWildcard = "*"
)

// StatusAuthRequired is the policy close code sent when an unauthenticated
// connection tries to subscribe.
const StatusAuthRequired websocket.StatusCode = 4008

// Frame is one event-channel message in either direction.
type Frame struct {
	Type      string         `json:"type"`
	Channel   string         `json:"channel,omitempty"`
	Timestamp int64          `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// AuthFrame is the client authentication request.
type AuthFrame struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// SubscribeFrame is the client channel-subscription request.
type SubscribeFrame struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels"`
}

// PingFrame is the client liveness probe.
type PingFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}
