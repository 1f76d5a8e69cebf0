package gateway

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/omnirelay/omnirelay/pkg/hub"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events"
}

func dialEvents(t *testing.T, ctx context.Context, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, wsURL(srv), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	return conn
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) hub.Frame {
	t.Helper()
	var f hub.Frame
	if err := wsjson.Read(ctx, conn, &f); err != nil {
		t.Fatalf("reading frame: %v", err)
	}
	return f
}

func authenticate(t *testing.T, ctx context.Context, conn *websocket.Conn, token string) hub.Frame {
	t.Helper()
	if err := wsjson.Write(ctx, conn, hub.AuthFrame{Type: hub.FrameAuth, Token: token}); err != nil {
		t.Fatalf("writing auth frame: %v", err)
	}
	return readFrame(t, ctx, conn)
}

func TestWebSocketAuthFlow(t *testing.T) {
	g, _, _ := newTestGateway(t)
	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialEvents(t, ctx, srv)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// A bad token is answered with an error frame and the socket stays up.
	f := authenticate(t, ctx, conn, "wrong-token")
	if f.Type != hub.FrameError {
		t.Fatalf("frame type = %q, want %q", f.Type, hub.FrameError)
	}
	if f.Payload["error"] != "Invalid token" {
		t.Errorf("error = %v, want Invalid token", f.Payload["error"])
	}
	if f.Payload["code"] != float64(401) {
		t.Errorf("code = %v, want 401", f.Payload["code"])
	}

	// The same connection can then authenticate successfully.
	f = authenticate(t, ctx, conn, "test-token")
	if f.Type != hub.FrameAuthAck {
		t.Fatalf("frame type = %q, want %q", f.Type, hub.FrameAuthAck)
	}
	if f.Payload["status"] != "authenticated" {
		t.Errorf("status = %v, want authenticated", f.Payload["status"])
	}
	userID, _ := f.Payload["user_id"].(string)
	if !strings.HasPrefix(userID, "ws_user_") {
		t.Errorf("user_id = %q, want ws_user_ prefix", userID)
	}
}

func TestWebSocketSubscribeAndBroadcast(t *testing.T) {
	g, h, _ := newTestGateway(t)
	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialEvents(t, ctx, srv)
	defer conn.Close(websocket.StatusNormalClosure, "")

	if f := authenticate(t, ctx, conn, "test-token"); f.Type != hub.FrameAuthAck {
		t.Fatalf("auth failed: %+v", f)
	}

	if err := wsjson.Write(ctx, conn, hub.SubscribeFrame{
		Type:     hub.FrameSubscribe,
		Channels: []string{hub.ChannelMessages},
	}); err != nil {
		t.Fatalf("writing subscribe frame: %v", err)
	}

	f := readFrame(t, ctx, conn)
	if f.Type != hub.FrameEvent || f.Payload["event"] != "subscribed" {
		t.Fatalf("frame = %+v, want subscribed event", f)
	}

	// The server-side registration is synchronous with the ack, so the
	// broadcast below must reach the subscriber.
	sent := h.Broadcast(ctx, hub.Frame{
		Type:    hub.FrameMessage,
		Payload: map[string]any{"platform": "telegram", "text": "hi"},
	}, hub.ChannelMessages)
	if sent != 1 {
		t.Fatalf("Broadcast = %d, want 1", sent)
	}

	f = readFrame(t, ctx, conn)
	if f.Type != hub.FrameMessage {
		t.Errorf("frame type = %q, want %q", f.Type, hub.FrameMessage)
	}
	if f.Channel != hub.ChannelMessages {
		t.Errorf("channel = %q, want %q", f.Channel, hub.ChannelMessages)
	}
	if f.Payload["platform"] != "telegram" {
		t.Errorf("platform = %v, want telegram", f.Payload["platform"])
	}
}

func TestWebSocketSubscribeRequiresAuth(t *testing.T) {
	g, _, _ := newTestGateway(t)
	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialEvents(t, ctx, srv)
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := wsjson.Write(ctx, conn, hub.SubscribeFrame{
		Type:     hub.FrameSubscribe,
		Channels: []string{hub.ChannelMessages},
	}); err != nil {
		t.Fatalf("writing subscribe frame: %v", err)
	}

	var f hub.Frame
	err := wsjson.Read(ctx, conn, &f)
	if err == nil {
		t.Fatal("read succeeded, want policy close")
	}
	if status := websocket.CloseStatus(err); status != hub.StatusAuthRequired {
		t.Errorf("close status = %d, want %d", status, hub.StatusAuthRequired)
	}
}

func TestWebSocketPing(t *testing.T) {
	g, _, _ := newTestGateway(t)
	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialEvents(t, ctx, srv)
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := wsjson.Write(ctx, conn, hub.PingFrame{Type: hub.FramePing, Timestamp: 123456}); err != nil {
		t.Fatalf("writing ping frame: %v", err)
	}

	f := readFrame(t, ctx, conn)
	if f.Type != hub.FramePong {
		t.Errorf("frame type = %q, want %q", f.Type, hub.FramePong)
	}
	if f.Payload["ping_timestamp"] != float64(123456) {
		t.Errorf("ping_timestamp = %v, want 123456", f.Payload["ping_timestamp"])
	}
}

func TestWebSocketInvalidFrame(t *testing.T) {
	g, _, _ := newTestGateway(t)
	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialEvents(t, ctx, srv)
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := conn.Write(ctx, websocket.MessageText, []byte("not json")); err != nil {
		t.Fatalf("writing raw frame: %v", err)
	}

	f := readFrame(t, ctx, conn)
	if f.Type != hub.FrameError {
		t.Errorf("frame type = %q, want %q", f.Type, hub.FrameError)
	}

	// The connection survives a malformed frame.
	if err := wsjson.Write(ctx, conn, hub.PingFrame{Type: hub.FramePing}); err != nil {
		t.Fatalf("writing ping after invalid frame: %v", err)
	}
	if f := readFrame(t, ctx, conn); f.Type != hub.FramePong {
		t.Errorf("frame type = %q, want %q", f.Type, hub.FramePong)
	}
}

func TestWebSocketUnknownFrameType(t *testing.T) {
	g, _, _ := newTestGateway(t)
	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialEvents(t, ctx, srv)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Valid JSON with an unrecognized type is logged and ignored; the
	// connection stays up.
	if err := wsjson.Write(ctx, conn, map[string]string{"type": "bogus"}); err != nil {
		t.Fatalf("writing unknown frame: %v", err)
	}

	if err := wsjson.Write(ctx, conn, hub.PingFrame{Type: hub.FramePing, Timestamp: 42}); err != nil {
		t.Fatalf("writing ping after unknown frame: %v", err)
	}
	f := readFrame(t, ctx, conn)
	if f.Type != hub.FramePong {
		t.Errorf("frame type = %q, want %q", f.Type, hub.FramePong)
	}
	if f.Payload["ping_timestamp"] != float64(42) {
		t.Errorf("ping_timestamp = %v, want 42", f.Payload["ping_timestamp"])
	}
}
