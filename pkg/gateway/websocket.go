package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/time/rate"

	"github.com/omnirelay/omnirelay/pkg/hub"
)

// wsConn adapts a websocket connection to the hub's transport interface.
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) WriteFrame(ctx context.Context, f hub.Frame) error {
	return wsjson.Write(ctx, c.conn, f)
}

func (c *wsConn) Close(code websocket.StatusCode, reason string) error {
	return c.conn.Close(code, reason)
}

func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		g.logger.Error("websocket accept failed", slog.String("err", err.Error()))
		return
	}
	defer conn.CloseNow()

	wc := &wsConn{conn: conn}
	connID := g.hub.Connect(wc)
	defer g.hub.Disconnect(wc)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Protocol frames are small and infrequent; anything chattier than
	// this is a misbehaving client.
	limiter := rate.NewLimiter(rate.Limit(20), 40)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				g.logger.Info("event client disconnected", slog.String("conn_id", connID))
			} else if status != -1 || ctx.Err() == nil {
				g.logger.Debug("websocket read ended",
					slog.String("conn_id", connID),
					slog.String("err", err.Error()))
			}
			return
		}

		g.hub.UpdateLastSeen(wc)

		if !limiter.Allow() {
			conn.Close(websocket.StatusPolicyViolation, "rate limit exceeded")
			return
		}

		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &head); err != nil {
			_ = wc.WriteFrame(ctx, hub.Frame{
				Type:      hub.FrameError,
				Channel:   hub.ChannelSystem,
				Timestamp: time.Now().Unix(),
				Payload:   map[string]any{"error": "invalid frame", "code": 400},
			})
			continue
		}

		switch head.Type {
		case hub.FrameAuth:
			var f hub.AuthFrame
			if err := json.Unmarshal(data, &f); err != nil {
				continue
			}
			g.hub.Authenticate(ctx, wc, f.Token)

		case hub.FramePing:
			var f hub.PingFrame
			_ = json.Unmarshal(data, &f)
			_ = wc.WriteFrame(ctx, hub.Frame{
				Type:      hub.FramePong,
				Channel:   hub.ChannelSystem,
				Timestamp: time.Now().Unix(),
				Payload:   map[string]any{"ping_timestamp": f.Timestamp},
			})

		case hub.FrameSubscribe:
			// Any subscribe before auth closes the socket, regardless of
			// which channels were requested. A system-only request gets no
			// exemption even though system frames flow pre-auth.
			if !g.hub.IsAuthenticated(wc) {
				conn.Close(hub.StatusAuthRequired, "Authenticate first")
				return
			}
			var f hub.SubscribeFrame
			if err := json.Unmarshal(data, &f); err != nil {
				continue
			}
			g.hub.HandleSubscribe(ctx, wc, f.Channels)

		default:
			g.logger.Warn("unknown frame type",
				slog.String("conn_id", connID),
				slog.String("type", head.Type))
		}
	}
}
