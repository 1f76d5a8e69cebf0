package gateway

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/omnirelay/omnirelay/pkg/adapter"
	"github.com/omnirelay/omnirelay/pkg/router"
	"github.com/omnirelay/omnirelay/pkg/store"
)

type sendRequest struct {
	Platform         string `json:"platform"`
	To               string `json:"to"`
	MessageType      string `json:"message_type"`
	Content          string `json:"content"`
	ConversationType string `json:"conversation_type"`
	TimeoutSeconds   int    `json:"timeout_seconds"`
}

type apiResponse struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func (g *Gateway) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Platform == "" || req.To == "" || req.Content == "" {
		writeAPIError(w, http.StatusBadRequest, "platform, to, and content are required")
		return
	}

	timeout := router.DefaultSendTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}

	requestID := router.NewMessageID()
	g.recordOutbound(r.Context(), requestID, req)

	platformID, err := g.router.SendAndWait(r.Context(), router.Request{
		Platform:         req.Platform,
		To:               req.To,
		MessageType:      req.MessageType,
		Content:          req.Content,
		ConversationType: req.ConversationType,
	}, timeout)
	if err != nil {
		g.markOutbound(r.Context(), requestID, "", store.SendFailed, err.Error())
		switch {
		case errors.Is(err, adapter.ErrNotLoaded):
			writeAPIError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, router.ErrSendTimeout):
			writeAPIError(w, http.StatusGatewayTimeout, err.Error())
		default:
			writeAPIError(w, http.StatusBadGateway, err.Error())
		}
		return
	}

	g.markOutbound(r.Context(), requestID, platformID, store.SendOK, "")
	writeJSON(w, http.StatusOK, apiResponse{
		Code:    0,
		Message: "success",
		Data: map[string]string{
			"request_id": requestID,
			"message_id": platformID,
		},
		Timestamp: time.Now().Unix(),
	})
}

func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	if g.store == nil {
		writeAPIError(w, http.StatusNotImplemented, "message archive disabled")
		return
	}
	send, err := g.store.GetOutbound(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeAPIError(w, http.StatusNotFound, "unknown message id")
			return
		}
		writeAPIError(w, http.StatusInternalServerError, "archive lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{
		Code:    0,
		Message: "success",
		Data: map[string]any{
			"request_id":          send.ID,
			"platform":            send.Platform,
			"platform_message_id": send.PlatformMessageID,
			"status":              send.Status,
			"error":               send.Error,
		},
		Timestamp: time.Now().Unix(),
	})
}

func (g *Gateway) handleRecent(w http.ResponseWriter, r *http.Request) {
	if g.store == nil {
		writeAPIError(w, http.StatusNotImplemented, "message archive disabled")
		return
	}
	platform := r.URL.Query().Get("platform")
	if platform == "" {
		writeAPIError(w, http.StatusBadRequest, "platform is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	msgs, err := g.store.RecentInbound(r.Context(), platform, limit)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "archive lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{
		Code:      0,
		Message:   "success",
		Data:      map[string]any{"messages": msgs},
		Timestamp: time.Now().Unix(),
	})
}

// handleWebhook forwards a platform callback body to the adapter's own
// event-to-canonical path.
func (g *Gateway) handleWebhook(w http.ResponseWriter, r *http.Request) {
	platform := chi.URLParam(r, "platform")
	inst, err := g.registry.Get(platform)
	if err != nil {
		writeAPIError(w, http.StatusNotFound, err.Error())
		return
	}
	receiver, ok := inst.(adapter.WebhookReceiver)
	if !ok {
		writeAPIError(w, http.StatusNotImplemented, "platform does not accept webhooks")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "reading body failed")
		return
	}
	if err := receiver.HandleWebhook(r.Context(), body); err != nil {
		g.logger.Error("webhook ingest failed",
			slog.String("platform", platform),
			slog.String("err", err.Error()))
		writeAPIError(w, http.StatusBadRequest, "webhook rejected")
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Code: 0, Message: "success", Timestamp: time.Now().Unix()})
}

func (g *Gateway) recordOutbound(ctx context.Context, id string, req sendRequest) {
	if g.store == nil {
		return
	}
	if err := g.store.RecordOutbound(ctx, &store.OutboundSend{
		ID:               id,
		Platform:         req.Platform,
		Recipient:        req.To,
		MessageType:      req.MessageType,
		ConversationType: req.ConversationType,
		Status:           store.SendPending,
	}); err != nil {
		g.logger.Warn("recording outbound send failed", slog.String("err", err.Error()))
	}
}

func (g *Gateway) markOutbound(ctx context.Context, id, platformID, status, errMsg string) {
	if g.store == nil {
		return
	}
	if err := g.store.MarkOutbound(ctx, id, platformID, status, errMsg); err != nil {
		g.logger.Warn("updating outbound send failed", slog.String("err", err.Error()))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiResponse{
		Code:      status,
		Message:   msg,
		Timestamp: time.Now().Unix(),
	})
}
