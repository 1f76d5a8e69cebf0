package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/omnirelay/omnirelay/pkg/adapter"
	"github.com/omnirelay/omnirelay/pkg/auth"
	"github.com/omnirelay/omnirelay/pkg/config"
	"github.com/omnirelay/omnirelay/pkg/hub"
	"github.com/omnirelay/omnirelay/pkg/router"
	"github.com/omnirelay/omnirelay/pkg/store"
)

type stubAdapter struct {
	name    string
	sendID  string
	sendErr error
	handler adapter.Handler

	webhookBodies [][]byte
}

func (a *stubAdapter) Name() string { return a.name }
func (a *stubAdapter) Initialize(context.Context) error { return nil }
func (a *stubAdapter) Shutdown(context.Context) error { return nil }
func (a *stubAdapter) HealthCheck(context.Context) bool { return true }
func (a *stubAdapter) SetMessageHandler(h adapter.Handler) {
	a.handler = h
}

func (a *stubAdapter) SendMessage(ctx context.Context, to, messageType, content, conversationType string) (string, error) {
	return a.sendID, a.sendErr
}

func (a *stubAdapter) HandleWebhook(ctx context.Context, body []byte) error {
	a.webhookBodies = append(a.webhookBodies, body)
	return nil
}

// plainAdapter has no webhook support.
type plainAdapter struct {
	name string
}

func (a *plainAdapter) Name() string { return a.name }
func (a *plainAdapter) Initialize(context.Context) error { return nil }
func (a *plainAdapter) Shutdown(context.Context) error { return nil }
func (a *plainAdapter) HealthCheck(context.Context) bool { return true }
func (a *plainAdapter) SetMessageHandler(adapter.Handler) {}
func (a *plainAdapter) SendMessage(ctx context.Context, to, messageType, content, conversationType string) (string, error) {
	return "", nil
}

func newTestGateway(t *testing.T, stubs ...adapter.Adapter) (*Gateway, *hub.Hub, *store.Store) {
	t.Helper()

	reg := adapter.NewRegistry(nil)
	configs := make(map[string]config.PlatformConfig)
	for _, s := range stubs {
		stub := s
		reg.Register(stub.Name(), func(config.PlatformConfig) (adapter.Adapter, error) {
			return stub, nil
		})
		configs[stub.Name()] = config.PlatformConfig{Enabled: true}
	}
	reg.LoadAll(context.Background(), configs)

	h := hub.New(nil)
	h.SetValidator(auth.NewFixedTokenValidator("test-token"))

	st, err := store.New(filepath.Join(t.TempDir(), "gw.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	g := New(Config{
		Hub:      h,
		Router:   router.New(reg, nil),
		Registry: reg,
		Store:    st,
	})
	return g, h, st
}

func postJSON(t *testing.T, srv *httptest.Server, path string, body any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeAPI(t *testing.T, resp *http.Response) apiResponse {
	t.Helper()
	defer resp.Body.Close()
	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return out
}

func TestHealthz(t *testing.T) {
	g, _, _ := newTestGateway(t, &stubAdapter{name: "telegram", sendID: "1"})
	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", body["status"])
	}
	if body["platforms_loaded"] != float64(1) {
		t.Errorf("platforms_loaded = %v, want 1", body["platforms_loaded"])
	}
}

func TestSendSuccess(t *testing.T) {
	g, _, st := newTestGateway(t, &stubAdapter{name: "telegram", sendID: "tg-55"})
	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	resp := postJSON(t, srv, "/api/messages/send", map[string]any{
		"platform": "telegram",
		"to":       "12345",
		"content":  "hello",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	out := decodeAPI(t, resp)
	data, ok := out.Data.(map[string]any)
	if !ok {
		t.Fatalf("Data = %T, want object", out.Data)
	}
	if data["message_id"] != "tg-55" {
		t.Errorf("message_id = %v, want tg-55", data["message_id"])
	}
	requestID, _ := data["request_id"].(string)
	if requestID == "" {
		t.Fatal("request_id missing")
	}

	send, err := st.GetOutbound(context.Background(), requestID)
	if err != nil {
		t.Fatalf("GetOutbound: %v", err)
	}
	if send.Status != store.SendOK {
		t.Errorf("archived status = %q, want %q", send.Status, store.SendOK)
	}
	if send.PlatformMessageID != "tg-55" {
		t.Errorf("archived platform id = %q, want tg-55", send.PlatformMessageID)
	}
}

func TestSendUnknownPlatform(t *testing.T) {
	g, _, _ := newTestGateway(t)
	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	resp := postJSON(t, srv, "/api/messages/send", map[string]any{
		"platform": "discord",
		"to":       "u1",
		"content":  "x",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSendAdapterError(t *testing.T) {
	g, _, _ := newTestGateway(t, &stubAdapter{name: "telegram", sendErr: errors.New("flood wait")})
	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	resp := postJSON(t, srv, "/api/messages/send", map[string]any{
		"platform": "telegram",
		"to":       "1",
		"content":  "x",
	})
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSendValidation(t *testing.T) {
	g, _, _ := newTestGateway(t)
	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	resp := postJSON(t, srv, "/api/messages/send", map[string]any{"platform": "telegram"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestStatusUnknownID(t *testing.T) {
	g, _, _ := newTestGateway(t)
	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/messages/msg_nope")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestRecentRequiresPlatform(t *testing.T) {
	g, _, _ := newTestGateway(t)
	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/messages/recent")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestWebhookDelivery(t *testing.T) {
	stub := &stubAdapter{name: "telegram", sendID: "1"}
	g, _, _ := newTestGateway(t, stub)
	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	resp := postJSON(t, srv, "/webhooks/telegram", map[string]any{"update_id": 1})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()
	if len(stub.webhookBodies) != 1 {
		t.Errorf("webhook bodies = %d, want 1", len(stub.webhookBodies))
	}
}

func TestWebhookUnsupportedPlatform(t *testing.T) {
	stub := &plainAdapter{}
	stub.name = "discord"
	g, _, _ := newTestGateway(t, stub)
	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	resp := postJSON(t, srv, "/webhooks/discord", map[string]any{})
	if resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", resp.StatusCode)
	}
	resp.Body.Close()
}
