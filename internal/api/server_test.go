package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/wificontrol/wificontrol-pro/internal/domain"
	"github.com/wificontrol/wificontrol-pro/internal/service"
	"github.com/wificontrol/wificontrol-pro/pkg/config"
)

const (
	testSecret      = "test-jwt-secret"
	testVerifyToken = "verify-me"
)

type stubProcessor struct {
	mu   sync.Mutex
	msgs []domain.InboundMessage
	ctxs []bool
}

func (p *stubProcessor) Handle(ctx context.Context, msg domain.InboundMessage) *domain.CommandLog {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, hasDeadline := ctx.Deadline()
	p.msgs = append(p.msgs, msg)
	p.ctxs = append(p.ctxs, hasDeadline)
	return &domain.CommandLog{}
}

func (p *stubProcessor) handled() []domain.InboundMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.InboundMessage(nil), p.msgs...)
}

type stubBilling struct {
	req service.RechargeRequest
	err error
}

func (b *stubBilling) Recharge(ctx context.Context, req service.RechargeRequest) (*service.RechargeResult, error) {
	b.req = req
	if b.err != nil {
		return nil, b.err
	}
	return &service.RechargeResult{Success: true, Message: "ok", TransactionID: uuid.New(), PointsEarned: 200, Credits: 20}, nil
}

type stubCommands struct{ limit int }

func (s *stubCommands) ListRecent(ctx context.Context, limit int) ([]*domain.CommandLog, error) {
	s.limit = limit
	return []*domain.CommandLog{}, nil
}

type testServer struct {
	*Server
	processor *stubProcessor
	billing   *stubBilling
	commands  *stubCommands
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	cfg := &config.Config{
		Env:                 "test",
		WhatsAppMode:        config.WhatsAppModeCloud,
		WhatsAppVerifyToken: testVerifyToken,
		ProcessTimeout:      time.Second,
	}
	if mutate != nil {
		mutate(cfg)
	}
	ts := &testServer{
		processor: &stubProcessor{},
		billing:   &stubBilling{},
		commands:  &stubCommands{},
	}
	ts.Server = NewServer(cfg, Dependencies{
		Processor: ts.processor,
		Billing:   ts.billing,
		Auth:      service.NewAuthService(testSecret),
		Commands:  ts.commands,
	})
	return ts
}

func operatorToken(t *testing.T) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, service.JWTClaims{
		Email: "ops@wificontrol.com.br",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "operator-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	s, err := tok.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func do(t *testing.T, s *Server, req *http.Request) (int, string) {
	t.Helper()
	resp, err := s.app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

const textDelivery = `{"object":"whatsapp_business_account","entry":[{"changes":[{"value":{"messages":[
	{"from":"5511987654321","id":"wamid.A1","timestamp":"1700000000","type":"text","text":{"body":"Quero mudar minha senha para 12345678"}}]}}]}]}`

func TestWebhookVerify(t *testing.T) {
	s := newTestServer(t, nil)

	cases := []struct {
		name   string
		query  string
		status int
		body   string
	}{
		{"accepted", "hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=1158201444", 200, "1158201444"},
		{"wrong token", "hub.mode=subscribe&hub.verify_token=nope&hub.challenge=1", 403, ""},
		{"wrong mode", "hub.mode=unsubscribe&hub.verify_token=verify-me&hub.challenge=1", 403, ""},
		{"missing token", "hub.mode=subscribe&hub.challenge=1", 400, ""},
		{"missing mode", "hub.verify_token=verify-me&hub.challenge=1", 400, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/whatsapp/webhook?"+tc.query, nil)
			status, body := do(t, s.Server, req)
			if status != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, status)
			}
			if tc.body != "" && body != tc.body {
				t.Errorf("expected challenge %q echoed, got %q", tc.body, body)
			}
		})
	}
}

func TestWebhookVerify_NoConfiguredToken(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.WhatsAppVerifyToken = "" })
	req := httptest.NewRequest(http.MethodGet, "/api/whatsapp/webhook?hub.mode=subscribe&hub.verify_token=x&hub.challenge=1", nil)
	if status, _ := do(t, s.Server, req); status != 403 {
		t.Errorf("expected 403 without a configured token, got %d", status)
	}
}

func TestWebhookDelivery_DispatchesMessage(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/whatsapp/webhook", strings.NewReader(textDelivery))
	req.Header.Set("Content-Type", "application/json")

	if status, _ := do(t, s.Server, req); status != 200 {
		t.Fatalf("expected 200, got %d", status)
	}
	s.Wait()

	msgs := s.processor.handled()
	if len(msgs) != 1 {
		t.Fatalf("expected one dispatched message, got %d", len(msgs))
	}
	if msgs[0].ID != "wamid.A1" || msgs[0].Sender != "5511987654321" || !strings.Contains(msgs[0].Text, "12345678") {
		t.Errorf("unexpected message %+v", msgs[0])
	}
	if !s.processor.ctxs[0] {
		t.Error("processing should run on a bounded context")
	}
}

func TestWebhookDelivery_AcknowledgesNonMessageEvents(t *testing.T) {
	s := newTestServer(t, nil)
	status := `{"object":"whatsapp_business_account","entry":[{"changes":[{"value":{"statuses":[{"id":"wamid.X","status":"read"}]}}]}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/whatsapp/webhook", strings.NewReader(status))

	if code, _ := do(t, s.Server, req); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
	s.Wait()
	if n := len(s.processor.handled()); n != 0 {
		t.Errorf("status updates must not be processed, got %d", n)
	}
}

func TestWebhookDelivery_UnrecognizedPayload(t *testing.T) {
	s := newTestServer(t, nil)
	for _, body := range []string{`{}`, `not json`, `{"entry":[]}`} {
		req := httptest.NewRequest(http.MethodPost, "/api/whatsapp/webhook", strings.NewReader(body))
		if code, _ := do(t, s.Server, req); code != 404 {
			t.Errorf("body %q: expected 404, got %d", body, code)
		}
	}
	s.Wait()
	if n := len(s.processor.handled()); n != 0 {
		t.Errorf("nothing should be dispatched, got %d", n)
	}
}

func TestWebhookDelivery_Signature(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.WhatsAppAppSecret = "app-secret" })

	mac := hmac.New(sha256.New, []byte("app-secret"))
	mac.Write([]byte(textDelivery))
	good := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	for header, want := range map[string]int{"": 403, "sha256=deadbeef": 403, good: 200} {
		req := httptest.NewRequest(http.MethodPost, "/api/whatsapp/webhook", strings.NewReader(textDelivery))
		if header != "" {
			req.Header.Set(signatureHeader, header)
		}
		if code, _ := do(t, s.Server, req); code != want {
			t.Errorf("signature %q: expected %d, got %d", header, want, code)
		}
	}
	s.Wait()
	if n := len(s.processor.handled()); n != 1 {
		t.Errorf("only the signed delivery should be processed, got %d", n)
	}
}

func TestRecharge(t *testing.T) {
	s := newTestServer(t, nil)
	token := operatorToken(t)
	clientID := uuid.New()

	post := func(body, auth string) (int, string) {
		req := httptest.NewRequest(http.MethodPost, "/api/credits/recharge", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if auth != "" {
			req.Header.Set("Authorization", "Bearer "+auth)
		}
		return do(t, s.Server, req)
	}

	if code, _ := post(`{}`, ""); code != 401 {
		t.Errorf("expected 401 without token, got %d", code)
	}
	if code, _ := post(`{}`, "garbage"); code != 401 {
		t.Errorf("expected 401 with invalid token, got %d", code)
	}
	if code, _ := post(`{"planId":"basic","clientId":"nope"}`, token); code != 400 {
		t.Errorf("expected 400 for a bad client id, got %d", code)
	}

	code, body := post(`{"planId":"premium","clientId":"`+clientID.String()+`","clientName":"Ana"}`, token)
	if code != 200 {
		t.Fatalf("expected 200, got %d: %s", code, body)
	}
	if s.billing.req.ClientID != clientID || s.billing.req.PlanID != "premium" || s.billing.req.ClientName != "Ana" {
		t.Errorf("unexpected request %+v", s.billing.req)
	}
	var res service.RechargeResult
	if err := json.Unmarshal([]byte(body), &res); err != nil || !res.Success || res.PointsEarned != 200 {
		t.Errorf("unexpected response %s (%v)", body, err)
	}

	s.billing.err = service.ErrRechargeFailed
	code, body = post(`{"planId":"basic","clientId":"`+clientID.String()+`"}`, token)
	if code != 500 || !strings.Contains(body, "Erro interno ao processar recarga") {
		t.Errorf("expected 500 with generic message, got %d %s", code, body)
	}

	s.billing.err = errors.New("boom")
	if code, _ = post(`{"planId":"basic","clientId":"`+clientID.String()+`"}`, token); code != 500 {
		t.Errorf("expected 500, got %d", code)
	}
}

func TestListCommands_ClampsLimit(t *testing.T) {
	s := newTestServer(t, nil)
	token := operatorToken(t)

	for query, want := range map[string]int{"": 50, "?limit=10": 10, "?limit=5000": 200, "?limit=-1": 50} {
		req := httptest.NewRequest(http.MethodGet, "/api/commands"+query, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		if code, _ := do(t, s.Server, req); code != 200 {
			t.Fatalf("query %q: expected 200, got %d", query, code)
		}
		if s.commands.limit != want {
			t.Errorf("query %q: expected limit %d, got %d", query, want, s.commands.limit)
		}
	}
}

func TestDeviceRoutes_DisabledInCloudMode(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/whatsapp/device", nil)
	req.Header.Set("Authorization", "Bearer "+operatorToken(t))
	if code, _ := do(t, s.Server, req); code != 404 {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	code, body := do(t, s.Server, httptest.NewRequest(http.MethodGet, "/health", nil))
	if code != 200 || !strings.Contains(body, `"router_configured":false`) {
		t.Errorf("unexpected health response %d %s", code, body)
	}
}

func TestDispatch_DroppedAfterShutdown(t *testing.T) {
	s := newTestServer(t, nil)

	if !s.Dispatch(domain.InboundMessage{ID: "wamid.before", Sender: "5511987654321", Text: "oi"}) {
		t.Fatal("dispatch before shutdown should be accepted")
	}
	s.Shutdown()

	if s.Dispatch(domain.InboundMessage{ID: "wamid.after", Sender: "5511987654321", Text: "oi"}) {
		t.Error("dispatch after shutdown should be dropped")
	}
	s.Wait()

	msgs := s.processor.handled()
	if len(msgs) != 1 || msgs[0].ID != "wamid.before" {
		t.Errorf("expected only the message dispatched before shutdown, got %+v", msgs)
	}
}
