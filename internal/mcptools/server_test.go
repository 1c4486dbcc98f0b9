package mcptools

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/wificontrol/wificontrol-pro/internal/domain"
)

type fakeInterpreter struct {
	intent domain.Intent
	err    error
}

func (f fakeInterpreter) Interpret(ctx context.Context, text string) (domain.Intent, error) {
	return f.intent, f.err
}

type fakeExecutor struct {
	result domain.CommandResult
	got    domain.Intent
	creds  domain.RouterCredentials
}

func (f *fakeExecutor) Apply(ctx context.Context, intent domain.Intent, creds domain.RouterCredentials) domain.CommandResult {
	f.got = intent
	f.creds = creds
	return f.result
}

type fakePresigner struct{ key string }

func (f *fakePresigner) GetPresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	f.key = key
	return "https://minio.local/" + key + "?sig=x", nil
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("unexpected content %T", res.Content[0])
	}
	return tc.Text
}

func TestInterpretMessage_DryRun(t *testing.T) {
	exec := &fakeExecutor{}
	tools := Tools{Interpreter: fakeInterpreter{intent: domain.ChangeSSID{NewSSID: "Loja"}}, Executor: exec}

	res, err := tools.interpretMessage(context.Background(), call(map[string]any{"text": "muda o wifi para Loja"}))
	if err != nil {
		t.Fatal(err)
	}
	out := text(t, res)
	if !strings.Contains(out, `"action":"CHANGE_SSID"`) || !strings.Contains(out, `"new_ssid":"Loja"`) {
		t.Errorf("unexpected output %s", out)
	}
	if exec.got != nil {
		t.Error("dry run must not reach the router")
	}
}

func TestInterpretMessage_Errors(t *testing.T) {
	tools := Tools{Interpreter: fakeInterpreter{err: errors.New("quota")}}

	res, _ := tools.interpretMessage(context.Background(), call(map[string]any{}))
	if !res.IsError {
		t.Error("missing text should be a tool error")
	}
	res, _ = tools.interpretMessage(context.Background(), call(map[string]any{"text": "oi"}))
	if !res.IsError || !strings.Contains(text(t, res), "quota") {
		t.Error("interpreter failure should be reported")
	}
}

func TestApplyRouterChange(t *testing.T) {
	creds := domain.RouterCredentials{Host: "10.0.0.1", Username: "admin", Password: "pw", Port: 8728}
	exec := &fakeExecutor{result: domain.CommandResult{Applied: []domain.Field{domain.FieldPassword}, State: domain.StateClosed}}
	tools := Tools{Executor: exec, Credentials: creds}

	res, err := tools.applyRouterChange(context.Background(), call(map[string]any{"action": "CHANGE_PASSWORD", "value": "12345678"}))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Errorf("unexpected error result %s", text(t, res))
	}
	if exec.got != (domain.ChangePassword{NewPassword: "12345678"}) || exec.creds != creds {
		t.Errorf("unexpected executor call %+v %+v", exec.got, exec.creds)
	}

	exec.result = domain.CommandResult{
		Failures: map[domain.Field]error{domain.FieldSSID: &domain.ExecutorError{Kind: domain.ExecutorConnection, Err: errors.New("refused")}},
		Err:      &domain.ExecutorError{Kind: domain.ExecutorConnection, Err: errors.New("refused")},
	}
	res, _ = tools.applyRouterChange(context.Background(), call(map[string]any{"action": "CHANGE_SSID", "value": "Loja"}))
	if !res.IsError || !strings.Contains(text(t, res), "failures") {
		t.Errorf("failed change should be an error result, got %s", text(t, res))
	}

	res, _ = tools.applyRouterChange(context.Background(), call(map[string]any{"action": "REBOOT", "value": "x"}))
	if !res.IsError {
		t.Error("unsupported action should be rejected")
	}
}

func TestArchivedFailureURL(t *testing.T) {
	presign := &fakePresigner{}
	tools := Tools{Archive: presign}

	res, err := tools.archivedFailureURL(context.Background(), call(map[string]any{"key": "command-failures/2026/10/15/x.json"}))
	if err != nil {
		t.Fatal(err)
	}
	if presign.key != "command-failures/2026/10/15/x.json" || !strings.HasPrefix(text(t, res), "https://minio.local/") {
		t.Errorf("unexpected result %s", text(t, res))
	}
}

func TestNewServer_RegistersOptionalTools(t *testing.T) {
	if s := NewServer(Tools{}, "test"); s.mcp == nil {
		t.Fatal("expected server")
	}
}
