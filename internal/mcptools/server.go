// Package mcptools exposes operator tools over the Model Context Protocol:
// dry-run interpretation, manual router changes and audit lookups.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/wificontrol/wificontrol-pro/internal/domain"
)

const presignExpiry = 15 * time.Minute

type Interpreter interface {
	Interpret(ctx context.Context, text string) (domain.Intent, error)
}

type Executor interface {
	Apply(ctx context.Context, intent domain.Intent, creds domain.RouterCredentials) domain.CommandResult
}

type CommandLister interface {
	ListRecent(ctx context.Context, limit int) ([]*domain.CommandLog, error)
}

type Presigner interface {
	GetPresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// Tools holds the dependencies behind each tool. Commands and Archive may be nil.
type Tools struct {
	Interpreter Interpreter
	Executor    Executor
	Commands    CommandLister
	Archive     Presigner
	Credentials domain.RouterCredentials
}

type Server struct {
	mcp *server.MCPServer
	sse *server.SSEServer
}

func NewServer(tools Tools, version string) *Server {
	s := server.NewMCPServer("wificontrol-pro", version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s.AddTool(mcp.NewTool("interpret_message",
		mcp.WithDescription("Interpret a customer message without touching the router"),
		mcp.WithString("text", mcp.Required(), mcp.Description("Customer message text")),
	), tools.interpretMessage)

	s.AddTool(mcp.NewTool("apply_router_change",
		mcp.WithDescription("Change the Wi-Fi password or network name on the configured router"),
		mcp.WithString("action", mcp.Required(),
			mcp.Enum(string(domain.ActionChangePassword), string(domain.ActionChangeSSID)),
			mcp.Description("Change to apply")),
		mcp.WithString("value", mcp.Required(), mcp.Description("New password or network name")),
	), tools.applyRouterChange)

	if tools.Commands != nil {
		s.AddTool(mcp.NewTool("recent_commands",
			mcp.WithDescription("List the most recently processed customer messages"),
			mcp.WithNumber("limit", mcp.Description("Maximum entries (default 20)")),
		), tools.recentCommands)
	}

	if tools.Archive != nil {
		s.AddTool(mcp.NewTool("archived_failure_url",
			mcp.WithDescription("Get a temporary download URL for an archived failure record"),
			mcp.WithString("key", mcp.Required(), mcp.Description("Object key of the archived record")),
		), tools.archivedFailureURL)
	}

	return &Server{mcp: s}
}

// Start serves the tools over SSE until Shutdown
func (s *Server) Start(addr string) error {
	s.sse = server.NewSSEServer(s.mcp)
	log.Printf("[MCP] Operator tools listening on %s", addr)
	return s.sse.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.sse == nil {
		return nil
	}
	return s.sse.Shutdown(ctx)
}

func (t Tools) interpretMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	intent, err := t.Interpreter.Interpret(ctx, text)
	if err != nil {
		return mcp.NewToolResultError("interpretation failed: " + err.Error()), nil
	}
	return jsonResult(describeIntent(intent))
}

func (t Tools) applyRouterChange(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	value, err := req.RequireString("value")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var intent domain.Intent
	switch domain.Action(action) {
	case domain.ActionChangePassword:
		intent = domain.ChangePassword{NewPassword: value}
	case domain.ActionChangeSSID:
		intent = domain.ChangeSSID{NewSSID: value}
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unsupported action %q", action)), nil
	}

	log.Printf("[MCP] Operator requested %s on %s", action, t.Credentials.Host)
	result := t.Executor.Apply(ctx, intent, t.Credentials)

	out := map[string]interface{}{
		"applied": result.Applied,
		"state":   result.State,
	}
	if len(result.Failures) > 0 {
		failures := make(map[string]string, len(result.Failures))
		for f, ferr := range result.Failures {
			failures[string(f)] = ferr.Error()
		}
		out["failures"] = failures
	}
	if result.Err != nil {
		out["error"] = result.Err.Error()
	}

	res, err := jsonResult(out)
	if err != nil {
		return nil, err
	}
	res.IsError = !result.OK()
	return res, nil
}

func (t Tools) recentCommands(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := int(req.GetFloat("limit", 20))
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	entries, err := t.Commands.ListRecent(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError("list commands: " + err.Error()), nil
	}
	return jsonResult(entries)
}

func (t Tools) archivedFailureURL(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	url, err := t.Archive.GetPresignedURL(ctx, key, presignExpiry)
	if err != nil {
		return mcp.NewToolResultError("presign: " + err.Error()), nil
	}
	return mcp.NewToolResultText(url), nil
}

func describeIntent(intent domain.Intent) map[string]interface{} {
	out := map[string]interface{}{"action": intent.Action()}
	switch v := intent.(type) {
	case domain.ChangePassword:
		out["new_password"] = v.NewPassword
	case domain.ChangeSSID:
		out["new_ssid"] = v.NewSSID
	}
	return out
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(b)), nil
}
