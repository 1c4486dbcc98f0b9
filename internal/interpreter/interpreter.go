// Package interpreter turns free-text customer messages into router intents
// by prompting a hosted language model for a JSON classification.
package interpreter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/wificontrol/wificontrol-pro/internal/domain"
)

// Interpreter classifies customer messages through a Model
type Interpreter struct {
	model Model
}

// New creates an Interpreter backed by model
func New(model Model) *Interpreter {
	return &Interpreter{model: model}
}

// Interpret classifies text. Blank text is Unknown without a model call.
// Model failures and contract violations are returned as *domain.InterpretationError.
func (i *Interpreter) Interpret(ctx context.Context, text string) (domain.Intent, error) {
	if strings.TrimSpace(text) == "" {
		return domain.Unknown{}, nil
	}

	raw, err := i.model.Generate(ctx, BuildPrompt(text))
	if err != nil {
		var ie *domain.InterpretationError
		if errors.As(err, &ie) {
			return nil, ie
		}
		return nil, &domain.InterpretationError{Kind: domain.InterpretationNetwork, Err: err}
	}
	return ParseIntent(raw)
}

type modelReply struct {
	Action *string                    `json:"action"`
	Params map[string]json.RawMessage `json:"params"`
}

// ParseIntent validates a model reply against the action contract.
// A reply that is not a JSON object with a string "action" is malformed; an
// action outside the contract, or a missing or blank parameter, is Unknown.
func ParseIntent(raw string) (domain.Intent, error) {
	body := stripCodeFence(raw)
	if body == "" {
		return nil, malformed(errors.New("empty model reply"))
	}

	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	var reply modelReply
	if err := dec.Decode(&reply); err != nil {
		return nil, malformed(fmt.Errorf("decode model reply: %w", err))
	}
	if dec.More() {
		return nil, malformed(errors.New("trailing data after JSON object"))
	}
	if reply.Action == nil {
		return nil, malformed(errors.New(`model reply has no "action"`))
	}

	switch domain.Action(strings.ToUpper(strings.TrimSpace(*reply.Action))) {
	case domain.ActionChangePassword:
		v, err := paramValue(reply.Params, "new_password")
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(v) == "" {
			return domain.Unknown{}, nil
		}
		return domain.ChangePassword{NewPassword: v}, nil

	case domain.ActionChangeSSID:
		v, err := paramValue(reply.Params, "new_ssid")
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(v) == "" {
			return domain.Unknown{}, nil
		}
		return domain.ChangeSSID{NewSSID: v}, nil
	}
	return domain.Unknown{}, nil
}

// paramValue returns a parameter verbatim. Strings are taken as-is, bare numbers keep
// their literal text, absent or null values are empty; anything else is malformed.
func paramValue(params map[string]json.RawMessage, key string) (string, error) {
	raw, ok := params[key]
	if !ok {
		return "", nil
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", malformed(fmt.Errorf("param %q is not a string", key))
}

// stripCodeFence removes a surrounding ``` fence some models add despite the JSON mime type
func stripCodeFence(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	inner := strings.TrimPrefix(trimmed, "```")
	if idx := strings.IndexByte(inner, '\n'); idx >= 0 {
		if first := strings.TrimSpace(inner[:idx]); !strings.HasPrefix(first, "{") {
			inner = inner[idx+1:]
		}
	}
	if idx := strings.LastIndex(inner, "```"); idx >= 0 {
		inner = inner[:idx]
	}
	return strings.TrimSpace(inner)
}

func malformed(err error) *domain.InterpretationError {
	return &domain.InterpretationError{Kind: domain.InterpretationMalformed, Err: err}
}
