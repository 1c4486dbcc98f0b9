// Package mikrotik applies wireless configuration changes to MikroTik routers
// over the RouterOS API.
package mikrotik

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"unicode/utf8"

	"github.com/wificontrol/wificontrol-pro/internal/domain"
)

// Session is an open RouterOS API connection
type Session interface {
	Run(sentence ...string) error
	Close() error
}

// Dialer opens router sessions
type Dialer interface {
	Dial(ctx context.Context, creds domain.RouterCredentials) (Session, error)
}

// Targets names the router objects a batch changes
type Targets struct {
	SecurityProfile   string
	WirelessInterface string
}

// Executor applies intents to routers. Batches for the same router address run one at a time.
type Executor struct {
	dialer  Dialer
	targets Targets

	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewExecutor creates an executor that dials through dialer
func NewExecutor(dialer Dialer, targets Targets) *Executor {
	if targets.SecurityProfile == "" {
		targets.SecurityProfile = "default"
	}
	if targets.WirelessInterface == "" {
		targets.WirelessInterface = "wlan1"
	}
	return &Executor{
		dialer:  dialer,
		targets: targets,
		locks:   make(map[string]chan struct{}),
	}
}

type command struct {
	field    domain.Field
	sentence []string
}

// Apply applies intent to the router described by creds. It never returns an error:
// every failure is reported in the result, per field where possible.
func (e *Executor) Apply(ctx context.Context, intent domain.Intent, creds domain.RouterCredentials) domain.CommandResult {
	result := domain.CommandResult{
		Failures: make(map[domain.Field]error),
		State:    domain.StateDisconnected,
	}

	if !domain.IsActionable(intent) {
		return result
	}

	if !creds.Complete() {
		result.Err = &domain.ExecutorError{Kind: domain.ExecutorConfigurationMissing, Err: errors.New("router credentials not configured")}
		for _, f := range requestedFields(intent) {
			result.Failures[f] = result.Err
		}
		return result
	}

	commands := e.plan(intent, &result)
	if len(commands) == 0 {
		return result
	}

	release, err := e.acquire(ctx, creds.Address())
	if err != nil {
		result.Err = &domain.ExecutorError{Kind: domain.ExecutorConnection, Err: fmt.Errorf("waiting for router lock: %w", err)}
		failAll(&result, commands, result.Err)
		return result
	}
	defer release()

	e.run(ctx, creds, commands, &result)
	return result
}

func requestedFields(intent domain.Intent) []domain.Field {
	switch intent.(type) {
	case domain.ChangePassword:
		return []domain.Field{domain.FieldPassword}
	case domain.ChangeSSID:
		return []domain.Field{domain.FieldSSID}
	}
	return nil
}

// plan turns an intent into ordered commands, recording values that fail validation
func (e *Executor) plan(intent domain.Intent, result *domain.CommandResult) []command {
	var commands []command
	switch in := intent.(type) {
	case domain.ChangePassword:
		if err := validatePSK(in.NewPassword); err != nil {
			result.Failures[domain.FieldPassword] = &domain.ExecutorError{Kind: domain.ExecutorCommand, Field: domain.FieldPassword, Err: err}
			break
		}
		commands = append(commands, command{
			field: domain.FieldPassword,
			sentence: []string{
				"/interface/wireless/security-profiles/set",
				"=.id=" + e.targets.SecurityProfile,
				"=wpa2-pre-shared-key=" + in.NewPassword,
			},
		})
	case domain.ChangeSSID:
		if err := validateSSID(in.NewSSID); err != nil {
			result.Failures[domain.FieldSSID] = &domain.ExecutorError{Kind: domain.ExecutorCommand, Field: domain.FieldSSID, Err: err}
			break
		}
		commands = append(commands, command{
			field: domain.FieldSSID,
			sentence: []string{
				"/interface/wireless/set",
				"=.id=" + e.targets.WirelessInterface,
				"=ssid=" + in.NewSSID,
			},
		})
	}
	return commands
}

// run drives one session through connect, commands and close. The session is
// closed exactly once, including when the transport panics while dialing or running.
func (e *Executor) run(ctx context.Context, creds domain.RouterCredentials, commands []command, result *domain.CommandResult) {
	var session Session
	defer func() {
		if r := recover(); r != nil {
			result.Err = &domain.ExecutorError{Kind: domain.ExecutorConnection, Err: fmt.Errorf("router session panic: %v", r)}
			for _, c := range commands {
				if !result.Succeeded(c.field) {
					if _, failed := result.Failures[c.field]; !failed {
						result.Failures[c.field] = result.Err
					}
				}
			}
			log.Printf("[Router] Session to %s panicked: %v", creds.Address(), r)
		}
		if session != nil {
			if err := session.Close(); err != nil {
				log.Printf("[Router] Closing session to %s: %v", creds.Address(), err)
			}
		}
		result.State = domain.StateClosed
	}()

	result.State = domain.StateConnecting
	var err error
	session, err = e.dialer.Dial(ctx, creds)
	if err != nil {
		session = nil
		result.Err = &domain.ExecutorError{Kind: domain.ExecutorConnection, Err: err}
		failAll(result, commands, result.Err)
		log.Printf("[Router] Connection to %s failed: %v", creds.Address(), err)
		return
	}
	result.State = domain.StateConnected

	for _, c := range commands {
		if err := ctx.Err(); err != nil {
			result.Failures[c.field] = &domain.ExecutorError{Kind: domain.ExecutorCommand, Field: c.field, Err: err}
			continue
		}
		if err := session.Run(c.sentence...); err != nil {
			result.Failures[c.field] = &domain.ExecutorError{Kind: domain.ExecutorCommand, Field: c.field, Err: err}
			log.Printf("[Router] %s on %s failed: %v", c.sentence[0], creds.Address(), err)
			continue
		}
		result.Applied = append(result.Applied, c.field)
		log.Printf("[Router] %s applied on %s", c.field, creds.Address())
	}
	result.State = domain.StateCommandsIssued
}

// acquire takes the per-router lock, giving up when ctx ends
func (e *Executor) acquire(ctx context.Context, addr string) (func(), error) {
	e.mu.Lock()
	lock, ok := e.locks[addr]
	if !ok {
		lock = make(chan struct{}, 1)
		e.locks[addr] = lock
	}
	e.mu.Unlock()

	select {
	case lock <- struct{}{}:
		return func() { <-lock }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func failAll(result *domain.CommandResult, commands []command, err error) {
	for _, c := range commands {
		result.Failures[c.field] = err
	}
}

// validatePSK enforces the WPA2 pre-shared key length RouterOS accepts
func validatePSK(psk string) error {
	n := len(psk)
	if n < 8 || n > 63 {
		return fmt.Errorf("%w: password must have 8 to 63 characters, got %d", domain.ErrInvalidValue, n)
	}
	return nil
}

func validateSSID(ssid string) error {
	if ssid == "" || len(ssid) > 32 {
		return fmt.Errorf("%w: network name must have 1 to 32 bytes, got %d", domain.ErrInvalidValue, len(ssid))
	}
	if !utf8.ValidString(ssid) {
		return fmt.Errorf("%w: network name is not valid UTF-8", domain.ErrInvalidValue)
	}
	return nil
}
