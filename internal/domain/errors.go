package domain

import (
	"errors"
	"fmt"
)

// InterpretationKind classifies why a message could not be interpreted
type InterpretationKind string

const (
	InterpretationNetwork   InterpretationKind = "network_failure"
	InterpretationAuth      InterpretationKind = "auth_failure"
	InterpretationQuota     InterpretationKind = "quota_exhausted"
	InterpretationMalformed InterpretationKind = "malformed_response"
)

// InterpretationError is returned by the interpreter when the model call fails
// or its reply does not follow the contract.
type InterpretationError struct {
	Kind InterpretationKind
	Err  error
}

func (e *InterpretationError) Error() string {
	if e.Err == nil {
		return "interpretation: " + string(e.Kind)
	}
	return fmt.Sprintf("interpretation: %s: %v", e.Kind, e.Err)
}

func (e *InterpretationError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the model call right away may succeed.
// Exhausted quota is permanent for the call.
func (e *InterpretationError) Retryable() bool {
	return e.Kind == InterpretationNetwork
}

// Temporary reports whether the customer may succeed by writing again later
func (e *InterpretationError) Temporary() bool {
	return e.Kind == InterpretationNetwork || e.Kind == InterpretationQuota
}

// ExecutorKind classifies router command failures
type ExecutorKind string

const (
	ExecutorConfigurationMissing ExecutorKind = "configuration_missing"
	ExecutorConnection           ExecutorKind = "connection_error"
	ExecutorCommand              ExecutorKind = "command_error"
)

// ExecutorError describes a router command failure. Field is set for command errors.
type ExecutorError struct {
	Kind  ExecutorKind
	Field Field
	Err   error
}

func (e *ExecutorError) Error() string {
	msg := "router: " + string(e.Kind)
	if e.Field != "" {
		msg += " (" + string(e.Field) + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExecutorError) Unwrap() error { return e.Err }

// ErrInvalidValue marks a requested value the router would reject. Such values are never sent.
var ErrInvalidValue = errors.New("invalid value")

// ErrUnrecognizedPayload is the cause of every ProtocolError raised for a webhook body
// that is not a provider envelope.
var ErrUnrecognizedPayload = errors.New("unrecognized payload")

// ProtocolError is returned when a webhook delivery cannot be decoded
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string {
	if e.Err == nil {
		return "protocol: " + ErrUnrecognizedPayload.Error()
	}
	return fmt.Sprintf("protocol: %v: %v", ErrUnrecognizedPayload, e.Err)
}

func (e *ProtocolError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrUnrecognizedPayload}
	}
	return []error{ErrUnrecognizedPayload, e.Err}
}

// IsInterpretationKind reports whether err is an InterpretationError of kind
func IsInterpretationKind(err error, kind InterpretationKind) bool {
	var ie *InterpretationError
	return errors.As(err, &ie) && ie.Kind == kind
}

// IsExecutorKind reports whether err is an ExecutorError of kind
func IsExecutorKind(err error, kind ExecutorKind) bool {
	var ee *ExecutorError
	return errors.As(err, &ee) && ee.Kind == kind
}
