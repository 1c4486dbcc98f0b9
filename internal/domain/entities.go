package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InboundMessage is a customer text message received from the messaging provider
type InboundMessage struct {
	ID         string    `json:"id,omitempty"` // provider message id, empty when unknown
	Sender     string    `json:"sender"`       // phone number, digits only
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at"`
}

// Action names used by the interpreter contract
type Action string

const (
	ActionChangePassword Action = "CHANGE_PASSWORD"
	ActionChangeSSID     Action = "CHANGE_SSID"
	ActionUnknown        Action = "UNKNOWN"
)

// Intent is the closed set of interpretations of a customer message.
// The only implementations are ChangePassword, ChangeSSID and Unknown.
type Intent interface {
	Action() Action
	isIntent()
}

// ChangePassword asks for a new WPA2 pre-shared key
type ChangePassword struct {
	NewPassword string
}

func (ChangePassword) Action() Action { return ActionChangePassword }
func (ChangePassword) isIntent()      {}

// ChangeSSID asks for a new wireless network name
type ChangeSSID struct {
	NewSSID string
}

func (ChangeSSID) Action() Action { return ActionChangeSSID }
func (ChangeSSID) isIntent()      {}

// Unknown means the message is not a recognized command
type Unknown struct{}

func (Unknown) Action() Action { return ActionUnknown }
func (Unknown) isIntent()      {}

// IsActionable reports whether the intent requires a router change
func IsActionable(i Intent) bool {
	switch i.(type) {
	case ChangePassword, ChangeSSID:
		return true
	}
	return false
}

// RouterCredentials identifies the router a command batch is applied to
type RouterCredentials struct {
	Host     string
	Username string
	Password string
	Port     int
}

// Complete reports whether every credential field is set
func (c RouterCredentials) Complete() bool {
	return c.Host != "" && c.Username != "" && c.Password != "" && c.Port > 0
}

// Address returns host:port
func (c RouterCredentials) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Field is a router setting a command batch can change
type Field string

const (
	FieldPassword Field = "password"
	FieldSSID     Field = "ssid"
)

// SessionState tracks a router session through one command batch
type SessionState string

const (
	StateDisconnected   SessionState = "disconnected"
	StateConnecting     SessionState = "connecting"
	StateConnected      SessionState = "connected"
	StateCommandsIssued SessionState = "commands_issued"
	StateClosed         SessionState = "closed"
)

// CommandResult reports the per-field outcome of a command batch.
// Err is set when the batch could not run at all (missing configuration or connection failure).
type CommandResult struct {
	Applied  []Field
	Failures map[Field]error
	Err      error
	State    SessionState
}

// Succeeded reports whether field was applied
func (r CommandResult) Succeeded(field Field) bool {
	for _, f := range r.Applied {
		if f == field {
			return true
		}
	}
	return false
}

// Partial reports whether some but not all requested changes were applied
func (r CommandResult) Partial() bool {
	return len(r.Applied) > 0 && len(r.Failures) > 0
}

// OK reports whether every requested change was applied
func (r CommandResult) OK() bool {
	return r.Err == nil && len(r.Failures) == 0
}

// Command log status constants
const (
	CommandStatusApplied             = "applied"
	CommandStatusPartial             = "partial"
	CommandStatusFailed              = "failed"
	CommandStatusUnknown             = "unknown"
	CommandStatusInterpretationError = "interpretation_failed"
	CommandStatusDuplicate           = "duplicate"
)

// CommandLog is the audit record of one processed customer message
type CommandLog struct {
	ID          uuid.UUID         `json:"id"`
	MessageID   string            `json:"message_id,omitempty"`
	Sender      string            `json:"sender"`
	ClientID    *uuid.UUID        `json:"client_id,omitempty"`
	Text        string            `json:"text"`
	Action      string            `json:"action"`
	Status      string            `json:"status"`
	Applied     []string          `json:"applied,omitempty"`
	Failures    map[string]string `json:"failures,omitempty"`
	Error       *string           `json:"error,omitempty"`
	Reply       string            `json:"reply"`
	RouterHost  string            `json:"router_host,omitempty"`
	ReceivedAt  time.Time         `json:"received_at"`
	ProcessedAt time.Time         `json:"processed_at"`
}

// Client is the subset of the hosted clients table this service reads and writes
type Client struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Phone          *string   `json:"phone,omitempty"`
	Credits        int       `json:"credits"`
	FidelityPoints int       `json:"fidelity_points"`
	CreatedAt      time.Time `json:"created_at"`
}

// Transaction types
const (
	TransactionIncome  = "income"
	TransactionExpense = "expense"
)

// FinancialTransaction is a ledger row written by the recharge hook
type FinancialTransaction struct {
	ID            uuid.UUID  `json:"id"`
	Amount        float64    `json:"amount"`
	Type          string     `json:"type"`
	Description   string     `json:"description"`
	PaymentMethod string     `json:"payment_method"`
	ClientName    string     `json:"client_name"`
	ClientID      *uuid.UUID `json:"client_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// RechargePlan is a purchasable credit bundle
type RechargePlan struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Price   float64 `json:"price"`
	Credits int     `json:"credits"`
}

// PointsPerReal is the fidelity points earned per BRL spent
const PointsPerReal = 10

// RechargePlans lists the bundles on sale
var RechargePlans = map[string]RechargePlan{
	"basic":    {ID: "basic", Name: "Básico", Price: 20, Credits: 20},
	"standard": {ID: "standard", Name: "Padrão", Price: 30, Credits: 35},
	"premium":  {ID: "premium", Name: "Premium", Price: 40, Credits: 50},
}

// PlanByID returns the plan with id, falling back to basic
func PlanByID(id string) RechargePlan {
	if p, ok := RechargePlans[id]; ok {
		return p
	}
	return RechargePlans["basic"]
}

// Points returns the fidelity points earned by buying the plan
func (p RechargePlan) Points() int {
	return int(p.Price) * PointsPerReal
}

// DeviceStatus constants for the linked WhatsApp device
const (
	DeviceStatusDisconnected = "disconnected"
	DeviceStatusConnecting   = "connecting"
	DeviceStatusConnected    = "connected"
	DeviceStatusLoggedOut    = "logged_out"
)
