// Package whatsapp decodes WhatsApp Business webhook deliveries and sends replies,
// either through the Cloud API or through a linked device.
package whatsapp

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/wificontrol/wificontrol-pro/internal/domain"
)

// Delivery is a decoded webhook body. Object is always non-empty.
type Delivery struct {
	Object string
	Entry  []waEntry
}

type waEntry struct {
	ID      string     `json:"id"`
	Changes []waChange `json:"changes"`
}

type waChange struct {
	Value waValue `json:"value"`
	Field string  `json:"field"`
}

type waValue struct {
	MessagingProduct string      `json:"messaging_product"`
	Messages         []waMessage `json:"messages"`
}

type waMessage struct {
	From      string  `json:"from"`
	ID        string  `json:"id"`
	Timestamp string  `json:"timestamp"`
	Type      string  `json:"type"`
	Text      *waText `json:"text,omitempty"`
}

type waText struct {
	Body string `json:"body"`
}

// DecodeDelivery validates the outer envelope. A body that is not a JSON object,
// or has no object field, yields a *domain.ProtocolError. Problems below the
// envelope are not errors: the delivery simply carries no message.
func DecodeDelivery(body []byte) (*Delivery, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return nil, &domain.ProtocolError{Err: err}
	}
	if top == nil {
		return nil, &domain.ProtocolError{Err: errors.New("body is null")}
	}

	rawObject, ok := top["object"]
	if !ok {
		return nil, &domain.ProtocolError{Err: errors.New("missing object field")}
	}
	var object string
	if err := json.Unmarshal(rawObject, &object); err != nil || object == "" {
		return nil, &domain.ProtocolError{Err: errors.New("object field must be a non-empty string")}
	}

	d := &Delivery{Object: object}
	if rawEntry, ok := top["entry"]; ok && !bytes.Equal(bytes.TrimSpace(rawEntry), []byte("null")) {
		if err := json.Unmarshal(rawEntry, &d.Entry); err != nil {
			d.Entry = nil
		}
	}
	return d, nil
}

// Message returns entry[0].changes[0].value.messages[0] when it is a text message
// with a sender. Anything else (status updates, media, reactions) is reported as absent.
func (d *Delivery) Message() (domain.InboundMessage, bool) {
	if d == nil || len(d.Entry) == 0 || len(d.Entry[0].Changes) == 0 {
		return domain.InboundMessage{}, false
	}
	messages := d.Entry[0].Changes[0].Value.Messages
	if len(messages) == 0 {
		return domain.InboundMessage{}, false
	}
	m := messages[0]
	if m.Text == nil || m.From == "" {
		return domain.InboundMessage{}, false
	}
	if m.Type != "" && m.Type != "text" {
		return domain.InboundMessage{}, false
	}

	return domain.InboundMessage{
		ID:         m.ID,
		Sender:     DigitsOnly(m.From),
		Text:       m.Text.Body,
		ReceivedAt: parseTimestamp(m.Timestamp),
	}, true
}

func parseTimestamp(s string) time.Time {
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0).UTC()
	}
	return time.Now().UTC()
}

// DigitsOnly strips everything except digits. Provider sender ids are already
// international numbers and go through this unchanged otherwise.
func DigitsOnly(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizePhone turns a stored phone number into an international one, adding
// the Brazil country code to bare 10 or 11 digit national numbers.
func NormalizePhone(phone string) string {
	digits := DigitsOnly(phone)
	if len(digits) == 10 || len(digits) == 11 {
		return "55" + digits
	}
	return digits
}
