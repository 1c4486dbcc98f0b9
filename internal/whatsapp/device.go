package whatsapp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for whatsmeow sqlstore
	qrcode "github.com/skip2/go-qrcode"
	"github.com/wificontrol/wificontrol-pro/internal/domain"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

// MessageHandler receives customer text messages from the linked device
type MessageHandler func(ctx context.Context, msg domain.InboundMessage)

// Notifier publishes device state to operators
type Notifier interface {
	BroadcastDeviceStatus(status, jid string)
	BroadcastQRCode(qr string)
}

// DeviceState is a snapshot of the linked device
type DeviceState struct {
	Status string `json:"status"`
	JID    string `json:"jid,omitempty"`
	QRCode string `json:"qr_code,omitempty"`
}

// Device is the single WhatsApp account linked to this deployment. Session keys
// are stored in PostgreSQL next to the application tables.
type Device struct {
	container *sqlstore.Container
	notify    Notifier
	handler   MessageHandler

	mu     sync.RWMutex
	client *whatsmeow.Client
	state  DeviceState

	// lifetime of QR channel and event callbacks
	ctx    context.Context
	cancel context.CancelFunc
}

// NewDevice opens the whatsmeow session store
func NewDevice(databaseURL string, notify Notifier) (*Device, error) {
	dbLog := waLog.Stdout("Database", "WARN", true)
	container, err := sqlstore.New(context.Background(), "pgx", databaseURL, dbLog)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize whatsmeow store: %w", err)
	}

	if container.LIDMap != nil {
		if err := container.LIDMap.FillCache(context.Background()); err != nil {
			log.Printf("[Device] Warning: failed to fill LID cache: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Device{
		container: container,
		notify:    notify,
		state:     DeviceState{Status: domain.DeviceStatusDisconnected},
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// OnMessage sets the inbound message handler. Call before Connect.
func (d *Device) OnMessage(h MessageHandler) {
	d.mu.Lock()
	d.handler = h
	d.mu.Unlock()
}

// Connect links or reconnects the device. A device that was never paired
// publishes QR codes until it is scanned or the QR times out.
func (d *Device) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client != nil && d.client.IsConnected() {
		return nil
	}

	waDevice, err := d.container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("failed to load device store: %w", err)
	}

	store.DeviceProps.Os = proto.String("WIFIControl Pro")
	store.DeviceProps.RequireFullSync = proto.Bool(false)

	client := whatsmeow.NewClient(waDevice, waLog.Stdout("Client", "INFO", true))
	client.EnableAutoReconnect = true
	client.AddEventHandler(d.handleEvent)
	d.client = client
	d.setStatusLocked(domain.DeviceStatusConnecting, "")

	if client.Store.ID == nil {
		qrChan, err := client.GetQRChannel(d.ctx)
		if err != nil {
			return fmt.Errorf("failed to get QR channel: %w", err)
		}
		if err := client.Connect(); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		go d.handleQRChannel(qrChan)
		return nil
	}

	if err := client.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}

// Reconnect connects at startup when the device was paired before
func (d *Device) Reconnect(ctx context.Context) error {
	waDevice, err := d.container.GetFirstDevice(ctx)
	if err != nil {
		return err
	}
	if waDevice.ID == nil {
		log.Printf("[Device] No paired device, waiting for operator to connect")
		return nil
	}
	return d.Connect(ctx)
}

func (d *Device) handleQRChannel(qrChan <-chan whatsmeow.QRChannelItem) {
	for evt := range qrChan {
		switch evt.Event {
		case "code":
			qr, err := qrcode.Encode(evt.Code, qrcode.Medium, 256)
			if err != nil {
				log.Printf("[QR] Failed to generate QR code: %v", err)
				continue
			}
			qrBase64 := "data:image/png;base64," + base64.StdEncoding.EncodeToString(qr)

			d.mu.Lock()
			d.state.QRCode = qrBase64
			d.state.Status = domain.DeviceStatusConnecting
			d.mu.Unlock()

			if d.notify != nil {
				d.notify.BroadcastQRCode(qrBase64)
			}
			log.Printf("[QR] New QR code generated")

		case "success":
			log.Printf("[QR] Login successful")

		case "timeout":
			log.Printf("[QR] QR code timeout")
			d.mu.Lock()
			d.setStatusLocked(domain.DeviceStatusDisconnected, "")
			d.mu.Unlock()
		}
	}
}

func (d *Device) handleEvent(rawEvt interface{}) {
	switch evt := rawEvt.(type) {
	case *events.Connected:
		d.mu.Lock()
		jid := ""
		if d.client != nil && d.client.Store.ID != nil {
			jid = d.client.Store.ID.ToNonAD().String()
		}
		d.setStatusLocked(domain.DeviceStatusConnected, jid)
		d.mu.Unlock()
		log.Printf("[Device] Connected as %s", jid)

	case *events.LoggedOut:
		d.mu.Lock()
		d.setStatusLocked(domain.DeviceStatusLoggedOut, "")
		d.mu.Unlock()
		log.Printf("[Device] Logged out: %s", evt.Reason)

	case *events.Disconnected:
		d.mu.Lock()
		d.setStatusLocked(domain.DeviceStatusDisconnected, d.state.JID)
		d.mu.Unlock()
		log.Printf("[Device] Disconnected")

	case *events.Message:
		d.handleMessage(evt)
	}
}

func (d *Device) handleMessage(evt *events.Message) {
	msg, ok := inboundFromEvent(evt, d.resolvePhone)
	if !ok {
		return
	}

	d.mu.RLock()
	handler := d.handler
	d.mu.RUnlock()
	if handler == nil {
		return
	}
	handler(d.ctx, msg)
}

// resolvePhone maps a hidden-user (@lid) JID to the sender's phone number
func (d *Device) resolvePhone(jid types.JID) string {
	if jid.Server != types.HiddenUserServer || d.container.LIDMap == nil {
		return jid.User
	}
	pn, err := d.container.LIDMap.GetPNForLID(d.ctx, jid)
	if err != nil || pn.IsEmpty() {
		return jid.User
	}
	return pn.User
}

// inboundFromEvent extracts a 1-to-1 customer text message
func inboundFromEvent(evt *events.Message, resolve func(types.JID) string) (domain.InboundMessage, bool) {
	if evt == nil || evt.Message == nil || evt.Info.IsFromMe {
		return domain.InboundMessage{}, false
	}
	switch evt.Info.Chat.Server {
	case "broadcast", "g.us", "newsletter":
		return domain.InboundMessage{}, false
	}

	body := evt.Message.GetConversation()
	if body == "" && evt.Message.GetExtendedTextMessage() != nil {
		body = evt.Message.GetExtendedTextMessage().GetText()
	}
	if body == "" {
		return domain.InboundMessage{}, false
	}

	sender := evt.Info.Sender.ToNonAD()
	phone := sender.User
	if resolve != nil {
		phone = resolve(sender)
	}

	return domain.InboundMessage{
		ID:         evt.Info.ID,
		Sender:     DigitsOnly(phone),
		Text:       body,
		ReceivedAt: evt.Info.Timestamp.UTC(),
	}, true
}

// SendText sends body to the phone number to
func (d *Device) SendText(ctx context.Context, to, body string) error {
	d.mu.RLock()
	client := d.client
	d.mu.RUnlock()

	if client == nil || !client.IsConnected() {
		return errors.New("whatsapp device not connected")
	}

	jid := types.NewJID(to, types.DefaultUserServer)
	if _, err := client.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(body)}); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	log.Printf("[Device] Reply sent to %s", to)
	return nil
}

// State returns the current device snapshot
func (d *Device) State() DeviceState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Disconnect drops the connection but keeps the pairing
func (d *Device) Disconnect() {
	d.mu.RLock()
	client := d.client
	d.mu.RUnlock()
	if client != nil {
		client.Disconnect()
	}

	d.mu.Lock()
	d.setStatusLocked(domain.DeviceStatusDisconnected, d.state.JID)
	d.mu.Unlock()
}

// Shutdown disconnects and stops background callbacks
func (d *Device) Shutdown() {
	d.Disconnect()
	d.cancel()
	log.Printf("[Device] Shut down")
}

// setStatusLocked updates and publishes the status; d.mu must be held
func (d *Device) setStatusLocked(status, jid string) {
	d.state.Status = status
	d.state.JID = jid
	if status != domain.DeviceStatusConnecting {
		d.state.QRCode = ""
	}
	if d.notify != nil {
		d.notify.BroadcastDeviceStatus(status, jid)
	}
}
