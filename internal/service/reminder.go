package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/wificontrol/wificontrol-pro/internal/domain"
	"github.com/wificontrol/wificontrol-pro/internal/whatsapp"
	"github.com/wificontrol/wificontrol-pro/internal/ws"
)

const reminderCooldown = 24 * time.Hour

// LowCreditLister finds clients that are running out of credits
type LowCreditLister interface {
	ListLowCredit(ctx context.Context, threshold int) ([]*domain.Client, error)
}

// ReminderService sends WhatsApp reminders to clients with few credits left,
// at most once per client per day.
type ReminderService struct {
	clients   LowCreditLister
	replier   Replier
	guard     MessageGuard
	hub       Broadcaster
	threshold int
	interval  time.Duration
}

func NewReminderService(clients LowCreditLister, replier Replier, guard MessageGuard, hub Broadcaster, threshold int, interval time.Duration) *ReminderService {
	if guard == nil {
		guard = NewMemoryGuard()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &ReminderService{
		clients:   clients,
		replier:   replier,
		guard:     guard,
		hub:       hub,
		threshold: threshold,
		interval:  interval,
	}
}

// Start runs a check immediately and then on every tick until ctx is done
func (s *ReminderService) Start(ctx context.Context) {
	log.Printf("[Reminder] Worker started (threshold=%d, every %s)", s.threshold, s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil {
			log.Printf("[Reminder] Check failed: %v", err)
		}
		select {
		case <-ctx.Done():
			log.Printf("[Reminder] Worker stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce sends due reminders and returns how many were sent
func (s *ReminderService) RunOnce(ctx context.Context) (int, error) {
	clients, err := s.clients.ListLowCredit(ctx, s.threshold)
	if err != nil {
		return 0, fmt.Errorf("list low credit clients: %w", err)
	}

	sent := 0
	for _, c := range clients {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		if c.Phone == nil || *c.Phone == "" {
			continue
		}

		first, err := s.guard.FirstSeen(ctx, "reminder:credits:"+c.ID.String(), reminderCooldown)
		if err != nil {
			log.Printf("[Reminder] Throttle check failed for %s: %v", c.ID, err)
			continue
		}
		if !first {
			continue
		}

		log.Printf("[Reminder] Client %s has low credits (%d). Sending WhatsApp reminder...", c.ID, c.Credits)
		if err := s.replier.SendText(ctx, whatsapp.NormalizePhone(*c.Phone), reminderText(c)); err != nil {
			log.Printf("[Reminder] Failed to notify %s: %v", c.ID, err)
			continue
		}
		sent++

		if s.hub != nil {
			s.hub.Broadcast(ws.EventCreditReminder, map[string]interface{}{
				"client_id": c.ID,
				"credits":   c.Credits,
			})
		}
	}
	return sent, nil
}

func reminderText(c *domain.Client) string {
	return fmt.Sprintf("Olá, %s! Você tem apenas %d crédito(s) restante(s) no WIFIControl Pro. "+
		"Faça uma recarga para continuar conectado.", c.Name, c.Credits)
}
