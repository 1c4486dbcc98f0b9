package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/wificontrol/wificontrol-pro/internal/domain"
	"github.com/wificontrol/wificontrol-pro/internal/whatsapp"
)

const signatureHeader = "X-Hub-Signature-256"

// handleWebhookVerify answers the provider's subscription handshake
func (s *Server) handleWebhookVerify(c *fiber.Ctx) error {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "" || token == "" {
		return c.SendStatus(fiber.StatusBadRequest)
	}

	expected := s.cfg.WhatsAppVerifyToken
	if mode == "subscribe" && expected != "" &&
		subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1 {
		log.Printf("[Webhook] Verification handshake accepted")
		c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
		return c.Status(fiber.StatusOK).SendString(challenge)
	}

	log.Printf("[Webhook] Verification handshake rejected (mode=%q)", mode)
	return c.SendStatus(fiber.StatusForbidden)
}

// handleWebhookDelivery acknowledges a delivery and hands the message to the
// pipeline in the background.
func (s *Server) handleWebhookDelivery(c *fiber.Ctx) error {
	body := c.Body()

	if secret := s.cfg.WhatsAppAppSecret; secret != "" {
		if !validSignature(body, c.Get(signatureHeader), secret) {
			log.Printf("[Webhook] Rejected delivery with invalid signature from %s", c.IP())
			return c.SendStatus(fiber.StatusForbidden)
		}
	}

	delivery, err := whatsapp.DecodeDelivery(body)
	if err != nil {
		log.Printf("[Webhook] Unrecognized payload: %v", err)
		return c.SendStatus(fiber.StatusNotFound)
	}

	if msg, ok := delivery.Message(); ok {
		log.Printf("[Webhook] Message %s received from %s", msg.ID, msg.Sender)
		s.Dispatch(msg)
	}

	return c.SendStatus(fiber.StatusOK)
}

// Dispatch processes msg in the background on a detached, time-bounded context.
// Messages arriving after Shutdown started are dropped.
func (s *Server) Dispatch(msg domain.InboundMessage) bool {
	s.taskMu.Lock()
	if s.draining {
		s.taskMu.Unlock()
		log.Printf("[Webhook] Shutting down, dropping message %s from %s", msg.ID, msg.Sender)
		return false
	}
	s.tasks.Add(1)
	s.taskMu.Unlock()

	go func() {
		defer s.tasks.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[Webhook] Panic while processing message from %s: %v", msg.Sender, r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ProcessTimeout)
		defer cancel()
		s.deps.Processor.Handle(ctx, msg)
	}()
	return true
}

// Wait blocks until every dispatched message has been processed
func (s *Server) Wait() {
	s.tasks.Wait()
}

// validSignature checks a "sha256=<hex>" HMAC of the raw body
func validSignature(body []byte, header, secret string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
