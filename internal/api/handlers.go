package api

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/wificontrol/wificontrol-pro/internal/service"
)

const (
	defaultCommandLimit = 50
	maxCommandLimit     = 200
)

type rechargeBody struct {
	PlanID     string `json:"planId"`
	ClientID   string `json:"clientId"`
	ClientName string `json:"clientName"`
}

func (s *Server) handleRecharge(c *fiber.Ctx) error {
	var body rechargeBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"success": false,
			"message": "Requisição inválida",
		})
	}

	clientID, err := uuid.Parse(body.ClientID)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{
			"success": false,
			"message": "clientId inválido",
		})
	}

	result, err := s.deps.Billing.Recharge(c.Context(), service.RechargeRequest{
		PlanID:     body.PlanID,
		ClientID:   clientID,
		ClientName: body.ClientName,
	})
	if err != nil {
		if !errors.Is(err, service.ErrRechargeFailed) {
			log.Printf("[Billing] Unexpected recharge error: %v", err)
		}
		return c.Status(500).JSON(fiber.Map{
			"success": false,
			"message": "Erro interno ao processar recarga",
		})
	}

	return c.JSON(result)
}

func (s *Server) handleListCommands(c *fiber.Ctx) error {
	if s.deps.Commands == nil {
		return c.Status(503).JSON(fiber.Map{
			"success": false,
			"error":   "command log unavailable",
		})
	}

	limit := c.QueryInt("limit", defaultCommandLimit)
	if limit <= 0 {
		limit = defaultCommandLimit
	}
	if limit > maxCommandLimit {
		limit = maxCommandLimit
	}

	entries, err := s.deps.Commands.ListRecent(c.Context(), limit)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    entries,
	})
}

func (s *Server) deviceDisabled(c *fiber.Ctx) error {
	return c.Status(404).JSON(fiber.Map{
		"success": false,
		"error":   "linked device mode is not enabled",
	})
}

func (s *Server) handleDeviceStatus(c *fiber.Ctx) error {
	if s.deps.Device == nil {
		return s.deviceDisabled(c)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    s.deps.Device.State(),
	})
}

func (s *Server) handleDeviceConnect(c *fiber.Ctx) error {
	if s.deps.Device == nil {
		return s.deviceDisabled(c)
	}
	if err := s.deps.Device.Connect(c.Context()); err != nil {
		return c.Status(500).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    s.deps.Device.State(),
	})
}

func (s *Server) handleDeviceDisconnect(c *fiber.Ctx) error {
	if s.deps.Device == nil {
		return s.deviceDisabled(c)
	}
	s.deps.Device.Disconnect()
	return c.JSON(fiber.Map{"success": true})
}
