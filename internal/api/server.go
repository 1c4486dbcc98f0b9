package api

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/wificontrol/wificontrol-pro/internal/domain"
	"github.com/wificontrol/wificontrol-pro/internal/service"
	"github.com/wificontrol/wificontrol-pro/internal/whatsapp"
	"github.com/wificontrol/wificontrol-pro/internal/ws"
	"github.com/wificontrol/wificontrol-pro/pkg/config"
)

// MessageProcessor runs the command pipeline for one customer message
type MessageProcessor interface {
	Handle(ctx context.Context, msg domain.InboundMessage) *domain.CommandLog
}

// RechargeProcessor applies a credit recharge
type RechargeProcessor interface {
	Recharge(ctx context.Context, req service.RechargeRequest) (*service.RechargeResult, error)
}

// TokenValidator verifies operator bearer tokens
type TokenValidator interface {
	ValidateToken(token string) (*service.JWTClaims, error)
}

// CommandLister lists processed messages
type CommandLister interface {
	ListRecent(ctx context.Context, limit int) ([]*domain.CommandLog, error)
}

// DeviceController manages the linked WhatsApp device
type DeviceController interface {
	State() whatsapp.DeviceState
	Connect(ctx context.Context) error
	Disconnect()
}

// Dependencies wires the server. Commands, Device and Hub may be nil.
type Dependencies struct {
	Processor MessageProcessor
	Billing   RechargeProcessor
	Auth      TokenValidator
	Commands  CommandLister
	Device    DeviceController
	Hub       *ws.Hub
}

type Server struct {
	app  *fiber.App
	cfg  *config.Config
	deps Dependencies

	// in-flight message tasks; draining is set once Shutdown begins
	taskMu   sync.Mutex
	draining bool
	tasks    sync.WaitGroup
}

func NewServer(cfg *config.Config, deps Dependencies) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "WIFIControl Pro",
		BodyLimit:             1 * 1024 * 1024,
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"success": false,
				"error":   err.Error(),
			})
		},
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${method} ${path}\n",
		TimeFormat: "15:04:05",
	}))

	app.Use(helmet.New(helmet.Config{
		XSSProtection:             "1; mode=block",
		ContentTypeNosniff:        "nosniff",
		XFrameOptions:             "DENY",
		ReferrerPolicy:            "strict-origin-when-cross-origin",
		CrossOriginEmbedderPolicy: "require-corp",
		CrossOriginOpenerPolicy:   "same-origin",
		CrossOriginResourcePolicy: "same-origin",
		PermissionPolicy:          "geolocation=(), microphone=(), camera=()",
	}))

	// 300 requests per minute per IP. The provider webhook is exempt: a throttled
	// delivery is retried by the provider and would only add load.
	app.Use(limiter.New(limiter.Config{
		Max:        300,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"error":   "too many requests, please slow down",
			})
		},
		Next: func(c *fiber.Ctx) bool {
			path := c.Path()
			return strings.HasPrefix(path, "/api/whatsapp/webhook") || strings.HasPrefix(path, "/ws")
		},
	}))

	corsOrigins := "http://localhost:3000,http://localhost:5173"
	if cfg.IsProduction() && len(cfg.CORSOrigins) > 0 {
		corsOrigins = strings.Join(cfg.CORSOrigins, ",")
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,Upgrade,Connection",
		AllowCredentials: true,
	}))

	server := &Server{
		app:  app,
		cfg:  cfg,
		deps: deps,
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.app.Get("/health", s.handleHealth)

	api := s.app.Group("/api")

	// Provider webhook (verified by token / signature, not by JWT)
	api.Get("/whatsapp/webhook", s.handleWebhookVerify)
	api.Post("/whatsapp/webhook", s.handleWebhookDelivery)

	protected := api.Group("", s.authMiddleware)
	protected.Post("/credits/recharge", s.handleRecharge)
	protected.Get("/commands", s.handleListCommands)
	protected.Get("/whatsapp/device", s.handleDeviceStatus)
	protected.Post("/whatsapp/device/connect", s.handleDeviceConnect)
	protected.Post("/whatsapp/device/disconnect", s.handleDeviceDisconnect)

	if s.deps.Hub != nil {
		s.app.Use("/ws", s.wsUpgrade)
		s.app.Get("/ws", websocket.New(s.handleWebSocket))
	}
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":            "ok",
		"time":              time.Now(),
		"whatsapp_mode":     s.cfg.WhatsAppMode,
		"router_configured": s.cfg.RouterCredentials().Complete(),
	})
}

// Auth middleware
func (s *Server) authMiddleware(c *fiber.Ctx) error {
	token := strings.TrimPrefix(c.Get("Authorization"), "Bearer ")
	if token == "" {
		return c.Status(401).JSON(fiber.Map{
			"success": false,
			"error":   "Unauthorized",
		})
	}

	claims, err := s.deps.Auth.ValidateToken(token)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid token",
		})
	}

	c.Locals("claims", claims)
	return c.Next()
}

// WebSocket upgrade middleware
func (s *Server) wsUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		token := c.Query("token")
		if token == "" {
			return c.Status(401).JSON(fiber.Map{"error": "Missing token"})
		}

		claims, err := s.deps.Auth.ValidateToken(token)
		if err != nil {
			return c.Status(401).JSON(fiber.Map{"error": "Invalid token"})
		}

		c.Locals("claims", claims)
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

func (s *Server) handleWebSocket(c *websocket.Conn) {
	claims := c.Locals("claims").(*service.JWTClaims)

	client := &ws.Client{
		ID:      uuid.New().String(),
		Subject: claims.Subject,
		Conn:    c,
		Send:    make(chan []byte, 256),
		Hub:     s.deps.Hub,
	}

	s.deps.Hub.Register(client)

	go client.WritePump()
	client.ReadPump()
}

func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown stops accepting requests and messages, then waits for in-flight ones
func (s *Server) Shutdown() error {
	err := s.app.Shutdown()
	s.taskMu.Lock()
	s.draining = true
	s.taskMu.Unlock()
	s.Wait()
	return err
}
