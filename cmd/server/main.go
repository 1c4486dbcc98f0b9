package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wificontrol/wificontrol-pro/internal/api"
	"github.com/wificontrol/wificontrol-pro/internal/domain"
	"github.com/wificontrol/wificontrol-pro/internal/interpreter"
	"github.com/wificontrol/wificontrol-pro/internal/mcptools"
	"github.com/wificontrol/wificontrol-pro/internal/mikrotik"
	"github.com/wificontrol/wificontrol-pro/internal/repository"
	"github.com/wificontrol/wificontrol-pro/internal/service"
	"github.com/wificontrol/wificontrol-pro/internal/storage"
	"github.com/wificontrol/wificontrol-pro/internal/whatsapp"
	"github.com/wificontrol/wificontrol-pro/internal/ws"
	"github.com/wificontrol/wificontrol-pro/pkg/cache"
	"github.com/wificontrol/wificontrol-pro/pkg/config"
	"github.com/wificontrol/wificontrol-pro/pkg/database"
)

const version = "1.0.0"

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Run migrations
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Initialize storage (MinIO) for failure archives
	var store *storage.Storage
	if cfg.MinioEndpoint != "" {
		store, err = storage.New(storage.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Printf("Warning: Failed to initialize storage: %v (failure archive disabled)", err)
			store = nil
		} else {
			log.Printf("✅ MinIO storage initialized at %s", cfg.MinioEndpoint)
		}
	}

	// Initialize Redis cache (message dedup and reminder throttling)
	var redisCache *cache.Cache
	if cfg.RedisURL != "" {
		redisCache, err = cache.New(cfg.RedisURL)
		if err != nil {
			log.Printf("Warning: Failed to initialize Redis cache: %v (using in-process dedup)", err)
			redisCache = nil
		} else {
			log.Printf("✅ Redis cache initialized")
			defer redisCache.Close()
		}
	}
	// Initialize repositories
	repos := repository.NewRepositories(db)

	var guard service.MessageGuard = service.NewMemoryGuard()
	var clients service.ClientLookup = repos.Client
	if redisCache != nil {
		guard = redisCache
		clients = service.NewCachedClients(repos.Client, redisCache)
	}

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Interpreter and router executor
	if cfg.GeminiAPIKey == "" {
		log.Printf("Warning: GEMINI_API_KEY is not set, every message will fail interpretation")
	}
	interp := interpreter.New(interpreter.NewGeminiClient(interpreter.GeminiConfig{
		APIKey: cfg.GeminiAPIKey,
		Model:  cfg.GeminiModel,
	}))
	executor := mikrotik.NewExecutor(
		&mikrotik.RouterOSDialer{Timeout: cfg.RouterDialTimeout},
		mikrotik.Targets{
			SecurityProfile:   cfg.RouterSecurityProfile,
			WirelessInterface: cfg.RouterWirelessIface,
		},
	)
	creds := cfg.RouterCredentials()
	if !creds.Complete() {
		log.Printf("Warning: MikroTik credentials are incomplete, router commands will be refused")
	}

	// WhatsApp transport
	var replier service.Replier
	var device *whatsapp.Device
	if cfg.DeviceMode() {
		device, err = whatsapp.NewDevice(cfg.DatabaseURL, hub)
		if err != nil {
			log.Fatalf("Failed to initialize WhatsApp device: %v", err)
		}
		replier = device
		log.Printf("✅ WhatsApp linked device mode")
	} else {
		replier = whatsapp.NewCloudClient(cfg.WhatsAppAccessToken, cfg.WhatsAppPhoneNumberID, "")
		log.Printf("✅ WhatsApp Cloud API mode")
	}

	// Initialize services
	commandDeps := service.CommandDeps{
		Interpreter:      interp,
		Executor:         executor,
		Replier:          replier,
		Logs:             repos.CommandLog,
		Clients:          clients,
		Guard:            guard,
		Hub:              hub,
		Credentials:      creds,
		InterpretTimeout: cfg.InterpretTimeout,
	}
	if store != nil {
		commandDeps.Archive = store
	}
	services := &service.Services{
		Auth:     service.NewAuthService(cfg.JWTSecret),
		Command:  service.NewCommandService(commandDeps),
		Billing:  service.NewBillingService(repos.Transaction, repos.Client, hub),
		Reminder: service.NewReminderService(repos.Client, replier, guard, hub, cfg.CreditReminderThreshold, cfg.CreditReminderInterval),
	}

	// Initialize API server
	deps := api.Dependencies{
		Processor: services.Command,
		Billing:   services.Billing,
		Auth:      services.Auth,
		Commands:  repos.CommandLog,
		Hub:       hub,
	}
	if device != nil {
		deps.Device = device
	}
	server := api.NewServer(cfg, deps)

	// Linked device messages go through the same pipeline as webhook deliveries
	if device != nil {
		device.OnMessage(func(ctx context.Context, msg domain.InboundMessage) {
			server.Dispatch(msg)
		})
		if err := device.Reconnect(context.Background()); err != nil {
			log.Printf("Warning: Failed to reconnect WhatsApp device: %v", err)
		}
	}

	// Start credit reminder worker
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	reminderDone := make(chan struct{})
	go func() {
		defer close(reminderDone)
		services.Reminder.Start(workerCtx)
	}()

	// Operator MCP tools (optional)
	var mcpServer *mcptools.Server
	if cfg.MCPAddr != "" {
		tools := mcptools.Tools{
			Interpreter: interp,
			Executor:    executor,
			Commands:    repos.CommandLog,
			Credentials: creds,
		}
		if store != nil {
			tools.Archive = store
		}
		mcpServer = mcptools.NewServer(tools, version)
		go func() {
			if err := mcpServer.Start(cfg.MCPAddr); err != nil && err != http.ErrServerClosed {
				log.Printf("[MCP] Server error: %v", err)
			}
		}()
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-quit
		log.Println("Shutting down server...")

		stopWorkers()
		<-reminderDone

		if mcpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := mcpServer.Shutdown(ctx); err != nil {
				log.Printf("[MCP] Shutdown error: %v", err)
			}
			cancel()
		}

		// Stop the linked device first so it cannot dispatch while the server drains
		if device != nil {
			device.Shutdown()
		}

		// Stops accepting requests and drains in-flight messages
		if err := server.Shutdown(); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}

		hub.Stop()
	}()

	// Start server
	log.Printf("🚀 WIFIControl Pro starting on port %s", cfg.Port)
	if err := server.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	<-shutdownDone
	log.Println("Server stopped")
}
