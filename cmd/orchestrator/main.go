package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/donna-assistant/donna/internal/common/config"
	"github.com/donna-assistant/donna/internal/common/logger"
	"github.com/donna-assistant/donna/internal/events/bus"
	"github.com/donna-assistant/donna/internal/notify"
	"github.com/donna-assistant/donna/internal/sandbox"
	"github.com/donna-assistant/donna/internal/session"
	sessionapi "github.com/donna-assistant/donna/internal/session/api"
	"github.com/donna-assistant/donna/internal/session/record"
	"github.com/donna-assistant/donna/internal/session/registry"
	"github.com/donna-assistant/donna/internal/session/runner"
	"github.com/donna-assistant/donna/internal/streaming"
	"github.com/donna-assistant/donna/internal/workspace"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting session orchestrator...")

	// 3. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Connect the event bus; an empty NATS URL selects the in-memory bus
	var eventBus bus.EventBus
	if cfg.NATS.URL != "" {
		natsBus, err := bus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		eventBus = natsBus
		log.Info("Connected to NATS event bus", zap.String("url", cfg.NATS.URL))
	} else {
		eventBus = bus.NewMemoryEventBus(log)
		log.Info("Using in-memory event bus")
	}
	defer eventBus.Close()

	// 5. Open the lifecycle record store
	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to open record store", zap.Error(err))
	}
	defer store.Close()
	log.Info("Opened record store", zap.String("driver", cfg.Database.Driver))

	// 6. Initialize the workspace manager
	workspaces, err := workspace.NewManager(workspace.Config{
		RepoPath:     cfg.Workspace.RepoPath,
		BasePath:     cfg.Workspace.BasePath,
		BaseBranch:   cfg.Workspace.BaseBranch,
		BranchPrefix: cfg.Workspace.BranchPrefix,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize workspace manager", zap.Error(err))
	}

	// 7. Pick the runner factory: local subprocess or Docker sandbox
	runnerCfg := runner.Config{
		Command:      cfg.Agent.Command,
		Args:         cfg.Agent.Args,
		SystemPrompt: cfg.Agent.SystemPrompt,
	}
	var factory runner.Factory
	if cfg.Sandbox.Enabled {
		dockerClient, err := sandbox.NewClient(cfg.Sandbox, log)
		if err != nil {
			log.Fatal("Failed to initialize Docker sandbox", zap.Error(err))
		}
		defer dockerClient.Close()

		if err := dockerClient.Ping(ctx); err != nil {
			log.Fatal("Failed to connect to Docker daemon", zap.Error(err))
		}
		log.Info("Connected to Docker daemon", zap.String("image", cfg.Sandbox.Image))
		factory = runner.NewSandboxFactory(runnerCfg, cfg.Sandbox, dockerClient, log)
	} else {
		factory = runner.NewProcessFactory(runnerCfg, log)
	}

	// 8. Initialize the notification bridge
	var channel notify.Channel
	if cfg.Notify.Enabled {
		channel = notify.NewTelegramChannel(cfg.Notify.BotToken, cfg.Notify.ChatID)
		log.Info("Notification channel enabled")
	}
	bridge := notify.NewBridge(channel, log)

	// 9. Build the session service and resolve zombie sessions from a
	// previous run before accepting new work
	reg := registry.New()
	svc := session.NewService(reg, store, workspaces, factory, bridge, eventBus, log)

	if err := svc.Reconcile(ctx); err != nil {
		log.Error("Session reconciliation incomplete", zap.Error(err))
	}

	// 10. Start the WebSocket hub and wire it to the bus
	hub := streaming.NewHub(log)
	go hub.Run(ctx)
	busSub, err := hub.AttachBus(eventBus)
	if err != nil {
		log.Fatal("Failed to subscribe hub to event bus", zap.Error(err))
	}
	defer busSub.Unsubscribe()

	// 11. Setup HTTP server with Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	v1 := router.Group("/api/v1")
	sessionapi.SetupRoutes(v1, svc, store, log)

	wsHandler := streaming.NewHandler(hub, log)
	router.GET("/ws", wsHandler.Serve)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":        "ok",
			"live_sessions": reg.Len(),
			"bus_connected": eventBus.IsConnected(),
		})
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	// 12. Start server in goroutine
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// 13. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down session orchestrator...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	log.Info("Session orchestrator stopped")
}

// openStore selects the record store implementation from the configured
// driver.
func openStore(ctx context.Context, cfg *config.Config) (record.Store, error) {
	switch cfg.Database.Driver {
	case "postgres":
		return record.NewPostgresStore(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
	case "memory":
		return record.NewMemoryStore(), nil
	default:
		path, err := expandHome(cfg.Database.Path)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		return record.NewSQLiteStore(path)
	}
}

func expandHome(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}
