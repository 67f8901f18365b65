package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/PeterSaffarian/replit-propertyrecommender/internal/api"
	"github.com/PeterSaffarian/replit-propertyrecommender/internal/common/config"
	"github.com/PeterSaffarian/replit-propertyrecommender/internal/common/logger"
	"github.com/PeterSaffarian/replit-propertyrecommender/internal/common/tracing"
	"github.com/PeterSaffarian/replit-propertyrecommender/internal/events"
	gateway "github.com/PeterSaffarian/replit-propertyrecommender/internal/gateway/websocket"
	"github.com/PeterSaffarian/replit-propertyrecommender/internal/session"
	"github.com/PeterSaffarian/replit-propertyrecommender/internal/session/transcript"
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
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting relay server...")

	// 3. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Connect the event bus (NATS when configured, in-memory otherwise)
	provided, busCleanup, err := events.Provide(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize event bus", zap.Error(err))
	}
	defer busCleanup()

	// 5. Open the transcript store
	store, err := transcript.NewStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to open transcript store", zap.Error(err))
	}
	defer store.Close()
	log.Info("Transcript store ready", zap.String("backend", cfg.Transcript.Backend))

	// 6. Initialize the session manager
	manager := session.NewManager(cfg, provided.Bus, store, log)
	manager.Start()

	// 7. Setup HTTP server with Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(api.Recovery(log))
	router.Use(api.RequestLogger(log))
	router.Use(api.OtelTracing("relay-server"))
	router.Use(api.CORS())

	// 8. Register the websocket gateway and REST routes
	ws := gateway.NewGateway(ctx, manager, provided.Bus, log)
	go ws.Hub.Run(ctx)
	ws.SetupRoutes(router)

	api.SetupRoutes(router, manager, log)

	// 9. Create HTTP server
	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	// 10. Start server in goroutine
	go func() {
		log.Info("HTTP server listening", zap.Int("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// 11. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down relay server...")

	// 12. Graceful shutdown
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := manager.Shutdown(shutdownCtx); err != nil {
		log.Error("Session manager shutdown error", zap.Error(err))
	}

	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Error("Tracing shutdown error", zap.Error(err))
	}

	log.Info("Relay server stopped")
}
