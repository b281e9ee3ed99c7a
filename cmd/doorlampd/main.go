package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"doorlamp-backend/config"
	"doorlamp-backend/internal/api"
	"doorlamp-backend/internal/db"
	"doorlamp-backend/internal/notification"
	"doorlamp-backend/internal/registry"
	"doorlamp-backend/internal/scheduler"
	"doorlamp-backend/internal/store"
	"doorlamp-backend/internal/workflow"
)

func main() {
	// Setup logger
	logger := log.New(os.Stdout, "doorlampd ", log.LstdFlags)

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	// Check for VAPID keys
	if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
		logger.Fatalf("VAPID keys must be configured. Please generate them and add them to your config file.")
	}

	webpushOptions := webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}

	// Initialize database
	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")

	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)
	logger.Println("data store initialized")

	// Device connection registry
	deviceRegistry := registry.New(appStore,
		time.Duration(cfg.Device.PingIntervalSeconds)*time.Second,
		time.Duration(cfg.Device.WriteTimeoutSeconds)*time.Second)

	// Reconciliation scheduler
	schedulerSvc := scheduler.NewService(cfg, appStore, deviceRegistry)
	go schedulerSvc.Run(ctx)

	// Notification worker pool
	workerPool := notification.NewWorkerPool(cfg.WorkerPool.Size, appStore, &webpushOptions)
	workerPool.Start(ctx)

	// Access-request workflow
	workflowSvc := workflow.New(appStore, workerPool, schedulerSvc,
		time.Duration(cfg.Scheduler.RequestTimeoutMinutes)*time.Minute,
		time.Duration(cfg.Scheduler.ApprovalWindowMinutes)*time.Minute)

	// Initialize router
	handler := api.NewHandler(appStore, workflowSvc, schedulerSvc, deviceRegistry, &webpushOptions, cfg.Device)
	router := api.NewRouter(handler, cfg.Server.RateLimitPerSec, cfg.Server.RateLimitBurst,
		time.Duration(cfg.Server.CacheTTLSeconds)*time.Second)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start the server in a goroutine
	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// Block until a signal is received.
	<-stop
	logger.Println("Shutdown signal received, stopping services...")

	// Create a deadline to wait for.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}
	deviceRegistry.CloseAll()

	logger.Println("Server gracefully stopped")
}
