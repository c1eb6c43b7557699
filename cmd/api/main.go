// Command api is the offer notification server.
//
// Usage:
//
//	offer-notifier-api
//	PORT=8080 CRON_SCHEDULE="30 18 * * *" offer-notifier-api

// @title Offer Notification API
// @version 1.0.0
// @description Registers Expo push tokens and sends each user one promotional offer notification, chosen from favorites, proximity and offer expiry.
// @host localhost:4003
// @BasePath /
// @schemes http https
// @contact.name x42
// @license.name MIT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/x42/offer-notifier/internal/api"
	"github.com/x42/offer-notifier/internal/app"
	"github.com/x42/offer-notifier/internal/config"
	"github.com/x42/offer-notifier/internal/scheduler"

	_ "github.com/x42/offer-notifier/docs" // swagger docs
)

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: app.ParseLogLevel(os.Getenv("LOG_LEVEL")),
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Connect to the device store
	registry, closeRegistry, err := app.OpenRegistry(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to open device store", "store", cfg.DeviceStore, "error", err)
		os.Exit(1)
	}
	defer closeRegistry()

	svc := app.NewServices(ctx, cfg, registry, logger)
	logger.Info("Geocode cache initialized", "enabled", cfg.CacheEnabled)

	// Start the daily notification pass
	if cfg.CronEnabled {
		sched, err := scheduler.New(cfg.CronSchedule, cfg.Location, func(ctx context.Context) error {
			_, err := svc.Pipeline.Run(ctx)
			return err
		}, logger)
		if err != nil {
			logger.Error("Failed to create scheduler", "error", err)
			os.Exit(1)
		}
		go func() {
			if err := sched.Start(ctx); err != nil {
				logger.Error("Scheduler failed", "error", err)
			}
		}()
	} else {
		logger.Info("Notification scheduler disabled (CRON_ENABLED=false)")
	}

	// Create router
	router := api.NewRouter(registry, svc.Pipeline, svc.GeocodeCache, cfg, logger)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute, // POST /run geocodes and sends synchronously
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Info("Starting offer notification API",
			"addr", addr,
			"environment", cfg.Environment,
			"device_store", cfg.DeviceStore,
			"docs", fmt.Sprintf("http://localhost:%d/api-docs/index.html", cfg.APIPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt
	<-ctx.Done()
	logger.Info("Shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	logger.Info("Server stopped")
}
