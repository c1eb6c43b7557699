// Package handler provides HTTP handlers for all API endpoints.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/x42/offer-notifier/internal/api/respond"
	"github.com/x42/offer-notifier/internal/config"
	"github.com/x42/offer-notifier/internal/devices"
	"github.com/x42/offer-notifier/internal/notifications"
)

// Notifier runs notification passes and test broadcasts.
type Notifier interface {
	Run(ctx context.Context) (notifications.PassResult, error)
	Broadcast(ctx context.Context) ([]notifications.Ticket, error)
}

// StatsSource reports cache statistics.
type StatsSource interface {
	Stats() map[string]interface{}
}

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	registry devices.Registry
	notifier Notifier
	cache    StatsSource
	cfg      *config.Config
	logger   *slog.Logger
}

// New creates a Handler with shared dependencies. cache may be nil.
func New(registry devices.Registry, notifier Notifier, cache StatsSource, cfg *config.Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry: registry,
		notifier: notifier,
		cache:    cache,
		cfg:      cfg,
		logger:   logger,
	}
}

// Root serves API info at /.
// @Summary API root info
// @Description Returns service name, version, status and configured schedule.
// @Tags meta
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router / [get]
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"name":    "Offer Notification API",
		"version": "1.0.0",
		"status":  "running",
		"docs":    "/api-docs/index.html",
	}
	if h.cfg != nil {
		info["device_store"] = h.cfg.DeviceStore
		info["schedule"] = map[string]interface{}{
			"enabled":  h.cfg.CronEnabled,
			"cron":     h.cfg.CronSchedule,
			"timezone": h.cfg.CronTimezone,
		}
	}
	respond.WriteJSONObject(w, http.StatusOK, info)
}

// HealthCheck returns basic health status.
// @Summary Health check
// @Description Returns basic health status and timestamp.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckDB verifies device store connectivity.
// @Summary Device store health check
// @Description Verifies the device token store is reachable.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health/db [get]
func (h *Handler) HealthCheckDB(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.registry.Ping(ctx); err != nil {
		h.logger.Warn("Device store health check failed", "error", err)
		respond.WriteJSONObject(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":    "unhealthy",
			"database":  "disconnected",
			"error":     "Device store connection check failed",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"database":  "connected",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckCache returns geocode cache statistics.
// @Summary Cache health check
// @Description Returns geocode cache statistics (active keys, expired keys).
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health/cache [get]
func (h *Handler) HealthCheckCache(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{"enabled": false}
	if h.cache != nil {
		stats = h.cache.Stats()
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"cache":     stats,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
