// Package config provides centralized configuration loaded from environment
// variables. Shared by both cmd/api and cmd/notify.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Device store backends.
const (
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
)

// --------------------------------------------------------------------------
// Config struct (populated from environment variables)
// --------------------------------------------------------------------------

type Config struct {
	// Device store
	DeviceStore string // postgres | mongo

	// PostgreSQL
	DatabaseURL    string
	DBPoolMinConns int
	DBPoolMaxConns int
	DBPoolMaxLife  time.Duration

	// MongoDB
	MongoURI            string
	MongoDatabase       string
	MongoConnectTimeout time.Duration

	// API server
	APIHost     string
	APIPort     int
	Environment string // development, staging, production
	LogLevel    string

	// CORS
	CORSAllowOrigins []string

	// Rate limiting
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Collaborators
	UserServiceURL    string
	CatalogFile       string
	GeocoderURL       string
	GeocoderUserAgent string
	GeocoderRPS       float64
	ExpoPushURL       string
	ExpoAccessToken   string
	PushEnabled       bool

	// Notification pass
	CronEnabled       bool
	CronSchedule      string
	CronTimezone      string
	Location          *time.Location
	NotifyWorkers     int
	LookupTimeout     time.Duration
	ProximityRadiusKm float64

	// Cache
	CacheEnabled bool
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	mongoURI := envOr("MONGODB_URI", "")
	defaultStore := StorePostgres
	if mongoURI != "" {
		defaultStore = StoreMongo
	}

	cfg := &Config{
		DeviceStore: strings.ToLower(envOr("DEVICE_STORE", defaultStore)),

		DatabaseURL:    envOr("DATABASE_URL", ""),
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 2),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 10),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,

		MongoURI:            mongoURI,
		MongoDatabase:       envOr("MONGODB_DATABASE", "notification-service"),
		MongoConnectTimeout: envDuration("MONGO_CONNECT_TIMEOUT", 10*time.Second),

		APIHost:     envOr("API_HOST", "0.0.0.0"),
		APIPort:     envInt("API_PORT", envInt("PORT", 4003)),
		Environment: envOr("ENVIRONMENT", "development"),
		LogLevel:    envOr("LOG_LEVEL", "info"),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{"*"}),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		UserServiceURL:    envOr("API_URL", ""),
		CatalogFile:       envOr("CATALOG_FILE", "services/establishments.json"),
		GeocoderURL:       envOr("GEOCODER_URL", "https://nominatim.openstreetmap.org/search"),
		GeocoderUserAgent: envOr("GEOCODER_USER_AGENT", "x42-f222w"),
		GeocoderRPS:       envFloat("GEOCODER_REQUESTS_PER_SECOND", 1),
		ExpoPushURL:       envOr("EXPO_PUSH_URL", "https://exp.host/--/api/v2/push/send"),
		ExpoAccessToken:   envOr("EXPO_ACCESS_TOKEN", ""),
		PushEnabled:       envBool("PUSH_ENABLED", true),

		CronEnabled:       envBool("CRON_ENABLED", true),
		CronSchedule:      envOr("CRON_SCHEDULE", "00 19 * * *"),
		CronTimezone:      envOr("CRON_TIMEZONE", "Europe/Lisbon"),
		NotifyWorkers:     envInt("NOTIFY_WORKERS", 4),
		LookupTimeout:     envDuration("LOOKUP_TIMEOUT", 10*time.Second),
		ProximityRadiusKm: envFloat("PROXIMITY_RADIUS_KM", 1),

		CacheEnabled: envBool("CACHE_ENABLED", true),
	}

	loc, err := time.LoadLocation(cfg.CronTimezone)
	if err != nil {
		return nil, fmt.Errorf("CRON_TIMEZONE %q: %w", cfg.CronTimezone, err)
	}
	cfg.Location = loc

	switch cfg.DeviceStore {
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL must be set when DEVICE_STORE=%s", StorePostgres)
		}
	case StoreMongo:
		if cfg.MongoURI == "" {
			return nil, fmt.Errorf("MONGODB_URI must be set when DEVICE_STORE=%s", StoreMongo)
		}
	default:
		return nil, fmt.Errorf("DEVICE_STORE must be %q or %q, got %q", StorePostgres, StoreMongo, cfg.DeviceStore)
	}

	return cfg, nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Now returns the current time in the notification timezone.
func (c *Config) Now() time.Time {
	if c.Location == nil {
		return time.Now()
	}
	return time.Now().In(c.Location)
}

// --------------------------------------------------------------------------
// Env helpers
// --------------------------------------------------------------------------

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

// envDuration accepts Go duration strings ("15s") or a bare number of seconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
