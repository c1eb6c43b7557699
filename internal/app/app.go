// Package app wires the notifier's collaborators from configuration. Both
// commands build their dependencies here.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/x42/offer-notifier/internal/cache"
	"github.com/x42/offer-notifier/internal/catalog"
	"github.com/x42/offer-notifier/internal/config"
	"github.com/x42/offer-notifier/internal/db"
	"github.com/x42/offer-notifier/internal/devices"
	"github.com/x42/offer-notifier/internal/external"
	"github.com/x42/offer-notifier/internal/geo"
	"github.com/x42/offer-notifier/internal/notifications"
	"github.com/x42/offer-notifier/internal/selection"
)

// OpenRegistry connects to the configured device store. The returned func
// releases the connection.
func OpenRegistry(ctx context.Context, cfg *config.Config, logger *slog.Logger) (devices.Registry, func(), error) {
	switch cfg.DeviceStore {
	case config.StoreMongo:
		return openMongo(ctx, cfg, logger)
	case config.StorePostgres:
		logger.Info("Connecting to database...")
		pool, err := db.New(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Database connected",
			"min_conns", cfg.DBPoolMinConns,
			"max_conns", cfg.DBPoolMaxConns)
		return devices.NewPostgresRegistry(pool.Pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown device store %q", cfg.DeviceStore)
	}
}

func openMongo(ctx context.Context, cfg *config.Config, logger *slog.Logger) (devices.Registry, func(), error) {
	logger.Info("Connecting to MongoDB...", "database", cfg.MongoDatabase)

	connectCtx, cancel := context.WithTimeout(ctx, cfg.MongoConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().
		ApplyURI(cfg.MongoURI).
		SetServerSelectionTimeout(cfg.MongoConnectTimeout))
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongo: %w", err)
	}
	closeFn := func() {
		if err := client.Disconnect(context.Background()); err != nil {
			logger.Warn("MongoDB disconnect failed", "error", err)
		}
	}

	registry, err := devices.NewMongoRegistry(connectCtx, client, client.Database(cfg.MongoDatabase), devices.DefaultMongoCollection)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	if err := registry.Ping(connectCtx); err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("ping mongo: %w", err)
	}
	logger.Info("MongoDB connected", "collection", devices.DefaultMongoCollection)
	return registry, closeFn, nil
}

// Services are the collaborators of a notification pass.
type Services struct {
	GeocodeCache *cache.Cache[*geo.Point]
	Geocoder     *external.Geocoder
	Users        *external.UserService
	Engine       *selection.Engine
	Sender       *notifications.ExpoSender
	Pipeline     *notifications.Pipeline
}

// NewServices builds the pass collaborators around registry. The geocode
// cache's eviction loop stops with ctx.
func NewServices(ctx context.Context, cfg *config.Config, registry devices.Registry, logger *slog.Logger) *Services {
	geocodeCache := cache.New[*geo.Point](ctx, cfg.CacheEnabled)
	geocoder := external.NewGeocoder(cfg.GeocoderURL, cfg.GeocoderUserAgent, cfg.GeocoderRPS, geocodeCache, logger)

	users := external.NewUserService(cfg.UserServiceURL)
	if !users.Configured() {
		logger.Warn("API_URL not set, every user lookup will fail")
	}

	engine := selection.NewEngine(geocoder, logger,
		selection.WithRadiusKm(cfg.ProximityRadiusKm),
		selection.WithLookupTimeout(cfg.LookupTimeout))

	sender := notifications.NewExpoSender(cfg.PushEnabled, cfg.ExpoPushURL, cfg.ExpoAccessToken, logger)
	if sender == nil {
		logger.Info("Push delivery disabled (PUSH_ENABLED=false)")
	}

	pipeline := notifications.NewPipeline(
		catalog.FileSource{Path: cfg.CatalogFile},
		registry, users, engine, sender, logger,
		notifications.WithWorkers(cfg.NotifyWorkers),
		notifications.WithLookupTimeout(cfg.LookupTimeout),
		notifications.WithClock(cfg.Now),
	)

	return &Services{
		GeocodeCache: geocodeCache,
		Geocoder:     geocoder,
		Users:        users,
		Engine:       engine,
		Sender:       sender,
		Pipeline:     pipeline,
	}
}

// ParseLogLevel maps LOG_LEVEL values to slog levels, defaulting to info.
func ParseLogLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
