package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"golang.org/x/sync/errgroup"

	"github.com/samirrijal/nearby/internal/adapters/http"
	natsadapter "github.com/samirrijal/nearby/internal/adapters/nats"
	"github.com/samirrijal/nearby/internal/adapters/postgres"
	"github.com/samirrijal/nearby/internal/adapters/valkey"
	"github.com/samirrijal/nearby/internal/core/domain"
	"github.com/samirrijal/nearby/internal/core/ports"
	"github.com/samirrijal/nearby/internal/core/proximity"
	"github.com/samirrijal/nearby/internal/core/usecases"
	"github.com/samirrijal/nearby/internal/pkg/config"
	"github.com/samirrijal/nearby/internal/pkg/logging"
	"github.com/samirrijal/nearby/internal/pkg/telemetry"
)

func main() {
	cfg, err := config.Load("nearby-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.Setup(cfg.Telemetry.ServiceName, cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.TempoAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	// Database
	db, err := postgres.New(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	// Cache
	var cache ports.CacheService
	valkeyCache, err := valkey.New(cfg.Valkey.Addr)
	if err != nil {
		slog.Warn("valkey unavailable, searches go straight to the database", "error", err)
	} else {
		defer valkeyCache.Close()
		cache = valkeyCache
	}

	// Use cases
	pois := usecases.NewPOIService(postgres.NewPOIRepo(db), cache, cfg.Proximity.Radius)
	favorites := usecases.NewFavoriteService(postgres.NewFavoriteRepo(db))
	nearby := usecases.NewNearbyService(pois, favorites, nearbyConfig(cfg.Proximity, logger))
	defer nearby.Close()

	deps := &http.Dependencies{
		Nearby:    nearby,
		POIs:      pois,
		DB:        db,
		Cache:     valkeyCache,
		RateLimit: cfg.Server.RateLimit,
	}

	// NATS
	nc, err := natsadapter.Connect(cfg.NATS.URL, cfg.Telemetry.ServiceName)
	if err != nil {
		slog.Warn("nats unavailable, invalidations stay local", "error", err)
	} else {
		deps.NATS = nc
		if pub, err := natsadapter.NewPublisher(nc); err != nil {
			slog.Warn("jetstream publisher unavailable", "error", err)
		} else {
			deps.Events = pub
		}
		sub, err := natsadapter.NewSubscriber(nc)
		if err != nil {
			slog.Warn("nats subscriber unavailable", "error", err)
		} else {
			defer sub.Close()
			if err := subscribe(ctx, sub, nearby); err != nil {
				slog.Warn("nats subscribe failed", "error", err)
			}
		}
	}

	// Fiber
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    1024 * 1024, // 1 MB max request body
		AppName:      "Nearby API",
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, " + http.HeaderUserID,
		MaxAge:       3600,
	}))
	http.SetupRoutes(app, deps)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr)
		return app.Listen(addr)
	})
	g.Go(func() error {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				db.ReportMetrics()
			case <-gctx.Done():
				return nil
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, draining connections...")

		// Give in-flight requests up to 10s to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("server stopped with error", "error", err)
	}
	slog.Info("server stopped")
}

// subscribe routes broker events into the engines.
func subscribe(ctx context.Context, sub ports.EventSubscriber, nearby *usecases.NearbyService) error {
	if err := sub.SubscribePOIUpdates(ctx, func(ctx context.Context, category domain.Category) error {
		slog.Info("pois updated", "category", category)
		return nearby.InvalidateCategory(ctx, category)
	}); err != nil {
		return err
	}
	return sub.SubscribeFavoriteChanges(ctx, nearby.FavoritesChanged)
}

func nearbyConfig(p config.ProximityConfig, logger *slog.Logger) usecases.NearbyConfig {
	policies := make(map[domain.Category]proximity.Policy, len(p.TTL))
	for name, ttl := range p.TTL {
		category, err := domain.ParseCategory(name)
		if err != nil {
			slog.Warn("ignoring ttl of unknown category", "category", name)
			continue
		}
		policies[category] = proximity.Policy{TTL: ttl, MinMove: p.MinMove, Limit: p.Limit}
	}

	return usecases.NearbyConfig{
		Coordinator: proximity.CoordinatorConfig{
			ForceCooldown:  p.ForceCooldown,
			PreemptTimeout: p.PreemptTimeout,
			StoreTimeout:   p.StoreTimeout,
		},
		Judge: proximity.RelevanceJudge{
			AccuracyTolerance: p.AccuracyTolerance,
			StaleAfter:        p.StaleAfter,
		},
		Default:  proximity.Policy{MinMove: p.MinMove, Limit: p.Limit},
		Policies: policies,
		Compass: proximity.CompassConfig{
			MinInterval: p.CompassInterval,
			MinDelta:    p.CompassDelta,
		},
		NotifyInterval:       p.NotifyInterval,
		FavoritePollInterval: p.FavoritePollInterval,
		Logger:               logger,
	}
}
