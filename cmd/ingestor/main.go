package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	natsadapter "github.com/samirrijal/nearby/internal/adapters/nats"
	"github.com/samirrijal/nearby/internal/adapters/postgres"
	"github.com/samirrijal/nearby/internal/core/domain"
	"github.com/samirrijal/nearby/internal/core/ports"
	"github.com/samirrijal/nearby/internal/pkg/config"
	"github.com/samirrijal/nearby/internal/pkg/logging"
)

const upsertChunk = 500

func main() {
	cfg, err := config.Load("nearby-ingestor")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Telemetry.ServiceName, cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.New(ctx, cfg.Database.DSN(), 10)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	ing := &ingestor{
		repo:   postgres.NewPOIRepo(db),
		client: &http.Client{Timeout: cfg.Ingest.HTTPTimeout},
		feeds:  cfg.Ingest,
	}

	if nc, err := natsadapter.Connect(cfg.NATS.URL, "nearby-ingestor"); err != nil {
		slog.Warn("nats unavailable, cached results will expire on their own", "error", err)
	} else {
		defer nc.Drain()
		if pub, err := natsadapter.NewPublisher(nc); err != nil {
			slog.Warn("jetstream unavailable", "error", err)
		} else {
			ing.events = pub
		}
	}

	if err := ing.run(ctx); err != nil {
		slog.Error("ingestion failed", "error", err)
	}
	if cfg.Ingest.Interval <= 0 {
		return
	}

	ticker := time.NewTicker(cfg.Ingest.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("ingestor stopped")
			return
		case <-ticker.C:
			if err := ing.run(ctx); err != nil {
				slog.Error("ingestion failed", "error", err)
			}
		}
	}
}

type ingestor struct {
	repo   ports.POIRepository
	events ports.EventPublisher // nil without NATS
	client *http.Client
	feeds  config.IngestConfig
}

// run ingests every configured feed concurrently. A failing feed does not
// stop the others; the first error is returned.
func (in *ingestor) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(3)

	if in.feeds.GTFSBusURL != "" {
		g.Go(func() error { return in.gtfs(ctx, in.feeds.GTFSBusURL, domain.CategoryBus, "bus") })
	}
	if in.feeds.GTFSSubwayURL != "" {
		g.Go(func() error { return in.gtfs(ctx, in.feeds.GTFSSubwayURL, domain.CategorySubway, "subway") })
	}
	if in.feeds.GBFSURL != "" {
		g.Go(func() error { return in.gbfs(ctx, in.feeds.GBFSURL) })
	}
	return g.Wait()
}

func (in *ingestor) gtfs(ctx context.Context, url string, category domain.Category, prefix string) error {
	start := time.Now()
	data, err := download(ctx, in.client, url)
	if err != nil {
		slog.Error("gtfs download failed", "category", category, "error", err)
		return err
	}
	feed, err := parseGTFS(data, category, prefix)
	if err != nil {
		slog.Error("gtfs parse failed", "category", category, "error", err)
		return err
	}

	if err := in.store(ctx, category, feed.Stops); err != nil {
		return err
	}
	if len(feed.RouteStops) > 0 {
		if err := in.upsert(ctx, feed.RouteStops); err != nil {
			return err
		}
		if err := in.repo.ReplaceRoutes(ctx, feed.Scopes); err != nil {
			slog.Error("route scopes failed", "category", category, "error", err)
			return err
		}
		in.publish(ctx, domain.CategoryRouteStop)
	}

	slog.Info("gtfs ingested",
		"category", category,
		"stops", len(feed.Stops),
		"route_stops", len(feed.RouteStops),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return nil
}

func (in *ingestor) gbfs(ctx context.Context, url string) error {
	stations, err := fetchGBFS(ctx, in.client, url, "bike")
	if err != nil {
		slog.Error("gbfs fetch failed", "error", err)
		return err
	}
	if err := in.store(ctx, domain.CategoryBike, stations); err != nil {
		return err
	}
	slog.Info("gbfs ingested", "stations", len(stations))
	return nil
}

// store upserts pois and tells the API instances to drop cached results of
// the category.
func (in *ingestor) store(ctx context.Context, category domain.Category, pois []domain.POI) error {
	if err := in.upsert(ctx, pois); err != nil {
		slog.Error("upsert failed", "category", category, "error", err)
		return err
	}
	in.publish(ctx, category)
	return nil
}

func (in *ingestor) upsert(ctx context.Context, pois []domain.POI) error {
	for start := 0; start < len(pois); start += upsertChunk {
		end := min(start+upsertChunk, len(pois))
		if err := in.repo.UpsertBatch(ctx, pois[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (in *ingestor) publish(ctx context.Context, category domain.Category) {
	if in.events == nil {
		return
	}
	if err := in.events.PublishPOIsUpdated(ctx, category); err != nil {
		slog.Warn("publish pois updated failed", "category", category, "error", err)
	}
}
