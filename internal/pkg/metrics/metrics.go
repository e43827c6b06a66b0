package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nearby",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "nearby",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "path"})

	httpResponseSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "nearby",
		Subsystem: "http",
		Name:      "response_size_bytes",
		Help:      "HTTP response size in bytes",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
	}, []string{"method", "path"})

	// Proximity engine metrics
	SearchesStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nearby",
		Subsystem: "proximity",
		Name:      "searches_started_total",
		Help:      "Background nearby searches started",
	}, []string{"category"})

	SearchesFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nearby",
		Subsystem: "proximity",
		Name:      "searches_finished_total",
		Help:      "Background nearby searches by outcome (ok, empty, error, discarded)",
	}, []string{"category", "outcome"})

	SearchesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nearby",
		Subsystem: "proximity",
		Name:      "searches_skipped_total",
		Help:      "Refresh requests that did not start a search, by reason",
	}, []string{"reason"})

	EmptyFirstPageRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nearby",
		Subsystem: "proximity",
		Name:      "empty_first_page_retries_total",
		Help:      "Retries issued after an empty first page",
	}, []string{"category"})

	StoreDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "nearby",
		Subsystem: "proximity",
		Name:      "store_duration_seconds",
		Help:      "Latency of POI store lookups",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"category"})

	NotificationsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nearby",
		Subsystem: "proximity",
		Name:      "notifications_emitted_total",
		Help:      "Update notifications delivered to consumers",
	})

	NotificationsSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nearby",
		Subsystem: "proximity",
		Name:      "notifications_suppressed_total",
		Help:      "Update notifications suppressed, by reason",
	}, []string{"reason"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nearby",
		Subsystem: "ws",
		Name:      "active_sessions",
		Help:      "Current number of open nearby WebSocket sessions",
	})

	WSMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nearby",
		Subsystem: "ws",
		Name:      "messages_total",
		Help:      "WebSocket messages by direction and type",
	}, []string{"direction", "type"})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nearby",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total cache hits",
	}, []string{"operation"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nearby",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total cache misses",
	}, []string{"operation"})

	// Database pool metrics
	DBPoolConnsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nearby",
		Subsystem: "db",
		Name:      "pool_conns_open",
		Help:      "Total connections open in the database pool",
	})

	DBPoolConnsAcquired = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nearby",
		Subsystem: "db",
		Name:      "pool_conns_acquired",
		Help:      "Connections currently acquired from the database pool",
	})

	DBPoolConnsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nearby",
		Subsystem: "db",
		Name:      "pool_conns_idle",
		Help:      "Idle connections in the database pool",
	})
)

// Middleware records request metrics.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Response().StatusCode())
		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		method := c.Method()

		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)
		httpResponseSize.WithLabelValues(method, path).Observe(float64(len(c.Response().Body())))

		return err
	}
}

// Handler returns a Fiber handler serving Prometheus /metrics endpoint.
func Handler() fiber.Handler {
	handler := promhttp.Handler()
	return func(c *fiber.Ctx) error {
		fasthttpadaptor.NewFastHTTPHandler(handler)(c.Context())
		return nil
	}
}

// PoolStat is the subset of pgxpool.Stat read by UpdateDBPoolMetrics.
type PoolStat interface {
	AcquiredConns() int32
	IdleConns() int32
	TotalConns() int32
}

// UpdateDBPoolMetrics copies connection pool gauges from a pool snapshot.
func UpdateDBPoolMetrics(s PoolStat) {
	DBPoolConnsAcquired.Set(float64(s.AcquiredConns()))
	DBPoolConnsIdle.Set(float64(s.IdleConns()))
	DBPoolConnsOpen.Set(float64(s.TotalConns()))
}
