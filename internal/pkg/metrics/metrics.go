package metrics

import (
	"reflect"
	"strconv"
	"strings"
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
		Namespace: "street2sat",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "street2sat",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "path"})

	httpResponseSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "street2sat",
		Subsystem: "http",
		Name:      "response_size_bytes",
		Help:      "HTTP response size in bytes",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
	}, []string{"method", "path"})

	// Pipeline metrics
	ObservationsBuilt = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "street2sat",
		Subsystem: "pipeline",
		Name:      "observations_built_total",
		Help:      "Images turned into observations, by outcome",
	}, []string{"outcome"})

	DetectionsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "street2sat",
		Subsystem: "pipeline",
		Name:      "detections_dropped_total",
		Help:      "Detections excluded from distance estimation, by reason",
	}, []string{"reason"})

	Triangulations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "street2sat",
		Subsystem: "pipeline",
		Name:      "triangulations_total",
		Help:      "Triangulation runs, by outcome",
	}, []string{"outcome"})

	TriangulationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "street2sat",
		Subsystem: "pipeline",
		Name:      "triangulation_duration_seconds",
		Help:      "Duration of one triangulation run including persistence",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	CropLocationsProduced = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "street2sat",
		Subsystem: "pipeline",
		Name:      "crop_locations_total",
		Help:      "Projected crop locations, by crop",
	}, []string{"crop"})

	DetectorDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "street2sat",
		Subsystem: "detector",
		Name:      "request_duration_seconds",
		Help:      "Latency of detector model calls",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})

	DetectorErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "street2sat",
		Subsystem: "detector",
		Name:      "errors_total",
		Help:      "Failed detector model calls",
	})

	UploadEventsHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "street2sat",
		Subsystem: "inference",
		Name:      "events_handled_total",
		Help:      "Upload and deletion events handled, by kind and outcome",
	}, []string{"kind", "outcome"})

	ActiveWebSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "street2sat",
		Subsystem: "ws",
		Name:      "active_connections",
		Help:      "Current number of active WebSocket connections",
	})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "street2sat",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total cache hits",
	}, []string{"operation"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "street2sat",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total cache misses",
	}, []string{"operation"})

	// Database pool metrics
	DBPoolConnsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "street2sat",
		Subsystem: "db",
		Name:      "pool_conns_open",
		Help:      "Total connections open in the database pool",
	})

	DBPoolConnsAcquired = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "street2sat",
		Subsystem: "db",
		Name:      "pool_conns_acquired",
		Help:      "Connections currently acquired from the database pool",
	})

	DBPoolConnsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "street2sat",
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

// ObserveIssues counts per-detection issues by error type.
func ObserveIssues(issues []error) {
	for _, issue := range issues {
		DetectionsDropped.WithLabelValues(issueReason(issue)).Inc()
	}
}

func issueReason(err error) string {
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return strings.TrimSuffix(t.Name(), "Error")
}

// UpdateDBPoolMetrics updates database pool metrics from pgx pool stats.
// The argument is untyped so this package does not import pgxpool.
func UpdateDBPoolMetrics(stat interface{}) {
	type poolStat interface {
		AcquiredConns() int32
		IdleConns() int32
		TotalConns() int32
	}

	if s, ok := stat.(poolStat); ok {
		DBPoolConnsAcquired.Set(float64(s.AcquiredConns()))
		DBPoolConnsIdle.Set(float64(s.IdleConns()))
		DBPoolConnsOpen.Set(float64(s.TotalConns()))
	}
}
