package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/gofiber/websocket/v2"

	"github.com/nasaharvest/street2sat/internal/pkg/metrics"
)

// Options tunes route registration. The zero value is usable.
type Options struct {
	SpecPath       string        // OpenAPI document served under /docs
	RequestTimeout time.Duration // read endpoints
	UploadTimeout  time.Duration // detection + triangulation endpoints
	RateLimit      int           // requests per minute per IP; <= 0 disables
}

func (o Options) withDefaults() Options {
	if o.SpecPath == "" {
		o.SpecPath = DefaultSpecPath
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 15 * time.Second
	}
	if o.UploadTimeout <= 0 {
		o.UploadTimeout = 5 * time.Minute
	}
	return o
}

// legacyRoutes are kept for clients of the first export format.
var legacyRoutes = []DeprecatedRoute{
	{
		Path:        "/v1/surveys/:id/points",
		SunsetDate:  time.Date(2027, time.June, 30, 0, 0, 0, 0, time.UTC),
		Alternative: "/v1/surveys/:id/crops",
	},
}

// SetupRoutes registers all REST, GraphQL, and WebSocket routes.
func SetupRoutes(app *fiber.App, deps *Dependencies, opts Options) {
	opts = opts.withDefaults()

	// Prometheus metrics
	app.Use(metrics.Middleware())
	app.Get("/metrics", metrics.Handler())

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	app.Use(requestid.New())
	app.Use(RequestIDLogMiddleware())
	app.Use(AccessLogMiddleware())

	if opts.RateLimit > 0 {
		app.Use(limiter.New(limiter.Config{
			Max:        opts.RateLimit,
			Expiration: 1 * time.Minute,
			KeyGenerator: func(c *fiber.Ctx) string {
				return c.IP()
			},
			LimitReached: func(c *fiber.Ctx) error {
				return newError(c, fiber.StatusTooManyRequests, "rate_limited", "too many requests, please try again later")
			},
		}))
	}

	// Security headers + API version
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("X-API-Version", "1.0.0")
		return c.Next()
	})

	app.Use(ETagMiddleware())
	app.Use(CachingMiddleware())
	app.Use(DeprecationMiddleware(legacyRoutes))

	// Health & readiness (no timeout)
	app.Get("/v1/health", HealthHandler(deps))
	app.Get("/v1/ready", ReadyHandler(deps))

	read := func(h fiber.Handler) fiber.Handler { return timeout.NewWithContext(h, opts.RequestTimeout) }
	slow := func(h fiber.Handler) fiber.Handler { return timeout.NewWithContext(h, opts.UploadTimeout) }

	v1 := app.Group("/v1")
	v1.Post("/triangulate", slow(TriangulateUploadHandler(deps)))
	v1.Post("/surveys/:id/triangulate", slow(TriangulateSurveyHandler(deps)))
	v1.Get("/surveys/:id", read(GetSurveyHandler(deps)))
	v1.Get("/surveys/:id/crops", read(SurveyCropsHandler(deps)))
	v1.Get("/surveys/:id/points", read(SurveyCropsHandler(deps)))
	v1.Get("/surveys/:id/crops.geojson", read(SurveyGeoJSONHandler(deps)))
	v1.Get("/crops/nearby", read(NearbyCropsHandler(deps)))
	v1.Get("/crop-classes", CropClassesHandler(deps))

	app.Post("/graphql", GraphQLHandler(deps))

	SetupDocs(app, opts.SpecPath)

	if deps.NATS != nil {
		app.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		app.Get("/ws", websocket.New(WebSocketHandler(deps.NATS)))
	}
}
