package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"

	"github.com/nasaharvest/street2sat/internal/adapters/detector"
	"github.com/nasaharvest/street2sat/internal/adapters/exif"
	"github.com/nasaharvest/street2sat/internal/adapters/http"
	natsadapter "github.com/nasaharvest/street2sat/internal/adapters/nats"
	"github.com/nasaharvest/street2sat/internal/adapters/postgres"
	"github.com/nasaharvest/street2sat/internal/adapters/valkey"
	"github.com/nasaharvest/street2sat/internal/core/domain"
	"github.com/nasaharvest/street2sat/internal/core/ports"
	"github.com/nasaharvest/street2sat/internal/core/triangulation"
	"github.com/nasaharvest/street2sat/internal/core/usecases"
	"github.com/nasaharvest/street2sat/internal/pkg/config"
	"github.com/nasaharvest/street2sat/internal/pkg/logging"
	"github.com/nasaharvest/street2sat/internal/pkg/metrics"
	"github.com/nasaharvest/street2sat/internal/pkg/telemetry"
	"github.com/nasaharvest/street2sat/internal/workflows"
)

func main() {
	cfg, err := config.Load("street2sat-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.TempoAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	table, err := domain.DefaultCropTable().WithHeights(cfg.Crops.TableVersion, cfg.Crops.Heights)
	if err != nil {
		log.Fatalf("crop table: %v", err)
	}

	// Database
	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()
	go reportPoolStats(ctx, db)

	// Cache
	var cacheSvc ports.CacheService
	cache, err := valkey.New(cfg.Valkey.Addr)
	if err != nil {
		slog.Warn("valkey unavailable", "error", err)
	} else {
		defer cache.Close()
		cacheSvc = cache
	}

	// NATS
	var publisher ports.EventPublisher
	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats unavailable", "error", err)
	} else {
		defer pub.Close()
		publisher = pub
	}

	// Raw NATS connection for WebSocket relay
	natsConn, err := natsadapter.RawConn(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats ws conn unavailable", "error", err)
	}

	// Temporal is optional; without it async triangulation is refused.
	var starter ports.WorkflowStarter
	tc, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    tlog.NewStructuredLogger(slog.Default()),
	})
	if err != nil {
		slog.Warn("temporal unavailable", "error", err)
	} else {
		defer tc.Close()
		starter = workflows.NewStarter(tc, cfg.Temporal.TaskQueue, time.Duration(cfg.Temporal.SettleSeconds)*time.Second)
	}

	// Repos
	obsRepo := postgres.NewObservationRepo(db)
	locRepo := postgres.NewCropLocationRepo(db)

	// Use cases
	estimator := triangulation.NewEstimator(table, cfg.Crops.SensorHeightMM)
	triangulator := triangulation.NewTriangulator(estimator, slog.Default())
	det := detector.New(cfg.Detector.URL, cfg.Detector.Model, time.Duration(cfg.Detector.TimeoutSeconds)*time.Second)
	observationSvc := usecases.NewObservationService(exif.New(), det, nil, obsRepo, estimator)
	surveySvc := usecases.NewSurveyService(obsRepo, locRepo, publisher, cacheSvc, observationSvc, triangulator, cfg.Inference.MaxImagesPerRequest)
	cropSvc := usecases.NewCropService(table, locRepo, cacheSvc)

	deps := &http.Dependencies{
		Surveys:   surveySvc,
		Crops:     cropSvc,
		Workflows: starter,
		NATS:      natsConn,
		DB:        db,
		Cache:     cache,
	}

	// Fiber
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimitMB * 1024 * 1024,
		AppName:      "Street2Sat API",
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     "http://localhost:3000, http://localhost:5173, https://*.street2sat.org",
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: false,
		MaxAge:           3600,
	}))

	http.SetupRoutes(app, deps, http.Options{
		RequestTimeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
		UploadTimeout:  time.Duration(cfg.Detector.TimeoutSeconds*cfg.Inference.MaxImagesPerRequest) * time.Second,
	})

	// Graceful shutdown
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr, "crop_table", table.Version())
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())

	// Give in-flight requests up to 30s to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	slog.Info("server stopped")
}

func reportPoolStats(ctx context.Context, db *postgres.DB) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.UpdateDBPoolMetrics(db.Stat())
		}
	}
}
