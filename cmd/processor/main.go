package main

import (
	"context"
	"log"
	"log/slog"

	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"

	"github.com/nasaharvest/street2sat/internal/adapters/exif"
	natsadapter "github.com/nasaharvest/street2sat/internal/adapters/nats"
	"github.com/nasaharvest/street2sat/internal/adapters/postgres"
	"github.com/nasaharvest/street2sat/internal/adapters/valkey"
	"github.com/nasaharvest/street2sat/internal/core/domain"
	"github.com/nasaharvest/street2sat/internal/core/ports"
	"github.com/nasaharvest/street2sat/internal/core/triangulation"
	"github.com/nasaharvest/street2sat/internal/core/usecases"
	"github.com/nasaharvest/street2sat/internal/pkg/config"
	"github.com/nasaharvest/street2sat/internal/pkg/logging"
	"github.com/nasaharvest/street2sat/internal/pkg/telemetry"
	"github.com/nasaharvest/street2sat/internal/workflows"
)

func main() {
	cfg, err := config.Load("street2sat-processor")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	var cacheSvc ports.CacheService
	cache, err := valkey.New(cfg.Valkey.Addr)
	if err != nil {
		slog.Warn("valkey unavailable", "error", err)
	} else {
		defer cache.Close()
		cacheSvc = cache
	}

	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("nats: %v", err)
	}
	defer pub.Close()

	// Connect to Temporal
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    tlog.NewStructuredLogger(slog.Default()),
	})
	if err != nil {
		log.Fatalf("temporal client: %v", err)
	}
	defer c.Close()

	obsRepo := postgres.NewObservationRepo(db)
	locRepo := postgres.NewCropLocationRepo(db)
	estimator := triangulation.NewEstimator(table, cfg.Crops.SensorHeightMM)
	triangulator := triangulation.NewTriangulator(estimator, slog.Default())
	builder := usecases.NewObservationService(exif.New(), nil, nil, obsRepo, estimator)

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})

	// Register workflow & activities
	w.RegisterWorkflow(workflows.TriangulateSurveyWorkflow)
	w.RegisterActivity(&workflows.SurveyActivities{
		Surveys: usecases.NewSurveyService(obsRepo, locRepo, pub, cacheSvc, builder, triangulator, cfg.Inference.MaxImagesPerRequest),
	})

	slog.Info("processor worker started", "task_queue", cfg.Temporal.TaskQueue)
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("worker: %v", err)
	}
}
