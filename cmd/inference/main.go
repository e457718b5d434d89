package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"

	"github.com/nasaharvest/street2sat/internal/adapters/blob"
	"github.com/nasaharvest/street2sat/internal/adapters/detector"
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
	cfg, err := config.Load("street2sat-inference")
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

	// Database
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

	// NATS
	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("nats publisher: %v", err)
	}
	defer pub.Close()

	sub, err := natsadapter.NewSubscriber(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("nats subscriber: %v", err)
	}
	defer sub.Close()

	// Without Temporal every upload triangulates its survey inline.
	var starter ports.WorkflowStarter
	tc, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    tlog.NewStructuredLogger(slog.Default()),
	})
	if err != nil {
		slog.Warn("temporal unavailable, triangulating inline", "error", err)
	} else {
		defer tc.Close()
		starter = workflows.NewStarter(tc, cfg.Temporal.TaskQueue, time.Duration(cfg.Temporal.SettleSeconds)*time.Second)
	}

	obsRepo := postgres.NewObservationRepo(db)
	locRepo := postgres.NewCropLocationRepo(db)

	estimator := triangulation.NewEstimator(table, cfg.Crops.SensorHeightMM)
	triangulator := triangulation.NewTriangulator(estimator, slog.Default())
	timeout := time.Duration(cfg.Detector.TimeoutSeconds) * time.Second
	det := detector.New(cfg.Detector.URL, cfg.Detector.Model, timeout)
	images := blob.New(cfg.Inference.ImageRoot, timeout)

	observationSvc := usecases.NewObservationService(exif.New(), det, images, obsRepo, estimator)
	surveySvc := usecases.NewSurveyService(obsRepo, locRepo, pub, cacheSvc, observationSvc, triangulator, cfg.Inference.MaxImagesPerRequest)

	h := &eventHandler{
		observations: observationSvc,
		surveys:      surveySvc,
		workflows:    starter,
	}

	if err := sub.SubscribeUploads(ctx, h.handleUpload); err != nil {
		log.Fatalf("subscribe uploads: %v", err)
	}
	if err := sub.SubscribeDeletions(ctx, h.handleDeletion); err != nil {
		log.Fatalf("subscribe deletions: %v", err)
	}

	slog.Info("inference worker started", "detector", cfg.Detector.URL, "model", cfg.Detector.Model)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutting down", "signal", sig.String())
}
