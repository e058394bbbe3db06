package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smukkama/energy-pipeline/internal/anomaly"
	"github.com/smukkama/energy-pipeline/internal/clustering"
	"github.com/smukkama/energy-pipeline/internal/coordinator"
	"github.com/smukkama/energy-pipeline/internal/database"
	"github.com/smukkama/energy-pipeline/internal/decision"
	"github.com/smukkama/energy-pipeline/internal/features"
	"github.com/smukkama/energy-pipeline/internal/lock"
	"github.com/smukkama/energy-pipeline/internal/logger"
	"github.com/smukkama/energy-pipeline/internal/metrics"
	"github.com/smukkama/energy-pipeline/internal/optimizer"
	"github.com/smukkama/energy-pipeline/internal/prediction"
	"github.com/smukkama/energy-pipeline/internal/queue"
	"github.com/smukkama/energy-pipeline/internal/registry"
	"github.com/smukkama/energy-pipeline/internal/tariff"
	"github.com/smukkama/energy-pipeline/internal/timer"
	"github.com/smukkama/energy-pipeline/pkg/config"
)

func main() {
	once := flag.Bool("once", false, "run every due building once and exit")
	buildingID := flag.String("building", "", "restrict the run to one building")
	horizonFlag := flag.String("horizon", "", "process input up to this RFC3339 time (default: now)")
	resetAnchor := flag.String("reset-anchor", "", "move the anchor of -building to this RFC3339 time and exit")
	pipelineName := flag.String("pipeline", "", "pipeline whose anchor -reset-anchor moves (default: the main pipeline)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	lg, err := logger.New(cfg.Log.Mode)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer lg.Sync()

	lg.Info("Starting Pipeline Coordinator",
		"pipeline", cfg.Pipeline.Name,
		"decision_mode", cfg.Decision.Mode,
		"interval", cfg.Pipeline.Interval,
	)

	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		lg.Fatal("Failed to connect to database", "error", err)
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		lg.Fatal("Failed to run migrations", "error", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		lg.Fatal("Failed to connect to Redis", "error", err)
	}

	if cfg.Kafka.CreateTopics {
		created, err := queue.EnsureTopics(ctx, cfg.Kafka.Brokers, cfg.Kafka.NumPartitions, cfg.Kafka.ReplicationFactor, cfg.Kafka.Topics()...)
		if err != nil {
			lg.Fatal("Failed to create Kafka topics", "error", err)
		}
		if len(created) > 0 {
			lg.Info("Created Kafka topics", "topics", created, "partitions", cfg.Kafka.NumPartitions)
		}
	}

	alerts := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicAlerts)
	defer alerts.Close()
	actions := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicActions)
	defer actions.Close()

	recorder := metrics.New()
	models := registry.New(db, lg.With("component", "registry"))

	stages := coordinator.Stages{
		Extractor: features.NewExtractor(db, cfg.Features, lg.With("component", "features")),
		Assigner:  clustering.NewAssigner(db, cfg.Clustering, lg.With("component", "clustering")),
		Predictor: prediction.NewPredictor(db, models, prediction.DirSource{Root: cfg.Prediction.ArtifactDir},
			cfg.Prediction, cfg.Features, lg.With("component", "prediction")),
		Optimizer: optimizer.New(db, cfg.Optimizer, lg.With("component", "optimizer")),
		Decider:   decision.NewEngine(db, actions, decision.PolicyFrom(cfg.Decision), lg.With("component", "decision")),
	}
	if cfg.Pipeline.RunAnomalies {
		state := anomaly.NewRedisAlertState(redisClient, cfg.Anomaly.AlertCooldown)
		tariffs := tariff.NewSource(db, cfg.Optimizer)
		stages.Detector = anomaly.NewDetector(db, tariffs, state, alerts, cfg.Anomaly, lg.With("component", "anomaly"))
	}

	coord := coordinator.New(db, stages, lock.NewRedisLocker(redisClient), coordinator.Options{
		Pipeline:    cfg.Pipeline,
		HistoryDays: cfg.Clustering.HistoryDays,
		MaxAge:      cfg.Prediction.MaxAge,
		Alerts:      alerts,
		Observer:    recorder,
	}, lg)

	horizon := func() time.Time { return time.Now().UTC() }
	if *horizonFlag != "" {
		fixed, err := time.Parse(time.RFC3339, *horizonFlag)
		if err != nil {
			lg.Fatal("Invalid -horizon", "error", err)
		}
		horizon = func() time.Time { return fixed }
	}

	if *resetAnchor != "" {
		if err := runReset(ctx, coord, cfg, *pipelineName, *buildingID, *resetAnchor); err != nil {
			lg.Fatal("Anchor reset failed", "error", err)
		}
		return
	}

	if *once {
		if err := runOnce(ctx, coord, *buildingID, horizon(), lg); err != nil {
			lg.Error("Pipeline run finished with errors", "error", err)
			os.Exit(1)
		}
		return
	}

	metricsServer := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           recorder.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error("Metrics server failed", "error", err)
		}
	}()
	lg.Info("Metrics endpoint listening", "addr", cfg.Metrics.Addr)

	scheduler := timer.NewScheduler(cfg.Pipeline.Workers)
	scheduler.Start()

	jobs := newBuildingJobs(scheduler, cfg.Pipeline.Interval, func(jobCtx context.Context, id string) {
		runBuilding(jobCtx, coord, id, horizon(), lg)
	}, lg)

	ids := []string{*buildingID}
	if *buildingID == "" {
		ids, err = db.ListBuildingIDs(ctx)
		if err != nil {
			lg.Fatal("Failed to list buildings", "error", err)
		}
	}
	if _, _, err := jobs.sync(ids, time.Now()); err != nil {
		lg.Fatal("Failed to schedule buildings", "error", err)
	}
	if *buildingID == "" && cfg.Pipeline.BuildingRefresh > 0 {
		refreshEvery := cfg.Pipeline.BuildingRefresh
		err := scheduler.Every(refreshJobID, time.Now().Add(refreshEvery), refreshEvery, func(jobCtx context.Context) {
			jobs.refresh(jobCtx, db.ListBuildingIDs)
		})
		if err != nil {
			lg.Fatal("Failed to schedule building refresh", "error", err)
		}
	}
	lg.Info("Pipeline Coordinator is running",
		"buildings", len(ids),
		"workers", cfg.Pipeline.Workers,
		"building_refresh", cfg.Pipeline.BuildingRefresh,
	)

	<-ctx.Done()

	lg.Info("Shutting down gracefully...")
	scheduler.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
	lg.Info("Pipeline Coordinator stopped")
}

func runOnce(ctx context.Context, coord *coordinator.Coordinator, buildingID string, horizon time.Time, lg *logger.Logger) error {
	if buildingID == "" {
		return coord.RunAll(ctx, horizon)
	}
	report, err := coord.Run(ctx, buildingID, horizon)
	if err != nil {
		return err
	}
	logReport(report, lg)
	return nil
}

func runBuilding(ctx context.Context, coord *coordinator.Coordinator, buildingID string, horizon time.Time, lg *logger.Logger) {
	report, err := coord.Run(ctx, buildingID, horizon)
	switch {
	case errors.Is(err, coordinator.ErrRunInProgress):
		lg.Info("Building skipped, run in progress", "building_id", buildingID)
	case err != nil:
		lg.Error("Building run failed", "building_id", buildingID, "error", err)
	default:
		logReport(report, lg)
	}
}

func logReport(report *coordinator.Report, lg *logger.Logger) {
	kv := []interface{}{
		"building_id", report.BuildingID,
		"anchor_before", report.AnchorBefore,
		"anchor_after", report.AnchorAfter,
		"batches", report.Batches,
	}
	if report.Validation != nil {
		kv = append(kv, "status", report.Validation.Status, "coverage", report.Validation.Coverage)
	}
	lg.Info("Building run finished", kv...)
}

func runReset(ctx context.Context, coord *coordinator.Coordinator, cfg *config.Config, pipeline, buildingID, at string) error {
	if buildingID == "" {
		return fmt.Errorf("-reset-anchor requires -building")
	}
	anchor, err := time.Parse(time.RFC3339, at)
	if err != nil {
		return fmt.Errorf("invalid -reset-anchor: %w", err)
	}
	if pipeline == "" {
		pipeline = cfg.Pipeline.Name
	}
	return coord.ResetAnchor(ctx, pipeline, buildingID, anchor.UTC())
}
