package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smukkama/energy-pipeline/internal/database"
	"github.com/smukkama/energy-pipeline/internal/logger"
	"github.com/smukkama/energy-pipeline/internal/queue"
	"github.com/smukkama/energy-pipeline/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	lg, err := logger.New(cfg.Log.Mode)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer lg.Sync()

	lg.Info("Starting Database Writer Service...")
	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		lg.Fatal("Failed to connect to database", "error", err)
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		lg.Fatal("Failed to run migrations", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Kafka.CreateTopics {
		created, err := queue.EnsureTopics(ctx, cfg.Kafka.Brokers, cfg.Kafka.NumPartitions, cfg.Kafka.ReplicationFactor, cfg.Kafka.Topics()...)
		if err != nil {
			lg.Fatal("Failed to create Kafka topics", "error", err)
		}
		if len(created) > 0 {
			lg.Info("Created Kafka topics", "topics", created, "partitions", cfg.Kafka.NumPartitions)
		}
	}

	var consumers []*queue.Consumer
	var writers []*queue.BatchWriter
	for _, topic := range []string{cfg.Kafka.TopicReadings, cfg.Kafka.TopicWeather} {
		consumer := queue.NewConsumer(cfg.Kafka.Brokers, topic, "dbwriter-group")
		defer consumer.Close()

		writer := queue.NewBatchWriter(consumer, db, lg.With("topic", topic), cfg.Kafka.BatchSize, cfg.Kafka.FlushInterval)
		if err := writer.Start(ctx); err != nil {
			lg.Fatal("Failed to start batch writer", "topic", topic, "error", err)
		}
		consumers = append(consumers, consumer)
		writers = append(writers, writer)
	}

	// Print consumer stats periodically
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for _, c := range consumers {
					stats := c.Stats()
					lg.Info("Consumer stats",
						"topic", stats.Topic,
						"messages", stats.Messages,
						"bytes", stats.Bytes,
						"errors", stats.Errors,
					)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	lg.Info("Database Writer Service is running",
		"topics", []string{cfg.Kafka.TopicReadings, cfg.Kafka.TopicWeather},
		"batch_size", cfg.Kafka.BatchSize,
		"flush_interval", cfg.Kafka.FlushInterval,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	lg.Info("Shutting down gracefully...")
	for _, w := range writers {
		w.Stop()
	}
	cancel()
	lg.Info("Database Writer Service stopped")
}
