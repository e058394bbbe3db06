package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/smukkama/energy-pipeline/internal/logger"
	"github.com/smukkama/energy-pipeline/internal/notification"
	"github.com/smukkama/energy-pipeline/internal/protocol"
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

	lg.Info("Starting Notification Service...")

	notifier := notification.NewEmailNotifier(&cfg.SMTP, lg)

	// Test SMTP connection (optional, will skip if not configured)
	if err := notifier.TestConnection(); err != nil {
		lg.Warn("Notifications will be logged only", "error", err)
	}

	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicAlerts, "notification-group")
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lg.Info("Notification Service is running", "topic", cfg.Kafka.TopicAlerts)

	for {
		msg, err := consumer.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			lg.Error("Failed to consume message", "error", err)
			continue
		}

		alert, err := protocol.DecodeAlertNotification(msg.Value)
		if err != nil {
			lg.Warn("Failed to decode alert", "offset", msg.Offset, "error", err)
			_ = consumer.Commit(ctx, msg)
			continue
		}

		if err := notifier.SendAlert(alert); err != nil {
			// not committed, redelivered after restart
			lg.Error("Failed to send notification", "building_id", alert.BuildingID, "error", err)
			continue
		}

		if err := consumer.Commit(ctx, msg); err != nil {
			lg.Error("Failed to commit offset", "error", err)
		}
	}

	lg.Info("Notification Service stopped")
}
