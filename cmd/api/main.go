package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smukkama/energy-pipeline/internal/api"
	"github.com/smukkama/energy-pipeline/internal/database"
	"github.com/smukkama/energy-pipeline/internal/logger"
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

	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		lg.Fatal("Failed to connect to database", "error", err)
	}
	defer db.Close()

	srv := api.NewServer(cfg.API.Addr, db, lg.With("component", "api"))

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("API server failed", "error", err)
		}
	}()
	lg.Info("Dashboard API is running", "addr", cfg.API.Addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	lg.Info("Shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		lg.Error("Shutdown failed", "error", err)
	}
	lg.Info("Dashboard API stopped")
}
