package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/smukkama/energy-pipeline/internal/database"
	"github.com/smukkama/energy-pipeline/internal/logger"
	"github.com/smukkama/energy-pipeline/internal/registry"
	"github.com/smukkama/energy-pipeline/pkg/config"
)

const usage = `usage: registry <command> [flags]

commands:
  register  -name -artifact [-building] [-task] [-algorithm] [-feature-version] [-trained-at] [-metrics]
  activate  -id
  list
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

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

	reg := registry.New(db, lg)
	ctx := context.Background()

	switch os.Args[1] {
	case "register":
		err = register(ctx, reg, cfg, os.Args[2:])
	case "activate":
		err = activate(ctx, reg, os.Args[2:])
	case "list":
		err = list(ctx, reg)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		lg.Fatal("Registry command failed", "command", os.Args[1], "error", err)
	}
}

func register(ctx context.Context, reg *registry.Registry, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	name := fs.String("name", "", "model name")
	artifact := fs.String("artifact", "", "artifact path")
	building := fs.String("building", "", "building id (empty registers a global model)")
	task := fs.String("task", cfg.Prediction.Task, "prediction task")
	algorithm := fs.String("algorithm", "linear", "algorithm type")
	featureVersion := fs.Int("feature-version", 0, "feature version the model was trained against")
	trainedAt := fs.String("trained-at", "", "training time, RFC3339 (default: now)")
	metrics := fs.String("metrics", "{}", `metrics as a JSON object, e.g. {"r2":0.82}`)
	if err := fs.Parse(args); err != nil {
		return err
	}

	r := registry.Registration{
		Name:           *name,
		BuildingID:     *building,
		Task:           *task,
		Algorithm:      *algorithm,
		FeatureVersion: *featureVersion,
		TrainedAt:      time.Now().UTC(),
		ArtifactPath:   *artifact,
	}
	if *trainedAt != "" {
		t, err := time.Parse(time.RFC3339, *trainedAt)
		if err != nil {
			return fmt.Errorf("invalid -trained-at: %w", err)
		}
		r.TrainedAt = t.UTC()
	}
	if err := json.Unmarshal([]byte(*metrics), &r.Metrics); err != nil {
		return fmt.Errorf("invalid -metrics: %w", err)
	}

	entry, err := reg.Register(ctx, r)
	if err != nil {
		return err
	}
	fmt.Println(entry.ModelID)
	return nil
}

func activate(ctx context.Context, reg *registry.Registry, args []string) error {
	fs := flag.NewFlagSet("activate", flag.ExitOnError)
	id := fs.String("id", "", "model id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("-id is required")
	}

	entry, err := reg.Activate(ctx, *id)
	if err != nil {
		return err
	}
	fmt.Printf("activated %s (%s, %s)\n", entry.ModelID, entry.ScopeKey, entry.Task)
	return nil
}

func list(ctx context.Context, reg *registry.Registry) error {
	entries, err := reg.List(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL ID\tNAME\tSCOPE\tTASK\tFEATURE VERSION\tTRAINED AT\tACTIVE")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%t\n",
			e.ModelID, e.ModelName, e.ScopeKey, e.Task, e.FeatureVersion, e.TrainedAt.Format(time.RFC3339), e.IsActive)
	}
	return w.Flush()
}
