package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/smukkama/energy-pipeline/internal/database"
	"github.com/smukkama/energy-pipeline/internal/logger"
)

// GlobalScope applies a model to every building
const GlobalScope = "global"

// ErrNotFound is returned for unknown model ids
var ErrNotFound = database.ErrModelNotFound

// Store is the persistence the registry needs
type Store interface {
	InsertModel(ctx context.Context, m *database.ModelRegistryEntry) error
	GetModel(ctx context.Context, modelID string) (*database.ModelRegistryEntry, error)
	ActiveModel(ctx context.Context, scopeKey, task string) (*database.ModelRegistryEntry, error)
	ActivateModel(ctx context.Context, modelID string, at time.Time) (*database.ModelRegistryEntry, error)
	ListModels(ctx context.Context) ([]*database.ModelRegistryEntry, error)
}

// ScopeKey returns the registry scope of a building, or the global scope for ""
func ScopeKey(buildingID string) string {
	if buildingID == "" {
		return GlobalScope
	}
	return "building:" + buildingID
}

// Registration describes a trained artifact handed over by the training process
type Registration struct {
	Name           string
	BuildingID     string // empty registers a global model
	Task           string
	Algorithm      string
	FeatureVersion int
	TrainedAt      time.Time
	ArtifactPath   string
	Metrics        map[string]float64
}

// Registry manages versioned predictor artifacts and their activation
type Registry struct {
	store Store
	log   *logger.Logger
	now   func() time.Time
}

// New creates a new model registry
func New(store Store, log *logger.Logger) *Registry {
	return &Registry{store: store, log: log, now: time.Now}
}

// Register creates an inactive entry
func (r *Registry) Register(ctx context.Context, reg Registration) (*database.ModelRegistryEntry, error) {
	switch {
	case strings.TrimSpace(reg.Name) == "":
		return nil, errors.New("model name is required")
	case strings.TrimSpace(reg.Task) == "":
		return nil, errors.New("task is required")
	case strings.TrimSpace(reg.ArtifactPath) == "":
		return nil, errors.New("artifact path is required")
	case reg.FeatureVersion < 1:
		return nil, fmt.Errorf("invalid feature version %d", reg.FeatureVersion)
	}

	metrics := []byte("{}")
	if len(reg.Metrics) > 0 {
		var err error
		if metrics, err = json.Marshal(reg.Metrics); err != nil {
			return nil, fmt.Errorf("failed to encode metrics: %w", err)
		}
	}

	trainedAt := reg.TrainedAt
	if trainedAt.IsZero() {
		trainedAt = r.now()
	}

	entry := &database.ModelRegistryEntry{
		ModelID:        uuid.NewString(),
		ModelName:      reg.Name,
		ScopeKey:       ScopeKey(reg.BuildingID),
		Task:           reg.Task,
		Algorithm:      reg.Algorithm,
		FeatureVersion: reg.FeatureVersion,
		TrainedAt:      trainedAt.UTC(),
		ArtifactPath:   reg.ArtifactPath,
		Metrics:        metrics,
	}
	if reg.BuildingID != "" {
		b := reg.BuildingID
		entry.BuildingID = &b
	}

	if err := r.store.InsertModel(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to register model %s: %w", reg.Name, err)
	}

	r.log.Info("model registered",
		"model_id", entry.ModelID,
		"model_name", entry.ModelName,
		"scope", entry.ScopeKey,
		"task", entry.Task,
		"feature_version", entry.FeatureVersion,
	)
	return entry, nil
}

// Activate makes a model the single active entry of its (scope, task) pair
func (r *Registry) Activate(ctx context.Context, modelID string) (*database.ModelRegistryEntry, error) {
	entry, err := r.store.ActivateModel(ctx, modelID, r.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to activate model %s: %w", modelID, err)
	}

	r.log.Info("model activated",
		"model_id", entry.ModelID,
		"scope", entry.ScopeKey,
		"task", entry.Task,
	)
	return entry, nil
}

// Resolve returns the active model for a building, preferring a building-scoped
// entry over the global one. It returns nil when neither is active.
func (r *Registry) Resolve(ctx context.Context, buildingID, task string) (*database.ModelRegistryEntry, error) {
	for _, scope := range []string{ScopeKey(buildingID), GlobalScope} {
		entry, err := r.store.ActiveModel(ctx, scope, task)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s model: %w", scope, err)
		}
		if entry != nil {
			return entry, nil
		}
	}
	return nil, nil
}

// Get returns a single entry
func (r *Registry) Get(ctx context.Context, modelID string) (*database.ModelRegistryEntry, error) {
	return r.store.GetModel(ctx, modelID)
}

// List returns every entry
func (r *Registry) List(ctx context.Context) ([]*database.ModelRegistryEntry, error) {
	return r.store.ListModels(ctx)
}
