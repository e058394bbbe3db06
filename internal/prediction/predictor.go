package prediction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/smukkama/energy-pipeline/internal/database"
	"github.com/smukkama/energy-pipeline/internal/features"
	"github.com/smukkama/energy-pipeline/internal/logger"
	"github.com/smukkama/energy-pipeline/pkg/config"
)

var (
	// ErrModelUnavailable blocks every prediction of a building
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrFeatureVersionMismatch blocks a unit whose features predate the model
	ErrFeatureVersionMismatch = errors.New("feature version mismatch")
)

// Store is the persistence the predictor needs
type Store interface {
	LatestFeatureVector(ctx context.Context, unitID string, onOrBefore time.Time) (*database.DailyFeatureVector, error)
	InsertPrediction(ctx context.Context, p *database.Prediction) error
}

// Resolver finds the active model of a building
type Resolver interface {
	Resolve(ctx context.Context, buildingID, task string) (*database.ModelRegistryEntry, error)
}

// UnitFailure is a unit that could not be predicted
type UnitFailure struct {
	UnitID string
	Err    error
}

// Result summarises one prediction pass
type Result struct {
	Model       *database.ModelRegistryEntry
	Predictions []*database.Prediction
	Failures    []UnitFailure
}

// Predictor produces consumption forecasts from the active registry model
type Predictor struct {
	store   Store
	models  Resolver
	source  Source
	cfg     config.PredictionConfig
	windows config.FeaturesConfig
	log     *logger.Logger

	mu        sync.Mutex
	artifacts map[string]*Artifact // by model id; registry entries are immutable
}

// NewPredictor creates a new predictor
func NewPredictor(store Store, models Resolver, source Source, cfg config.PredictionConfig, windows config.FeaturesConfig, log *logger.Logger) *Predictor {
	return &Predictor{
		store:     store,
		models:    models,
		source:    source,
		cfg:       cfg,
		windows:   windows,
		log:       log,
		artifacts: make(map[string]*Artifact),
	}
}

// BaseConfidence derives model confidence from registry metrics: test R² when
// present, else an explicit confidence, else 0.5. Clamped to [0,1].
func BaseConfidence(metrics json.RawMessage) float64 {
	var m map[string]interface{}
	if len(metrics) > 0 && json.Unmarshal(metrics, &m) == nil {
		for _, key := range []string{"r2", "test_r2", "confidence"} {
			if v, ok := m[key].(float64); ok {
				return math.Min(1, math.Max(0, v))
			}
		}
	}
	return 0.5
}

// Confidence decays base by the age of the input features, halving every
// halfLifeDays after the first day.
func Confidence(base float64, featureDate, targetDate time.Time, halfLifeDays float64) float64 {
	c := base
	if halfLifeDays > 0 {
		age := targetDate.Sub(featureDate).Hours() / 24
		c *= math.Pow(0.5, math.Max(0, age-1)/halfLifeDays)
	}
	return math.Round(c*1000) / 1000
}

func (p *Predictor) resolve(ctx context.Context, buildingID string) (*database.ModelRegistryEntry, *Artifact, error) {
	entry, err := p.models.Resolve(ctx, buildingID, p.cfg.Task)
	if err != nil {
		return nil, nil, err
	}
	if entry == nil {
		return nil, nil, fmt.Errorf("%w: no active %s model for building %s", ErrModelUnavailable, p.cfg.Task, buildingID)
	}

	p.mu.Lock()
	artifact, ok := p.artifacts[entry.ModelID]
	p.mu.Unlock()
	if ok {
		return entry, artifact, nil
	}

	data, err := p.source.Open(ctx, entry.ArtifactPath)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: failed to read artifact of %s: %v", ErrModelUnavailable, entry.ModelID, err)
	}
	artifact, err = ParseArtifact(data)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: model %s: %v", ErrModelUnavailable, entry.ModelID, err)
	}
	if artifact.FeatureVersion != 0 && artifact.FeatureVersion != entry.FeatureVersion {
		return nil, nil, fmt.Errorf("%w: model %s artifact expects feature version %d, registry says %d",
			ErrModelUnavailable, entry.ModelID, artifact.FeatureVersion, entry.FeatureVersion)
	}

	p.mu.Lock()
	p.artifacts[entry.ModelID] = artifact
	p.mu.Unlock()
	return entry, artifact, nil
}

// PredictUnit forecasts one unit's consumption at target using features
// available before createdAt, and stores the prediction.
func (p *Predictor) PredictUnit(ctx context.Context, building *database.Building, unitID string, createdAt, target time.Time) (*database.Prediction, error) {
	entry, artifact, err := p.resolve(ctx, building.BuildingID)
	if err != nil {
		return nil, err
	}
	return p.predict(ctx, building, entry, artifact, unitID, createdAt, target)
}

func (p *Predictor) predict(
	ctx context.Context,
	building *database.Building,
	entry *database.ModelRegistryEntry,
	artifact *Artifact,
	unitID string,
	createdAt, target time.Time,
) (*database.Prediction, error) {
	loc := building.Location()
	vector, err := p.store.LatestFeatureVector(ctx, unitID, database.CalendarDate(createdAt.Add(-time.Nanosecond), loc))
	if err != nil {
		return nil, fmt.Errorf("failed to load features of unit %s: %w", unitID, err)
	}
	if vector == nil {
		return nil, fmt.Errorf("%w: no feature vector for unit %s", features.ErrMissingInput, unitID)
	}
	if vector.FeatureVersion < entry.FeatureVersion {
		return nil, fmt.Errorf("%w: unit %s has version %d, model %s requires %d",
			ErrFeatureVersionMismatch, unitID, vector.FeatureVersion, entry.ModelID, entry.FeatureVersion)
	}

	targetLocal := target.In(loc)
	occupancy := features.OccupancyAt(vector, targetLocal.Hour(), p.windows)
	value, err := artifact.Predict(Input{Vector: vector, TargetLocal: targetLocal, OccupancyProb: occupancy})
	if err != nil {
		return nil, fmt.Errorf("unit %s: %w", unitID, err)
	}

	pred := &database.Prediction{
		BuildingID:             building.BuildingID,
		UnitID:                 unitID,
		CreatedAt:              createdAt,
		TargetAt:               target,
		PredictedConsumption:   value,
		PredictedOccupancyProb: occupancy,
		ModelID:                entry.ModelID,
		ModelName:              entry.ModelName,
		Confidence:             Confidence(BaseConfidence(entry.Metrics), vector.Date, database.CalendarDate(target, loc), p.cfg.HalfLifeDays),
		FeatureDate:            vector.Date,
	}
	if err := p.store.InsertPrediction(ctx, pred); err != nil {
		return nil, fmt.Errorf("failed to store prediction of unit %s: %w", unitID, err)
	}
	return pred, nil
}

// unitError reports whether err blocks only its unit
func unitError(err error) bool {
	return errors.Is(err, features.ErrMissingInput) || errors.Is(err, ErrFeatureVersionMismatch)
}

// Predict forecasts every unit for horizon plus the configured lead time.
// ErrModelUnavailable and store failures abort the pass; unit-level failures
// are collected in the result.
func (p *Predictor) Predict(ctx context.Context, building *database.Building, unitIDs []string, horizon time.Time) (*Result, error) {
	entry, artifact, err := p.resolve(ctx, building.BuildingID)
	if err != nil {
		return nil, err
	}

	result := &Result{Model: entry}
	target := horizon.Add(p.cfg.LeadTime)
	for _, unitID := range unitIDs {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		pred, err := p.predict(ctx, building, entry, artifact, unitID, horizon, target)
		if err != nil {
			if !unitError(err) {
				return result, err
			}
			result.Failures = append(result.Failures, UnitFailure{UnitID: unitID, Err: err})
			p.log.Debug("unit not predicted", "building_id", building.BuildingID, "unit_id", unitID, "error", err)
			continue
		}
		result.Predictions = append(result.Predictions, pred)
	}

	p.log.Info("predictions stored",
		"building_id", building.BuildingID,
		"model_id", entry.ModelID,
		"predicted", len(result.Predictions),
		"failed", len(result.Failures),
	)
	return result, nil
}
