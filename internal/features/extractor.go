package features

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/smukkama/energy-pipeline/internal/database"
	"github.com/smukkama/energy-pipeline/internal/logger"
	"github.com/smukkama/energy-pipeline/pkg/config"
)

// ErrMissingInput marks a unit/day without energy readings. The unit is skipped,
// never filled with defaults.
var ErrMissingInput = errors.New("missing input")

// Store is the persistence the extractor needs
type Store interface {
	ReadingsInRange(ctx context.Context, buildingID string, from, to time.Time) ([]*database.Reading, error)
	WeatherInRange(ctx context.Context, locationID string, from, to time.Time) ([]*database.WeatherObservation, error)
	UpsertFeatureVectors(ctx context.Context, vectors []*database.DailyFeatureVector) error
	StaleFeatureDates(ctx context.Context, buildingID string, from time.Time, version int) ([]time.Time, error)
}

// UnitDay identifies a unit on a local calendar date
type UnitDay struct {
	UnitID string
	Date   time.Time
}

// Result summarises one extraction pass
type Result struct {
	Dates    []time.Time
	Upserted int
	Missing  []UnitDay
}

// Extractor windows raw readings into daily feature vectors
type Extractor struct {
	store Store
	cfg   config.FeaturesConfig
	log   *logger.Logger
}

// NewExtractor creates a new feature extractor
func NewExtractor(store Store, cfg config.FeaturesConfig, log *logger.Logger) *Extractor {
	return &Extractor{store: store, cfg: cfg, log: log}
}

// DueDates lists the local dates to (re)compute for input in [anchor, horizon):
// every date the range touches, plus dates since staleFrom whose rows carry an
// older feature version.
func (e *Extractor) DueDates(ctx context.Context, building *database.Building, anchor, horizon, staleFrom time.Time) ([]time.Time, error) {
	loc := building.Location()
	seen := make(map[time.Time]bool)
	var dates []time.Time

	if horizon.After(anchor) {
		last := database.CalendarDate(horizon.Add(-time.Nanosecond), loc)
		for d := database.CalendarDate(anchor, loc); !d.After(last); d = d.AddDate(0, 0, 1) {
			seen[d] = true
			dates = append(dates, d)
		}
	}

	stale, err := e.store.StaleFeatureDates(ctx, building.BuildingID, staleFrom, FeatureVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale feature dates: %w", err)
	}
	horizonDate := database.CalendarDate(horizon, loc)
	for _, d := range stale {
		if !seen[d] && !d.After(horizonDate) {
			seen[d] = true
			dates = append(dates, d)
		}
	}

	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, nil
}

// Extract computes and upserts the vectors of every date, using only input with
// timestamps before horizon. Each date is written in its own transaction.
func (e *Extractor) Extract(ctx context.Context, building *database.Building, unitIDs []string, dates []time.Time, horizon time.Time) (*Result, error) {
	loc := building.Location()
	result := &Result{Dates: dates}

	for _, date := range dates {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		start, end := database.DayBounds(date, loc)
		if end.After(horizon) {
			end = horizon
		}
		if !end.After(start) {
			continue
		}

		readings, err := e.store.ReadingsInRange(ctx, building.BuildingID, start, end)
		if err != nil {
			return result, fmt.Errorf("failed to load readings for %s: %w", date.Format("2006-01-02"), err)
		}
		weather, err := e.store.WeatherInRange(ctx, building.LocationID, start, end)
		if err != nil {
			return result, fmt.Errorf("failed to load weather for %s: %w", date.Format("2006-01-02"), err)
		}

		vectors, missing := ComputeDaily(building.BuildingID, date, loc, unitIDs, readings, weather, e.cfg)
		if err := e.store.UpsertFeatureVectors(ctx, vectors); err != nil {
			return result, fmt.Errorf("failed to upsert features for %s: %w", date.Format("2006-01-02"), err)
		}

		result.Upserted += len(vectors)
		for _, unitID := range missing {
			result.Missing = append(result.Missing, UnitDay{UnitID: unitID, Date: date})
		}

		e.log.Debug("features extracted",
			"building_id", building.BuildingID,
			"date", date.Format("2006-01-02"),
			"vectors", len(vectors),
			"missing", len(missing),
		)
	}

	return result, nil
}
