package prediction

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/energy-pipeline/internal/database"
	"github.com/smukkama/energy-pipeline/internal/features"
	"github.com/smukkama/energy-pipeline/internal/logger"
	"github.com/smukkama/energy-pipeline/internal/registry"
	"github.com/smukkama/energy-pipeline/internal/storetest"
	"github.com/smukkama/energy-pipeline/pkg/config"
)

var (
	monday  = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	horizon = time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC)
)

type mapSource struct {
	files map[string]string
	opens int
}

func (s *mapSource) Open(ctx context.Context, path string) ([]byte, error) {
	s.opens++
	data, ok := s.files[path]
	if !ok {
		return nil, errors.New("no such artifact")
	}
	return []byte(data), nil
}

type fixture struct {
	store     *storetest.Memory
	registry  *registry.Registry
	source    *mapSource
	predictor *Predictor
	building  *database.Building
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storetest.New()
	building := &database.Building{BuildingID: "B1", Timezone: "UTC"}
	store.AddBuilding(building, nil, &database.Unit{UnitID: "U1"}, &database.Unit{UnitID: "U2"})

	source := &mapSource{files: map[string]string{
		"linear.json": `{"intercept": 0.5, "weights": {"consumption_avg": 1.0, "target_occupancy_prob": 2.0}, "feature_version": 3}`,
	}}
	reg := registry.New(store, logger.Nop())
	cfg := config.Default()
	return &fixture{
		store:     store,
		registry:  reg,
		source:    source,
		predictor: NewPredictor(store, reg, source, cfg.Prediction, cfg.Features, logger.Nop()),
		building:  building,
	}
}

func (f *fixture) activate(t *testing.T, path string) string {
	t.Helper()
	e, err := f.registry.Register(context.Background(), registry.Registration{
		Name:           "linear",
		Task:           "consumption_forecast",
		Algorithm:      "linear",
		FeatureVersion: 3,
		ArtifactPath:   path,
		Metrics:        map[string]float64{"r2": 0.8},
	})
	require.NoError(t, err)
	_, err = f.registry.Activate(context.Background(), e.ModelID)
	require.NoError(t, err)
	return e.ModelID
}

func ptr(v float64) *float64 { return &v }

func (f *fixture) vector(unitID string, version int) {
	f.store.PutFeatureVector(&database.DailyFeatureVector{
		BuildingID:            "B1",
		UnitID:                unitID,
		Date:                  monday,
		OccupancyDaytimeAvg:   ptr(0.5),
		WeekdayConsumptionAvg: ptr(2.0),
		FeatureVersion:        version,
	})
}

func TestPredict(t *testing.T) {
	f := newFixture(t)
	modelID := f.activate(t, "linear.json")
	f.vector("U1", 3)

	res, err := f.predictor.Predict(context.Background(), f.building, []string{"U1", "U2"}, horizon)
	require.NoError(t, err)
	require.Len(t, res.Predictions, 1)

	p := res.Predictions[0]
	assert.Equal(t, horizon.Add(time.Hour), p.TargetAt)
	assert.Equal(t, horizon, p.CreatedAt)
	assert.Equal(t, 3.5, p.PredictedConsumption)
	assert.Equal(t, 0.5, *p.PredictedOccupancyProb)
	assert.Equal(t, 0.8, p.Confidence)
	assert.Equal(t, modelID, p.ModelID)
	assert.Equal(t, monday, p.FeatureDate)

	require.Len(t, res.Failures, 1)
	assert.Equal(t, "U2", res.Failures[0].UnitID)
	assert.ErrorIs(t, res.Failures[0].Err, features.ErrMissingInput)
}

func TestPredictFeatureVersionMismatchWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.activate(t, "linear.json")
	f.vector("U1", 2)

	_, err := f.predictor.PredictUnit(context.Background(), f.building, "U1", horizon, horizon.Add(time.Hour))
	assert.ErrorIs(t, err, ErrFeatureVersionMismatch)

	res, err := f.predictor.Predict(context.Background(), f.building, []string{"U1"}, horizon)
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.ErrorIs(t, res.Failures[0].Err, ErrFeatureVersionMismatch)

	assert.Empty(t, f.store.Predictions("U1"))
}

func TestPredictWithoutActiveModel(t *testing.T) {
	f := newFixture(t)
	f.vector("U1", 3)

	_, err := f.predictor.Predict(context.Background(), f.building, []string{"U1"}, horizon)
	assert.ErrorIs(t, err, ErrModelUnavailable)
	assert.Empty(t, f.store.Predictions("U1"))
}

func TestPredictUnreadableArtifactIsUnavailable(t *testing.T) {
	f := newFixture(t)
	f.activate(t, "missing.json")
	f.vector("U1", 3)

	_, err := f.predictor.Predict(context.Background(), f.building, []string{"U1"}, horizon)
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestPredictionsAreNeverMutated(t *testing.T) {
	f := newFixture(t)
	f.activate(t, "linear.json")
	f.vector("U1", 3)
	ctx := context.Background()
	target := horizon.Add(time.Hour)

	first, err := f.predictor.PredictUnit(ctx, f.building, "U1", horizon, target)
	require.NoError(t, err)

	// A retried batch resolves to the same row.
	retry, err := f.predictor.PredictUnit(ctx, f.building, "U1", horizon, target)
	require.NoError(t, err)
	assert.Equal(t, first.ID, retry.ID)
	require.Len(t, f.store.Predictions("U1"), 1)

	// New inputs and a later run produce a new row for the same target.
	f.store.PutFeatureVector(&database.DailyFeatureVector{
		BuildingID: "B1", UnitID: "U1", Date: monday.AddDate(0, 0, 1),
		OccupancyDaytimeAvg: ptr(0.25), WeekdayConsumptionAvg: ptr(4.0), FeatureVersion: 3,
	})
	later, err := f.predictor.PredictUnit(ctx, f.building, "U1", horizon.Add(30*time.Minute), target)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, later.ID)

	stored := f.store.Predictions("U1")
	require.Len(t, stored, 2)
	assert.Equal(t, first.PredictedConsumption, stored[0].PredictedConsumption)
	assert.Equal(t, first.Confidence, stored[0].Confidence)
	assert.Equal(t, 5.0, stored[1].PredictedConsumption)
}

func TestPredictCachesArtifacts(t *testing.T) {
	f := newFixture(t)
	f.activate(t, "linear.json")
	f.vector("U1", 3)

	for i := 0; i < 3; i++ {
		_, err := f.predictor.Predict(context.Background(), f.building, []string{"U1"}, horizon.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
	}
	assert.Equal(t, 1, f.source.opens)
}

func TestPredictStoreFailureAborts(t *testing.T) {
	f := newFixture(t)
	f.activate(t, "linear.json")
	f.vector("U1", 3)
	f.store.Fail["InsertPrediction"] = assert.AnError

	_, err := f.predictor.Predict(context.Background(), f.building, []string{"U1"}, horizon)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestConfidence(t *testing.T) {
	assert.Equal(t, 0.8, Confidence(0.8, monday, monday.AddDate(0, 0, 1), 7))
	assert.Equal(t, 0.4, Confidence(0.8, monday, monday.AddDate(0, 0, 8), 7))
	assert.Equal(t, 0.2, Confidence(0.8, monday, monday.AddDate(0, 0, 15), 7))

	older := Confidence(0.8, monday, monday.AddDate(0, 0, 5), 7)
	newer := Confidence(0.8, monday, monday.AddDate(0, 0, 3), 7)
	assert.Less(t, older, newer)
}

func TestBaseConfidence(t *testing.T) {
	tests := []struct {
		metrics string
		want    float64
	}{
		{`{"r2": 0.72}`, 0.72},
		{`{"test_r2": -0.3}`, 0},
		{`{"confidence": 1.4}`, 1},
		{`{"mae": 0.2}`, 0.5},
		{``, 0.5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BaseConfidence(json.RawMessage(tt.metrics)), tt.metrics)
	}
}

func TestArtifactMissingWeightedInput(t *testing.T) {
	a, err := ParseArtifact([]byte(`{"intercept": 1, "weights": {"temp_sensitivity": 2}}`))
	require.NoError(t, err)

	_, err = a.Predict(Input{Vector: &database.DailyFeatureVector{}, TargetLocal: horizon})
	assert.ErrorIs(t, err, features.ErrMissingInput)
}

func TestArtifactHourlyProfile(t *testing.T) {
	profile := make([]float64, 24)
	profile[10] = 1.25
	data, err := json.Marshal(Artifact{Intercept: 1, HourlyProfile: profile})
	require.NoError(t, err)

	a, err := ParseArtifact(data)
	require.NoError(t, err)
	y, err := a.Predict(Input{Vector: &database.DailyFeatureVector{}, TargetLocal: horizon.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, 2.25, y)
}

func TestParseArtifactRejectsMalformed(t *testing.T) {
	_, err := ParseArtifact([]byte(`{"hourly_profile": [1, 2]}`))
	assert.Error(t, err)

	_, err = ParseArtifact([]byte(`{"weights": {"rainfall": 1}}`))
	assert.Error(t, err)
}
