package features

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/energy-pipeline/internal/database"
	"github.com/smukkama/energy-pipeline/internal/logger"
	"github.com/smukkama/energy-pipeline/internal/storetest"
)

func seededStore(t *testing.T) (*storetest.Memory, *database.Building) {
	t.Helper()
	store := storetest.New()
	building := &database.Building{BuildingID: "B1", LocationID: "L1", Timezone: "UTC"}
	store.AddBuilding(building, nil, &database.Unit{UnitID: "U1"}, &database.Unit{UnitID: "U2"})

	readings, weather := fixture()
	require.NoError(t, store.InsertReadings(context.Background(), readings))
	require.NoError(t, store.InsertWeatherObservations(context.Background(), weather))
	return store, building
}

func TestExtractIsIdempotent(t *testing.T) {
	store, building := seededStore(t)
	ex := NewExtractor(store, cfg(), logger.Nop())
	ctx := context.Background()
	horizon := monday.AddDate(0, 0, 1)

	dates, err := ex.DueDates(ctx, building, monday, horizon, monday.AddDate(0, 0, -21))
	require.NoError(t, err)
	assert.Equal(t, []time.Time{monday}, dates)

	res, err := ex.Extract(ctx, building, []string{"U1", "U2"}, dates, horizon)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Upserted)
	assert.Equal(t, []UnitDay{{UnitID: "U2", Date: monday}}, res.Missing)
	first := store.FeatureVector("B1", "U1", monday)
	require.NotNil(t, first)

	_, err = ex.Extract(ctx, building, []string{"U1", "U2"}, dates, horizon)
	require.NoError(t, err)
	assert.Equal(t, first, store.FeatureVector("B1", "U1", monday))
}

func TestExtractStopsAtHorizon(t *testing.T) {
	store, building := seededStore(t)
	ex := NewExtractor(store, cfg(), logger.Nop())

	// Only readings before noon are visible.
	horizon := monday.Add(12 * time.Hour)
	_, err := ex.Extract(context.Background(), building, []string{"U1"}, []time.Time{monday}, horizon)
	require.NoError(t, err)

	v := store.FeatureVector("B1", "U1", monday)
	require.NotNil(t, v)
	assert.Equal(t, 6, v.EnergyReadings)
	assert.Nil(t, v.PeakHourEvening)
	assert.Nil(t, v.OccupancyEveningAvg)
}

func TestDueDatesIncludesStaleVersions(t *testing.T) {
	store, building := seededStore(t)
	ex := NewExtractor(store, cfg(), logger.Nop())
	old := monday.AddDate(0, 0, -3)
	store.PutFeatureVector(&database.DailyFeatureVector{BuildingID: "B1", UnitID: "U1", Date: old, FeatureVersion: 2})

	dates, err := ex.DueDates(context.Background(), building, monday.Add(6*time.Hour), monday.Add(30*time.Hour), monday.AddDate(0, 0, -21))
	require.NoError(t, err)
	assert.Equal(t, []time.Time{old, monday, monday.AddDate(0, 0, 1)}, dates)
}

func TestExtractPropagatesStoreFailure(t *testing.T) {
	store, building := seededStore(t)
	store.Fail["UpsertFeatureVectors"] = assert.AnError
	ex := NewExtractor(store, cfg(), logger.Nop())

	_, err := ex.Extract(context.Background(), building, []string{"U1"}, []time.Time{monday}, monday.AddDate(0, 0, 1))
	assert.ErrorIs(t, err, assert.AnError)
}

func TestExtractHonoursCancellation(t *testing.T) {
	store, building := seededStore(t)
	ex := NewExtractor(store, cfg(), logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ex.Extract(ctx, building, []string{"U1"}, []time.Time{monday}, monday.AddDate(0, 0, 1))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, store.FeatureVector("B1", "U1", monday))
}
