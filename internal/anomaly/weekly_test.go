package anomaly

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

func weeklyTypes(found []weeklyFinding) []string {
	var out []string
	for _, f := range found {
		out = append(out, f.Type)
	}
	return out
}

func TestCheckWeekVariability(t *testing.T) {
	found := checkWeek([]float64{4, 16, 8}, 120, nil)
	require.Equal(t, []string{TypeWeeklyVariability}, weeklyTypes(found))
	assert.Equal(t, 4.0, found[0].Value)
	assert.Equal(t, database.SeverityMedium, found[0].Severity)
	assert.Equal(t, ActionInvestigate, found[0].Action)

	assert.Empty(t, checkWeek([]float64{0, 16, 8}, 120, nil), "a zero day has no ratio")
	assert.Empty(t, checkWeek([]float64{5, 15}, 120, nil), "exactly 3x is tolerated")
}

func TestCheckWeekBudgetPricedAtHighTariff(t *testing.T) {
	found := checkWeek([]float64{20, 20, 20, 20, 20, 20, 20}, 120, defaultSchedule())
	require.Equal(t, []string{TypeWeeklyBudgetExceeded}, weeklyTypes(found))
	f := found[0]
	assert.Equal(t, 140.0, f.Value)
	assert.Equal(t, ActionNotify, f.Action)
	assert.Equal(t, database.SeverityLow, f.Severity)
	assert.Equal(t, 20.0, f.Details["excess_kwh"])
	assert.Equal(t, 3.6, f.Details["excess_cost_estimate"])
	assert.Equal(t, "BAM", f.Details["currency"])

	found = checkWeek([]float64{20, 20, 20, 20, 20, 20, 20}, 120, nil)
	require.Len(t, found, 1)
	assert.NotContains(t, found[0].Details, "excess_cost_estimate")
}

func TestCheckWeekRisingTrend(t *testing.T) {
	found := checkWeek([]float64{10, 11, 10.5, 12, 13, 14}, 120, nil)
	require.Equal(t, []string{TypeWeeklyRisingTrend}, weeklyTypes(found))
	f := found[0]
	assert.Equal(t, 14.0, f.Value)
	assert.Equal(t, ActionMonitor, f.Action)
	assert.Equal(t, 4, f.Details["rising_days"])
	assert.Equal(t, 40.0, f.Details["percent_increase"])

	assert.Empty(t, checkWeek([]float64{10, 11, 12, 13}, 120, nil), "too few days for a trend")
	assert.Empty(t, checkWeek([]float64{10, 11, 10, 11, 10, 11}, 120, nil))
}

func TestWeeklyScanUsesLocalDays(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Sarajevo")
	require.NoError(t, err)

	// One reading at noon UTC on each of Monday 3 March .. Sunday 9 March.
	var energy []*database.Reading
	for d := 0; d < 7; d++ {
		at := time.Date(2025, 3, 3+d, 12, 0, 0, 0, time.UTC)
		energy = append(energy, reading("U1", database.SensorEnergy, at, float64(10+d)))
	}

	found := WeeklyScan(energy, time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC), time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC), loc, 120, nil)
	require.Len(t, found, 1)
	a := found[0]
	assert.Equal(t, TypeWeeklyRisingTrend, a.AnomalyType)
	assert.Equal(t, database.SensorEnergy, a.SensorType)
	assert.Equal(t, "U1", a.UnitID)
	assert.True(t, a.Timestamp.Equal(time.Date(2025, 3, 9, 23, 0, 0, 0, time.UTC)), "stamped at local midnight, got %s", a.Timestamp)
	assert.Equal(t, 16.0, a.Value)

	assert.Empty(t, WeeklyScan(energy, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC), loc, 120, nil),
		"the midnight already passed is not reviewed again")
}

func TestDetectRunsWeeklyReviewOnce(t *testing.T) {
	store := storetest.New()
	ctx := context.Background()
	var readings []*database.Reading
	for d := 7; d >= 1; d-- {
		for h := 0; h < 24; h++ {
			readings = append(readings, reading("U1", database.SensorEnergy, from.AddDate(0, 0, -d).Add(time.Duration(h)*time.Hour), 1.0))
		}
	}
	require.NoError(t, store.InsertReadings(ctx, readings))

	c := cfg()
	c.WeeklyBudgetKWh = 150
	d := NewDetector(store, nil, nil, nil, c, logger.Nop())
	res, err := d.Detect(ctx, building, from.Add(-time.Hour), from.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, res.Detected, 1)
	a := res.Detected[0]
	assert.Equal(t, TypeWeeklyBudgetExceeded, a.AnomalyType)
	assert.Equal(t, 168.0, a.Value)
	assert.Equal(t, from, a.Timestamp)
	assert.Equal(t, ActionNotify, *a.ActionTaken)

	again, err := d.Detect(ctx, building, from.Add(-time.Hour), from.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, again.Detected)
	assert.Equal(t, 1, again.Duplicates)
}
