package tariff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/energy-pipeline/internal/database"
	"github.com/smukkama/energy-pipeline/pkg/config"
)

// Monday
var day = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func defaultSchedule() *Schedule {
	return Default(config.Default().Optimizer, time.UTC)
}

func TestIsLowWrapsMidnight(t *testing.T) {
	s := defaultSchedule()
	tests := []struct {
		at   time.Duration
		want bool
	}{
		{0, true},
		{5*time.Hour + 59*time.Minute, true},
		{6 * time.Hour, false},
		{12 * time.Hour, false},
		{21*time.Hour + 59*time.Minute, false},
		{22 * time.Hour, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.IsLow(day.Add(tt.at)), "%s", tt.at)
	}
}

func TestSundayAllDayLow(t *testing.T) {
	s := defaultSchedule()
	sunday := day.AddDate(0, 0, 6)
	assert.True(t, s.IsLow(sunday.Add(12*time.Hour)))

	s.SundayAllDayLow = false
	assert.False(t, s.IsLow(sunday.Add(12*time.Hour)))
}

func TestCostIntegratesAcrossBoundaries(t *testing.T) {
	s := defaultSchedule()
	s.LowPrice, s.HighPrice = 0.08, 0.18

	// 20:00-22:00 high, 22:00-00:00 low.
	cost := s.Cost(1, day.Add(20*time.Hour), day.Add(24*time.Hour))
	assert.InDelta(t, 0.52, cost, 1e-9)

	// Half hours on either side of the 06:00 boundary.
	cost = s.Cost(2, day.Add(5*time.Hour+30*time.Minute), day.Add(6*time.Hour+30*time.Minute))
	assert.InDelta(t, 0.5*2*0.08+0.5*2*0.18, cost, 1e-9)

	assert.Equal(t, 0.0, s.Cost(1, day, day))
}

func TestCostRespectsLocation(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Sarajevo")
	require.NoError(t, err)
	s := Default(config.Default().Optimizer, loc)
	s.LowPrice, s.HighPrice = 0.1, 0.2

	// 21:00-22:00 UTC is 22:00-23:00 local in March.
	assert.InDelta(t, 0.1, s.Cost(1, day.Add(21*time.Hour), day.Add(22*time.Hour)), 1e-9)
	assert.InDelta(t, 0.2, s.Cost(1, day.Add(20*time.Hour), day.Add(21*time.Hour)), 1e-9)
}

func TestFromTariff(t *testing.T) {
	s, err := FromTariff(&database.Tariff{
		BuildingID: "B1",
		LowStart:   "13:00",
		LowEnd:     "15:30",
		LowPrice:   0.05,
		HighPrice:  0.2,
		Currency:   "EUR",
	}, time.UTC)
	require.NoError(t, err)

	assert.False(t, s.IsLow(day.Add(12*time.Hour+59*time.Minute)))
	assert.True(t, s.IsLow(day.Add(15*time.Hour+29*time.Minute)))
	assert.False(t, s.IsLow(day.Add(15*time.Hour+30*time.Minute)))
	assert.Equal(t, 0.05, s.PriceAt(day.Add(14*time.Hour)))
	assert.Equal(t, "EUR", s.Currency)

	_, err = FromTariff(&database.Tariff{LowStart: "25:00", LowEnd: "06:00"}, time.UTC)
	assert.Error(t, err)
}

type tariffStore map[string]*database.Tariff

func (s tariffStore) GetTariff(ctx context.Context, buildingID string) (*database.Tariff, error) {
	return s[buildingID], nil
}

func TestSourceFallsBackToDefault(t *testing.T) {
	src := NewSource(tariffStore{
		"B1": {BuildingID: "B1", LowStart: "23:00", LowEnd: "07:00", LowPrice: 0.05, HighPrice: 0.2, Currency: "EUR"},
	}, config.Default().Optimizer)
	ctx := context.Background()

	stored, err := src.Schedule(ctx, &database.Building{BuildingID: "B1", Timezone: "Europe/Sarajevo"})
	require.NoError(t, err)
	assert.Equal(t, 0.2, stored.HighPrice)
	assert.Equal(t, "EUR", stored.Currency)
	assert.Equal(t, "Europe/Sarajevo", stored.Location.String())

	fallback, err := src.Schedule(ctx, &database.Building{BuildingID: "B2"})
	require.NoError(t, err)
	assert.Equal(t, config.Default().Optimizer.DefaultHighPrice, fallback.HighPrice)
	assert.Equal(t, time.UTC, fallback.Location)
}
