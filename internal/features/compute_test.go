package features

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/energy-pipeline/internal/database"
	"github.com/smukkama/energy-pipeline/pkg/config"
)

var monday = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func reading(unit, sensorType string, hour, minute int, value float64, ingested int) *database.Reading {
	return &database.Reading{
		ID:         int64(ingested),
		BuildingID: "B1",
		UnitID:     unit,
		Timestamp:  monday.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute),
		SensorType: sensorType,
		Value:      value,
		IngestedAt: monday.Add(time.Duration(ingested) * time.Second),
	}
}

func weatherAt(hour int, temp float64) *database.WeatherObservation {
	return &database.WeatherObservation{
		LocationID:   "L1",
		Timestamp:    monday.Add(time.Duration(hour) * time.Hour),
		TempExternal: &temp,
	}
}

func fixture() ([]*database.Reading, []*database.WeatherObservation) {
	energy := map[int]float64{6: 1, 7: 2, 8: 3, 9: 2, 10: 1, 11: 1, 16: 1, 17: 4, 18: 4, 19: 2}
	var readings []*database.Reading
	var weather []*database.WeatherObservation
	i := 1
	for _, h := range []int{6, 7, 8, 9, 10, 11, 16, 17, 18, 19} {
		readings = append(readings, reading("U1", database.SensorEnergy, h, 0, energy[h], i))
		weather = append(weather, weatherAt(h, 20-2*energy[h]))
		i++
	}

	invalid := database.QualityInvalid
	bad := reading("U1", database.SensorOccupancy, 10, 0, 0.9, 100)
	bad.QualityFlag = &invalid

	readings = append(readings,
		reading("U1", database.SensorOccupancy, 7, 0, 1, 20),
		reading("U1", database.SensorOccupancy, 9, 0, 1, 21),
		reading("U1", database.SensorOccupancy, 9, 0, 0, 22), // re-ingested, wins
		reading("U1", database.SensorOccupancy, 10, 0, 0.5, 23),
		bad,
		reading("U1", database.SensorOccupancy, 18, 0, 1, 24),
		reading("U1", database.SensorOccupancy, 23, 0, 0, 25),
		reading("U1", database.SensorOccupancy, 2, 0, 0, 26),
		reading("U2", database.SensorOccupancy, 8, 0, 1, 27),
	)
	return readings, weather
}

func cfg() config.FeaturesConfig {
	return config.Default().Features
}

func TestComputeDaily(t *testing.T) {
	readings, weather := fixture()

	vectors, missing := ComputeDaily("B1", monday, time.UTC, []string{"U1", "U2", "U3"}, readings, weather, cfg())

	require.Len(t, vectors, 1)
	assert.Equal(t, []string{"U2", "U3"}, missing)

	v := vectors[0]
	assert.Equal(t, "U1", v.UnitID)
	assert.Equal(t, FeatureVersion, v.FeatureVersion)
	assert.Equal(t, 10, v.EnergyReadings)

	assert.Equal(t, 1.0, *v.OccupancyMorningAvg)
	assert.Equal(t, 0.25, *v.OccupancyDaytimeAvg)
	assert.Equal(t, 1.0, *v.OccupancyEveningAvg)
	assert.Equal(t, 0.0, *v.OccupancyNightAvg)
	assert.Equal(t, 0.5, *v.BinaryActivityRatio)

	require.NotNil(t, v.WeekdayConsumptionAvg)
	assert.Equal(t, 2.1, *v.WeekdayConsumptionAvg)
	assert.Nil(t, v.WeekendConsumptionAvg)
	assert.Equal(t, 1.14, *v.ConsumptionStdDev)

	assert.Equal(t, 8, *v.PeakHourMorning)
	assert.Equal(t, 17, *v.PeakHourEvening, "ties resolve to the earliest hour")
	assert.Equal(t, 1.0, *v.TempSensitivity)
}

func TestComputeDailyIsDeterministic(t *testing.T) {
	readings, weather := fixture()
	first, _ := ComputeDaily("B1", monday, time.UTC, []string{"U1"}, readings, weather, cfg())

	r := rand.New(rand.NewPCG(7, 0))
	for i := 0; i < 5; i++ {
		shuffled := append([]*database.Reading(nil), readings...)
		r.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		again, _ := ComputeDaily("B1", monday, time.UTC, []string{"U1"}, shuffled, weather, cfg())
		assert.Equal(t, first, again)
	}
}

func TestComputeDailyNullsUnknownFields(t *testing.T) {
	saturday := monday.AddDate(0, 0, 5)
	readings := []*database.Reading{
		{UnitID: "U1", SensorType: database.SensorEnergy, Timestamp: saturday.Add(9 * time.Hour), Value: 3},
	}

	vectors, missing := ComputeDaily("B1", saturday, time.UTC, []string{"U1"}, readings, nil, cfg())

	require.Len(t, vectors, 1)
	assert.Empty(t, missing)
	v := vectors[0]
	assert.Nil(t, v.WeekdayConsumptionAvg)
	assert.Equal(t, 3.0, *v.WeekendConsumptionAvg)
	assert.Nil(t, v.ConsumptionStdDev, "a single reading has no spread")
	assert.Nil(t, v.OccupancyMorningAvg)
	assert.Nil(t, v.BinaryActivityRatio)
	assert.Nil(t, v.TempSensitivity)
	assert.Nil(t, v.PeakHourEvening)
	assert.Equal(t, 9, *v.PeakHourMorning)
}

func TestTempSensitivityNeedsMinimumPairs(t *testing.T) {
	energy := map[int]float64{8: 1, 9: 2, 10: 3, 11: 4, 12: 5}
	temp := map[int]float64{8: 5, 9: 4, 10: 3, 11: 2, 12: 1}

	assert.Nil(t, tempSensitivity(energy, temp, 6))

	energy[13], temp[13] = 6, 0
	s := tempSensitivity(energy, temp, 6)
	require.NotNil(t, s)
	assert.Equal(t, 1.0, *s)
}

func TestTempSensitivityFlatSeriesIsUnknown(t *testing.T) {
	energy := map[int]float64{}
	temp := map[int]float64{}
	for h := 0; h < 8; h++ {
		energy[h] = float64(h)
		temp[h] = 12
	}
	assert.Nil(t, tempSensitivity(energy, temp, 6))
}

func TestClassifyWindowBoundaries(t *testing.T) {
	c := cfg()
	tests := []struct {
		hour int
		want window
	}{
		{5, windowNight},
		{6, windowMorning},
		{7, windowMorning},
		{8, windowDaytime},
		{16, windowDaytime},
		{17, windowEvening},
		{21, windowEvening},
		{22, windowNight},
		{0, windowNight},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classify(tt.hour, c), "hour %d", tt.hour)
	}
}

func TestDedupeKeepsLatestValid(t *testing.T) {
	invalid := database.QualityInvalid
	late := reading("U1", database.SensorEnergy, 9, 0, 99, 3)
	late.QualityFlag = &invalid

	out := Dedupe([]*database.Reading{
		reading("U1", database.SensorEnergy, 9, 0, 1, 1),
		reading("U1", database.SensorEnergy, 9, 0, 2, 2),
		late,
	})

	require.Len(t, out, 1)
	assert.Equal(t, 2.0, out[0].Value)
}

func TestComputeDailyUsesBuildingTimezone(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Sarajevo")
	require.NoError(t, err)

	// 06:30 UTC is 07:30 local in March: morning window, not night.
	readings := []*database.Reading{
		{UnitID: "U1", SensorType: database.SensorEnergy, Timestamp: monday.Add(6*time.Hour + 30*time.Minute), Value: 1},
		{UnitID: "U1", SensorType: database.SensorOccupancy, Timestamp: monday.Add(6*time.Hour + 30*time.Minute), Value: 1},
	}

	vectors, _ := ComputeDaily("B1", monday, loc, []string{"U1"}, readings, nil, cfg())
	require.Len(t, vectors, 1)
	require.NotNil(t, vectors[0].OccupancyMorningAvg)
	assert.Nil(t, vectors[0].OccupancyNightAvg)
	assert.Equal(t, 7, *vectors[0].PeakHourMorning)
}
