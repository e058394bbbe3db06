package anomaly

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/energy-pipeline/internal/database"
	"github.com/smukkama/energy-pipeline/internal/logger"
	"github.com/smukkama/energy-pipeline/internal/protocol"
	"github.com/smukkama/energy-pipeline/internal/storetest"
	"github.com/smukkama/energy-pipeline/internal/tariff"
	"github.com/smukkama/energy-pipeline/pkg/config"
)

func defaultSchedule() *tariff.Schedule {
	return tariff.Default(config.Default().Optimizer, time.UTC)
}

type fixedTariffs struct{ sched *tariff.Schedule }

func (f fixedTariffs) Schedule(ctx context.Context, building *database.Building) (*tariff.Schedule, error) {
	return f.sched, nil
}

// hourly returns one reading per hour over the 24 hours before end
func hourly(unit, sensorType string, end time.Time, value float64) []*database.Reading {
	var out []*database.Reading
	for h := 24; h > 0; h-- {
		out = append(out, reading(unit, sensorType, end.Add(-time.Duration(h)*time.Hour), value))
	}
	return out
}

func TestCheckUnoccupied(t *testing.T) {
	vacant, present := 0.0, 1.0
	lowAvg, zeroAvg := 0.2, 0.0

	f := CheckUnoccupied(1.0, &vacant, &lowAvg)
	require.NotNil(t, f)
	assert.Equal(t, database.SeverityHigh, f.Severity)
	assert.Equal(t, ActionAlert, f.Action)

	assert.Nil(t, CheckUnoccupied(0.3, &vacant, &lowAvg), "below the floor")
	assert.Nil(t, CheckUnoccupied(1.0, &present, &lowAvg), "occupied")
	assert.Nil(t, CheckUnoccupied(1.0, nil, &lowAvg), "occupancy unknown")
	assert.Nil(t, CheckUnoccupied(1.0, &vacant, &zeroAvg), "no baseline to compare with")

	f = CheckUnoccupied(0.7, &vacant, nil)
	require.NotNil(t, f)
	assert.Equal(t, database.SeverityMedium, f.Severity)
	assert.Equal(t, ActionInvestigate, f.Action)
	assert.Nil(t, CheckUnoccupied(0.5, &vacant, nil))
}

func TestCheckCost(t *testing.T) {
	sched := defaultSchedule()
	peak := from.Add(13 * time.Hour)

	f := CheckCost(1.0, 0.5, peak, sched)
	require.NotNil(t, f)
	assert.Equal(t, TypeHighCost, f.Type)
	assert.Equal(t, database.SeverityMedium, f.Severity)
	assert.Equal(t, ActionAlert, f.Action)
	assert.Equal(t, 0.18, f.Details["estimated_cost"])
	assert.Equal(t, "BAM", f.Details["currency"])

	assert.Nil(t, CheckCost(1.0, 0.5, from.Add(23*time.Hour), sched), "low tariff")
	assert.Nil(t, CheckCost(0.7, 0.5, peak, sched), "within 1.5x of the average")
	assert.Nil(t, CheckCost(0.3, 0.1, peak, sched), "below the floor")
}

func TestScanEnergyFlagsUnoccupiedUse(t *testing.T) {
	at := from.Add(time.Hour)
	energy := append(hourly("U1", database.SensorEnergy, at, 0.2), reading("U1", database.SensorEnergy, at, 1.0))
	occupancy := append(hourly("U1", database.SensorOccupancy, at, 0), reading("U1", database.SensorOccupancy, at, 0))

	found := ScanEnergy(energy, occupancy, from, 24*time.Hour, defaultSchedule())
	require.Len(t, found, 1, "01:00 is in the low tariff, so only the occupancy rule applies")
	a := found[0]
	assert.Equal(t, TypeUnoccupiedEnergy, a.AnomalyType)
	assert.Equal(t, database.SeverityHigh, a.Severity)
	assert.Equal(t, at, a.Timestamp)
	assert.JSONEq(t, `{"unoccupied_avg_kwh":0.2}`, string(a.Details))

	occupancy[len(occupancy)-1].Value = 1
	assert.Empty(t, ScanEnergy(energy, occupancy, from, 24*time.Hour, defaultSchedule()))
}

func TestDetectAlertsOnHighCost(t *testing.T) {
	store := storetest.New()
	ctx := context.Background()
	peak := from.Add(13 * time.Hour)
	readings := append(hourly("U1", database.SensorEnergy, peak, 0.5), reading("U1", database.SensorEnergy, peak, 2.0))
	readings = append(readings, hourly("U1", database.SensorOccupancy, peak.Add(time.Hour), 1)...)
	require.NoError(t, store.InsertReadings(ctx, readings))

	pub := &recordingPublisher{}
	d := NewDetector(store, fixedTariffs{defaultSchedule()}, newFakeState(), pub, cfg(), logger.Nop())
	res, err := d.Detect(ctx, building, from.Add(12*time.Hour), from.Add(14*time.Hour))
	require.NoError(t, err)

	require.Len(t, res.Detected, 1)
	a := res.Detected[0]
	assert.Equal(t, TypeHighCost, a.AnomalyType)
	assert.Equal(t, 2.0, a.Value)
	require.NotNil(t, a.ActionTaken)
	assert.Equal(t, ActionAlert, *a.ActionTaken)

	require.Len(t, pub.messages, 1)
	alert, err := protocol.DecodeAlertNotification(pub.messages[0])
	require.NoError(t, err)
	assert.Equal(t, database.SeverityMedium, alert.Severity)
}

func TestDetectWithoutPublisherInvestigates(t *testing.T) {
	store := storetest.New()
	ctx := context.Background()
	readings := append(history("U1"),
		reading("U1", database.SensorEnergy, from.Add(time.Hour), 4.5),
		reading("U1", database.SensorHumidity, from.Add(time.Hour), 140),
	)
	require.NoError(t, store.InsertReadings(ctx, readings))

	res, err := NewDetector(store, nil, nil, nil, cfg(), logger.Nop()).Detect(ctx, building, from, from.Add(12*time.Hour))
	require.NoError(t, err)
	require.Len(t, res.Detected, 2)

	for _, a := range res.Detected {
		require.NotNil(t, a.ActionTaken)
		switch a.AnomalyType {
		case TypeZScore:
			assert.Equal(t, ActionInvestigate, *a.ActionTaken, "nothing is alerted without a publisher")
		case TypeOutOfBounds:
			assert.Equal(t, ActionDrop, *a.ActionTaken)
		default:
			t.Fatalf("unexpected anomaly %s", a.AnomalyType)
		}
	}
}
