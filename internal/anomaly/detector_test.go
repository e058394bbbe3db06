package anomaly

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/energy-pipeline/internal/database"
	"github.com/smukkama/energy-pipeline/internal/logger"
	"github.com/smukkama/energy-pipeline/internal/protocol"
	"github.com/smukkama/energy-pipeline/internal/storetest"
	"github.com/smukkama/energy-pipeline/pkg/config"
)

var (
	from     = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC) // Monday
	building = &database.Building{BuildingID: "B1", Timezone: "UTC"}
)

func cfg() config.AnomalyConfig {
	return config.Default().Anomaly
}

func reading(unit, sensorType string, at time.Time, value float64) *database.Reading {
	return &database.Reading{BuildingID: "B1", UnitID: unit, SensorType: sensorType, Timestamp: at, Value: value}
}

// history returns 48 hourly energy readings before from alternating 1.0 and
// 2.0, so mean 1.5 and standard deviation 0.5.
func history(unit string) []*database.Reading {
	var out []*database.Reading
	for h := 48; h > 0; h-- {
		v := 1.0
		if h%2 == 0 {
			v = 2.0
		}
		out = append(out, reading(unit, database.SensorEnergy, from.Add(-time.Duration(h)*time.Hour), v))
	}
	return out
}

func TestCheckBounds(t *testing.T) {
	tests := []struct {
		sensorType string
		value      float64
		flagged    bool
	}{
		{database.SensorEnergy, -0.1, true},
		{database.SensorEnergy, 0, false},
		{database.SensorEnergy, 500, false},
		{database.SensorHumidity, 101, true},
		{database.SensorHumidity, 55, false},
		{database.SensorOccupancy, 1.5, true},
		{database.SensorOccupancy, 1, false},
		{database.SensorTempInternal, 70, true},
		{database.SensorTempInternal, -11, true},
		{database.SensorTempInternal, 15, false},
		{"co2", -4, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s=%v", tt.sensorType, tt.value), func(t *testing.T) {
			f := CheckBounds(tt.sensorType, tt.value)
			if !tt.flagged {
				assert.Nil(t, f)
				return
			}
			require.NotNil(t, f)
			assert.Equal(t, TypeOutOfBounds, f.Type)
			assert.Equal(t, database.SeverityHigh, f.Severity)
		})
	}
}

func TestCheckComfort(t *testing.T) {
	assert.Equal(t, database.SeverityMedium, CheckComfort(database.SensorTempInternal, 17.5).Severity)
	assert.Equal(t, database.SeverityMedium, CheckComfort(database.SensorTempInternal, 28.5).Severity)
	assert.Nil(t, CheckComfort(database.SensorTempInternal, 22))
	assert.Nil(t, CheckComfort(database.SensorHumidity, 10))
}

func TestZSeverity(t *testing.T) {
	c := cfg()
	assert.Equal(t, "", ZSeverity(2.9, c))
	assert.Equal(t, database.SeverityLow, ZSeverity(3.2, c))
	assert.Equal(t, database.SeverityMedium, ZSeverity(-4.5, c))
	assert.Equal(t, database.SeverityHigh, ZSeverity(6, c))
}

func TestScanScoresAgainstTrailingWindow(t *testing.T) {
	series := append(history("U1"), reading("U1", database.SensorEnergy, from, 4.5))

	found := Scan(series, from, cfg())
	require.Len(t, found, 1)
	a := found[0]
	assert.Equal(t, TypeZScore, a.AnomalyType)
	assert.Equal(t, database.SeverityHigh, a.Severity)
	require.NotNil(t, a.ZScore)
	assert.InDelta(t, 6.0, *a.ZScore, 0.001)
	assert.JSONEq(t, `{"mean":1.5,"std":0.5,"samples":48}`, string(a.Details))
}

func TestScanNeedsEnoughSamples(t *testing.T) {
	series := append(history("U1")[40:], reading("U1", database.SensorEnergy, from, 40))
	assert.Empty(t, Scan(series, from, cfg()))
}

func TestScanEvictsOldHistory(t *testing.T) {
	var series []*database.Reading
	for _, r := range history("U1") {
		r.Timestamp = r.Timestamp.Add(-7 * 24 * time.Hour)
		series = append(series, r)
	}
	series = append(series, reading("U1", database.SensorEnergy, from, 40))
	assert.Empty(t, Scan(series, from, cfg()), "history older than the trailing window is ignored")
}

func TestScanExcludesFaultyHistory(t *testing.T) {
	series := history("U1")
	series[10].Value = -50
	series = append(series, reading("U1", database.SensorEnergy, from, 1.6))
	assert.Empty(t, Scan(series, from, cfg()), "only readings at or after from are reported")
}

func TestScanOutOfBoundsSkipsOtherRules(t *testing.T) {
	found := Scan([]*database.Reading{reading("U1", database.SensorTempInternal, from, 75)}, from, cfg())
	require.Len(t, found, 1)
	assert.Equal(t, TypeOutOfBounds, found[0].AnomalyType)
	assert.JSONEq(t, `{"min":-10,"max":60}`, string(found[0].Details))
}

type fakeState struct {
	mu      sync.Mutex
	records map[string]*AlertRecord
}

func newFakeState() *fakeState {
	return &fakeState{records: make(map[string]*AlertRecord)}
}

func (s *fakeState) Claim(ctx context.Context, unitID, sensorType string, rec *AlertRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := alertKey(unitID, sensorType)
	if _, ok := s.records[key]; ok {
		return false, nil
	}
	s.records[key] = rec
	return true, nil
}

func (s *fakeState) Last(ctx context.Context, unitID, sensorType string) (*AlertRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[alertKey(unitID, sensorType)], nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages [][]byte
}

func (p *recordingPublisher) Publish(ctx context.Context, key string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, value)
	return nil
}

func TestDetectRecordsAndAlertsOnce(t *testing.T) {
	store := storetest.New()
	ctx := context.Background()
	readings := append(history("U1"),
		reading("U1", database.SensorEnergy, from.Add(time.Hour), 4.5),
		reading("U1", database.SensorTempInternal, from.Add(2*time.Hour), 17),
		reading("U2", database.SensorEnergy, from.Add(3*time.Hour), -1),
	)
	require.NoError(t, store.InsertReadings(ctx, readings))

	pub := &recordingPublisher{}
	d := NewDetector(store, nil, newFakeState(), pub, cfg(), logger.Nop())

	res, err := d.Detect(ctx, building, from, from.Add(12*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Scanned)
	require.Len(t, res.Detected, 3)
	assert.Equal(t, 2, res.Alerted, "only high severity is alerted")
	require.Len(t, pub.messages, 2)

	alert, err := protocol.DecodeAlertNotification(pub.messages[0])
	require.NoError(t, err)
	assert.Equal(t, protocol.AlertTypeAnomaly, alert.Type)
	assert.Equal(t, "B1", alert.BuildingID)
	assert.NotZero(t, alert.AnomalyID)

	again, err := d.Detect(ctx, building, from, from.Add(12*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, again.Detected)
	assert.Equal(t, 3, again.Duplicates)
	assert.Len(t, pub.messages, 2)

	stored, err := store.ListAnomalies(ctx, "B1", from, 10)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	actions := map[string]string{}
	for _, a := range stored {
		require.NotNil(t, a.ActionTaken)
		actions[a.AnomalyType] = *a.ActionTaken
	}
	assert.Equal(t, map[string]string{
		TypeOutOfBounds: ActionDrop,
		TypeZScore:      ActionAlert,
		TypeComfort:     ActionInvestigate,
	}, actions)
}

func TestDetectCooldownSuppressesRepeatAlerts(t *testing.T) {
	store := storetest.New()
	ctx := context.Background()
	require.NoError(t, store.InsertReadings(ctx, []*database.Reading{
		reading("U1", database.SensorHumidity, from.Add(time.Hour), 120),
		reading("U1", database.SensorHumidity, from.Add(2*time.Hour), 130),
	}))

	pub := &recordingPublisher{}
	d := NewDetector(store, nil, newFakeState(), pub, cfg(), logger.Nop())
	res, err := d.Detect(ctx, building, from, from.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, res.Detected, 2)
	assert.Equal(t, 1, res.Alerted)
	assert.Equal(t, 1, res.Suppressed)
}

func TestDetectWithoutPublisherOnlyRecords(t *testing.T) {
	store := storetest.New()
	ctx := context.Background()
	require.NoError(t, store.InsertReadings(ctx, []*database.Reading{
		reading("U1", database.SensorOccupancy, from.Add(time.Hour), 3),
	}))

	res, err := NewDetector(store, nil, nil, nil, cfg(), logger.Nop()).Detect(ctx, building, from, from.Add(time.Hour+time.Minute))
	require.NoError(t, err)
	assert.Len(t, res.Detected, 1)
	assert.Zero(t, res.Alerted)
}

func TestDetectPropagatesStoreFailure(t *testing.T) {
	store := storetest.New()
	ctx := context.Background()
	require.NoError(t, store.InsertReadings(ctx, []*database.Reading{
		reading("U1", database.SensorEnergy, from.Add(time.Hour), -3),
	}))
	store.Fail["InsertAnomaly"] = assert.AnError

	_, err := NewDetector(store, nil, nil, nil, cfg(), logger.Nop()).Detect(ctx, building, from, from.Add(24*time.Hour))
	assert.ErrorIs(t, err, assert.AnError)
}
