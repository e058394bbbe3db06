package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/energy-pipeline/internal/database"
)

func TestParseReading(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"type":"reading","building_id":"B1","unit_id":"U1","sensor_id":"S1",
		"sensor_type":"energy","timestamp":"2025-03-10T09:00:00+01:00","value":1.5,"quality_flag":"ok"}`))
	require.NoError(t, err)

	r := msg.(*ReadingMessage).ToReading()
	assert.Equal(t, time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC), r.Timestamp)
	assert.Equal(t, database.SensorEnergy, r.SensorType)
	assert.Equal(t, "S1", *r.SensorID)
	assert.Equal(t, "ok", *r.QualityFlag)
	assert.True(t, r.Valid())
}

func TestParseWeather(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"type":"weather","location_id":"L1","timestamp":"2025-03-10T09:00:00Z","temp_external":4.5}`))
	require.NoError(t, err)

	w := msg.(*WeatherMessage).ToObservation()
	assert.Equal(t, "L1", w.LocationID)
	assert.Equal(t, 0, w.ForecastHour)
	assert.Equal(t, 4.5, *w.TempExternal)
	assert.Nil(t, w.Humidity)
}

func TestParseMessageRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{`},
		{"unknown type", `{"type":"keepalive"}`},
		{"missing unit", `{"type":"reading","building_id":"B1","sensor_type":"energy","timestamp":"2025-03-10T09:00:00Z"}`},
		{"unknown sensor", `{"type":"reading","building_id":"B1","unit_id":"U1","sensor_type":"co2","timestamp":"2025-03-10T09:00:00Z"}`},
		{"bad timestamp", `{"type":"reading","building_id":"B1","unit_id":"U1","sensor_type":"energy","timestamp":"10/03/2025"}`},
		{"missing location", `{"type":"weather","timestamp":"2025-03-10T09:00:00Z"}`},
		{"negative forecast hour", `{"type":"weather","location_id":"L1","forecast_hour":-1,"timestamp":"2025-03-10T09:00:00Z"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMessage([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestAlertNotificationEncoding(t *testing.T) {
	at := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	data, err := EncodeAlertNotification(&AlertNotification{
		Type: AlertTypeAnomaly, BuildingID: "B1", UnitID: "U1", Severity: database.SeverityHigh, At: at,
	})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"ANOMALY_DETECTED"`)

	alert, err := DecodeAlertNotification(data)
	require.NoError(t, err)
	assert.Equal(t, "U1", alert.UnitID)
	assert.True(t, at.Equal(alert.At))
}
