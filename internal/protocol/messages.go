package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/smukkama/energy-pipeline/internal/database"
)

// MessageType represents the type of ingestion message
type MessageType string

const (
	MsgTypeReading MessageType = "reading"
	MsgTypeWeather MessageType = "weather"
)

// BaseMessage is the common structure for all ingestion messages
type BaseMessage struct {
	Type MessageType `json:"type"`
}

// ReadingMessage carries one sensor reading from a building gateway
type ReadingMessage struct {
	Type        MessageType `json:"type"`
	BuildingID  string      `json:"building_id"`
	UnitID      string      `json:"unit_id"`
	SensorID    string      `json:"sensor_id,omitempty"`
	SensorType  string      `json:"sensor_type"`
	Timestamp   string      `json:"timestamp"`
	Value       float64     `json:"value"`
	QualityFlag string      `json:"quality_flag,omitempty"`
}

// WeatherMessage carries one observation or forecast for a location
type WeatherMessage struct {
	Type         MessageType `json:"type"`
	LocationID   string      `json:"location_id"`
	Timestamp    string      `json:"timestamp"`
	ForecastHour int         `json:"forecast_hour"`
	TempExternal *float64    `json:"temp_external,omitempty"`
	Humidity     *float64    `json:"humidity,omitempty"`
	WindSpeedKmh *float64    `json:"wind_speed_kmh,omitempty"`
	CloudCover   *float64    `json:"cloud_cover,omitempty"`
}

var sensorTypes = map[string]bool{
	database.SensorEnergy:       true,
	database.SensorTempInternal: true,
	database.SensorHumidity:     true,
	database.SensorOccupancy:    true,
}

// ParseMessage parses a JSON payload into the appropriate message type
func ParseMessage(data []byte) (interface{}, error) {
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	switch base.Type {
	case MsgTypeReading:
		var msg ReadingMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid reading message: %w", err)
		}
		if err := validateReading(&msg); err != nil {
			return nil, err
		}
		return &msg, nil

	case MsgTypeWeather:
		var msg WeatherMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid weather message: %w", err)
		}
		if err := validateWeather(&msg); err != nil {
			return nil, err
		}
		return &msg, nil

	default:
		return nil, fmt.Errorf("unknown message type: %s", base.Type)
	}
}

func validateTimestamp(ts string) error {
	if ts == "" {
		return fmt.Errorf("timestamp is required")
	}
	if _, err := time.Parse(time.RFC3339, ts); err != nil {
		return fmt.Errorf("invalid timestamp format (must be RFC3339): %w", err)
	}
	return nil
}

// validateReading validates a reading message
func validateReading(msg *ReadingMessage) error {
	if msg.BuildingID == "" || msg.UnitID == "" {
		return fmt.Errorf("building_id and unit_id are required")
	}
	if !sensorTypes[msg.SensorType] {
		return fmt.Errorf("unknown sensor type: %q", msg.SensorType)
	}
	return validateTimestamp(msg.Timestamp)
}

// validateWeather validates a weather message
func validateWeather(msg *WeatherMessage) error {
	if msg.LocationID == "" {
		return fmt.Errorf("location_id is required")
	}
	if msg.ForecastHour < 0 {
		return fmt.Errorf("forecast_hour must not be negative")
	}
	return validateTimestamp(msg.Timestamp)
}

// ToReading converts a validated message into a store row
func (m *ReadingMessage) ToReading() *database.Reading {
	ts, _ := time.Parse(time.RFC3339, m.Timestamp)
	r := &database.Reading{
		BuildingID: m.BuildingID,
		UnitID:     m.UnitID,
		Timestamp:  ts.UTC(),
		SensorType: m.SensorType,
		Value:      m.Value,
	}
	if m.SensorID != "" {
		id := m.SensorID
		r.SensorID = &id
	}
	if m.QualityFlag != "" {
		q := m.QualityFlag
		r.QualityFlag = &q
	}
	return r
}

// ToObservation converts a validated message into a store row
func (m *WeatherMessage) ToObservation() *database.WeatherObservation {
	ts, _ := time.Parse(time.RFC3339, m.Timestamp)
	return &database.WeatherObservation{
		LocationID:   m.LocationID,
		Timestamp:    ts.UTC(),
		ForecastHour: m.ForecastHour,
		TempExternal: m.TempExternal,
		Humidity:     m.Humidity,
		WindSpeedKmh: m.WindSpeedKmh,
		CloudCover:   m.CloudCover,
	}
}

// EncodeMessage encodes a message to JSON
func EncodeMessage(msg interface{}) ([]byte, error) {
	return json.Marshal(msg)
}
