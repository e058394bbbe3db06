package protocol

import (
	"encoding/json"
	"time"
)

// AlertNotification is the message format for operator alerts
type AlertNotification struct {
	Type       string    `json:"type"` // ANOMALY_DETECTED, PIPELINE_BLOCKED
	BuildingID string    `json:"building_id"`
	UnitID     string    `json:"unit_id,omitempty"`
	SensorType string    `json:"sensor_type,omitempty"`
	Severity   string    `json:"severity"`
	Value      float64   `json:"value,omitempty"`
	Detail     string    `json:"detail"`
	At         time.Time `json:"at"`
	AnomalyID  int64     `json:"anomaly_id,omitempty"`
}

const (
	AlertTypeAnomaly         = "ANOMALY_DETECTED"
	AlertTypePipelineBlocked = "PIPELINE_BLOCKED"
)

// ActionMessage is an approved decision for the external actuator
type ActionMessage struct {
	DecisionID  string    `json:"decision_id"`
	PlanID      string    `json:"plan_id"`
	BuildingID  string    `json:"building_id"`
	UnitID      string    `json:"unit_id"`
	Action      string    `json:"action"`
	TargetTemp  *float64  `json:"target_temp,omitempty"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	DecidedAt   time.Time `json:"decided_at"`
}

// EncodeAlertNotification encodes an AlertNotification to JSON
func EncodeAlertNotification(alert *AlertNotification) ([]byte, error) {
	return json.Marshal(alert)
}

// DecodeAlertNotification decodes JSON to AlertNotification
func DecodeAlertNotification(data []byte) (*AlertNotification, error) {
	var alert AlertNotification
	if err := json.Unmarshal(data, &alert); err != nil {
		return nil, err
	}
	return &alert, nil
}

// EncodeActionMessage encodes an ActionMessage to JSON
func EncodeActionMessage(action *ActionMessage) ([]byte, error) {
	return json.Marshal(action)
}

// DecodeActionMessage decodes JSON to ActionMessage
func DecodeActionMessage(data []byte) (*ActionMessage, error) {
	var action ActionMessage
	if err := json.Unmarshal(data, &action); err != nil {
		return nil, err
	}
	return &action, nil
}
