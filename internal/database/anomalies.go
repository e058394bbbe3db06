package database

import (
	"context"
	"database/sql"
	"time"
)

const anomalyColumns = `
	id, building_id, unit_id, sensor_id, sensor_type, timestamp, anomaly_type,
	value, severity, z_score, action_taken, details, detected_at`

// InsertAnomaly records an anomaly. It reports false when the same event
// (unit, sensor_type, timestamp, anomaly_type) was already recorded.
func (db *DB) InsertAnomaly(ctx context.Context, a *Anomaly) (bool, error) {
	details := a.Details
	if len(details) == 0 {
		details = []byte("{}")
	}

	err := db.QueryRowContext(ctx, `
		INSERT INTO anomalies (
			building_id, unit_id, sensor_id, sensor_type, timestamp, anomaly_type,
			value, severity, z_score, action_taken, details
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (unit_id, sensor_type, timestamp, anomaly_type) DO NOTHING
		RETURNING id, detected_at
	`,
		a.BuildingID,
		a.UnitID,
		a.SensorID,
		a.SensorType,
		a.Timestamp,
		a.AnomalyType,
		a.Value,
		a.Severity,
		a.ZScore,
		a.ActionTaken,
		[]byte(details),
	).Scan(&a.ID, &a.DetectedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// HighSeverityAnomalies returns the high-severity anomalies of a unit with
// from <= timestamp <= to, most recent first
func (db *DB) HighSeverityAnomalies(ctx context.Context, unitID string, from, to time.Time) ([]*Anomaly, error) {
	query := `SELECT ` + anomalyColumns + `
		FROM anomalies
		WHERE unit_id = $1 AND severity = $2 AND timestamp >= $3 AND timestamp <= $4
		ORDER BY timestamp DESC, id DESC
	`
	return db.queryAnomalies(ctx, query, unitID, SeverityHigh, from, to)
}

// ListAnomalies returns the anomalies of a building detected at or after since
func (db *DB) ListAnomalies(ctx context.Context, buildingID string, since time.Time, limit int) ([]*Anomaly, error) {
	query := `SELECT ` + anomalyColumns + `
		FROM anomalies
		WHERE building_id = $1 AND timestamp >= $2
		ORDER BY timestamp DESC, id DESC
		LIMIT $3
	`
	return db.queryAnomalies(ctx, query, buildingID, since, limit)
}

func (db *DB) queryAnomalies(ctx context.Context, query string, args ...interface{}) ([]*Anomaly, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var anomalies []*Anomaly
	for rows.Next() {
		var a Anomaly
		var details []byte
		if err := rows.Scan(
			&a.ID,
			&a.BuildingID,
			&a.UnitID,
			&a.SensorID,
			&a.SensorType,
			&a.Timestamp,
			&a.AnomalyType,
			&a.Value,
			&a.Severity,
			&a.ZScore,
			&a.ActionTaken,
			&details,
			&a.DetectedAt,
		); err != nil {
			return nil, err
		}
		a.Details = details
		anomalies = append(anomalies, &a)
	}
	return anomalies, rows.Err()
}
