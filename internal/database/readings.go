package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// InsertReadings appends a batch of readings in one transaction
func (db *DB) InsertReadings(ctx context.Context, readings []*Reading) error {
	if len(readings) == 0 {
		return nil
	}

	return db.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO sensor_readings (
				building_id, unit_id, sensor_id, timestamp, sensor_type, value, quality_flag
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id, ingested_at
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare reading insert: %w", err)
		}
		defer stmt.Close()

		for _, r := range readings {
			if err := stmt.QueryRowContext(ctx,
				r.BuildingID,
				r.UnitID,
				r.SensorID,
				r.Timestamp,
				r.SensorType,
				r.Value,
				r.QualityFlag,
			).Scan(&r.ID, &r.IngestedAt); err != nil {
				return fmt.Errorf("failed to insert reading for unit %s: %w", r.UnitID, err)
			}
		}
		return nil
	})
}

// InsertWeatherObservations appends a batch of weather observations in one transaction
func (db *DB) InsertWeatherObservations(ctx context.Context, observations []*WeatherObservation) error {
	if len(observations) == 0 {
		return nil
	}

	return db.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO weather_observations (
				location_id, timestamp, forecast_hour, temp_external, humidity,
				wind_speed_kmh, cloud_cover
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id, ingested_at
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare weather insert: %w", err)
		}
		defer stmt.Close()

		for _, w := range observations {
			if err := stmt.QueryRowContext(ctx,
				w.LocationID,
				w.Timestamp,
				w.ForecastHour,
				w.TempExternal,
				w.Humidity,
				w.WindSpeedKmh,
				w.CloudCover,
			).Scan(&w.ID, &w.IngestedAt); err != nil {
				return fmt.Errorf("failed to insert weather for location %s: %w", w.LocationID, err)
			}
		}
		return nil
	})
}

// ReadingsInRange returns the readings of a building with from <= timestamp < to,
// in ingestion order per (unit, sensor_type, timestamp)
func (db *DB) ReadingsInRange(ctx context.Context, buildingID string, from, to time.Time) ([]*Reading, error) {
	query := `
		SELECT id, building_id, unit_id, sensor_id, timestamp, sensor_type,
		       value, quality_flag, ingested_at
		FROM sensor_readings
		WHERE building_id = $1 AND timestamp >= $2 AND timestamp < $3
		ORDER BY unit_id, sensor_type, timestamp, ingested_at, id
	`

	rows, err := db.QueryContext(ctx, query, buildingID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []*Reading
	for rows.Next() {
		var r Reading
		if err := rows.Scan(
			&r.ID,
			&r.BuildingID,
			&r.UnitID,
			&r.SensorID,
			&r.Timestamp,
			&r.SensorType,
			&r.Value,
			&r.QualityFlag,
			&r.IngestedAt,
		); err != nil {
			return nil, err
		}
		readings = append(readings, &r)
	}
	return readings, rows.Err()
}

// EarliestReadingTime returns the first reading timestamp of a building, nil when it has none
func (db *DB) EarliestReadingTime(ctx context.Context, buildingID string) (*time.Time, error) {
	var ts sql.NullTime
	err := db.QueryRowContext(ctx,
		`SELECT MIN(timestamp) FROM sensor_readings WHERE building_id = $1`, buildingID,
	).Scan(&ts)
	if err != nil {
		return nil, err
	}
	if !ts.Valid {
		return nil, nil
	}
	return &ts.Time, nil
}

// WeatherInRange returns nowcast observations (forecast_hour = 0) for a location
func (db *DB) WeatherInRange(ctx context.Context, locationID string, from, to time.Time) ([]*WeatherObservation, error) {
	query := `
		SELECT id, location_id, timestamp, forecast_hour, temp_external, humidity,
		       wind_speed_kmh, cloud_cover, ingested_at
		FROM weather_observations
		WHERE location_id = $1 AND forecast_hour = 0 AND timestamp >= $2 AND timestamp < $3
		ORDER BY timestamp, ingested_at, id
	`

	rows, err := db.QueryContext(ctx, query, locationID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var observations []*WeatherObservation
	for rows.Next() {
		var w WeatherObservation
		if err := rows.Scan(
			&w.ID,
			&w.LocationID,
			&w.Timestamp,
			&w.ForecastHour,
			&w.TempExternal,
			&w.Humidity,
			&w.WindSpeedKmh,
			&w.CloudCover,
			&w.IngestedAt,
		); err != nil {
			return nil, err
		}
		observations = append(observations, &w)
	}
	return observations, rows.Err()
}
