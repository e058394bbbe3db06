package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const featureColumns = `
	building_id, unit_id, date, occupancy_morning_avg, occupancy_daytime_avg,
	occupancy_evening_avg, occupancy_night_avg, binary_activity_ratio,
	weekday_consumption_avg, weekend_consumption_avg, consumption_std_dev,
	peak_hour_morning, peak_hour_evening, temp_sensitivity, energy_readings,
	feature_version`

// UpsertFeatureVectors writes daily feature rows, replacing any row with the same
// (building, unit, date) key
func (db *DB) UpsertFeatureVectors(ctx context.Context, vectors []*DailyFeatureVector) error {
	if len(vectors) == 0 {
		return nil
	}

	query := `
		INSERT INTO unit_features_daily (` + featureColumns + `
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (building_id, unit_id, date) DO UPDATE
		SET occupancy_morning_avg = EXCLUDED.occupancy_morning_avg,
		    occupancy_daytime_avg = EXCLUDED.occupancy_daytime_avg,
		    occupancy_evening_avg = EXCLUDED.occupancy_evening_avg,
		    occupancy_night_avg = EXCLUDED.occupancy_night_avg,
		    binary_activity_ratio = EXCLUDED.binary_activity_ratio,
		    weekday_consumption_avg = EXCLUDED.weekday_consumption_avg,
		    weekend_consumption_avg = EXCLUDED.weekend_consumption_avg,
		    consumption_std_dev = EXCLUDED.consumption_std_dev,
		    peak_hour_morning = EXCLUDED.peak_hour_morning,
		    peak_hour_evening = EXCLUDED.peak_hour_evening,
		    temp_sensitivity = EXCLUDED.temp_sensitivity,
		    energy_readings = EXCLUDED.energy_readings,
		    feature_version = EXCLUDED.feature_version,
		    updated_at = CURRENT_TIMESTAMP
	`

	return db.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to prepare feature upsert: %w", err)
		}
		defer stmt.Close()

		for _, v := range vectors {
			if _, err := stmt.ExecContext(ctx,
				v.BuildingID,
				v.UnitID,
				dateOnly(v.Date),
				v.OccupancyMorningAvg,
				v.OccupancyDaytimeAvg,
				v.OccupancyEveningAvg,
				v.OccupancyNightAvg,
				v.BinaryActivityRatio,
				v.WeekdayConsumptionAvg,
				v.WeekendConsumptionAvg,
				v.ConsumptionStdDev,
				v.PeakHourMorning,
				v.PeakHourEvening,
				v.TempSensitivity,
				v.EnergyReadings,
				v.FeatureVersion,
			); err != nil {
				return fmt.Errorf("failed to upsert features for unit %s: %w", v.UnitID, err)
			}
		}
		return nil
	})
}

// FeatureVectorsInRange returns the feature rows of a building with from <= date <= to
func (db *DB) FeatureVectorsInRange(ctx context.Context, buildingID string, from, to time.Time) ([]*DailyFeatureVector, error) {
	query := `SELECT ` + featureColumns + `
		FROM unit_features_daily
		WHERE building_id = $1 AND date >= $2 AND date <= $3
		ORDER BY unit_id, date
	`

	rows, err := db.QueryContext(ctx, query, buildingID, dateOnly(from), dateOnly(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vectors []*DailyFeatureVector
	for rows.Next() {
		v, err := scanFeatureVector(rows)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, v)
	}
	return vectors, rows.Err()
}

// LatestFeatureVector returns the most recent feature row of a unit on or before a date
func (db *DB) LatestFeatureVector(ctx context.Context, unitID string, onOrBefore time.Time) (*DailyFeatureVector, error) {
	query := `SELECT ` + featureColumns + `
		FROM unit_features_daily
		WHERE unit_id = $1 AND date <= $2
		ORDER BY date DESC
		LIMIT 1
	`

	v, err := scanFeatureVector(db.QueryRowContext(ctx, query, unitID, dateOnly(onOrBefore)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return v, err
}

// StaleFeatureDates lists the dates on or after from holding rows older than version
func (db *DB) StaleFeatureDates(ctx context.Context, buildingID string, from time.Time, version int) ([]time.Time, error) {
	query := `
		SELECT DISTINCT date
		FROM unit_features_daily
		WHERE building_id = $1 AND date >= $2 AND feature_version < $3
		ORDER BY date
	`

	rows, err := db.QueryContext(ctx, query, buildingID, dateOnly(from), version)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		dates = append(dates, dateOnly(d))
	}
	return dates, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFeatureVector(row rowScanner) (*DailyFeatureVector, error) {
	var v DailyFeatureVector
	var morning, evening sql.NullInt64
	if err := row.Scan(
		&v.BuildingID,
		&v.UnitID,
		&v.Date,
		&v.OccupancyMorningAvg,
		&v.OccupancyDaytimeAvg,
		&v.OccupancyEveningAvg,
		&v.OccupancyNightAvg,
		&v.BinaryActivityRatio,
		&v.WeekdayConsumptionAvg,
		&v.WeekendConsumptionAvg,
		&v.ConsumptionStdDev,
		&morning,
		&evening,
		&v.TempSensitivity,
		&v.EnergyReadings,
		&v.FeatureVersion,
	); err != nil {
		return nil, err
	}
	v.Date = dateOnly(v.Date)
	if morning.Valid {
		h := int(morning.Int64)
		v.PeakHourMorning = &h
	}
	if evening.Valid {
		h := int(evening.Int64)
		v.PeakHourEvening = &h
	}
	return &v, nil
}
