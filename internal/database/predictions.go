package database

import (
	"context"
	"database/sql"
	"time"
)

const predictionColumns = `
	id, building_id, unit_id, created_at, target_at, predicted_consumption,
	predicted_occupancy_prob, model_id, model_name, confidence, feature_date`

// InsertPrediction appends a prediction. A row with the same natural key
// (unit, created_at, target_at, model) is left untouched and its id returned.
func (db *DB) InsertPrediction(ctx context.Context, p *Prediction) error {
	err := db.QueryRowContext(ctx, `
		INSERT INTO predictions (
			building_id, unit_id, created_at, target_at, predicted_consumption,
			predicted_occupancy_prob, model_id, model_name, confidence, feature_date
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (unit_id, created_at, target_at, model_id) DO NOTHING
		RETURNING id
	`,
		p.BuildingID,
		p.UnitID,
		p.CreatedAt,
		p.TargetAt,
		p.PredictedConsumption,
		p.PredictedOccupancyProb,
		p.ModelID,
		p.ModelName,
		p.Confidence,
		dateOnly(p.FeatureDate),
	).Scan(&p.ID)
	if err != sql.ErrNoRows {
		return err
	}

	return db.QueryRowContext(ctx, `
		SELECT id FROM predictions
		WHERE unit_id = $1 AND created_at = $2 AND target_at = $3 AND model_id = $4
	`, p.UnitID, p.CreatedAt, p.TargetAt, p.ModelID).Scan(&p.ID)
}

// LatestPredictions returns the newest prediction per unit created at or after since
func (db *DB) LatestPredictions(ctx context.Context, buildingID string, since time.Time) ([]*Prediction, error) {
	query := `
		SELECT DISTINCT ON (unit_id) ` + predictionColumns + `
		FROM predictions
		WHERE building_id = $1 AND created_at >= $2
		ORDER BY unit_id, created_at DESC, id DESC
	`
	return db.queryPredictions(ctx, query, buildingID, since)
}

// ListPredictions returns the predictions of a building, newest first
func (db *DB) ListPredictions(ctx context.Context, buildingID string, limit int) ([]*Prediction, error) {
	query := `SELECT ` + predictionColumns + `
		FROM predictions
		WHERE building_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	return db.queryPredictions(ctx, query, buildingID, limit)
}

// GetPrediction returns a prediction by id, nil when it does not exist
func (db *DB) GetPrediction(ctx context.Context, id int64) (*Prediction, error) {
	predictions, err := db.queryPredictions(ctx, `SELECT `+predictionColumns+` FROM predictions WHERE id = $1`, id)
	if err != nil || len(predictions) == 0 {
		return nil, err
	}
	return predictions[0], nil
}

func (db *DB) queryPredictions(ctx context.Context, query string, args ...interface{}) ([]*Prediction, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var predictions []*Prediction
	for rows.Next() {
		var p Prediction
		if err := rows.Scan(
			&p.ID,
			&p.BuildingID,
			&p.UnitID,
			&p.CreatedAt,
			&p.TargetAt,
			&p.PredictedConsumption,
			&p.PredictedOccupancyProb,
			&p.ModelID,
			&p.ModelName,
			&p.Confidence,
			&p.FeatureDate,
		); err != nil {
			return nil, err
		}
		predictions = append(predictions, &p)
	}
	return predictions, rows.Err()
}
