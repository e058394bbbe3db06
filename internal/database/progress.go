package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// GetProgress returns the anchor of (pipeline, building), nil when the pipeline
// never ran for the building
func (db *DB) GetProgress(ctx context.Context, pipelineName, buildingID string) (*PipelineProgress, error) {
	query := `
		SELECT pipeline_name, building_id, current_anchor_ts, updated_at
		FROM pipeline_progress
		WHERE pipeline_name = $1 AND building_id = $2
	`

	var p PipelineProgress
	err := db.QueryRowContext(ctx, query, pipelineName, buildingID).Scan(
		&p.PipelineName,
		&p.BuildingID,
		&p.CurrentAnchorTS,
		&p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SetAnchor moves the anchor of (pipeline, building). Operators use the same
// call to reset it to an earlier timestamp.
func (db *DB) SetAnchor(ctx context.Context, pipelineName, buildingID string, anchor time.Time) error {
	query := `
		INSERT INTO pipeline_progress (pipeline_name, building_id, current_anchor_ts)
		VALUES ($1, $2, $3)
		ON CONFLICT (pipeline_name, building_id) DO UPDATE
		SET current_anchor_ts = EXCLUDED.current_anchor_ts,
		    updated_at = CURRENT_TIMESTAMP
	`
	_, err := db.ExecContext(ctx, query, pipelineName, buildingID, anchor)
	return err
}

// ListProgress returns every pipeline anchor of a building
func (db *DB) ListProgress(ctx context.Context, buildingID string) ([]*PipelineProgress, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT pipeline_name, building_id, current_anchor_ts, updated_at
		FROM pipeline_progress
		WHERE building_id = $1
		ORDER BY pipeline_name
	`, buildingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var progress []*PipelineProgress
	for rows.Next() {
		var p PipelineProgress
		if err := rows.Scan(&p.PipelineName, &p.BuildingID, &p.CurrentAnchorTS, &p.UpdatedAt); err != nil {
			return nil, err
		}
		progress = append(progress, &p)
	}
	return progress, rows.Err()
}

// InsertValidationRecord appends a health snapshot
func (db *DB) InsertValidationRecord(ctx context.Context, v *ValidationRecord) error {
	reasons := v.Reasons
	if reasons == nil {
		reasons = []ValidationReason{}
	}
	encoded, err := json.Marshal(reasons)
	if err != nil {
		return fmt.Errorf("failed to encode validation reasons: %w", err)
	}

	query := `
		INSERT INTO validation_log (
			building_id, pipeline_name, run_id, anchor_ts, status, avg_confidence,
			coverage, units_total, units_blocked, units_invalid, reasons
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at
	`
	return db.QueryRowContext(ctx, query,
		v.BuildingID,
		v.PipelineName,
		v.RunID,
		v.AnchorTS,
		v.Status,
		v.AvgConfidence,
		v.Coverage,
		v.UnitsTotal,
		v.UnitsBlocked,
		v.UnitsInvalid,
		encoded,
	).Scan(&v.ID, &v.CreatedAt)
}

// ListValidationRecords returns the health snapshots of a building, newest first
func (db *DB) ListValidationRecords(ctx context.Context, buildingID string, limit int) ([]*ValidationRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, building_id, pipeline_name, run_id, anchor_ts, status, avg_confidence,
		       coverage, units_total, units_blocked, units_invalid, reasons, created_at
		FROM validation_log
		WHERE building_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, buildingID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*ValidationRecord
	for rows.Next() {
		var v ValidationRecord
		var reasons []byte
		if err := rows.Scan(
			&v.ID,
			&v.BuildingID,
			&v.PipelineName,
			&v.RunID,
			&v.AnchorTS,
			&v.Status,
			&v.AvgConfidence,
			&v.Coverage,
			&v.UnitsTotal,
			&v.UnitsBlocked,
			&v.UnitsInvalid,
			&reasons,
			&v.CreatedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(reasons, &v.Reasons); err != nil {
			return nil, fmt.Errorf("failed to decode validation reasons: %w", err)
		}
		records = append(records, &v)
	}
	return records, rows.Err()
}
