package database

import (
	"context"
	"database/sql"
)

// InsertDecision records the decision for a plan. It reports false when the plan
// already has a decision, in which case nothing is written.
func (db *DB) InsertDecision(ctx context.Context, d *Decision) (bool, error) {
	var id string
	err := db.QueryRowContext(ctx, `
		INSERT INTO decisions (
			decision_id, plan_id, building_id, unit_id, decided_at, action,
			target_temp, approved, reasoning, confidence, mode, veto_anomaly_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (plan_id) DO NOTHING
		RETURNING decision_id
	`,
		d.DecisionID,
		d.PlanID,
		d.BuildingID,
		d.UnitID,
		d.DecidedAt,
		d.Action,
		d.TargetTemp,
		d.Approved,
		d.Reasoning,
		d.Confidence,
		d.Mode,
		d.VetoAnomalyID,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListDecisions returns the decisions of a building, newest first
func (db *DB) ListDecisions(ctx context.Context, buildingID string, limit int) ([]*Decision, error) {
	query := `
		SELECT decision_id, plan_id, building_id, unit_id, decided_at, action,
		       target_temp, approved, reasoning, confidence, mode, veto_anomaly_id
		FROM decisions
		WHERE building_id = $1
		ORDER BY decided_at DESC, unit_id
		LIMIT $2
	`

	rows, err := db.QueryContext(ctx, query, buildingID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var decisions []*Decision
	for rows.Next() {
		var d Decision
		if err := rows.Scan(
			&d.DecisionID,
			&d.PlanID,
			&d.BuildingID,
			&d.UnitID,
			&d.DecidedAt,
			&d.Action,
			&d.TargetTemp,
			&d.Approved,
			&d.Reasoning,
			&d.Confidence,
			&d.Mode,
			&d.VetoAnomalyID,
		); err != nil {
			return nil, err
		}
		decisions = append(decisions, &d)
	}
	return decisions, rows.Err()
}
