package database

import (
	"context"
	"database/sql"
)

// InsertPlan appends an optimization plan. When a plan already exists for
// (unit, created_at) the stored plan id is loaded into p instead.
func (db *DB) InsertPlan(ctx context.Context, p *OptimizationPlan) error {
	err := db.QueryRowContext(ctx, `
		INSERT INTO optimization_plans (
			plan_id, building_id, unit_id, created_at, prediction_id, action_type,
			target_temp, window_start, window_end, estimated_cost, baseline_cost,
			estimated_savings, confidence, method
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (unit_id, created_at) DO NOTHING
		RETURNING plan_id
	`,
		p.PlanID,
		p.BuildingID,
		p.UnitID,
		p.CreatedAt,
		p.PredictionID,
		p.ActionType,
		p.TargetTemp,
		p.WindowStart,
		p.WindowEnd,
		p.EstimatedCost,
		p.BaselineCost,
		p.EstimatedSavings,
		p.Confidence,
		p.Method,
	).Scan(&p.PlanID)
	if err != sql.ErrNoRows {
		return err
	}

	return db.QueryRowContext(ctx,
		`SELECT plan_id FROM optimization_plans WHERE unit_id = $1 AND created_at = $2`,
		p.UnitID, p.CreatedAt,
	).Scan(&p.PlanID)
}

// ListPlans returns the plans of a building, newest first
func (db *DB) ListPlans(ctx context.Context, buildingID string, limit int) ([]*OptimizationPlan, error) {
	query := `
		SELECT plan_id, building_id, unit_id, created_at, prediction_id, action_type,
		       target_temp, window_start, window_end, estimated_cost, baseline_cost,
		       estimated_savings, confidence, method
		FROM optimization_plans
		WHERE building_id = $1
		ORDER BY created_at DESC, unit_id
		LIMIT $2
	`

	rows, err := db.QueryContext(ctx, query, buildingID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []*OptimizationPlan
	for rows.Next() {
		var p OptimizationPlan
		if err := rows.Scan(
			&p.PlanID,
			&p.BuildingID,
			&p.UnitID,
			&p.CreatedAt,
			&p.PredictionID,
			&p.ActionType,
			&p.TargetTemp,
			&p.WindowStart,
			&p.WindowEnd,
			&p.EstimatedCost,
			&p.BaselineCost,
			&p.EstimatedSavings,
			&p.Confidence,
			&p.Method,
		); err != nil {
			return nil, err
		}
		plans = append(plans, &p)
	}
	return plans, rows.Err()
}
