package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// ListClusters returns the stored clusters of a building
func (db *DB) ListClusters(ctx context.Context, buildingID string) ([]*Cluster, error) {
	query := `
		SELECT cluster_id, building_id, label, centroid, unit_count, updated_at
		FROM clusters
		WHERE building_id = $1
		ORDER BY cluster_id
	`

	rows, err := db.QueryContext(ctx, query, buildingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clusters []*Cluster
	for rows.Next() {
		var c Cluster
		var centroid []byte
		if err := rows.Scan(&c.ClusterID, &c.BuildingID, &c.Label, &centroid, &c.UnitCount, &c.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(centroid, &c.Centroid); err != nil {
			return nil, fmt.Errorf("failed to decode centroid of %s: %w", c.ClusterID, err)
		}
		clusters = append(clusters, &c)
	}
	return clusters, rows.Err()
}

// UpsertClusters stores cluster centroids and labels
func (db *DB) UpsertClusters(ctx context.Context, clusters []*Cluster) error {
	if len(clusters) == 0 {
		return nil
	}

	query := `
		INSERT INTO clusters (cluster_id, building_id, label, centroid, unit_count)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (cluster_id) DO UPDATE
		SET label = EXCLUDED.label,
		    centroid = EXCLUDED.centroid,
		    unit_count = EXCLUDED.unit_count,
		    updated_at = CURRENT_TIMESTAMP
	`

	return db.withTx(ctx, func(tx *sql.Tx) error {
		for _, c := range clusters {
			centroid, err := json.Marshal(c.Centroid)
			if err != nil {
				return fmt.Errorf("failed to encode centroid of %s: %w", c.ClusterID, err)
			}
			if _, err := tx.ExecContext(ctx, query, c.ClusterID, c.BuildingID, c.Label, centroid, c.UnitCount); err != nil {
				return fmt.Errorf("failed to upsert cluster %s: %w", c.ClusterID, err)
			}
		}
		return nil
	})
}

const assignmentColumns = `
	id, building_id, unit_id, cluster_id, start_date, end_date, confidence, reason, created_at`

// OpenAssignments returns the currently open assignment of every unit in a building
func (db *DB) OpenAssignments(ctx context.Context, buildingID string) ([]*ClusterAssignment, error) {
	query := `SELECT ` + assignmentColumns + `
		FROM unit_cluster_assignments
		WHERE building_id = $1 AND end_date IS NULL
		ORDER BY unit_id
	`
	return db.queryAssignments(ctx, query, buildingID)
}

// ListAssignments returns the full membership history of a building
func (db *DB) ListAssignments(ctx context.Context, buildingID string) ([]*ClusterAssignment, error) {
	query := `SELECT ` + assignmentColumns + `
		FROM unit_cluster_assignments
		WHERE building_id = $1
		ORDER BY unit_id, start_date, id
	`
	return db.queryAssignments(ctx, query, buildingID)
}

func (db *DB) queryAssignments(ctx context.Context, query string, args ...interface{}) ([]*ClusterAssignment, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assignments []*ClusterAssignment
	for rows.Next() {
		var a ClusterAssignment
		if err := rows.Scan(
			&a.ID,
			&a.BuildingID,
			&a.UnitID,
			&a.ClusterID,
			&a.StartDate,
			&a.EndDate,
			&a.Confidence,
			&a.Reason,
			&a.CreatedAt,
		); err != nil {
			return nil, err
		}
		a.StartDate = dateOnly(a.StartDate)
		if a.EndDate != nil {
			end := dateOnly(*a.EndDate)
			a.EndDate = &end
		}
		assignments = append(assignments, &a)
	}
	return assignments, rows.Err()
}

// ReassignUnit closes the unit's open assignment (if any) at next.StartDate and opens
// next, atomically
func (db *DB) ReassignUnit(ctx context.Context, next *ClusterAssignment) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE unit_cluster_assignments
			SET end_date = $1
			WHERE unit_id = $2 AND end_date IS NULL
		`, dateOnly(next.StartDate), next.UnitID); err != nil {
			return fmt.Errorf("failed to close assignment of unit %s: %w", next.UnitID, err)
		}

		return tx.QueryRowContext(ctx, `
			INSERT INTO unit_cluster_assignments (
				building_id, unit_id, cluster_id, start_date, confidence, reason
			) VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, created_at
		`,
			next.BuildingID,
			next.UnitID,
			next.ClusterID,
			dateOnly(next.StartDate),
			next.Confidence,
			next.Reason,
		).Scan(&next.ID, &next.CreatedAt)
	})
}

// CloseAssignment ends the unit's open assignment at endDate without opening a
// new one. Returns whether an assignment was open.
func (db *DB) CloseAssignment(ctx context.Context, unitID string, endDate time.Time) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE unit_cluster_assignments
		SET end_date = $1
		WHERE unit_id = $2 AND end_date IS NULL
	`, dateOnly(endDate), unitID)
	if err != nil {
		return false, fmt.Errorf("failed to close assignment of unit %s: %w", unitID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CountOpenAssignments returns how many open assignments a unit has; used by invariant checks
func (db *DB) CountOpenAssignments(ctx context.Context, unitID string) (int, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM unit_cluster_assignments WHERE unit_id = $1 AND end_date IS NULL`, unitID,
	).Scan(&n)
	return n, err
}
