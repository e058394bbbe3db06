package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrModelNotFound is returned when a registry entry does not exist
var ErrModelNotFound = errors.New("model registry entry not found")

const modelColumns = `
	model_id, model_name, scope_key, building_id, task, algorithm, feature_version,
	trained_at, artifact_path, metrics, is_active, created_at, activated_at`

// InsertModel registers a new, inactive registry entry
func (db *DB) InsertModel(ctx context.Context, m *ModelRegistryEntry) error {
	metrics := m.Metrics
	if len(metrics) == 0 {
		metrics = []byte("{}")
	}

	query := `
		INSERT INTO model_registry (
			model_id, model_name, scope_key, building_id, task, algorithm,
			feature_version, trained_at, artifact_path, metrics, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, false)
		RETURNING created_at
	`

	m.IsActive = false
	return db.QueryRowContext(ctx, query,
		m.ModelID,
		m.ModelName,
		m.ScopeKey,
		m.BuildingID,
		m.Task,
		m.Algorithm,
		m.FeatureVersion,
		m.TrainedAt,
		m.ArtifactPath,
		[]byte(metrics),
	).Scan(&m.CreatedAt)
}

// GetModel retrieves a registry entry by id
func (db *DB) GetModel(ctx context.Context, modelID string) (*ModelRegistryEntry, error) {
	query := `SELECT ` + modelColumns + ` FROM model_registry WHERE model_id = $1`
	m, err := scanModel(db.QueryRowContext(ctx, query, modelID))
	if err == sql.ErrNoRows {
		return nil, ErrModelNotFound
	}
	return m, err
}

// ActiveModel returns the active entry for (scope, task), nil when none is active
func (db *DB) ActiveModel(ctx context.Context, scopeKey, task string) (*ModelRegistryEntry, error) {
	query := `SELECT ` + modelColumns + `
		FROM model_registry
		WHERE scope_key = $1 AND task = $2 AND is_active
	`
	m, err := scanModel(db.QueryRowContext(ctx, query, scopeKey, task))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// ActivateModel makes an entry the only active one for its (scope, task) pair.
// The prior active entry is deactivated in the same transaction.
func (db *DB) ActivateModel(ctx context.Context, modelID string, at time.Time) (*ModelRegistryEntry, error) {
	var activated *ModelRegistryEntry
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		query := `SELECT ` + modelColumns + ` FROM model_registry WHERE model_id = $1 FOR UPDATE`
		m, err := scanModel(tx.QueryRowContext(ctx, query, modelID))
		if err == sql.ErrNoRows {
			return ErrModelNotFound
		}
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE model_registry
			SET is_active = false
			WHERE scope_key = $1 AND task = $2 AND is_active AND model_id <> $3
		`, m.ScopeKey, m.Task, m.ModelID); err != nil {
			return fmt.Errorf("failed to deactivate prior model: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE model_registry
			SET is_active = true, activated_at = $1
			WHERE model_id = $2
		`, at, m.ModelID); err != nil {
			return fmt.Errorf("failed to activate model %s: %w", m.ModelID, err)
		}

		m.IsActive = true
		m.ActivatedAt = &at
		activated = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return activated, nil
}

// ListModels returns every registry entry, newest first
func (db *DB) ListModels(ctx context.Context) ([]*ModelRegistryEntry, error) {
	query := `SELECT ` + modelColumns + ` FROM model_registry ORDER BY created_at DESC, model_id`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var models []*ModelRegistryEntry
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	return models, rows.Err()
}

func scanModel(row rowScanner) (*ModelRegistryEntry, error) {
	var m ModelRegistryEntry
	var metrics []byte
	if err := row.Scan(
		&m.ModelID,
		&m.ModelName,
		&m.ScopeKey,
		&m.BuildingID,
		&m.Task,
		&m.Algorithm,
		&m.FeatureVersion,
		&m.TrainedAt,
		&m.ArtifactPath,
		&metrics,
		&m.IsActive,
		&m.CreatedAt,
		&m.ActivatedAt,
	); err != nil {
		return nil, err
	}
	m.Metrics = metrics
	return &m, nil
}
