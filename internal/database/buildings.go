package database

import (
	"context"
	"database/sql"
)

// ListBuildingIDs returns every building in a stable order
func (db *DB) ListBuildingIDs(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT building_id FROM buildings ORDER BY building_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetBuilding retrieves a building by id, nil when it does not exist
func (db *DB) GetBuilding(ctx context.Context, buildingID string) (*Building, error) {
	query := `
		SELECT building_id, name, location_id, floors, unit_count,
		       insulation_class, building_type, timezone, created_at
		FROM buildings
		WHERE building_id = $1
	`

	var b Building
	err := db.QueryRowContext(ctx, query, buildingID).Scan(
		&b.BuildingID,
		&b.Name,
		&b.LocationID,
		&b.Floors,
		&b.UnitCount,
		&b.InsulationClass,
		&b.BuildingType,
		&b.Timezone,
		&b.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetTariff retrieves the tariff schedule of a building, nil when none is configured
func (db *DB) GetTariff(ctx context.Context, buildingID string) (*Tariff, error) {
	query := `
		SELECT building_id, low_start, low_end, low_price, high_price,
		       sunday_all_day_low, currency
		FROM tariffs
		WHERE building_id = $1
	`

	var t Tariff
	err := db.QueryRowContext(ctx, query, buildingID).Scan(
		&t.BuildingID,
		&t.LowStart,
		&t.LowEnd,
		&t.LowPrice,
		&t.HighPrice,
		&t.SundayAllDayLow,
		&t.Currency,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListUnits returns the units of a building ordered by id
func (db *DB) ListUnits(ctx context.Context, buildingID string) ([]*Unit, error) {
	query := `
		SELECT unit_id, building_id, area_initial, area_estimated, area_final,
		       area_confidence, area_source, has_heating_control, has_cooling_control,
		       created_at
		FROM units
		WHERE building_id = $1
		ORDER BY unit_id
	`

	rows, err := db.QueryContext(ctx, query, buildingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var units []*Unit
	for rows.Next() {
		var u Unit
		if err := rows.Scan(
			&u.UnitID,
			&u.BuildingID,
			&u.AreaInitial,
			&u.AreaEstimated,
			&u.AreaFinal,
			&u.AreaConfidence,
			&u.AreaSource,
			&u.HasHeatingControl,
			&u.HasCoolingControl,
			&u.CreatedAt,
		); err != nil {
			return nil, err
		}
		units = append(units, &u)
	}
	return units, rows.Err()
}

// ListSensors returns all sensors of a building, including deactivated ones
func (db *DB) ListSensors(ctx context.Context, buildingID string) ([]*Sensor, error) {
	query := `
		SELECT s.sensor_id, s.unit_id, s.sensor_type, s.is_active, s.installed_at, s.deactivated_at
		FROM sensors s
		JOIN units u ON u.unit_id = s.unit_id
		WHERE u.building_id = $1
		ORDER BY s.unit_id, s.sensor_type, s.installed_at
	`

	rows, err := db.QueryContext(ctx, query, buildingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sensors []*Sensor
	for rows.Next() {
		var s Sensor
		if err := rows.Scan(&s.SensorID, &s.UnitID, &s.SensorType, &s.IsActive, &s.InstalledAt, &s.DeactivatedAt); err != nil {
			return nil, err
		}
		sensors = append(sensors, &s)
	}
	return sensors, rows.Err()
}
