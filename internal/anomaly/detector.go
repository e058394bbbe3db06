package anomaly

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/smukkama/energy-pipeline/internal/database"
	"github.com/smukkama/energy-pipeline/internal/features"
	"github.com/smukkama/energy-pipeline/internal/logger"
	"github.com/smukkama/energy-pipeline/internal/protocol"
	"github.com/smukkama/energy-pipeline/internal/tariff"
	"github.com/smukkama/energy-pipeline/pkg/config"
)

// PipelineName is the progress anchor name of the detector
const PipelineName = "anomaly_detection"

// Store is the persistence the detector needs
type Store interface {
	ReadingsInRange(ctx context.Context, buildingID string, from, to time.Time) ([]*database.Reading, error)
	InsertAnomaly(ctx context.Context, a *database.Anomaly) (bool, error)
}

// Tariffs resolves the price schedule of a building
type Tariffs interface {
	Schedule(ctx context.Context, building *database.Building) (*tariff.Schedule, error)
}

// Publisher delivers operator alerts
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// Result summarises one detection pass
type Result struct {
	Scanned       int
	Detected      []*database.Anomaly
	Duplicates    int
	Alerted       int
	Suppressed    int
	AlertFailures int
}

// Detector flags readings that break fixed bounds or deviate from the
// unit's own trailing distribution, energy use that is wasteful given
// occupancy and tariff, and weekly consumption patterns. It never modifies
// readings.
type Detector struct {
	store     Store
	tariffs   Tariffs
	state     AlertState
	publisher Publisher
	cfg       config.AnomalyConfig
	log       *logger.Logger
}

// NewDetector creates a new detector. tariffs may be nil, which disables the
// cost rule. state and publisher may be nil, in which case no alerts are sent.
func NewDetector(store Store, tariffs Tariffs, state AlertState, publisher Publisher, cfg config.AnomalyConfig, log *logger.Logger) *Detector {
	return &Detector{store: store, tariffs: tariffs, state: state, publisher: publisher, cfg: cfg, log: log}
}

// Scan checks one series (a single unit and sensor type, ordered by
// timestamp) and returns candidate anomalies for readings at or after from.
// Earlier readings only feed the trailing distribution.
func Scan(series []*database.Reading, from time.Time, cfg config.AnomalyConfig) []*database.Anomaly {
	var out []*database.Anomaly
	var w window
	tail := 0

	for i, r := range series {
		cutoff := r.Timestamp.Add(-cfg.TrailingWindow)
		for tail < i && series[tail].Timestamp.Before(cutoff) {
			if CheckBounds(series[tail].SensorType, series[tail].Value) == nil {
				w.remove(series[tail].Value)
			}
			tail++
		}

		faulty := CheckBounds(r.SensorType, r.Value)
		if !r.Timestamp.Before(from) {
			var findings []*Finding
			if faulty != nil {
				findings = append(findings, faulty)
			} else {
				if f := CheckComfort(r.SensorType, r.Value); f != nil {
					findings = append(findings, f)
				}
				if f := checkZScore(r.Value, &w, cfg); f != nil {
					findings = append(findings, f)
				}
			}
			for _, f := range findings {
				out = append(out, toAnomaly(r, f))
			}
		}

		if faulty == nil {
			w.add(r.Value)
		}
	}
	return out
}

func toAnomaly(r *database.Reading, f *Finding) *database.Anomaly {
	details, _ := json.Marshal(f.Details)
	action := f.Action
	return &database.Anomaly{
		BuildingID:  r.BuildingID,
		UnitID:      r.UnitID,
		SensorID:    r.SensorID,
		SensorType:  r.SensorType,
		Timestamp:   r.Timestamp,
		AnomalyType: f.Type,
		Value:       r.Value,
		Severity:    f.Severity,
		ZScore:      f.ZScore,
		ActionTaken: &action,
		Details:     details,
	}
}

// lookback is how far before from the readings of a pass are loaded
func (d *Detector) lookback() time.Duration {
	l := max(d.cfg.TrailingWindow, d.cfg.EnergyLookback)
	return max(l, (WeekDays+1)*24*time.Hour)
}

// Detect checks the building's readings with from <= timestamp < to, and
// reviews the week before each local midnight in (from, to]
func (d *Detector) Detect(ctx context.Context, building *database.Building, from, to time.Time) (*Result, error) {
	buildingID := building.BuildingID
	loc, err := building.LoadLocation()
	if err != nil {
		return nil, err
	}
	var sched *tariff.Schedule
	if d.tariffs != nil {
		if sched, err = d.tariffs.Schedule(ctx, building); err != nil {
			return nil, err
		}
	}

	readings, err := d.store.ReadingsInRange(ctx, buildingID, from.Add(-d.lookback()), to)
	if err != nil {
		return nil, fmt.Errorf("failed to load readings: %w", err)
	}
	series := features.Dedupe(readings)

	result := &Result{}
	var candidates []*database.Anomaly
	var energy, occupancy []*database.Reading
	flushUnit := func() {
		if len(energy) > 0 {
			candidates = append(candidates, ScanEnergy(energy, occupancy, from, d.cfg.EnergyLookback, sched)...)
			candidates = append(candidates, WeeklyScan(energy, from, to, loc, d.cfg.WeeklyBudgetKWh, sched)...)
		}
		energy, occupancy = nil, nil
	}
	for start := 0; start < len(series); {
		end := start + 1
		for end < len(series) && series[end].UnitID == series[start].UnitID && series[end].SensorType == series[start].SensorType {
			end++
		}
		for _, r := range series[start:end] {
			if !r.Timestamp.Before(from) {
				result.Scanned++
			}
		}
		candidates = append(candidates, Scan(series[start:end], from, d.cfg)...)

		switch series[start].SensorType {
		case database.SensorEnergy:
			energy = series[start:end]
		case database.SensorOccupancy:
			occupancy = series[start:end]
		}
		if end == len(series) || series[end].UnitID != series[start].UnitID {
			flushUnit()
		}
		start = end
	}

	for _, a := range candidates {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		d.settleAction(a)
		inserted, err := d.store.InsertAnomaly(ctx, a)
		if err != nil {
			return result, fmt.Errorf("failed to store anomaly for unit %s: %w", a.UnitID, err)
		}
		if !inserted {
			result.Duplicates++
			continue
		}
		result.Detected = append(result.Detected, a)

		if a.Severity == database.SeverityHigh || *a.ActionTaken == ActionAlert {
			d.alert(ctx, a, result)
		}
	}

	if len(result.Detected) > 0 {
		d.log.Info("anomalies detected",
			"building_id", buildingID,
			"scanned", result.Scanned,
			"detected", len(result.Detected),
			"alerted", result.Alerted,
		)
	}
	return result, nil
}

// settleAction fixes the recorded action before the anomaly is stored.
// High-severity findings are alerted when a publisher is configured; without
// one nothing is alerted.
func (d *Detector) settleAction(a *database.Anomaly) {
	action := *a.ActionTaken
	switch {
	case d.publisher == nil && action == ActionAlert:
		action = ActionInvestigate
	case d.publisher != nil && action == ActionInvestigate && a.Severity == database.SeverityHigh:
		action = ActionAlert
	}
	a.ActionTaken = &action
}

func (d *Detector) alert(ctx context.Context, a *database.Anomaly, result *Result) {
	if d.publisher == nil {
		return
	}

	if d.state != nil {
		claimed, err := d.state.Claim(ctx, a.UnitID, a.SensorType, &AlertRecord{
			AnomalyID: a.ID,
			Severity:  a.Severity,
			Value:     a.Value,
			AlertedAt: a.DetectedAt,
		})
		if err != nil {
			// fail open: send without de-duplication
			d.log.Warn("alert state unavailable", "unit_id", a.UnitID, "error", err)
		} else if !claimed {
			result.Suppressed++
			if last, err := d.state.Last(ctx, a.UnitID, a.SensorType); err == nil && last != nil {
				d.log.Debug("alert suppressed by cooldown",
					"unit_id", a.UnitID,
					"sensor_type", a.SensorType,
					"anomaly_id", a.ID,
					"alerted_anomaly_id", last.AnomalyID,
				)
			}
			return
		}
	}

	detail := fmt.Sprintf("%s on %s: value %.3f", a.AnomalyType, a.SensorType, a.Value)
	if a.ZScore != nil {
		detail += fmt.Sprintf(" (z %.2f)", *a.ZScore)
	}
	data, err := protocol.EncodeAlertNotification(&protocol.AlertNotification{
		Type:       protocol.AlertTypeAnomaly,
		BuildingID: a.BuildingID,
		UnitID:     a.UnitID,
		SensorType: a.SensorType,
		Severity:   a.Severity,
		Value:      a.Value,
		Detail:     detail,
		At:         a.Timestamp,
		AnomalyID:  a.ID,
	})
	if err == nil {
		err = d.publisher.Publish(ctx, a.BuildingID, data)
	}
	if err != nil {
		result.AlertFailures++
		d.log.Error("failed to publish alert", "unit_id", a.UnitID, "anomaly_id", a.ID, "error", err)
		return
	}
	result.Alerted++
}
