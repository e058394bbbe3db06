package optimizer

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/smukkama/energy-pipeline/internal/database"
	"github.com/smukkama/energy-pipeline/internal/logger"
	"github.com/smukkama/energy-pipeline/internal/tariff"
	"github.com/smukkama/energy-pipeline/pkg/config"
)

// Method tags every plan this package produces
const Method = "tariff_shift_v1"

// Actions
const (
	ActionMaintain = "maintain"
	ActionSetback  = "setback"
	ActionPreheat  = "preheat"
	ActionPrecool  = "precool"
	ActionDefer    = "defer"
)

// Blocked reasons
const (
	ReasonNoControl          = "no_control_capability"
	ReasonLowConfidence      = "low_confidence"
	ReasonNoRecentPrediction = "no_recent_prediction"
)

// Store is the persistence the optimizer needs
type Store interface {
	GetTariff(ctx context.Context, buildingID string) (*database.Tariff, error)
	LatestPredictions(ctx context.Context, buildingID string, since time.Time) ([]*database.Prediction, error)
	InsertPlan(ctx context.Context, p *database.OptimizationPlan) error
}

// Blocked is a unit the optimizer skipped
type Blocked struct {
	UnitID string
	Reason string
	Detail string
}

// Result summarises one optimization pass
type Result struct {
	Plans   []*database.OptimizationPlan
	Blocked []Blocked
}

// Optimizer proposes HVAC actions that move consumption into cheaper periods
type Optimizer struct {
	store   Store
	tariffs *tariff.Source
	cfg     config.OptimizerConfig
	log     *logger.Logger
}

// New creates a new optimizer
func New(store Store, cfg config.OptimizerConfig, log *logger.Logger) *Optimizer {
	return &Optimizer{store: store, tariffs: tariff.NewSource(store, cfg), cfg: cfg, log: log}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

type candidate struct {
	action     string
	temp       float64
	start, end time.Time
	cost       float64
	savings    float64
}

// Propose picks the action with the highest savings for one prediction.
// Shifted windows never start before notBefore.
func (o *Optimizer) Propose(unit *database.Unit, pred *database.Prediction, sched *tariff.Schedule, notBefore time.Time) *database.OptimizationPlan {
	length := time.Duration(o.cfg.PlanHours) * time.Hour
	start := pred.TargetAt
	end := start.Add(length)
	rate := pred.PredictedConsumption
	baseline := sched.Cost(rate, start, end)

	heating := unit.HasHeatingControl
	comfort, setback, shifted, earlier := o.cfg.HeatComfortTemp, o.cfg.HeatSetbackTemp, o.cfg.PreheatTemp, ActionPreheat
	if !heating {
		comfort, setback, shifted, earlier = o.cfg.CoolComfortTemp, o.cfg.CoolSetbackTemp, o.cfg.PrecoolTemp, ActionPrecool
	}

	best := candidate{action: ActionMaintain, temp: comfort, start: start, end: end, cost: baseline}
	consider := func(c candidate) {
		c.savings = round4(baseline - c.cost)
		if c.savings > best.savings {
			best = c
		}
	}

	occ := pred.PredictedOccupancyProb
	if occ != nil && *occ < o.cfg.OccupancyLow {
		consider(candidate{
			action: ActionSetback,
			temp:   setback,
			start:  start,
			end:    end,
			cost:   sched.Cost(rate*(1-o.cfg.SetbackReduction), start, end),
		})
	}

	if occ != nil && *occ < o.cfg.OccupancyShift {
		var shift *candidate
		for h := 1; h <= o.cfg.ShiftHorizonHours; h++ {
			for _, dir := range []int{-1, 1} {
				s := start.Add(time.Duration(dir*h) * time.Hour)
				if s.Before(notBefore) {
					continue
				}
				c := candidate{action: ActionDefer, temp: comfort, start: s, end: s.Add(length), cost: sched.Cost(rate, s, s.Add(length))}
				if dir < 0 {
					c.action, c.temp = earlier, shifted
				}
				if shift == nil || c.cost < shift.cost {
					shift = &c
				}
			}
		}
		if shift != nil {
			consider(*shift)
		}
	}

	temp := best.temp
	return &database.OptimizationPlan{
		PlanID:           uuid.NewString(),
		BuildingID:       pred.BuildingID,
		UnitID:           unit.UnitID,
		PredictionID:     pred.ID,
		ActionType:       best.action,
		TargetTemp:       &temp,
		WindowStart:      best.start,
		WindowEnd:        best.end,
		EstimatedCost:    round4(best.cost),
		BaselineCost:     round4(baseline),
		EstimatedSavings: best.savings,
		Confidence:       pred.Confidence,
		Method:           Method,
	}
}

// Optimize stores one plan per eligible unit, created at horizon, and reports
// the units it had to skip.
func (o *Optimizer) Optimize(ctx context.Context, building *database.Building, units []*database.Unit, horizon time.Time, maxAge time.Duration) (*Result, error) {
	sched, err := o.tariffs.Schedule(ctx, building)
	if err != nil {
		return nil, err
	}

	preds, err := o.store.LatestPredictions(ctx, building.BuildingID, horizon.Add(-maxAge))
	if err != nil {
		return nil, fmt.Errorf("failed to load predictions: %w", err)
	}
	latest := make(map[string]*database.Prediction, len(preds))
	for _, p := range preds {
		latest[p.UnitID] = p
	}

	result := &Result{}
	for _, unit := range units {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		pred, ok := latest[unit.UnitID]
		switch {
		case !unit.HasControl():
			result.Blocked = append(result.Blocked, Blocked{UnitID: unit.UnitID, Reason: ReasonNoControl})
			continue
		case !ok:
			result.Blocked = append(result.Blocked, Blocked{
				UnitID: unit.UnitID,
				Reason: ReasonNoRecentPrediction,
				Detail: fmt.Sprintf("none since %s", horizon.Add(-maxAge).Format(time.RFC3339)),
			})
			continue
		case pred.Confidence <= o.cfg.MinConfidence:
			result.Blocked = append(result.Blocked, Blocked{
				UnitID: unit.UnitID,
				Reason: ReasonLowConfidence,
				Detail: fmt.Sprintf("confidence %.3f not above %.3f", pred.Confidence, o.cfg.MinConfidence),
			})
			continue
		}

		plan := o.Propose(unit, pred, sched, horizon)
		plan.CreatedAt = horizon
		if err := o.store.InsertPlan(ctx, plan); err != nil {
			return result, fmt.Errorf("failed to store plan of unit %s: %w", unit.UnitID, err)
		}
		result.Plans = append(result.Plans, plan)
	}

	o.log.Info("plans proposed",
		"building_id", building.BuildingID,
		"plans", len(result.Plans),
		"blocked", len(result.Blocked),
		"currency", sched.Currency,
	)
	return result, nil
}
