package decision

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/smukkama/energy-pipeline/internal/database"
	"github.com/smukkama/energy-pipeline/internal/logger"
	"github.com/smukkama/energy-pipeline/internal/protocol"
)

// Store is the persistence the engine needs
type Store interface {
	HighSeverityAnomalies(ctx context.Context, unitID string, from, to time.Time) ([]*database.Anomaly, error)
	InsertDecision(ctx context.Context, d *database.Decision) (bool, error)
	GetPrediction(ctx context.Context, id int64) (*database.Prediction, error)
}

// Publisher delivers approved actions to the actuator topic
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// Result summarises one decision pass
type Result struct {
	Decisions       []*database.Decision
	Approved        int
	AlreadyDecided  int
	PublishFailures int
}

// Engine records exactly one decision per plan
type Engine struct {
	store     Store
	publisher Publisher
	policy    Policy
	log       *logger.Logger
}

// NewEngine creates a new decision engine. publisher may be nil when no
// actuator is attached.
func NewEngine(store Store, publisher Publisher, policy Policy, log *logger.Logger) *Engine {
	return &Engine{store: store, publisher: publisher, policy: policy, log: log}
}

// Policy returns the engine's approval rules
func (e *Engine) Policy() Policy {
	return e.policy
}

// DecidePlans decides every plan and publishes newly approved ones
func (e *Engine) DecidePlans(ctx context.Context, plans []*database.OptimizationPlan, decidedAt time.Time) (*Result, error) {
	result := &Result{}
	for _, plan := range plans {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		anomalies, err := e.store.HighSeverityAnomalies(ctx, plan.UnitID, plan.WindowStart.Add(-e.policy.VetoWindow), plan.WindowStart)
		if err != nil {
			return result, fmt.Errorf("failed to load anomalies of unit %s: %w", plan.UnitID, err)
		}

		pred, err := e.store.GetPrediction(ctx, plan.PredictionID)
		if err != nil {
			return result, fmt.Errorf("failed to load prediction %d of plan %s: %w", plan.PredictionID, plan.PlanID, err)
		}

		d := Decide(plan, pred, anomalies, e.policy)
		d.DecisionID = uuid.NewString()
		d.DecidedAt = decidedAt

		inserted, err := e.store.InsertDecision(ctx, d)
		if err != nil {
			return result, fmt.Errorf("failed to store decision for plan %s: %w", plan.PlanID, err)
		}
		if !inserted {
			result.AlreadyDecided++
			continue
		}

		result.Decisions = append(result.Decisions, d)
		if !d.Approved {
			continue
		}
		result.Approved++

		if err := e.publish(ctx, d, plan); err != nil {
			result.PublishFailures++
			e.log.Error("failed to publish action",
				"building_id", d.BuildingID,
				"unit_id", d.UnitID,
				"decision_id", d.DecisionID,
				"error", err,
			)
		}
	}

	if len(plans) > 0 {
		e.log.Info("plans decided",
			"mode", e.policy.Mode,
			"decided", len(result.Decisions),
			"approved", result.Approved,
			"already_decided", result.AlreadyDecided,
		)
	}
	return result, nil
}

func (e *Engine) publish(ctx context.Context, d *database.Decision, plan *database.OptimizationPlan) error {
	if e.publisher == nil {
		return nil
	}
	data, err := protocol.EncodeActionMessage(&protocol.ActionMessage{
		DecisionID:  d.DecisionID,
		PlanID:      d.PlanID,
		BuildingID:  d.BuildingID,
		UnitID:      d.UnitID,
		Action:      d.Action,
		TargetTemp:  d.TargetTemp,
		WindowStart: plan.WindowStart,
		WindowEnd:   plan.WindowEnd,
		DecidedAt:   d.DecidedAt,
	})
	if err != nil {
		return err
	}
	return e.publisher.Publish(ctx, d.BuildingID, data)
}
