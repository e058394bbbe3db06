package decision

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/smukkama/energy-pipeline/internal/database"
	"github.com/smukkama/energy-pipeline/internal/optimizer"
	"github.com/smukkama/energy-pipeline/pkg/config"
)

// Decision modes
const (
	ModeLearning = "learning"
	ModeEnacting = "enacting"
)

// Policy holds the approval rules
type Policy struct {
	Mode          string
	MinConfidence float64
	VetoWindow    time.Duration
}

// PolicyFrom builds a policy from configuration
func PolicyFrom(cfg config.DecisionConfig) Policy {
	return Policy{Mode: cfg.Mode, MinConfidence: cfg.MinConfidence, VetoWindow: cfg.VetoWindow}
}

// Confidence penalties of setback plans
const (
	LowConsumptionKWh     = 0.5
	LowConsumptionPenalty = 0.15
	LowSavings            = 0.02
	LowSavingsPenalty     = 0.10
	LikelyOccupied        = 0.6
	LikelyOccupiedPenalty = 0.10
)

// Confidence returns the plan's confidence lowered for setbacks that save
// little or hit a unit likely to be in use. pred is the prediction the plan
// was built from and may be nil.
func Confidence(plan *database.OptimizationPlan, pred *database.Prediction) (float64, []string) {
	conf := plan.Confidence
	if plan.ActionType != optimizer.ActionSetback {
		return conf, nil
	}
	var notes []string
	if pred != nil && pred.PredictedConsumption < LowConsumptionKWh {
		conf -= LowConsumptionPenalty
		notes = append(notes, fmt.Sprintf("predicted consumption %.3f below %.1f", pred.PredictedConsumption, LowConsumptionKWh))
	}
	if plan.EstimatedSavings < LowSavings {
		conf -= LowSavingsPenalty
		notes = append(notes, fmt.Sprintf("savings %.4f below %.2f", plan.EstimatedSavings, LowSavings))
	}
	if pred != nil && pred.PredictedOccupancyProb != nil && *pred.PredictedOccupancyProb > LikelyOccupied {
		conf -= LikelyOccupiedPenalty
		notes = append(notes, fmt.Sprintf("occupancy %.2f above %.2f", *pred.PredictedOccupancyProb, LikelyOccupied))
	}
	return math.Min(1, math.Max(0, conf)), notes
}

// vetoing returns the latest high-severity anomaly within the veto window
// before the plan starts, nil when there is none.
func vetoing(plan *database.OptimizationPlan, anomalies []*database.Anomaly, window time.Duration) *database.Anomaly {
	from := plan.WindowStart.Add(-window)
	var veto *database.Anomaly
	for _, a := range anomalies {
		if a.UnitID != plan.UnitID || a.Severity != database.SeverityHigh {
			continue
		}
		if a.Timestamp.Before(from) || a.Timestamp.After(plan.WindowStart) {
			continue
		}
		if veto == nil || a.Timestamp.After(veto.Timestamp) {
			veto = a
		}
	}
	return veto
}

// Decide maps a plan, its prediction and the unit's recent anomalies to a
// decision. pred may be nil. It has no side effects; the caller assigns the
// id and decision time.
func Decide(plan *database.OptimizationPlan, pred *database.Prediction, anomalies []*database.Anomaly, policy Policy) *database.Decision {
	conf, penalties := Confidence(plan, pred)
	d := &database.Decision{
		PlanID:     plan.PlanID,
		BuildingID: plan.BuildingID,
		UnitID:     plan.UnitID,
		Action:     plan.ActionType,
		TargetTemp: plan.TargetTemp,
		Confidence: conf,
		Mode:       policy.Mode,
	}

	facts := fmt.Sprintf("savings %.4f, confidence %.3f", plan.EstimatedSavings, conf)
	if len(penalties) > 0 {
		facts += fmt.Sprintf(" lowered from %.3f: %s", plan.Confidence, strings.Join(penalties, ", "))
	}
	if policy.Mode != ModeEnacting {
		d.Reasoning = fmt.Sprintf("%s mode: %s logged, not enacted (%s)", policy.Mode, plan.ActionType, facts)
		return d
	}

	var reasons []string
	if veto := vetoing(plan, anomalies, policy.VetoWindow); veto != nil {
		id := veto.ID
		d.VetoAnomalyID = &id
		reasons = append(reasons, fmt.Sprintf("anomaly veto: high-severity %s anomaly #%d at %s",
			veto.SensorType, veto.ID, veto.Timestamp.UTC().Format(time.RFC3339)))
	}
	if plan.EstimatedSavings <= 0 {
		reasons = append(reasons, fmt.Sprintf("no positive savings (%.4f)", plan.EstimatedSavings))
	}
	if conf < policy.MinConfidence {
		reasons = append(reasons, fmt.Sprintf("confidence %.3f below %.3f", conf, policy.MinConfidence))
	}

	if len(reasons) > 0 {
		d.Reasoning = "rejected: " + strings.Join(reasons, "; ")
		if len(penalties) > 0 {
			d.Reasoning += fmt.Sprintf(" (%s)", facts)
		}
		return d
	}

	d.Approved = true
	d.Reasoning = fmt.Sprintf("approved: %s; savings positive, confidence at least %.3f, no high-severity anomaly",
		facts, policy.MinConfidence)
	return d
}
