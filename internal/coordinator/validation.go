package coordinator

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/smukkama/energy-pipeline/internal/database"
	"github.com/smukkama/energy-pipeline/internal/features"
	"github.com/smukkama/energy-pipeline/internal/optimizer"
	"github.com/smukkama/energy-pipeline/internal/prediction"
)

// Validation reason codes
const (
	CodeNoUnits             = "no_units"
	CodeModelUnavailable    = "model_unavailable"
	CodeMissingInput        = "missing_input"
	CodeFeatureVersion      = "feature_version_mismatch"
	CodeInvalidFeatures     = "invalid_features"
	CodeNotCovered          = "not_covered"
	CodeStageError          = "stage_error"
	CodeClusteringSkipped   = "clustering_skipped"
	CodeNoControlCapability = optimizer.ReasonNoControl
	CodeLowConfidence       = optimizer.ReasonLowConfidence
	CodeNoRecentPrediction  = optimizer.ReasonNoRecentPrediction
)

// Assessment is everything a ValidationRecord is derived from
type Assessment struct {
	Units             []*database.Unit
	OpenAssignments   []*database.ClusterAssignment
	RecentPredictions []*database.Prediction
	LatestVectors     map[string]*database.DailyFeatureVector
	ModelErr          error
	ClusteringSkipped bool
	Missing           []features.UnitDay
	Failures          []prediction.UnitFailure
	Blocked           []optimizer.Blocked
}

// invalid reports whether a vector lacks the fields every downstream stage
// needs.
func invalid(v *database.DailyFeatureVector) bool {
	return v == nil ||
		v.OccupancyMorningAvg == nil ||
		v.OccupancyDaytimeAvg == nil ||
		v.OccupancyEveningAvg == nil ||
		v.OccupancyNightAvg == nil ||
		v.ConsumptionAvg() == nil
}

// Assess computes status, coverage and reasons. Coverage is the fraction of
// units with both an open cluster assignment and a recent prediction.
func Assess(a Assessment) *database.ValidationRecord {
	v := &database.ValidationRecord{UnitsTotal: len(a.Units)}
	add := func(code, unitID, detail string) {
		v.Reasons = append(v.Reasons, database.ValidationReason{Code: code, UnitID: unitID, Detail: detail})
	}

	clustered := make(map[string]bool, len(a.OpenAssignments))
	for _, o := range a.OpenAssignments {
		clustered[o.UnitID] = true
	}
	predicted := make(map[string]*database.Prediction, len(a.RecentPredictions))
	for _, p := range a.RecentPredictions {
		if cur, ok := predicted[p.UnitID]; !ok || p.CreatedAt.After(cur.CreatedAt) {
			predicted[p.UnitID] = p
		}
	}

	if a.ModelErr != nil {
		add(CodeModelUnavailable, "", a.ModelErr.Error())
	}
	if a.ClusteringSkipped {
		add(CodeClusteringSkipped, "", "too few units with enough feature history")
	}

	missingDays := make(map[string]int)
	for _, m := range a.Missing {
		missingDays[m.UnitID]++
	}
	missingUnits := make([]string, 0, len(missingDays))
	for unitID := range missingDays {
		missingUnits = append(missingUnits, unitID)
	}
	sort.Strings(missingUnits)
	for _, unitID := range missingUnits {
		add(CodeMissingInput, unitID, fmt.Sprintf("no energy readings on %d day(s)", missingDays[unitID]))
	}

	unitErrs := len(missingUnits)
	for _, f := range a.Failures {
		switch {
		case errors.Is(f.Err, prediction.ErrFeatureVersionMismatch):
			add(CodeFeatureVersion, f.UnitID, f.Err.Error())
		case errors.Is(f.Err, features.ErrMissingInput):
			add(CodeMissingInput, f.UnitID, f.Err.Error())
		default:
			add(CodeStageError, f.UnitID, f.Err.Error())
		}
		unitErrs++
	}

	blocked := make(map[string]bool, len(a.Blocked))
	for _, b := range a.Blocked {
		blocked[b.UnitID] = true
		add(b.Reason, b.UnitID, b.Detail)
	}
	v.UnitsBlocked = len(blocked)

	covered := 0
	var confidenceSum float64
	var confidenceN int
	for _, u := range a.Units {
		if invalid(a.LatestVectors[u.UnitID]) {
			v.UnitsInvalid++
			add(CodeInvalidFeatures, u.UnitID, "latest feature vector missing or incomplete")
		}

		p, hasPrediction := predicted[u.UnitID]
		if hasPrediction {
			confidenceSum += p.Confidence
			confidenceN++
		}
		if clustered[u.UnitID] && hasPrediction {
			covered++
			continue
		}
		add(CodeNotCovered, u.UnitID, fmt.Sprintf("cluster=%t recent_prediction=%t", clustered[u.UnitID], hasPrediction))
	}

	if confidenceN > 0 {
		avg := math.Round(confidenceSum/float64(confidenceN)*1000) / 1000
		v.AvgConfidence = &avg
	}

	switch {
	case len(a.Units) == 0:
		add(CodeNoUnits, "", "building has no units")
		v.Status = database.StatusBlocked
	case a.ModelErr != nil:
		v.Coverage = math.Round(float64(covered)/float64(len(a.Units))*1000) / 1000
		v.Status = database.StatusBlocked
	default:
		v.Coverage = math.Round(float64(covered)/float64(len(a.Units))*1000) / 1000
		if covered < len(a.Units) || v.UnitsBlocked > 0 || v.UnitsInvalid > 0 || unitErrs > 0 {
			v.Status = database.StatusDegraded
		} else {
			v.Status = database.StatusOK
		}
	}
	return v
}
