package coordinator

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/energy-pipeline/internal/database"
	"github.com/smukkama/energy-pipeline/internal/features"
	"github.com/smukkama/energy-pipeline/internal/optimizer"
	"github.com/smukkama/energy-pipeline/internal/prediction"
)

func ptr(v float64) *float64 { return &v }

func completeVector(unitID string) *database.DailyFeatureVector {
	return &database.DailyFeatureVector{
		UnitID:                unitID,
		OccupancyMorningAvg:   ptr(0.5),
		OccupancyDaytimeAvg:   ptr(0.5),
		OccupancyEveningAvg:   ptr(0.5),
		OccupancyNightAvg:     ptr(0.5),
		WeekdayConsumptionAvg: ptr(1.2),
	}
}

// tenUnits has every unit clustered with a complete vector; the first
// `predicted` units also have a recent prediction.
func tenUnits(predicted int) Assessment {
	a := Assessment{LatestVectors: make(map[string]*database.DailyFeatureVector)}
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("U%02d", i)
		a.Units = append(a.Units, &database.Unit{UnitID: id})
		a.OpenAssignments = append(a.OpenAssignments, &database.ClusterAssignment{UnitID: id, ClusterID: "B1_C1"})
		a.LatestVectors[id] = completeVector(id)
		if i < predicted {
			a.RecentPredictions = append(a.RecentPredictions, &database.Prediction{UnitID: id, Confidence: 0.7})
		}
	}
	return a
}

func TestAssessCoverage(t *testing.T) {
	v := Assess(tenUnits(7))

	assert.Equal(t, 0.7, v.Coverage)
	assert.Equal(t, 10, v.UnitsTotal)
	assert.Equal(t, database.StatusDegraded, v.Status)
	require.NotNil(t, v.AvgConfidence)
	assert.Equal(t, 0.7, *v.AvgConfidence)

	var notCovered []string
	for _, r := range v.Reasons {
		if r.Code == CodeNotCovered {
			notCovered = append(notCovered, r.UnitID)
		}
	}
	assert.Equal(t, []string{"U07", "U08", "U09"}, notCovered)
}

func TestAssessOK(t *testing.T) {
	v := Assess(tenUnits(10))
	assert.Equal(t, database.StatusOK, v.Status)
	assert.Equal(t, 1.0, v.Coverage)
	assert.Empty(t, v.Reasons)
}

func TestAssessCountsBlockedAndInvalid(t *testing.T) {
	a := tenUnits(10)
	a.LatestVectors["U03"].OccupancyNightAvg = nil
	delete(a.LatestVectors, "U04")
	a.Blocked = []optimizer.Blocked{
		{UnitID: "U01", Reason: optimizer.ReasonNoControl},
		{UnitID: "U02", Reason: optimizer.ReasonLowConfidence, Detail: "confidence 0.400 below 0.500"},
	}

	v := Assess(a)
	assert.Equal(t, database.StatusDegraded, v.Status)
	assert.Equal(t, 2, v.UnitsBlocked)
	assert.Equal(t, 2, v.UnitsInvalid)
	assert.Contains(t, v.Reasons, database.ValidationReason{Code: CodeLowConfidence, UnitID: "U02", Detail: "confidence 0.400 below 0.500"})
}

func TestAssessUnitFailures(t *testing.T) {
	a := tenUnits(9)
	a.Failures = []prediction.UnitFailure{
		{UnitID: "U09", Err: fmt.Errorf("%w: unit U09 has version 2", prediction.ErrFeatureVersionMismatch)},
	}
	a.Missing = []features.UnitDay{
		{UnitID: "U05", Date: time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC)},
		{UnitID: "U05", Date: time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC)},
	}

	v := Assess(a)
	assert.Equal(t, database.StatusDegraded, v.Status)
	assert.Contains(t, v.Reasons, database.ValidationReason{Code: CodeMissingInput, UnitID: "U05", Detail: "no energy readings on 2 day(s)"})

	var codes []string
	for _, r := range v.Reasons {
		if r.UnitID == "U09" {
			codes = append(codes, r.Code)
		}
	}
	assert.Equal(t, []string{CodeFeatureVersion, CodeNotCovered}, codes)
}

func TestAssessBlocked(t *testing.T) {
	v := Assess(Assessment{})
	assert.Equal(t, database.StatusBlocked, v.Status)
	assert.Equal(t, CodeNoUnits, v.Reasons[0].Code)

	a := tenUnits(0)
	a.ModelErr = fmt.Errorf("%w: no active model", prediction.ErrModelUnavailable)
	v = Assess(a)
	assert.Equal(t, database.StatusBlocked, v.Status)
	assert.Zero(t, v.Coverage)
	assert.Nil(t, v.AvgConfidence)
	assert.Equal(t, CodeModelUnavailable, v.Reasons[0].Code)
}
