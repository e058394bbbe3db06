package anomaly

import (
	"math"

	"github.com/smukkama/energy-pipeline/internal/database"
	"github.com/smukkama/energy-pipeline/pkg/config"
)

// Anomaly types
const (
	TypeOutOfBounds          = "out_of_bounds"
	TypeComfort              = "comfort_violation"
	TypeZScore               = "zscore_deviation"
	TypeUnoccupiedEnergy     = "high_energy_unoccupied"
	TypeHighCost             = "high_cost_now"
	TypeWeeklyVariability    = "weekly_high_variability"
	TypeWeeklyBudgetExceeded = "weekly_budget_exceeded"
	TypeWeeklyRisingTrend    = "weekly_consumption_rising_trend"
)

// Actions recorded with an anomaly
const (
	ActionDrop        = "drop"        // reading is a sensor fault and kept out of history
	ActionInvestigate = "investigate" // operator should look at the unit
	ActionAlert       = "alert"       // operator was alerted
	ActionNotify      = "notify"      // reported in the weekly summary
	ActionMonitor     = "monitor"     // watched, no action yet
)

// Comfort band for internal temperature, degrees Celsius
const (
	ComfortMin = 18.0
	ComfortMax = 28.0
)

type bounds struct {
	min, max float64
}

// physical limits per sensor type; a reading outside them is a sensor fault
var physical = map[string]bounds{
	database.SensorEnergy:       {0, math.Inf(1)},
	database.SensorHumidity:     {0, 100},
	database.SensorOccupancy:    {0, 1},
	database.SensorTempInternal: {-10, 60},
}

// Finding is one rule hit for a reading
type Finding struct {
	Type     string
	Severity string
	Action   string
	ZScore   *float64
	Details  map[string]any
}

// CheckBounds reports a high-severity finding when value is outside the
// physical range of its sensor type.
func CheckBounds(sensorType string, value float64) *Finding {
	b, ok := physical[sensorType]
	if !ok || (value >= b.min && value <= b.max) {
		return nil
	}
	details := map[string]any{"min": b.min}
	if !math.IsInf(b.max, 1) {
		details["max"] = b.max
	}
	return &Finding{Type: TypeOutOfBounds, Severity: database.SeverityHigh, Action: ActionDrop, Details: details}
}

// CheckComfort reports a medium-severity finding for internal temperatures
// outside the comfort band.
func CheckComfort(sensorType string, value float64) *Finding {
	if sensorType != database.SensorTempInternal || (value >= ComfortMin && value <= ComfortMax) {
		return nil
	}
	return &Finding{
		Type:     TypeComfort,
		Severity: database.SeverityMedium,
		Action:   ActionInvestigate,
		Details:  map[string]any{"min": ComfortMin, "max": ComfortMax},
	}
}

// ZSeverity maps an absolute z-score to a severity, empty when below the low
// threshold.
func ZSeverity(z float64, cfg config.AnomalyConfig) string {
	z = math.Abs(z)
	switch {
	case z >= cfg.HighZ:
		return database.SeverityHigh
	case z >= cfg.MediumZ:
		return database.SeverityMedium
	case z >= cfg.LowZ:
		return database.SeverityLow
	}
	return ""
}

// window keeps running moments over a trailing slice of one series
type window struct {
	n          int
	sum, sumSq float64
}

func (w *window) add(v float64) {
	w.n++
	w.sum += v
	w.sumSq += v * v
}

func (w *window) remove(v float64) {
	w.n--
	w.sum -= v
	w.sumSq -= v * v
}

// moments returns the mean and population standard deviation
func (w *window) moments() (float64, float64) {
	mean := w.sum / float64(w.n)
	variance := w.sumSq/float64(w.n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return mean, math.Sqrt(variance)
}

// checkZScore scores value against the trailing moments. It needs at least
// minSamples history points and a non-degenerate spread.
func checkZScore(value float64, w *window, cfg config.AnomalyConfig) *Finding {
	if w.n < cfg.MinSamples || w.n < 2 {
		return nil
	}
	mean, std := w.moments()
	if std < 1e-9 {
		return nil
	}
	z := (value - mean) / std
	severity := ZSeverity(z, cfg)
	if severity == "" {
		return nil
	}
	z = math.Round(z*1000) / 1000
	return &Finding{
		Type:     TypeZScore,
		Severity: severity,
		Action:   ActionInvestigate,
		ZScore:   &z,
		Details: map[string]any{
			"mean":    math.Round(mean*10000) / 10000,
			"std":     math.Round(std*10000) / 10000,
			"samples": float64(w.n),
		},
	}
}
