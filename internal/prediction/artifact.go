package prediction

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/smukkama/energy-pipeline/internal/database"
	"github.com/smukkama/energy-pipeline/internal/features"
)

// Artifact is a linear consumption model over daily feature vectors
type Artifact struct {
	Intercept      float64            `json:"intercept"`
	Weights        map[string]float64 `json:"weights"`
	HourlyProfile  []float64          `json:"hourly_profile,omitempty"`
	FeatureVersion int                `json:"feature_version"`
}

// Input names an artifact weight may reference
var inputNames = map[string]bool{
	"occupancy_morning_avg":   true,
	"occupancy_daytime_avg":   true,
	"occupancy_evening_avg":   true,
	"occupancy_night_avg":     true,
	"binary_activity_ratio":   true,
	"weekday_consumption_avg": true,
	"weekend_consumption_avg": true,
	"consumption_avg":         true,
	"consumption_std_dev":     true,
	"peak_hour_morning":       true,
	"peak_hour_evening":       true,
	"temp_sensitivity":        true,
	"target_occupancy_prob":   true,
	"is_weekend":              true,
	"hour_sin":                true,
	"hour_cos":                true,
}

// ParseArtifact decodes and checks an artifact
func ParseArtifact(data []byte) (*Artifact, error) {
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to decode artifact: %w", err)
	}
	if n := len(a.HourlyProfile); n != 0 && n != 24 {
		return nil, fmt.Errorf("hourly profile has %d entries, want 24", n)
	}
	for name := range a.Weights {
		if !inputNames[name] {
			return nil, fmt.Errorf("unknown input %q", name)
		}
	}
	return &a, nil
}

// Input is what a prediction is computed from
type Input struct {
	Vector        *database.DailyFeatureVector
	TargetLocal   time.Time
	OccupancyProb *float64
}

func intPtr(p *int) *float64 {
	if p == nil {
		return nil
	}
	v := float64(*p)
	return &v
}

func (in Input) value(name string) *float64 {
	v := in.Vector
	switch name {
	case "occupancy_morning_avg":
		return v.OccupancyMorningAvg
	case "occupancy_daytime_avg":
		return v.OccupancyDaytimeAvg
	case "occupancy_evening_avg":
		return v.OccupancyEveningAvg
	case "occupancy_night_avg":
		return v.OccupancyNightAvg
	case "binary_activity_ratio":
		return v.BinaryActivityRatio
	case "weekday_consumption_avg":
		return v.WeekdayConsumptionAvg
	case "weekend_consumption_avg":
		return v.WeekendConsumptionAvg
	case "consumption_avg":
		return v.ConsumptionAvg()
	case "consumption_std_dev":
		return v.ConsumptionStdDev
	case "peak_hour_morning":
		return intPtr(v.PeakHourMorning)
	case "peak_hour_evening":
		return intPtr(v.PeakHourEvening)
	case "temp_sensitivity":
		return v.TempSensitivity
	case "target_occupancy_prob":
		return in.OccupancyProb
	}

	hour := float64(in.TargetLocal.Hour())
	var x float64
	switch name {
	case "is_weekend":
		if wd := in.TargetLocal.Weekday(); wd == time.Saturday || wd == time.Sunday {
			x = 1
		}
	case "hour_sin":
		x = math.Sin(2 * math.Pi * hour / 24)
	case "hour_cos":
		x = math.Cos(2 * math.Pi * hour / 24)
	default:
		return nil
	}
	return &x
}

// Predict returns the forecast consumption for the target hour, never
// negative. A weighted input that is null fails with features.ErrMissingInput.
func (a *Artifact) Predict(in Input) (float64, error) {
	y := a.Intercept
	for name, w := range a.Weights {
		x := in.value(name)
		if x == nil {
			return 0, fmt.Errorf("%w: %s is null", features.ErrMissingInput, name)
		}
		y += w * *x
	}
	if len(a.HourlyProfile) == 24 {
		y += a.HourlyProfile[in.TargetLocal.Hour()]
	}
	return math.Round(math.Max(0, y)*1000) / 1000, nil
}

// Source reads artifact bytes by registry path
type Source interface {
	Open(ctx context.Context, path string) ([]byte, error)
}

// DirSource reads artifacts from the filesystem, resolving relative paths
// against Root
type DirSource struct {
	Root string
}

func (s DirSource) Open(ctx context.Context, path string) ([]byte, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.Root, path)
	}
	return os.ReadFile(path)
}
