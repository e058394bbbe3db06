package database

import (
	"encoding/json"
	"fmt"
	"time"
)

// Sensor types recognised by the pipeline.
const (
	SensorEnergy       = "energy"
	SensorTempInternal = "temp_internal"
	SensorHumidity     = "humidity"
	SensorOccupancy    = "occupancy"
)

// QualityInvalid marks a reading that must not be aggregated.
const QualityInvalid = "invalid"

// Building represents a monitored building
type Building struct {
	BuildingID      string
	Name            string
	LocationID      string
	Floors          int
	UnitCount       int
	InsulationClass *string
	BuildingType    *string
	Timezone        string
	CreatedAt       time.Time
}

// LoadLocation resolves the building's IANA time zone. An empty zone is UTC.
func (b *Building) LoadLocation() (*time.Location, error) {
	if b.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q for building %s: %w", b.Timezone, b.BuildingID, err)
	}
	return loc, nil
}

// Location returns the building's time zone. Callers that have not checked
// LoadLocation get UTC for an unknown zone.
func (b *Building) Location() *time.Location {
	loc, err := b.LoadLocation()
	if err != nil {
		return time.UTC
	}
	return loc
}

// Tariff is the building's two-level price schedule
type Tariff struct {
	BuildingID      string
	LowStart        string // "HH:MM", local time
	LowEnd          string
	LowPrice        float64
	HighPrice       float64
	SundayAllDayLow bool
	Currency        string
}

// Unit represents an apartment or office inside a building
type Unit struct {
	UnitID            string
	BuildingID        string
	AreaInitial       *float64
	AreaEstimated     *float64
	AreaFinal         *float64
	AreaConfidence    *float64
	AreaSource        *string
	HasHeatingControl bool
	HasCoolingControl bool
	CreatedAt         time.Time
}

// HasControl reports whether the unit can act on any HVAC proposal.
func (u *Unit) HasControl() bool {
	return u.HasHeatingControl || u.HasCoolingControl
}

// Sensor belongs to a unit and is never deleted
type Sensor struct {
	SensorID      string
	UnitID        string
	SensorType    string
	IsActive      bool
	InstalledAt   time.Time
	DeactivatedAt *time.Time
}

// Reading is an append-only sensor fact
type Reading struct {
	ID          int64
	BuildingID  string
	UnitID      string
	SensorID    *string
	Timestamp   time.Time
	SensorType  string
	Value       float64
	QualityFlag *string
	IngestedAt  time.Time
}

// Valid reports whether the reading may be aggregated.
func (r *Reading) Valid() bool {
	return r.QualityFlag == nil || *r.QualityFlag != QualityInvalid
}

// WeatherObservation is an append-only weather fact for a location
type WeatherObservation struct {
	ID           int64
	LocationID   string
	Timestamp    time.Time
	ForecastHour int
	TempExternal *float64
	Humidity     *float64
	WindSpeedKmh *float64
	CloudCover   *float64
	IngestedAt   time.Time
}

// DailyFeatureVector is the daily behavioural summary of a unit
type DailyFeatureVector struct {
	BuildingID            string
	UnitID                string
	Date                  time.Time // midnight UTC carrying the local calendar date
	OccupancyMorningAvg   *float64
	OccupancyDaytimeAvg   *float64
	OccupancyEveningAvg   *float64
	OccupancyNightAvg     *float64
	BinaryActivityRatio   *float64
	WeekdayConsumptionAvg *float64
	WeekendConsumptionAvg *float64
	ConsumptionStdDev     *float64
	PeakHourMorning       *int
	PeakHourEvening       *int
	TempSensitivity       *float64
	EnergyReadings        int
	FeatureVersion        int
}

// ConsumptionAvg returns whichever of the weekday/weekend means applies to the date.
func (f *DailyFeatureVector) ConsumptionAvg() *float64 {
	if f.WeekdayConsumptionAvg != nil {
		return f.WeekdayConsumptionAvg
	}
	return f.WeekendConsumptionAvg
}

// Cluster is a building-scoped behavioural group
type Cluster struct {
	ClusterID  string
	BuildingID string
	Label      string
	Centroid   []float64
	UnitCount  int
	UpdatedAt  time.Time
}

// ClusterAssignment is a time-ranged membership; EndDate nil means open
type ClusterAssignment struct {
	ID         int64
	BuildingID string
	UnitID     string
	ClusterID  string
	StartDate  time.Time
	EndDate    *time.Time
	Confidence float64
	Reason     string
	CreatedAt  time.Time
}

// ModelRegistryEntry is a registered predictor artifact
type ModelRegistryEntry struct {
	ModelID        string
	ModelName      string
	ScopeKey       string
	BuildingID     *string
	Task           string
	Algorithm      string
	FeatureVersion int
	TrainedAt      time.Time
	ArtifactPath   string
	Metrics        json.RawMessage
	IsActive       bool
	CreatedAt      time.Time
	ActivatedAt    *time.Time
}

// Prediction is an immutable forecast for one unit and target time
type Prediction struct {
	ID                     int64
	BuildingID             string
	UnitID                 string
	CreatedAt              time.Time
	TargetAt               time.Time
	PredictedConsumption   float64
	PredictedOccupancyProb *float64
	ModelID                string
	ModelName              string
	Confidence             float64
	FeatureDate            time.Time
}

// OptimizationPlan is a proposed action for a unit over a window
type OptimizationPlan struct {
	PlanID           string
	BuildingID       string
	UnitID           string
	CreatedAt        time.Time
	PredictionID     int64
	ActionType       string
	TargetTemp       *float64
	WindowStart      time.Time
	WindowEnd        time.Time
	EstimatedCost    float64
	BaselineCost     float64
	EstimatedSavings float64
	Confidence       float64
	Method           string
}

// Decision is the immutable outcome for exactly one plan
type Decision struct {
	DecisionID    string
	PlanID        string
	BuildingID    string
	UnitID        string
	DecidedAt     time.Time
	Action        string
	TargetTemp    *float64
	Approved      bool
	Reasoning     string
	Confidence    float64
	Mode          string
	VetoAnomalyID *int64
}

// Anomaly severities
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Anomaly is an immutable record of an out-of-bound reading
type Anomaly struct {
	ID          int64
	BuildingID  string
	UnitID      string
	SensorID    *string
	SensorType  string
	Timestamp   time.Time
	AnomalyType string
	Value       float64
	Severity    string
	ZScore      *float64
	ActionTaken *string
	Details     json.RawMessage
	DetectedAt  time.Time
}

// PipelineProgress is the resumption checkpoint for (pipeline, building)
type PipelineProgress struct {
	PipelineName    string
	BuildingID      string
	CurrentAnchorTS time.Time
	UpdatedAt       time.Time
}

// Validation statuses
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusBlocked  = "blocked"
)

// ValidationReason is one structured entry of a ValidationRecord
type ValidationReason struct {
	Code   string `json:"code"`
	UnitID string `json:"unit_id,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// ValidationRecord is the per-run health snapshot of a building
type ValidationRecord struct {
	ID            int64
	BuildingID    string
	PipelineName  string
	RunID         string
	AnchorTS      time.Time
	Status        string
	AvgConfidence *float64
	Coverage      float64
	UnitsTotal    int
	UnitsBlocked  int
	UnitsInvalid  int
	Reasons       []ValidationReason
	CreatedAt     time.Time
}

// CalendarDate returns the local calendar date of t as midnight UTC, the form
// dates are stored and compared in.
func CalendarDate(t time.Time, loc *time.Location) time.Time {
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, time.UTC)
}

// DayBounds returns the [start, end) instants of a calendar date in loc.
func DayBounds(date time.Time, loc *time.Location) (time.Time, time.Time) {
	start := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}
