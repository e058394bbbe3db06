// Package storetest provides an in-memory store with the same keys and
// uniqueness rules as the Postgres schema, for component tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/smukkama/energy-pipeline/internal/database"
)

// Memory implements every store interface of the pipeline
type Memory struct {
	mu sync.Mutex

	buildings map[string]*database.Building
	tariffs   map[string]*database.Tariff
	units     map[string]*database.Unit
	sensors   map[string]*database.Sensor

	readings []*database.Reading
	weather  []*database.WeatherObservation
	features map[featureKey]*database.DailyFeatureVector

	clusters    map[string]*database.Cluster
	assignments []*database.ClusterAssignment

	models      map[string]*database.ModelRegistryEntry
	predictions []*database.Prediction
	plans       []*database.OptimizationPlan
	decisions   []*database.Decision
	anomalies   []*database.Anomaly
	progress    map[progressKey]*database.PipelineProgress
	validation  []*database.ValidationRecord

	nextID int64
	now    func() time.Time

	// Fail makes the named method return the given error.
	Fail map[string]error
}

type featureKey struct {
	building, unit string
	date           time.Time
}

type progressKey struct {
	pipeline, building string
}

// New returns an empty store
func New() *Memory {
	return &Memory{
		buildings: make(map[string]*database.Building),
		tariffs:   make(map[string]*database.Tariff),
		units:     make(map[string]*database.Unit),
		sensors:   make(map[string]*database.Sensor),
		features:  make(map[featureKey]*database.DailyFeatureVector),
		clusters:  make(map[string]*database.Cluster),
		models:    make(map[string]*database.ModelRegistryEntry),
		progress:  make(map[progressKey]*database.PipelineProgress),
		now:       time.Now,
		Fail:      make(map[string]error),
	}
}

func (m *Memory) fail(method string) error {
	if err, ok := m.Fail[method]; ok {
		return err
	}
	return nil
}

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

// SetNow overrides the clock used for created/updated timestamps
func (m *Memory) SetNow(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// AddBuilding seeds a building with its tariff (may be nil) and units
func (m *Memory) AddBuilding(b *database.Building, tariff *database.Tariff, units ...*database.Unit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.buildings[b.BuildingID] = &cp
	if tariff != nil {
		t := *tariff
		m.tariffs[b.BuildingID] = &t
	}
	for _, u := range units {
		uc := *u
		uc.BuildingID = b.BuildingID
		m.units[u.UnitID] = &uc
	}
}

// AddSensor seeds a sensor
func (m *Memory) AddSensor(s *database.Sensor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sensors[s.SensorID] = &cp
}

func (m *Memory) ListBuildingIDs(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.buildings))
	for id := range m.buildings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, m.fail("ListBuildingIDs")
}

func (m *Memory) GetBuilding(ctx context.Context, buildingID string) (*database.Building, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetBuilding"); err != nil {
		return nil, err
	}
	b, ok := m.buildings[buildingID]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (m *Memory) GetTariff(ctx context.Context, buildingID string) (*database.Tariff, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tariffs[buildingID]
	if !ok {
		return nil, m.fail("GetTariff")
	}
	cp := *t
	return &cp, m.fail("GetTariff")
}

func (m *Memory) ListUnits(ctx context.Context, buildingID string) ([]*database.Unit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var units []*database.Unit
	for _, u := range m.units {
		if u.BuildingID == buildingID {
			cp := *u
			units = append(units, &cp)
		}
	}
	sort.Slice(units, func(i, j int) bool { return units[i].UnitID < units[j].UnitID })
	return units, m.fail("ListUnits")
}

func (m *Memory) ListSensors(ctx context.Context, buildingID string) ([]*database.Sensor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sensors []*database.Sensor
	for _, s := range m.sensors {
		if u, ok := m.units[s.UnitID]; ok && u.BuildingID == buildingID {
			cp := *s
			sensors = append(sensors, &cp)
		}
	}
	sort.Slice(sensors, func(i, j int) bool { return sensors[i].SensorID < sensors[j].SensorID })
	return sensors, m.fail("ListSensors")
}

func (m *Memory) InsertReadings(ctx context.Context, readings []*database.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("InsertReadings"); err != nil {
		return err
	}
	for _, r := range readings {
		r.ID = m.id()
		if r.IngestedAt.IsZero() {
			r.IngestedAt = m.now()
		}
		cp := *r
		m.readings = append(m.readings, &cp)
	}
	return nil
}

func (m *Memory) InsertWeatherObservations(ctx context.Context, observations []*database.WeatherObservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("InsertWeatherObservations"); err != nil {
		return err
	}
	for _, w := range observations {
		w.ID = m.id()
		if w.IngestedAt.IsZero() {
			w.IngestedAt = m.now()
		}
		cp := *w
		m.weather = append(m.weather, &cp)
	}
	return nil
}

func (m *Memory) ReadingsInRange(ctx context.Context, buildingID string, from, to time.Time) ([]*database.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ReadingsInRange"); err != nil {
		return nil, err
	}
	var out []*database.Reading
	for _, r := range m.readings {
		if r.BuildingID == buildingID && !r.Timestamp.Before(from) && r.Timestamp.Before(to) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) EarliestReadingTime(ctx context.Context, buildingID string) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var earliest *time.Time
	for _, r := range m.readings {
		if r.BuildingID == buildingID && (earliest == nil || r.Timestamp.Before(*earliest)) {
			ts := r.Timestamp
			earliest = &ts
		}
	}
	return earliest, m.fail("EarliestReadingTime")
}

func (m *Memory) WeatherInRange(ctx context.Context, locationID string, from, to time.Time) ([]*database.WeatherObservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*database.WeatherObservation
	for _, w := range m.weather {
		if w.LocationID == locationID && w.ForecastHour == 0 && !w.Timestamp.Before(from) && w.Timestamp.Before(to) {
			cp := *w
			out = append(out, &cp)
		}
	}
	return out, m.fail("WeatherInRange")
}

func (m *Memory) UpsertFeatureVectors(ctx context.Context, vectors []*database.DailyFeatureVector) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UpsertFeatureVectors"); err != nil {
		return err
	}
	for _, v := range vectors {
		cp := *v
		m.features[featureKey{v.BuildingID, v.UnitID, v.Date}] = &cp
	}
	return nil
}

// PutFeatureVector seeds a stored feature row directly
func (m *Memory) PutFeatureVector(v *database.DailyFeatureVector) {
	_ = m.UpsertFeatureVectors(context.Background(), []*database.DailyFeatureVector{v})
}

func (m *Memory) FeatureVectorsInRange(ctx context.Context, buildingID string, from, to time.Time) ([]*database.DailyFeatureVector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*database.DailyFeatureVector
	for k, v := range m.features {
		if k.building == buildingID && !k.date.Before(from) && !k.date.After(to) {
			cp := *v
			out = append(out, &cp)
		}
	}
	sortFeatures(out)
	return out, m.fail("FeatureVectorsInRange")
}

func (m *Memory) LatestFeatureVector(ctx context.Context, unitID string, onOrBefore time.Time) (*database.DailyFeatureVector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *database.DailyFeatureVector
	for k, v := range m.features {
		if k.unit == unitID && !k.date.After(onOrBefore) && (latest == nil || k.date.After(latest.Date)) {
			latest = v
		}
	}
	if latest == nil {
		return nil, m.fail("LatestFeatureVector")
	}
	cp := *latest
	return &cp, m.fail("LatestFeatureVector")
}

func (m *Memory) StaleFeatureDates(ctx context.Context, buildingID string, from time.Time, version int) ([]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[time.Time]bool)
	var dates []time.Time
	for k, v := range m.features {
		if k.building == buildingID && !k.date.Before(from) && v.FeatureVersion < version && !seen[k.date] {
			seen[k.date] = true
			dates = append(dates, k.date)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, m.fail("StaleFeatureDates")
}

// FeatureVector returns the stored row for a key, nil when absent
func (m *Memory) FeatureVector(buildingID, unitID string, date time.Time) *database.DailyFeatureVector {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.features[featureKey{buildingID, unitID, date}]
	if !ok {
		return nil
	}
	cp := *v
	return &cp
}

func sortFeatures(vs []*database.DailyFeatureVector) {
	sort.Slice(vs, func(i, j int) bool {
		if vs[i].UnitID != vs[j].UnitID {
			return vs[i].UnitID < vs[j].UnitID
		}
		return vs[i].Date.Before(vs[j].Date)
	})
}

func (m *Memory) ListClusters(ctx context.Context, buildingID string) ([]*database.Cluster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*database.Cluster
	for _, c := range m.clusters {
		if c.BuildingID == buildingID {
			cp := *c
			cp.Centroid = append([]float64(nil), c.Centroid...)
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClusterID < out[j].ClusterID })
	return out, m.fail("ListClusters")
}

func (m *Memory) UpsertClusters(ctx context.Context, clusters []*database.Cluster) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UpsertClusters"); err != nil {
		return err
	}
	for _, c := range clusters {
		cp := *c
		cp.Centroid = append([]float64(nil), c.Centroid...)
		cp.UpdatedAt = m.now()
		m.clusters[c.ClusterID] = &cp
	}
	return nil
}

func (m *Memory) OpenAssignments(ctx context.Context, buildingID string) ([]*database.ClusterAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*database.ClusterAssignment
	for _, a := range m.assignments {
		if a.BuildingID == buildingID && a.EndDate == nil {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnitID < out[j].UnitID })
	return out, m.fail("OpenAssignments")
}

func (m *Memory) ListAssignments(ctx context.Context, buildingID string) ([]*database.ClusterAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*database.ClusterAssignment
	for _, a := range m.assignments {
		if a.BuildingID == buildingID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, m.fail("ListAssignments")
}

// ReassignUnit mirrors the partial unique index: at most one open row per unit.
func (m *Memory) ReassignUnit(ctx context.Context, next *database.ClusterAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ReassignUnit"); err != nil {
		return err
	}
	for _, a := range m.assignments {
		if a.UnitID == next.UnitID && a.EndDate == nil {
			end := next.StartDate
			a.EndDate = &end
		}
	}
	next.ID = m.id()
	next.CreatedAt = m.now()
	cp := *next
	m.assignments = append(m.assignments, &cp)
	return nil
}

func (m *Memory) CloseAssignment(ctx context.Context, unitID string, endDate time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CloseAssignment"); err != nil {
		return false, err
	}
	closed := false
	for _, a := range m.assignments {
		if a.UnitID == unitID && a.EndDate == nil {
			end := endDate
			a.EndDate = &end
			closed = true
		}
	}
	return closed, nil
}

func (m *Memory) CountOpenAssignments(ctx context.Context, unitID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.assignments {
		if a.UnitID == unitID && a.EndDate == nil {
			n++
		}
	}
	return n, m.fail("CountOpenAssignments")
}

func (m *Memory) InsertModel(ctx context.Context, e *database.ModelRegistryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("InsertModel"); err != nil {
		return err
	}
	if _, exists := m.models[e.ModelID]; exists {
		return fmt.Errorf("duplicate model id %s", e.ModelID)
	}
	e.IsActive = false
	e.CreatedAt = m.now()
	cp := *e
	m.models[e.ModelID] = &cp
	return nil
}

func (m *Memory) GetModel(ctx context.Context, modelID string) (*database.ModelRegistryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.models[modelID]
	if !ok {
		return nil, database.ErrModelNotFound
	}
	cp := *e
	return &cp, m.fail("GetModel")
}

func (m *Memory) ActiveModel(ctx context.Context, scopeKey, task string) (*database.ModelRegistryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ActiveModel"); err != nil {
		return nil, err
	}
	var found *database.ModelRegistryEntry
	for _, e := range m.models {
		if e.ScopeKey == scopeKey && e.Task == task && e.IsActive {
			if found != nil {
				return nil, errors.New("two active models for one scope and task")
			}
			found = e
		}
	}
	if found == nil {
		return nil, nil
	}
	cp := *found
	return &cp, nil
}

func (m *Memory) ActivateModel(ctx context.Context, modelID string, at time.Time) (*database.ModelRegistryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ActivateModel"); err != nil {
		return nil, err
	}
	target, ok := m.models[modelID]
	if !ok {
		return nil, database.ErrModelNotFound
	}
	for _, e := range m.models {
		if e.ScopeKey == target.ScopeKey && e.Task == target.Task {
			e.IsActive = false
		}
	}
	target.IsActive = true
	target.ActivatedAt = &at
	cp := *target
	return &cp, nil
}

func (m *Memory) ListModels(ctx context.Context) ([]*database.ModelRegistryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*database.ModelRegistryEntry
	for _, e := range m.models {
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelID < out[j].ModelID })
	return out, m.fail("ListModels")
}

func (m *Memory) InsertPrediction(ctx context.Context, p *database.Prediction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("InsertPrediction"); err != nil {
		return err
	}
	for _, existing := range m.predictions {
		if existing.UnitID == p.UnitID && existing.CreatedAt.Equal(p.CreatedAt) &&
			existing.TargetAt.Equal(p.TargetAt) && existing.ModelID == p.ModelID {
			p.ID = existing.ID
			return nil
		}
	}
	p.ID = m.id()
	cp := *p
	m.predictions = append(m.predictions, &cp)
	return nil
}

func (m *Memory) LatestPredictions(ctx context.Context, buildingID string, since time.Time) ([]*database.Prediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	latest := make(map[string]*database.Prediction)
	for _, p := range m.predictions {
		if p.BuildingID != buildingID || p.CreatedAt.Before(since) {
			continue
		}
		cur, ok := latest[p.UnitID]
		if !ok || p.CreatedAt.After(cur.CreatedAt) || (p.CreatedAt.Equal(cur.CreatedAt) && p.ID > cur.ID) {
			latest[p.UnitID] = p
		}
	}
	var out []*database.Prediction
	for _, p := range latest {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnitID < out[j].UnitID })
	return out, m.fail("LatestPredictions")
}

func (m *Memory) ListPredictions(ctx context.Context, buildingID string, limit int) ([]*database.Prediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*database.Prediction
	for i := len(m.predictions) - 1; i >= 0 && len(out) < limit; i-- {
		if p := m.predictions[i]; p.BuildingID == buildingID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, m.fail("ListPredictions")
}

func (m *Memory) GetPrediction(ctx context.Context, id int64) (*database.Prediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetPrediction"); err != nil {
		return nil, err
	}
	for _, p := range m.predictions {
		if p.ID == id {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

// Predictions returns every stored prediction of a unit in insertion order
func (m *Memory) Predictions(unitID string) []*database.Prediction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*database.Prediction
	for _, p := range m.predictions {
		if p.UnitID == unitID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out
}

func (m *Memory) InsertPlan(ctx context.Context, p *database.OptimizationPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("InsertPlan"); err != nil {
		return err
	}
	for _, existing := range m.plans {
		if existing.UnitID == p.UnitID && existing.CreatedAt.Equal(p.CreatedAt) {
			p.PlanID = existing.PlanID
			return nil
		}
	}
	cp := *p
	m.plans = append(m.plans, &cp)
	return nil
}

func (m *Memory) ListPlans(ctx context.Context, buildingID string, limit int) ([]*database.OptimizationPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*database.OptimizationPlan
	for i := len(m.plans) - 1; i >= 0 && len(out) < limit; i-- {
		if p := m.plans[i]; p.BuildingID == buildingID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, m.fail("ListPlans")
}

func (m *Memory) InsertDecision(ctx context.Context, d *database.Decision) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("InsertDecision"); err != nil {
		return false, err
	}
	for _, existing := range m.decisions {
		if existing.PlanID == d.PlanID {
			return false, nil
		}
	}
	cp := *d
	m.decisions = append(m.decisions, &cp)
	return true, nil
}

func (m *Memory) ListDecisions(ctx context.Context, buildingID string, limit int) ([]*database.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*database.Decision
	for i := len(m.decisions) - 1; i >= 0 && len(out) < limit; i-- {
		if d := m.decisions[i]; d.BuildingID == buildingID {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, m.fail("ListDecisions")
}

func (m *Memory) InsertAnomaly(ctx context.Context, a *database.Anomaly) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("InsertAnomaly"); err != nil {
		return false, err
	}
	for _, existing := range m.anomalies {
		if existing.UnitID == a.UnitID && existing.SensorType == a.SensorType &&
			existing.Timestamp.Equal(a.Timestamp) && existing.AnomalyType == a.AnomalyType {
			return false, nil
		}
	}
	a.ID = m.id()
	a.DetectedAt = m.now()
	cp := *a
	m.anomalies = append(m.anomalies, &cp)
	return true, nil
}

func (m *Memory) HighSeverityAnomalies(ctx context.Context, unitID string, from, to time.Time) ([]*database.Anomaly, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*database.Anomaly
	for _, a := range m.anomalies {
		if a.UnitID == unitID && a.Severity == database.SeverityHigh &&
			!a.Timestamp.Before(from) && !a.Timestamp.After(to) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, m.fail("HighSeverityAnomalies")
}

func (m *Memory) ListAnomalies(ctx context.Context, buildingID string, since time.Time, limit int) ([]*database.Anomaly, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*database.Anomaly
	for _, a := range m.anomalies {
		if a.BuildingID == buildingID && !a.Timestamp.Before(since) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, m.fail("ListAnomalies")
}

func (m *Memory) GetProgress(ctx context.Context, pipelineName, buildingID string) (*database.PipelineProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetProgress"); err != nil {
		return nil, err
	}
	p, ok := m.progress[progressKey{pipelineName, buildingID}]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) SetAnchor(ctx context.Context, pipelineName, buildingID string, anchor time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("SetAnchor"); err != nil {
		return err
	}
	m.progress[progressKey{pipelineName, buildingID}] = &database.PipelineProgress{
		PipelineName:    pipelineName,
		BuildingID:      buildingID,
		CurrentAnchorTS: anchor,
		UpdatedAt:       m.now(),
	}
	return nil
}

func (m *Memory) ListProgress(ctx context.Context, buildingID string) ([]*database.PipelineProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*database.PipelineProgress
	for k, p := range m.progress {
		if k.building == buildingID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PipelineName < out[j].PipelineName })
	return out, m.fail("ListProgress")
}

func (m *Memory) InsertValidationRecord(ctx context.Context, v *database.ValidationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("InsertValidationRecord"); err != nil {
		return err
	}
	v.ID = m.id()
	v.CreatedAt = m.now()
	cp := *v
	cp.Reasons = append([]database.ValidationReason(nil), v.Reasons...)
	m.validation = append(m.validation, &cp)
	return nil
}

func (m *Memory) ListValidationRecords(ctx context.Context, buildingID string, limit int) ([]*database.ValidationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*database.ValidationRecord
	for i := len(m.validation) - 1; i >= 0 && len(out) < limit; i-- {
		if v := m.validation[i]; v.BuildingID == buildingID {
			cp := *v
			out = append(out, &cp)
		}
	}
	return out, m.fail("ListValidationRecords")
}
