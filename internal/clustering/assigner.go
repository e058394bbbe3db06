package clustering

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/smukkama/energy-pipeline/internal/database"
	"github.com/smukkama/energy-pipeline/internal/logger"
	"github.com/smukkama/energy-pipeline/pkg/config"
)

// MinUnits is the smallest eligible population that gets clustered
const MinUnits = 3

// Feature dimensions in centroid order. Every dimension but temperature
// sensitivity is required.
const (
	dimMorning = iota
	dimDaytime
	dimEvening
	dimNight
	dimActivity
	dimWeekday
	dimWeekend
	dimTempSensitivity
	numDims
)

// Store is the persistence the assigner needs
type Store interface {
	FeatureVectorsInRange(ctx context.Context, buildingID string, from, to time.Time) ([]*database.DailyFeatureVector, error)
	ListClusters(ctx context.Context, buildingID string) ([]*database.Cluster, error)
	UpsertClusters(ctx context.Context, clusters []*database.Cluster) error
	OpenAssignments(ctx context.Context, buildingID string) ([]*database.ClusterAssignment, error)
	ReassignUnit(ctx context.Context, next *database.ClusterAssignment) error
	CloseAssignment(ctx context.Context, unitID string, endDate time.Time) (bool, error)
}

// Result summarises one assignment pass
type Result struct {
	Skipped    bool // fewer than MinUnits eligible units
	K          int
	Silhouette float64
	Eligible   []string
	Excluded   []string
	Closed     int // excluded units whose open assignment was ended
	Changed    int
	Unchanged  int
}

// Assigner groups units by behaviour and keeps their cluster membership history
type Assigner struct {
	store Store
	cfg   config.ClusteringConfig
	log   *logger.Logger
}

// NewAssigner creates a new cluster assigner
func NewAssigner(store Store, cfg config.ClusteringConfig, log *logger.Logger) *Assigner {
	return &Assigner{store: store, cfg: cfg, log: log}
}

// profile is the per-unit mean of each dimension over the history window
type profile struct {
	unitID string
	values [numDims]float64
	known  [numDims]bool
	days   int
}

func buildProfiles(vectors []*database.DailyFeatureVector, unitIDs []string) map[string]*profile {
	wanted := make(map[string]bool, len(unitIDs))
	for _, id := range unitIDs {
		wanted[id] = true
	}

	type acc struct {
		sums   [numDims]float64
		counts [numDims]int
		days   int
	}
	accs := make(map[string]*acc)
	for _, v := range vectors {
		if !wanted[v.UnitID] {
			continue
		}
		a, ok := accs[v.UnitID]
		if !ok {
			a = &acc{}
			accs[v.UnitID] = a
		}
		a.days++
		fields := [numDims]*float64{
			v.OccupancyMorningAvg,
			v.OccupancyDaytimeAvg,
			v.OccupancyEveningAvg,
			v.OccupancyNightAvg,
			v.BinaryActivityRatio,
			v.WeekdayConsumptionAvg,
			v.WeekendConsumptionAvg,
			v.TempSensitivity,
		}
		for d, f := range fields {
			if f != nil {
				a.sums[d] += *f
				a.counts[d]++
			}
		}
	}

	profiles := make(map[string]*profile, len(accs))
	for unitID, a := range accs {
		p := &profile{unitID: unitID, days: a.days}
		for d := 0; d < numDims; d++ {
			if a.counts[d] > 0 {
				p.values[d] = a.sums[d] / float64(a.counts[d])
				p.known[d] = true
			}
		}
		profiles[unitID] = p
	}
	return profiles
}

func (p *profile) complete() bool {
	for d := 0; d < numDims; d++ {
		if d != dimTempSensitivity && !p.known[d] {
			return false
		}
	}
	return true
}

// scaler z-scores each dimension over the values present
type scaler struct {
	mean, std [numDims]float64
}

func fitScaler(profiles []*profile) scaler {
	var s scaler
	for d := 0; d < numDims; d++ {
		var vals []float64
		for _, p := range profiles {
			if p.known[d] {
				vals = append(vals, p.values[d])
			}
		}
		s.std[d] = 1
		if len(vals) == 0 {
			continue
		}
		var sum float64
		for _, v := range vals {
			sum += v
		}
		m := sum / float64(len(vals))
		var ss float64
		for _, v := range vals {
			ss += (v - m) * (v - m)
		}
		s.mean[d] = m
		if sd := math.Sqrt(ss / float64(len(vals))); sd > 0 {
			s.std[d] = sd
		}
	}
	return s
}

func (s scaler) point(p *profile) Point {
	pt := Point{UnitID: p.unitID, Values: make([]float64, numDims), Known: make([]bool, numDims)}
	for d := 0; d < numDims; d++ {
		if p.known[d] {
			pt.Values[d] = (p.values[d] - s.mean[d]) / s.std[d]
			pt.Known[d] = true
		}
	}
	return pt
}

func (s scaler) normalize(raw []float64) []float64 {
	out := make([]float64, numDims)
	for d := 0; d < numDims; d++ {
		out[d] = (raw[d] - s.mean[d]) / s.std[d]
	}
	return out
}

func (s scaler) denormalize(c []float64) []float64 {
	out := make([]float64, numDims)
	for d := 0; d < numDims; d++ {
		out[d] = math.Round((c[d]*s.std[d]+s.mean[d])*1e6) / 1e6
	}
	return out
}

// Label names a cluster from its raw centroid
func Label(centroid []float64) string {
	windows := centroid[dimMorning : dimNight+1]
	lo, hi, sum := windows[0], windows[0], 0.0
	for _, w := range windows {
		lo = math.Min(lo, w)
		hi = math.Max(hi, w)
		sum += w
	}
	avg := sum / float64(len(windows))

	switch {
	case avg < 0.1:
		return "Vacant/Minimal"
	case centroid[dimDaytime] >= 0.6 && centroid[dimEvening] < 0.3 && centroid[dimNight] < 0.3:
		return "Commercial Hours"
	case hi-lo >= 0.5:
		return "Variable Pattern"
	case centroid[dimActivity] >= 0.6:
		return "High Activity"
	case centroid[dimActivity] >= 0.3:
		return "Medium Activity"
	default:
		return "Low Activity"
	}
}

// matchClusters maps each new centroid to a stored cluster id, greedily by
// ascending distance in the current normalized space. Unmatched centroids get
// fresh ids.
func matchClusters(buildingID string, centroids [][]float64, stored []*database.Cluster, s scaler) []string {
	type pair struct {
		i, j int
		dist float64
	}
	var pairs []pair
	for i, c := range centroids {
		for j, st := range stored {
			if len(st.Centroid) != numDims {
				continue
			}
			sc := s.normalize(st.Centroid)
			var sum float64
			for d := range c {
				sum += (c[d] - sc[d]) * (c[d] - sc[d])
			}
			pairs = append(pairs, pair{i, j, sum})
		}
	}
	sort.SliceStable(pairs, func(a, b int) bool {
		if pairs[a].dist != pairs[b].dist {
			return pairs[a].dist < pairs[b].dist
		}
		if pairs[a].i != pairs[b].i {
			return pairs[a].i < pairs[b].i
		}
		return pairs[a].j < pairs[b].j
	})

	ids := make([]string, len(centroids))
	usedStored := make(map[int]bool)
	for _, p := range pairs {
		if ids[p.i] != "" || usedStored[p.j] {
			continue
		}
		ids[p.i] = stored[p.j].ClusterID
		usedStored[p.j] = true
	}

	next := 0
	prefix := buildingID + "_C"
	for _, st := range stored {
		if n, err := strconv.Atoi(strings.TrimPrefix(st.ClusterID, prefix)); err == nil && n >= next {
			next = n + 1
		}
	}
	for i := range ids {
		if ids[i] == "" {
			ids[i] = fmt.Sprintf("%s%d", prefix, next)
			next++
		}
	}
	return ids
}

// Assign clusters the eligible units of a building as of runDate and records
// membership changes. Units lacking history are excluded and their open
// assignment, if any, ends at runDate.
func (a *Assigner) Assign(ctx context.Context, buildingID string, unitIDs []string, runDate time.Time) (*Result, error) {
	from := runDate.AddDate(0, 0, -(a.cfg.HistoryDays - 1))
	vectors, err := a.store.FeatureVectorsInRange(ctx, buildingID, from, runDate)
	if err != nil {
		return nil, fmt.Errorf("failed to load feature history: %w", err)
	}

	profiles := buildProfiles(vectors, unitIDs)
	result := &Result{}
	var eligible []*profile
	for _, unitID := range unitIDs {
		p, ok := profiles[unitID]
		if !ok || p.days < a.cfg.MinHistoryDays || !p.complete() {
			result.Excluded = append(result.Excluded, unitID)
			continue
		}
		eligible = append(eligible, p)
		result.Eligible = append(result.Eligible, unitID)
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].unitID < eligible[j].unitID })
	sort.Strings(result.Eligible)

	for _, unitID := range result.Excluded {
		closed, err := a.store.CloseAssignment(ctx, unitID, runDate)
		if err != nil {
			return result, fmt.Errorf("failed to close assignment of excluded unit %s: %w", unitID, err)
		}
		if closed {
			result.Closed++
			a.log.Info("unit left its cluster",
				"building_id", buildingID,
				"unit_id", unitID,
				"end_date", runDate.Format("2006-01-02"),
			)
		}
	}

	if len(eligible) < MinUnits {
		result.Skipped = true
		a.log.Info("too few units to cluster",
			"building_id", buildingID,
			"eligible", len(eligible),
			"excluded", len(result.Excluded),
		)
		return result, nil
	}

	s := fitScaler(eligible)
	points := make([]Point, len(eligible))
	for i, p := range eligible {
		points[i] = s.point(p)
	}
	model := Fit(points, a.cfg.ClusterCount, a.cfg.MaxClusters, a.cfg.Restarts, a.cfg.Seed)
	result.K = model.K
	result.Silhouette = math.Round(model.Silhouette*1000) / 1000

	stored, err := a.store.ListClusters(ctx, buildingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list clusters: %w", err)
	}
	ids := matchClusters(buildingID, model.Centroids, stored, s)

	counts := make([]int, model.K)
	for _, l := range model.Labels {
		counts[l]++
	}
	labels := make([]string, model.K)
	clusters := make([]*database.Cluster, 0, len(stored)+model.K)
	matched := make(map[string]bool, model.K)
	for i, c := range model.Centroids {
		raw := s.denormalize(c)
		labels[i] = Label(raw)
		matched[ids[i]] = true
		clusters = append(clusters, &database.Cluster{
			ClusterID:  ids[i],
			BuildingID: buildingID,
			Label:      labels[i],
			Centroid:   raw,
			UnitCount:  counts[i],
		})
	}
	for _, st := range stored {
		if !matched[st.ClusterID] && st.UnitCount != 0 {
			st.UnitCount = 0
			clusters = append(clusters, st)
		}
	}
	if err := a.store.UpsertClusters(ctx, clusters); err != nil {
		return nil, fmt.Errorf("failed to store clusters: %w", err)
	}

	open, err := a.store.OpenAssignments(ctx, buildingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load open assignments: %w", err)
	}
	current := make(map[string]*database.ClusterAssignment, len(open))
	for _, o := range open {
		current[o.UnitID] = o
	}

	for i, p := range points {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		label := model.Labels[i]
		clusterID := ids[label]
		prior, hasPrior := current[p.UnitID]
		if hasPrior && prior.ClusterID == clusterID {
			result.Unchanged++
			continue
		}

		reason := fmt.Sprintf("kmeans k=%d silhouette=%.3f: %s", model.K, result.Silhouette, labels[label])
		if hasPrior {
			reason = fmt.Sprintf("moved from %s; %s", prior.ClusterID, reason)
		}
		next := &database.ClusterAssignment{
			BuildingID: buildingID,
			UnitID:     p.UnitID,
			ClusterID:  clusterID,
			StartDate:  runDate,
			Confidence: Confidence(p, model.Centroids, label),
			Reason:     reason,
		}
		if err := a.store.ReassignUnit(ctx, next); err != nil {
			return result, fmt.Errorf("failed to reassign unit %s: %w", p.UnitID, err)
		}
		result.Changed++
	}

	a.log.Info("units clustered",
		"building_id", buildingID,
		"k", model.K,
		"silhouette", result.Silhouette,
		"changed", result.Changed,
		"unchanged", result.Unchanged,
		"excluded", len(result.Excluded),
		"closed", result.Closed,
	)
	return result, nil
}
