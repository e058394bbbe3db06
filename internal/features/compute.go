package features

import (
	"math"
	"sort"
	"time"

	"github.com/smukkama/energy-pipeline/internal/database"
	"github.com/smukkama/energy-pipeline/pkg/config"
)

// FeatureVersion tags every vector this package produces. Bump it whenever the
// computation below changes so that stale rows are recomputed.
const FeatureVersion = 3

// Peak-hour search sub-windows, inclusive local hours.
const (
	morningPeakFrom = 6
	morningPeakTo   = 12
	eveningPeakFrom = 16
	eveningPeakTo   = 22
)

type window int

const (
	windowMorning window = iota
	windowDaytime
	windowEvening
	windowNight
)

func classify(hour int, cfg config.FeaturesConfig) window {
	switch {
	case hour >= cfg.NightStartHour || hour < cfg.NightEndHour:
		return windowNight
	case hour < cfg.DaytimeStartHour:
		return windowMorning
	case hour < cfg.DaytimeEndHour:
		return windowDaytime
	default:
		return windowEvening
	}
}

// OccupancyAt returns the vector's mean occupancy for the window containing the
// local hour, nil when unknown.
func OccupancyAt(v *database.DailyFeatureVector, hour int, cfg config.FeaturesConfig) *float64 {
	switch classify(hour, cfg) {
	case windowMorning:
		return v.OccupancyMorningAvg
	case windowDaytime:
		return v.OccupancyDaytimeAvg
	case windowEvening:
		return v.OccupancyEveningAvg
	default:
		return v.OccupancyNightAvg
	}
}

type sample struct {
	at    time.Time // local
	value float64
}

type unitSeries struct {
	energy    []sample
	occupancy []sample
}

// Dedupe keeps, per (unit, sensor_type, timestamp), the latest-ingested reading
// that is not flagged invalid. The result is sorted by unit, sensor type and
// timestamp.
func Dedupe(readings []*database.Reading) []*database.Reading {
	sorted := make([]*database.Reading, len(readings))
	copy(sorted, readings)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.UnitID != b.UnitID {
			return a.UnitID < b.UnitID
		}
		if a.SensorType != b.SensorType {
			return a.SensorType < b.SensorType
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if !a.IngestedAt.Equal(b.IngestedAt) {
			return a.IngestedAt.Before(b.IngestedAt)
		}
		return a.ID < b.ID
	})

	out := make([]*database.Reading, 0, len(sorted))
	for _, r := range sorted {
		if !r.Valid() {
			continue
		}
		if n := len(out); n > 0 {
			last := out[n-1]
			if last.UnitID == r.UnitID && last.SensorType == r.SensorType && last.Timestamp.Equal(r.Timestamp) {
				out[n-1] = r
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

// ComputeDaily derives one vector per unit with at least one energy reading on
// date. Readings and weather must already be restricted to that local day.
// Units listed in unitIDs without energy readings are returned as missing.
func ComputeDaily(
	buildingID string,
	date time.Time,
	loc *time.Location,
	unitIDs []string,
	readings []*database.Reading,
	weather []*database.WeatherObservation,
	cfg config.FeaturesConfig,
) ([]*database.DailyFeatureVector, []string) {
	series := make(map[string]*unitSeries)
	for _, r := range Dedupe(readings) {
		s, ok := series[r.UnitID]
		if !ok {
			s = &unitSeries{}
			series[r.UnitID] = s
		}
		switch r.SensorType {
		case database.SensorEnergy:
			s.energy = append(s.energy, sample{at: r.Timestamp.In(loc), value: r.Value})
		case database.SensorOccupancy:
			s.occupancy = append(s.occupancy, sample{at: r.Timestamp.In(loc), value: r.Value})
		}
	}

	hourlyTemp := hourlyExternalTemp(weather, loc)
	weekend := isWeekend(date)

	var vectors []*database.DailyFeatureVector
	var missing []string
	for _, unitID := range unitIDs {
		s, ok := series[unitID]
		if !ok || len(s.energy) == 0 {
			missing = append(missing, unitID)
			continue
		}

		v := &database.DailyFeatureVector{
			BuildingID:     buildingID,
			UnitID:         unitID,
			Date:           date,
			EnergyReadings: len(s.energy),
			FeatureVersion: FeatureVersion,
		}

		occupancyWindows(v, s.occupancy, cfg)
		v.BinaryActivityRatio = activityRatio(s.occupancy, cfg.ActivityThreshold)

		values := make([]float64, len(s.energy))
		for i, e := range s.energy {
			values[i] = e.value
		}
		avg := round(mean(values), 2)
		if weekend {
			v.WeekendConsumptionAvg = &avg
		} else {
			v.WeekdayConsumptionAvg = &avg
		}
		if len(values) >= 2 {
			std := round(populationStdDev(values), 2)
			v.ConsumptionStdDev = &std
		}

		hourlyEnergy := hourlyMeans(s.energy)
		v.PeakHourMorning = peakHour(hourlyEnergy, morningPeakFrom, morningPeakTo)
		v.PeakHourEvening = peakHour(hourlyEnergy, eveningPeakFrom, eveningPeakTo)
		v.TempSensitivity = tempSensitivity(hourlyEnergy, hourlyTemp, cfg.MinTempPairs)

		vectors = append(vectors, v)
	}
	return vectors, missing
}

func isWeekend(date time.Time) bool {
	wd := date.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func occupancyWindows(v *database.DailyFeatureVector, occupancy []sample, cfg config.FeaturesConfig) {
	var sums [4]float64
	var counts [4]int
	for _, o := range occupancy {
		w := classify(o.at.Hour(), cfg)
		sums[w] += o.value
		counts[w]++
	}

	avg := func(w window) *float64 {
		if counts[w] == 0 {
			return nil
		}
		x := round(sums[w]/float64(counts[w]), 2)
		return &x
	}
	v.OccupancyMorningAvg = avg(windowMorning)
	v.OccupancyDaytimeAvg = avg(windowDaytime)
	v.OccupancyEveningAvg = avg(windowEvening)
	v.OccupancyNightAvg = avg(windowNight)
}

// activityRatio is the share of occupancy timestamps with detected activity.
func activityRatio(occupancy []sample, threshold float64) *float64 {
	if len(occupancy) == 0 {
		return nil
	}
	active := 0
	for _, o := range occupancy {
		if o.value >= threshold {
			active++
		}
	}
	ratio := round(float64(active)/float64(len(occupancy)), 3)
	return &ratio
}

// hourlyMeans averages samples per local hour of day.
func hourlyMeans(samples []sample) map[int]float64 {
	sums := make(map[int]float64)
	counts := make(map[int]int)
	for _, s := range samples {
		h := s.at.Hour()
		sums[h] += s.value
		counts[h]++
	}
	out := make(map[int]float64, len(sums))
	for h := 0; h < 24; h++ {
		if counts[h] > 0 {
			out[h] = sums[h] / float64(counts[h])
		}
	}
	return out
}

func hourlyExternalTemp(weather []*database.WeatherObservation, loc *time.Location) map[int]float64 {
	var samples []sample
	for _, w := range weather {
		if w.ForecastHour != 0 || w.TempExternal == nil {
			continue
		}
		samples = append(samples, sample{at: w.Timestamp.In(loc), value: *w.TempExternal})
	}
	sort.SliceStable(samples, func(i, j int) bool { return samples[i].at.Before(samples[j].at) })
	return hourlyMeans(samples)
}

func peakHour(hourly map[int]float64, from, to int) *int {
	best := -1
	for h := from; h <= to; h++ {
		v, ok := hourly[h]
		if !ok {
			continue
		}
		if best < 0 || v > hourly[best] {
			best = h
		}
	}
	if best < 0 {
		return nil
	}
	return &best
}

func tempSensitivity(energy, temp map[int]float64, minPairs int) *float64 {
	var xs, ys []float64
	for h := 0; h < 24; h++ {
		e, ok := energy[h]
		if !ok {
			continue
		}
		t, ok := temp[h]
		if !ok {
			continue
		}
		xs = append(xs, e)
		ys = append(ys, t)
	}
	if len(xs) < minPairs {
		return nil
	}
	r, ok := pearson(xs, ys)
	if !ok {
		return nil
	}
	s := round(math.Min(1, math.Abs(r)), 3)
	return &s
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func populationStdDev(values []float64) float64 {
	m := mean(values)
	var ss float64
	for _, v := range values {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(values)))
}

// pearson returns false when either series has zero variance.
func pearson(xs, ys []float64) (float64, bool) {
	mx, my := mean(xs), mean(ys)
	var sxy, sxx, syy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return 0, false
	}
	return sxy / math.Sqrt(sxx*syy), true
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
