package anomaly

import (
	"math"
	"time"

	"github.com/smukkama/energy-pipeline/internal/database"
	"github.com/smukkama/energy-pipeline/internal/tariff"
)

// Thresholds of the energy use rules, in kWh per reading
const (
	UnoccupiedFloorKWh     = 0.35
	UnoccupiedRatio        = 2.0
	UnoccupiedNoHistoryKWh = 0.6
	CostFloorKWh           = 0.35
	CostRatio              = 1.5
)

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// CheckUnoccupied flags energy use while the unit reports no occupancy.
// unoccupiedAvg is the unit's mean use over earlier unoccupied readings, nil
// when there are none.
func CheckUnoccupied(value float64, occupancy, unoccupiedAvg *float64) *Finding {
	if occupancy == nil || *occupancy != 0 {
		return nil
	}
	if unoccupiedAvg == nil {
		if value <= UnoccupiedNoHistoryKWh {
			return nil
		}
		return &Finding{
			Type:     TypeUnoccupiedEnergy,
			Severity: database.SeverityMedium,
			Action:   ActionInvestigate,
			Details:  map[string]any{"unoccupied_avg_kwh": nil},
		}
	}
	avg := *unoccupiedAvg
	if avg <= 0 || value <= math.Max(UnoccupiedFloorKWh, UnoccupiedRatio*avg) {
		return nil
	}
	return &Finding{
		Type:     TypeUnoccupiedEnergy,
		Severity: database.SeverityHigh,
		Action:   ActionAlert,
		Details:  map[string]any{"unoccupied_avg_kwh": round4(avg)},
	}
}

// CheckCost flags heavy use in the high-price window. avg is the unit's mean
// use over the lookback.
func CheckCost(value, avg float64, at time.Time, sched *tariff.Schedule) *Finding {
	if sched.IsLow(at) || value <= math.Max(CostFloorKWh, CostRatio*avg) {
		return nil
	}
	price := sched.PriceAt(at)
	return &Finding{
		Type:     TypeHighCost,
		Severity: database.SeverityMedium,
		Action:   ActionAlert,
		Details: map[string]any{
			"avg_kwh":        round4(avg),
			"price_per_kwh":  price,
			"estimated_cost": round4(value * price),
			"currency":       sched.Currency,
		},
	}
}

// ScanEnergy checks one unit's energy series against that unit's energy and
// occupancy over the preceding lookback. Both series are ordered by
// timestamp. Readings before from only feed the lookback, and readings
// outside physical bounds are ignored. sched may be nil, which disables the
// cost rule.
func ScanEnergy(energy, occupancy []*database.Reading, from time.Time, lookback time.Duration, sched *tariff.Schedule) []*database.Anomaly {
	var occ []*database.Reading
	occAt := make(map[int64]float64, len(occupancy))
	for _, r := range occupancy {
		if CheckBounds(r.SensorType, r.Value) == nil {
			occ = append(occ, r)
			occAt[r.Timestamp.UnixNano()] = r.Value
		}
	}
	unoccupied := func(r *database.Reading) bool {
		v, ok := occAt[r.Timestamp.UnixNano()]
		return ok && v == 0
	}

	var series []*database.Reading
	for _, r := range energy {
		if CheckBounds(r.SensorType, r.Value) == nil {
			series = append(series, r)
		}
	}

	var (
		out         []*database.Anomaly
		all, idle   window
		tail, nextO int
	)
	for i, r := range series {
		cutoff := r.Timestamp.Add(-lookback)
		for tail < i && series[tail].Timestamp.Before(cutoff) {
			all.remove(series[tail].Value)
			if unoccupied(series[tail]) {
				idle.remove(series[tail].Value)
			}
			tail++
		}
		for nextO < len(occ) && !occ[nextO].Timestamp.After(r.Timestamp) {
			nextO++
		}

		if !r.Timestamp.Before(from) {
			var current *float64
			if nextO > 0 && !occ[nextO-1].Timestamp.Before(cutoff) {
				v := occ[nextO-1].Value
				current = &v
			}
			var idleAvg *float64
			if idle.n > 0 {
				v := idle.sum / float64(idle.n)
				idleAvg = &v
			}

			if f := CheckUnoccupied(r.Value, current, idleAvg); f != nil {
				out = append(out, toAnomaly(r, f))
			}
			if sched != nil && all.n > 0 {
				if f := CheckCost(r.Value, all.sum/float64(all.n), r.Timestamp, sched); f != nil {
					out = append(out, toAnomaly(r, f))
				}
			}
		}

		all.add(r.Value)
		if unoccupied(r) {
			idle.add(r.Value)
		}
	}
	return out
}
