package anomaly

import (
	"math"
	"time"

	"github.com/smukkama/energy-pipeline/internal/database"
	"github.com/smukkama/energy-pipeline/internal/tariff"
)

// Weekly analysis thresholds
const (
	WeekDays               = 7
	WeeklyVariabilityRatio = 3.0
	WeeklyTrendMinDays     = 5
	WeeklyRisingDays       = 4
)

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// DailyTotals sums a unit's energy readings per local calendar date.
// Readings outside physical bounds are left out.
func DailyTotals(energy []*database.Reading, loc *time.Location) map[time.Time]float64 {
	totals := make(map[time.Time]float64)
	for _, r := range energy {
		if CheckBounds(r.SensorType, r.Value) != nil {
			continue
		}
		totals[database.CalendarDate(r.Timestamp, loc)] += r.Value
	}
	return totals
}

// WeekBefore returns the daily totals of the WeekDays dates before date,
// oldest first. Dates without readings are skipped.
func WeekBefore(totals map[time.Time]float64, date time.Time) []float64 {
	var out []float64
	for k := WeekDays; k >= 1; k-- {
		if v, ok := totals[date.AddDate(0, 0, -k)]; ok {
			out = append(out, v)
		}
	}
	return out
}

// weeklyFinding carries the anomaly value, which for weekly rules is a
// summary of the week rather than a reading
type weeklyFinding struct {
	Finding
	Value float64
}

// checkWeek reviews one unit's week of daily totals. sched prices the
// energy above budgetKWh and may be nil.
func checkWeek(daily []float64, budgetKWh float64, sched *tariff.Schedule) []weeklyFinding {
	if len(daily) == 0 {
		return nil
	}
	lo, hi, total := daily[0], daily[0], 0.0
	for _, v := range daily {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
		total += v
	}

	var out []weeklyFinding
	if lo > 0 && hi/lo > WeeklyVariabilityRatio {
		ratio := round2(hi / lo)
		out = append(out, weeklyFinding{
			Finding: Finding{
				Type:     TypeWeeklyVariability,
				Severity: database.SeverityMedium,
				Action:   ActionInvestigate,
				Details: map[string]any{
					"max_daily_kwh": round2(hi),
					"min_daily_kwh": round2(lo),
					"ratio":         ratio,
				},
			},
			Value: ratio,
		})
	}

	if total > budgetKWh {
		excess := total - budgetKWh
		details := map[string]any{
			"total_weekly_kwh": round2(total),
			"budget_kwh":       budgetKWh,
			"excess_kwh":       round2(excess),
		}
		if sched != nil {
			details["excess_cost_estimate"] = round2(excess * sched.HighPrice)
			details["currency"] = sched.Currency
		}
		out = append(out, weeklyFinding{
			Finding: Finding{
				Type:     TypeWeeklyBudgetExceeded,
				Severity: database.SeverityLow,
				Action:   ActionNotify,
				Details:  details,
			},
			Value: round2(total),
		})
	}

	if len(daily) >= WeeklyTrendMinDays {
		rising := 0
		for i := 1; i < len(daily); i++ {
			if daily[i] > daily[i-1] {
				rising++
			}
		}
		if rising >= WeeklyRisingDays {
			first, last := daily[0], daily[len(daily)-1]
			details := map[string]any{
				"rising_days":   rising,
				"total_days":    len(daily),
				"first_day_kwh": round2(first),
				"last_day_kwh":  round2(last),
			}
			if first > 0 {
				details["percent_increase"] = math.Round((last/first-1)*1000) / 10
			}
			out = append(out, weeklyFinding{
				Finding: Finding{
					Type:     TypeWeeklyRisingTrend,
					Severity: database.SeverityLow,
					Action:   ActionMonitor,
					Details:  details,
				},
				Value: last,
			})
		}
	}
	return out
}

// WeeklyScan reviews the week before each local midnight in (from, to] for
// one unit's energy series. Each anomaly is stamped with the midnight that
// closed its week.
func WeeklyScan(energy []*database.Reading, from, to time.Time, loc *time.Location, budgetKWh float64, sched *tariff.Schedule) []*database.Anomaly {
	if len(energy) == 0 {
		return nil
	}
	totals := DailyTotals(energy, loc)
	first := energy[0]

	var out []*database.Anomaly
	last := database.CalendarDate(to, loc)
	for date := database.CalendarDate(from, loc); !date.After(last); date = date.AddDate(0, 0, 1) {
		midnight, _ := database.DayBounds(date, loc)
		if !midnight.After(from) || midnight.After(to) {
			continue
		}
		for _, f := range checkWeek(WeekBefore(totals, date), budgetKWh, sched) {
			a := toAnomaly(&database.Reading{
				BuildingID: first.BuildingID,
				UnitID:     first.UnitID,
				SensorType: database.SensorEnergy,
				Timestamp:  midnight,
				Value:      f.Value,
			}, &f.Finding)
			out = append(out, a)
		}
	}
	return out
}
