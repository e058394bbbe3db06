package tariff

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/smukkama/energy-pipeline/internal/database"
	"github.com/smukkama/energy-pipeline/pkg/config"
)

// Schedule is a two-price time-of-use tariff in a building's local time.
// The low window [LowStart, LowEnd) wraps midnight when LowStart > LowEnd.
type Schedule struct {
	LowStart        time.Duration // offset from local midnight
	LowEnd          time.Duration
	LowPrice        float64
	HighPrice       float64
	SundayAllDayLow bool
	Currency        string
	Location        *time.Location
}

// Default is the schedule used for buildings without a stored tariff
func Default(cfg config.OptimizerConfig, loc *time.Location) *Schedule {
	return &Schedule{
		LowStart:        22 * time.Hour,
		LowEnd:          6 * time.Hour,
		LowPrice:        cfg.DefaultLowPrice,
		HighPrice:       cfg.DefaultHighPrice,
		SundayAllDayLow: true,
		Currency:        cfg.DefaultCurrency,
		Location:        loc,
	}
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// FromTariff builds a schedule from a stored tariff
func FromTariff(t *database.Tariff, loc *time.Location) (*Schedule, error) {
	start, err := parseClock(t.LowStart)
	if err != nil {
		return nil, err
	}
	end, err := parseClock(t.LowEnd)
	if err != nil {
		return nil, err
	}
	if t.LowPrice < 0 || t.HighPrice < 0 {
		return nil, fmt.Errorf("negative price in tariff of %s", t.BuildingID)
	}
	return &Schedule{
		LowStart:        start,
		LowEnd:          end,
		LowPrice:        t.LowPrice,
		HighPrice:       t.HighPrice,
		SundayAllDayLow: t.SundayAllDayLow,
		Currency:        t.Currency,
		Location:        loc,
	}, nil
}

// Store is the persistence a Source needs
type Store interface {
	GetTariff(ctx context.Context, buildingID string) (*database.Tariff, error)
}

// Source resolves the schedule of a building, falling back to the default
// schedule when none is stored
type Source struct {
	store    Store
	defaults config.OptimizerConfig
}

// NewSource creates a new schedule source
func NewSource(store Store, defaults config.OptimizerConfig) *Source {
	return &Source{store: store, defaults: defaults}
}

// Schedule returns the building's schedule in its local time
func (s *Source) Schedule(ctx context.Context, building *database.Building) (*Schedule, error) {
	t, err := s.store.GetTariff(ctx, building.BuildingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tariff: %w", err)
	}
	if t == nil {
		return Default(s.defaults, building.Location()), nil
	}
	return FromTariff(t, building.Location())
}

func (s *Schedule) at(day time.Time, offset time.Duration) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(),
		int(offset/time.Hour), int(offset%time.Hour/time.Minute), 0, 0, s.Location)
}

// IsLow reports whether the low price applies at t
func (s *Schedule) IsLow(t time.Time) bool {
	local := t.In(s.Location)
	if s.SundayAllDayLow && local.Weekday() == time.Sunday {
		return true
	}
	clock := time.Duration(local.Hour())*time.Hour + time.Duration(local.Minute())*time.Minute +
		time.Duration(local.Second())*time.Second + time.Duration(local.Nanosecond())
	switch {
	case s.LowStart == s.LowEnd:
		return false
	case s.LowStart < s.LowEnd:
		return clock >= s.LowStart && clock < s.LowEnd
	default:
		return clock >= s.LowStart || clock < s.LowEnd
	}
}

// PriceAt returns the price per kWh at t
func (s *Schedule) PriceAt(t time.Time) float64 {
	if s.IsLow(t) {
		return s.LowPrice
	}
	return s.HighPrice
}

// nextChange returns the first instant after t at which the price may change
func (s *Schedule) nextChange(t time.Time) time.Time {
	local := t.In(s.Location)
	var next time.Time
	for d := 0; d <= 1; d++ {
		day := local.AddDate(0, 0, d)
		for _, offset := range []time.Duration{0, s.LowStart, s.LowEnd} {
			b := s.at(day, offset)
			if b.After(t) && (next.IsZero() || b.Before(next)) {
				next = b
			}
		}
	}
	return next
}

// Cost integrates a constant consumption rate (kWh per hour) against the
// schedule over [start, end).
func (s *Schedule) Cost(ratePerHour float64, start, end time.Time) float64 {
	var cost float64
	for cur := start; cur.Before(end); {
		next := s.nextChange(cur)
		if next.After(end) {
			next = end
		}
		cost += ratePerHour * next.Sub(cur).Hours() * s.PriceAt(cur)
		cur = next
	}
	return math.Round(cost*10000) / 10000
}
