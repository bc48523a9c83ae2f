package plugstat

import (
	"sort"
	"time"
)

// JoulesPerKWh holds the number of joules in one kilowatt-hour.
const JoulesPerKWh = 3600000

// EnergyJoules returns the energy in joules consumed over the
// period covered by the given readings, integrating power over time
// with the trapezoidal rule.
//
// The readings are sorted by time first; rs itself is not changed.
// An interval with a non-positive duration contributes nothing.
// Fewer than two readings yield zero.
func EnergyJoules(rs []Reading) float64 {
	if len(rs) < 2 {
		return 0
	}
	rs = sortedByTime(rs)
	total := 0.0
	for i := 1; i < len(rs); i++ {
		total += intervalJoules(rs[i-1], rs[i])
	}
	return total
}

// TotalKWh returns the energy in kWh consumed over the period
// covered by the given readings. See EnergyJoules for details.
func TotalKWh(rs []Reading) float64 {
	return EnergyJoules(rs) / JoulesPerKWh
}

// intervalJoules returns the trapezoidal energy estimate between
// two adjacent readings.
func intervalJoules(r0, r1 Reading) float64 {
	dt := r1.Time.Sub(r0.Time).Seconds()
	if dt <= 0 {
		return 0
	}
	return (r0.Power + r1.Power) / 2 * dt
}

// sortedByTime returns a copy of rs sorted by ascending time.
// Readings with equal times keep their arrival order.
func sortedByTime(rs []Reading) []Reading {
	sorted := make([]Reading, len(rs))
	copy(sorted, rs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time.Before(sorted[j].Time)
	})
	return sorted
}

// DayUsage holds the energy used during one calendar day.
type DayUsage struct {
	// Day holds midnight at the start of the day.
	Day time.Time
	// KWh holds the energy used during the day.
	KWh float64
}

// DailyUsage returns the energy used on each day covered by the
// readings, in day order, with day boundaries taken in the given
// time zone (UTC if nil). An interval that spans midnight is split
// at the boundary, with the power at midnight linearly interpolated
// between the two readings, so the day totals sum to TotalKWh(rs).
//
// Days with no interval data are omitted.
func DailyUsage(rs []Reading, tz *time.Location) []DayUsage {
	if tz == nil {
		tz = time.UTC
	}
	if len(rs) < 2 {
		return nil
	}
	rs = sortedByTime(rs)
	var days []DayUsage
	add := func(day time.Time, joules float64) {
		if n := len(days); n > 0 && days[n-1].Day.Equal(day) {
			days[n-1].KWh += joules / JoulesPerKWh
			return
		}
		days = append(days, DayUsage{
			Day: day,
			KWh: joules / JoulesPerKWh,
		})
	}
	for i := 1; i < len(rs); i++ {
		r0, r1 := rs[i-1], rs[i]
		if !r1.Time.After(r0.Time) {
			continue
		}
		for {
			day := startOfDay(r0.Time, tz)
			next := day.AddDate(0, 0, 1)
			if !r1.Time.After(next) {
				add(day, intervalJoules(r0, r1))
				break
			}
			mid := Reading{
				Time:  next,
				Power: powerAt(r0, r1, next),
			}
			add(day, intervalJoules(r0, mid))
			r0 = mid
		}
	}
	return days
}

// powerAt returns the power at time t, linearly interpolated
// between r0 and r1. The time t must be between r0.Time and r1.Time.
func powerAt(r0, r1 Reading, t time.Time) float64 {
	sdt := r1.Time.Sub(r0.Time)
	dt := t.Sub(r0.Time)
	return (r1.Power-r0.Power)/float64(sdt)*float64(dt) + r0.Power
}

func startOfDay(t time.Time, tz *time.Location) time.Time {
	t = t.In(tz)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, tz)
}
