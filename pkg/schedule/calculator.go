package schedule

import "time"

// NextRun computes the next eligible run instant for a recurrence.
//
// lastRun is the previous run instant, or nil if the schedule has never
// fired; now supplies the reference point in that case. The result is
// always strictly after the reference instant, computed in the recurrence's
// timezone and returned in UTC. Crossing a DST transition can shift the
// wall-clock gap but never moves the result at or before the reference.
func NextRun(rec Recurrence, lastRun *time.Time, now time.Time) time.Time {
	ref := now
	if lastRun != nil {
		ref = *lastRun
	}

	switch rec.Frequency {
	case Hourly:
		if lastRun == nil {
			// First run: now, rounded up to the next top of the hour.
			local := now.In(rec.Location)
			rounded := local.Truncate(time.Hour)
			if !rounded.After(local) {
				rounded = rounded.Add(time.Hour)
			}
			return rounded.UTC()
		}
		return lastRun.Add(time.Hour).UTC()

	case Weekly:
		return rec.nextWeekly(ref).UTC()

	case Monthly:
		return rec.nextMonthly(ref).UTC()

	default: // Daily
		return rec.nextDaily(ref).UTC()
	}
}

// at builds the run instant for a local calendar date. Out-of-range day
// values normalize per time.Date, which is what makes the day-stepping
// loops below safe across month ends and DST gaps.
func (r Recurrence) at(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, r.Hour, r.Minute, 0, 0, r.Location)
}

func (r Recurrence) nextDaily(ref time.Time) time.Time {
	local := ref.In(r.Location)
	year, month, day := local.Date()

	c := r.at(year, month, day)
	for !c.After(ref) {
		day++
		c = r.at(year, month, day)
	}
	return c
}

func (r Recurrence) nextWeekly(ref time.Time) time.Time {
	local := ref.In(r.Location)

	allowed := make(map[time.Weekday]bool, len(r.DaysOfWeek))
	for _, d := range r.DaysOfWeek {
		allowed[d.timeWeekday()] = true
	}
	if len(allowed) == 0 {
		// No day set configured: stay on the reference weekday.
		allowed[local.Weekday()] = true
	}

	year, month, day := local.Date()
	// Two weeks is enough to hit any allowed weekday strictly after ref.
	for i := 0; i < 15; i++ {
		c := r.at(year, month, day+i)
		if allowed[c.Weekday()] && c.After(ref) {
			return c
		}
	}
	// Unreachable with a non-empty allowed set.
	return r.at(year, month, day+7)
}

func (r Recurrence) nextMonthly(ref time.Time) time.Time {
	local := ref.In(r.Location)
	year, month, _ := local.Date()

	for i := 0; i < 14; i++ {
		y, m := normalizeMonth(year, int(month)+i)
		day := r.DayOfMonth
		if last := daysIn(y, m); day > last {
			day = last
		}
		c := r.at(y, m, day)
		if c.After(ref) {
			return c
		}
	}
	return r.at(year, month+12, r.DayOfMonth)
}

func normalizeMonth(year, month int) (int, time.Month) {
	for month > 12 {
		month -= 12
		year++
	}
	return year, time.Month(month)
}

// daysIn returns the number of days in a month.
func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
