// Package schedule turns a recurrence description into concrete run instants.
// Everything here is pure: no clocks, no I/O. Callers pass "now" explicitly.
package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Frequency is how often a connection syncs.
type Frequency string

const (
	Hourly  Frequency = "hourly"
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

// ParseFrequency validates a raw frequency value.
func ParseFrequency(raw string) (Frequency, error) {
	f := Frequency(raw)
	switch f {
	case Hourly, Daily, Weekly, Monthly:
		return f, nil
	}
	return "", fmt.Errorf("unknown frequency %q", raw)
}

// Weekday is an ISO-8601 weekday, Monday=1 .. Sunday=7.
type Weekday int

// timeWeekday converts to the stdlib's Sunday=0 numbering.
func (d Weekday) timeWeekday() time.Weekday {
	if d == 7 {
		return time.Sunday
	}
	return time.Weekday(d)
}

// Recurrence is a validated recurrence description. Raw user input
// ("1,3,5" day lists, "HH:MM" strings, zone names) is parsed exactly once,
// at the API boundary, into this value.
type Recurrence struct {
	Frequency Frequency
	// Hour and Minute are the local time-of-day for daily/weekly/monthly runs.
	Hour   int
	Minute int
	// Location is the connection's configured timezone.
	Location *time.Location
	// DaysOfWeek applies to weekly recurrences, sorted ascending, Mon=1..Sun=7.
	// Empty means "same weekday as the reference time".
	DaysOfWeek []Weekday
	// DayOfMonth applies to monthly recurrences, 1..31. Values past the end
	// of a target month clamp to that month's last day.
	DayOfMonth int
}

// ParseRecurrence builds a Recurrence from stored/user-supplied parts.
// timeOfDay is "HH:MM"; daysOfWeek is a comma-separated ISO weekday list
// such as "1,3,5" (empty allowed); dayOfMonth is 0 when unset.
func ParseRecurrence(frequency, timeOfDay, timezone, daysOfWeek string, dayOfMonth int) (Recurrence, error) {
	freq, err := ParseFrequency(frequency)
	if err != nil {
		return Recurrence{}, err
	}

	hour, minute, err := parseTimeOfDay(timeOfDay)
	if err != nil {
		return Recurrence{}, err
	}

	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return Recurrence{}, fmt.Errorf("unknown timezone %q: %w", timezone, err)
	}

	days, err := parseDaysOfWeek(daysOfWeek)
	if err != nil {
		return Recurrence{}, err
	}

	if freq == Monthly {
		if dayOfMonth < 1 || dayOfMonth > 31 {
			return Recurrence{}, fmt.Errorf("day of month %d out of range 1..31", dayOfMonth)
		}
	}

	return Recurrence{
		Frequency:  freq,
		Hour:       hour,
		Minute:     minute,
		Location:   loc,
		DaysOfWeek: days,
		DayOfMonth: dayOfMonth,
	}, nil
}

// TimeOfDay renders the recurrence's local run time as "HH:MM".
func (r Recurrence) TimeOfDay() string {
	return fmt.Sprintf("%02d:%02d", r.Hour, r.Minute)
}

// Timezone returns the IANA zone name.
func (r Recurrence) Timezone() string {
	if r.Location == nil {
		return "UTC"
	}
	return r.Location.String()
}

// DaysOfWeekString renders the weekly day set as "1,3,5". Empty when unset.
func (r Recurrence) DaysOfWeekString() string {
	if len(r.DaysOfWeek) == 0 {
		return ""
	}
	parts := make([]string, len(r.DaysOfWeek))
	for i, d := range r.DaysOfWeek {
		parts[i] = strconv.Itoa(int(d))
	}
	return strings.Join(parts, ",")
}

func parseTimeOfDay(raw string) (hour, minute int, err error) {
	if raw == "" {
		// Default run time for scheduled syncs.
		return 2, 0, nil
	}
	parts := strings.Split(raw, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("time of day %q is not HH:MM", raw)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("time of day %q has invalid hour", raw)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time of day %q has invalid minute", raw)
	}
	return hour, minute, nil
}

func parseDaysOfWeek(raw string) ([]Weekday, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	seen := make(map[Weekday]bool)
	var days []Weekday
	for _, tok := range strings.Split(raw, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(tok))
		if err != nil {
			return nil, fmt.Errorf("invalid weekday %q", tok)
		}
		if n < 1 || n > 7 {
			return nil, fmt.Errorf("weekday %d out of range 1..7 (Mon=1)", n)
		}
		d := Weekday(n)
		if !seen[d] {
			seen[d] = true
			days = append(days, d)
		}
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	return days, nil
}
