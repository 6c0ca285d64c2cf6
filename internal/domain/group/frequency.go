package group

import "time"

// Frequency is how often a group runs a cycle.
type Frequency string

const (
	Daily    Frequency = "daily"
	Weekly   Frequency = "weekly"
	BiWeekly Frequency = "biweekly"
	Monthly  Frequency = "monthly"
)

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	switch f {
	case Daily, Weekly, BiWeekly, Monthly:
		return true
	}
	return false
}

// Next returns the next cycle date after d. All arithmetic is in UTC.
// Monthly advances by one calendar month with the day-of-month clamped to
// the target month's length (Jan 31 -> Feb 28, not Mar 3).
func (f Frequency) Next(d time.Time) time.Time {
	d = d.UTC()
	switch f {
	case Daily:
		return d.AddDate(0, 0, 1)
	case Weekly:
		return d.AddDate(0, 0, 7)
	case BiWeekly:
		return d.AddDate(0, 0, 14)
	case Monthly:
		return addMonthClamped(d)
	default:
		return d.AddDate(0, 0, 7)
	}
}

func addMonthClamped(d time.Time) time.Time {
	year, month, day := d.Date()
	first := time.Date(year, month+1, 1, d.Hour(), d.Minute(), d.Second(), d.Nanosecond(), time.UTC)
	last := daysIn(first.Year(), first.Month())
	if day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, d.Hour(), d.Minute(), d.Second(), d.Nanosecond(), time.UTC)
}

func daysIn(year int, month time.Month) int {
	// Day 0 of the next month is the last day of this month.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
