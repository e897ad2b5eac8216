package payout

import "time"

// CycleFor maps a moment to its withdrawal cycle date: the 1st for the
// first half of the month, the 16th for the second. Cycle dates are UTC
// so a run started near midnight lands in one cycle regardless of the
// scheduler's zone.
func CycleFor(t time.Time) time.Time {
	t = t.UTC()
	day := 1
	if t.Day() >= 16 {
		day = 16
	}
	return time.Date(t.Year(), t.Month(), day, 0, 0, 0, 0, time.UTC)
}

// NextCycleAfter returns the cycle a new intent enrolls in: the upcoming
// cycle date strictly after now.
func NextCycleAfter(t time.Time) time.Time {
	t = t.UTC()
	if t.Day() < 16 {
		return time.Date(t.Year(), t.Month(), 16, 0, 0, 0, 0, time.UTC)
	}
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}
