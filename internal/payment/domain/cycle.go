package domain

import "time"

// ResolveCycleDueDate maps a point in time onto the cooperative's two monthly
// due dates. Days 1 through 9 bill on the 10th of the same month, days 10
// through 19 on the 20th, and from the 20th onward the charge rolls into the
// 10th of the next month. The result is a date at UTC midnight.
func ResolveCycleDueDate(now time.Time) time.Time {
	now = now.UTC()
	year, month, day := now.Date()

	switch {
	case day < 10:
		return time.Date(year, month, 10, 0, 0, 0, 0, time.UTC)
	case day < 20:
		return time.Date(year, month, 20, 0, 0, 0, 0, time.UTC)
	default:
		// time.Date normalizes month 13 into January of the next year
		return time.Date(year, month+1, 10, 0, 0, 0, 0, time.UTC)
	}
}

// NextDueDate returns the next occurrence of the member's billing day, today
// included. Days past the end of a short month clamp to its last day, so a
// billing day of 31 falls due on February 28th. The result is a date at UTC
// midnight.
func NextDueDate(now time.Time, billingDay int) time.Time {
	if billingDay < 1 {
		billingDay = 1
	}
	if billingDay > 31 {
		billingDay = 31
	}

	now = now.UTC()
	year, month, day := now.Date()

	due := dateClamped(year, month, billingDay)
	if day > due.Day() {
		due = dateClamped(year, month+1, billingDay)
	}
	return due
}

func dateClamped(year int, month time.Month, day int) time.Time {
	// day zero of the next month is the last day of this one
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
