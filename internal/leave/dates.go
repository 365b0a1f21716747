package leave

import (
	"regexp"
	"time"
)

var dateFormat = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// DateRange is an inclusive range of YYYY-MM-DD dates. The fixed-width format
// makes string comparison equal to calendar comparison.
type DateRange struct {
	Start string
	End   string
}

// Overlaps reports whether the two ranges share at least one calendar day.
func (a DateRange) Overlaps(b DateRange) bool {
	return (a.Start <= b.Start && b.Start <= a.End) ||
		(a.Start <= b.End && b.End <= a.End) ||
		(b.Start <= a.Start && a.Start <= b.End)
}

// ParseDate parses a strict YYYY-MM-DD date. Shape and calendar validity are
// reported separately so callers can keep the documented validation order.
func ParseDate(s string) (time.Time, error) {
	if !dateFormat.MatchString(s) {
		return time.Time{}, ErrInvalidDateFormat
	}
	return parseCalendarDate(s)
}

func parseCalendarDate(s string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, ErrInvalidDateFormat
	}
	return t, nil
}

// InclusiveDays counts the calendar days from start to end, both included.
func InclusiveDays(start, end time.Time) int {
	return int(end.Sub(start).Hours()/24) + 1
}
