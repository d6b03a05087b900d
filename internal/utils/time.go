package utils

import (
	"fmt"
	"time"
)

// OperationalZone is the fixed offset used for all business-day arithmetic:
// scheduling cutoffs, competence dates and settlement due dates. Payments are
// reconciled against an ERP that operates in UTC-3 year round.
var OperationalZone = time.FixedZone("UTC-3", -3*60*60)

// NowOperational returns the current time expressed in the operational zone.
func NowOperational() time.Time {
	return time.Now().In(OperationalZone)
}

// TodayOperational returns midnight of the current business day in the
// operational zone.
func TodayOperational() time.Time {
	return TruncateToDay(NowOperational())
}

// TruncateToDay drops the clock component of t, preserving its location.
func TruncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// IsFirstDayOfMonth reports whether t falls on the first calendar day of its
// month in the operational zone.
func IsFirstDayOfMonth(t time.Time) bool {
	return t.In(OperationalZone).Day() == 1
}

// PreviousMonthRange returns the first and last instants of the month before
// the one containing t, in the operational zone. The end bound is exclusive.
func PreviousMonthRange(t time.Time) (start, end time.Time) {
	op := t.In(OperationalZone)
	end = time.Date(op.Year(), op.Month(), 1, 0, 0, 0, 0, OperationalZone)
	start = end.AddDate(0, -1, 0)
	return start, end
}

// ParseBRDate parses a DD-MM-YYYY date, with "/" accepted as an alternative
// separator, into midnight of that day in the operational zone.
func ParseBRDate(value string) (time.Time, error) {
	for _, layout := range []string{"02-01-2006", "02/01/2006"} {
		if t, err := time.ParseInLocation(layout, value, OperationalZone); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q: expected DD-MM-YYYY", value)
}

// FormatBRDate renders t as DD-MM-YYYY in the operational zone.
func FormatBRDate(t time.Time) string {
	return t.In(OperationalZone).Format("02-01-2006")
}

// FormatISODate renders t as YYYY-MM-DD in the operational zone.
func FormatISODate(t time.Time) string {
	return t.In(OperationalZone).Format("2006-01-02")
}
