package timeutil

import "time"

// Persistence is always UTC; Europe/Moscow is used only when formatting dates
// for users.
var moscow = mustLoadMoscow()

func mustLoadMoscow() *time.Location {
	loc, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		// Fall back to the fixed offset; Moscow has no DST since 2014.
		return time.FixedZone("MSK", 3*60*60)
	}
	return loc
}

// Now returns the current time in UTC
// Always use this instead of time.Now() to ensure timezone consistency
func Now() time.Time {
	return time.Now().UTC()
}

// ToUTC converts a time.Time to UTC if it isn't already
func ToUTC(t time.Time) time.Time {
	return t.UTC()
}

// StartOfDay returns the start of the day (midnight) in UTC
func StartOfDay(t time.Time) time.Time {
	year, month, day := t.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// FormatMoscow renders a timestamp in the display timezone, e.g.
// "02.01.2006 15:04".
func FormatMoscow(t time.Time) string {
	return t.In(moscow).Format("02.01.2006 15:04")
}

// MaxTime returns the later of two timestamps
func MaxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
