// Package timezone pins attendance timestamps to the fixed UTC+7 civil offset
// the deployment runs in, independent of the host's local zone.
package timezone

import (
	"fmt"
	"strings"
	"time"
)

// Location is the fixed UTC+7 offset (Indochina Time, no DST).
var Location = time.FixedZone("GMT+7", 7*60*60)

const dateLayout = "2006-01-02"

// Now returns the current time in UTC+7.
func Now() time.Time {
	return time.Now().In(Location)
}

// In converts t to UTC+7.
func In(t time.Time) time.Time {
	return t.In(Location)
}

// StartOfDay returns midnight of t's civil day in UTC+7.
func StartOfDay(t time.Time) time.Time {
	t = t.In(Location)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, Location)
}

// StartOfWeek returns midnight of the Monday of t's week in UTC+7.
func StartOfWeek(t time.Time) time.Time {
	day := StartOfDay(t)
	offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
	return day.AddDate(0, 0, -offset)
}

// StartOfMonth returns midnight of the first day of t's month in UTC+7.
func StartOfMonth(t time.Time) time.Time {
	t = t.In(Location)
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, Location)
}

// ParseStart parses a lower time bound. A bare YYYY-MM-DD date is midnight UTC+7;
// anything else must be RFC3339 (a trailing Z is accepted).
func ParseStart(s string) (time.Time, error) {
	if len(s) == len(dateLayout) {
		t, err := time.ParseInLocation(dateLayout, s, Location)
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing date %q: %w", s, err)
		}
		return t, nil
	}
	return parseRFC3339(s)
}

// ParseEnd parses an upper time bound. A bare YYYY-MM-DD date covers the whole
// day, ending at 23:59:59.999999999 UTC+7.
func ParseEnd(s string) (time.Time, error) {
	if len(s) == len(dateLayout) {
		t, err := time.ParseInLocation(dateLayout, s, Location)
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing date %q: %w", s, err)
		}
		return t.AddDate(0, 0, 1).Add(-time.Nanosecond), nil
	}
	return parseRFC3339(s)
}

func parseRFC3339(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

// TimestampLayout is RFC3339 with microseconds; the offset is always written
// out as +07:00 for times in Location.
const TimestampLayout = "2006-01-02T15:04:05.999999Z07:00"

// Format renders t in UTC+7 using TimestampLayout.
func Format(t time.Time) string {
	return t.In(Location).Format(TimestampLayout)
}
