package utils

import (
	"fmt"
	"strings"
	"time"
)

// LocalZone selects the machine's zone, so a config copied between machines follows the user
const LocalZone = "Local"

// LoadLocation resolves a configured zone name: empty or "Local", else an IANA identifier
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == LocalZone {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", name, err)
	}
	return loc, nil
}

func ValidateTimezone(name string) bool {
	_, err := LoadLocation(name)
	return err == nil
}

// StartOfDay is local midnight of d in loc. On days where midnight does not
// exist (DST gaps), time.Date moves forward to the first valid instant.
func StartOfDay(d CalendarDay, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// UntilTomorrow is how long until Today(now, loc) changes
func UntilTomorrow(now time.Time, loc *time.Location) time.Duration {
	if loc == nil {
		loc = time.Local
	}
	next := StartOfDay(Today(now, loc).AddDays(1), loc)
	return next.Sub(now)
}
