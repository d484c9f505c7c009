package utils

import (
	"fmt"
	"time"

	"github.com/julianstephens/habitgarden/internal/constants"
)

// CalendarDay identifies a date by year/month/day only, without time-of-day or zone.
type CalendarDay struct {
	Year  int
	Month time.Month
	Day   int
}

// NormalizeDay returns the calendar day of t in t's own location. Callers pick the
// zone (usually the user's configured timezone) with t.In(loc) before normalizing.
func NormalizeDay(t time.Time) CalendarDay {
	y, m, d := t.Date()
	return CalendarDay{Year: y, Month: m, Day: d}
}

// Today returns the calendar day of now in loc.
func Today(now time.Time, loc *time.Location) CalendarDay {
	if loc == nil {
		loc = time.Local
	}
	return NormalizeDay(now.In(loc))
}

// FormatDay renders d in the canonical YYYY-MM-DD form.
func FormatDay(d CalendarDay) string {
	return d.anchor().Format(constants.DateFormat)
}

// ParseDay parses a canonical YYYY-MM-DD string.
func ParseDay(s string) (CalendarDay, error) {
	t, err := time.Parse(constants.DateFormat, s)
	if err != nil {
		return CalendarDay{}, fmt.Errorf("invalid day %q: %w", s, err)
	}
	return NormalizeDay(t), nil
}

// ValidateDayFormat reports whether s is a canonical calendar day.
func ValidateDayFormat(s string) bool {
	_, err := ParseDay(s)
	return err == nil
}

// anchor pins the day to noon UTC so that day arithmetic never crosses a DST boundary.
func (d CalendarDay) anchor() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 12, 0, 0, 0, time.UTC)
}

func (d CalendarDay) String() string {
	return FormatDay(d)
}

// AddDays returns the day n calendar days after d (n may be negative).
func (d CalendarDay) AddDays(n int) CalendarDay {
	return NormalizeDay(d.anchor().AddDate(0, 0, n))
}

// DaysSince returns the number of calendar days from other to d.
func (d CalendarDay) DaysSince(other CalendarDay) int {
	return int(d.anchor().Sub(other.anchor()).Round(time.Hour).Hours() / 24)
}

func (d CalendarDay) Before(other CalendarDay) bool {
	return d.DaysSince(other) < 0
}

func (d CalendarDay) After(other CalendarDay) bool {
	return d.DaysSince(other) > 0
}

func (d CalendarDay) IsZero() bool {
	return d == CalendarDay{}
}
