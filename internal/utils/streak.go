package utils

import "sort"

// CurrentStreak counts consecutive completed days ending at today, or at
// yesterday when today has not been completed yet. Days after today are ignored.
func CurrentStreak(days []CalendarDay, today CalendarDay) int {
	present := make(map[CalendarDay]struct{}, len(days))
	for _, d := range days {
		if d.After(today) {
			continue
		}
		present[d] = struct{}{}
	}

	start := today
	if _, ok := present[today]; !ok {
		start = today.AddDays(-1)
		if _, ok := present[start]; !ok {
			return 0
		}
	}

	streak := 0
	for d := start; ; d = d.AddDays(-1) {
		if _, ok := present[d]; !ok {
			break
		}
		streak++
	}
	return streak
}

// LongestStreak returns the length of the longest run of consecutive days.
func LongestStreak(days []CalendarDay) int {
	sorted := uniqueSorted(days)
	if len(sorted) == 0 {
		return 0
	}

	longest, run := 1, 1
	for i := 1; i < len(sorted); i++ {
		if sorted[i].DaysSince(sorted[i-1]) == 1 {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
	}
	return longest
}

// Streaks parses canonical day strings and returns the current and longest streak.
// Unparsable entries are skipped.
func Streaks(days []string, today CalendarDay) (current, longest int) {
	parsed := ParseDays(days)
	return CurrentStreak(parsed, today), LongestStreak(parsed)
}

// ParseDays parses canonical day strings, dropping any that fail to parse.
func ParseDays(days []string) []CalendarDay {
	parsed := make([]CalendarDay, 0, len(days))
	for _, s := range days {
		d, err := ParseDay(s)
		if err != nil {
			continue
		}
		parsed = append(parsed, d)
	}
	return parsed
}

func uniqueSorted(days []CalendarDay) []CalendarDay {
	seen := make(map[CalendarDay]struct{}, len(days))
	out := make([]CalendarDay, 0, len(days))
	for _, d := range days {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
