package models

import (
	"sort"
	"time"

	"github.com/julianstephens/habitgarden/internal/utils"
)

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	}
	return false
}

// Plant is the companion variant that grows alongside a habit
type Plant string

const (
	PlantFern      Plant = "fern"
	PlantCactus    Plant = "cactus"
	PlantSunflower Plant = "sunflower"
	PlantBonsai    Plant = "bonsai"
	PlantSucculent Plant = "succulent"
)

func (p Plant) Valid() bool {
	switch p {
	case PlantFern, PlantCactus, PlantSunflower, PlantBonsai, PlantSucculent:
		return true
	}
	return false
}

// Habit is the remote-authoritative habit row
type Habit struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Frequency   Frequency `json:"frequency"`
	Plant       Plant     `json:"plant"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Completion is a single remote completion row
type Completion struct {
	HabitID string `json:"habit_id"`
	Day     string `json:"day"` // YYYY-MM-DD format
}

// HabitRecord is the cached view of a habit: the habit itself, its completion
// days and the streaks derived from them.
type HabitRecord struct {
	Habit         Habit  `json:"habit"`
	Completions   DaySet `json:"completions"`
	CurrentStreak int    `json:"current_streak"`
	LongestStreak int    `json:"longest_streak"`
}

// Clone returns a copy that shares no slices with r
func (r HabitRecord) Clone() HabitRecord {
	r.Completions = r.Completions.Clone()
	return r
}

// WithStreaks returns r with both streaks recomputed from its completions
func (r HabitRecord) WithStreaks(today utils.CalendarDay) HabitRecord {
	r = r.Clone()
	r.CurrentStreak, r.LongestStreak = utils.Streaks(r.Completions, today)
	return r
}

// HabitInput carries the user-supplied fields of a new habit
type HabitInput struct {
	Title       string
	Description string
	Frequency   Frequency
	Plant       Plant
}

// HabitPatch carries optional edits; nil fields are left untouched
type HabitPatch struct {
	Title       *string
	Description *string
	Frequency   *Frequency
	Plant       *Plant
}

// DaySet is a sorted, duplicate-free list of YYYY-MM-DD days. All methods
// return new sets and never modify the receiver.
type DaySet []string

// NewDaySet builds a normalized set from arbitrary input
func NewDaySet(days ...string) DaySet {
	seen := make(map[string]struct{}, len(days))
	out := make(DaySet, 0, len(days))
	for _, d := range days {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	// Canonical YYYY-MM-DD strings sort chronologically
	sort.Strings(out)
	return out
}

func (s DaySet) Contains(day string) bool {
	i := sort.SearchStrings(s, day)
	return i < len(s) && s[i] == day
}

func (s DaySet) With(day string) DaySet {
	return NewDaySet(append(s.Clone(), day)...)
}

func (s DaySet) Without(day string) DaySet {
	out := make(DaySet, 0, len(s))
	for _, d := range s {
		if d != day {
			out = append(out, d)
		}
	}
	return out
}

func (s DaySet) Union(other DaySet) DaySet {
	merged := make([]string, 0, len(s)+len(other))
	merged = append(merged, s...)
	merged = append(merged, other...)
	return NewDaySet(merged...)
}

func (s DaySet) Clone() DaySet {
	if s == nil {
		return DaySet{}
	}
	out := make(DaySet, len(s))
	copy(out, s)
	return out
}
