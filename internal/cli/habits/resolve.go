package habits

import (
	"fmt"
	"strings"

	"github.com/julianstephens/habitgarden/internal/models"
)

// resolve finds a habit by id, unique id prefix or case-insensitive title
func resolve(records []models.HabitRecord, ref string) (models.HabitRecord, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return models.HabitRecord{}, fmt.Errorf("habit reference cannot be empty")
	}

	var byPrefix, byTitle []models.HabitRecord
	for _, r := range records {
		if r.Habit.ID == ref {
			return r, nil
		}
		if strings.HasPrefix(r.Habit.ID, ref) {
			byPrefix = append(byPrefix, r)
		}
		if strings.EqualFold(r.Habit.Title, ref) {
			byTitle = append(byTitle, r)
		}
	}

	switch {
	case len(byTitle) == 1:
		return byTitle[0], nil
	case len(byTitle) > 1:
		return models.HabitRecord{}, fmt.Errorf("%d habits are titled %q, use an id instead", len(byTitle), ref)
	case len(byPrefix) == 1:
		return byPrefix[0], nil
	case len(byPrefix) > 1:
		return models.HabitRecord{}, fmt.Errorf("id prefix %q is ambiguous", ref)
	}
	return models.HabitRecord{}, fmt.Errorf("habit %q not found", ref)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
