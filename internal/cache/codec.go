package cache

import (
	"fmt"
	"sort"
	"time"

	json "github.com/goccy/go-json"

	"github.com/julianstephens/habitgarden/internal/models"
)

// habitEntry is one element of the persisted habit list. The substrate only
// stores strings, so the habit map travels as an ordered key/value list.
type habitEntry struct {
	Key   string             `json:"key"`
	Value models.HabitRecord `json:"value"`
}

type wireEnvelope struct {
	Version    int                       `json:"version"`
	Revision   int64                     `json:"revision"`
	LastSynced *time.Time                `json:"last_synced,omitempty"`
	Habits     []habitEntry              `json:"habits"`
	Queue      []models.PendingOperation `json:"queue"`
}

func encodeEnvelope(env *models.Envelope) (string, error) {
	w := wireEnvelope{
		Version:    env.Version,
		Revision:   env.Revision,
		LastSynced: env.LastSynced,
		Habits:     make([]habitEntry, 0, len(env.Habits)),
		Queue:      env.Queue,
	}
	for id, rec := range env.Habits {
		w.Habits = append(w.Habits, habitEntry{Key: id, Value: rec})
	}
	sort.Slice(w.Habits, func(i, j int) bool { return w.Habits[i].Key < w.Habits[j].Key })
	if w.Queue == nil {
		w.Queue = []models.PendingOperation{}
	}

	data, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("failed to encode envelope: %w", err)
	}
	return string(data), nil
}

func decodeEnvelope(raw string) (*models.Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}

	env := models.NewEnvelope(w.Version)
	env.Revision = w.Revision
	env.LastSynced = w.LastSynced
	for _, e := range w.Habits {
		if e.Key == "" {
			return nil, fmt.Errorf("envelope contains a habit with an empty key")
		}
		rec := e.Value
		rec.Completions = models.NewDaySet(rec.Completions...)
		env.Habits[e.Key] = rec
	}
	if w.Queue != nil {
		env.Queue = w.Queue
	}
	return env, nil
}
