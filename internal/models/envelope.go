package models

import "time"

// Envelope is the full cached state: habits, queued operations and sync metadata
type Envelope struct {
	Version    int
	Revision   int64
	LastSynced *time.Time
	Habits     map[string]HabitRecord
	Queue      []PendingOperation
}

// NewEnvelope returns an empty envelope for the given schema version
func NewEnvelope(version int) *Envelope {
	return &Envelope{
		Version: version,
		Habits:  make(map[string]HabitRecord),
		Queue:   []PendingOperation{},
	}
}

// Clone returns a deep copy of e
func (e *Envelope) Clone() *Envelope {
	if e == nil {
		return nil
	}
	out := &Envelope{
		Version:  e.Version,
		Revision: e.Revision,
		Habits:   make(map[string]HabitRecord, len(e.Habits)),
		Queue:    make([]PendingOperation, len(e.Queue)),
	}
	if e.LastSynced != nil {
		t := *e.LastSynced
		out.LastSynced = &t
	}
	for id, rec := range e.Habits {
		out.Habits[id] = rec.Clone()
	}
	copy(out.Queue, e.Queue)
	return out
}
