// Package cache holds the in-memory habit envelope and mirrors it into a
// persistence substrate. The in-memory copy is authoritative for the life of
// the process; substrate failures are logged and never returned.
package cache

import (
	"context"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/julianstephens/habitgarden/internal/constants"
	"github.com/julianstephens/habitgarden/internal/kv"
	"github.com/julianstephens/habitgarden/internal/logger"
	"github.com/julianstephens/habitgarden/internal/metrics"
	"github.com/julianstephens/habitgarden/internal/models"
)

type Option func(*Store)

// WithKey overrides the substrate key the envelope is stored under
func WithKey(key string) Option {
	return func(s *Store) { s.key = key }
}

// WithVersion overrides the schema version written and accepted on load
func WithVersion(version int) Option {
	return func(s *Store) { s.version = version }
}

// Store is the local habit cache. All mutations are serialized by a mutex and
// persisted before the mutating call returns.
type Store struct {
	sub     kv.Substrate
	key     string
	version int

	mu  sync.Mutex
	env *models.Envelope

	// Revision of the substrate copy our in-memory state is based on, and the
	// local changes made since then. Used to merge writes from other processes.
	baseRevision int64
	touched      map[string]struct{}
	removed      map[string]struct{}
	droppedOps   map[string]struct{}
	// Days we took off a habit's completion set since baseRevision
	removedDays map[string]models.DaySet
}

func New(sub kv.Substrate, opts ...Option) *Store {
	s := &Store{
		sub:     sub,
		key:     constants.EnvelopeKey,
		version: constants.CacheSchemaVersion,
		env:     models.NewEnvelope(constants.CacheSchemaVersion),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.env.Version = s.version
	s.resetDirty()
	return s
}

func (s *Store) resetDirty() {
	s.touched = make(map[string]struct{})
	s.removed = make(map[string]struct{})
	s.droppedOps = make(map[string]struct{})
	s.removedDays = make(map[string]models.DaySet)
}

// read fetches and decodes the persisted envelope. ok is false when it is
// missing, unreadable, corrupt or written for another schema version.
func (s *Store) read(ctx context.Context) (*models.Envelope, bool) {
	values, err := s.sub.Get(ctx, s.key)
	if err != nil {
		logger.Warn("Failed to read cache envelope", "key", s.key, "error", err)
		return nil, false
	}
	raw, ok := values[s.key]
	if !ok {
		return nil, false
	}

	env, err := decodeEnvelope(raw)
	if err != nil {
		logger.Warn("Discarding corrupt cache envelope", "key", s.key, "error", err)
		return nil, false
	}
	if env.Version != s.version {
		logger.Info("Cache envelope version mismatch, starting cold", "found", env.Version, "expected", s.version)
		return nil, false
	}
	return env, true
}

// Load replaces the in-memory state with the persisted envelope. When none is
// usable the state is reset to an empty envelope and ok is false, which tells
// the caller a full rebuild from the remote store is needed.
func (s *Store) Load(ctx context.Context) (*models.Envelope, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.resetDirty()
	env, ok := s.read(ctx)
	if !ok {
		s.env = models.NewEnvelope(s.version)
		s.baseRevision = 0
		return s.env.Clone(), false
	}

	s.env = env
	s.baseRevision = env.Revision
	logger.Debug("Loaded cache envelope", "habits", len(env.Habits), "queue", len(env.Queue), "revision", env.Revision)
	return env.Clone(), true
}

// Save writes the current in-memory envelope. Errors are logged and swallowed.
func (s *Store) Save(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.save(ctx)
}

func (s *Store) save(ctx context.Context) {
	if stored, ok := s.read(ctx); ok && stored.Revision > s.baseRevision {
		s.merge(stored)
		logger.Info("Merged cache envelope written by another process", "theirs", stored.Revision, "base", s.baseRevision)
		metrics.IncCacheMerge()
		if stored.Revision > s.env.Revision {
			s.env.Revision = stored.Revision
		}
	}

	s.env.Revision++
	raw, err := encodeEnvelope(s.env)
	if err == nil {
		err = s.sub.Set(ctx, s.key, raw)
	}
	metrics.ObserveCacheSave(err)
	if err != nil {
		logger.Warn("Failed to persist cache envelope, keeping in-memory state", "key", s.key, "error", err)
		return
	}

	s.baseRevision = s.env.Revision
	s.resetDirty()
}

// merge folds an envelope written by another process into ours. Habits and
// operations we changed since our base revision keep our version, except that
// their completions are unioned into ours minus the days we removed;
// everything else is taken from theirs. Caller holds s.mu.
func (s *Store) merge(theirs *models.Envelope) {
	for id, rec := range theirs.Habits {
		if _, gone := s.removed[id]; gone {
			continue
		}
		ours, mine := s.env.Habits[id]
		if _, touched := s.touched[id]; !touched || !mine {
			s.env.Habits[id] = rec.Clone()
			continue
		}
		days := ours.Completions
		for _, d := range rec.Completions {
			if !days.Contains(d) && !s.removedDays[id].Contains(d) {
				days = days.With(d)
			}
		}
		ours.Completions = days
		s.env.Habits[id] = ours
	}

	ourOps := make(map[string]int, len(s.env.Queue))
	for i, op := range s.env.Queue {
		ourOps[op.ID] = i
	}
	for _, op := range theirs.Queue {
		if _, dropped := s.droppedOps[op.ID]; dropped {
			continue
		}
		if i, ok := ourOps[op.ID]; ok {
			if op.UpdatedAt.After(s.env.Queue[i].UpdatedAt) {
				s.env.Queue[i] = op
			}
			continue
		}
		s.env.Queue = append(s.env.Queue, op)
	}
	sort.SliceStable(s.env.Queue, func(i, j int) bool {
		return s.env.Queue[i].CreatedAt.Before(s.env.Queue[j].CreatedAt)
	})

	if theirs.LastSynced != nil && (s.env.LastSynced == nil || theirs.LastSynced.After(*s.env.LastSynced)) {
		t := *theirs.LastSynced
		s.env.LastSynced = &t
	}
}

// Refresh merges in an envelope written by another process, if there is one.
// It reports whether the in-memory state changed.
func (s *Store) Refresh(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.read(ctx)
	if !ok || stored.Revision <= s.baseRevision {
		return false
	}

	before := s.env.Clone()
	s.merge(stored)
	s.baseRevision = stored.Revision
	if stored.Revision > s.env.Revision {
		s.env.Revision = stored.Revision
	}
	metrics.IncCacheMerge()

	before.Revision = s.env.Revision
	changed := !reflect.DeepEqual(before, s.env)
	logger.Debug("Refreshed cache from substrate", "revision", stored.Revision, "changed", changed)
	return changed
}

// Mutate applies fn to a copy of the envelope. If fn returns nil the copy
// replaces the current state and is persisted; otherwise nothing changes and
// fn's error is returned.
func (s *Store) Mutate(ctx context.Context, fn func(env *models.Envelope) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.env.Clone()
	if err := fn(next); err != nil {
		return err
	}
	if next.Habits == nil {
		next.Habits = make(map[string]models.HabitRecord)
	}
	s.track(s.env, next)
	s.env = next
	s.save(ctx)
	return nil
}

// track records which habits and operations changed between prev and next
func (s *Store) track(prev, next *models.Envelope) {
	for id, rec := range next.Habits {
		if old, ok := prev.Habits[id]; !ok || !reflect.DeepEqual(old, rec) {
			s.touched[id] = struct{}{}
			delete(s.removed, id)
			s.trackDays(id, old.Completions, rec.Completions)
		}
	}
	for id := range prev.Habits {
		if _, ok := next.Habits[id]; !ok {
			s.removed[id] = struct{}{}
			delete(s.touched, id)
		}
	}

	kept := make(map[string]struct{}, len(next.Queue))
	for _, op := range next.Queue {
		kept[op.ID] = struct{}{}
	}
	for _, op := range prev.Queue {
		if _, ok := kept[op.ID]; !ok {
			s.droppedOps[op.ID] = struct{}{}
		}
	}
}

// trackDays remembers days dropped from a habit so a merge does not bring
// them back, and forgets days that were added again
func (s *Store) trackDays(id string, prev, next models.DaySet) {
	gone := s.removedDays[id]
	for _, d := range prev {
		if !next.Contains(d) {
			gone = gone.With(d)
		}
	}
	for _, d := range next {
		gone = gone.Without(d)
	}
	if len(gone) == 0 {
		delete(s.removedDays, id)
		return
	}
	s.removedDays[id] = gone
}

func (s *Store) Upsert(ctx context.Context, id string, rec models.HabitRecord) {
	_ = s.Mutate(ctx, func(env *models.Envelope) error {
		env.Habits[id] = rec.Clone()
		return nil
	})
}

func (s *Store) Remove(ctx context.Context, id string) {
	_ = s.Mutate(ctx, func(env *models.Envelope) error {
		delete(env.Habits, id)
		return nil
	})
}

func (s *Store) Get(id string) (models.HabitRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.env.Habits[id]
	if !ok {
		return models.HabitRecord{}, false
	}
	return rec.Clone(), true
}

// ListAll returns every cached habit, oldest first
func (s *Store) ListAll() []models.HabitRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.HabitRecord, 0, len(s.env.Habits))
	for _, rec := range s.env.Habits {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Habit, out[j].Habit
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out
}

// Queue returns a copy of the pending operation queue in FIFO order
func (s *Store) Queue() []models.PendingOperation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.PendingOperation, len(s.env.Queue))
	copy(out, s.env.Queue)
	return out
}

func (s *Store) LastSynced() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.env.LastSynced == nil {
		return nil
	}
	t := *s.env.LastSynced
	return &t
}

// Snapshot returns a deep copy of the whole envelope
func (s *Store) Snapshot() *models.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.env.Clone()
}
