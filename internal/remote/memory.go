package remote

import (
	"context"
	"sort"
	"sync"

	"github.com/julianstephens/habitgarden/internal/errors"
	"github.com/julianstephens/habitgarden/internal/models"
)

// MemoryStore is an in-process remote. It records calls and can be made to
// fail, so the sync layers can be driven through their offline and error
// paths without a database.
type MemoryStore struct {
	mu          sync.Mutex
	habits      map[string]models.Habit
	completions map[string]map[string]struct{}
	failErr     error
	calls       map[string]int
	hook        func(method string)
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		habits:      make(map[string]models.Habit),
		completions: make(map[string]map[string]struct{}),
		calls:       make(map[string]int),
	}
}

// FailWith makes every call after it return err until FailWith(nil)
func (m *MemoryStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// OnCall installs a hook that runs at the start of every call, before the
// store lock is taken.
func (m *MemoryStore) OnCall(hook func(method string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = hook
}

// Calls returns how many times method has been invoked
func (m *MemoryStore) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// Seed inserts a habit and its completion days directly
func (m *MemoryStore) Seed(h models.Habit, days ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.habits[h.ID] = h
	set := m.completions[h.ID]
	if set == nil {
		set = make(map[string]struct{})
		m.completions[h.ID] = set
	}
	for _, d := range days {
		set[d] = struct{}{}
	}
}

// Days returns the sorted completion days stored for habitID
func (m *MemoryStore) Days(habitID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.completions[habitID]))
	for d := range m.completions[habitID] {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Habit returns the stored habit with the given id
func (m *MemoryStore) Habit(id string) (models.Habit, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.habits[id]
	return h, ok
}

func (m *MemoryStore) begin(ctx context.Context, method string) error {
	m.mu.Lock()
	hook := m.hook
	m.mu.Unlock()
	if hook != nil {
		hook(method)
	}

	m.mu.Lock()
	m.calls[method]++
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.failErr
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	err := m.begin(ctx, "Ping")
	m.mu.Unlock()
	return err
}

func (m *MemoryStore) ListHabits(ctx context.Context, userID string) ([]models.Habit, error) {
	err := m.begin(ctx, "ListHabits")
	defer m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var out []models.Habit
	for _, h := range m.habits {
		if h.UserID == userID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) ListCompletions(ctx context.Context, habitIDs []string) ([]models.Completion, error) {
	err := m.begin(ctx, "ListCompletions")
	defer m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var out []models.Completion
	for _, id := range habitIDs {
		for d := range m.completions[id] {
			out = append(out, models.Completion{HabitID: id, Day: d})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].HabitID != out[j].HabitID {
			return out[i].HabitID < out[j].HabitID
		}
		return out[i].Day < out[j].Day
	})
	return out, nil
}

func (m *MemoryStore) InsertHabit(ctx context.Context, h models.Habit) error {
	err := m.begin(ctx, "InsertHabit")
	defer m.mu.Unlock()
	if err != nil {
		return err
	}
	m.habits[h.ID] = h
	return nil
}

func (m *MemoryStore) UpdateHabit(ctx context.Context, h models.Habit) error {
	err := m.begin(ctx, "UpdateHabit")
	defer m.mu.Unlock()
	if err != nil {
		return err
	}
	existing, ok := m.habits[h.ID]
	if !ok || existing.UserID != h.UserID {
		return errors.ErrHabitNotFound
	}
	h.CreatedAt = existing.CreatedAt
	m.habits[h.ID] = h
	return nil
}

func (m *MemoryStore) DeleteHabit(ctx context.Context, userID, habitID string) error {
	err := m.begin(ctx, "DeleteHabit")
	defer m.mu.Unlock()
	if err != nil {
		return err
	}
	if h, ok := m.habits[habitID]; ok && h.UserID == userID {
		delete(m.habits, habitID)
		delete(m.completions, habitID)
	}
	return nil
}

func (m *MemoryStore) InsertCompletion(ctx context.Context, habitID, day string) error {
	err := m.begin(ctx, "InsertCompletion")
	defer m.mu.Unlock()
	if err != nil {
		return err
	}
	set := m.completions[habitID]
	if set == nil {
		set = make(map[string]struct{})
		m.completions[habitID] = set
	}
	set[day] = struct{}{}
	return nil
}

func (m *MemoryStore) DeleteCompletion(ctx context.Context, habitID, day string) error {
	err := m.begin(ctx, "DeleteCompletion")
	defer m.mu.Unlock()
	if err != nil {
		return err
	}
	delete(m.completions[habitID], day)
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
