package reconciler

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/julianstephens/habitgarden/internal/cache"
	"github.com/julianstephens/habitgarden/internal/kv"
	"github.com/julianstephens/habitgarden/internal/models"
	"github.com/julianstephens/habitgarden/internal/queue"
	"github.com/julianstephens/habitgarden/internal/remote"
	"github.com/julianstephens/habitgarden/internal/utils"
)

var (
	now   = time.Date(2024, 7, 10, 18, 0, 0, 0, time.UTC)
	today = utils.NormalizeDay(now)
)

func habit(id, title string) models.Habit {
	return models.Habit{
		ID:        id,
		UserID:    "u1",
		Title:     title,
		Frequency: models.FrequencyDaily,
		Plant:     models.PlantFern,
		CreatedAt: now.Add(-48 * time.Hour),
		UpdatedAt: now.Add(-48 * time.Hour),
	}
}

func setup(t *testing.T) (*Reconciler, *cache.Store, *remote.MemoryStore) {
	t.Helper()
	c := cache.New(kv.NewMemoryStore())
	c.Load(context.Background())
	rs := remote.NewMemoryStore()
	r := New(Options{
		Cache:  c,
		Remote: rs,
		UserID: "u1",
		Today:  func() utils.CalendarDay { return today },
		Now:    func() time.Time { return now },
	})
	return r, c, rs
}

func TestReconcile_ColdStart(t *testing.T) {
	r, c, rs := setup(t)
	rs.Seed(habit("h1", "Stretch"), "2024-07-08", "2024-07-09", "2024-07-10")
	rs.Seed(habit("h2", "Read"))
	other := habit("x", "Not mine")
	other.UserID = "u2"
	rs.Seed(other, "2024-07-10")

	res, err := r.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Added != 2 || res.Updated != 0 || res.Habits != 2 || res.Completions != 3 {
		t.Errorf("unexpected result %+v", res)
	}

	rec, ok := c.Get("h1")
	if !ok {
		t.Fatal("h1 not cached")
	}
	if rec.CurrentStreak != 3 || rec.LongestStreak != 3 {
		t.Errorf("streaks = %d/%d, want 3/3", rec.CurrentStreak, rec.LongestStreak)
	}
	if _, ok := c.Get("x"); ok {
		t.Error("another user's habit must not be cached")
	}
	if got := c.LastSynced(); got == nil || !got.Equal(now) {
		t.Errorf("LastSynced = %v, want %v", got, now)
	}
}

func TestReconcile_UnionKeepsUnconfirmedLocalDays(t *testing.T) {
	ctx := context.Background()
	r, c, rs := setup(t)

	rs.Seed(habit("h1", "Stretch"), "2024-07-08")
	c.Upsert(ctx, "h1", models.HabitRecord{
		Habit:       habit("h1", "Stretch"),
		Completions: models.NewDaySet("2024-07-10"),
	})
	c.Mutate(ctx, func(env *models.Envelope) error {
		env.Queue = append(env.Queue, models.PendingOperation{
			ID: "op1", Kind: models.OperationMark, HabitID: "h1", Day: "2024-07-10", Status: models.StatusPending,
		})
		return nil
	})

	if _, err := r.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	rec, _ := c.Get("h1")
	want := models.DaySet{"2024-07-08", "2024-07-10"}
	if !reflect.DeepEqual(rec.Completions, want) {
		t.Errorf("completions = %v, want %v", rec.Completions, want)
	}
	if rec.CurrentStreak != 1 || rec.LongestStreak != 1 {
		t.Errorf("streaks = %d/%d, want 1/1", rec.CurrentStreak, rec.LongestStreak)
	}
	if q := c.Queue(); len(q) != 1 || q[0].ID != "op1" {
		t.Errorf("pending operations must be untouched, got %v", q)
	}
}

func TestReconcile_AbandonedMarkIsNotRolledBack(t *testing.T) {
	ctx := context.Background()
	r, c, rs := setup(t)

	rs.Seed(habit("h1", "Stretch"), "2024-07-09")
	c.Upsert(ctx, "h1", models.HabitRecord{
		Habit:       habit("h1", "Stretch"),
		Completions: models.NewDaySet("2024-07-09", "2024-07-10"),
	})
	c.Mutate(ctx, func(env *models.Envelope) error {
		env.Queue = append(env.Queue, models.PendingOperation{
			ID: "op1", Kind: models.OperationMark, HabitID: "h1", Day: "2024-07-10",
			Status: models.StatusFailed, RetryCount: 3,
		})
		return nil
	})

	if _, err := r.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	rec, _ := c.Get("h1")
	if !rec.Completions.Contains("2024-07-10") {
		t.Error("optimistic completion dropped by reconcile")
	}
	if rec.CurrentStreak != 2 {
		t.Errorf("current streak = %d, want 2", rec.CurrentStreak)
	}
}

func TestReconcile_PendingUnmarkSuppressesRemoteDay(t *testing.T) {
	tests := []struct {
		name     string
		status   models.OperationStatus
		retries  int
		wantKept bool
	}{
		{"pending unmark", models.StatusPending, 0, false},
		{"in flight unmark", models.StatusInProgress, 0, false},
		{"retryable unmark", models.StatusFailed, 1, false},
		{"abandoned unmark", models.StatusFailed, 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			r, c, rs := setup(t)
			rs.Seed(habit("h1", "Stretch"), "2024-07-10")
			c.Upsert(ctx, "h1", models.HabitRecord{Habit: habit("h1", "Stretch"), Completions: models.DaySet{}})
			c.Mutate(ctx, func(env *models.Envelope) error {
				env.Queue = append(env.Queue, models.PendingOperation{
					ID: "op1", Kind: models.OperationUnmark, HabitID: "h1", Day: "2024-07-10",
					Status: tt.status, RetryCount: tt.retries,
				})
				return nil
			})

			if _, err := r.Reconcile(ctx); err != nil {
				t.Fatalf("Reconcile: %v", err)
			}
			rec, _ := c.Get("h1")
			if got := rec.Completions.Contains("2024-07-10"); got != tt.wantKept {
				t.Errorf("day present = %v, want %v", got, tt.wantKept)
			}
		})
	}
}

func TestReconcile_RemoteFieldsWinLocalOnlyUntouched(t *testing.T) {
	ctx := context.Background()
	r, c, rs := setup(t)

	renamed := habit("h1", "Stretch for 10 minutes")
	renamed.Plant = models.PlantBonsai
	rs.Seed(renamed)
	c.Upsert(ctx, "h1", models.HabitRecord{Habit: habit("h1", "Stretch")})
	localOnly := models.HabitRecord{Habit: habit("local", "Only here"), Completions: models.NewDaySet("2024-07-01")}
	c.Upsert(ctx, "local", localOnly)

	res, err := r.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Updated != 1 || res.Added != 0 || res.Habits != 2 {
		t.Errorf("unexpected result %+v", res)
	}

	rec, _ := c.Get("h1")
	if rec.Habit.Title != "Stretch for 10 minutes" || rec.Habit.Plant != models.PlantBonsai {
		t.Errorf("remote fields not applied: %+v", rec.Habit)
	}
	got, ok := c.Get("local")
	if !ok || !reflect.DeepEqual(got.Completions, localOnly.Completions) {
		t.Errorf("local-only habit changed: %+v", got)
	}
}

func TestReconcile_FetchErrorLeavesCache(t *testing.T) {
	ctx := context.Background()
	r, c, rs := setup(t)
	c.Upsert(ctx, "h1", models.HabitRecord{Habit: habit("h1", "Stretch")})
	before := c.Snapshot()

	offline := errors.New("dial tcp: i/o timeout")
	rs.FailWith(offline)
	if _, err := r.Reconcile(ctx); !errors.Is(err, offline) {
		t.Fatalf("expected wrapped fetch error, got %v", err)
	}
	if !reflect.DeepEqual(before, c.Snapshot()) {
		t.Error("cache changed after failed reconcile")
	}
	if c.LastSynced() != nil {
		t.Error("LastSynced must not advance on failure")
	}
}

type alwaysOnline struct{}

func (alwaysOnline) Online() bool { return true }

// deliveringStore runs deliver right after a completion fetch, the window in
// which a concurrent queue drain can confirm an UNMARK the fetch still shows
type deliveringStore struct {
	*remote.MemoryStore
	deliver func()
}

func (d *deliveringStore) ListCompletions(ctx context.Context, habitIDs []string) ([]models.Completion, error) {
	out, err := d.MemoryStore.ListCompletions(ctx, habitIDs)
	if d.deliver != nil {
		d.deliver()
		d.deliver = nil
	}
	return out, err
}

func TestReconcile_UnmarkDeliveredDuringFetchStaysRemoved(t *testing.T) {
	ctx := context.Background()
	c := cache.New(kv.NewMemoryStore())
	c.Load(ctx)
	rs := remote.NewMemoryStore()
	rs.Seed(habit("h1", "Stretch"), "2024-07-10")

	p := queue.NewProcessor(queue.Options{Cache: c, Remote: rs, Connectivity: alwaysOnline{}})
	c.Upsert(ctx, "h1", models.HabitRecord{Habit: habit("h1", "Stretch"), Completions: models.DaySet{}})
	if err := p.Add(ctx, models.OperationUnmark, "h1", "2024-07-10"); err != nil {
		t.Fatal(err)
	}

	store := &deliveringStore{MemoryStore: rs, deliver: func() { p.Drain(ctx) }}
	r := New(Options{
		Cache:  c,
		Remote: store,
		UserID: "u1",
		Today:  func() utils.CalendarDay { return today },
		Now:    func() time.Time { return now },
	})

	for pass := 1; pass <= 2; pass++ {
		if _, err := r.Reconcile(ctx); err != nil {
			t.Fatalf("Reconcile pass %d: %v", pass, err)
		}
		rec, _ := c.Get("h1")
		if rec.Completions.Contains("2024-07-10") {
			t.Errorf("pass %d: delivered UNMARK was undone locally, days = %v", pass, rec.Completions)
		}
	}
	if days := rs.Days("h1"); len(days) != 0 {
		t.Errorf("remote days = %v, want none", days)
	}
	if q := c.Queue(); len(q) != 0 {
		t.Errorf("delivered UNMARK should be pruned, queue = %v", q)
	}
}

func TestReconcile_UsesConfiguredRetryBudget(t *testing.T) {
	ctx := context.Background()
	_, c, rs := setup(t)
	r := New(Options{
		Cache:      c,
		Remote:     rs,
		UserID:     "u1",
		Today:      func() utils.CalendarDay { return today },
		Now:        func() time.Time { return now },
		MaxRetries: 5,
	})
	rs.Seed(habit("h1", "Stretch"), "2024-07-10")
	c.Upsert(ctx, "h1", models.HabitRecord{Habit: habit("h1", "Stretch"), Completions: models.DaySet{}})
	c.Mutate(ctx, func(env *models.Envelope) error {
		env.Queue = append(env.Queue, models.PendingOperation{
			ID: "op1", Kind: models.OperationUnmark, HabitID: "h1", Day: "2024-07-10",
			Status: models.StatusFailed, RetryCount: 3,
		})
		return nil
	})

	if _, err := r.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if rec, _ := c.Get("h1"); rec.Completions.Contains("2024-07-10") {
		t.Error("an UNMARK with retries left under a budget of 5 should still suppress the remote day")
	}
}
