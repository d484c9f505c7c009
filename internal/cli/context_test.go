package cli

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/julianstephens/habitgarden/internal/cache"
	"github.com/julianstephens/habitgarden/internal/config"
	"github.com/julianstephens/habitgarden/internal/connectivity"
	"github.com/julianstephens/habitgarden/internal/kv"
	"github.com/julianstephens/habitgarden/internal/models"
	"github.com/julianstephens/habitgarden/internal/remote"
	"github.com/julianstephens/habitgarden/internal/syncservice"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestContext_OpenSQLiteStack(t *testing.T) {
	path := writeConfig(t, "user_id: u1\ntimezone: UTC\n")
	ctx := &Context{ConfigPath: path}

	sess, err := ctx.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	rec, err := sess.Service.AddHabit(context.Background(), models.HabitInput{Title: "Stretch"})
	if err != nil {
		t.Fatalf("AddHabit: %v", err)
	}
	if _, err := sess.Service.ToggleCompletion(context.Background(), rec.Habit.ID); err != nil {
		t.Fatalf("ToggleCompletion: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	dir := filepath.Dir(path)
	for _, name := range []string{"cache.db", "remote.db"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s next to the config: %v", name, err)
		}
	}

	// A fresh session sees the habit through the persisted cache
	sess, err = (&Context{ConfigPath: path}).Open(context.Background())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer sess.Close()

	habits := sess.Service.ListHabits()
	if len(habits) != 1 || habits[0].Habit.Title != "Stretch" || habits[0].CurrentStreak != 1 {
		t.Errorf("unexpected habits after reopen: %+v", habits)
	}
}

func TestContext_MissingConfigSuggestsInit(t *testing.T) {
	ctx := &Context{ConfigPath: filepath.Join(t.TempDir(), "absent.yaml")}
	_, err := ctx.Config()
	if err == nil || !strings.Contains(err.Error(), "habitgarden init") {
		t.Errorf("expected init hint, got %v", err)
	}
}

func TestContext_ConfigIsCached(t *testing.T) {
	path := writeConfig(t, "user_id: u1\n")
	ctx := &Context{ConfigPath: path}

	first, err := ctx.Config()
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	second, err := ctx.Config()
	if err != nil || second != first {
		t.Errorf("expected cached config, got %v, %v", second, err)
	}
}

func TestOpenSubstrate(t *testing.T) {
	tests := []struct {
		driver string
		path   string
	}{
		{config.DriverMemory, ""},
		{config.DriverFile, "envelope"},
		{config.DriverSQLite, "nested/cache.db"},
	}

	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			cfg := config.Default(t.TempDir())
			cfg.Cache.Driver = tt.driver
			cfg.Cache.Path = tt.path

			sub, err := OpenSubstrate(cfg)
			if err != nil {
				t.Fatalf("OpenSubstrate: %v", err)
			}
			defer sub.Close()

			ctx := context.Background()
			if err := sub.Set(ctx, "k", "v"); err != nil {
				t.Fatalf("Set: %v", err)
			}
			got, err := sub.Get(ctx, "k")
			if err != nil || got["k"] != "v" {
				t.Errorf("Get = %v, %v", got, err)
			}
		})
	}
}

// switchableOpener fails until up is set, then hands out store
type switchableOpener struct {
	up    atomic.Bool
	store remote.Store
	calls atomic.Int32
}

func (o *switchableOpener) open(context.Context) (remote.Store, error) {
	o.calls.Add(1)
	if !o.up.Load() {
		return nil, os.ErrDeadlineExceeded
	}
	return o.store, nil
}

func TestReconnectingStore(t *testing.T) {
	ctx := context.Background()
	rs := remote.NewMemoryStore()
	rs.Seed(models.Habit{ID: "h1", UserID: "u1", Title: "Stretch"})
	opener := &switchableOpener{store: rs}
	s := newReconnectingStore(os.ErrNotExist, opener.open)

	if _, err := s.ListHabits(ctx, "u1"); err != os.ErrNotExist {
		t.Errorf("ListHabits before any Ping = %v, want the startup error", err)
	}
	if err := s.Ping(ctx); err != os.ErrDeadlineExceeded {
		t.Errorf("Ping while down = %v", err)
	}
	if err := s.InsertCompletion(ctx, "h1", "2024-01-01"); err != os.ErrDeadlineExceeded {
		t.Errorf("InsertCompletion while down = %v, want the last connect error", err)
	}

	opener.up.Store(true)
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping after the remote came up: %v", err)
	}
	if err := s.InsertCompletion(ctx, "h1", "2024-01-01"); err != nil {
		t.Errorf("InsertCompletion after reconnect: %v", err)
	}
	if days := rs.Days("h1"); len(days) != 1 {
		t.Errorf("remote days = %v", days)
	}

	s.Ping(ctx)
	if n := opener.calls.Load(); n != 2 {
		t.Errorf("open called %d times, want 2", n)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close = %v", err)
	}
}

func TestReconnectingStore_ClosedStaysClosed(t *testing.T) {
	opener := &switchableOpener{store: remote.NewMemoryStore()}
	s := newReconnectingStore(os.ErrNotExist, opener.open)
	if err := s.Close(); err != nil {
		t.Fatalf("Close = %v", err)
	}
	opener.up.Store(true)
	if err := s.Ping(context.Background()); err == nil {
		t.Error("Ping after Close should not connect")
	}
	if n := opener.calls.Load(); n != 0 {
		t.Errorf("open called %d times after Close", n)
	}
}

func TestReconnectingStore_DrainsOnceRemoteIsUp(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 8, 15, 10, 0, 0, 0, time.UTC)
	habit := models.Habit{ID: "h1", UserID: "u1", Title: "Run", Frequency: models.FrequencyDaily, Plant: models.PlantFern, CreatedAt: now, UpdatedAt: now}

	rs := remote.NewMemoryStore()
	rs.Seed(habit)
	sub := kv.NewMemoryStore()
	warm := cache.New(sub)
	warm.Load(ctx)
	warm.Upsert(ctx, "h1", models.HabitRecord{Habit: habit, Completions: models.DaySet{}})

	opener := &switchableOpener{store: rs}
	monitor := connectivity.NewMonitor(false, true)
	defer monitor.Close()
	svc, err := syncservice.New(syncservice.Options{
		Substrate:     sub,
		Remote:        newReconnectingStore(os.ErrDeadlineExceeded, opener.open),
		UserID:        "u1",
		Location:      time.UTC,
		Now:           func() time.Time { return now },
		Monitor:       monitor,
		ProbeInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Close()
	if err := svc.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := svc.ToggleCompletion(ctx, "h1"); err != nil {
		t.Fatalf("ToggleCompletion: %v", err)
	}
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	if svc.Status().Pending != 1 {
		t.Fatalf("expected the completion queued while the remote is down, status %+v", svc.Status())
	}

	opener.up.Store(true)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(rs.Days("h1")) == 1 && svc.Status().Pending == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("queue not drained after the remote came up, status %+v", svc.Status())
}

func TestFormatDay(t *testing.T) {
	if got := FormatDay("2024-03-01"); got != "Fri Mar 1" {
		t.Errorf("FormatDay = %q", got)
	}
	if got := FormatDay("garbage"); got != "garbage" {
		t.Errorf("FormatDay = %q", got)
	}
}
