package kv

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func substrates(t *testing.T) map[string]Substrate {
	t.Helper()

	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	file, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	subs := map[string]Substrate{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
		"file":   file,
	}
	t.Cleanup(func() {
		for _, s := range subs {
			s.Close()
		}
	})
	return subs
}

func TestSubstrate_SetGetRemove(t *testing.T) {
	ctx := context.Background()
	for name, s := range substrates(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Set(ctx, "a", "1"); err != nil {
				t.Fatalf("Set a: %v", err)
			}
			if err := s.Set(ctx, "b/with:odd chars", "2"); err != nil {
				t.Fatalf("Set b: %v", err)
			}
			if err := s.Set(ctx, "a", "3"); err != nil {
				t.Fatalf("overwrite a: %v", err)
			}

			got, err := s.Get(ctx, "a", "b/with:odd chars", "missing")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("expected 2 entries, got %v", got)
			}
			if got["a"] != "3" || got["b/with:odd chars"] != "2" {
				t.Errorf("unexpected values: %v", got)
			}
			if _, ok := got["missing"]; ok {
				t.Error("missing key should be absent")
			}

			if err := s.Remove(ctx, "a", "never-set"); err != nil {
				t.Fatalf("Remove: %v", err)
			}
			got, err = s.Get(ctx, "a")
			if err != nil {
				t.Fatalf("Get after remove: %v", err)
			}
			if len(got) != 0 {
				t.Errorf("expected a to be removed, got %v", got)
			}
		})
	}
}

func TestSubstrate_GetNoKeys(t *testing.T) {
	for name, s := range substrates(t) {
		t.Run(name, func(t *testing.T) {
			got, err := s.Get(context.Background())
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if len(got) != 0 {
				t.Errorf("expected empty result, got %v", got)
			}
		})
	}
}

func TestMemoryStore_FailWith(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	boom := errors.New("disk full")

	m.FailWith(boom)
	if err := m.Set(ctx, "k", "v"); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	if _, err := m.Get(ctx, "k"); !errors.Is(err, boom) {
		t.Fatalf("expected injected error on Get, got %v", err)
	}

	m.FailWith(nil)
	if err := m.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set after clearing failure: %v", err)
	}
	if m.Writes() != 1 {
		t.Errorf("expected 1 write, got %d", m.Writes())
	}

	m.Close()
	if err := m.Set(ctx, "k", "v"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestSQLiteStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "cache.db")

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := s.Set(ctx, "envelope", `{"v":1}`); err != nil {
		t.Fatalf("Set: %v", err)
	}
	s.Close()

	s, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	got, err := s.Get(ctx, "envelope")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got["envelope"] != `{"v":1}` {
		t.Errorf("value did not survive reopen: %v", got)
	}
}

func TestFileStore_Watch(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	reader, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	defer reader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := reader.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if _, err := reader.Watch(ctx); err == nil {
		t.Error("expected second Watch to fail")
	}

	if err := writer.Set(context.Background(), "envelope", "data"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case key := <-events:
			if key == "envelope" {
				cancel()
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for watch event")
		}
	}
}
