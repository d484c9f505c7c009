package queue

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/julianstephens/habitgarden/internal/cache"
	"github.com/julianstephens/habitgarden/internal/kv"
	"github.com/julianstephens/habitgarden/internal/models"
	"github.com/julianstephens/habitgarden/internal/remote"
)

type fakeConn struct{ online atomic.Bool }

func (f *fakeConn) Online() bool { return f.online.Load() }

type harness struct {
	cache  *cache.Store
	remote *remote.MemoryStore
	conn   *fakeConn
	p      *Processor
}

func newHarness(t *testing.T, online bool) *harness {
	t.Helper()
	h := &harness{
		cache:  cache.New(kv.NewMemoryStore()),
		remote: remote.NewMemoryStore(),
		conn:   &fakeConn{},
	}
	h.conn.online.Store(online)
	h.cache.Load(context.Background())

	clock := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	h.p = NewProcessor(Options{
		Cache:        h.cache,
		Remote:       h.remote,
		Connectivity: h.conn,
		Now: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			clock = clock.Add(time.Second)
			return clock
		},
	})
	return h
}

func TestEnqueue_OnlineDelivers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)

	if err := h.p.Enqueue(ctx, models.OperationMark, "h1", "2024-06-01"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if got := h.remote.Days("h1"); !reflect.DeepEqual(got, []string{"2024-06-01"}) {
		t.Errorf("remote days = %v", got)
	}
	if q := h.cache.Queue(); len(q) != 0 {
		t.Errorf("completed operations should be pruned, queue = %v", q)
	}

	if err := h.p.Enqueue(ctx, models.OperationUnmark, "h1", "2024-06-01"); err != nil {
		t.Fatalf("Enqueue unmark: %v", err)
	}
	if got := h.remote.Days("h1"); len(got) != 0 {
		t.Errorf("expected unmark to delete, remote days = %v", got)
	}
}

func TestEnqueue_OfflineQueues(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)

	if err := h.p.Enqueue(ctx, models.OperationMark, "h1", "2024-06-01"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	q := h.cache.Queue()
	if len(q) != 1 || q[0].Status != models.StatusPending || q[0].RetryCount != 0 {
		t.Fatalf("expected one untouched pending op, got %v", q)
	}
	if h.remote.Calls("InsertCompletion") != 0 {
		t.Error("no remote call should be made while offline")
	}
	if h.p.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", h.p.Pending())
	}

	h.conn.online.Store(true)
	res := h.p.Drain(ctx)
	if res.Attempted != 1 || res.Succeeded != 1 {
		t.Errorf("unexpected drain result %+v", res)
	}
	if len(h.cache.Queue()) != 0 {
		t.Error("queue should be empty after successful drain")
	}
}

func TestEnqueue_UnknownKind(t *testing.T) {
	h := newHarness(t, true)
	if err := h.p.Enqueue(context.Background(), "FLIP", "h1", "2024-06-01"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestEnqueue_Coalesces(t *testing.T) {
	tests := []struct {
		name  string
		kinds []models.OperationKind
		want  []models.OperationKind
	}{
		{"mark then unmark cancels", []models.OperationKind{models.OperationMark, models.OperationUnmark}, nil},
		{"duplicate mark kept once", []models.OperationKind{models.OperationMark, models.OperationMark}, []models.OperationKind{models.OperationMark}},
		{"mark unmark mark", []models.OperationKind{models.OperationMark, models.OperationUnmark, models.OperationMark}, []models.OperationKind{models.OperationMark}},
		{"unmark then mark cancels", []models.OperationKind{models.OperationUnmark, models.OperationMark}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, false)
			for _, k := range tt.kinds {
				if err := h.p.Enqueue(ctx, k, "h1", "2024-06-01"); err != nil {
					t.Fatalf("Enqueue: %v", err)
				}
			}
			var got []models.OperationKind
			for _, op := range h.cache.Queue() {
				got = append(got, op.Kind)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("queue kinds = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEnqueue_DoesNotCoalesceAttemptedOps(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	h.remote.FailWith(errors.New("503"))

	h.p.Enqueue(ctx, models.OperationMark, "h1", "2024-06-01")
	h.conn.online.Store(false)
	h.p.Enqueue(ctx, models.OperationUnmark, "h1", "2024-06-01")

	q := h.cache.Queue()
	if len(q) != 2 {
		t.Fatalf("expected failed MARK and pending UNMARK, got %v", q)
	}
	if q[0].Kind != models.OperationMark || q[0].Status != models.StatusFailed {
		t.Errorf("first op = %+v", q[0])
	}
	if q[1].Kind != models.OperationUnmark || q[1].Status != models.StatusPending {
		t.Errorf("second op = %+v", q[1])
	}
}

func TestDrain_FIFO(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)

	var mu sync.Mutex
	var calls []string
	h.remote.OnCall(func(method string) {
		mu.Lock()
		calls = append(calls, method)
		mu.Unlock()
	})

	h.p.Enqueue(ctx, models.OperationMark, "h1", "2024-06-01")
	h.p.Enqueue(ctx, models.OperationUnmark, "h2", "2024-06-01")
	h.p.Enqueue(ctx, models.OperationMark, "h3", "2024-06-01")

	h.conn.online.Store(true)
	h.p.Drain(ctx)

	want := []string{"InsertCompletion", "DeleteCompletion", "InsertCompletion"}
	if !reflect.DeepEqual(calls, want) {
		t.Errorf("call order = %v, want %v", calls, want)
	}
}

func TestDrain_RetryBudget(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	h.remote.FailWith(errors.New("connection reset"))

	h.p.Enqueue(ctx, models.OperationMark, "h1", "2024-06-01")
	for i := 0; i < 4; i++ {
		h.p.Drain(ctx)
	}

	if n := h.remote.Calls("InsertCompletion"); n != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", n)
	}

	q := h.cache.Queue()
	if len(q) != 1 {
		t.Fatalf("abandoned op must stay queued, got %v", q)
	}
	if q[0].Status != models.StatusFailed || q[0].RetryCount != 3 || q[0].LastError != "connection reset" {
		t.Errorf("unexpected abandoned op %+v", q[0])
	}
	if len(h.p.Failed()) != 1 {
		t.Errorf("Failed() = %v", h.p.Failed())
	}
	if h.p.Pending() != 0 {
		t.Errorf("abandoned ops are not pending, got %d", h.p.Pending())
	}

	h.remote.FailWith(nil)
	if n := h.p.RetryFailed(ctx); n != 1 {
		t.Fatalf("RetryFailed reset %d ops, want 1", n)
	}
	if len(h.cache.Queue()) != 0 {
		t.Errorf("retried op should be delivered and pruned, queue = %v", h.cache.Queue())
	}
	if got := h.remote.Days("h1"); len(got) != 1 {
		t.Errorf("remote days = %v", got)
	}
}

func TestDrain_CollapsesConcurrentRequests(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	h.p.Enqueue(ctx, models.OperationMark, "h1", "2024-06-01")

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.remote.OnCall(func(method string) {
		once.Do(func() {
			close(started)
			<-release
		})
	})

	h.conn.online.Store(true)
	done := make(chan DrainResult)
	go func() { done <- h.p.Drain(ctx) }()

	<-started
	// Enqueue drains too; that request folds into the running drain
	if err := h.p.Enqueue(ctx, models.OperationMark, "h2", "2024-06-01"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if res := h.p.Drain(ctx); !res.Deferred {
		t.Errorf("expected Drain to defer to the running pass, got %+v", res)
	}
	close(release)

	res := <-done
	if res.Attempted != 2 || res.Succeeded != 2 {
		t.Errorf("running drain should pick up the new op, got %+v", res)
	}
	if len(h.cache.Queue()) != 0 {
		t.Errorf("queue = %v", h.cache.Queue())
	}
}

func TestDrain_RerunSkipsOpsAlreadyAttempted(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	h.remote.FailWith(errors.New("connection refused"))
	h.p.Enqueue(ctx, models.OperationMark, "h1", "2024-06-01")

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.remote.OnCall(func(method string) {
		once.Do(func() {
			close(started)
			<-release
		})
	})

	h.conn.online.Store(true)
	done := make(chan DrainResult)
	go func() { done <- h.p.Drain(ctx) }()

	<-started
	if err := h.p.Enqueue(ctx, models.OperationMark, "h2", "2024-06-01"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	close(release)

	res := <-done
	if res.Attempted != 2 || res.Failed != 2 {
		t.Errorf("each op should be tried once per Drain, got %+v", res)
	}
	if n := h.remote.Calls("InsertCompletion"); n != 2 {
		t.Errorf("expected 2 remote calls, got %d", n)
	}
	for _, op := range h.cache.Queue() {
		if op.RetryCount != 1 {
			t.Errorf("op %s spent %d retries in one Drain", op.HabitID, op.RetryCount)
		}
	}
}

func TestRecover(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	h.cache.Mutate(ctx, func(env *models.Envelope) error {
		env.Queue = append(env.Queue,
			models.PendingOperation{ID: "a", Kind: models.OperationMark, HabitID: "h1", Day: "2024-06-01", Status: models.StatusInProgress, RetryCount: 1},
			models.PendingOperation{ID: "b", Kind: models.OperationMark, HabitID: "h1", Day: "2024-06-02", Status: models.StatusPending},
		)
		return nil
	})

	if n := h.p.Recover(ctx); n != 1 {
		t.Fatalf("Recover() = %d, want 1", n)
	}
	q := h.cache.Queue()
	if q[0].Status != models.StatusPending || q[0].RetryCount != 1 {
		t.Errorf("recovered op = %+v", q[0])
	}
}

func TestDiscard(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	h.p.Enqueue(ctx, models.OperationMark, "h1", "2024-06-01")
	h.p.Enqueue(ctx, models.OperationMark, "h2", "2024-06-01")
	h.p.Enqueue(ctx, models.OperationMark, "h1", "2024-06-02")

	h.p.Discard(ctx, "h1")
	q := h.cache.Queue()
	if len(q) != 1 || q[0].HabitID != "h2" {
		t.Errorf("expected only h2's op, got %v", q)
	}
}

func TestDrain_OnChange(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true)
	var changes atomic.Int32
	h.p.onChange = func() { changes.Add(1) }

	h.p.Drain(ctx)
	if changes.Load() != 0 {
		t.Error("empty drain should not report a change")
	}
	h.p.Enqueue(ctx, models.OperationMark, "h1", "2024-06-01")
	if changes.Load() != 1 {
		t.Errorf("expected one change notification, got %d", changes.Load())
	}
}
