// Package reconciler pulls ground truth from the remote store and folds it
// into the local cache without dropping unconfirmed local changes.
package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/julianstephens/habitgarden/internal/cache"
	"github.com/julianstephens/habitgarden/internal/constants"
	"github.com/julianstephens/habitgarden/internal/logger"
	"github.com/julianstephens/habitgarden/internal/metrics"
	"github.com/julianstephens/habitgarden/internal/models"
	"github.com/julianstephens/habitgarden/internal/remote"
	"github.com/julianstephens/habitgarden/internal/utils"
)

type Options struct {
	Cache  *cache.Store
	Remote remote.Store
	UserID string
	// Today returns the current calendar day in the user's timezone
	Today func() utils.CalendarDay
	Now   func() time.Time
	// Timeout bounds the remote fetch; defaults to constants.DefaultRemoteTimeout
	Timeout time.Duration
	// MaxRetries must match the queue processor's budget; defaults to constants.MaxRetries
	MaxRetries int
}

type Reconciler struct {
	cache   *cache.Store
	remote  remote.Store
	userID  string
	today   func() utils.CalendarDay
	now     func() time.Time
	timeout time.Duration
	retries int
}

// Result describes what a reconcile pass changed
type Result struct {
	Habits      int
	Added       int
	Updated     int
	Completions int
}

func New(opts Options) *Reconciler {
	r := &Reconciler{
		cache:   opts.Cache,
		remote:  opts.Remote,
		userID:  opts.UserID,
		today:   opts.Today,
		now:     opts.Now,
		timeout: opts.Timeout,
		retries: opts.MaxRetries,
	}
	if r.retries <= 0 {
		r.retries = constants.MaxRetries
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.today == nil {
		r.today = func() utils.CalendarDay { return utils.NormalizeDay(r.now()) }
	}
	if r.timeout <= 0 {
		r.timeout = constants.DefaultRemoteTimeout
	}
	return r
}

// Reconcile fetches the user's habits and completions and merges them into
// the cache. Completion sets are unioned with the local ones; a day with a
// local UNMARK that was undelivered when the fetch started, or still is, is
// not re-added. Local habits missing remotely are left alone. On a fetch
// error the cache is not touched.
func (r *Reconciler) Reconcile(ctx context.Context) (res Result, err error) {
	start := time.Now()
	defer func() { metrics.ObserveReconcile(time.Since(start), err) }()

	// An UNMARK delivered while the fetch runs leaves the queue, but the
	// fetched list may predate it
	unmarks := r.pendingUnmarks(r.cache.Queue())

	fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	habits, err := r.remote.ListHabits(fetchCtx, r.userID)
	if err != nil {
		return res, fmt.Errorf("failed to fetch habits: %w", err)
	}

	ids := make([]string, len(habits))
	for i, h := range habits {
		ids[i] = h.ID
	}
	completions, err := r.remote.ListCompletions(fetchCtx, ids)
	if err != nil {
		return res, fmt.Errorf("failed to fetch completions: %w", err)
	}

	byHabit := make(map[string][]string, len(habits))
	for _, c := range completions {
		byHabit[c.HabitID] = append(byHabit[c.HabitID], c.Day)
	}

	today := r.today()
	now := r.now()
	err = r.cache.Mutate(ctx, func(env *models.Envelope) error {
		res = Result{}
		for t := range r.pendingUnmarks(env.Queue) {
			unmarks[t] = struct{}{}
		}

		for _, h := range habits {
			remoteDays := models.NewDaySet(byHabit[h.ID]...)
			for _, d := range remoteDays {
				if _, ok := unmarks[target{h.ID, d}]; ok {
					remoteDays = remoteDays.Without(d)
				}
			}

			rec, exists := env.Habits[h.ID]
			if exists {
				res.Updated++
			} else {
				res.Added++
			}
			rec.Habit = h
			rec.Completions = rec.Completions.Union(remoteDays)
			rec = rec.WithStreaks(today)
			env.Habits[h.ID] = rec

			res.Completions += len(rec.Completions)
		}

		env.LastSynced = &now
		res.Habits = len(env.Habits)
		return nil
	})
	if err != nil {
		return res, err
	}

	logger.Info("Reconciled with remote", "habits", len(habits), "added", res.Added, "completions", res.Completions)
	return res, nil
}

type target struct {
	habitID string
	day     string
}

// pendingUnmarks returns habit days with an UNMARK that may still be delivered
func (r *Reconciler) pendingUnmarks(queue []models.PendingOperation) map[target]struct{} {
	out := make(map[target]struct{})
	for _, op := range queue {
		if op.Kind != models.OperationUnmark {
			continue
		}
		if op.Status == models.StatusInProgress || op.Eligible(r.retries) {
			out[target{op.HabitID, op.Day}] = struct{}{}
		}
	}
	return out
}
