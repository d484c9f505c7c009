// Package queue delivers completion changes to the remote store in the
// background. Operations live inside the cache envelope so they survive
// restarts; every status transition is persisted before the next one starts.
package queue

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/julianstephens/habitgarden/internal/cache"
	"github.com/julianstephens/habitgarden/internal/constants"
	"github.com/julianstephens/habitgarden/internal/logger"
	"github.com/julianstephens/habitgarden/internal/metrics"
	"github.com/julianstephens/habitgarden/internal/models"
	"github.com/julianstephens/habitgarden/internal/remote"
)

var errOperationGone = stderrors.New("operation no longer queued")

// Connectivity reports whether the remote store should be contacted
type Connectivity interface {
	Online() bool
}

type Options struct {
	Cache        *cache.Store
	Remote       remote.Store
	Connectivity Connectivity

	// MaxRetries defaults to constants.MaxRetries
	MaxRetries int
	// Timeout bounds each remote call; defaults to constants.DefaultRemoteTimeout
	Timeout time.Duration
	Now     func() time.Time
	// OnChange runs after a drain pass that changed the queue
	OnChange func()
}

type Processor struct {
	cache      *cache.Store
	remote     remote.Store
	conn       Connectivity
	maxRetries int
	timeout    time.Duration
	now        func() time.Time
	onChange   func()

	drainMu sync.Mutex
	running bool
	rerun   bool
}

// DrainResult summarizes one Drain call
type DrainResult struct {
	Attempted int
	Succeeded int
	Failed    int
	// Deferred is set when another drain was already running; that drain
	// performs one more pass on this caller's behalf.
	Deferred bool
}

func (r *DrainResult) add(o DrainResult) {
	r.Attempted += o.Attempted
	r.Succeeded += o.Succeeded
	r.Failed += o.Failed
}

func NewProcessor(opts Options) *Processor {
	p := &Processor{
		cache:      opts.Cache,
		remote:     opts.Remote,
		conn:       opts.Connectivity,
		maxRetries: opts.MaxRetries,
		timeout:    opts.Timeout,
		now:        opts.Now,
		onChange:   opts.OnChange,
	}
	if p.maxRetries <= 0 {
		p.maxRetries = constants.MaxRetries
	}
	if p.timeout <= 0 {
		p.timeout = constants.DefaultRemoteTimeout
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Enqueue records a completion change for habitID on day and then drains.
func (p *Processor) Enqueue(ctx context.Context, kind models.OperationKind, habitID, day string) error {
	if err := p.Add(ctx, kind, habitID, day); err != nil {
		return err
	}
	p.Drain(ctx)
	return nil
}

// Add persists a completion change without draining.
//
// A not-yet-attempted operation for the same habit and day is coalesced with
// the new one: an opposite kind cancels it, an identical kind is a no-op.
func (p *Processor) Add(ctx context.Context, kind models.OperationKind, habitID, day string) error {
	if kind != models.OperationMark && kind != models.OperationUnmark {
		return fmt.Errorf("unknown operation kind %q", kind)
	}

	now := p.now()
	err := p.cache.Mutate(ctx, func(env *models.Envelope) error {
		for i, op := range env.Queue {
			if op.HabitID != habitID || op.Day != day || op.Status != models.StatusPending || op.RetryCount != 0 {
				continue
			}
			if op.Kind == kind {
				logger.Debug("Operation already queued", "kind", kind, "habit", habitID, "day", day)
				return nil
			}
			env.Queue = append(env.Queue[:i:i], env.Queue[i+1:]...)
			logger.Debug("Cancelled queued operation", "cancelled", op.Kind, "habit", habitID, "day", day)
			return nil
		}

		env.Queue = append(env.Queue, models.PendingOperation{
			ID:        uuid.New().String(),
			Kind:      kind,
			HabitID:   habitID,
			Day:       day,
			Status:    models.StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		})
		return nil
	})
	if err != nil {
		return err
	}

	p.recordDepth()
	return nil
}

// Drain attempts every eligible operation once, in queue order, then prunes
// completed operations. It does nothing while offline. Calls made while a
// drain is running collapse into a single extra pass, which only picks up
// operations this call has not attempted yet; earlier failures wait for the
// next Drain.
func (p *Processor) Drain(ctx context.Context) DrainResult {
	p.drainMu.Lock()
	if p.running {
		p.rerun = true
		p.drainMu.Unlock()
		return DrainResult{Deferred: true}
	}
	p.running = true
	p.drainMu.Unlock()

	var total DrainResult
	attempted := make(map[string]struct{})
	for {
		total.add(p.drainOnce(ctx, attempted))

		p.drainMu.Lock()
		if !p.rerun || ctx.Err() != nil {
			p.running = false
			p.rerun = false
			p.drainMu.Unlock()
			break
		}
		p.rerun = false
		p.drainMu.Unlock()
	}

	if total.Attempted > 0 && p.onChange != nil {
		p.onChange()
	}
	return total
}

func (p *Processor) drainOnce(ctx context.Context, attempted map[string]struct{}) DrainResult {
	var res DrainResult
	if !p.conn.Online() {
		return res
	}

	for _, op := range p.cache.Queue() {
		if ctx.Err() != nil || !p.conn.Online() {
			break
		}
		if !op.Eligible(p.maxRetries) {
			continue
		}
		if _, seen := attempted[op.ID]; seen {
			continue
		}

		started, err := p.transition(ctx, op.ID, EventStart, nil)
		if err != nil {
			if !stderrors.Is(err, errOperationGone) {
				logger.Warn("Failed to start queued operation", "op", op.ID, "error", err)
			}
			continue
		}
		res.Attempted++
		attempted[op.ID] = struct{}{}

		callErr := p.apply(ctx, started)
		metrics.ObserveOperation(string(started.Kind), callErr)

		if callErr != nil {
			res.Failed++
			failed, err := p.transition(ctx, op.ID, EventFail, callErr)
			if err == nil {
				logger.Warn("Queued operation failed",
					"op", op.ID, "kind", op.Kind, "habit", op.HabitID, "day", op.Day,
					"retry", failed.RetryCount, "error", callErr)
				if failed.Abandoned(p.maxRetries) {
					logger.Error("Queued operation abandoned after retries",
						"op", op.ID, "kind", op.Kind, "habit", op.HabitID, "day", op.Day)
				}
			}
			continue
		}

		res.Succeeded++
		if _, err := p.transition(ctx, op.ID, EventSucceed, nil); err != nil && !stderrors.Is(err, errOperationGone) {
			logger.Warn("Failed to complete queued operation", "op", op.ID, "error", err)
		}
	}

	_ = p.cache.Mutate(ctx, func(env *models.Envelope) error {
		kept := env.Queue[:0]
		for _, op := range env.Queue {
			if op.Status != models.StatusCompleted {
				kept = append(kept, op)
			}
		}
		env.Queue = kept
		return nil
	})
	p.recordDepth()

	if res.Attempted > 0 {
		logger.Debug("Drained operation queue", "attempted", res.Attempted, "succeeded", res.Succeeded, "failed", res.Failed)
	}
	return res
}

func (p *Processor) apply(ctx context.Context, op models.PendingOperation) error {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	switch op.Kind {
	case models.OperationMark:
		return p.remote.InsertCompletion(callCtx, op.HabitID, op.Day)
	case models.OperationUnmark:
		return p.remote.DeleteCompletion(callCtx, op.HabitID, op.Day)
	}
	return fmt.Errorf("unknown operation kind %q", op.Kind)
}

// transition fires event on the queued operation with the given id and
// persists the result.
func (p *Processor) transition(ctx context.Context, id, event string, cause error) (models.PendingOperation, error) {
	var out models.PendingOperation
	err := p.cache.Mutate(ctx, func(env *models.Envelope) error {
		for i := range env.Queue {
			if env.Queue[i].ID != id {
				continue
			}
			if err := fire(ctx, &env.Queue[i], event, p.now(), cause); err != nil {
				return err
			}
			out = env.Queue[i]
			return nil
		}
		return errOperationGone
	})
	return out, err
}

// Recover requeues operations left IN_PROGRESS by a process that stopped
// mid-call. It returns how many were requeued.
func (p *Processor) Recover(ctx context.Context) int {
	n := 0
	now := p.now()
	_ = p.cache.Mutate(ctx, func(env *models.Envelope) error {
		for i := range env.Queue {
			if env.Queue[i].Status != models.StatusInProgress {
				continue
			}
			if err := fire(ctx, &env.Queue[i], EventRequeue, now, nil); err == nil {
				n++
			}
		}
		return nil
	})
	if n > 0 {
		logger.Info("Requeued interrupted operations", "count", n)
	}
	return n
}

// Failed returns operations that exhausted their retry budget
func (p *Processor) Failed() []models.PendingOperation {
	var out []models.PendingOperation
	for _, op := range p.cache.Queue() {
		if op.Abandoned(p.maxRetries) {
			out = append(out, op)
		}
	}
	return out
}

// Pending returns how many operations are still eligible for delivery
func (p *Processor) Pending() int {
	n := 0
	for _, op := range p.cache.Queue() {
		if op.Eligible(p.maxRetries) || op.Status == models.StatusInProgress {
			n++
		}
	}
	return n
}

// RetryFailed gives abandoned operations a fresh retry budget and drains.
// It returns how many operations were reset.
func (p *Processor) RetryFailed(ctx context.Context) int {
	n := 0
	now := p.now()
	_ = p.cache.Mutate(ctx, func(env *models.Envelope) error {
		for i := range env.Queue {
			if !env.Queue[i].Abandoned(p.maxRetries) {
				continue
			}
			if err := fire(ctx, &env.Queue[i], EventRequeue, now, nil); err != nil {
				continue
			}
			env.Queue[i].RetryCount = 0
			env.Queue[i].LastError = ""
			n++
		}
		return nil
	})
	if n > 0 {
		logger.Info("Retrying abandoned operations", "count", n)
		p.Drain(ctx)
	}
	return n
}

// Discard drops every queued operation for habitID
func (p *Processor) Discard(ctx context.Context, habitID string) {
	_ = p.cache.Mutate(ctx, func(env *models.Envelope) error {
		kept := env.Queue[:0]
		for _, op := range env.Queue {
			if op.HabitID != habitID {
				kept = append(kept, op)
			}
		}
		env.Queue = kept
		return nil
	})
	p.recordDepth()
}

func (p *Processor) recordDepth() {
	byStatus := map[string]int{}
	for _, op := range p.cache.Queue() {
		byStatus[string(op.Status)]++
	}
	metrics.SetQueueDepth(byStatus)
}
