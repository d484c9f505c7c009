// Package syncservice is the public face of the sync core. It owns the cache,
// the operation queue and the reconciler, and tells subscribers when cached
// habits change.
package syncservice

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/julianstephens/habitgarden/internal/cache"
	"github.com/julianstephens/habitgarden/internal/connectivity"
	"github.com/julianstephens/habitgarden/internal/constants"
	"github.com/julianstephens/habitgarden/internal/errors"
	"github.com/julianstephens/habitgarden/internal/kv"
	"github.com/julianstephens/habitgarden/internal/logger"
	"github.com/julianstephens/habitgarden/internal/models"
	"github.com/julianstephens/habitgarden/internal/notify"
	"github.com/julianstephens/habitgarden/internal/queue"
	"github.com/julianstephens/habitgarden/internal/reconciler"
	"github.com/julianstephens/habitgarden/internal/remote"
	"github.com/julianstephens/habitgarden/internal/utils"
)

type Options struct {
	Substrate kv.Substrate
	Remote    remote.Store
	UserID    string

	// Location defines calendar days; defaults to time.Local
	Location *time.Location
	Now      func() time.Time

	// Monitor supplies the online and visible flags. When nil the service
	// creates one that starts online and visible.
	Monitor *connectivity.Monitor

	ReconcileInterval time.Duration
	DrainInterval     time.Duration
	// ProbeInterval enables periodic remote pings when positive
	ProbeInterval time.Duration
	RemoteTimeout time.Duration
}

type EventKind string

const (
	EventHabitsChanged EventKind = "habits_changed"
	EventQueueChanged  EventKind = "queue_changed"
	EventSynced        EventKind = "synced"
)

// Event is published after every cache mutation. HabitID is empty when the
// change is not limited to a single habit.
type Event struct {
	Kind    EventKind
	HabitID string
}

// Status is a point-in-time view of sync health
type Status struct {
	LastSynced *time.Time
	Pending    int
	Failed     []models.PendingOperation
	Online     bool
	Visible    bool
}

type Service struct {
	opts       Options
	cache      *cache.Store
	queue      *queue.Processor
	reconciler *reconciler.Reconciler
	monitor    *connectivity.Monitor
	ownMonitor bool
	events     *notify.Broadcaster[Event]

	// toggleMu keeps the optimistic write and its queued operation in the same order
	toggleMu sync.Mutex

	mu     sync.Mutex
	opened bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(opts Options) (*Service, error) {
	if opts.Substrate == nil {
		return nil, fmt.Errorf("a persistence substrate is required")
	}
	if opts.Remote == nil {
		return nil, fmt.Errorf("a remote store is required")
	}
	if strings.TrimSpace(opts.UserID) == "" {
		return nil, fmt.Errorf("a user id is required")
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ReconcileInterval <= 0 {
		opts.ReconcileInterval = constants.DefaultReconcileInterval
	}
	if opts.DrainInterval <= 0 {
		opts.DrainInterval = constants.DefaultDrainInterval
	}
	if opts.RemoteTimeout <= 0 {
		opts.RemoteTimeout = constants.DefaultRemoteTimeout
	}

	s := &Service{
		opts:    opts,
		cache:   cache.New(opts.Substrate),
		monitor: opts.Monitor,
		events:  notify.NewBroadcaster[Event]("habits"),
	}
	if s.monitor == nil {
		s.monitor = connectivity.NewMonitor(true, true)
		s.ownMonitor = true
	}

	s.queue = queue.NewProcessor(queue.Options{
		Cache:        s.cache,
		Remote:       opts.Remote,
		Connectivity: s.monitor,
		MaxRetries:   constants.MaxRetries,
		Timeout:      opts.RemoteTimeout,
		Now:          opts.Now,
		OnChange:     func() { s.publish(EventQueueChanged, "") },
	})
	s.reconciler = reconciler.New(reconciler.Options{
		Cache:      s.cache,
		Remote:     opts.Remote,
		UserID:     opts.UserID,
		Today:      s.today,
		Now:        opts.Now,
		Timeout:    opts.RemoteTimeout,
		MaxRetries: constants.MaxRetries,
	})
	return s, nil
}

func (s *Service) today() utils.CalendarDay {
	return utils.Today(s.opts.Now(), s.opts.Location)
}

func (s *Service) publish(kind EventKind, habitID string) {
	s.events.Publish(Event{Kind: kind, HabitID: habitID})
}

func (s *Service) requireOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return errors.ErrNotOpen
	}
	return nil
}

// Open loads the cached envelope, requeues operations interrupted by a
// previous crash and, when online, drains the queue and reconciles.
// A missing or outdated cache is rebuilt from the remote store.
func (s *Service) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.opened {
		s.mu.Unlock()
		return nil
	}
	s.opened = true
	s.mu.Unlock()

	if _, ok := s.cache.Load(ctx); !ok {
		logger.Info("No usable cache, rebuilding from remote")
	}
	s.queue.Recover(ctx)

	if s.monitor.Online() {
		s.queue.Drain(ctx)
		if _, err := s.reconcile(ctx); err != nil {
			logger.Warn("Initial reconcile failed, serving cached data", "error", err)
		}
	}
	s.publish(EventHabitsChanged, "")
	return nil
}

// Start runs the background loop: periodic drains, periodic reconciles while
// visible, reconciles when visibility or connectivity returns, and refreshes
// when another process writes the cache. It returns immediately.
func (s *Service) Start(ctx context.Context) error {
	if err := s.requireOpen(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return fmt.Errorf("sync service already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	// Subscribe before returning so no transition after Start is missed
	changes := s.monitor.Subscribe(loopCtx)
	prev := s.monitor.State()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(loopCtx, changes, prev)
	}()

	if s.opts.ProbeInterval > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.monitor.Probe(loopCtx, s.opts.Remote, s.opts.ProbeInterval)
		}()
	}

	if w, ok := s.opts.Substrate.(kv.Watcher); ok {
		changes, err := w.Watch(loopCtx)
		if err != nil {
			logger.Warn("Cache watcher unavailable, external writes will be merged on save", "error", err)
		} else {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.watch(loopCtx, changes)
			}()
		}
	}

	logger.Debug("Sync loop started",
		"reconcile_interval", s.opts.ReconcileInterval,
		"drain_interval", s.opts.DrainInterval,
		"probe_interval", s.opts.ProbeInterval)
	return nil
}

func (s *Service) run(ctx context.Context, changes <-chan connectivity.State, prev connectivity.State) {
	reconcileTicker := time.NewTicker(s.opts.ReconcileInterval)
	defer reconcileTicker.Stop()
	drainTicker := time.NewTicker(s.opts.DrainInterval)
	defer drainTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-reconcileTicker.C:
			st := s.monitor.State()
			if st.Online && st.Visible {
				s.backgroundReconcile(ctx)
			}
		case <-drainTicker.C:
			if s.monitor.Online() {
				s.queue.Drain(ctx)
			}
		case st, ok := <-changes:
			if !ok {
				return
			}
			if st.Online && !prev.Online {
				s.queue.Drain(ctx)
			}
			if st.Online && st.Visible && (!prev.Online || !prev.Visible) {
				s.backgroundReconcile(ctx)
			}
			prev = st
		}
	}
}

func (s *Service) backgroundReconcile(ctx context.Context) {
	if _, err := s.reconcile(ctx); err != nil && ctx.Err() == nil {
		logger.Warn("Background reconcile failed", "error", err)
	}
}

func (s *Service) watch(ctx context.Context, changes <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case key, ok := <-changes:
			if !ok {
				return
			}
			if key != constants.EnvelopeKey {
				continue
			}
			if s.cache.Refresh(ctx) {
				s.publish(EventHabitsChanged, "")
			}
		}
	}
}

// Close stops the background loop and releases subscribers. The substrate
// and remote store are left open for their owner to close.
func (s *Service) Close() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	s.events.Close()
	if s.ownMonitor {
		s.monitor.Close()
	}
	return nil
}

// Monitor exposes the connectivity signals so callers can report focus and
// network changes.
func (s *Service) Monitor() *connectivity.Monitor {
	return s.monitor
}

// Subscribe returns a channel of change events until ctx is done or the
// service is closed.
func (s *Service) Subscribe(ctx context.Context) <-chan Event {
	return s.events.Subscribe(ctx)
}

// ListHabits returns every cached habit, oldest first, with streaks computed
// for today.
func (s *Service) ListHabits() []models.HabitRecord {
	today := s.today()
	records := s.cache.ListAll()
	for i := range records {
		records[i] = records[i].WithStreaks(today)
	}
	return records
}

func (s *Service) GetHabit(id string) (models.HabitRecord, error) {
	rec, ok := s.cache.Get(id)
	if !ok {
		return models.HabitRecord{}, errors.ErrHabitNotFound
	}
	return rec.WithStreaks(s.today()), nil
}

// AddHabit creates the habit remotely and caches it only once the remote
// insert succeeded.
func (s *Service) AddHabit(ctx context.Context, input models.HabitInput) (models.HabitRecord, error) {
	if err := s.requireOpen(); err != nil {
		return models.HabitRecord{}, err
	}

	input, err := normalizeInput(input)
	if err != nil {
		return models.HabitRecord{}, err
	}

	now := s.opts.Now().UTC()
	habit := models.Habit{
		ID:          uuid.New().String(),
		UserID:      s.opts.UserID,
		Title:       input.Title,
		Description: input.Description,
		Frequency:   input.Frequency,
		Plant:       input.Plant,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	callCtx, cancel := context.WithTimeout(ctx, s.opts.RemoteTimeout)
	defer cancel()
	if err := s.opts.Remote.InsertHabit(callCtx, habit); err != nil {
		logger.Warn("Failed to add habit", "title", habit.Title, "error", err)
		return models.HabitRecord{}, &errors.RemoteError{Op: "add habit", Err: err}
	}

	rec := models.HabitRecord{Habit: habit, Completions: models.DaySet{}}.WithStreaks(s.today())
	s.cache.Upsert(ctx, habit.ID, rec)
	logger.Info("Habit added", "id", habit.ID, "title", habit.Title)
	s.publish(EventHabitsChanged, habit.ID)
	return rec, nil
}

// UpdateHabit applies patch remotely and then to the cache
func (s *Service) UpdateHabit(ctx context.Context, id string, patch models.HabitPatch) (models.HabitRecord, error) {
	if err := s.requireOpen(); err != nil {
		return models.HabitRecord{}, err
	}

	rec, ok := s.cache.Get(id)
	if !ok {
		return models.HabitRecord{}, errors.ErrHabitNotFound
	}

	input := models.HabitInput{
		Title:       rec.Habit.Title,
		Description: rec.Habit.Description,
		Frequency:   rec.Habit.Frequency,
		Plant:       rec.Habit.Plant,
	}
	if patch.Title != nil {
		input.Title = *patch.Title
	}
	if patch.Description != nil {
		input.Description = *patch.Description
	}
	if patch.Frequency != nil {
		input.Frequency = *patch.Frequency
	}
	if patch.Plant != nil {
		input.Plant = *patch.Plant
	}
	input, err := normalizeInput(input)
	if err != nil {
		return models.HabitRecord{}, err
	}

	habit := rec.Habit
	habit.Title = input.Title
	habit.Description = input.Description
	habit.Frequency = input.Frequency
	habit.Plant = input.Plant
	habit.UpdatedAt = s.opts.Now().UTC()

	callCtx, cancel := context.WithTimeout(ctx, s.opts.RemoteTimeout)
	defer cancel()
	if err := s.opts.Remote.UpdateHabit(callCtx, habit); err != nil {
		return models.HabitRecord{}, &errors.RemoteError{Op: "update habit", Err: err}
	}

	var updated models.HabitRecord
	err = s.cache.Mutate(ctx, func(env *models.Envelope) error {
		cur, ok := env.Habits[id]
		if !ok {
			return errors.ErrHabitNotFound
		}
		cur.Habit = habit
		updated = cur.WithStreaks(s.today())
		env.Habits[id] = updated
		return nil
	})
	if err != nil {
		return models.HabitRecord{}, err
	}

	logger.Info("Habit updated", "id", id)
	s.publish(EventHabitsChanged, id)
	return updated, nil
}

// DeleteHabit removes the habit remotely, then from the cache together with
// any of its queued operations.
func (s *Service) DeleteHabit(ctx context.Context, id string) error {
	if err := s.requireOpen(); err != nil {
		return err
	}
	if _, ok := s.cache.Get(id); !ok {
		return errors.ErrHabitNotFound
	}

	callCtx, cancel := context.WithTimeout(ctx, s.opts.RemoteTimeout)
	defer cancel()
	if err := s.opts.Remote.DeleteHabit(callCtx, s.opts.UserID, id); err != nil {
		logger.Warn("Failed to delete habit", "id", id, "error", err)
		return &errors.RemoteError{Op: "delete habit", Err: err}
	}

	s.toggleMu.Lock()
	s.cache.Remove(ctx, id)
	s.queue.Discard(ctx, id)
	s.toggleMu.Unlock()

	logger.Info("Habit deleted", "id", id)
	s.publish(EventHabitsChanged, id)
	return nil
}

// ToggleCompletion flips today's completion for the habit. The cache is
// updated and subscribers notified before the change is queued for the
// remote store; the local change is never rolled back.
func (s *Service) ToggleCompletion(ctx context.Context, id string) (models.HabitRecord, error) {
	if err := s.requireOpen(); err != nil {
		return models.HabitRecord{}, err
	}

	today := s.today()
	day := today.String()

	s.toggleMu.Lock()
	var (
		updated models.HabitRecord
		kind    models.OperationKind
	)
	err := s.cache.Mutate(ctx, func(env *models.Envelope) error {
		rec, ok := env.Habits[id]
		if !ok {
			return errors.ErrHabitNotFound
		}
		if rec.Completions.Contains(day) {
			rec.Completions = rec.Completions.Without(day)
			kind = models.OperationUnmark
		} else {
			rec.Completions = rec.Completions.With(day)
			kind = models.OperationMark
		}
		updated = rec.WithStreaks(today)
		env.Habits[id] = updated
		return nil
	})
	if err != nil {
		s.toggleMu.Unlock()
		return models.HabitRecord{}, err
	}
	s.publish(EventHabitsChanged, id)

	err = s.queue.Add(ctx, kind, id, day)
	s.toggleMu.Unlock()
	if err != nil {
		return updated, err
	}

	s.queue.Drain(ctx)
	return updated, nil
}

// Sync drains the queue and reconciles immediately
func (s *Service) Sync(ctx context.Context) (reconciler.Result, error) {
	if err := s.requireOpen(); err != nil {
		return reconciler.Result{}, err
	}
	if !s.monitor.Online() {
		return reconciler.Result{}, errors.ErrOffline
	}
	s.queue.Drain(ctx)
	return s.reconcile(ctx)
}

func (s *Service) reconcile(ctx context.Context) (reconciler.Result, error) {
	res, err := s.reconciler.Reconcile(ctx)
	if err != nil {
		return res, err
	}
	s.publish(EventSynced, "")
	return res, nil
}

func (s *Service) Status() Status {
	st := s.monitor.State()
	return Status{
		LastSynced: s.cache.LastSynced(),
		Pending:    s.queue.Pending(),
		Failed:     s.queue.Failed(),
		Online:     st.Online,
		Visible:    st.Visible,
	}
}

// Queue returns every queued operation in delivery order
func (s *Service) Queue() []models.PendingOperation {
	return s.cache.Queue()
}

// RetryFailed resets abandoned operations and drains. It returns how many
// were reset.
func (s *Service) RetryFailed(ctx context.Context) (int, error) {
	if err := s.requireOpen(); err != nil {
		return 0, err
	}
	return s.queue.RetryFailed(ctx), nil
}

func normalizeInput(in models.HabitInput) (models.HabitInput, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)

	if in.Title == "" {
		return in, &errors.ValidationError{Field: "title", Msg: "must not be empty"}
	}
	if len([]rune(in.Title)) > constants.MaxTitleLength {
		return in, &errors.ValidationError{Field: "title", Msg: fmt.Sprintf("must be at most %d characters", constants.MaxTitleLength)}
	}
	if in.Frequency == "" {
		in.Frequency = models.Frequency(constants.DefaultFrequency)
	}
	if !in.Frequency.Valid() {
		return in, &errors.ValidationError{Field: "frequency", Msg: fmt.Sprintf("unknown frequency %q", in.Frequency)}
	}
	if in.Plant == "" {
		in.Plant = models.Plant(constants.DefaultPlant)
	}
	if !in.Plant.Valid() {
		return in, &errors.ValidationError{Field: "plant", Msg: fmt.Sprintf("unknown plant %q", in.Plant)}
	}
	return in, nil
}

// IsNotFound reports whether err means the habit is not cached
func IsNotFound(err error) bool {
	return stderrors.Is(err, errors.ErrHabitNotFound)
}
