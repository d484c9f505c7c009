package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/julianstephens/habitgarden/internal/backup"
	"github.com/julianstephens/habitgarden/internal/config"
	"github.com/julianstephens/habitgarden/internal/connectivity"
	"github.com/julianstephens/habitgarden/internal/constants"
	"github.com/julianstephens/habitgarden/internal/kv"
	"github.com/julianstephens/habitgarden/internal/logger"
	"github.com/julianstephens/habitgarden/internal/models"
	"github.com/julianstephens/habitgarden/internal/remote"
	"github.com/julianstephens/habitgarden/internal/syncservice"
)

// Context is handed to every command's Run method
type Context struct {
	ConfigPath string
	Debug      bool

	cfg *config.Config
}

// Config loads and caches the config file
func (c *Context) Config() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, err := config.Load(c.ConfigPath)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return nil, fmt.Errorf("%w (run `habitgarden init` first)", err)
		}
		return nil, err
	}
	if cfg.Logging.Debug && !c.Debug {
		c.Debug = true
		if err := logger.Init(logger.Config{Debug: true, ConfigDir: cfg.Dir}); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to enable debug logging: %v\n", err)
		}
	}
	c.cfg = cfg
	return cfg, nil
}

// Session is an opened sync service plus the stores backing it
type Session struct {
	Config  *config.Config
	Service *syncservice.Service

	substrate kv.Substrate
	remote    remote.Store
	monitor   *connectivity.Monitor
}

// Open builds the substrate, remote store and sync service from the config
// file and opens the service. Offline remotes are tolerated: the session
// serves cached data and queues completions, and connects once a
// connectivity probe reaches the remote.
func (c *Context) Open(ctx context.Context) (*Session, error) {
	cfg, err := c.Config()
	if err != nil {
		return nil, err
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("loading timezone: %w", err)
	}

	sub, err := OpenSubstrate(cfg)
	if err != nil {
		return nil, err
	}

	online := true
	rs, err := OpenRemote(ctx, cfg)
	if err != nil {
		logger.Warn("Remote store unavailable, starting offline", "error", err)
		rs = newReconnectingStore(err, func(ctx context.Context) (remote.Store, error) {
			return OpenRemote(ctx, cfg)
		})
		online = false
	}

	monitor := connectivity.NewMonitor(online, true)
	svc, err := syncservice.New(syncservice.Options{
		Substrate:         sub,
		Remote:            rs,
		UserID:            cfg.UserID,
		Location:          loc,
		Monitor:           monitor,
		ReconcileInterval: cfg.Sync.ReconcileInterval,
		DrainInterval:     cfg.Sync.DrainInterval,
		ProbeInterval:     cfg.Sync.ProbeInterval,
		RemoteTimeout:     constants.DefaultRemoteTimeout,
	})
	if err != nil {
		monitor.Close()
		sub.Close()
		rs.Close()
		return nil, err
	}

	s := &Session{Config: cfg, Service: svc, substrate: sub, remote: rs, monitor: monitor}
	if err := svc.Open(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Close stops the service and releases both stores
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	svcErr := s.Service.Close()
	s.monitor.Close()
	remoteErr := s.remote.Close()
	subErr := s.substrate.Close()
	if svcErr != nil {
		return svcErr
	}
	if remoteErr != nil {
		return remoteErr
	}
	return subErr
}

// Backups returns a backup manager for the session's cache
func (s *Session) Backups() *backup.Manager {
	return backup.NewManager(s.substrate, s.Config.Dir)
}

// PerformAutomaticBackup snapshots the cache and silently handles errors
func (s *Session) PerformAutomaticBackup(ctx context.Context) {
	if _, err := s.Backups().CreateBackup(ctx); err != nil && !errors.Is(err, backup.ErrNothingToBackup) {
		logger.Warn("Automatic backup failed", "error", err)
	}
}

// OpenSubstrate opens the local persistence substrate named by cache.driver
func OpenSubstrate(cfg *config.Config) (kv.Substrate, error) {
	switch cfg.Cache.Driver {
	case config.DriverMemory:
		return kv.NewMemoryStore(), nil
	case config.DriverFile:
		store, err := kv.NewFileStore(cfg.ResolvePath(cfg.Cache.Path))
		if err != nil {
			return nil, fmt.Errorf("opening file cache: %w", err)
		}
		return store, nil
	default:
		path := cfg.ResolvePath(cfg.Cache.Path)
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
		store, err := kv.OpenSQLite(path)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite cache: %w", err)
		}
		return store, nil
	}
}

// OpenRemote connects to the remote store named by remote.driver
func OpenRemote(ctx context.Context, cfg *config.Config) (remote.Store, error) {
	switch cfg.Remote.Driver {
	case config.DriverPostgres:
		dsn, err := cfg.RemoteDSN()
		if err != nil {
			return nil, err
		}
		return remote.OpenPostgres(ctx, dsn)
	default:
		path := cfg.ResolvePath(cfg.Remote.Path)
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("creating remote directory: %w", err)
		}
		return remote.OpenSQLite(path)
	}
}

// reconnectingStore stands in for a remote that could not be reached at
// startup. Until a Ping manages to open the real store every call fails with
// the last connection error, so writes stay queued and reads come from the
// cache. The service's connectivity probe drives the reconnect.
type reconnectingStore struct {
	open func(context.Context) (remote.Store, error)

	dial   sync.Mutex
	mu     sync.Mutex
	inner  remote.Store
	err    error
	closed bool
}

func newReconnectingStore(cause error, open func(context.Context) (remote.Store, error)) *reconnectingStore {
	return &reconnectingStore{open: open, err: cause}
}

func (r *reconnectingStore) current() (remote.Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inner == nil {
		return nil, r.err
	}
	return r.inner, nil
}

func (r *reconnectingStore) connect(ctx context.Context) (remote.Store, error) {
	r.dial.Lock()
	defer r.dial.Unlock()

	if inner, err := r.current(); inner != nil {
		return inner, nil
	} else if r.isClosed() {
		return nil, err
	}

	inner, err := r.open(ctx)
	if err != nil {
		r.mu.Lock()
		r.err = err
		r.mu.Unlock()
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		inner.Close()
		return nil, r.err
	}
	r.inner = inner
	logger.Info("Connected to remote store")
	return inner, nil
}

func (r *reconnectingStore) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *reconnectingStore) Ping(ctx context.Context) error {
	inner, err := r.connect(ctx)
	if err != nil {
		return err
	}
	return inner.Ping(ctx)
}

func (r *reconnectingStore) ListHabits(ctx context.Context, userID string) ([]models.Habit, error) {
	inner, err := r.current()
	if err != nil {
		return nil, err
	}
	return inner.ListHabits(ctx, userID)
}

func (r *reconnectingStore) ListCompletions(ctx context.Context, habitIDs []string) ([]models.Completion, error) {
	inner, err := r.current()
	if err != nil {
		return nil, err
	}
	return inner.ListCompletions(ctx, habitIDs)
}

func (r *reconnectingStore) InsertHabit(ctx context.Context, h models.Habit) error {
	inner, err := r.current()
	if err != nil {
		return err
	}
	return inner.InsertHabit(ctx, h)
}

func (r *reconnectingStore) UpdateHabit(ctx context.Context, h models.Habit) error {
	inner, err := r.current()
	if err != nil {
		return err
	}
	return inner.UpdateHabit(ctx, h)
}

func (r *reconnectingStore) DeleteHabit(ctx context.Context, userID, habitID string) error {
	inner, err := r.current()
	if err != nil {
		return err
	}
	return inner.DeleteHabit(ctx, userID, habitID)
}

func (r *reconnectingStore) InsertCompletion(ctx context.Context, habitID, day string) error {
	inner, err := r.current()
	if err != nil {
		return err
	}
	return inner.InsertCompletion(ctx, habitID, day)
}

func (r *reconnectingStore) DeleteCompletion(ctx context.Context, habitID, day string) error {
	inner, err := r.current()
	if err != nil {
		return err
	}
	return inner.DeleteCompletion(ctx, habitID, day)
}

func (r *reconnectingStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.inner == nil {
		return nil
	}
	return r.inner.Close()
}

// FormatDay renders a YYYY-MM-DD day for humans, falling back to the raw value
func FormatDay(day string) string {
	t, err := time.Parse(constants.DateFormat, day)
	if err != nil {
		return day
	}
	return t.Format("Mon Jan 2")
}
