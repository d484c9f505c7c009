// Package backup snapshots the cached envelope to timestamped files so that
// queued, not yet synced completions survive a damaged cache.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/julianstephens/habitgarden/internal/cache"
	"github.com/julianstephens/habitgarden/internal/constants"
	"github.com/julianstephens/habitgarden/internal/kv"
	"github.com/julianstephens/habitgarden/internal/logger"
)

const (
	// MaxBackups is the maximum number of backups to keep
	MaxBackups = 14
	// BackupDirName is the name of the backup directory
	BackupDirName = "backups"
	// BackupFilePrefix is the prefix for backup files
	BackupFilePrefix = "envelope-"
	// BackupFileSuffix is the suffix for backup files
	BackupFileSuffix = ".json"

	timestampFormat = "20060102-150405"
)

var (
	// ErrNothingToBackup is returned when the substrate holds no envelope yet
	ErrNothingToBackup = errors.New("no cached data to back up")
	// ErrInvalidBackup is returned for files that do not decode as a current envelope
	ErrInvalidBackup = errors.New("backup is not a valid cache envelope")
)

// BackupInfo contains information about a backup file
type BackupInfo struct {
	Path      string
	Timestamp time.Time
	Size      int64
}

// Manager handles backup operations
type Manager struct {
	sub       kv.Substrate
	backupDir string
	now       func() time.Time
}

// NewManager keeps backups of sub's envelope under configDir/backups
func NewManager(sub kv.Substrate, configDir string) *Manager {
	return &Manager{
		sub:       sub,
		backupDir: filepath.Join(configDir, BackupDirName),
		now:       time.Now,
	}
}

// GetBackupDir returns the backup directory path
func (m *Manager) GetBackupDir() string {
	return m.backupDir
}

// CreateBackup writes the current envelope to a new backup file and prunes
// the oldest files beyond MaxBackups.
func (m *Manager) CreateBackup(ctx context.Context) (string, error) {
	return m.createBackup(ctx, false)
}

// skipRotation keeps restore from pruning the file it is about to restore
func (m *Manager) createBackup(ctx context.Context, skipRotation bool) (string, error) {
	vals, err := m.sub.Get(ctx, constants.EnvelopeKey)
	if err != nil {
		return "", fmt.Errorf("reading cache: %w", err)
	}
	raw, ok := vals[constants.EnvelopeKey]
	if !ok || raw == "" {
		return "", ErrNothingToBackup
	}

	if err := os.MkdirAll(m.backupDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	path, err := m.nextPath()
	if err != nil {
		return "", err
	}
	if err := writeFileAtomic(path, []byte(raw)); err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}

	if !skipRotation {
		if err := m.rotateBackups(); err != nil {
			logger.Warn("Failed to rotate old backups", "error", err)
		}
	}
	return path, nil
}

// nextPath picks an unused file name, adding a counter when two backups
// land in the same second.
func (m *Manager) nextPath() (string, error) {
	stamp := m.now().UTC().Format(timestampFormat)
	path := filepath.Join(m.backupDir, BackupFilePrefix+stamp+BackupFileSuffix)
	for counter := 1; ; counter++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path, nil
		}
		if counter > 100 {
			return "", fmt.Errorf("failed to generate unique backup filename")
		}
		path = filepath.Join(m.backupDir, fmt.Sprintf("%s%s-%d%s", BackupFilePrefix, stamp, counter, BackupFileSuffix))
	}
}

// parseName returns the timestamp and collision counter encoded in a backup file name
func parseName(name string) (time.Time, int, bool) {
	if !strings.HasPrefix(name, BackupFilePrefix) || !strings.HasSuffix(name, BackupFileSuffix) {
		return time.Time{}, 0, false
	}
	stem := strings.TrimSuffix(strings.TrimPrefix(name, BackupFilePrefix), BackupFileSuffix)

	counter := 0
	if len(stem) > len(timestampFormat) && stem[len(timestampFormat)] == '-' {
		n, err := strconv.Atoi(stem[len(timestampFormat)+1:])
		if err != nil {
			return time.Time{}, 0, false
		}
		counter = n
		stem = stem[:len(timestampFormat)]
	}

	ts, err := time.Parse(timestampFormat, stem)
	if err != nil {
		return time.Time{}, 0, false
	}
	return ts, counter, true
}

// ListBackups returns a list of all available backups, sorted by timestamp (newest first)
func (m *Manager) ListBackups() ([]BackupInfo, error) {
	entries, err := os.ReadDir(m.backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []BackupInfo{}, nil
		}
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	type entry struct {
		info    BackupInfo
		counter int
	}
	var found []entry
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ts, counter, ok := parseName(e.Name())
		if !ok {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		found = append(found, entry{
			info:    BackupInfo{Path: filepath.Join(m.backupDir, e.Name()), Timestamp: ts, Size: fi.Size()},
			counter: counter,
		})
	}

	sort.Slice(found, func(i, j int) bool {
		if !found[i].info.Timestamp.Equal(found[j].info.Timestamp) {
			return found[i].info.Timestamp.After(found[j].info.Timestamp)
		}
		return found[i].counter > found[j].counter
	})

	backups := make([]BackupInfo, len(found))
	for i, f := range found {
		backups[i] = f.info
	}
	return backups, nil
}

// rotateBackups removes old backups beyond the retention limit
func (m *Manager) rotateBackups() error {
	backups, err := m.ListBackups()
	if err != nil {
		return err
	}
	for i := MaxBackups; i < len(backups); i++ {
		if err := os.Remove(backups[i].Path); err != nil {
			return fmt.Errorf("failed to remove old backup %s: %w", backups[i].Path, err)
		}
	}
	return nil
}

// RestoreBackup replaces the cached envelope with the one in backupPath.
// The current envelope, if any, is backed up first. No sync service may be
// running against the substrate while restoring.
func (m *Manager) RestoreBackup(ctx context.Context, backupPath string) error {
	data, err := os.ReadFile(backupPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("backup file does not exist: %s", backupPath)
		}
		return fmt.Errorf("failed to read backup: %w", err)
	}
	if err := Verify(ctx, data); err != nil {
		return err
	}

	current, err := m.createBackup(ctx, true)
	switch {
	case err == nil:
		logger.Info("Backed up current cache before restore", "path", current)
	case errors.Is(err, ErrNothingToBackup):
	default:
		return fmt.Errorf("failed to back up current cache before restore: %w", err)
	}

	if err := m.sub.Set(ctx, constants.EnvelopeKey, string(data)); err != nil {
		return fmt.Errorf("failed to restore cache: %w", err)
	}
	return nil
}

// Verify reports whether data decodes as an envelope of the current schema
func Verify(ctx context.Context, data []byte) error {
	scratch := kv.NewMemoryStore()
	defer scratch.Close()

	if err := scratch.Set(ctx, constants.EnvelopeKey, string(data)); err != nil {
		return err
	}
	if _, ok := cache.New(scratch).Load(ctx); !ok {
		return ErrInvalidBackup
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".backup-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
