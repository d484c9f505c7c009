// Package lockfile keeps a single background daemon per config directory.
// The lock records "pid|metrics-addr"; a lock whose process is gone or is
// not habitgarden is stale and may be taken over.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mitchellh/go-ps"

	"github.com/julianstephens/habitgarden/internal/constants"
)

const FileName = "daemon.lock"

var (
	findProcessFunc = ps.FindProcess
	getpidFunc      = os.Getpid

	// ErrHeld is returned by Acquire while another daemon owns the lock
	ErrHeld = errors.New("daemon already running")
)

// Info describes the daemon holding the lock
type Info struct {
	PID         int
	MetricsAddr string
}

type Lock struct {
	path string
	info Info
}

// Path returns the lock location for a config directory
func Path(configDir string) string {
	return filepath.Join(configDir, FileName)
}

// Acquire takes the lock at path for the current process, replacing a stale lock
func Acquire(path, metricsAddr string) (*Lock, error) {
	if info, ok := Running(path); ok {
		return nil, fmt.Errorf("%w (pid %d)", ErrHeld, info.PID)
	}

	info := Info{PID: getpidFunc(), MetricsAddr: metricsAddr}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	content := fmt.Sprintf("%d|%s", info.PID, info.MetricsAddr)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return nil, fmt.Errorf("failed to write lockfile: %w", err)
	}
	return &Lock{path: path, info: info}, nil
}

// Release removes the lock if this process still owns it
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	info, err := read(l.path)
	if err != nil || info.PID != l.info.PID {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Running reports the daemon holding the lock at path, if it is alive
func Running(path string) (Info, bool) {
	info, err := read(path)
	if err != nil {
		return Info{}, false
	}

	process, err := findProcessFunc(info.PID)
	if err != nil || process == nil {
		return Info{}, false
	}
	if !strings.HasPrefix(process.Executable(), constants.AppName) {
		return Info{}, false
	}
	return info, true
}

func read(path string) (Info, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Info{}, err
	}

	parts := strings.SplitN(strings.TrimSpace(string(content)), "|", 2)
	if len(parts) != 2 {
		return Info{}, errors.New("lockfile is malformed")
	}
	pid, err := strconv.Atoi(parts[0])
	if err != nil || pid <= 0 {
		return Info{}, errors.New("invalid process ID in lockfile")
	}
	return Info{PID: pid, MetricsAddr: parts[1]}, nil
}
