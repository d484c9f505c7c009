package kv

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/julianstephens/habitgarden/internal/logger"
)

const fileSuffix = ".kv"

// FileStore keeps one file per key inside a directory. Writes go to a temp
// file that is renamed into place, so readers never see a partial value.
type FileStore struct {
	dir string

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	closed  bool
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) pathFor(key string) string {
	return filepath.Join(s.dir, url.PathEscape(key)+fileSuffix)
}

func (s *FileStore) keyFor(path string) (string, bool) {
	name := filepath.Base(path)
	if !strings.HasSuffix(name, fileSuffix) {
		return "", false
	}
	key, err := url.PathUnescape(strings.TrimSuffix(name, fileSuffix))
	if err != nil {
		return "", false
	}
	return key, true
}

func (s *FileStore) Get(ctx context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(s.pathFor(k))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read %q: %w", k, err)
		}
		out[k] = string(data)
	}
	return out, nil
}

func (s *FileStore) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %q: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, s.pathFor(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %q: %w", key, err)
	}
	return nil
}

func (s *FileStore) Remove(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := os.Remove(s.pathFor(k)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %q: %w", k, err)
		}
	}
	return nil
}

// Watch reports keys written or removed in the store directory, including
// writes made by this process.
func (s *FileStore) Watch(ctx context.Context) (<-chan string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if s.watcher != nil {
		return nil, fmt.Errorf("watcher already running")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := w.Add(s.dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", s.dir, err)
	}
	s.watcher = w

	out := make(chan string, 16)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				s.stopWatcher()
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				// Temp files are renamed into place, so Create covers replaced keys
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Remove) {
					continue
				}
				key, ok := s.keyFor(event.Name)
				if !ok {
					continue
				}
				select {
				case out <- key:
				default:
					// A pending notification for a key already tells the reader to re-read
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn("Cache directory watcher error", "dir", s.dir, "error", err)
			}
		}
	}()

	return out, nil
}

func (s *FileStore) stopWatcher() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher != nil {
		s.watcher.Close()
		s.watcher = nil
	}
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.watcher != nil {
		err := s.watcher.Close()
		s.watcher = nil
		return err
	}
	return nil
}
