// Package kv provides the persistence substrate for the local cache: a dumb
// string key/value store with no concurrency guarantees of its own.
package kv

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed substrate
var ErrClosed = errors.New("kv: substrate closed")

// Substrate is the key/value contract the cache persists through.
// Missing keys are simply absent from Get's result.
type Substrate interface {
	Get(ctx context.Context, keys ...string) (map[string]string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, keys ...string) error
	Close() error
}

// Watcher is implemented by substrates that can report writes made by other
// processes. The returned channel receives the changed key and is closed when
// ctx is cancelled or the substrate is closed.
type Watcher interface {
	Watch(ctx context.Context) (<-chan string, error)
}
