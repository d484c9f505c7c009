// Package notify is an in-memory fan-out of change notifications
package notify

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/julianstephens/habitgarden/internal/logger"
)

// subscriberBufferSize is the channel buffer for each subscriber
const subscriberBufferSize = 32

// Broadcaster delivers values to every subscriber without ever blocking the
// publisher. A subscriber that falls behind loses values rather than stalling
// the sync loop.
type Broadcaster[T any] struct {
	name string

	mu          sync.RWMutex
	subscribers map[string]chan T
	closed      bool
	// done is closed by Close and releases the per-subscriber watchers
	done chan struct{}
}

func NewBroadcaster[T any](name string) *Broadcaster[T] {
	return &Broadcaster[T]{
		name:        name,
		subscribers: make(map[string]chan T),
		done:        make(chan struct{}),
	}
}

// Subscribe registers a subscriber. The channel is closed when ctx is
// cancelled or the broadcaster is closed.
func (b *Broadcaster[T]) Subscribe(ctx context.Context) <-chan T {
	subID := uuid.New().String()
	ch := make(chan T, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch
	}
	b.subscribers[subID] = ch
	b.mu.Unlock()

	logger.Debug("Subscriber added", "broadcaster", b.name, "sub_id", subID)

	go func() {
		select {
		case <-ctx.Done():
			b.unsubscribe(subID)
		case <-b.done:
		}
	}()

	return ch
}

// Publish sends v to all subscribers, dropping it for any whose buffer is full
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- v:
		default:
			logger.Debug("Dropped notification for slow subscriber", "broadcaster", b.name, "sub_id", id)
		}
	}
}

func (b *Broadcaster[T]) unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subscribers[subID]
	if !ok {
		return
	}
	delete(b.subscribers, subID)
	close(ch)
}

// Len returns the number of live subscribers
func (b *Broadcaster[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes every subscriber channel. Later Subscribe calls get a closed channel.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
	b.closed = true
	close(b.done)
}
