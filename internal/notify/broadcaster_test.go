package notify

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcaster_FanOut(t *testing.T) {
	b := NewBroadcaster[string]("test")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch1 := b.Subscribe(ctx)
	ch2 := b.Subscribe(ctx)
	require.Equal(t, 2, b.Len())

	b.Publish("changed")

	for _, ch := range []<-chan string{ch1, ch2} {
		select {
		case v := <-ch:
			assert.Equal(t, "changed", v)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive value")
		}
	}
}

func TestBroadcaster_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroadcaster[int]("test")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := b.Subscribe(ctx)

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBufferSize*3; i++ {
			b.Publish(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	assert.Len(t, ch, subscriberBufferSize)
}

func TestBroadcaster_UnsubscribeOnCancel(t *testing.T) {
	b := NewBroadcaster[int]("test")
	ctx, cancel := context.WithCancel(context.Background())

	ch := b.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after cancel")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
	assert.Eventually(t, func() bool { return b.Len() == 0 }, time.Second, 10*time.Millisecond)

	// Publishing after unsubscribe must not panic
	b.Publish(1)
}

func TestBroadcaster_Close(t *testing.T) {
	b := NewBroadcaster[int]("test")
	ch := b.Subscribe(context.Background())
	b.Close()

	_, ok := <-ch
	assert.False(t, ok)

	late := b.Subscribe(context.Background())
	_, ok = <-late
	assert.False(t, ok, "subscribe after Close should return a closed channel")
}

func TestBroadcaster_CloseReleasesWatchers(t *testing.T) {
	before := runtime.NumGoroutine()

	b := NewBroadcaster[int]("test")
	for i := 0; i < 10; i++ {
		b.Subscribe(context.Background())
	}
	require.GreaterOrEqual(t, runtime.NumGoroutine(), before+10)

	b.Close()
	b.Close()

	assert.Eventually(t, func() bool { return runtime.NumGoroutine() <= before }, 2*time.Second, 10*time.Millisecond,
		"subscriptions with a background context should not outlive Close")
}
