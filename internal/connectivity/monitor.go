// Package connectivity tracks whether the remote store is reachable and
// whether the user is looking at the app.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/julianstephens/habitgarden/internal/logger"
	"github.com/julianstephens/habitgarden/internal/metrics"
	"github.com/julianstephens/habitgarden/internal/notify"
)

// State is a snapshot of both signals
type State struct {
	Online  bool
	Visible bool
}

// Pinger is anything that can check reachability of the remote store
type Pinger interface {
	Ping(ctx context.Context) error
}

type Monitor struct {
	mu    sync.RWMutex
	state State

	changes *notify.Broadcaster[State]
}

func NewMonitor(online, visible bool) *Monitor {
	metrics.SetOnline(online)
	return &Monitor{
		state:   State{Online: online, Visible: visible},
		changes: notify.NewBroadcaster[State]("connectivity"),
	}
}

func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Monitor) Online() bool {
	return m.State().Online
}

func (m *Monitor) Visible() bool {
	return m.State().Visible
}

func (m *Monitor) SetOnline(online bool) {
	m.update(func(s *State) { s.Online = online })
}

func (m *Monitor) SetVisible(visible bool) {
	m.update(func(s *State) { s.Visible = visible })
}

func (m *Monitor) update(fn func(*State)) {
	m.mu.Lock()
	prev := m.state
	fn(&m.state)
	next := m.state
	m.mu.Unlock()

	if prev == next {
		return
	}
	if prev.Online != next.Online {
		metrics.SetOnline(next.Online)
		logger.Info("Connectivity changed", "online", next.Online)
	}
	m.changes.Publish(next)
}

// Subscribe returns a channel receiving every state transition until ctx is done
func (m *Monitor) Subscribe(ctx context.Context) <-chan State {
	return m.changes.Subscribe(ctx)
}

// Probe pings p immediately and then every interval, updating the online flag
// from the result. It returns when ctx is done.
func (m *Monitor) Probe(ctx context.Context, p Pinger, interval time.Duration) {
	check := func() {
		pingCtx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()
		err := p.Ping(pingCtx)
		if err != nil && ctx.Err() == nil {
			logger.Debug("Remote ping failed", "error", err)
		}
		if ctx.Err() != nil {
			return
		}
		m.SetOnline(err == nil)
	}

	check()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}

// Close releases all subscribers
func (m *Monitor) Close() {
	m.changes.Close()
}
