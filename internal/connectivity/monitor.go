// Package connectivity tracks online/offline transitions of the
// categorization service and reports them to subscribers.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultProbeInterval is how often the probe monitor re-checks
// connectivity.
const DefaultProbeInterval = 15 * time.Second

// Monitor exposes one boolean online signal. Transitions are reported
// immediately and without debouncing; coalescing flapping transitions
// is the subscriber's job.
type Monitor interface {
	// Online reports the current connectivity state.
	Online() bool

	// OnChange registers a callback invoked on every transition with
	// the new state. Callbacks run sequentially on the monitor's
	// goroutine and must not block for long.
	OnChange(fn func(online bool))
}

// Prober is the health-check the probe monitor polls.
type Prober interface {
	Health(ctx context.Context) error
}

// ProbeMonitor derives the online signal by polling the service health
// endpoint. The initial state is checked synchronously at Start.
type ProbeMonitor struct {
	prober   Prober
	interval time.Duration

	mu        sync.Mutex
	online    bool
	callbacks []func(bool)

	cancel context.CancelFunc
	done   chan struct{}
}

// NewProbeMonitor creates a monitor polling prober every interval.
// A non-positive interval falls back to the default.
func NewProbeMonitor(prober Prober, interval time.Duration) *ProbeMonitor {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	return &ProbeMonitor{
		prober:   prober,
		interval: interval,
	}
}

// Start checks connectivity synchronously, then polls in the
// background until Stop or ctx cancellation.
func (m *ProbeMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	m.online = m.probe(ctx)
	m.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.loop(ctx)
}

// Stop terminates the polling loop and waits for it to exit.
func (m *ProbeMonitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

// Online reports the last observed state.
func (m *ProbeMonitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// OnChange registers a transition callback.
func (m *ProbeMonitor) OnChange(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

func (m *ProbeMonitor) loop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *ProbeMonitor) check(ctx context.Context) {
	online := m.probe(ctx)

	m.mu.Lock()
	changed := online != m.online
	m.online = online
	callbacks := append([]func(bool){}, m.callbacks...)
	m.mu.Unlock()

	if !changed {
		return
	}

	slog.Info("connectivity changed",
		"component", "connectivity",
		"online", online,
	)
	for _, fn := range callbacks {
		fn(online)
	}
}

func (m *ProbeMonitor) probe(ctx context.Context) bool {
	return m.prober.Health(ctx) == nil
}
