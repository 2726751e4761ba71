// Package engine owns the background sync lifecycle for one board
// scope: it schedules queue replay and conflict checks while online,
// applies optimistic moves, and makes one best-effort flush attempt at
// teardown so pending mutations are not silently lost.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/signalworks/intake/internal/cache"
	"github.com/signalworks/intake/internal/conflict"
	"github.com/signalworks/intake/internal/connectivity"
	"github.com/signalworks/intake/internal/queue"
	"github.com/signalworks/intake/internal/types"
)

// DefaultSyncInterval drives the steady-state replay + conflict-check
// timer while online.
const DefaultSyncInterval = 2 * time.Minute

// ErrFlushRejected is returned by Stop when the teardown flush was not
// accepted; the pending queue is preserved and the caller should warn
// about possible data loss.
var ErrFlushRejected = errors.New("engine: teardown flush rejected, pending mutations preserved")

// ErrInvalidCategory is returned by MoveRecord for unknown buckets.
var ErrInvalidCategory = errors.New("engine: invalid category")

// RemoteClient is the categorization-service surface the engine reads.
// Category writes go through the sync queue, never directly.
type RemoteClient interface {
	ListCategorizedIDs(ctx context.Context, scope string) (types.CategorizedIDSet, error)
	ListRecords(ctx context.Context, scope string, category types.Category, limit int) ([]types.Record, error)
}

// Engine wires the cache store, sync queue, connectivity monitor, and
// conflict detection behind the operations the board UI consumes.
type Engine struct {
	scope    string
	cache    *cache.Store
	queue    *queue.Manager
	remote   RemoteClient
	detector *conflict.Detector
	monitor  connectivity.Monitor
	interval time.Duration
	now      func() time.Time

	// inProgress serializes passes so a timer tick cannot run
	// concurrently with a reconnect-triggered pass.
	inProgress atomic.Bool

	mu            sync.Mutex
	conflictFn    func([]types.Conflict)
	lastSync      *time.Time
	lastConflicts []types.Conflict

	kick   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithSyncInterval overrides the steady-state timer.
func WithSyncInterval(d time.Duration) Option {
	return func(e *Engine) { e.interval = d }
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine for scope with injected dependencies.
func New(scope string, cacheStore *cache.Store, queueManager *queue.Manager, remote RemoteClient, monitor connectivity.Monitor, opts ...Option) *Engine {
	e := &Engine{
		scope:    scope,
		cache:    cacheStore,
		queue:    queueManager,
		remote:   remote,
		detector: conflict.NewDetector(remote),
		monitor:  monitor,
		interval: DefaultSyncInterval,
		now:      time.Now,
		kick:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start subscribes to connectivity transitions and launches the
// background scheduler. If the persisted queue is non-empty and the
// monitor reports online, one immediate pass is triggered.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)

	e.monitor.OnChange(func(online bool) {
		if !online {
			return
		}
		// Edge-triggered: one pass per offline→online transition,
		// coalesced with any pass already requested.
		e.requestPass()
	})

	if e.monitor.Online() && e.queue.Pending() > 0 {
		e.requestPass()
	}

	e.wg.Add(1)
	go e.loop(ctx)

	slog.Info("engine started",
		"component", "engine",
		"scope", e.scope,
		"pending", e.queue.Pending(),
		"online", e.monitor.Online(),
	)
}

// Stop terminates the scheduler, then makes the one best-effort flush
// attempt for any still-pending mutations. ErrFlushRejected means the
// queue survives locally but delivery could not be attempted.
func (e *Engine) Stop() error {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()

	if e.queue.Pending() == 0 {
		slog.Info("engine stopped", "component", "engine", "scope", e.scope)
		return nil
	}
	if !e.queue.FinalFlush() {
		return ErrFlushRejected
	}
	slog.Info("engine stopped", "component", "engine", "scope", e.scope)
	return nil
}

// GetCachedData returns the cached partition for scope.
func (e *Engine) GetCachedData(scope string) (types.CategorizedIDSet, bool) {
	return e.cache.Get(scope)
}

// Buffers returns the lookahead windows for the board response.
func (e *Engine) Buffers() map[types.Category][]types.Record {
	return e.cache.Buffers()
}

// MoveRecord applies the optimistic local update and enqueues the
// mutation for replay. The UI reflects the move immediately; the
// server catches up on the next pass.
func (e *Engine) MoveRecord(ctx context.Context, id types.RecordID, from, to types.Category) error {
	if !from.Valid() || !to.Valid() {
		return ErrInvalidCategory
	}
	if err := e.cache.ApplyMove(ctx, e.scope, id, from, to); err != nil {
		return err
	}
	return e.queue.Enqueue(ctx, id, from, to)
}

// OnConflict registers the callback invoked with conflict results
// after each background pass. Only one callback is held; the UI layer
// fans out.
func (e *Engine) OnConflict(fn func([]types.Conflict)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.conflictFn = fn
}

// PendingCount returns the current queue length for the sync-status
// indicator.
func (e *Engine) PendingCount() int {
	return e.queue.Pending()
}

// Scope returns the scope this engine owns.
func (e *Engine) Scope() string {
	return e.scope
}

// Online reports the monitor's current state.
func (e *Engine) Online() bool {
	return e.monitor.Online()
}

// Status assembles the sync-status snapshot for the UI.
func (e *Engine) Status() types.SyncStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return types.SyncStatus{
		Online:        e.monitor.Online(),
		PendingCount:  e.queue.Pending(),
		DroppedCount:  e.queue.Dropped(),
		LastSync:      e.lastSync,
		LastConflicts: append([]types.Conflict(nil), e.lastConflicts...),
	}
}

// CheckConflicts runs an on-demand divergence check against the
// authoritative partition without touching the cache or the queue.
func (e *Engine) CheckConflicts(ctx context.Context) ([]types.Conflict, error) {
	cached, _ := e.cache.Get(e.scope)
	return e.detector.Detect(ctx, e.scope, cached)
}

// SyncNow requests an immediate pass, coalesced with any already
// pending request.
func (e *Engine) SyncNow() {
	e.requestPass()
}

func (e *Engine) requestPass() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

func (e *Engine) loop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Ticks while offline are skipped; the reconnect edge
			// re-arms the cadence below.
			if e.monitor.Online() {
				e.runPass(ctx)
			}
		case <-e.kick:
			ticker.Reset(e.interval)
			e.runPass(ctx)
		}
	}
}

// runPass replays the queue, then refreshes the partition and checks
// for divergence. The in-progress flag is cleared in a defer so a
// failure mid-pass cannot wedge future cycles.
func (e *Engine) runPass(ctx context.Context) {
	if !e.inProgress.CompareAndSwap(false, true) {
		return
	}
	defer e.inProgress.Store(false)

	if !e.monitor.Online() {
		return
	}

	if err := e.queue.ProcessQueue(ctx); err != nil {
		slog.Error("queue replay failed",
			"component", "engine",
			"scope", e.scope,
			"error", err,
		)
		return
	}

	e.refresh(ctx)
}

// refresh fetches the authoritative partition, reports divergence
// against the cached one, overwrites the cache, and refills empty
// lookahead buffers.
func (e *Engine) refresh(ctx context.Context) {
	server, err := e.remote.ListCategorizedIDs(ctx, e.scope)
	if err != nil {
		slog.Warn("partition refresh failed",
			"component", "engine",
			"scope", e.scope,
			"error", err,
		)
		return
	}

	cached, _ := e.cache.Get(e.scope)
	conflicts := conflict.Diff(cached, server)

	e.mu.Lock()
	now := e.now()
	e.lastSync = &now
	e.lastConflicts = conflicts
	fn := e.conflictFn
	e.mu.Unlock()

	if len(conflicts) > 0 {
		slog.Info("divergence detected",
			"component", "engine",
			"scope", e.scope,
			"conflicts", len(conflicts),
		)
	}
	if fn != nil {
		fn(conflicts)
	}

	if err := e.cache.Set(ctx, e.scope, server); err != nil {
		slog.Error("cache refresh failed",
			"component", "engine",
			"scope", e.scope,
			"error", err,
		)
		return
	}

	e.refillBuffers(ctx, server)
}

// refillBuffers fetches full records for categories whose lookahead
// window is empty. Populated windows are left alone; BufferAppend owns
// the FIFO trim.
func (e *Engine) refillBuffers(ctx context.Context, sets types.CategorizedIDSet) {
	for _, category := range types.Categories {
		if len(sets[category]) == 0 || len(e.cache.Buffer(category)) > 0 {
			continue
		}
		records, err := e.remote.ListRecords(ctx, e.scope, category, cache.DefaultBufferCap)
		if err != nil {
			slog.Debug("lookahead refill failed",
				"component", "engine",
				"scope", e.scope,
				"category", category,
				"error", err,
			)
			continue
		}
		if err := e.cache.BufferAppend(ctx, category, records); err != nil {
			slog.Error("lookahead persist failed",
				"component", "engine",
				"scope", e.scope,
				"category", category,
				"error", err,
			)
		}
	}
}
