// Package queue persists pending category-change mutations and
// replays them against the categorization service with bounded retry.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/signalworks/intake/internal/storage"
	"github.com/signalworks/intake/internal/types"
)

// DefaultMaxRetries bounds replay attempts per item.
const DefaultMaxRetries = 3

// CategoryWriter is the external category-write operation. The write
// is an idempotent overwrite: last write wins, which is why replay
// order must equal mutation order and deduplication is unnecessary.
type CategoryWriter interface {
	SetCategory(ctx context.Context, id types.RecordID, category types.Category) error
}

// Sink is the fire-and-forget teardown transport. TrySend reports
// whether the transmission attempt was accepted, never whether the
// server processed it.
type Sink interface {
	TrySend(payload []byte) bool
}

type queueState struct {
	Items []types.SyncQueueItem `json:"items"`
}

// Manager owns the pending-mutation list. The list is persisted
// write-through under its own storage key, disjoint from the cache
// key, so a crash mid-sync cannot corrupt either.
type Manager struct {
	kv         storage.KV
	key        string
	writer     CategoryWriter
	sink       Sink
	maxRetries int
	now        func() time.Time

	mu    sync.Mutex
	items []types.SyncQueueItem

	inProgress atomic.Bool
	dropped    atomic.Int64
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxRetries overrides the retry bound.
func WithMaxRetries(n int) Option {
	return func(m *Manager) { m.maxRetries = n }
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager loads any persisted queue from kv under key. A malformed
// persisted queue is treated as empty, never as an error.
func NewManager(ctx context.Context, kv storage.KV, key string, writer CategoryWriter, sink Sink, opts ...Option) (*Manager, error) {
	m := &Manager{
		kv:         kv,
		key:        key,
		writer:     writer,
		sink:       sink,
		maxRetries: DefaultMaxRetries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	data, ok, err := kv.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if ok {
		var state queueState
		if err := json.Unmarshal(data, &state); err != nil {
			slog.Warn("discarding malformed sync queue",
				"component", "queue",
				"error", err,
			)
		} else {
			m.items = state.Items
		}
	}
	return m, nil
}

// Enqueue appends a new mutation with retryCount 0 and persists the
// whole queue. Moving the same record twice produces two ordered
// entries on purpose.
func (m *Manager) Enqueue(ctx context.Context, id types.RecordID, from, to types.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = append(m.items, types.SyncQueueItem{
		ID:           ulid.Make().String(),
		RecordID:     id,
		FromCategory: from,
		ToCategory:   to,
		CreatedAt:    m.now(),
		RetryCount:   0,
	})
	return m.persistLocked(ctx)
}

// Pending returns the current queue length.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Items returns a snapshot of the pending mutations.
func (m *Manager) Items() []types.SyncQueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.SyncQueueItem(nil), m.items...)
}

// Dropped returns how many mutations were dropped after exhausting the
// retry budget since the manager was constructed.
func (m *Manager) Dropped() int64 {
	return m.dropped.Load()
}

// ProcessQueue replays the queued mutations sequentially so the server
// never observes out-of-order category assignments for a record within
// a pass. Success removes an item; failure below the retry bound keeps
// it with an incremented count; failure at the bound drops it with a
// warning. Mutations enqueued while the pass runs are untouched.
//
// An in-progress flag prevents overlapping passes; it is cleared in a
// defer so a failure mid-pass cannot wedge future cycles.
func (m *Manager) ProcessQueue(ctx context.Context) error {
	if !m.inProgress.CompareAndSwap(false, true) {
		return nil
	}
	defer m.inProgress.Store(false)

	snapshot := m.Items()
	if len(snapshot) == 0 {
		return nil
	}

	removed := make(map[string]bool)
	retried := make(map[string]int)

	for _, item := range snapshot {
		if ctx.Err() != nil {
			break
		}

		err := m.writer.SetCategory(ctx, item.RecordID, item.ToCategory)
		if err == nil {
			removed[item.ID] = true
			continue
		}

		// A call cut short by shutdown is not a replay failure; the
		// item keeps its retry count and the pass ends here.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}

		if item.RetryCount+1 >= m.maxRetries {
			removed[item.ID] = true
			m.dropped.Add(1)
			slog.Warn("dropping mutation after exhausting retries",
				"component", "queue",
				"item_id", item.ID,
				"record_id", item.RecordID,
				"to_category", item.ToCategory,
				"retries", item.RetryCount+1,
				"error", err,
			)
			continue
		}

		retried[item.ID] = item.RetryCount + 1
		slog.Debug("mutation replay failed, will retry",
			"component", "queue",
			"item_id", item.ID,
			"record_id", item.RecordID,
			"retry_count", item.RetryCount+1,
			"error", err,
		)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.items[:0]
	for _, item := range m.items {
		if removed[item.ID] {
			continue
		}
		if count, ok := retried[item.ID]; ok {
			item.RetryCount = count
		}
		kept = append(kept, item)
	}
	m.items = kept

	// A pass cut short by shutdown still persists its progress;
	// successful writes are already on the server.
	persistCtx := ctx
	if ctx.Err() != nil {
		persistCtx = context.Background()
	}
	return m.persistLocked(persistCtx)
}

// FinalFlush serializes the entire pending queue into one payload and
// hands it to the best-effort sink. It never blocks on a server
// response. On acceptance the local queue is cleared optimistically;
// on rejection it is left untouched so the caller can warn about
// possible data loss.
func (m *Manager) FinalFlush() bool {
	snapshot := m.Items()
	if len(snapshot) == 0 {
		return true
	}

	payload, err := json.Marshal(types.FlushPayload{
		Items:     snapshot,
		Timestamp: m.now(),
	})
	if err != nil {
		slog.Error("failed to serialize flush payload",
			"component", "queue",
			"error", err,
		)
		return false
	}

	// The send happens outside the lock so Enqueue and Pending stay
	// responsive while the sink is in flight.
	if !m.sink.TrySend(payload) {
		slog.Warn("teardown flush rejected, queue preserved",
			"component", "queue",
			"pending", len(snapshot),
		)
		return false
	}

	flushed := make(map[string]bool, len(snapshot))
	for _, item := range snapshot {
		flushed[item.ID] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.items[:0]
	for _, item := range m.items {
		if !flushed[item.ID] {
			kept = append(kept, item)
		}
	}
	m.items = kept
	if err := m.persistLocked(context.Background()); err != nil {
		slog.Error("failed to clear queue after flush",
			"component", "queue",
			"error", err,
		)
	}
	slog.Info("teardown flush accepted",
		"component", "queue",
		"flushed", len(snapshot),
	)
	return true
}

func (m *Manager) persistLocked(ctx context.Context) error {
	state := queueState{Items: append([]types.SyncQueueItem(nil), m.items...)}
	if state.Items == nil {
		state.Items = []types.SyncQueueItem{}
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return m.kv.Set(ctx, m.key, data)
}
