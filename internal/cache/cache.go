// Package cache holds the last-known categorized partition plus small
// per-category lookahead buffers, versioned and TTL-stamped, persisted
// write-through under a single storage key.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/signalworks/intake/internal/storage"
	"github.com/signalworks/intake/internal/types"
)

// SchemaVersion is bumped whenever the persisted entry layout changes.
// A mismatch on load evicts the entry; there is no migration path.
const SchemaVersion = 1

// DefaultTTL bounds how long an entry is served as fresh.
const DefaultTTL = 5 * time.Minute

// DefaultBufferCap bounds each category's lookahead buffer.
const DefaultBufferCap = 20

// Entry is the persisted cache record.
type Entry struct {
	SchemaVersion int                               `json:"schema_version"`
	CapturedAt    time.Time                         `json:"captured_at"`
	Scope         string                            `json:"scope"`
	Sets          types.CategorizedIDSet            `json:"sets"`
	Buffers       map[types.Category][]types.Record `json:"buffers"`
	LastFetch     map[types.Category]time.Time      `json:"last_fetch"`
}

// Store owns the cache entry. All mutating calls persist the full
// entry synchronously; expected cardinality is tens to low hundreds of
// ids, so the write cost is negligible.
type Store struct {
	kv        storage.KV
	key       string
	ttl       time.Duration
	bufferCap int
	now       func() time.Time

	mu    sync.Mutex
	entry *Entry // nil when absent
}

// Option configures a Store.
type Option func(*Store)

// WithTTL overrides the freshness window.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithBufferCap overrides the per-category lookahead cap.
func WithBufferCap(n int) Option {
	return func(s *Store) { s.bufferCap = n }
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore loads any persisted entry from kv under key. A missing,
// malformed, or schema-mismatched entry is a cold start, never an
// error.
func NewStore(ctx context.Context, kv storage.KV, key string, opts ...Option) (*Store, error) {
	s := &Store{
		kv:        kv,
		key:       key,
		ttl:       DefaultTTL,
		bufferCap: DefaultBufferCap,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	data, ok, err := kv.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if ok {
		s.entry = decodeEntry(data)
	}
	return s, nil
}

// decodeEntry fails closed: anything that does not decode into the
// current schema version is treated as absent.
func decodeEntry(data []byte) *Entry {
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		slog.Warn("discarding malformed cache entry",
			"component", "cache",
			"error", err,
		)
		return nil
	}
	if entry.SchemaVersion != SchemaVersion {
		slog.Info("discarding cache entry with stale schema",
			"component", "cache",
			"found_version", entry.SchemaVersion,
			"want_version", SchemaVersion,
		)
		return nil
	}
	// A decodable envelope with a null partition is still malformed;
	// loading it would hand out a nil map to ApplyMove.
	if entry.Sets == nil {
		slog.Warn("discarding cache entry with missing partition",
			"component", "cache",
			"scope", entry.Scope,
		)
		return nil
	}
	return &entry
}

// Get returns the cached partition for scope. fromCache is true only
// when the entry matches the scope and is within TTL. A stale entry
// still returns its id partition (usable for conflict comparison) with
// fromCache=false; the lookahead buffers are then unreliable and the
// caller should refetch.
func (s *Store) Get(scope string) (types.CategorizedIDSet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry == nil || s.entry.Scope != scope {
		return types.EmptySet(), false
	}
	fresh := s.now().Sub(s.entry.CapturedAt) < s.ttl
	return s.entry.Sets.Clone(), fresh
}

// Set overwrites the partition for scope with the current timestamp
// and schema version. Existing lookahead buffers are preserved when
// the scope matches.
func (s *Store) Set(ctx context.Context, scope string, sets types.CategorizedIDSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := &Entry{
		SchemaVersion: SchemaVersion,
		CapturedAt:    s.now(),
		Scope:         scope,
		Sets:          sets.Clone(),
		Buffers:       map[types.Category][]types.Record{},
		LastFetch:     map[types.Category]time.Time{},
	}
	if s.entry != nil && s.entry.Scope == scope {
		entry.Buffers = s.entry.Buffers
		entry.LastFetch = s.entry.LastFetch
	}
	s.entry = entry
	return s.persist(ctx)
}

// Invalidate drops the entry. An empty scope drops unconditionally;
// otherwise the drop happens only when the scope matches.
func (s *Store) Invalidate(ctx context.Context, scope string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if scope != "" && (s.entry == nil || s.entry.Scope != scope) {
		return nil
	}
	s.entry = nil
	return s.kv.Delete(ctx, s.key)
}

// BufferAppend FIFO-appends records to the category's lookahead
// buffer, evicting oldest entries beyond the cap. A no-op when no
// entry exists yet.
func (s *Store) BufferAppend(ctx context.Context, category types.Category, records []types.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry == nil || len(records) == 0 {
		return nil
	}
	if s.entry.Buffers == nil {
		s.entry.Buffers = map[types.Category][]types.Record{}
	}
	buffer := append(s.entry.Buffers[category], records...)
	if len(buffer) > s.bufferCap {
		buffer = buffer[len(buffer)-s.bufferCap:]
	}
	s.entry.Buffers[category] = buffer
	if s.entry.LastFetch == nil {
		s.entry.LastFetch = map[types.Category]time.Time{}
	}
	s.entry.LastFetch[category] = s.now()
	return s.persist(ctx)
}

// Buffer returns the current lookahead window for category.
func (s *Store) Buffer(category types.Category) []types.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry == nil {
		return nil
	}
	return append([]types.Record(nil), s.entry.Buffers[category]...)
}

// Buffers returns all lookahead windows.
func (s *Store) Buffers() map[types.Category][]types.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[types.Category][]types.Record{}
	if s.entry == nil {
		return out
	}
	for c, records := range s.entry.Buffers {
		out[c] = append([]types.Record(nil), records...)
	}
	return out
}

// ApplyMove applies an optimistic local move to the cached partition
// and persists it. A no-op when no entry exists for the scope.
func (s *Store) ApplyMove(ctx context.Context, scope string, id types.RecordID, from, to types.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry == nil || s.entry.Scope != scope {
		return nil
	}
	s.entry.Sets.Move(id, from, to)
	return s.persist(ctx)
}

func (s *Store) persist(ctx context.Context) error {
	data, err := json.Marshal(s.entry)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, s.key, data)
}
