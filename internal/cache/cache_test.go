package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/signalworks/intake/internal/storage"
	"github.com/signalworks/intake/internal/types"
)

const testKey = "board/cache"

// fakeClock lets tests advance time deterministically.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(t *testing.T, kv storage.KV, opts ...Option) *Store {
	t.Helper()
	s, err := NewStore(context.Background(), kv, testKey, opts...)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func samplePartition() types.CategorizedIDSet {
	sets := types.EmptySet()
	sets[types.CategoryNew] = []types.RecordID{1, 2, 3}
	sets[types.CategoryActioned] = []types.RecordID{7}
	return sets
}

func TestStore_GetColdStart(t *testing.T) {
	s := newTestStore(t, storage.NewMemoryKV())

	sets, fromCache := s.Get("ws-1")
	if fromCache {
		t.Error("expected fromCache=false on cold start")
	}
	if sets.Total() != 0 {
		t.Errorf("expected empty partition, got %d ids", sets.Total())
	}
}

func TestStore_SetThenGetIsFresh(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, storage.NewMemoryKV(), WithClock(clock.Now))

	if err := s.Set(context.Background(), "ws-1", samplePartition()); err != nil {
		t.Fatalf("Set: %v", err)
	}

	sets, fromCache := s.Get("ws-1")
	if !fromCache {
		t.Error("expected fromCache=true immediately after Set")
	}
	if got := sets[types.CategoryNew]; len(got) != 3 || got[0] != 1 {
		t.Errorf("new bucket = %v, want [1 2 3]", got)
	}
}

func TestStore_FreshnessBoundary(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, storage.NewMemoryKV(),
		WithClock(clock.Now), WithTTL(5*time.Minute))

	if err := s.Set(context.Background(), "ws-1", samplePartition()); err != nil {
		t.Fatalf("Set: %v", err)
	}

	clock.Advance(5*time.Minute - time.Second)
	if _, fromCache := s.Get("ws-1"); !fromCache {
		t.Error("expected fresh just inside TTL")
	}

	clock.Advance(2 * time.Second)
	sets, fromCache := s.Get("ws-1")
	if fromCache {
		t.Error("expected stale past TTL")
	}
	// The id partition stays usable for conflict comparison.
	if sets.Total() != 4 {
		t.Errorf("stale partition lost ids: got %d, want 4", sets.Total())
	}
}

func TestStore_ScopeMismatchReturnsEmpty(t *testing.T) {
	s := newTestStore(t, storage.NewMemoryKV())

	if err := s.Set(context.Background(), "ws-1", samplePartition()); err != nil {
		t.Fatalf("Set: %v", err)
	}

	sets, fromCache := s.Get("ws-2")
	if fromCache || sets.Total() != 0 {
		t.Errorf("Get other scope = %d ids, fromCache=%v; want empty, false", sets.Total(), fromCache)
	}
}

func TestStore_PersistsAcrossReload(t *testing.T) {
	kv := storage.NewMemoryKV()
	ctx := context.Background()

	first := newTestStore(t, kv)
	if err := first.Set(ctx, "ws-1", samplePartition()); err != nil {
		t.Fatalf("Set: %v", err)
	}

	reloaded := newTestStore(t, kv)
	sets, fromCache := reloaded.Get("ws-1")
	if !fromCache {
		t.Error("expected fresh entry after reload")
	}
	if got := sets[types.CategoryActioned]; len(got) != 1 || got[0] != 7 {
		t.Errorf("actioned bucket = %v, want [7]", got)
	}
}

func TestStore_SchemaMismatchEvicts(t *testing.T) {
	kv := storage.NewMemoryKV()
	ctx := context.Background()

	stale := Entry{
		SchemaVersion: SchemaVersion + 1,
		CapturedAt:    time.Now(),
		Scope:         "ws-1",
		Sets:          samplePartition(),
	}
	data, err := json.Marshal(stale)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := kv.Set(ctx, testKey, data); err != nil {
		t.Fatalf("seed kv: %v", err)
	}

	s := newTestStore(t, kv)
	sets, fromCache := s.Get("ws-1")
	if fromCache || sets.Total() != 0 {
		t.Errorf("schema mismatch should evict: got %d ids, fromCache=%v", sets.Total(), fromCache)
	}
}

func TestStore_MalformedEntryIsColdStart(t *testing.T) {
	kv := storage.NewMemoryKV()
	if err := kv.Set(context.Background(), testKey, []byte("{not json")); err != nil {
		t.Fatalf("seed kv: %v", err)
	}

	s := newTestStore(t, kv)
	if sets, fromCache := s.Get("ws-1"); fromCache || sets.Total() != 0 {
		t.Error("malformed entry should decode as absent")
	}
}

func TestStore_NullPartitionIsColdStart(t *testing.T) {
	kv := storage.NewMemoryKV()
	ctx := context.Background()

	// Right schema version, but the partition itself is null.
	seed := []byte(`{"schema_version":1,"scope":"ws-1","sets":null}`)
	if err := kv.Set(ctx, testKey, seed); err != nil {
		t.Fatalf("seed kv: %v", err)
	}

	s := newTestStore(t, kv)
	if sets, fromCache := s.Get("ws-1"); fromCache || sets.Total() != 0 {
		t.Error("null partition should decode as absent")
	}

	// The next mutation must behave like any other cold-start no-op.
	if err := s.ApplyMove(ctx, "ws-1", 42, types.CategoryNew, types.CategoryActioned); err != nil {
		t.Fatalf("ApplyMove: %v", err)
	}
	if sets, _ := s.Get("ws-1"); sets.Total() != 0 {
		t.Errorf("partition after cold-start move = %d ids, want 0", sets.Total())
	}
}

func TestStore_Invalidate(t *testing.T) {
	ctx := context.Background()

	t.Run("scoped drop on match", func(t *testing.T) {
		s := newTestStore(t, storage.NewMemoryKV())
		if err := s.Set(ctx, "ws-1", samplePartition()); err != nil {
			t.Fatalf("Set: %v", err)
		}
		if err := s.Invalidate(ctx, "ws-1"); err != nil {
			t.Fatalf("Invalidate: %v", err)
		}
		if sets, _ := s.Get("ws-1"); sets.Total() != 0 {
			t.Error("expected entry dropped")
		}
	})

	t.Run("scoped drop skips mismatch", func(t *testing.T) {
		s := newTestStore(t, storage.NewMemoryKV())
		if err := s.Set(ctx, "ws-1", samplePartition()); err != nil {
			t.Fatalf("Set: %v", err)
		}
		if err := s.Invalidate(ctx, "ws-2"); err != nil {
			t.Fatalf("Invalidate: %v", err)
		}
		if sets, _ := s.Get("ws-1"); sets.Total() == 0 {
			t.Error("mismatched scope should not drop the entry")
		}
	})

	t.Run("unconditional drop with empty scope", func(t *testing.T) {
		s := newTestStore(t, storage.NewMemoryKV())
		if err := s.Set(ctx, "ws-1", samplePartition()); err != nil {
			t.Fatalf("Set: %v", err)
		}
		if err := s.Invalidate(ctx, ""); err != nil {
			t.Fatalf("Invalidate: %v", err)
		}
		if sets, _ := s.Get("ws-1"); sets.Total() != 0 {
			t.Error("expected unconditional drop")
		}
	})
}

func TestStore_BufferAppendTrimsOldestFirst(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, storage.NewMemoryKV(), WithBufferCap(3))

	if err := s.Set(ctx, "ws-1", samplePartition()); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var batch []types.Record
	for i := 1; i <= 5; i++ {
		batch = append(batch, types.Record{
			ID:      types.RecordID(i),
			Company: fmt.Sprintf("company-%d", i),
		})
	}
	if err := s.BufferAppend(ctx, types.CategoryNew, batch); err != nil {
		t.Fatalf("BufferAppend: %v", err)
	}

	buffer := s.Buffer(types.CategoryNew)
	if len(buffer) != 3 {
		t.Fatalf("buffer length = %d, want 3", len(buffer))
	}
	// Oldest evicted first: 1 and 2 are gone.
	if buffer[0].ID != 3 || buffer[2].ID != 5 {
		t.Errorf("buffer ids = [%d..%d], want [3..5]", buffer[0].ID, buffer[2].ID)
	}
}

func TestStore_SetPreservesBuffers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, storage.NewMemoryKV())

	if err := s.Set(ctx, "ws-1", samplePartition()); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.BufferAppend(ctx, types.CategoryNew, []types.Record{{ID: 9, Company: "acme"}}); err != nil {
		t.Fatalf("BufferAppend: %v", err)
	}

	if err := s.Set(ctx, "ws-1", samplePartition()); err != nil {
		t.Fatalf("second Set: %v", err)
	}
	if buffer := s.Buffer(types.CategoryNew); len(buffer) != 1 || buffer[0].ID != 9 {
		t.Errorf("buffers not preserved across Set for same scope: %v", buffer)
	}

	// A different scope starts with empty buffers.
	if err := s.Set(ctx, "ws-2", samplePartition()); err != nil {
		t.Fatalf("Set new scope: %v", err)
	}
	if buffer := s.Buffer(types.CategoryNew); len(buffer) != 0 {
		t.Errorf("new scope should not inherit buffers: %v", buffer)
	}
}

func TestStore_ApplyMove(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, storage.NewMemoryKV())

	if err := s.Set(ctx, "ws-1", samplePartition()); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.ApplyMove(ctx, "ws-1", 2, types.CategoryNew, types.CategoryActioned); err != nil {
		t.Fatalf("ApplyMove: %v", err)
	}

	sets, _ := s.Get("ws-1")
	if got := sets[types.CategoryNew]; len(got) != 2 {
		t.Errorf("new bucket = %v, want id 2 removed", got)
	}
	if got := sets[types.CategoryActioned]; len(got) != 2 || got[1] != 2 {
		t.Errorf("actioned bucket = %v, want [7 2]", got)
	}
}
