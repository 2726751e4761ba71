// Package conflict detects divergence between the client's last-known
// category for a record and the server's authoritative one.
package conflict

import (
	"context"

	"github.com/signalworks/intake/internal/types"
)

// PartitionReader is the authoritative read operation.
type PartitionReader interface {
	ListCategorizedIDs(ctx context.Context, scope string) (types.CategorizedIDSet, error)
}

// Detector diffs a cached partition against the server's. It is
// read-only and side-effect-free; divergence is expected under
// concurrent multi-actor editing and is reported, never thrown.
type Detector struct {
	reader PartitionReader
}

// NewDetector creates a detector reading from reader.
func NewDetector(reader PartitionReader) *Detector {
	return &Detector{reader: reader}
}

// Detect fetches the authoritative partition for scope and returns a
// conflict for every cached id whose server-side category differs.
// Ids present client-side but absent server-side (deleted upstream)
// are not flagged; the next full refetch reconciles them.
func (d *Detector) Detect(ctx context.Context, scope string, cached types.CategorizedIDSet) ([]types.Conflict, error) {
	server, err := d.reader.ListCategorizedIDs(ctx, scope)
	if err != nil {
		return nil, err
	}
	return Diff(cached, server), nil
}

// Diff compares two partitions without fetching. Exposed separately so
// a caller already holding a fresh partition can reuse it.
func Diff(cached, server types.CategorizedIDSet) []types.Conflict {
	index := make(map[types.RecordID]types.Category, server.Total())
	for category, ids := range server {
		for _, id := range ids {
			index[id] = category
		}
	}

	var conflicts []types.Conflict
	for clientCategory, ids := range cached {
		for _, id := range ids {
			serverCategory, ok := index[id]
			if !ok {
				continue
			}
			if serverCategory != clientCategory {
				conflicts = append(conflicts, types.Conflict{
					RecordID:       id,
					ClientCategory: clientCategory,
					ServerCategory: serverCategory,
				})
			}
		}
	}
	return conflicts
}
