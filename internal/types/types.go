package types

import (
	"encoding/json"
	"time"
)

// RecordID identifies a triaged hiring-intent signal.
type RecordID int64

// Category is one of the five mutually exclusive buckets a record
// occupies, both client- and server-side.
type Category string

const (
	CategoryNew       Category = "new"
	CategoryActioned  Category = "actioned"
	CategoryCompleted Category = "completed"
	CategoryAborted   Category = "aborted"
	CategoryHidden    Category = "hidden"
)

// Categories lists all buckets in board order.
var Categories = []Category{
	CategoryNew,
	CategoryActioned,
	CategoryCompleted,
	CategoryAborted,
	CategoryHidden,
}

// Valid reports whether c is one of the known buckets.
func (c Category) Valid() bool {
	switch c {
	case CategoryNew, CategoryActioned, CategoryCompleted, CategoryAborted, CategoryHidden:
		return true
	}
	return false
}

// CategorizedIDSet maps each category to its ordered record ids.
// Order is the server ranking.
type CategorizedIDSet map[Category][]RecordID

// EmptySet returns a partition with every category present and empty.
func EmptySet() CategorizedIDSet {
	s := make(CategorizedIDSet, len(Categories))
	for _, c := range Categories {
		s[c] = []RecordID{}
	}
	return s
}

// Clone returns a deep copy of the partition.
func (s CategorizedIDSet) Clone() CategorizedIDSet {
	out := make(CategorizedIDSet, len(s))
	for c, ids := range s {
		out[c] = append([]RecordID(nil), ids...)
	}
	return out
}

// CategoryOf returns the category holding id, or ("", false) when the
// id is not present in the partition.
func (s CategorizedIDSet) CategoryOf(id RecordID) (Category, bool) {
	for c, ids := range s {
		for _, candidate := range ids {
			if candidate == id {
				return c, true
			}
		}
	}
	return "", false
}

// Move removes id from the `from` bucket and appends it to `to`.
// Missing ids are appended anyway; the server partition is
// authoritative and the next refresh reconciles ordering.
func (s CategorizedIDSet) Move(id RecordID, from, to Category) {
	if s == nil {
		return
	}
	filtered := s[from][:0]
	for _, candidate := range s[from] {
		if candidate != id {
			filtered = append(filtered, candidate)
		}
	}
	s[from] = filtered
	s[to] = append(s[to], id)
}

// Total returns the number of ids across all categories.
func (s CategorizedIDSet) Total() int {
	n := 0
	for _, ids := range s {
		n += len(ids)
	}
	return n
}

// Record is the full payload of a hiring-intent signal, held in the
// per-category lookahead buffers so the board renders instantly.
type Record struct {
	ID         RecordID  `json:"id"`
	Company    string    `json:"company"`
	Role       string    `json:"role"`
	Source     string    `json:"source,omitempty"`
	Score      float64   `json:"score,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// SyncQueueItem is one pending category-change mutation.
type SyncQueueItem struct {
	ID           string    `json:"id"`
	RecordID     RecordID  `json:"record_id"`
	FromCategory Category  `json:"from_category"`
	ToCategory   Category  `json:"to_category"`
	CreatedAt    time.Time `json:"created_at"`
	RetryCount   int       `json:"retry_count"`
}

// Conflict reports divergence between the client's last-known category
// for a record and the server's authoritative one. Never persisted.
type Conflict struct {
	RecordID       RecordID `json:"record_id"`
	ClientCategory Category `json:"client_category"`
	ServerCategory Category `json:"server_category"`
}

// --- HTTP surface contracts ---

// BoardResponse is returned by GET /api/v1/board.
type BoardResponse struct {
	Scope     string                `json:"scope"`
	Sets      CategorizedIDSet      `json:"sets"`
	Buffers   map[Category][]Record `json:"buffers"`
	FromCache bool                  `json:"from_cache"`
}

// MoveRequest is the body of POST /api/v1/board/move.
type MoveRequest struct {
	RecordID RecordID `json:"record_id"`
	From     Category `json:"from"`
	To       Category `json:"to"`
}

// SyncStatus is returned by GET /api/v1/sync/status.
type SyncStatus struct {
	Online        bool       `json:"online"`
	PendingCount  int        `json:"pending_count"`
	DroppedCount  int64      `json:"dropped_count"`
	LastSync      *time.Time `json:"last_sync,omitempty"`
	LastConflicts []Conflict `json:"last_conflicts"`
}

// HealthResponse is returned by GET /api/v1/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Scope   string `json:"scope"`
	Online  bool   `json:"online"`
}

// FlushPayload is the single fire-and-forget body submitted on
// teardown, carrying every still-pending mutation.
type FlushPayload struct {
	Items     []SyncQueueItem `json:"items"`
	Timestamp time.Time       `json:"timestamp"`
}

// MarshalJSON ensures nil conflict slices marshal as [] not null.
func (s SyncStatus) MarshalJSON() ([]byte, error) {
	if s.LastConflicts == nil {
		s.LastConflicts = []Conflict{}
	}
	type Alias SyncStatus
	return json.Marshal(Alias(s))
}

// MarshalJSON ensures nil item slices marshal as [] not null.
func (p FlushPayload) MarshalJSON() ([]byte, error) {
	if p.Items == nil {
		p.Items = []SyncQueueItem{}
	}
	type Alias FlushPayload
	return json.Marshal(Alias(p))
}
