package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/signalworks/intake/internal/types"
	"github.com/signalworks/intake/internal/validation"
)

// Board is the engine surface the handlers consume.
type Board interface {
	Scope() string
	Online() bool
	GetCachedData(scope string) (types.CategorizedIDSet, bool)
	Buffers() map[types.Category][]types.Record
	MoveRecord(ctx context.Context, id types.RecordID, from, to types.Category) error
	Status() types.SyncStatus
	SyncNow()
	CheckConflicts(ctx context.Context) ([]types.Conflict, error)
}

// Handler implements the API handlers
type Handler struct {
	board   Board
	apiKey  string
	version string
}

// NewHandler creates a new Handler over the Board interface
func NewHandler(b Board, apiKey, version string) *Handler {
	return &Handler{
		board:   b,
		apiKey:  apiKey,
		version: version,
	}
}

// Health returns the health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := types.HealthResponse{
		Status:  "healthy",
		Version: h.version,
		Scope:   h.board.Scope(),
		Online:  h.board.Online(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetBoard handles GET /api/v1/board. It always answers from the local
// cache; FromCache reports whether the partition is still within its
// freshness window.
func (h *Handler) GetBoard(w http.ResponseWriter, r *http.Request) {
	sets, fresh := h.board.GetCachedData(h.board.Scope())

	resp := types.BoardResponse{
		Scope:     h.board.Scope(),
		Sets:      sets,
		Buffers:   h.board.Buffers(),
		FromCache: fresh,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// MoveRecord handles POST /api/v1/board/move
func (h *Handler) MoveRecord(w http.ResponseWriter, r *http.Request) {
	var req types.MoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	categories := make([]string, len(types.Categories))
	for i, c := range types.Categories {
		categories[i] = string(c)
	}

	var c validation.Collector
	c.Add(validation.ValidatePositiveID("record_id", int64(req.RecordID)))
	c.Add(validation.ValidateEnum("from", string(req.From), categories))
	c.Add(validation.ValidateEnum("to", string(req.To), categories))
	if c.HasErrors() {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", c.Errors())
		return
	}

	if err := h.board.MoveRecord(r.Context(), req.RecordID, req.From, req.To); err != nil {
		slog.Error("move failed", "error", err, "record_id", req.RecordID)
		MapEngineError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// SyncStatus handles GET /api/v1/sync/status
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.board.Status())
}

// SyncNow handles POST /api/v1/sync/now. The pass runs in the
// background; poll /sync/status for the result.
func (h *Handler) SyncNow(w http.ResponseWriter, r *http.Request) {
	h.board.SyncNow()
	w.WriteHeader(http.StatusAccepted)
}

// CheckConflicts handles GET /api/v1/sync/conflicts. Unlike the
// background pass it hits the categorization service synchronously, so
// it fails with 502 while offline.
func (h *Handler) CheckConflicts(w http.ResponseWriter, r *http.Request) {
	conflicts, err := h.board.CheckConflicts(r.Context())
	if err != nil {
		slog.Error("conflict check failed", "error", err)
		WriteProblem(w, r, http.StatusBadGateway, "Categorization service unreachable")
		return
	}
	if conflicts == nil {
		conflicts = []types.Conflict{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"conflicts": conflicts,
		"total":     len(conflicts),
	})
}
