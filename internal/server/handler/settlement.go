package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/polkawar/internal/domain"
)

// SettlementService is what the settlement handler needs from the service
// layer.
type SettlementService interface {
	Settlements(ctx context.Context, opts domain.ListOpts) ([]domain.Settlement, error)
	Settlement(ctx context.Context, id string) (domain.Settlement, error)
	Events(ctx context.Context, lastID string, count int) ([]domain.StreamMessage, error)
}

// SettlementHandler serves settlement history and the event stream.
type SettlementHandler struct {
	settlements SettlementService
	logger      *slog.Logger
}

// NewSettlementHandler creates a SettlementHandler.
func NewSettlementHandler(settlements SettlementService, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{settlements: settlements, logger: logHandler(logger, "settlement")}
}

type listSettlementsResponse struct {
	Settlements []domain.SettlementJSON `json:"settlements"`
}

type eventJSON struct {
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

type listEventsResponse struct {
	Events []eventJSON `json:"events"`
	LastID string      `json:"last_id"`
}

// ListSettlements returns recent settlements, newest first.
// GET /api/settlements?limit=50&offset=0
func (h *SettlementHandler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	list, err := h.settlements.Settlements(r.Context(), parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list settlements", err)
		return
	}
	out := make([]domain.SettlementJSON, len(list))
	for i, s := range list {
		out[i] = s.JSON()
	}
	writeJSON(w, http.StatusOK, listSettlementsResponse{Settlements: out})
}

// GetSettlement returns one settlement.
// GET /api/settlements/{id}
func (h *SettlementHandler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	st, err := h.settlements.Settlement(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get settlement", err)
		return
	}
	writeJSON(w, http.StatusOK, st.JSON())
}

// ListEvents returns bus events appended after the given stream id.
// GET /api/events?after=<id>&count=100
func (h *SettlementHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	count := 100
	if v := q.Get("count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			count = n
		}
	}
	after := q.Get("after")

	msgs, err := h.settlements.Events(r.Context(), after, count)
	if err != nil {
		writeServiceError(w, r, h.logger, "list events", err)
		return
	}
	resp := listEventsResponse{Events: make([]eventJSON, 0, len(msgs)), LastID: after}
	for _, m := range msgs {
		if !json.Valid(m.Payload) {
			continue
		}
		resp.Events = append(resp.Events, eventJSON{ID: m.ID, Event: m.Payload})
		resp.LastID = m.ID
	}
	writeJSON(w, http.StatusOK, resp)
}
