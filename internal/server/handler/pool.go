package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/polkawar/internal/domain"
	"github.com/alanyoungcy/polkawar/internal/service"
)

// PoolService is what the pool handler needs from the service layer.
type PoolService interface {
	Info() service.RegistryInfo
	Pools() []domain.Pool
	Pool(id uint64) (domain.Pool, error)
	Participants(id uint64) ([]common.Address, error)
	CreatePool(ctx context.Context, caller common.Address, stake *uint256.Int) (domain.Pool, error)
	SetStake(ctx context.Context, caller common.Address, id uint64, stake *uint256.Int) (domain.Pool, error)
	Join(ctx context.Context, id uint64, caller common.Address) (domain.Pool, error)
	RecordOutcome(ctx context.Context, caller common.Address, id uint64, winner common.Address, isDraw bool) (domain.Pool, error)
	Claim(ctx context.Context, id uint64, caller common.Address) (domain.Settlement, error)
	SettleDraw(ctx context.Context, caller common.Address, id uint64) (domain.Settlement, error)
}

// PoolHandler serves the registry and pool endpoints.
type PoolHandler struct {
	pools  PoolService
	logger *slog.Logger
}

// NewPoolHandler creates a PoolHandler.
func NewPoolHandler(pools PoolService, logger *slog.Logger) *PoolHandler {
	return &PoolHandler{pools: pools, logger: logHandler(logger, "pool")}
}

type listPoolsResponse struct {
	Pools []domain.PoolJSON `json:"pools"`
	Count int               `json:"count"`
}

type participantsResponse struct {
	PoolID       uint64   `json:"pool_id"`
	Participants []string `json:"participants"`
}

type outcomeRequest struct {
	Winner string `json:"winner"`
	IsDraw bool   `json:"is_draw"`
}

// Registry returns the registry configuration and pool count.
// GET /api/registry
func (h *PoolHandler) Registry(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.pools.Info())
}

// ListPools returns every pool in id order.
// GET /api/pools
func (h *PoolHandler) ListPools(w http.ResponseWriter, _ *http.Request) {
	pools := h.pools.Pools()
	out := make([]domain.PoolJSON, len(pools))
	for i, p := range pools {
		out[i] = p.JSON()
	}
	writeJSON(w, http.StatusOK, listPoolsResponse{Pools: out, Count: len(out)})
}

// GetPool returns one pool.
// GET /api/pools/{id}
func (h *PoolHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	id, err := poolID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.pools.Pool(id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get pool", err)
		return
	}
	writeJSON(w, http.StatusOK, p.JSON())
}

// GetParticipants returns the current round's participants in join order.
// GET /api/pools/{id}/participants
func (h *PoolHandler) GetParticipants(w http.ResponseWriter, r *http.Request) {
	id, err := poolID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	addrs, err := h.pools.Participants(id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get participants", err)
		return
	}
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.Hex()
	}
	writeJSON(w, http.StatusOK, participantsResponse{PoolID: id, Participants: out})
}

// CreatePool creates a pool with the requested stake.
// POST /api/pools {"stake":"50"}
func (h *PoolHandler) CreatePool(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stake, err := parseAmount(req.Stake)
	if err != nil {
		writeServiceError(w, r, h.logger, "create pool", err)
		return
	}
	p, err := h.pools.CreatePool(r.Context(), from, stake)
	if err != nil {
		writeServiceError(w, r, h.logger, "create pool", err)
		return
	}
	writeJSON(w, http.StatusCreated, p.JSON())
}

// SetStake changes the stake of an empty pool.
// PUT /api/pools/{id}/stake {"stake":"150"}
func (h *PoolHandler) SetStake(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := poolID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stake, err := parseAmount(req.Stake)
	if err != nil {
		writeServiceError(w, r, h.logger, "set stake", err)
		return
	}
	p, err := h.pools.SetStake(r.Context(), from, id, stake)
	if err != nil {
		writeServiceError(w, r, h.logger, "set stake", err)
		return
	}
	writeJSON(w, http.StatusOK, p.JSON())
}

// Join admits the caller to the pool.
// POST /api/pools/{id}/join
func (h *PoolHandler) Join(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := poolID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.pools.Join(r.Context(), id, from)
	if err != nil {
		writeServiceError(w, r, h.logger, "join", err)
		return
	}
	writeJSON(w, http.StatusOK, p.JSON())
}

// RecordOutcome records the round result.
// POST /api/pools/{id}/outcome {"winner":"0x..","is_draw":false}
func (h *PoolHandler) RecordOutcome(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := poolID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req outcomeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var winner common.Address
	if req.Winner != "" || !req.IsDraw {
		if winner, err = parseAddress(req.Winner, "winner"); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	p, err := h.pools.RecordOutcome(r.Context(), from, id, winner, req.IsDraw)
	if err != nil {
		writeServiceError(w, r, h.logger, "record outcome", err)
		return
	}
	writeJSON(w, http.StatusOK, p.JSON())
}

// Claim pays out a won round to the caller.
// POST /api/pools/{id}/claim
func (h *PoolHandler) Claim(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := poolID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, err := h.pools.Claim(r.Context(), id, from)
	if err != nil {
		writeServiceError(w, r, h.logger, "claim", err)
		return
	}
	writeJSON(w, http.StatusOK, st.JSON())
}

// SettleDraw pays out a drawn round.
// POST /api/pools/{id}/draw
func (h *PoolHandler) SettleDraw(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := poolID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, err := h.pools.SettleDraw(r.Context(), from, id)
	if err != nil {
		writeServiceError(w, r, h.logger, "settle draw", err)
		return
	}
	writeJSON(w, http.StatusOK, st.JSON())
}
