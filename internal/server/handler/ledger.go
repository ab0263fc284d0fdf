package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// LedgerService is what the ledger handler needs from the service layer.
type LedgerService interface {
	Balance(ctx context.Context, account common.Address) (uint256.Int, error)
	Allowance(ctx context.Context, owner, spender common.Address) (uint256.Int, error)
	Supply(ctx context.Context) (uint256.Int, error)
	Transfer(ctx context.Context, caller, recipient common.Address, amount *uint256.Int) error
	Approve(ctx context.Context, caller, spender common.Address, amount *uint256.Int) error
}

// LedgerHandler serves token ledger reads and the signer's own writes.
type LedgerHandler struct {
	ledger LedgerService
	logger *slog.Logger
}

// NewLedgerHandler creates a LedgerHandler.
func NewLedgerHandler(ledger LedgerService, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: ledger, logger: logHandler(logger, "ledger")}
}

// Supply returns the total token supply.
// GET /api/ledger/supply
func (h *LedgerHandler) Supply(w http.ResponseWriter, r *http.Request) {
	v, err := h.ledger.Supply(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "supply", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"total_supply": v.Dec()})
}

// Balance returns an account balance.
// GET /api/ledger/balances/{address}
func (h *LedgerHandler) Balance(w http.ResponseWriter, r *http.Request) {
	account, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	v, err := h.ledger.Balance(r.Context(), account)
	if err != nil {
		writeServiceError(w, r, h.logger, "balance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"address": account.Hex(),
		"balance": v.Dec(),
	})
}

// Allowance returns what spender may move on owner's behalf.
// GET /api/ledger/allowances/{owner}/{spender}
func (h *LedgerHandler) Allowance(w http.ResponseWriter, r *http.Request) {
	owner, err := pathAddress(r, "owner")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	spender, err := pathAddress(r, "spender")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	v, err := h.ledger.Allowance(r.Context(), owner, spender)
	if err != nil {
		writeServiceError(w, r, h.logger, "allowance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"owner":     owner.Hex(),
		"spender":   spender.Hex(),
		"allowance": v.Dec(),
	})
}

// Transfer moves tokens from the caller.
// POST /api/ledger/transfer {"to":"0x..","amount":"10"}
func (h *LedgerHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseAddress(req.To, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "transfer", err)
		return
	}
	if err := h.ledger.Transfer(r.Context(), from, to, amount); err != nil {
		writeServiceError(w, r, h.logger, "transfer", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"from":   from.Hex(),
		"to":     to.Hex(),
		"amount": amount.Dec(),
	})
}

// Approve sets an allowance over the caller's balance.
// POST /api/ledger/approve {"spender":"0x..","amount":"10"}
func (h *LedgerHandler) Approve(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	spender, err := parseAddress(req.Spender, "spender")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "approve", err)
		return
	}
	if err := h.ledger.Approve(r.Context(), from, spender, amount); err != nil {
		writeServiceError(w, r, h.logger, "approve", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"owner":     from.Hex(),
		"spender":   spender.Hex(),
		"allowance": amount.Dec(),
	})
}
