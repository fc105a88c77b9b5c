package handler

import (
	"context"
	"log/slog"
	"net/http"
)

// BankService defines the account operations the handler requires.
type BankService interface {
	Deposit(ctx context.Context, account string, amount uint64) error
	Balance(ctx context.Context, account string) (uint64, error)
}

// AccountHandler serves the operator-facing account endpoints.
type AccountHandler struct {
	bank   BankService
	logger *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(bank BankService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		bank:   bank,
		logger: logger,
	}
}

type depositRequest struct {
	Amount uint64 `json:"amount"`
}

// Deposit credits an account.
// POST /api/accounts/{id}/deposits
func (h *AccountHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	account := r.PathValue("id")
	if account == "" {
		writeError(w, http.StatusBadRequest, "invalid_params", "missing account id")
		return
	}

	var req depositRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}

	if err := h.bank.Deposit(r.Context(), account, req.Amount); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: deposit failed",
			slog.String("account", account),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"account": account, "amount": req.Amount})
}

// Balance returns an account's balance. An absent account reads as zero.
// GET /api/accounts/{id}
func (h *AccountHandler) Balance(w http.ResponseWriter, r *http.Request) {
	account := r.PathValue("id")
	if account == "" {
		writeError(w, http.StatusBadRequest, "invalid_params", "missing account id")
		return
	}

	balance, err := h.bank.Balance(r.Context(), account)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"account": account, "balance": balance})
}
