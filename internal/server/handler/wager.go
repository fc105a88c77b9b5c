package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/openwager/wagerd/internal/server/middleware"
)

// WagerHandler serves the staking and settlement endpoints.
type WagerHandler struct {
	svc    LedgerService
	logger *slog.Logger
}

// NewWagerHandler creates a WagerHandler with the given service and logger.
func NewWagerHandler(svc LedgerService, logger *slog.Logger) *WagerHandler {
	return &WagerHandler{
		svc:    svc,
		logger: logger,
	}
}

type stakeRequest struct {
	Index  uint8  `json:"index"`
	Amount uint64 `json:"amount"`
}

// Stake places a wager on an outcome of a market.
// POST /api/markets/{id}/stakes
func (h *WagerHandler) Stake(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req stakeRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}

	if err := h.svc.Stake(r.Context(), p, id, req.Index, req.Amount); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: stake failed",
			slog.Uint64("market_id", id),
			slog.String("participant", p),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"market_id": id,
		"index":     req.Index,
		"amount":    req.Amount,
	})
}

// Claim settles the caller's position on a resolved market.
// POST /api/markets/{id}/claims
func (h *WagerHandler) Claim(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeDomainError(w, err)
		return
	}

	reward, err := h.svc.Claim(r.Context(), p, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"market_id": id, "reward": reward})
}

// GetOutcome returns one outcome of a market.
// GET /api/markets/{id}/outcomes/{index}
func (h *WagerHandler) GetOutcome(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	index, err := pathIndex(r, "index")
	if err != nil {
		writeDomainError(w, err)
		return
	}

	outcome, err := h.svc.GetOutcome(r.Context(), id, index)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// GetPosition returns the caller's position on an outcome. An absent
// position reads as zero.
// GET /api/markets/{id}/positions/{index}
func (h *WagerHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.Participant(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "participant identity required")
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	index, err := pathIndex(r, "index")
	if err != nil {
		writeDomainError(w, err)
		return
	}

	amount, err := h.svc.GetPosition(r.Context(), id, index, p)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id":   id,
		"index":       index,
		"participant": p,
		"amount":      amount,
	})
}

// Events replays the durable event stream.
// GET /api/events?after=0&limit=100
func (h *WagerHandler) Events(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	after := q.Get("after")
	if after == "" {
		after = "0"
	}

	limit := 100
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	messages, err := h.svc.Events(r.Context(), after, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	type event struct {
		ID      string `json:"id"`
		Payload string `json:"payload"`
	}
	events := make([]event, 0, len(messages))
	for _, m := range messages {
		events = append(events, event{ID: m.ID, Payload: string(m.Payload)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
