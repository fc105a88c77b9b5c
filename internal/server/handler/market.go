package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/openwager/wagerd/internal/domain"
	"github.com/openwager/wagerd/internal/server/middleware"
)

// LedgerService defines the methods the market and wager handlers require
// from the service layer. It is declared locally so the handler package does
// not depend on the concrete service implementation.
type LedgerService interface {
	CreateMarket(ctx context.Context, creator, question string, outcomeCount uint8, blocksUntilResolution uint64) (uint64, error)
	DefineOutcome(ctx context.Context, caller string, marketID uint64, index uint8, description string) error
	Stake(ctx context.Context, participant string, marketID uint64, index uint8, amount uint64) error
	Resolve(ctx context.Context, caller string, marketID uint64, winner uint8) error
	Claim(ctx context.Context, participant string, marketID uint64) (uint64, error)
	GetMarket(ctx context.Context, id uint64) (domain.Market, error)
	GetOutcome(ctx context.Context, marketID uint64, index uint8) (domain.Outcome, error)
	GetPosition(ctx context.Context, marketID uint64, index uint8, participant string) (uint64, error)
	MarketCount(ctx context.Context) (uint64, error)
	IsMarketActive(ctx context.Context, id uint64) (bool, error)
	Events(ctx context.Context, lastID string, count int) ([]domain.StreamMessage, error)
}

// MarketHandler serves market lifecycle endpoints.
type MarketHandler struct {
	svc    LedgerService
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(svc LedgerService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		svc:    svc,
		logger: logger,
	}
}

// caller resolves the authenticated participant or rejects the request.
func caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	p, ok := middleware.Participant(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "participant identity required")
		return "", false
	}
	return p, true
}

type createMarketRequest struct {
	Question              string `json:"question"`
	OutcomeCount          uint8  `json:"outcome_count"`
	BlocksUntilResolution uint64 `json:"blocks_until_resolution"`
}

// CreateMarket opens a new market owned by the caller.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	creator, ok := caller(w, r)
	if !ok {
		return
	}

	var req createMarketRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}

	id, err := h.svc.CreateMarket(r.Context(), creator, req.Question, req.OutcomeCount, req.BlocksUntilResolution)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: create market failed",
			slog.String("creator", creator),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]uint64{"market_id": id})
}

// GetMarket returns a single market by its ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeDomainError(w, err)
		return
	}

	market, err := h.svc.GetMarket(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, market)
}

type defineOutcomeRequest struct {
	Index       uint8  `json:"index"`
	Description string `json:"description"`
}

// DefineOutcome adds an outcome to a market the caller created.
// POST /api/markets/{id}/outcomes
func (h *MarketHandler) DefineOutcome(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req defineOutcomeRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}

	if err := h.svc.DefineOutcome(r.Context(), p, id, req.Index, req.Description); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"market_id": id, "index": req.Index})
}

type resolveRequest struct {
	Winner uint8 `json:"winner"`
}

// Resolve settles a market on its winning outcome.
// POST /api/markets/{id}/resolve
func (h *MarketHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req resolveRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}

	if err := h.svc.Resolve(r.Context(), p, id, req.Winner); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"market_id": id, "winner": req.Winner})
}

// MarketCount reports how many markets exist.
// GET /api/markets/count
func (h *MarketHandler) MarketCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.svc.MarketCount(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"count": count})
}

// IsActive reports whether a market still accepts stakes.
// GET /api/markets/{id}/active
func (h *MarketHandler) IsActive(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeDomainError(w, err)
		return
	}

	active, err := h.svc.IsMarketActive(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"active": active})
}
