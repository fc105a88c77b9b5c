package handler

import (
	"context"
	"log/slog"
	"net/http"
)

// ChainSource defines the height operations the handler requires.
type ChainSource interface {
	Height(ctx context.Context) (uint64, error)
	Advance(ctx context.Context, n uint64) (uint64, error)
}

// ChainHandler serves the block height endpoints.
type ChainHandler struct {
	chain  ChainSource
	logger *slog.Logger
}

// NewChainHandler creates a ChainHandler.
func NewChainHandler(chain ChainSource, logger *slog.Logger) *ChainHandler {
	return &ChainHandler{
		chain:  chain,
		logger: logger,
	}
}

// Height returns the current block height.
// GET /api/height
func (h *ChainHandler) Height(w http.ResponseWriter, r *http.Request) {
	height, err := h.chain.Height(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"height": height})
}

type advanceRequest struct {
	Blocks uint64 `json:"blocks"`
}

// Advance moves the height forward by the requested number of blocks. An
// operator endpoint, used for testing and for deployments without a ticker.
// POST /api/height/advance
func (h *ChainHandler) Advance(w http.ResponseWriter, r *http.Request) {
	var req advanceRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	if req.Blocks == 0 {
		writeError(w, http.StatusBadRequest, "invalid_params", "blocks must be positive")
		return
	}

	height, err := h.chain.Advance(r.Context(), req.Blocks)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "handler: height advanced",
		slog.Uint64("height", height),
		slog.Uint64("blocks", req.Blocks),
	)
	writeJSON(w, http.StatusOK, map[string]uint64{"height": height})
}
