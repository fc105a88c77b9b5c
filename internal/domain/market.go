package domain

// Bounds enforced by the market ledger on user-supplied values.
const (
	// MaxOutcomeCount is the largest number of outcomes a market may declare.
	MaxOutcomeCount = 100

	// MinResolutionDelay is the minimum number of blocks between market
	// creation and its resolution height. Market creation rejects any
	// blocks-until-resolution that is not strictly greater than this,
	// guaranteeing a staking window.
	MinResolutionDelay = 1000

	// MaxQuestionLen bounds the market question, in bytes.
	MaxQuestionLen = 512

	// MaxDescriptionLen bounds an outcome description, in bytes.
	MaxDescriptionLen = 256
)

// Market is a prediction market over a set of mutually exclusive outcomes.
// TotalStaked is always the sum of Staked over the market's defined outcomes,
// and WinningOutcome is non-nil exactly when Resolved is true.
type Market struct {
	ID               uint64  `json:"id"`
	Creator          string  `json:"creator"`
	Question         string  `json:"question"`
	OutcomeCount     uint8   `json:"outcome_count"`
	ResolutionHeight uint64  `json:"resolution_height"`
	Resolved         bool    `json:"resolved"`
	WinningOutcome   *uint8  `json:"winning_outcome,omitempty"`
	TotalStaked      uint64  `json:"total_staked"`
}

// Outcome is one possible result of a market, keyed by (market id, index).
// An index being in range does not imply the outcome exists; outcomes are
// created only by an explicit definition from the market's creator.
type Outcome struct {
	MarketID    uint64 `json:"market_id"`
	Index       uint8  `json:"index"`
	Description string `json:"description"`
	Staked      uint64 `json:"staked"`
}

// PositionRecord is a participant's stake on one outcome of one market.
// An absent record and a zero-amount record are equivalent: neither is
// claimable. The amount is forced to zero exactly once, at a successful
// claim, and Reward keeps the payout made for it.
type PositionRecord struct {
	MarketID     uint64 `json:"market_id"`
	OutcomeIndex uint8  `json:"outcome_index"`
	Participant  string `json:"participant"`
	Amount       uint64 `json:"amount"`
	Reward       uint64 `json:"reward"`
}
