package domain

import "context"

// StateTx is a consistent read-write view of ledger state. All reads within
// one transaction observe the same snapshot; writes are staged and become
// visible only if the enclosing Update commits.
//
// Position reads treat an absent record and a stored zero identically: both
// return amount 0 with no error. Market and Outcome reads return ErrNotFound
// for absent records.
type StateTx interface {
	Market(ctx context.Context, id uint64) (Market, error)
	PutMarket(ctx context.Context, m Market) error

	Outcome(ctx context.Context, marketID uint64, index uint8) (Outcome, error)
	PutOutcome(ctx context.Context, o Outcome) error

	Position(ctx context.Context, marketID uint64, index uint8, participant string) (uint64, error)
	PutPosition(ctx context.Context, marketID uint64, index uint8, participant string, amount uint64) error
	// SettlePosition zeroes a position's stake and records the reward paid
	// for it in the same staged write, so the settlement archive keeps who
	// was paid what after the stake itself is gone.
	SettlePosition(ctx context.Context, marketID uint64, index uint8, participant string, reward uint64) error

	// NextMarketID allocates the next market id and advances the counter.
	NextMarketID(ctx context.Context) (uint64, error)
	// MarketCount returns the number of markets created so far, which equals
	// the next id the counter will hand out.
	MarketCount(ctx context.Context) (uint64, error)

	Balance(ctx context.Context, account string) (uint64, error)
	PutBalance(ctx context.Context, account string, amount uint64) error

	Height(ctx context.Context) (uint64, error)
	SetHeight(ctx context.Context, height uint64) error
}

// State provides transactional access to ledger state. Update transactions
// are serialized with respect to each other; a non-nil error from fn discards
// every staged write.
type State interface {
	Update(ctx context.Context, fn func(tx StateTx) error) error
	View(ctx context.Context, fn func(tx StateTx) error) error
}
