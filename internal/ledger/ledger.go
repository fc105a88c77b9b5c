// Package ledger implements the market lifecycle state machine and the
// proportional settlement algorithm. Every mutating operation runs inside a
// single state transaction: it validates preconditions against a consistent
// snapshot, stages all writes, and commits them together or not at all.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openwager/wagerd/internal/domain"
)

// Ledger owns the market, outcome, and position collections and the market id
// counter. It consumes the transfer primitive and height counter through
// narrow interfaces and never retries internally.
type Ledger struct {
	state    domain.State
	transfer domain.Transferrer
	height   domain.HeightSource
	custody  string
	logger   *slog.Logger
}

// New creates a Ledger. The custody account holds all staked value between
// staking and settlement.
func New(state domain.State, transfer domain.Transferrer, height domain.HeightSource, custody string, logger *slog.Logger) *Ledger {
	return &Ledger{
		state:    state,
		transfer: transfer,
		height:   height,
		custody:  custody,
		logger:   logger,
	}
}

// CreateMarket allocates the next market id and stores a new unresolved
// market whose resolution height is the current height plus
// blocksUntilResolution. It returns the new market id.
func (l *Ledger) CreateMarket(ctx context.Context, creator, question string, outcomeCount uint8, blocksUntilResolution uint64) (uint64, error) {
	if strings.TrimSpace(question) == "" || len(question) > domain.MaxQuestionLen {
		return 0, fmt.Errorf("ledger: question: %w", domain.ErrInvalidParams)
	}
	if outcomeCount == 0 || outcomeCount > domain.MaxOutcomeCount {
		return 0, fmt.Errorf("ledger: outcome count %d: %w", outcomeCount, domain.ErrInvalidParams)
	}
	if blocksUntilResolution <= domain.MinResolutionDelay {
		return 0, fmt.Errorf("ledger: blocks until resolution %d: %w", blocksUntilResolution, domain.ErrInvalidParams)
	}

	height, err := l.height.Height(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger: read height: %w", err)
	}
	resolutionHeight, ok := addChecked(height, blocksUntilResolution)
	if !ok {
		return 0, fmt.Errorf("ledger: resolution height overflow: %w", domain.ErrInvalidParams)
	}

	var id uint64
	err = l.state.Update(ctx, func(tx domain.StateTx) error {
		next, err := tx.NextMarketID(ctx)
		if err != nil {
			return fmt.Errorf("ledger: allocate market id: %w", err)
		}
		id = next
		return tx.PutMarket(ctx, domain.Market{
			ID:               id,
			Creator:          creator,
			Question:         question,
			OutcomeCount:     outcomeCount,
			ResolutionHeight: resolutionHeight,
		})
	})
	if err != nil {
		return 0, err
	}

	l.logger.InfoContext(ctx, "ledger: market created",
		slog.Uint64("market_id", id),
		slog.String("creator", creator),
		slog.Uint64("resolution_height", resolutionHeight),
	)
	return id, nil
}

// DefineOutcome inserts an outcome record for the given market and index.
// Only the market's creator may define outcomes, only before resolution, and
// each (market, index) pair may be defined at most once.
func (l *Ledger) DefineOutcome(ctx context.Context, caller string, marketID uint64, index uint8, description string) error {
	return l.state.Update(ctx, func(tx domain.StateTx) error {
		market, err := tx.Market(ctx, marketID)
		if err != nil {
			return fmt.Errorf("ledger: market %d: %w", marketID, err)
		}
		if market.Creator != caller {
			return fmt.Errorf("ledger: define outcome on market %d: %w", marketID, domain.ErrUnauthorized)
		}
		if market.Resolved {
			return fmt.Errorf("ledger: market %d: %w", marketID, domain.ErrMarketResolved)
		}
		if index >= market.OutcomeCount {
			return fmt.Errorf("ledger: outcome index %d out of range: %w", index, domain.ErrInvalidParams)
		}
		if strings.TrimSpace(description) == "" || len(description) > domain.MaxDescriptionLen {
			return fmt.Errorf("ledger: outcome description: %w", domain.ErrInvalidParams)
		}
		if _, err := tx.Outcome(ctx, marketID, index); err == nil {
			return fmt.Errorf("ledger: outcome %d/%d already defined: %w", marketID, index, domain.ErrInvalidParams)
		} else if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("ledger: outcome %d/%d: %w", marketID, index, err)
		}

		return tx.PutOutcome(ctx, domain.Outcome{
			MarketID:    marketID,
			Index:       index,
			Description: description,
		})
	})
}

// Stake commits amount from the participant to the given outcome. The
// position, outcome, and market totals advance together with the value
// transfer in one atomic step; any overflow or transfer failure leaves all
// three untouched.
func (l *Ledger) Stake(ctx context.Context, participant string, marketID uint64, index uint8, amount uint64) error {
	// A zero amount is invalid regardless of any other state.
	if amount == 0 {
		return fmt.Errorf("ledger: zero stake: %w", domain.ErrInvalidParams)
	}

	height, err := l.height.Height(ctx)
	if err != nil {
		return fmt.Errorf("ledger: read height: %w", err)
	}

	err = l.state.Update(ctx, func(tx domain.StateTx) error {
		market, err := tx.Market(ctx, marketID)
		if err != nil {
			return fmt.Errorf("ledger: market %d: %w", marketID, err)
		}
		// Staking closes exactly at the resolution height, whether or not the
		// creator has resolved yet.
		if height >= market.ResolutionHeight {
			return fmt.Errorf("ledger: market %d: %w", marketID, domain.ErrMarketExpired)
		}
		if market.Resolved {
			return fmt.Errorf("ledger: market %d: %w", marketID, domain.ErrMarketResolved)
		}

		outcome, err := tx.Outcome(ctx, marketID, index)
		if err != nil {
			return fmt.Errorf("ledger: outcome %d/%d: %w", marketID, index, err)
		}
		position, err := tx.Position(ctx, marketID, index, participant)
		if err != nil {
			return fmt.Errorf("ledger: position %d/%d/%s: %w", marketID, index, participant, err)
		}

		// All three sums must fit before anything is written.
		newPosition, ok := addChecked(position, amount)
		if !ok {
			return fmt.Errorf("ledger: position overflow: %w", domain.ErrInvalidParams)
		}
		newStaked, ok := addChecked(outcome.Staked, amount)
		if !ok {
			return fmt.Errorf("ledger: outcome stake overflow: %w", domain.ErrInvalidParams)
		}
		newTotal, ok := addChecked(market.TotalStaked, amount)
		if !ok {
			return fmt.Errorf("ledger: market total overflow: %w", domain.ErrInvalidParams)
		}

		if err := l.transfer.Transfer(ctx, tx, amount, participant, l.custody); err != nil {
			return fmt.Errorf("ledger: stake transfer: %w", errors.Join(domain.ErrTransferFailed, err))
		}

		if err := tx.PutPosition(ctx, marketID, index, participant, newPosition); err != nil {
			return fmt.Errorf("ledger: write position: %w", err)
		}
		outcome.Staked = newStaked
		if err := tx.PutOutcome(ctx, outcome); err != nil {
			return fmt.Errorf("ledger: write outcome: %w", err)
		}
		market.TotalStaked = newTotal
		return tx.PutMarket(ctx, market)
	})
	if err != nil {
		return err
	}

	l.logger.InfoContext(ctx, "ledger: stake placed",
		slog.Uint64("market_id", marketID),
		slog.Int("outcome", int(index)),
		slog.String("participant", participant),
		slog.Uint64("amount", amount),
	)
	return nil
}

// Resolve marks the market resolved with the given winning outcome. Only the
// creator may resolve, only at or after the resolution height, and only with
// an outcome that was actually defined. Resolution is irreversible.
func (l *Ledger) Resolve(ctx context.Context, caller string, marketID uint64, winner uint8) error {
	height, err := l.height.Height(ctx)
	if err != nil {
		return fmt.Errorf("ledger: read height: %w", err)
	}

	err = l.state.Update(ctx, func(tx domain.StateTx) error {
		market, err := tx.Market(ctx, marketID)
		if err != nil {
			return fmt.Errorf("ledger: market %d: %w", marketID, err)
		}
		if market.Creator != caller {
			return fmt.Errorf("ledger: resolve market %d: %w", marketID, domain.ErrUnauthorized)
		}
		if market.Resolved {
			return fmt.Errorf("ledger: market %d: %w", marketID, domain.ErrMarketResolved)
		}
		if height < market.ResolutionHeight {
			return fmt.Errorf("ledger: market %d resolves at height %d: %w", marketID, market.ResolutionHeight, domain.ErrTooEarly)
		}
		if winner >= market.OutcomeCount {
			return fmt.Errorf("ledger: winning outcome %d out of range: %w", winner, domain.ErrInvalidParams)
		}
		// An in-range index with no defined outcome is a phantom winner.
		if _, err := tx.Outcome(ctx, marketID, winner); err != nil {
			return fmt.Errorf("ledger: winning outcome %d/%d: %w", marketID, winner, err)
		}

		market.Resolved = true
		market.WinningOutcome = &winner
		return tx.PutMarket(ctx, market)
	})
	if err != nil {
		return err
	}

	l.logger.InfoContext(ctx, "ledger: market resolved",
		slog.Uint64("market_id", marketID),
		slog.Int("winner", int(winner)),
	)
	return nil
}

// Claim settles the caller's position on the winning outcome of a resolved
// market, paying floor(position * total_staked / winning_pool) from custody.
// The position is zeroed in the same atomic step as the payout and the paid
// reward is recorded on the position, so a second claim finds no position
// and the settlement archive keeps the payout. It returns the reward paid.
func (l *Ledger) Claim(ctx context.Context, participant string, marketID uint64) (uint64, error) {
	var reward uint64
	err := l.state.Update(ctx, func(tx domain.StateTx) error {
		market, err := tx.Market(ctx, marketID)
		if err != nil {
			return fmt.Errorf("ledger: market %d: %w", marketID, err)
		}
		if !market.Resolved {
			return fmt.Errorf("ledger: market %d not resolved: %w", marketID, domain.ErrTooEarly)
		}
		winner := *market.WinningOutcome

		outcome, err := tx.Outcome(ctx, marketID, winner)
		if err != nil {
			return fmt.Errorf("ledger: winning outcome %d/%d: %w", marketID, winner, err)
		}
		position, err := tx.Position(ctx, marketID, winner, participant)
		if err != nil {
			return fmt.Errorf("ledger: position %d/%d/%s: %w", marketID, winner, participant, err)
		}
		if position == 0 {
			return fmt.Errorf("ledger: claim on market %d: %w", marketID, domain.ErrNoPosition)
		}

		// A winning pool of zero means the creator resolved with an outcome
		// nobody backed; the computed reward is zero and is rejected rather
		// than paid out as an empty success.
		if outcome.Staked == 0 {
			return fmt.Errorf("ledger: zero reward: %w", domain.ErrInvalidParams)
		}
		reward, err = computeReward(position, market.TotalStaked, outcome.Staked)
		if err != nil {
			return err
		}

		if err := tx.SettlePosition(ctx, marketID, winner, participant, reward); err != nil {
			return fmt.Errorf("ledger: settle position: %w", err)
		}
		if err := l.transfer.Transfer(ctx, tx, reward, l.custody, participant); err != nil {
			return fmt.Errorf("ledger: claim transfer: %w", errors.Join(domain.ErrTransferFailed, err))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	l.logger.InfoContext(ctx, "ledger: claim settled",
		slog.Uint64("market_id", marketID),
		slog.String("participant", participant),
		slog.Uint64("reward", reward),
	)
	return reward, nil
}

// computeReward applies the settlement formula and its guards. A reward of
// zero or a reward exceeding the market's total pool is rejected; the latter
// would indicate a broken staking invariant and is never silently clamped.
func computeReward(position, totalStaked, winningPool uint64) (uint64, error) {
	reward, ok := mulDiv(position, totalStaked, winningPool)
	if !ok {
		return 0, fmt.Errorf("ledger: reward overflow: %w", domain.ErrInvalidParams)
	}
	if reward == 0 {
		return 0, fmt.Errorf("ledger: zero reward: %w", domain.ErrInvalidParams)
	}
	if reward > totalStaked {
		return 0, fmt.Errorf("ledger: reward %d exceeds pool %d: %w", reward, totalStaked, domain.ErrInvalidParams)
	}
	return reward, nil
}
