package ledger

import (
	"context"
	"fmt"

	"github.com/openwager/wagerd/internal/domain"
)

// GetMarket fetches a market by id.
func (l *Ledger) GetMarket(ctx context.Context, id uint64) (domain.Market, error) {
	var market domain.Market
	err := l.state.View(ctx, func(tx domain.StateTx) error {
		m, err := tx.Market(ctx, id)
		if err != nil {
			return fmt.Errorf("ledger: market %d: %w", id, err)
		}
		market = m
		return nil
	})
	return market, err
}

// GetOutcome fetches an outcome by (market, index).
func (l *Ledger) GetOutcome(ctx context.Context, marketID uint64, index uint8) (domain.Outcome, error) {
	var outcome domain.Outcome
	err := l.state.View(ctx, func(tx domain.StateTx) error {
		o, err := tx.Outcome(ctx, marketID, index)
		if err != nil {
			return fmt.Errorf("ledger: outcome %d/%d: %w", marketID, index, err)
		}
		outcome = o
		return nil
	})
	return outcome, err
}

// GetPosition returns the participant's staked amount on the given outcome.
// An absent position reads as zero.
func (l *Ledger) GetPosition(ctx context.Context, marketID uint64, index uint8, participant string) (uint64, error) {
	var amount uint64
	err := l.state.View(ctx, func(tx domain.StateTx) error {
		a, err := tx.Position(ctx, marketID, index, participant)
		if err != nil {
			return fmt.Errorf("ledger: position %d/%d/%s: %w", marketID, index, participant, err)
		}
		amount = a
		return nil
	})
	return amount, err
}

// MarketCount returns the number of markets created so far.
func (l *Ledger) MarketCount(ctx context.Context) (uint64, error) {
	var count uint64
	err := l.state.View(ctx, func(tx domain.StateTx) error {
		c, err := tx.MarketCount(ctx)
		if err != nil {
			return fmt.Errorf("ledger: market count: %w", err)
		}
		count = c
		return nil
	})
	return count, err
}

// IsMarketActive reports whether the market is unresolved and still inside
// its staking window.
func (l *Ledger) IsMarketActive(ctx context.Context, id uint64) (bool, error) {
	height, err := l.height.Height(ctx)
	if err != nil {
		return false, fmt.Errorf("ledger: read height: %w", err)
	}
	market, err := l.GetMarket(ctx, id)
	if err != nil {
		return false, err
	}
	return !market.Resolved && height < market.ResolutionHeight, nil
}
