// Package chain maintains the monotonic block-height counter that gates
// staking windows and resolution timing. The height lives in ledger state;
// a Runner advances it once per block interval.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openwager/wagerd/internal/domain"
)

// Source reads the current height from state. It implements
// domain.HeightSource.
type Source struct {
	state domain.State
}

// NewSource creates a height Source over the given state.
func NewSource(state domain.State) *Source {
	return &Source{state: state}
}

// Height returns the current block height.
func (s *Source) Height(ctx context.Context) (uint64, error) {
	var height uint64
	err := s.state.View(ctx, func(tx domain.StateTx) error {
		h, err := tx.Height(ctx)
		if err != nil {
			return fmt.Errorf("chain: read height: %w", err)
		}
		height = h
		return nil
	})
	return height, err
}

// Advance increments the height by n and returns the new value. Operators
// use it directly; the Runner uses it once per tick.
func (s *Source) Advance(ctx context.Context, n uint64) (uint64, error) {
	if n == 0 {
		return 0, fmt.Errorf("chain: advance by zero: %w", domain.ErrInvalidParams)
	}
	var height uint64
	err := s.state.Update(ctx, func(tx domain.StateTx) error {
		current, err := tx.Height(ctx)
		if err != nil {
			return fmt.Errorf("chain: read height: %w", err)
		}
		next := current + n
		if next < current {
			return fmt.Errorf("chain: height overflow: %w", domain.ErrInvalidParams)
		}
		height = next
		return tx.SetHeight(ctx, next)
	})
	return height, err
}

// Runner advances the height on a fixed interval until its context is
// cancelled.
type Runner struct {
	source   *Source
	interval time.Duration
	logger   *slog.Logger
}

// NewRunner creates a Runner that advances the height once per interval.
func NewRunner(source *Source, interval time.Duration, logger *slog.Logger) *Runner {
	return &Runner{
		source:   source,
		interval: interval,
		logger:   logger.With(slog.String("component", "chain")),
	}
}

// Run blocks, ticking the height forward, until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.InfoContext(ctx, "chain: height runner started",
		slog.Duration("interval", r.interval),
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			height, err := r.source.Advance(ctx, 1)
			if err != nil {
				r.logger.ErrorContext(ctx, "chain: advance failed",
					slog.String("error", err.Error()),
				)
				continue
			}
			r.logger.DebugContext(ctx, "chain: height advanced",
				slog.Uint64("height", height),
			)
		}
	}
}

// Compile-time interface check.
var _ domain.HeightSource = (*Source)(nil)
