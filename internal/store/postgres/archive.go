package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openwager/wagerd/internal/domain"
)

// ArchiveStore reads settled markets for the archiver. It runs outside the
// ledger's transactional path, so it queries the pool directly.
type ArchiveStore struct {
	pool *pgxpool.Pool
}

func NewArchiveStore(pool *pgxpool.Pool) *ArchiveStore {
	return &ArchiveStore{pool: pool}
}

// ListUnarchived returns up to limit resolved markets that have not been
// archived yet, oldest first.
func (s *ArchiveStore) ListUnarchived(ctx context.Context, limit int) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketCols+` FROM markets
		 WHERE resolved AND archived_at IS NULL
		 ORDER BY id
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unarchived: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan unarchived market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list unarchived: %w", err)
	}
	return markets, nil
}

func (s *ArchiveStore) OutcomesByMarket(ctx context.Context, marketID uint64) ([]domain.Outcome, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT outcome_index, description, staked FROM outcomes
		 WHERE market_id = $1
		 ORDER BY outcome_index`, int64(marketID))
	if err != nil {
		return nil, fmt.Errorf("postgres: outcomes for market %d: %w", marketID, err)
	}
	defer rows.Close()

	var outcomes []domain.Outcome
	for rows.Next() {
		var index int16
		var description string
		var staked int64
		if err := rows.Scan(&index, &description, &staked); err != nil {
			return nil, fmt.Errorf("postgres: scan outcome: %w", err)
		}
		outcomes = append(outcomes, domain.Outcome{
			MarketID:    marketID,
			Index:       uint8(index),
			Description: description,
			Staked:      uint64(staked),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: outcomes for market %d: %w", marketID, err)
	}
	return outcomes, nil
}

func (s *ArchiveStore) PositionsByMarket(ctx context.Context, marketID uint64) ([]domain.PositionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT outcome_index, participant, amount, reward FROM positions
		 WHERE market_id = $1
		 ORDER BY outcome_index, participant`, int64(marketID))
	if err != nil {
		return nil, fmt.Errorf("postgres: positions for market %d: %w", marketID, err)
	}
	defer rows.Close()

	var positions []domain.PositionRecord
	for rows.Next() {
		var index int16
		var participant string
		var amount, reward int64
		if err := rows.Scan(&index, &participant, &amount, &reward); err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, domain.PositionRecord{
			MarketID:     marketID,
			OutcomeIndex: uint8(index),
			Participant:  participant,
			Amount:       uint64(amount),
			Reward:       uint64(reward),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: positions for market %d: %w", marketID, err)
	}
	return positions, nil
}

func (s *ArchiveStore) MarkArchived(ctx context.Context, marketID uint64, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET archived_at = $2, updated_at = NOW()
		 WHERE id = $1 AND archived_at IS NULL`, int64(marketID), at)
	if err != nil {
		return fmt.Errorf("postgres: mark archived %d: %w", marketID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var _ domain.ArchiveStore = (*ArchiveStore)(nil)
