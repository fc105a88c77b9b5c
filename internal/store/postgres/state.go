package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openwager/wagerd/internal/domain"
)

// State implements domain.State over a pgx connection pool. Update runs its
// function inside a serializable transaction; View uses a read-only
// transaction.
type State struct {
	pool *pgxpool.Pool
}

// NewState creates a State backed by the given connection pool.
func NewState(pool *pgxpool.Pool) *State {
	return &State{pool: pool}
}

// Update runs fn inside a serializable read-write transaction and commits it
// only when fn returns nil.
func (s *State) Update(ctx context.Context, fn func(tx domain.StateTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}

	if err := fn(&stateTx{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// View runs fn inside a read-only transaction.
func (s *State) View(ctx context.Context, fn func(tx domain.StateTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("postgres: begin read tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	return fn(&stateTx{tx: tx})
}

// stateTx adapts a pgx transaction to domain.StateTx.
type stateTx struct {
	tx pgx.Tx
}

const marketCols = `id, creator, question, outcome_count, resolution_height,
	resolved, winning_outcome, total_staked`

func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var id, resolutionHeight, totalStaked int64
	var outcomeCount int16
	var winning *int16

	err := row.Scan(&id, &m.Creator, &m.Question, &outcomeCount,
		&resolutionHeight, &m.Resolved, &winning, &totalStaked)
	if err != nil {
		return domain.Market{}, err
	}
	m.ID = uint64(id)
	m.OutcomeCount = uint8(outcomeCount)
	m.ResolutionHeight = uint64(resolutionHeight)
	m.TotalStaked = uint64(totalStaked)
	if winning != nil {
		w := uint8(*winning)
		m.WinningOutcome = &w
	}
	return m, nil
}

func (t *stateTx) Market(ctx context.Context, id uint64) (domain.Market, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, int64(id))
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %d: %w", id, err)
	}
	return m, nil
}

func (t *stateTx) PutMarket(ctx context.Context, m domain.Market) error {
	var winning *int16
	if m.WinningOutcome != nil {
		w := int16(*m.WinningOutcome)
		winning = &w
	}

	const query = `
		INSERT INTO markets (
			id, creator, question, outcome_count, resolution_height,
			resolved, winning_outcome, total_staked, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (id) DO UPDATE SET
			resolved        = EXCLUDED.resolved,
			winning_outcome = EXCLUDED.winning_outcome,
			total_staked    = EXCLUDED.total_staked,
			updated_at      = NOW()`

	_, err := t.tx.Exec(ctx, query,
		int64(m.ID), m.Creator, m.Question, int16(m.OutcomeCount),
		int64(m.ResolutionHeight), m.Resolved, winning, int64(m.TotalStaked),
	)
	if err != nil {
		return fmt.Errorf("postgres: put market %d: %w", m.ID, err)
	}
	return nil
}

func (t *stateTx) Outcome(ctx context.Context, marketID uint64, index uint8) (domain.Outcome, error) {
	var description string
	var staked int64
	err := t.tx.QueryRow(ctx,
		`SELECT description, staked FROM outcomes
		 WHERE market_id = $1 AND outcome_index = $2`,
		int64(marketID), int16(index),
	).Scan(&description, &staked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Outcome{}, domain.ErrNotFound
		}
		return domain.Outcome{}, fmt.Errorf("postgres: get outcome %d/%d: %w", marketID, index, err)
	}
	return domain.Outcome{
		MarketID:    marketID,
		Index:       index,
		Description: description,
		Staked:      uint64(staked),
	}, nil
}

func (t *stateTx) PutOutcome(ctx context.Context, o domain.Outcome) error {
	const query = `
		INSERT INTO outcomes (market_id, outcome_index, description, staked)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (market_id, outcome_index) DO UPDATE SET
			staked = EXCLUDED.staked`

	_, err := t.tx.Exec(ctx, query,
		int64(o.MarketID), int16(o.Index), o.Description, int64(o.Staked))
	if err != nil {
		return fmt.Errorf("postgres: put outcome %d/%d: %w", o.MarketID, o.Index, err)
	}
	return nil
}

func (t *stateTx) Position(ctx context.Context, marketID uint64, index uint8, participant string) (uint64, error) {
	var amount int64
	err := t.tx.QueryRow(ctx,
		`SELECT amount FROM positions
		 WHERE market_id = $1 AND outcome_index = $2 AND participant = $3`,
		int64(marketID), int16(index), participant,
	).Scan(&amount)
	if err != nil {
		// An absent position reads as zero.
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres: get position %d/%d/%s: %w", marketID, index, participant, err)
	}
	return uint64(amount), nil
}

func (t *stateTx) PutPosition(ctx context.Context, marketID uint64, index uint8, participant string, amount uint64) error {
	const query = `
		INSERT INTO positions (market_id, outcome_index, participant, amount)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (market_id, outcome_index, participant) DO UPDATE SET
			amount = EXCLUDED.amount`

	_, err := t.tx.Exec(ctx, query,
		int64(marketID), int16(index), participant, int64(amount))
	if err != nil {
		return fmt.Errorf("postgres: put position %d/%d/%s: %w", marketID, index, participant, err)
	}
	return nil
}

func (t *stateTx) SettlePosition(ctx context.Context, marketID uint64, index uint8, participant string, reward uint64) error {
	const query = `
		INSERT INTO positions (market_id, outcome_index, participant, amount, reward)
		VALUES ($1, $2, $3, 0, $4)
		ON CONFLICT (market_id, outcome_index, participant) DO UPDATE SET
			amount = 0,
			reward = EXCLUDED.reward`

	_, err := t.tx.Exec(ctx, query,
		int64(marketID), int16(index), participant, int64(reward))
	if err != nil {
		return fmt.Errorf("postgres: settle position %d/%d/%s: %w", marketID, index, participant, err)
	}
	return nil
}

func (t *stateTx) NextMarketID(ctx context.Context) (uint64, error) {
	var next int64
	err := t.tx.QueryRow(ctx,
		`UPDATE market_counter SET next_id = next_id + 1 RETURNING next_id - 1`,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("postgres: next market id: %w", err)
	}
	return uint64(next), nil
}

func (t *stateTx) MarketCount(ctx context.Context) (uint64, error) {
	var count int64
	err := t.tx.QueryRow(ctx, `SELECT next_id FROM market_counter`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: market count: %w", err)
	}
	return uint64(count), nil
}

func (t *stateTx) Balance(ctx context.Context, account string) (uint64, error) {
	var balance int64
	err := t.tx.QueryRow(ctx,
		`SELECT balance FROM accounts WHERE account = $1`, account,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres: get balance %s: %w", account, err)
	}
	return uint64(balance), nil
}

func (t *stateTx) PutBalance(ctx context.Context, account string, amount uint64) error {
	const query = `
		INSERT INTO accounts (account, balance) VALUES ($1, $2)
		ON CONFLICT (account) DO UPDATE SET balance = EXCLUDED.balance`

	if _, err := t.tx.Exec(ctx, query, account, int64(amount)); err != nil {
		return fmt.Errorf("postgres: put balance %s: %w", account, err)
	}
	return nil
}

func (t *stateTx) Height(ctx context.Context) (uint64, error) {
	var height int64
	if err := t.tx.QueryRow(ctx, `SELECT height FROM chain_height`).Scan(&height); err != nil {
		return 0, fmt.Errorf("postgres: get height: %w", err)
	}
	return uint64(height), nil
}

func (t *stateTx) SetHeight(ctx context.Context, height uint64) error {
	if _, err := t.tx.Exec(ctx,
		`UPDATE chain_height SET height = $1`, int64(height)); err != nil {
		return fmt.Errorf("postgres: set height: %w", err)
	}
	return nil
}

// Compile-time interface checks.
var (
	_ domain.State   = (*State)(nil)
	_ domain.StateTx = (*stateTx)(nil)
)
