// Package memory implements domain.State entirely in process memory. Writes
// are staged per transaction and applied on commit, so a failed operation
// leaves no trace. It backs the ledger in tests and in single-node
// deployments that run without PostgreSQL.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/openwager/wagerd/internal/domain"
)

type outcomeKey struct {
	marketID uint64
	index    uint8
}

type positionKey struct {
	marketID    uint64
	index       uint8
	participant string
}

// State holds all ledger collections. The mutex is held for the full extent
// of each transaction, so mutating operations are serialized.
type State struct {
	mu        sync.Mutex
	markets   map[uint64]domain.Market
	outcomes  map[outcomeKey]domain.Outcome
	positions map[positionKey]uint64
	payouts   map[positionKey]uint64
	balances  map[string]uint64
	nextID    uint64
	height    uint64
}

// New creates an empty in-memory state.
func New() *State {
	return &State{
		markets:   make(map[uint64]domain.Market),
		outcomes:  make(map[outcomeKey]domain.Outcome),
		positions: make(map[positionKey]uint64),
		payouts:   make(map[positionKey]uint64),
		balances:  make(map[string]uint64),
	}
}

// Update runs fn against a staged view of the state and applies the staged
// writes only when fn returns nil.
func (s *State) Update(ctx context.Context, fn func(tx domain.StateTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := newTx(s)
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// View runs fn against a read-only snapshot. Staged writes, if fn makes any,
// are discarded.
func (s *State) View(ctx context.Context, fn func(tx domain.StateTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return fn(newTx(s))
}

// tx stages writes on top of the parent state. Reads consult the staged maps
// first so a transaction observes its own writes.
type tx struct {
	parent *State

	markets   map[uint64]domain.Market
	outcomes  map[outcomeKey]domain.Outcome
	positions map[positionKey]uint64
	payouts   map[positionKey]uint64
	balances  map[string]uint64
	nextID    *uint64
	height    *uint64
}

func newTx(s *State) *tx {
	return &tx{
		parent:    s,
		markets:   make(map[uint64]domain.Market),
		outcomes:  make(map[outcomeKey]domain.Outcome),
		positions: make(map[positionKey]uint64),
		payouts:   make(map[positionKey]uint64),
		balances:  make(map[string]uint64),
	}
}

func (t *tx) commit() {
	for id, m := range t.markets {
		t.parent.markets[id] = m
	}
	for k, o := range t.outcomes {
		t.parent.outcomes[k] = o
	}
	for k, amount := range t.positions {
		t.parent.positions[k] = amount
	}
	for k, reward := range t.payouts {
		t.parent.payouts[k] = reward
	}
	for account, balance := range t.balances {
		t.parent.balances[account] = balance
	}
	if t.nextID != nil {
		t.parent.nextID = *t.nextID
	}
	if t.height != nil {
		t.parent.height = *t.height
	}
}

func (t *tx) Market(ctx context.Context, id uint64) (domain.Market, error) {
	if m, ok := t.markets[id]; ok {
		return m, nil
	}
	if m, ok := t.parent.markets[id]; ok {
		return m, nil
	}
	return domain.Market{}, domain.ErrNotFound
}

func (t *tx) PutMarket(ctx context.Context, m domain.Market) error {
	t.markets[m.ID] = m
	return nil
}

func (t *tx) Outcome(ctx context.Context, marketID uint64, index uint8) (domain.Outcome, error) {
	k := outcomeKey{marketID, index}
	if o, ok := t.outcomes[k]; ok {
		return o, nil
	}
	if o, ok := t.parent.outcomes[k]; ok {
		return o, nil
	}
	return domain.Outcome{}, domain.ErrNotFound
}

func (t *tx) PutOutcome(ctx context.Context, o domain.Outcome) error {
	t.outcomes[outcomeKey{o.MarketID, o.Index}] = o
	return nil
}

func (t *tx) Position(ctx context.Context, marketID uint64, index uint8, participant string) (uint64, error) {
	k := positionKey{marketID, index, participant}
	if amount, ok := t.positions[k]; ok {
		return amount, nil
	}
	// Absent and zero are the same thing.
	return t.parent.positions[k], nil
}

func (t *tx) SettlePosition(ctx context.Context, marketID uint64, index uint8, participant string, reward uint64) error {
	k := positionKey{marketID, index, participant}
	t.positions[k] = 0
	t.payouts[k] = reward
	return nil
}

func (t *tx) PutPosition(ctx context.Context, marketID uint64, index uint8, participant string, amount uint64) error {
	t.positions[positionKey{marketID, index, participant}] = amount
	return nil
}

func (t *tx) NextMarketID(ctx context.Context) (uint64, error) {
	next := t.parent.nextID
	if t.nextID != nil {
		next = *t.nextID
	}
	advanced := next + 1
	t.nextID = &advanced
	return next, nil
}

func (t *tx) MarketCount(ctx context.Context) (uint64, error) {
	if t.nextID != nil {
		return *t.nextID, nil
	}
	return t.parent.nextID, nil
}

func (t *tx) Balance(ctx context.Context, account string) (uint64, error) {
	if balance, ok := t.balances[account]; ok {
		return balance, nil
	}
	return t.parent.balances[account], nil
}

func (t *tx) PutBalance(ctx context.Context, account string, amount uint64) error {
	t.balances[account] = amount
	return nil
}

func (t *tx) Height(ctx context.Context) (uint64, error) {
	if t.height != nil {
		return *t.height, nil
	}
	return t.parent.height, nil
}

func (t *tx) SetHeight(ctx context.Context, height uint64) error {
	current, _ := t.Height(ctx)
	if height < current {
		return fmt.Errorf("memory: height %d below current %d: %w", height, current, domain.ErrInvalidParams)
	}
	t.height = &height
	return nil
}

// Compile-time interface check.
var _ domain.State = (*State)(nil)
