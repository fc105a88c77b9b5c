// Package service coordinates the ledger core with the distributed lock,
// cache, event bus, and notifier. Handlers talk to this layer, never to the
// ledger directly.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/openwager/wagerd/internal/domain"
	"github.com/openwager/wagerd/internal/ledger"
	"github.com/openwager/wagerd/internal/notify"
)

// Event channels and the durable stream fed by the service layer.
const (
	ChannelLedger = "ch:ledger"
	StreamLedger  = "events:ledger"

	lockTTL = 5 * time.Second
)

// ChannelMarket returns the per-market fan-out channel name.
func ChannelMarket(id uint64) string {
	return "ch:market:" + strconv.FormatUint(id, 10)
}

// Event is the JSON envelope published for every state change.
type Event struct {
	Type        string `json:"type"`
	MarketID    uint64 `json:"market_id"`
	Outcome     *uint8 `json:"outcome,omitempty"`
	Participant string `json:"participant,omitempty"`
	Amount      uint64 `json:"amount,omitempty"`
	At          int64  `json:"at"`
}

// LedgerService serializes mutations per market through the lock manager and
// fans out events after each successful change. The cache, bus, and notifier
// are optional; a nil value disables that concern.
type LedgerService struct {
	ledger   *ledger.Ledger
	locks    domain.LockManager
	cache    domain.MarketCache
	bus      domain.EventBus
	notifier notify.Notifier
	logger   *slog.Logger
}

// NewLedgerService creates a LedgerService.
func NewLedgerService(
	l *ledger.Ledger,
	locks domain.LockManager,
	cache domain.MarketCache,
	bus domain.EventBus,
	notifier notify.Notifier,
	logger *slog.Logger,
) *LedgerService {
	return &LedgerService{
		ledger:   l,
		locks:    locks,
		cache:    cache,
		bus:      bus,
		notifier: notifier,
		logger:   logger,
	}
}

// lockMarket serializes mutations on one market across instances. With no
// lock manager configured it is a no-op.
func (s *LedgerService) lockMarket(ctx context.Context, id uint64) (func(), error) {
	if s.locks == nil {
		return func() {}, nil
	}
	unlock, err := s.locks.Acquire(ctx, "market:"+strconv.FormatUint(id, 10), lockTTL)
	if err != nil {
		return nil, fmt.Errorf("service: lock market %d: %w", id, err)
	}
	return unlock, nil
}

// invalidate drops the cached copy of a market after a mutation. Cache
// failures are logged, never surfaced: the entry expires on its own.
func (s *LedgerService) invalidate(ctx context.Context, id uint64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.logger.WarnContext(ctx, "service: cache invalidate failed",
			slog.Uint64("market_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// publish fans an event out on the shared channel, the per-market channel,
// and the durable stream. Failures are logged, never surfaced.
func (s *LedgerService) publish(ctx context.Context, ev Event) {
	if s.bus == nil {
		return
	}
	ev.At = time.Now().Unix()
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.WarnContext(ctx, "service: marshal event failed",
			slog.String("type", ev.Type),
			slog.String("error", err.Error()),
		)
		return
	}

	for _, channel := range []string{ChannelLedger, ChannelMarket(ev.MarketID)} {
		if err := s.bus.Publish(ctx, channel, payload); err != nil {
			s.logger.WarnContext(ctx, "service: publish failed",
				slog.String("channel", channel),
				slog.String("error", err.Error()),
			)
		}
	}
	if err := s.bus.StreamAppend(ctx, StreamLedger, payload); err != nil {
		s.logger.WarnContext(ctx, "service: stream append failed",
			slog.String("stream", StreamLedger),
			slog.String("error", err.Error()),
		)
	}
}

// CreateMarket creates a market and announces it.
func (s *LedgerService) CreateMarket(ctx context.Context, creator, question string, outcomeCount uint8, blocksUntilResolution uint64) (uint64, error) {
	id, err := s.ledger.CreateMarket(ctx, creator, question, outcomeCount, blocksUntilResolution)
	if err != nil {
		return 0, err
	}
	s.publish(ctx, Event{Type: "market_created", MarketID: id, Participant: creator})
	return id, nil
}

// DefineOutcome adds an outcome to a market.
func (s *LedgerService) DefineOutcome(ctx context.Context, caller string, marketID uint64, index uint8, description string) error {
	unlock, err := s.lockMarket(ctx, marketID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.ledger.DefineOutcome(ctx, caller, marketID, index, description); err != nil {
		return err
	}
	s.invalidate(ctx, marketID)
	s.publish(ctx, Event{Type: "outcome_defined", MarketID: marketID, Outcome: &index})
	return nil
}

// Stake places a wager on an outcome.
func (s *LedgerService) Stake(ctx context.Context, participant string, marketID uint64, index uint8, amount uint64) error {
	unlock, err := s.lockMarket(ctx, marketID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.ledger.Stake(ctx, participant, marketID, index, amount); err != nil {
		return err
	}
	s.invalidate(ctx, marketID)
	s.publish(ctx, Event{
		Type:        "stake_placed",
		MarketID:    marketID,
		Outcome:     &index,
		Participant: participant,
		Amount:      amount,
	})
	return nil
}

// Resolve settles a market on its winning outcome and notifies operators.
func (s *LedgerService) Resolve(ctx context.Context, caller string, marketID uint64, winner uint8) error {
	unlock, err := s.lockMarket(ctx, marketID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.ledger.Resolve(ctx, caller, marketID, winner); err != nil {
		return err
	}
	s.invalidate(ctx, marketID)
	s.publish(ctx, Event{Type: "market_resolved", MarketID: marketID, Outcome: &winner})

	if s.notifier != nil {
		msg := fmt.Sprintf("market %d resolved with winning outcome %d", marketID, winner)
		if err := s.notifier.Notify(ctx, msg); err != nil {
			s.logger.WarnContext(ctx, "service: notify failed",
				slog.Uint64("market_id", marketID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// Claim pays out the caller's winning position and returns the reward.
func (s *LedgerService) Claim(ctx context.Context, participant string, marketID uint64) (uint64, error) {
	unlock, err := s.lockMarket(ctx, marketID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	reward, err := s.ledger.Claim(ctx, participant, marketID)
	if err != nil {
		return 0, err
	}
	s.invalidate(ctx, marketID)
	s.publish(ctx, Event{
		Type:        "claim_settled",
		MarketID:    marketID,
		Participant: participant,
		Amount:      reward,
	})

	if s.notifier != nil {
		msg := fmt.Sprintf("market %d: %s claimed %d", marketID, participant, reward)
		if err := s.notifier.Notify(ctx, msg); err != nil {
			s.logger.WarnContext(ctx, "service: notify failed",
				slog.Uint64("market_id", marketID),
				slog.String("error", err.Error()),
			)
		}
	}
	return reward, nil
}

// GetMarket reads a market, checking the cache first and backfilling it on a
// miss from the state store.
func (s *LedgerService) GetMarket(ctx context.Context, id uint64) (domain.Market, error) {
	if s.cache != nil {
		if m, err := s.cache.Get(ctx, id); err == nil {
			return m, nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "service: cache get failed",
				slog.Uint64("market_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	m, err := s.ledger.GetMarket(ctx, id)
	if err != nil {
		return domain.Market{}, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, m); err != nil {
			s.logger.WarnContext(ctx, "service: cache set failed",
				slog.Uint64("market_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return m, nil
}

// GetOutcome reads one outcome of a market.
func (s *LedgerService) GetOutcome(ctx context.Context, marketID uint64, index uint8) (domain.Outcome, error) {
	return s.ledger.GetOutcome(ctx, marketID, index)
}

// GetPosition reads a participant's position on an outcome. An absent
// position reads as zero.
func (s *LedgerService) GetPosition(ctx context.Context, marketID uint64, index uint8, participant string) (uint64, error) {
	return s.ledger.GetPosition(ctx, marketID, index, participant)
}

// MarketCount reports how many markets have been created.
func (s *LedgerService) MarketCount(ctx context.Context) (uint64, error) {
	return s.ledger.MarketCount(ctx)
}

// IsMarketActive reports whether a market still accepts stakes.
func (s *LedgerService) IsMarketActive(ctx context.Context, id uint64) (bool, error) {
	return s.ledger.IsMarketActive(ctx, id)
}

// Events replays the durable event stream starting after lastID.
func (s *LedgerService) Events(ctx context.Context, lastID string, count int) ([]domain.StreamMessage, error) {
	if s.bus == nil {
		return nil, nil
	}
	return s.bus.StreamRead(ctx, StreamLedger, lastID, count)
}
