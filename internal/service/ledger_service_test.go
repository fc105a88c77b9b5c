package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/openwager/wagerd/internal/bank"
	"github.com/openwager/wagerd/internal/domain"
	"github.com/openwager/wagerd/internal/ledger"
	"github.com/openwager/wagerd/internal/state/memory"
)

type fixedHeight struct {
	height uint64
}

func (h *fixedHeight) Height(ctx context.Context) (uint64, error) {
	return h.height, nil
}

type recordingBus struct {
	published map[string][][]byte
	stream    []domain.StreamMessage
}

func (b *recordingBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if b.published == nil {
		b.published = make(map[string][][]byte)
	}
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *recordingBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return nil, errors.New("not implemented")
}

func (b *recordingBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	b.stream = append(b.stream, domain.StreamMessage{ID: stream, Payload: payload})
	return nil
}

func (b *recordingBus) StreamRead(ctx context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	return b.stream, nil
}

type mapCache struct {
	entries map[uint64]domain.Market
	gets    int
}

func (c *mapCache) Set(ctx context.Context, m domain.Market) error {
	if c.entries == nil {
		c.entries = make(map[uint64]domain.Market)
	}
	c.entries[m.ID] = m
	return nil
}

func (c *mapCache) Get(ctx context.Context, id uint64) (domain.Market, error) {
	c.gets++
	m, ok := c.entries[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (c *mapCache) Invalidate(ctx context.Context, id uint64) error {
	delete(c.entries, id)
	return nil
}

type heldLock struct{}

func (heldLock) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

func newService(t *testing.T, locks domain.LockManager, cache domain.MarketCache, bus domain.EventBus) (*LedgerService, *memory.State, *fixedHeight) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	state := memory.New()
	heights := &fixedHeight{}
	core := ledger.New(state, bank.NewTransferrer(), heights, "custody", logger)
	return NewLedgerService(core, locks, cache, bus, nil, logger), state, heights
}

func fund(t *testing.T, state *memory.State, account string, amount uint64) {
	t.Helper()
	err := state.Update(context.Background(), func(tx domain.StateTx) error {
		return tx.PutBalance(context.Background(), account, amount)
	})
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
}

func TestNilCollaboratorsAreTolerated(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t, nil, nil, nil)

	id, err := svc.CreateMarket(ctx, "alice", "Will it rain?", 2, 2000)
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	if err := svc.DefineOutcome(ctx, "alice", id, 0, "yes"); err != nil {
		t.Fatalf("DefineOutcome: %v", err)
	}
	if _, err := svc.GetMarket(ctx, id); err != nil {
		t.Fatalf("GetMarket: %v", err)
	}
	msgs, err := svc.Events(ctx, "0", 10)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if msgs != nil {
		t.Errorf("Events with no bus = %v, want nil", msgs)
	}
}

func TestHeldLockBlocksMutations(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t, heldLock{}, nil, nil)

	if err := svc.Stake(ctx, "bruno", 0, 0, 100); !errors.Is(err, domain.ErrLockHeld) {
		t.Errorf("Stake under held lock: err = %v, want ErrLockHeld", err)
	}
	if _, err := svc.Claim(ctx, "bruno", 0); !errors.Is(err, domain.ErrLockHeld) {
		t.Errorf("Claim under held lock: err = %v, want ErrLockHeld", err)
	}
}

func TestEventsFanOut(t *testing.T) {
	ctx := context.Background()
	bus := &recordingBus{}
	svc, state, heights := newService(t, nil, nil, bus)
	fund(t, state, "bruno", 500)

	id, err := svc.CreateMarket(ctx, "alice", "Will it rain?", 2, 2000)
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	if err := svc.DefineOutcome(ctx, "alice", id, 1, "no"); err != nil {
		t.Fatalf("DefineOutcome: %v", err)
	}
	if err := svc.Stake(ctx, "bruno", id, 1, 500); err != nil {
		t.Fatalf("Stake: %v", err)
	}
	heights.height = 2000
	if err := svc.Resolve(ctx, "alice", id, 1); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	reward, err := svc.Claim(ctx, "bruno", id)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if reward != 500 {
		t.Errorf("reward = %d, want 500", reward)
	}

	wantTypes := []string{"market_created", "outcome_defined", "stake_placed", "market_resolved", "claim_settled"}
	shared := bus.published[ChannelLedger]
	if len(shared) != len(wantTypes) {
		t.Fatalf("published %d events on %s, want %d", len(shared), ChannelLedger, len(wantTypes))
	}
	for i, payload := range shared {
		var ev Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			t.Fatalf("decode event %d: %v", i, err)
		}
		if ev.Type != wantTypes[i] {
			t.Errorf("event %d type = %q, want %q", i, ev.Type, wantTypes[i])
		}
		if ev.At == 0 {
			t.Errorf("event %d has no timestamp", i)
		}
	}

	// Every event also lands on the per-market channel and the stream.
	if got := len(bus.published[ChannelMarket(id)]); got != len(wantTypes) {
		t.Errorf("per-market channel got %d events, want %d", got, len(wantTypes))
	}
	if len(bus.stream) != len(wantTypes) {
		t.Errorf("stream got %d entries, want %d", len(bus.stream), len(wantTypes))
	}
}

func TestStakeFailurePublishesNothing(t *testing.T) {
	ctx := context.Background()
	bus := &recordingBus{}
	svc, _, _ := newService(t, nil, nil, bus)

	id, err := svc.CreateMarket(ctx, "alice", "Will it rain?", 2, 2000)
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	if err := svc.DefineOutcome(ctx, "alice", id, 0, "yes"); err != nil {
		t.Fatalf("DefineOutcome: %v", err)
	}

	// Unfunded participant: the stake fails and no event goes out.
	if err := svc.Stake(ctx, "broke", id, 0, 100); err == nil {
		t.Fatal("expected stake to fail")
	}
	for _, payload := range bus.published[ChannelLedger] {
		var ev Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if ev.Type == "stake_placed" {
			t.Error("stake_placed published for a failed stake")
		}
	}
}

type recordingNotifier struct {
	messages []string
}

func (n *recordingNotifier) Notify(ctx context.Context, message string) error {
	n.messages = append(n.messages, message)
	return nil
}

func TestResolveAndClaimNotify(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	state := memory.New()
	heights := &fixedHeight{}
	core := ledger.New(state, bank.NewTransferrer(), heights, "custody", logger)
	notifier := &recordingNotifier{}
	svc := NewLedgerService(core, nil, nil, nil, notifier, logger)
	fund(t, state, "bruno", 500)

	id, err := svc.CreateMarket(ctx, "alice", "Will it rain?", 2, 2000)
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	if err := svc.DefineOutcome(ctx, "alice", id, 1, "no"); err != nil {
		t.Fatalf("DefineOutcome: %v", err)
	}
	if err := svc.Stake(ctx, "bruno", id, 1, 500); err != nil {
		t.Fatalf("Stake: %v", err)
	}
	if len(notifier.messages) != 0 {
		t.Fatalf("notified before settlement: %v", notifier.messages)
	}

	heights.height = 2000
	if err := svc.Resolve(ctx, "alice", id, 1); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(notifier.messages) != 1 {
		t.Fatalf("after resolve: %d notifications, want 1", len(notifier.messages))
	}

	if _, err := svc.Claim(ctx, "bruno", id); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if len(notifier.messages) != 2 {
		t.Fatalf("after claim: %d notifications, want 2", len(notifier.messages))
	}
	if !strings.Contains(notifier.messages[1], "bruno") {
		t.Errorf("claim notification %q does not name the participant", notifier.messages[1])
	}
}

func TestGetMarketBackfillsCache(t *testing.T) {
	ctx := context.Background()
	cache := &mapCache{}
	svc, _, _ := newService(t, nil, cache, nil)

	id, err := svc.CreateMarket(ctx, "alice", "Will it rain?", 2, 2000)
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}

	if _, err := svc.GetMarket(ctx, id); err != nil {
		t.Fatalf("GetMarket: %v", err)
	}
	if _, ok := cache.entries[id]; !ok {
		t.Fatal("market not backfilled into cache")
	}

	// Second read is served from the cache.
	before := cache.gets
	if _, err := svc.GetMarket(ctx, id); err != nil {
		t.Fatalf("GetMarket: %v", err)
	}
	if cache.gets != before+1 {
		t.Errorf("cache gets = %d, want %d", cache.gets, before+1)
	}
}

func TestMutationInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	cache := &mapCache{}
	svc, _, _ := newService(t, nil, cache, nil)

	id, err := svc.CreateMarket(ctx, "alice", "Will it rain?", 2, 2000)
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	if _, err := svc.GetMarket(ctx, id); err != nil {
		t.Fatalf("GetMarket: %v", err)
	}

	if err := svc.DefineOutcome(ctx, "alice", id, 0, "yes"); err != nil {
		t.Fatalf("DefineOutcome: %v", err)
	}
	if _, ok := cache.entries[id]; ok {
		t.Error("cache entry survived a mutation")
	}
}
