package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/openwager/wagerd/internal/bank"
	"github.com/openwager/wagerd/internal/domain"
	"github.com/openwager/wagerd/internal/state/memory"
)

const custody = "custody"

// stubHeight is a HeightSource whose value tests move by hand.
type stubHeight struct {
	height uint64
}

func (s *stubHeight) Height(ctx context.Context) (uint64, error) {
	return s.height, nil
}

func newTestLedger(t *testing.T) (*Ledger, *memory.State, *stubHeight) {
	t.Helper()
	state := memory.New()
	heights := &stubHeight{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	l := New(state, bank.NewTransferrer(), heights, custody, logger)
	return l, state, heights
}

func fund(t *testing.T, state *memory.State, account string, amount uint64) {
	t.Helper()
	err := state.Update(context.Background(), func(tx domain.StateTx) error {
		return tx.PutBalance(context.Background(), account, amount)
	})
	if err != nil {
		t.Fatalf("fund %s: %v", account, err)
	}
}

func balance(t *testing.T, state *memory.State, account string) uint64 {
	t.Helper()
	var b uint64
	err := state.View(context.Background(), func(tx domain.StateTx) error {
		var err error
		b, err = tx.Balance(context.Background(), account)
		return err
	})
	if err != nil {
		t.Fatalf("balance %s: %v", account, err)
	}
	return b
}

// newMarket creates a market with the given outcomes defined and returns its
// id. The market resolves 2000 blocks after the current height.
func newMarket(t *testing.T, l *Ledger, creator string, outcomes ...string) uint64 {
	t.Helper()
	ctx := context.Background()
	id, err := l.CreateMarket(ctx, creator, "Will it rain tomorrow?", uint8(len(outcomes)), 2000)
	if err != nil {
		t.Fatalf("create market: %v", err)
	}
	for i, desc := range outcomes {
		if err := l.DefineOutcome(ctx, creator, id, uint8(i), desc); err != nil {
			t.Fatalf("define outcome %d: %v", i, err)
		}
	}
	return id
}

func TestCreateMarketValidation(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	cases := []struct {
		name         string
		question     string
		outcomeCount uint8
		delay        uint64
	}{
		{"empty question", "", 2, 2000},
		{"blank question", "   ", 2, 2000},
		{"question too long", strings.Repeat("x", domain.MaxQuestionLen+1), 2, 2000},
		{"zero outcomes", "q?", 0, 2000},
		{"delay at minimum", "q?", 2, domain.MinResolutionDelay},
		{"delay below minimum", "q?", 2, 10},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := l.CreateMarket(ctx, "alice", c.question, c.outcomeCount, c.delay)
			if !errors.Is(err, domain.ErrInvalidParams) {
				t.Errorf("got %v, want ErrInvalidParams", err)
			}
		})
	}
}

func TestCreateMarketAssignsSequentialIDs(t *testing.T) {
	l, _, heights := newTestLedger(t)
	ctx := context.Background()
	heights.height = 500

	for want := uint64(0); want < 3; want++ {
		id, err := l.CreateMarket(ctx, "alice", "q?", 2, 2000)
		if err != nil {
			t.Fatalf("create market: %v", err)
		}
		if id != want {
			t.Errorf("market id = %d, want %d", id, want)
		}
	}

	m, err := l.GetMarket(ctx, 0)
	if err != nil {
		t.Fatalf("get market: %v", err)
	}
	if m.ResolutionHeight != 2500 {
		t.Errorf("resolution height = %d, want 2500", m.ResolutionHeight)
	}
	if m.Resolved {
		t.Error("new market is resolved")
	}

	count, err := l.MarketCount(ctx)
	if err != nil {
		t.Fatalf("market count: %v", err)
	}
	if count != 3 {
		t.Errorf("market count = %d, want 3", count)
	}
}

func TestDefineOutcome(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	id, err := l.CreateMarket(ctx, "alice", "q?", 2, 2000)
	if err != nil {
		t.Fatalf("create market: %v", err)
	}

	if err := l.DefineOutcome(ctx, "mallory", id, 0, "yes"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("non-creator define: got %v, want ErrUnauthorized", err)
	}
	if err := l.DefineOutcome(ctx, "alice", id+1, 0, "yes"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown market: got %v, want ErrNotFound", err)
	}
	if err := l.DefineOutcome(ctx, "alice", id, 2, "maybe"); !errors.Is(err, domain.ErrInvalidParams) {
		t.Errorf("index out of range: got %v, want ErrInvalidParams", err)
	}
	if err := l.DefineOutcome(ctx, "alice", id, 0, ""); !errors.Is(err, domain.ErrInvalidParams) {
		t.Errorf("empty description: got %v, want ErrInvalidParams", err)
	}
	long := strings.Repeat("y", domain.MaxDescriptionLen+1)
	if err := l.DefineOutcome(ctx, "alice", id, 0, long); !errors.Is(err, domain.ErrInvalidParams) {
		t.Errorf("long description: got %v, want ErrInvalidParams", err)
	}

	if err := l.DefineOutcome(ctx, "alice", id, 0, "yes"); err != nil {
		t.Fatalf("define outcome: %v", err)
	}
	if err := l.DefineOutcome(ctx, "alice", id, 0, "yes again"); !errors.Is(err, domain.ErrInvalidParams) {
		t.Errorf("duplicate define: got %v, want ErrInvalidParams", err)
	}

	o, err := l.GetOutcome(ctx, id, 0)
	if err != nil {
		t.Fatalf("get outcome: %v", err)
	}
	if o.Description != "yes" || o.Staked != 0 {
		t.Errorf("outcome = %+v, want description yes, staked 0", o)
	}
}

func TestStake(t *testing.T) {
	l, state, heights := newTestLedger(t)
	ctx := context.Background()

	id := newMarket(t, l, "alice", "yes", "no")
	fund(t, state, "bob", 1_000)

	// Zero amount fails before any lookup, even on an unknown market.
	if err := l.Stake(ctx, "bob", id+99, 0, 0); !errors.Is(err, domain.ErrInvalidParams) {
		t.Errorf("zero stake: got %v, want ErrInvalidParams", err)
	}

	if err := l.Stake(ctx, "bob", id+99, 0, 100); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown market: got %v, want ErrNotFound", err)
	}
	if err := l.Stake(ctx, "bob", id, 5, 100); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("undefined outcome: got %v, want ErrNotFound", err)
	}

	// Insufficient balance surfaces as a transfer failure.
	err := l.Stake(ctx, "bob", id, 0, 5_000)
	if !errors.Is(err, domain.ErrTransferFailed) {
		t.Errorf("broke stake: got %v, want ErrTransferFailed", err)
	}
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Errorf("broke stake: got %v, want ErrInsufficientBalance in chain", err)
	}

	if err := l.Stake(ctx, "bob", id, 0, 400); err != nil {
		t.Fatalf("stake: %v", err)
	}
	if err := l.Stake(ctx, "bob", id, 0, 100); err != nil {
		t.Fatalf("second stake: %v", err)
	}

	if got := balance(t, state, "bob"); got != 500 {
		t.Errorf("bob balance = %d, want 500", got)
	}
	if got := balance(t, state, custody); got != 500 {
		t.Errorf("custody balance = %d, want 500", got)
	}

	pos, err := l.GetPosition(ctx, id, 0, "bob")
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if pos != 500 {
		t.Errorf("position = %d, want 500", pos)
	}

	o, err := l.GetOutcome(ctx, id, 0)
	if err != nil {
		t.Fatalf("get outcome: %v", err)
	}
	if o.Staked != 500 {
		t.Errorf("outcome staked = %d, want 500", o.Staked)
	}

	m, err := l.GetMarket(ctx, id)
	if err != nil {
		t.Fatalf("get market: %v", err)
	}
	if m.TotalStaked != 500 {
		t.Errorf("total staked = %d, want 500", m.TotalStaked)
	}

	// Staking closes exactly at the resolution height, resolved or not.
	heights.height = m.ResolutionHeight
	if err := l.Stake(ctx, "bob", id, 0, 100); !errors.Is(err, domain.ErrMarketExpired) {
		t.Errorf("stake at resolution height: got %v, want ErrMarketExpired", err)
	}

	active, err := l.IsMarketActive(ctx, id)
	if err != nil {
		t.Fatalf("is active: %v", err)
	}
	if active {
		t.Error("market still active at resolution height")
	}
}

func TestStakeFailureLeavesStateUntouched(t *testing.T) {
	l, state, _ := newTestLedger(t)
	ctx := context.Background()

	id := newMarket(t, l, "alice", "yes", "no")
	fund(t, state, "bob", 100)

	if err := l.Stake(ctx, "bob", id, 0, 200); !errors.Is(err, domain.ErrTransferFailed) {
		t.Fatalf("got %v, want ErrTransferFailed", err)
	}

	if got := balance(t, state, "bob"); got != 100 {
		t.Errorf("bob balance = %d, want 100", got)
	}
	pos, _ := l.GetPosition(ctx, id, 0, "bob")
	if pos != 0 {
		t.Errorf("position = %d, want 0", pos)
	}
	m, _ := l.GetMarket(ctx, id)
	if m.TotalStaked != 0 {
		t.Errorf("total staked = %d, want 0", m.TotalStaked)
	}
}

func TestResolve(t *testing.T) {
	l, state, heights := newTestLedger(t)
	ctx := context.Background()

	// Outcome 2 stays undefined to exercise the phantom-winner guard.
	id, err := l.CreateMarket(ctx, "alice", "q?", 3, 2000)
	if err != nil {
		t.Fatalf("create market: %v", err)
	}
	for i, desc := range []string{"yes", "no"} {
		if err := l.DefineOutcome(ctx, "alice", id, uint8(i), desc); err != nil {
			t.Fatalf("define outcome: %v", err)
		}
	}
	fund(t, state, "bob", 100)
	if err := l.Stake(ctx, "bob", id, 0, 100); err != nil {
		t.Fatalf("stake: %v", err)
	}

	if err := l.Resolve(ctx, "alice", id, 0); !errors.Is(err, domain.ErrTooEarly) {
		t.Errorf("early resolve: got %v, want ErrTooEarly", err)
	}

	heights.height = 2000

	if err := l.Resolve(ctx, "mallory", id, 0); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("non-creator resolve: got %v, want ErrUnauthorized", err)
	}
	if err := l.Resolve(ctx, "alice", id, 7); !errors.Is(err, domain.ErrInvalidParams) {
		t.Errorf("winner out of range: got %v, want ErrInvalidParams", err)
	}
	if err := l.Resolve(ctx, "alice", id, 2); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("phantom winner: got %v, want ErrNotFound", err)
	}

	if err := l.Resolve(ctx, "alice", id, 0); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := l.Resolve(ctx, "alice", id, 1); !errors.Is(err, domain.ErrMarketResolved) {
		t.Errorf("double resolve: got %v, want ErrMarketResolved", err)
	}

	m, err := l.GetMarket(ctx, id)
	if err != nil {
		t.Fatalf("get market: %v", err)
	}
	if !m.Resolved || m.WinningOutcome == nil || *m.WinningOutcome != 0 {
		t.Errorf("market after resolve = %+v, want resolved with winner 0", m)
	}

	// A resolved market rejects further stakes even below the resolution
	// height; here expiry fires first because height >= resolution height.
	if err := l.Stake(ctx, "bob", id, 0, 1); !errors.Is(err, domain.ErrMarketExpired) {
		t.Errorf("stake after resolve: got %v, want ErrMarketExpired", err)
	}
}

func TestClaimSettlement(t *testing.T) {
	l, state, heights := newTestLedger(t)
	ctx := context.Background()

	id := newMarket(t, l, "alice", "yes", "no")
	fund(t, state, "anna", 100)
	fund(t, state, "bruno", 300)

	if err := l.Stake(ctx, "anna", id, 0, 100); err != nil {
		t.Fatalf("anna stake: %v", err)
	}
	if err := l.Stake(ctx, "bruno", id, 1, 300); err != nil {
		t.Fatalf("bruno stake: %v", err)
	}

	// Claim before resolution.
	if _, err := l.Claim(ctx, "bruno", id); !errors.Is(err, domain.ErrTooEarly) {
		t.Errorf("claim before resolve: got %v, want ErrTooEarly", err)
	}

	heights.height = 2000
	if err := l.Resolve(ctx, "alice", id, 1); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// Bruno holds the whole winning pool: reward = floor(300*400/300) = 400.
	reward, err := l.Claim(ctx, "bruno", id)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if reward != 400 {
		t.Errorf("reward = %d, want 400", reward)
	}
	if got := balance(t, state, "bruno"); got != 400 {
		t.Errorf("bruno balance = %d, want 400", got)
	}
	if got := balance(t, state, custody); got != 0 {
		t.Errorf("custody balance = %d, want 0", got)
	}

	// Second claim finds no position.
	if _, err := l.Claim(ctx, "bruno", id); !errors.Is(err, domain.ErrNoPosition) {
		t.Errorf("double claim: got %v, want ErrNoPosition", err)
	}
	// Anna backed the losing outcome.
	if _, err := l.Claim(ctx, "anna", id); !errors.Is(err, domain.ErrNoPosition) {
		t.Errorf("loser claim: got %v, want ErrNoPosition", err)
	}
	// Unknown market.
	if _, err := l.Claim(ctx, "bruno", id+99); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown market claim: got %v, want ErrNotFound", err)
	}
}

func TestClaimProRataSplitsAndDust(t *testing.T) {
	l, state, heights := newTestLedger(t)
	ctx := context.Background()

	id := newMarket(t, l, "alice", "yes", "no")
	stakes := map[string]uint64{"anna": 100, "bruno": 200, "carol": 700}
	for name, amount := range stakes {
		fund(t, state, name, amount)
		if err := l.Stake(ctx, name, id, 0, amount); err != nil {
			t.Fatalf("%s stake: %v", name, err)
		}
	}
	fund(t, state, "dave", 250)
	if err := l.Stake(ctx, "dave", id, 1, 250); err != nil {
		t.Fatalf("dave stake: %v", err)
	}

	heights.height = 2000
	if err := l.Resolve(ctx, "alice", id, 0); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// total = 1250, winning pool = 1000.
	var paid uint64
	for name, stake := range stakes {
		reward, err := l.Claim(ctx, name, id)
		if err != nil {
			t.Fatalf("%s claim: %v", name, err)
		}
		want := stake * 1250 / 1000
		if reward != want {
			t.Errorf("%s reward = %d, want %d", name, reward, want)
		}
		if reward < stake {
			t.Errorf("%s reward %d below stake %d", name, reward, stake)
		}
		paid += reward
	}

	// Flooring leaves dust in custody; total payout never exceeds the pool.
	if paid > 1250 {
		t.Errorf("paid %d, exceeds pool 1250", paid)
	}
	if got := balance(t, state, custody); got != 1250-paid {
		t.Errorf("custody balance = %d, want %d", got, 1250-paid)
	}
}

func TestComputeReward(t *testing.T) {
	if _, err := computeReward(0, 400, 300); !errors.Is(err, domain.ErrInvalidParams) {
		t.Errorf("zero reward: got %v, want ErrInvalidParams", err)
	}
	// A stake exceeding its own pool signals corrupted totals.
	if _, err := computeReward(500, 400, 300); !errors.Is(err, domain.ErrInvalidParams) {
		t.Errorf("reward over pool: got %v, want ErrInvalidParams", err)
	}

	reward, err := computeReward(300, 400, 300)
	if err != nil {
		t.Fatalf("compute reward: %v", err)
	}
	if reward != 400 {
		t.Errorf("reward = %d, want 400", reward)
	}
}

// payoutSpyState wraps the memory backend and records every settled payout
// flowing through Update transactions.
type payoutSpyState struct {
	*memory.State
	payouts map[string]uint64
}

func (s *payoutSpyState) Update(ctx context.Context, fn func(tx domain.StateTx) error) error {
	return s.State.Update(ctx, func(tx domain.StateTx) error {
		return fn(&payoutSpyTx{StateTx: tx, state: s})
	})
}

type payoutSpyTx struct {
	domain.StateTx
	state *payoutSpyState
}

func (t *payoutSpyTx) SettlePosition(ctx context.Context, marketID uint64, index uint8, participant string, reward uint64) error {
	if err := t.StateTx.SettlePosition(ctx, marketID, index, participant, reward); err != nil {
		return err
	}
	t.state.payouts[participant] = reward
	return nil
}

func TestClaimRecordsPaidReward(t *testing.T) {
	ctx := context.Background()
	spy := &payoutSpyState{State: memory.New(), payouts: make(map[string]uint64)}
	heights := &stubHeight{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	l := New(spy, bank.NewTransferrer(), heights, custody, logger)

	fund(t, spy.State, "anna", 100)
	fund(t, spy.State, "bruno", 300)

	id := newMarket(t, l, "alice", "yes", "no")
	if err := l.Stake(ctx, "anna", id, 0, 100); err != nil {
		t.Fatalf("stake anna: %v", err)
	}
	if err := l.Stake(ctx, "bruno", id, 1, 300); err != nil {
		t.Fatalf("stake bruno: %v", err)
	}

	heights.height = 2000
	if err := l.Resolve(ctx, "alice", id, 1); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	reward, err := l.Claim(ctx, "bruno", id)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if reward != 400 {
		t.Fatalf("reward = %d, want 400", reward)
	}

	// The payout is written through the settle path, not a plain position
	// overwrite, so the archived record keeps who was paid what.
	if got := spy.payouts["bruno"]; got != 400 {
		t.Errorf("recorded payout = %d, want 400", got)
	}
	if _, ok := spy.payouts["anna"]; ok {
		t.Error("losing participant has a recorded payout")
	}
}
