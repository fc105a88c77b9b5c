package bank

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/openwager/wagerd/internal/domain"
	"github.com/openwager/wagerd/internal/state/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTransfer(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	tr := NewTransferrer()

	err := s.Update(ctx, func(tx domain.StateTx) error {
		return tx.PutBalance(ctx, "anna", 500)
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	err = s.Update(ctx, func(tx domain.StateTx) error {
		return tr.Transfer(ctx, tx, 200, "anna", "bruno")
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}

	err = s.View(ctx, func(tx domain.StateTx) error {
		if b, _ := tx.Balance(ctx, "anna"); b != 300 {
			t.Errorf("anna = %d, want 300", b)
		}
		if b, _ := tx.Balance(ctx, "bruno"); b != 200 {
			t.Errorf("bruno = %d, want 200", b)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestTransferErrors(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	tr := NewTransferrer()

	err := s.Update(ctx, func(tx domain.StateTx) error {
		if err := tx.PutBalance(ctx, "anna", 100); err != nil {
			return err
		}
		return tx.PutBalance(ctx, "rich", math.MaxUint64)
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	cases := []struct {
		name     string
		amount   uint64
		from, to string
		want     error
	}{
		{"insufficient", 200, "anna", "bruno", domain.ErrInsufficientBalance},
		{"self transfer", 50, "anna", "anna", domain.ErrInvalidParams},
		{"credit overflow", 1, "anna", "rich", domain.ErrInvalidParams},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := s.Update(ctx, func(tx domain.StateTx) error {
				return tr.Transfer(ctx, tx, c.amount, c.from, c.to)
			})
			if !errors.Is(err, c.want) {
				t.Errorf("got %v, want %v", err, c.want)
			}
		})
	}

	// Zero-amount transfers are a no-op, not an error.
	err = s.Update(ctx, func(tx domain.StateTx) error {
		return tr.Transfer(ctx, tx, 0, "anna", "bruno")
	})
	if err != nil {
		t.Errorf("zero transfer: %v", err)
	}
}

func TestDepositAndBalance(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	svc := NewService(s, testLogger())

	if err := svc.Deposit(ctx, "", 10); !errors.Is(err, domain.ErrInvalidParams) {
		t.Errorf("empty account: got %v, want ErrInvalidParams", err)
	}
	if err := svc.Deposit(ctx, "anna", 0); !errors.Is(err, domain.ErrInvalidParams) {
		t.Errorf("zero deposit: got %v, want ErrInvalidParams", err)
	}

	if err := svc.Deposit(ctx, "anna", 300); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := svc.Deposit(ctx, "anna", 200); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	b, err := svc.Balance(ctx, "anna")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if b != 500 {
		t.Errorf("balance = %d, want 500", b)
	}

	// Unknown accounts read as zero.
	b, err = svc.Balance(ctx, "nobody")
	if err != nil || b != 0 {
		t.Errorf("unknown balance = (%d, %v), want (0, nil)", b, err)
	}

	if err := svc.Deposit(ctx, "anna", math.MaxUint64); !errors.Is(err, domain.ErrInvalidParams) {
		t.Errorf("overflow deposit: got %v, want ErrInvalidParams", err)
	}
}
