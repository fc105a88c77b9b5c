// Package bank implements the value-transfer primitive over ledger state
// account balances, plus the deposit and balance surface used to fund
// participants.
package bank

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openwager/wagerd/internal/domain"
)

// Transferrer moves value between accounts inside a state transaction. A
// transfer debits and credits in the same transaction as the caller's other
// writes, so it either fully applies with them or not at all.
type Transferrer struct{}

// NewTransferrer creates a Transferrer.
func NewTransferrer() Transferrer {
	return Transferrer{}
}

// Transfer moves amount from one account to another. It fails with
// domain.ErrInsufficientBalance when the source cannot cover the amount and
// with domain.ErrInvalidParams when the destination balance would wrap.
func (Transferrer) Transfer(ctx context.Context, tx domain.StateTx, amount uint64, from, to string) error {
	if amount == 0 {
		return nil
	}
	if from == to {
		return fmt.Errorf("bank: self transfer: %w", domain.ErrInvalidParams)
	}

	fromBalance, err := tx.Balance(ctx, from)
	if err != nil {
		return fmt.Errorf("bank: balance %s: %w", from, err)
	}
	if fromBalance < amount {
		return fmt.Errorf("bank: account %s holds %d, needs %d: %w", from, fromBalance, amount, domain.ErrInsufficientBalance)
	}

	toBalance, err := tx.Balance(ctx, to)
	if err != nil {
		return fmt.Errorf("bank: balance %s: %w", to, err)
	}
	newToBalance := toBalance + amount
	if newToBalance < toBalance {
		return fmt.Errorf("bank: balance overflow on %s: %w", to, domain.ErrInvalidParams)
	}

	if err := tx.PutBalance(ctx, from, fromBalance-amount); err != nil {
		return fmt.Errorf("bank: debit %s: %w", from, err)
	}
	if err := tx.PutBalance(ctx, to, newToBalance); err != nil {
		return fmt.Errorf("bank: credit %s: %w", to, err)
	}
	return nil
}

// Service exposes account administration: funding an account and reading its
// balance.
type Service struct {
	state  domain.State
	logger *slog.Logger
}

// NewService creates a bank Service.
func NewService(state domain.State, logger *slog.Logger) *Service {
	return &Service{state: state, logger: logger}
}

// Deposit credits amount to the account.
func (s *Service) Deposit(ctx context.Context, account string, amount uint64) error {
	if account == "" || amount == 0 {
		return fmt.Errorf("bank: deposit: %w", domain.ErrInvalidParams)
	}
	err := s.state.Update(ctx, func(tx domain.StateTx) error {
		balance, err := tx.Balance(ctx, account)
		if err != nil {
			return fmt.Errorf("bank: balance %s: %w", account, err)
		}
		newBalance := balance + amount
		if newBalance < balance {
			return fmt.Errorf("bank: balance overflow on %s: %w", account, domain.ErrInvalidParams)
		}
		return tx.PutBalance(ctx, account, newBalance)
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "bank: deposit",
		slog.String("account", account),
		slog.Uint64("amount", amount),
	)
	return nil
}

// Balance returns the account's current balance. Unknown accounts read as
// zero.
func (s *Service) Balance(ctx context.Context, account string) (uint64, error) {
	var balance uint64
	err := s.state.View(ctx, func(tx domain.StateTx) error {
		b, err := tx.Balance(ctx, account)
		if err != nil {
			return fmt.Errorf("bank: balance %s: %w", account, err)
		}
		balance = b
		return nil
	})
	return balance, err
}

// Compile-time interface check.
var _ domain.Transferrer = Transferrer{}
