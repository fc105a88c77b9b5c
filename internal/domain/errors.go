package domain

import "errors"

// Ledger operations fail with exactly one of these errors. Callers branch on
// the error kind, so operations must not substitute one kind for another.
var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidParams       = errors.New("invalid parameters")
	ErrMarketResolved      = errors.New("market already resolved")
	ErrMarketExpired       = errors.New("market expired")
	ErrTooEarly            = errors.New("too early")
	ErrNoPosition          = errors.New("no claimable position")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrTransferFailed      = errors.New("transfer failed")
	ErrLockHeld            = errors.New("lock already held")
)
