package domain

import (
	"context"
	"io"
	"time"
)

// Transferrer moves value between accounts as part of a ledger transaction.
// A transfer either moves the full amount or reports an error having moved
// nothing; returning an error aborts the enclosing transaction.
type Transferrer interface {
	Transfer(ctx context.Context, tx StateTx, amount uint64, from, to string) error
}

// HeightSource reports the current block height. The ledger reads the height
// once at the start of an operation and uses that value for every check
// within it.
type HeightSource interface {
	Height(ctx context.Context) (uint64, error)
}

// MarketCache provides fast market lookups in front of the state store.
type MarketCache interface {
	Set(ctx context.Context, market Market) error
	Get(ctx context.Context, id uint64) (Market, error)
	Invalidate(ctx context.Context, id uint64) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter provides distributed rate limiting. Allow reports whether a
// request for the key is permitted under the limit and, if so, counts it.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// StreamMessage is a single entry from a durable event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// EventBus provides pub/sub fan-out and a durable, ordered event stream.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// BlobWriter persists settlement snapshots to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// ArchiveStore exposes the read surface the settlement archiver needs:
// resolved markets that have not yet been archived, together with their
// outcomes and positions.
type ArchiveStore interface {
	ListUnarchived(ctx context.Context, limit int) ([]Market, error)
	OutcomesByMarket(ctx context.Context, marketID uint64) ([]Outcome, error)
	PositionsByMarket(ctx context.Context, marketID uint64) ([]PositionRecord, error)
	MarkArchived(ctx context.Context, marketID uint64, at time.Time) error
}
