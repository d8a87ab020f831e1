package domain

import (
	"context"
	"io"
	"time"
)

// Ledger is the minimal contract the engine needs from the fungible-balance
// token that custodies bonds. Implementations must reject transfers the
// sender cannot cover with ErrInsufficientFunds.
type Ledger interface {
	Transfer(ctx context.Context, from, to Party, amount uint64) error
	BalanceOf(ctx context.Context, party Party) uint64
}

// MarketStore persists the durable settlement history. The engine's in-memory
// book is authoritative; the store is an append-style audit trail that is
// upserted after every committed transition.
type MarketStore interface {
	Upsert(ctx context.Context, market Market) error
	GetByID(ctx context.Context, id MarketID) (Market, error)
	ListFinalizedBefore(ctx context.Context, cutoff time.Time, limit int) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AuditStore persists an append-only audit log of settlement events.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// NonceStore tracks consumed score nonces per signer. Consume must be atomic:
// it returns true exactly once per (signer, nonce) pair.
type NonceStore interface {
	Consume(ctx context.Context, signer Party, nonce uint64) (bool, error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams for settlement events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// LockManager provides distributed locking for the archival sweep.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}
