// Package engine implements the per-market optimistic finality state machine
// and the dispute/slashing module that together settle market outcomes.
//
// Execution is serialized: a single lock on the market book guards every
// state-mutating operation, so calls never interleave and each one either
// fully commits or fully aborts. Liveness windows are not timers; deadlines
// are checked lazily against the clock when a dependent operation runs.
package engine

import (
	"sync"
	"time"

	"github.com/precisionlabs/precision-engine/internal/domain"
)

// Config holds the protocol's economic and timing parameters.
type Config struct {
	// SizeThreshold splits markets between the short and long liveness
	// windows, in smallest ledger units.
	SizeThreshold uint64
	// LivenessShort applies to markets at or below SizeThreshold.
	LivenessShort time.Duration
	// LivenessLong applies to markets above SizeThreshold.
	LivenessLong time.Duration
}

// DefaultConfig returns the protocol's canonical parameters: a 100K-unit
// threshold with 24h/48h liveness windows.
func DefaultConfig() Config {
	return Config{
		SizeThreshold: 100_000,
		LivenessShort: 24 * time.Hour,
		LivenessLong:  48 * time.Hour,
	}
}

// book is the shared in-memory market registry. Its mutex is the engine's
// serialization point; both the finality engine and the dispute module hold
// it for the full duration of each operation.
type book struct {
	mu      sync.Mutex
	markets map[domain.MarketID]*domain.Market
}

func newBook() *book {
	return &book{markets: make(map[domain.MarketID]*domain.Market)}
}

// get returns the live record, or a fresh NONE-state placeholder without
// inserting it.
func (b *book) get(id domain.MarketID) *domain.Market {
	if m, ok := b.markets[id]; ok {
		return m
	}
	return &domain.Market{ID: id, State: domain.MarketStateNone}
}

// Recorder receives a best-effort copy of every committed transition for the
// durable settlement history. Implementations must not block the engine and
// must treat failures as their own concern; the in-memory book stays
// authoritative either way.
type Recorder interface {
	Record(event string, market domain.Market)
}

// Settlement event names emitted through the Recorder.
const (
	EventProposed  = "outcome_proposed"
	EventFinalized = "outcome_finalized"
	EventDisputed  = "outcome_disputed"
	EventSlashed   = "slashing_executed"
)
