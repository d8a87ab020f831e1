package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/precisionlabs/precision-engine/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeMarketStore collects upserted settlement records.
type fakeMarketStore struct {
	mu      sync.Mutex
	upserts []domain.Market
	got     chan struct{}
}

func newFakeMarketStore() *fakeMarketStore {
	return &fakeMarketStore{got: make(chan struct{}, 16)}
}

func (f *fakeMarketStore) Upsert(ctx context.Context, m domain.Market) error {
	f.mu.Lock()
	f.upserts = append(f.upserts, m)
	f.mu.Unlock()
	f.got <- struct{}{}
	return nil
}

func (f *fakeMarketStore) GetByID(ctx context.Context, id domain.MarketID) (domain.Market, error) {
	return domain.Market{}, domain.ErrMarketNotFound
}

func (f *fakeMarketStore) ListFinalizedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Market, error) {
	return nil, nil
}

func (f *fakeMarketStore) Count(ctx context.Context) (int64, error) { return 0, nil }

// fakeAuditStore collects logged events.
type fakeAuditStore struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeAuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func TestRecorderPersistsTransitions(t *testing.T) {
	markets := newFakeMarketStore()
	audit := &fakeAuditStore{}
	rec := NewSettlementRecorder(markets, audit, nil, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = rec.Run(ctx) }()

	m := domain.Market{
		ID:           common.HexToHash("0x01"),
		State:        domain.MarketStatePending,
		Proposer:     common.HexToAddress("0x00000000000000000000000000000000000000a1"),
		ProposerBond: 100,
	}
	rec.Record("outcome_proposed", m)

	select {
	case <-markets.got:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for upsert")
	}

	markets.mu.Lock()
	defer markets.mu.Unlock()
	if len(markets.upserts) != 1 {
		t.Fatalf("upserts = %d, want 1", len(markets.upserts))
	}
	if markets.upserts[0].ID != m.ID {
		t.Errorf("upserted market %s, want %s", markets.upserts[0].ID.Hex(), m.ID.Hex())
	}

	audit.mu.Lock()
	defer audit.mu.Unlock()
	if len(audit.events) != 1 || audit.events[0] != "outcome_proposed" {
		t.Errorf("audit events = %v, want [outcome_proposed]", audit.events)
	}
}

func TestRecorderNeverBlocks(t *testing.T) {
	// No Run loop draining: the queue fills and Record must still return.
	rec := NewSettlementRecorder(newFakeMarketStore(), nil, nil, discardLogger())

	m := domain.Market{ID: common.HexToHash("0x01")}
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			rec.Record("outcome_proposed", m)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked on a full queue")
	}
}
