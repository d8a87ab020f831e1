// Package service contains the supporting services around the finality
// engine: the settlement recorder that fans committed transitions out to
// durable storage, and the archiver that moves old settlements to cold
// storage.
package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/precisionlabs/precision-engine/internal/domain"
)

// settlementChannel is the pub/sub channel and stream name for settlement
// events.
const settlementChannel = "settlement_events"

// recordItem pairs an event name with the market snapshot it describes.
type recordItem struct {
	event  string
	market domain.Market
}

// SettlementRecorder implements engine.Recorder. It receives committed
// transitions on a buffered queue and fans each out to the settlement store,
// the audit log, and the signal bus. The engine's in-memory book stays
// authoritative; recorder failures are logged and never propagate back into
// settlement.
type SettlementRecorder struct {
	markets domain.MarketStore
	audit   domain.AuditStore
	bus     domain.SignalBus
	queue   chan recordItem
	logger  *slog.Logger
}

// NewSettlementRecorder creates a SettlementRecorder. Any of markets, audit,
// and bus may be nil; the corresponding sink is skipped.
func NewSettlementRecorder(markets domain.MarketStore, audit domain.AuditStore, bus domain.SignalBus, logger *slog.Logger) *SettlementRecorder {
	return &SettlementRecorder{
		markets: markets,
		audit:   audit,
		bus:     bus,
		queue:   make(chan recordItem, 256),
		logger:  logger.With(slog.String("component", "settlement_recorder")),
	}
}

// Record enqueues a committed transition. It never blocks the engine: when
// the queue is full the item is dropped with a warning, and the settlement
// history catches up from the engine's book on the next transition of that
// market.
func (r *SettlementRecorder) Record(event string, market domain.Market) {
	select {
	case r.queue <- recordItem{event: event, market: market}:
	default:
		r.logger.Warn("settlement record queue full, dropping",
			slog.String("event", event),
			slog.String("market_id", market.ID.Hex()),
		)
	}
}

// Run drains the queue until the context is cancelled. Call in a goroutine.
func (r *SettlementRecorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item := <-r.queue:
			r.persist(ctx, item)
		}
	}
}

func (r *SettlementRecorder) persist(ctx context.Context, item recordItem) {
	m := item.market

	if r.markets != nil {
		if err := r.markets.Upsert(ctx, m); err != nil {
			r.logger.ErrorContext(ctx, "settlement upsert failed",
				slog.String("market_id", m.ID.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}

	detail := map[string]any{
		"market_id":        m.ID.Hex(),
		"state":            string(m.State),
		"proposed_outcome": string(m.ProposedOutcome),
		"proposer":         m.Proposer.Hex(),
		"proposer_bond":    m.ProposerBond,
		"pcs_at_proposal":  m.PCSAtProposal,
		"finalized":        m.Finalized,
	}
	if m.Challenger != nil {
		detail["challenger"] = m.Challenger.Hex()
		detail["challenger_bond"] = m.ChallengerBond
	}

	if r.audit != nil {
		if err := r.audit.Log(ctx, item.event, detail); err != nil {
			r.logger.ErrorContext(ctx, "audit log failed",
				slog.String("event", item.event),
				slog.String("error", err.Error()),
			)
		}
	}

	if r.bus != nil {
		payload, err := json.Marshal(map[string]any{
			"event":  item.event,
			"market": detail,
		})
		if err == nil {
			if err := r.bus.Publish(ctx, settlementChannel, payload); err != nil {
				r.logger.DebugContext(ctx, "settlement publish failed",
					slog.String("error", err.Error()),
				)
			}
			if err := r.bus.StreamAppend(ctx, settlementChannel, payload); err != nil {
				r.logger.DebugContext(ctx, "settlement stream append failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
