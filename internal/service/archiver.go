package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/precisionlabs/precision-engine/internal/domain"
)

// multipartThreshold is the payload size above which sweep batches switch to
// multipart upload.
const multipartThreshold = 8 * 1024 * 1024

// sweepLockKey guards the archival sweep across engine deployments sharing
// the same bucket.
const sweepLockKey = "settlement_archive_sweep"

// Archiver copies finalized settlement records older than a retention window
// to object storage. Records are never deleted from the database — the
// settlement history is permanent — and DISPUTED markets are never archived,
// so an unexecuted dispute stays visible in the live book.
type Archiver struct {
	markets   domain.MarketStore
	blob      domain.BlobWriter
	locks     domain.LockManager
	audit     domain.AuditStore
	retention time.Duration
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

// NewArchiver creates an Archiver. locks and audit may be nil for
// single-node deployments without Redis/Postgres.
func NewArchiver(markets domain.MarketStore, blob domain.BlobWriter, locks domain.LockManager, audit domain.AuditStore, retention, interval time.Duration, logger *slog.Logger) *Archiver {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Archiver{
		markets:   markets,
		blob:      blob,
		locks:     locks,
		audit:     audit,
		retention: retention,
		interval:  interval,
		batchSize: 500,
		logger:    logger.With(slog.String("component", "settlement_archiver")),
	}
}

// Run sweeps on a ticker until the context is cancelled. Call in a goroutine.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := a.Sweep(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archive sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Sweep uploads one batch of finalized settlements older than the retention
// window and returns the number archived. Object keys are deterministic per
// market, so repeated sweeps over the same records are idempotent overwrites.
func (a *Archiver) Sweep(ctx context.Context) (int, error) {
	if a.locks != nil {
		unlock, err := a.locks.Acquire(ctx, sweepLockKey, a.interval)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				a.logger.DebugContext(ctx, "archive sweep already running elsewhere")
				return 0, nil
			}
			return 0, fmt.Errorf("service: sweep lock: %w", err)
		}
		defer unlock()
	}

	cutoff := time.Now().UTC().Add(-a.retention)
	markets, err := a.markets.ListFinalizedBefore(ctx, cutoff, a.batchSize)
	if err != nil {
		return 0, fmt.Errorf("service: list finalized settlements: %w", err)
	}
	if len(markets) == 0 {
		return 0, nil
	}

	sweepID := uuid.New().String()
	archived := 0
	for _, m := range markets {
		if err := a.upload(ctx, m); err != nil {
			a.logger.ErrorContext(ctx, "settlement archive upload failed",
				slog.String("market_id", m.ID.Hex()),
				slog.String("error", err.Error()),
			)
			continue
		}
		archived++
	}

	a.logger.InfoContext(ctx, "archive sweep complete",
		slog.String("sweep_id", sweepID),
		slog.Int("archived", archived),
		slog.Time("cutoff", cutoff),
	)
	if a.audit != nil {
		_ = a.audit.Log(ctx, "settlements_archived", map[string]any{
			"sweep_id": sweepID,
			"archived": archived,
			"cutoff":   cutoff,
		})
	}
	return archived, nil
}

func (a *Archiver) upload(ctx context.Context, m domain.Market) error {
	payload, err := json.Marshal(archivedSettlement(m))
	if err != nil {
		return fmt.Errorf("service: marshal settlement: %w", err)
	}

	key := archiveKey(m)
	if len(payload) > multipartThreshold {
		return a.blob.PutMultipart(ctx, key, bytes.NewReader(payload), int64(len(payload)))
	}
	return a.blob.Put(ctx, key, bytes.NewReader(payload), "application/json")
}

// archiveKey returns settlements/YYYY/MM/<market_id>.json keyed by the
// finalization month.
func archiveKey(m domain.Market) string {
	ts := m.ProposalTimestamp
	if m.FinalizedAt != nil {
		ts = *m.FinalizedAt
	}
	return fmt.Sprintf("settlements/%04d/%02d/%s.json", ts.Year(), int(ts.Month()), m.ID.Hex())
}

// archivedSettlement is the cold-storage JSON shape of a settlement record.
func archivedSettlement(m domain.Market) map[string]any {
	out := map[string]any{
		"market_id":          m.ID.Hex(),
		"size":               m.Size,
		"state":              string(m.State),
		"proposed_outcome":   string(m.ProposedOutcome),
		"proposer":           m.Proposer.Hex(),
		"proposer_bond":      m.ProposerBond,
		"proposal_timestamp": m.ProposalTimestamp.UTC(),
		"liveness_deadline":  m.LivenessDeadline.UTC(),
		"pcs_at_proposal":    m.PCSAtProposal,
		"finalized":          m.Finalized,
	}
	if m.Challenger != nil {
		out["challenger"] = m.Challenger.Hex()
		out["challenger_bond"] = m.ChallengerBond
	}
	if m.FinalizedAt != nil {
		out["finalized_at"] = m.FinalizedAt.UTC()
	}
	return out
}
