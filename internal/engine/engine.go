package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/precisionlabs/precision-engine/internal/domain"
	"github.com/precisionlabs/precision-engine/internal/escrow"
	"github.com/precisionlabs/precision-engine/internal/pcs"
)

// bondRatioDivisor encodes the 1% proposer bond: bond = size / 100, floored
// to the ledger's smallest unit and clamped to at least 1 for nonzero size.
const bondRatioDivisor = 100

// FinalityEngine runs the optimistic half of the state machine:
//
//	NONE --propose--> PENDING --[liveness expiry, no challenge]--> FINALIZED
//
// The PENDING --> DISPUTED transition belongs to the DisputeModule.
type FinalityEngine struct {
	cfg      Config
	book     *book
	escrow   *escrow.Escrow
	verifier *pcs.Verifier
	recorder Recorder
	now      func() time.Time
	logger   *slog.Logger
}

// New creates a FinalityEngine. recorder may be nil when no settlement
// history sink is wired.
func New(cfg Config, esc *escrow.Escrow, verifier *pcs.Verifier, recorder Recorder, logger *slog.Logger) *FinalityEngine {
	return &FinalityEngine{
		cfg:      cfg,
		book:     newBook(),
		escrow:   esc,
		verifier: verifier,
		recorder: recorder,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "finality_engine")),
	}
}

// SetClock overrides the time source. Intended for tests.
func (fe *FinalityEngine) SetClock(now func() time.Time) { fe.now = now }

// RequiredBond returns the proposer bond for a market of the given size:
// floor(size/100), never zero for nonzero size.
func RequiredBond(size uint64) uint64 {
	bond := size / bondRatioDivisor
	if bond == 0 && size > 0 {
		bond = 1
	}
	return bond
}

// Market returns a snapshot of the settlement record for id. ok is false
// when no proposal has ever been made.
func (fe *FinalityEngine) Market(id domain.MarketID) (domain.Market, bool) {
	fe.book.mu.Lock()
	defer fe.book.mu.Unlock()
	m, ok := fe.book.markets[id]
	if !ok {
		return domain.Market{}, false
	}
	return *m, true
}

// ProposeOutcome submits an outcome for a market that has never been
// proposed. The caller stakes exactly 1% of the market size; the signed
// confidence score must verify, and YES outcomes must clear the gate. On
// success the market enters PENDING and its liveness window opens.
func (fe *FinalityEngine) ProposeOutcome(ctx context.Context, caller domain.Party, marketID domain.MarketID, outcome domain.Outcome, bondAmount, marketSize uint64, score *domain.SignedScore) error {
	if !outcome.Valid() {
		return domain.ErrInvalidOutcome
	}
	if marketSize == 0 {
		return domain.ErrInvalidSize
	}
	if bondAmount != RequiredBond(marketSize) {
		return fmt.Errorf("engine: bond %d, required %d: %w",
			bondAmount, RequiredBond(marketSize), domain.ErrBondMismatch)
	}
	if score == nil {
		return fmt.Errorf("engine: missing signed score: %w", domain.ErrBadSignature)
	}
	if score.MarketID != marketID || score.Outcome != outcome {
		return fmt.Errorf("engine: score bound to %s/%s: %w",
			score.MarketID.Hex(), score.Outcome, domain.ErrScoreMismatch)
	}

	fe.book.mu.Lock()
	defer fe.book.mu.Unlock()

	if fe.book.get(marketID).State != domain.MarketStateNone {
		return fmt.Errorf("engine: market %s: %w", marketID.Hex(), domain.ErrMarketExists)
	}

	passed, pcsValue, err := fe.verifier.Validate(ctx, score)
	if err != nil {
		return err
	}
	if !passed {
		return fmt.Errorf("engine: score %d below gate %d: %w",
			pcsValue, pcs.YesGateThreshold, domain.ErrLowConfidence)
	}

	if err := fe.escrow.Deposit(ctx, marketID, caller, bondAmount); err != nil {
		return err
	}

	// The nonce burns only once the deposit holds, so a rejected proposal
	// leaves the score reusable. On a replay the deposit is rolled back;
	// the vault always covers its locks, so the refund cannot fail.
	if err := fe.verifier.ConsumeNonce(ctx, score); err != nil {
		if rerr := fe.escrow.Release(ctx, marketID, caller, bondAmount); rerr != nil {
			fe.logger.ErrorContext(ctx, "bond refund after rejected score failed",
				slog.String("market_id", marketID.Hex()),
				slog.String("error", rerr.Error()),
			)
		}
		return err
	}

	now := fe.now()
	window := fe.cfg.LivenessShort
	if marketSize > fe.cfg.SizeThreshold {
		window = fe.cfg.LivenessLong
	}

	m := &domain.Market{
		ID:                marketID,
		Size:              marketSize,
		State:             domain.MarketStatePending,
		ProposedOutcome:   outcome,
		Proposer:          caller,
		ProposerBond:      bondAmount,
		ProposalTimestamp: now,
		LivenessDeadline:  now.Add(window),
		PCSAtProposal:     pcsValue,
	}
	fe.book.markets[marketID] = m

	fe.logger.InfoContext(ctx, "outcome proposed",
		slog.String("market_id", marketID.Hex()),
		slog.String("outcome", string(outcome)),
		slog.String("proposer", caller.Hex()),
		slog.Uint64("bond", bondAmount),
		slog.Int("pcs", int(pcsValue)),
		slog.Time("liveness_deadline", m.LivenessDeadline),
	)
	fe.record(EventProposed, *m)
	return nil
}

// FinalizeOutcome settles an unchallenged PENDING market whose liveness
// window has elapsed, releasing the proposer bond. It is deliberately
// permissionless: no privileged party is needed to advance state.
func (fe *FinalityEngine) FinalizeOutcome(ctx context.Context, marketID domain.MarketID) error {
	fe.book.mu.Lock()
	defer fe.book.mu.Unlock()

	m := fe.book.get(marketID)
	if m.Finalized {
		return fmt.Errorf("engine: market %s: %w", marketID.Hex(), domain.ErrAlreadyFinalized)
	}
	if m.State != domain.MarketStatePending {
		return fmt.Errorf("engine: market %s in state %s: %w", marketID.Hex(), m.State, domain.ErrWrongState)
	}
	now := fe.now()
	if now.Before(m.LivenessDeadline) {
		return fmt.Errorf("engine: liveness until %s: %w",
			m.LivenessDeadline.UTC().Format(time.RFC3339), domain.ErrTooEarly)
	}

	if err := fe.escrow.Release(ctx, marketID, m.Proposer, m.ProposerBond); err != nil {
		return err
	}

	m.State = domain.MarketStateFinalized
	m.Finalized = true
	m.FinalizedAt = &now

	fe.logger.InfoContext(ctx, "outcome finalized unchallenged",
		slog.String("market_id", marketID.Hex()),
		slog.String("outcome", string(m.ProposedOutcome)),
		slog.Uint64("bond_returned", m.ProposerBond),
	)
	fe.record(EventFinalized, *m)
	return nil
}

func (fe *FinalityEngine) record(event string, m domain.Market) {
	if fe.recorder != nil {
		fe.recorder.Record(event, m)
	}
}
