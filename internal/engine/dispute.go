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

const (
	// challengerBondMultiple: a dispute stakes double the proposer bond.
	challengerBondMultiple = 2
	// lowConfidencePenaltyBps is the extra slash applied on top of the 100%
	// base when the proposal's recorded score was below the gate threshold.
	lowConfidencePenaltyBps = 5_000
)

// DisputeModule runs the challenge half of the state machine. It shares the
// finality engine's market book and serialization lock, owns the
// PENDING --> DISPUTED transition, and is the sole path by which a DISPUTED
// market reaches FINALIZED. A dispute whose challenger never executes
// slashing stays open indefinitely; the protocol has no arbitration
// fallback or timeout.
type DisputeModule struct {
	engine *FinalityEngine
	escrow *escrow.Escrow
	logger *slog.Logger
}

// NewDisputeModule creates a DisputeModule bound to the given engine's
// market book.
func NewDisputeModule(fe *FinalityEngine, esc *escrow.Escrow, logger *slog.Logger) *DisputeModule {
	return &DisputeModule{
		engine: fe,
		escrow: esc,
		logger: logger.With(slog.String("component", "dispute_module")),
	}
}

// DisputeOutcome challenges a PENDING proposal inside its liveness window.
// The challenger stakes exactly twice the proposer bond; the deposit and the
// state flip commit together or not at all.
func (dm *DisputeModule) DisputeOutcome(ctx context.Context, caller domain.Party, marketID domain.MarketID, challengerBond uint64) error {
	fe := dm.engine
	fe.book.mu.Lock()
	defer fe.book.mu.Unlock()

	m := fe.book.get(marketID)
	if m.State != domain.MarketStatePending {
		return fmt.Errorf("engine: market %s in state %s: %w", marketID.Hex(), m.State, domain.ErrWrongState)
	}
	now := fe.now()
	if !now.Before(m.LivenessDeadline) {
		return fmt.Errorf("engine: liveness ended %s: %w",
			m.LivenessDeadline.UTC().Format(time.RFC3339), domain.ErrWindowClosed)
	}
	required := m.ProposerBond * challengerBondMultiple
	if challengerBond != required {
		return fmt.Errorf("engine: challenger bond %d, required %d: %w",
			challengerBond, required, domain.ErrBondMismatch)
	}

	if err := dm.escrow.Deposit(ctx, marketID, caller, challengerBond); err != nil {
		return err
	}

	challenger := caller
	m.Challenger = &challenger
	m.ChallengerBond = challengerBond
	m.State = domain.MarketStateDisputed

	dm.logger.InfoContext(ctx, "outcome disputed",
		slog.String("market_id", marketID.Hex()),
		slog.String("challenger", caller.Hex()),
		slog.Uint64("bond", challengerBond),
	)
	fe.record(EventDisputed, *m)
	return nil
}

// ExecuteSlashing resolves a DISPUTED market. Only the recorded challenger
// may call it, which keeps third parties from forcing adjudication timing.
// proposerWasWrong carries the externally adjudicated correctness flag: the
// wrong party's bond is slashed 100% to the winner, with an extra 50% penalty
// when the proposal's confidence score was below the gate threshold. The
// winner's own bond was never at risk and is released back.
func (dm *DisputeModule) ExecuteSlashing(ctx context.Context, caller domain.Party, marketID domain.MarketID, proposerWasWrong bool) error {
	fe := dm.engine
	fe.book.mu.Lock()
	defer fe.book.mu.Unlock()

	m := fe.book.get(marketID)
	if m.Finalized {
		return fmt.Errorf("engine: market %s: %w", marketID.Hex(), domain.ErrAlreadyFinalized)
	}
	if m.State != domain.MarketStateDisputed {
		return fmt.Errorf("engine: market %s in state %s: %w", marketID.Hex(), m.State, domain.ErrWrongState)
	}
	if m.Challenger == nil || caller != *m.Challenger {
		return fmt.Errorf("engine: caller %s is not the challenger: %w", caller.Hex(), domain.ErrUnauthorized)
	}

	loser, winner := *m.Challenger, m.Proposer
	loserBond, winnerBond := m.ChallengerBond, m.ProposerBond
	if proposerWasWrong {
		loser, winner = m.Proposer, *m.Challenger
		loserBond, winnerBond = m.ProposerBond, m.ChallengerBond
	}

	var penaltyBps uint64
	if m.PCSAtProposal < pcs.YesGateThreshold {
		penaltyBps = lowConfidencePenaltyBps
	}

	// Slash names the exact stake: when one party posted both bonds, only
	// the losing one is taken.
	penalty, err := dm.escrow.Slash(ctx, marketID, loser, winner, loserBond, penaltyBps)
	if err != nil {
		return err
	}
	if err := dm.escrow.Release(ctx, marketID, winner, winnerBond); err != nil {
		return err
	}

	now := fe.now()
	m.State = domain.MarketStateFinalized
	m.Finalized = true
	m.FinalizedAt = &now

	dm.logger.InfoContext(ctx, "slashing executed",
		slog.String("market_id", marketID.Hex()),
		slog.Bool("proposer_was_wrong", proposerWasWrong),
		slog.String("winner", winner.Hex()),
		slog.String("loser", loser.Hex()),
		slog.Uint64("slashed", loserBond),
		slog.Uint64("penalty", penalty),
	)
	fe.record(EventSlashed, *m)
	return nil
}
