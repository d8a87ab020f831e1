package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/precisionlabs/precision-engine/internal/domain"
	"github.com/precisionlabs/precision-engine/internal/escrow"
	"github.com/precisionlabs/precision-engine/internal/ledger"
	"github.com/precisionlabs/precision-engine/internal/pcs"
)

const oracleKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

const testChainID uint64 = 137

var (
	vault      = common.HexToAddress("0x00000000000000000000000000000000000e5c00")
	proposer   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	challenger = common.HexToAddress("0x00000000000000000000000000000000000000b2")

	marketA = common.HexToHash("0x01")
)

// fakeClock is a settable time source shared by the engine and the verifier.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// eventLog records every committed transition the engine reports.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (r *eventLog) Record(event string, _ domain.Market) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventLog) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type harness struct {
	clock   *fakeClock
	ledger  *ledger.Ledger
	escrow  *escrow.Escrow
	signer  *pcs.Signer
	engine  *FinalityEngine
	dispute *DisputeModule
	events  *eventLog
	nonce   uint64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	l := ledger.New()
	for _, seed := range []struct {
		party  domain.Party
		amount uint64
	}{
		{proposer, 10_000},
		{challenger, 10_000},
	} {
		if err := l.Mint(seed.party, seed.amount); err != nil {
			t.Fatalf("mint: %v", err)
		}
	}
	esc := escrow.New(l, vault)

	signer, err := pcs.NewSigner(oracleKeyHex, testChainID)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	verifier := pcs.NewVerifier(signer.Address(), testChainID, 10*time.Minute, pcs.NewMemoryNonceStore(), logger)
	verifier.SetClock(clock.Now)

	events := &eventLog{}
	eng := New(DefaultConfig(), esc, verifier, events, logger)
	eng.SetClock(clock.Now)

	return &harness{
		clock:   clock,
		ledger:  l,
		escrow:  esc,
		signer:  signer,
		engine:  eng,
		dispute: NewDisputeModule(eng, esc, logger),
		events:  events,
	}
}

// score signs a confidence score for marketA at the harness clock's current
// time, with a fresh nonce.
func (h *harness) score(t *testing.T, outcome domain.Outcome, value uint8) *domain.SignedScore {
	t.Helper()
	h.nonce++
	obj, err := h.signer.Sign(marketA, outcome, value, 10, h.nonce, h.clock.Now())
	if err != nil {
		t.Fatalf("sign score: %v", err)
	}
	return obj
}

func (h *harness) propose(t *testing.T, outcome domain.Outcome, scoreValue uint8, size uint64) {
	t.Helper()
	err := h.engine.ProposeOutcome(context.Background(), proposer, marketA, outcome,
		RequiredBond(size), size, h.score(t, outcome, scoreValue))
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
}

func (h *harness) balance(p domain.Party) uint64 {
	return h.ledger.BalanceOf(context.Background(), p)
}

func TestRequiredBond(t *testing.T) {
	cases := []struct {
		size, bond uint64
	}{
		{10_000, 100},
		{100_000, 1_000},
		{199, 1}, // floor(199/100) = 1
		{99, 1},  // floors to zero, clamped up
		{1, 1},   // minimum market
		{0, 0},   // zero size never reaches bonding
		{250, 2}, // floor, not round
		{1e6, 1e4},
	}
	for _, tc := range cases {
		if got := RequiredBond(tc.size); got != tc.bond {
			t.Errorf("RequiredBond(%d) = %d, want %d", tc.size, got, tc.bond)
		}
	}
}

func TestProposeThenFinalizeUnchallenged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.propose(t, domain.OutcomeYes, 80, 10_000)

	m, ok := h.engine.Market(marketA)
	if !ok {
		t.Fatal("market not found after proposal")
	}
	if m.State != domain.MarketStatePending {
		t.Errorf("state = %s, want pending", m.State)
	}
	if m.ProposerBond != 100 {
		t.Errorf("bond = %d, want 100", m.ProposerBond)
	}
	if m.PCSAtProposal != 80 {
		t.Errorf("pcs at proposal = %d, want 80", m.PCSAtProposal)
	}
	if got := h.balance(proposer); got != 9_900 {
		t.Errorf("proposer balance = %d, want 9900", got)
	}

	// 24h window for a market at or below the threshold.
	wantDeadline := m.ProposalTimestamp.Add(24 * time.Hour)
	if !m.LivenessDeadline.Equal(wantDeadline) {
		t.Errorf("deadline = %s, want %s", m.LivenessDeadline, wantDeadline)
	}

	h.clock.Advance(24*time.Hour + time.Second)
	if err := h.engine.FinalizeOutcome(ctx, marketA); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	m, _ = h.engine.Market(marketA)
	if m.State != domain.MarketStateFinalized || !m.Finalized {
		t.Errorf("state = %s finalized = %v, want finalized", m.State, m.Finalized)
	}
	if got := h.balance(proposer); got != 10_000 {
		t.Errorf("proposer balance = %d, want bond returned (10000)", got)
	}

	want := []string{EventProposed, EventFinalized}
	got := h.events.names()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestLargeMarketGetsLongWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.propose(t, domain.OutcomeNo, 80, 200_000)

	h.clock.Advance(24*time.Hour + time.Second)
	if err := h.engine.FinalizeOutcome(ctx, marketA); !errors.Is(err, domain.ErrTooEarly) {
		t.Fatalf("finalize at 24h err = %v, want ErrTooEarly", err)
	}

	h.clock.Advance(24 * time.Hour)
	if err := h.engine.FinalizeOutcome(ctx, marketA); err != nil {
		t.Fatalf("finalize at 48h: %v", err)
	}
}

func TestThresholdMarketGetsShortWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Exactly at the threshold: short window applies.
	h.propose(t, domain.OutcomeNo, 80, 100_000)
	h.clock.Advance(24*time.Hour + time.Second)
	if err := h.engine.FinalizeOutcome(ctx, marketA); err != nil {
		t.Fatalf("finalize: %v", err)
	}
}

func TestFinalizeBeforeDeadline(t *testing.T) {
	h := newHarness(t)
	h.propose(t, domain.OutcomeYes, 80, 10_000)

	h.clock.Advance(23 * time.Hour)
	err := h.engine.FinalizeOutcome(context.Background(), marketA)
	if !errors.Is(err, domain.ErrTooEarly) {
		t.Fatalf("finalize err = %v, want ErrTooEarly", err)
	}
}

func TestDoubleFinalize(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.propose(t, domain.OutcomeYes, 80, 10_000)
	h.clock.Advance(25 * time.Hour)
	if err := h.engine.FinalizeOutcome(ctx, marketA); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := h.engine.FinalizeOutcome(ctx, marketA); !errors.Is(err, domain.ErrAlreadyFinalized) {
		t.Fatalf("second finalize err = %v, want ErrAlreadyFinalized", err)
	}
}

func TestFinalizeUnknownMarket(t *testing.T) {
	h := newHarness(t)
	err := h.engine.FinalizeOutcome(context.Background(), marketA)
	if !errors.Is(err, domain.ErrWrongState) {
		t.Fatalf("finalize err = %v, want ErrWrongState", err)
	}
}

func TestProposeRejectsDuplicateMarket(t *testing.T) {
	h := newHarness(t)
	h.propose(t, domain.OutcomeYes, 80, 10_000)

	err := h.engine.ProposeOutcome(context.Background(), challenger, marketA,
		domain.OutcomeNo, 100, 10_000, h.score(t, domain.OutcomeNo, 80))
	if !errors.Is(err, domain.ErrMarketExists) {
		t.Fatalf("second propose err = %v, want ErrMarketExists", err)
	}
}

func TestProposeRejectsWrongBond(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, bond := range []uint64{0, 99, 101} {
		err := h.engine.ProposeOutcome(ctx, proposer, marketA,
			domain.OutcomeYes, bond, 10_000, h.score(t, domain.OutcomeYes, 80))
		if !errors.Is(err, domain.ErrBondMismatch) {
			t.Fatalf("propose with bond %d err = %v, want ErrBondMismatch", bond, err)
		}
	}
	if _, ok := h.engine.Market(marketA); ok {
		t.Error("market created despite bond mismatch")
	}
}

func TestProposeRejectsZeroSize(t *testing.T) {
	h := newHarness(t)
	err := h.engine.ProposeOutcome(context.Background(), proposer, marketA,
		domain.OutcomeYes, 0, 0, h.score(t, domain.OutcomeYes, 80))
	if !errors.Is(err, domain.ErrInvalidSize) {
		t.Fatalf("propose err = %v, want ErrInvalidSize", err)
	}
}

func TestProposeRejectsUnknownOutcome(t *testing.T) {
	h := newHarness(t)
	err := h.engine.ProposeOutcome(context.Background(), proposer, marketA,
		domain.Outcome("maybe"), 100, 10_000, nil)
	if !errors.Is(err, domain.ErrInvalidOutcome) {
		t.Fatalf("propose err = %v, want ErrInvalidOutcome", err)
	}
}

func TestProposeGatesLowConfidenceYes(t *testing.T) {
	h := newHarness(t)

	err := h.engine.ProposeOutcome(context.Background(), proposer, marketA,
		domain.OutcomeYes, 100, 10_000, h.score(t, domain.OutcomeYes, 25))
	if !errors.Is(err, domain.ErrLowConfidence) {
		t.Fatalf("propose err = %v, want ErrLowConfidence", err)
	}

	// Aborted entirely: no market, no funds moved.
	if _, ok := h.engine.Market(marketA); ok {
		t.Error("market created despite gate failure")
	}
	if got := h.balance(proposer); got != 10_000 {
		t.Errorf("proposer balance = %d, want untouched 10000", got)
	}
}

func TestProposeAllowsLowConfidenceNo(t *testing.T) {
	h := newHarness(t)
	h.propose(t, domain.OutcomeNo, 25, 10_000)

	m, ok := h.engine.Market(marketA)
	if !ok || m.State != domain.MarketStatePending {
		t.Fatalf("NO proposal with low score should create a pending market, got ok=%v state=%s", ok, m.State)
	}
	if m.PCSAtProposal != 25 {
		t.Errorf("pcs at proposal = %d, want 25", m.PCSAtProposal)
	}
}

func TestProposeRejectsScoreBoundElsewhere(t *testing.T) {
	h := newHarness(t)

	// Score signed for the YES outcome presented with a NO proposal.
	err := h.engine.ProposeOutcome(context.Background(), proposer, marketA,
		domain.OutcomeNo, 100, 10_000, h.score(t, domain.OutcomeYes, 80))
	if !errors.Is(err, domain.ErrScoreMismatch) {
		t.Fatalf("propose err = %v, want ErrScoreMismatch", err)
	}
}

func TestProposeRejectsMissingScore(t *testing.T) {
	h := newHarness(t)
	err := h.engine.ProposeOutcome(context.Background(), proposer, marketA,
		domain.OutcomeNo, 100, 10_000, nil)
	if !errors.Is(err, domain.ErrBadSignature) {
		t.Fatalf("propose err = %v, want ErrBadSignature", err)
	}
}

func TestProposeRejectsInsufficientBalance(t *testing.T) {
	h := newHarness(t)

	// Proposer holds 10,000; a 2M market needs a 20,000 bond.
	err := h.engine.ProposeOutcome(context.Background(), proposer, marketA,
		domain.OutcomeNo, 20_000, 2_000_000, h.score(t, domain.OutcomeNo, 80))
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("propose err = %v, want ErrInsufficientFunds", err)
	}
	if _, ok := h.engine.Market(marketA); ok {
		t.Error("market created despite failed deposit")
	}
}

func TestProposeRetryAfterFailedDepositReusesScore(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// First attempt fails on funds; the signed score must survive it.
	sc := h.score(t, domain.OutcomeNo, 80)
	err := h.engine.ProposeOutcome(ctx, proposer, marketA, domain.OutcomeNo, 20_000, 2_000_000, sc)
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("propose err = %v, want ErrInsufficientFunds", err)
	}

	if err := h.ledger.Mint(proposer, 20_000); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := h.engine.ProposeOutcome(ctx, proposer, marketA, domain.OutcomeNo, 20_000, 2_000_000, sc); err != nil {
		t.Fatalf("retry with the same score: %v", err)
	}
	if m, ok := h.engine.Market(marketA); !ok || m.State != domain.MarketStatePending {
		t.Fatalf("market not pending after retry")
	}
}

func TestGatedYesProposalKeepsNonce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	const nonce = 777
	gated, err := h.signer.Sign(marketA, domain.OutcomeYes, 25, 10, nonce, h.clock.Now())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := h.engine.ProposeOutcome(ctx, proposer, marketA, domain.OutcomeYes, 100, 10_000, gated); !errors.Is(err, domain.ErrLowConfidence) {
		t.Fatalf("propose err = %v, want ErrLowConfidence", err)
	}

	// The gate rejection did not burn the nonce: a fresh NO score under the
	// same nonce still proposes.
	sc, err := h.signer.Sign(marketA, domain.OutcomeNo, 25, 10, nonce, h.clock.Now())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := h.engine.ProposeOutcome(ctx, proposer, marketA, domain.OutcomeNo, 100, 10_000, sc); err != nil {
		t.Fatalf("propose with reissued nonce: %v", err)
	}
}

func TestProposeReplayedNonceRefundsDeposit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	marketB := common.HexToHash("0x02")

	h.propose(t, domain.OutcomeNo, 80, 10_000)

	// A second proposal reusing the consumed nonce aborts whole: no market,
	// bond refunded, only the first proposal's 100 still staked.
	replay, err := h.signer.Sign(marketB, domain.OutcomeNo, 80, 10, h.nonce, h.clock.Now())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := h.engine.ProposeOutcome(ctx, proposer, marketB, domain.OutcomeNo, 100, 10_000, replay); !errors.Is(err, domain.ErrReplayedNonce) {
		t.Fatalf("propose err = %v, want ErrReplayedNonce", err)
	}
	if _, ok := h.engine.Market(marketB); ok {
		t.Error("market created despite replayed nonce")
	}
	if got := h.balance(proposer); got != 9_900 {
		t.Errorf("proposer balance = %d, want 9900", got)
	}
	if got := h.escrow.Locked(marketB, proposer); got != 0 {
		t.Errorf("market B lock = %d, want 0", got)
	}
}
