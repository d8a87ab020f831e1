package pcs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/precisionlabs/precision-engine/internal/domain"
)

// YesGateThreshold is the minimum score required for a YES proposal. The
// gate is deliberately asymmetric: NO and INVALID proposals pass regardless
// of score, and the economic layer stays the ultimate arbiter.
const YesGateThreshold uint8 = 30

// Verifier validates signed confidence-score objects: signature recovery to
// the expected signer, chain binding, freshness, and nonce replay protection.
type Verifier struct {
	signer    common.Address
	chainID   uint64
	freshness time.Duration
	nonces    domain.NonceStore
	now       func() time.Time
	logger    *slog.Logger
}

// NewVerifier creates a Verifier for the given expected signer address and
// deployment chain. freshness bounds the age of accepted score objects.
func NewVerifier(signer common.Address, chainID uint64, freshness time.Duration, nonces domain.NonceStore, logger *slog.Logger) *Verifier {
	return &Verifier{
		signer:    signer,
		chainID:   chainID,
		freshness: freshness,
		nonces:    nonces,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "pcs_verifier")),
	}
}

// SetClock overrides the time source. Intended for tests.
func (v *Verifier) SetClock(now func() time.Time) { v.now = now }

// maxIssuedSkew bounds how far into the future a score's IssuedAt may sit.
// It allows ordinary clock drift between the signer and the engine while
// rejecting objects pre-signed for later use.
const maxIssuedSkew = time.Minute

// Validate checks everything about a score except nonce consumption:
// signature recovery to the expected signer, chain binding, the two-sided
// freshness window, and the YES gate. It returns the gate result and the
// numeric score. A non-nil error means the object is invalid and no market
// may be created from it.
//
// Validate alone leaves the replay slot untouched; callers consume the nonce
// with ConsumeNonce once every other effect of their operation has committed.
func (v *Verifier) Validate(ctx context.Context, score *domain.SignedScore) (passed bool, value uint8, err error) {
	recovered, err := RecoverSigner(score)
	if err != nil {
		return false, 0, err
	}
	if recovered != v.signer {
		return false, 0, fmt.Errorf("pcs: recovered %s, expected %s: %w",
			recovered.Hex(), v.signer.Hex(), domain.ErrBadSignature)
	}

	if score.ChainID != v.chainID {
		return false, 0, fmt.Errorf("pcs: score chain %d, deployment chain %d: %w",
			score.ChainID, v.chainID, domain.ErrChainMismatch)
	}

	now := v.now()
	issued := time.Unix(score.IssuedAt, 0)
	if now.Sub(issued) > v.freshness || issued.Sub(now) > maxIssuedSkew {
		return false, 0, fmt.Errorf("pcs: score issued %s: %w", issued.UTC(), domain.ErrStale)
	}

	passed = !(score.Outcome == domain.OutcomeYes && score.Score < YesGateThreshold)
	if !passed {
		v.logger.DebugContext(ctx, "yes proposal gated",
			slog.String("market_id", score.MarketID.Hex()),
			slog.Int("score", int(score.Score)),
		)
	}
	return passed, score.Score, nil
}

// ConsumeNonce burns the score's replay slot. Call only after Validate has
// accepted the object.
func (v *Verifier) ConsumeNonce(ctx context.Context, score *domain.SignedScore) error {
	fresh, err := v.nonces.Consume(ctx, v.signer, score.Nonce)
	if err != nil {
		return fmt.Errorf("pcs: nonce store: %w", err)
	}
	if !fresh {
		return fmt.Errorf("pcs: nonce %d: %w", score.Nonce, domain.ErrReplayedNonce)
	}
	return nil
}

// Verify runs Validate and, when the object is valid, consumes its nonce in
// one call. Standalone consumers use it; the engine splits the two steps so a
// failed deposit never burns a nonce.
func (v *Verifier) Verify(ctx context.Context, score *domain.SignedScore) (passed bool, value uint8, err error) {
	passed, value, err = v.Validate(ctx, score)
	if err != nil {
		return false, 0, err
	}
	if err := v.ConsumeNonce(ctx, score); err != nil {
		return false, 0, err
	}
	return passed, value, nil
}

// MemoryNonceStore is an in-process NonceStore: a per-signer set of consumed
// nonces, initialized empty and append-only. Single-node deployments and
// tests use it; clustered deployments use the Redis-backed store.
type MemoryNonceStore struct {
	mu       sync.Mutex
	consumed map[domain.Party]map[uint64]struct{}
}

// NewMemoryNonceStore creates an empty MemoryNonceStore.
func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{consumed: make(map[domain.Party]map[uint64]struct{})}
}

// Consume marks (signer, nonce) as used. It returns true on first use and
// false on replay.
func (m *MemoryNonceStore) Consume(ctx context.Context, signer domain.Party, nonce uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set := m.consumed[signer]
	if set == nil {
		set = make(map[uint64]struct{})
		m.consumed[signer] = set
	}
	if _, dup := set[nonce]; dup {
		return false, nil
	}
	set[nonce] = struct{}{}
	return true, nil
}

// Compile-time interface check.
var _ domain.NonceStore = (*MemoryNonceStore)(nil)
