package pcs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/precisionlabs/precision-engine/internal/domain"
)

// Throwaway secp256k1 keys for tests.
const (
	oracleKeyHex   = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	impostorKeyHex = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
)

const testChainID uint64 = 137

var testMarket = common.HexToHash("0xfeed")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestVerifier(t *testing.T) (*Verifier, *Signer) {
	t.Helper()
	signer, err := NewSigner(oracleKeyHex, testChainID)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	v := NewVerifier(signer.Address(), testChainID, 10*time.Minute, NewMemoryNonceStore(), discardLogger())
	return v, signer
}

func signScore(t *testing.T, signer *Signer, outcome domain.Outcome, score uint8, nonce uint64) *domain.SignedScore {
	t.Helper()
	obj, err := signer.Sign(testMarket, outcome, score, 10, nonce, time.Now())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return obj
}

func TestVerifyRoundTrip(t *testing.T) {
	v, signer := newTestVerifier(t)

	obj := signScore(t, signer, domain.OutcomeNo, 72, 1)
	passed, value, err := v.Verify(context.Background(), obj)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !passed {
		t.Error("valid NO score should pass")
	}
	if value != 72 {
		t.Errorf("score = %d, want 72", value)
	}
}

func TestVerifyRejectsWrongSigner(t *testing.T) {
	v, _ := newTestVerifier(t)

	impostor, err := NewSigner(impostorKeyHex, testChainID)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	obj := signScore(t, impostor, domain.OutcomeNo, 72, 1)

	_, _, err = v.Verify(context.Background(), obj)
	if !errors.Is(err, domain.ErrBadSignature) {
		t.Fatalf("verify err = %v, want ErrBadSignature", err)
	}
}

func TestVerifyRejectsTamperedScore(t *testing.T) {
	v, signer := newTestVerifier(t)

	obj := signScore(t, signer, domain.OutcomeNo, 72, 1)
	obj.Score = 99 // inflate after signing

	_, _, err := v.Verify(context.Background(), obj)
	if !errors.Is(err, domain.ErrBadSignature) {
		t.Fatalf("verify err = %v, want ErrBadSignature", err)
	}
}

func TestVerifyRejectsTruncatedSignature(t *testing.T) {
	v, signer := newTestVerifier(t)

	obj := signScore(t, signer, domain.OutcomeNo, 72, 1)
	obj.Signature = obj.Signature[:64]

	_, _, err := v.Verify(context.Background(), obj)
	if !errors.Is(err, domain.ErrBadSignature) {
		t.Fatalf("verify err = %v, want ErrBadSignature", err)
	}
}

func TestVerifyRejectsChainMismatch(t *testing.T) {
	otherChain, err := NewSigner(oracleKeyHex, 1)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	v, _ := newTestVerifier(t)

	// Signed for chain 1, presented to a chain-137 verifier. The signature
	// itself recovers correctly; the chain binding must reject it.
	obj := signScore(t, otherChain, domain.OutcomeNo, 72, 1)
	_, _, err = v.Verify(context.Background(), obj)
	if !errors.Is(err, domain.ErrChainMismatch) {
		t.Fatalf("verify err = %v, want ErrChainMismatch", err)
	}
}

func TestVerifyRejectsStaleScore(t *testing.T) {
	v, signer := newTestVerifier(t)

	obj, err := signer.Sign(testMarket, domain.OutcomeNo, 72, 10, 1, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	_, _, err = v.Verify(context.Background(), obj)
	if !errors.Is(err, domain.ErrStale) {
		t.Fatalf("verify err = %v, want ErrStale", err)
	}
}

func TestVerifyRejectsFutureIssuedScore(t *testing.T) {
	v, signer := newTestVerifier(t)

	obj, err := signer.Sign(testMarket, domain.OutcomeNo, 72, 10, 1, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	_, _, err = v.Verify(context.Background(), obj)
	if !errors.Is(err, domain.ErrStale) {
		t.Fatalf("verify err = %v, want ErrStale for future IssuedAt", err)
	}
}

func TestVerifyAllowsSlightClockSkew(t *testing.T) {
	v, signer := newTestVerifier(t)

	obj, err := signer.Sign(testMarket, domain.OutcomeNo, 72, 10, 1, time.Now().Add(10*time.Second))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, _, err := v.Verify(context.Background(), obj); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestValidateLeavesNonceUnconsumed(t *testing.T) {
	v, signer := newTestVerifier(t)
	ctx := context.Background()

	obj := signScore(t, signer, domain.OutcomeNo, 72, 5)
	for i := 0; i < 2; i++ {
		if _, _, err := v.Validate(ctx, obj); err != nil {
			t.Fatalf("validate #%d: %v", i+1, err)
		}
	}

	// Consumption is a separate step and still fires exactly once.
	if err := v.ConsumeNonce(ctx, obj); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := v.ConsumeNonce(ctx, obj); !errors.Is(err, domain.ErrReplayedNonce) {
		t.Fatalf("second consume err = %v, want ErrReplayedNonce", err)
	}
}

func TestVerifyRejectsReplayedNonce(t *testing.T) {
	v, signer := newTestVerifier(t)
	ctx := context.Background()

	obj := signScore(t, signer, domain.OutcomeNo, 72, 7)
	if _, _, err := v.Verify(ctx, obj); err != nil {
		t.Fatalf("first verify: %v", err)
	}
	_, _, err := v.Verify(ctx, obj)
	if !errors.Is(err, domain.ErrReplayedNonce) {
		t.Fatalf("second verify err = %v, want ErrReplayedNonce", err)
	}
}

func TestStaleScoreDoesNotBurnNonce(t *testing.T) {
	v, signer := newTestVerifier(t)
	ctx := context.Background()

	stale, err := signer.Sign(testMarket, domain.OutcomeNo, 72, 10, 3, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, _, err := v.Verify(ctx, stale); !errors.Is(err, domain.ErrStale) {
		t.Fatalf("verify err = %v, want ErrStale", err)
	}

	// The same nonce on a fresh score must still be accepted.
	fresh := signScore(t, signer, domain.OutcomeNo, 72, 3)
	if _, _, err := v.Verify(ctx, fresh); err != nil {
		t.Fatalf("fresh verify: %v", err)
	}
}

func TestYesGateIsAsymmetric(t *testing.T) {
	cases := []struct {
		name    string
		outcome domain.Outcome
		score   uint8
		passed  bool
	}{
		{"yes below gate", domain.OutcomeYes, 29, false},
		{"yes at gate", domain.OutcomeYes, 30, true},
		{"yes well above gate", domain.OutcomeYes, 95, true},
		{"no below gate", domain.OutcomeNo, 5, true},
		{"invalid below gate", domain.OutcomeInvalid, 0, true},
	}

	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, signer := newTestVerifier(t)
			obj := signScore(t, signer, tc.outcome, tc.score, uint64(i+1))
			passed, value, err := v.Verify(context.Background(), obj)
			if err != nil {
				t.Fatalf("verify: %v", err)
			}
			if passed != tc.passed {
				t.Errorf("passed = %v, want %v", passed, tc.passed)
			}
			if value != tc.score {
				t.Errorf("score = %d, want %d", value, tc.score)
			}
		})
	}
}

func TestMemoryNonceStoreIsPerSigner(t *testing.T) {
	store := NewMemoryNonceStore()
	ctx := context.Background()

	a := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	b := common.HexToAddress("0x00000000000000000000000000000000000000b2")

	fresh, err := store.Consume(ctx, a, 1)
	if err != nil || !fresh {
		t.Fatalf("first consume = (%v, %v), want (true, nil)", fresh, err)
	}
	fresh, err = store.Consume(ctx, b, 1)
	if err != nil || !fresh {
		t.Fatalf("other signer consume = (%v, %v), want (true, nil)", fresh, err)
	}
	fresh, err = store.Consume(ctx, a, 1)
	if err != nil || fresh {
		t.Fatalf("replay consume = (%v, %v), want (false, nil)", fresh, err)
	}
}
