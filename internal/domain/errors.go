package domain

import "errors"

// Engine errors. Every failure is a hard, synchronous rejection that leaves
// prior state untouched; there is no retry or recovery layer.
var (
	ErrMarketExists     = errors.New("market already exists")
	ErrMarketNotFound   = errors.New("market not found")
	ErrWrongState       = errors.New("wrong market state")
	ErrBondMismatch     = errors.New("bond amount mismatch")
	ErrLowConfidence    = errors.New("confidence score below proposal gate")
	ErrTooEarly         = errors.New("liveness window has not elapsed")
	ErrWindowClosed     = errors.New("liveness window has closed")
	ErrUnauthorized     = errors.New("caller not authorized")
	ErrAlreadyFinalized = errors.New("market already finalized")
	ErrInvalidOutcome   = errors.New("invalid outcome")
	ErrInvalidSize      = errors.New("market size must be nonzero")
)

// Escrow and ledger errors.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNoSuchLock        = errors.New("no such bond lock")
	ErrUnderflow         = errors.New("balance underflow")
	ErrOverflow          = errors.New("amount overflow")
)

// Score verification errors.
var (
	ErrBadSignature  = errors.New("score signature invalid")
	ErrChainMismatch = errors.New("score bound to a different chain")
	ErrReplayedNonce = errors.New("score nonce already consumed")
	ErrStale         = errors.New("score outside freshness window")
	ErrScoreMismatch = errors.New("score does not match proposal")
)

// Infrastructure errors.
var (
	ErrLockHeld = errors.New("lock already held")
)
