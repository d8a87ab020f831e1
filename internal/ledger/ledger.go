// Package ledger provides an in-process fungible-balance token used to hold
// and transfer bonds. The engine only depends on the deposit/transfer/balance
// contract; on-chain deployments substitute the real token.
package ledger

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/precisionlabs/precision-engine/internal/domain"
)

// Ledger is a mutex-guarded balance table with overflow-checked arithmetic.
// All amounts are in the token's smallest unit.
type Ledger struct {
	mu       sync.Mutex
	balances map[domain.Party]uint64
}

// New creates an empty Ledger.
func New() *Ledger {
	return &Ledger{balances: make(map[domain.Party]uint64)}
}

// Mint credits amount to party. Used to seed genesis balances for local runs
// and tests; a deployed token has its own issuance rules.
func (l *Ledger) Mint(party domain.Party, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur := l.balances[party]
	if cur > math.MaxUint64-amount {
		return fmt.Errorf("ledger: mint %d to %s: %w", amount, party.Hex(), domain.ErrOverflow)
	}
	l.balances[party] = cur + amount
	return nil
}

// Transfer moves amount from one party to another. It fails with
// ErrInsufficientFunds when the sender's balance is short and leaves both
// balances untouched on any failure.
func (l *Ledger) Transfer(ctx context.Context, from, to domain.Party, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	fromBal := l.balances[from]
	if fromBal < amount {
		return fmt.Errorf("ledger: transfer %d from %s: %w", amount, from.Hex(), domain.ErrInsufficientFunds)
	}
	toBal := l.balances[to]
	if toBal > math.MaxUint64-amount {
		return fmt.Errorf("ledger: transfer %d to %s: %w", amount, to.Hex(), domain.ErrOverflow)
	}

	l.balances[from] = fromBal - amount
	l.balances[to] = toBal + amount
	return nil
}

// BalanceOf returns the party's available balance.
func (l *Ledger) BalanceOf(ctx context.Context, party domain.Party) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[party]
}

// Compile-time interface check.
var _ domain.Ledger = (*Ledger)(nil)
