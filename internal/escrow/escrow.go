// Package escrow custodies staked bonds per market and per party on top of
// the ledger collaborator, with exactly-once release semantics enforced by
// the calling state machine.
package escrow

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/precisionlabs/precision-engine/internal/domain"
)

// bpsDenominator is the basis-point scale used for slash penalties.
const bpsDenominator = 10_000

// Escrow holds market-scoped, party-tagged bond locks. The vault party owns
// the pooled funds on the ledger; the lock table tracks who staked what.
//
// Ordering follows checks-effects-interactions: a lock is removed from the
// table before the ledger transfer that pays it out, so a reentrant call
// observes the already-updated lock state.
type Escrow struct {
	mu     sync.Mutex
	ledger domain.Ledger
	vault  domain.Party
	locks  map[domain.MarketID]map[domain.Party]uint64
}

// New creates an Escrow whose pooled funds live in the vault account.
func New(ledger domain.Ledger, vault domain.Party) *Escrow {
	return &Escrow{
		ledger: ledger,
		vault:  vault,
		locks:  make(map[domain.MarketID]map[domain.Party]uint64),
	}
}

// Deposit moves amount from the payer's available balance into a lock scoped
// to (marketID, payer). It fails with ErrInsufficientFunds when the payer is
// short. Callers must not double-deposit for the same stake.
func (e *Escrow) Deposit(ctx context.Context, marketID domain.MarketID, payer domain.Party, amount uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.locks[marketID][payer]
	if cur > math.MaxUint64-amount {
		return fmt.Errorf("escrow: deposit %d for %s: %w", amount, payer.Hex(), domain.ErrOverflow)
	}

	if err := e.ledger.Transfer(ctx, payer, e.vault, amount); err != nil {
		return fmt.Errorf("escrow: deposit: %w", err)
	}

	if e.locks[marketID] == nil {
		e.locks[marketID] = make(map[domain.Party]uint64)
	}
	e.locks[marketID][payer] = cur + amount
	return nil
}

// Release moves a locked amount back to the recipient's available balance.
// It fails with ErrNoSuchLock when the referenced lock is absent or smaller
// than amount. The caller guarantees at-most-once release via the market's
// finalized flag.
func (e *Escrow) Release(ctx context.Context, marketID domain.MarketID, recipient domain.Party, amount uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cur, ok := e.locks[marketID][recipient]
	if !ok || cur < amount {
		return fmt.Errorf("escrow: release %d for %s: %w", amount, recipient.Hex(), domain.ErrNoSuchLock)
	}

	// Effects before the external transfer.
	e.setLock(marketID, recipient, cur-amount)

	if err := e.ledger.Transfer(ctx, e.vault, recipient, amount); err != nil {
		// Vault always covers the sum of its locks; restore on the
		// impossible path so the call stays all-or-nothing.
		e.setLock(marketID, recipient, cur)
		return fmt.Errorf("escrow: release: %w", err)
	}
	return nil
}

// Slash transfers amount of the loser's lock for marketID to the winner. The
// caller names the stake being slashed explicitly; any remainder of the lock
// stays in place, so a party holding several stakes under one market (a
// proposer disputing their own proposal) loses only the named one. When
// penaltyBps > 0 an additional penaltyBps/10000 of amount is taken from the
// loser's available balance; if that balance cannot cover the full penalty it
// is clamped to what is available rather than failing, since the base slash
// must always succeed. It returns the penalty actually moved.
func (e *Escrow) Slash(ctx context.Context, marketID domain.MarketID, loser, winner domain.Party, amount, penaltyBps uint64) (penalty uint64, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cur, ok := e.locks[marketID][loser]
	if !ok || cur < amount || amount == 0 {
		return 0, fmt.Errorf("escrow: slash %d for %s: %w", amount, loser.Hex(), domain.ErrNoSuchLock)
	}

	if penaltyBps > 0 {
		if amount > math.MaxUint64/penaltyBps {
			return 0, fmt.Errorf("escrow: slash penalty on %d: %w", amount, domain.ErrOverflow)
		}
		penalty = amount * penaltyBps / bpsDenominator
		// Documented clamp, not a revert.
		if avail := e.ledger.BalanceOf(ctx, loser); penalty > avail {
			penalty = avail
		}
	}

	// Remove the stake before any transfer.
	e.setLock(marketID, loser, cur-amount)

	if err := e.ledger.Transfer(ctx, e.vault, winner, amount); err != nil {
		e.setLock(marketID, loser, cur)
		return 0, fmt.Errorf("escrow: slash base: %w", err)
	}
	if penalty > 0 {
		if err := e.ledger.Transfer(ctx, loser, winner, penalty); err != nil {
			// Clamp was computed against the live balance; this path is
			// unreachable with a conforming ledger.
			return 0, fmt.Errorf("escrow: slash penalty: %w", domain.ErrUnderflow)
		}
	}
	return penalty, nil
}

// Locked returns the current lock for (marketID, party).
func (e *Escrow) Locked(marketID domain.MarketID, party domain.Party) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.locks[marketID][party]
}

func (e *Escrow) setLock(marketID domain.MarketID, party domain.Party, amount uint64) {
	if amount == 0 {
		delete(e.locks[marketID], party)
		if len(e.locks[marketID]) == 0 {
			delete(e.locks, marketID)
		}
		return
	}
	if e.locks[marketID] == nil {
		e.locks[marketID] = make(map[domain.Party]uint64)
	}
	e.locks[marketID][party] = amount
}
