package postgres

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/precisionlabs/precision-engine/internal/domain"
)

// SettlementStore implements domain.MarketStore using PostgreSQL. Rows are
// keyed by the market fingerprint and upserted on every committed
// transition; nothing is ever deleted.
type SettlementStore struct {
	pool *pgxpool.Pool
}

// NewSettlementStore creates a SettlementStore backed by the given pool.
func NewSettlementStore(pool *pgxpool.Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

const settlementColumns = `
	market_id, size, state, proposed_outcome, proposer, proposer_bond,
	proposal_timestamp, liveness_deadline, challenger, challenger_bond,
	finalized, pcs_at_proposal, finalized_at`

// Upsert writes the full settlement record for a market.
func (s *SettlementStore) Upsert(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO settlement_markets (` + settlementColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (market_id) DO UPDATE SET
			state = EXCLUDED.state,
			proposed_outcome = EXCLUDED.proposed_outcome,
			challenger = EXCLUDED.challenger,
			challenger_bond = EXCLUDED.challenger_bond,
			finalized = EXCLUDED.finalized,
			finalized_at = EXCLUDED.finalized_at`

	var challenger *string
	if m.Challenger != nil {
		h := m.Challenger.Hex()
		challenger = &h
	}
	_, err := s.pool.Exec(ctx, query,
		m.ID.Hex(), numericFromUint64(m.Size), string(m.State), string(m.ProposedOutcome),
		m.Proposer.Hex(), numericFromUint64(m.ProposerBond), m.ProposalTimestamp,
		m.LivenessDeadline, challenger, numericFromUint64(m.ChallengerBond),
		m.Finalized, int16(m.PCSAtProposal), m.FinalizedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert settlement %s: %w", m.ID.Hex(), err)
	}
	return nil
}

// GetByID returns the settlement record for a market fingerprint.
func (s *SettlementStore) GetByID(ctx context.Context, id domain.MarketID) (domain.Market, error) {
	const query = `SELECT ` + settlementColumns + ` FROM settlement_markets WHERE market_id = $1`
	m, err := scanMarket(s.pool.QueryRow(ctx, query, id.Hex()))
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: get settlement %s: %w", id.Hex(), err)
	}
	return m, nil
}

// ListFinalizedBefore returns finalized markets settled before cutoff,
// oldest first, for the archival sweep.
func (s *SettlementStore) ListFinalizedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Market, error) {
	const query = `
		SELECT ` + settlementColumns + `
		FROM settlement_markets
		WHERE finalized AND finalized_at < $1
		ORDER BY finalized_at
		LIMIT $2`
	rows, err := s.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list finalized: %w", err)
	}
	defer rows.Close()

	var list []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: list finalized: %w", err)
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

// Count returns the number of settlement records.
func (s *SettlementStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM settlement_markets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count settlements: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMarket(row rowScanner) (domain.Market, error) {
	var (
		m          domain.Market
		id         string
		size       pgtype.Numeric
		state      string
		outcome    string
		proposer   string
		propBond   pgtype.Numeric
		challenger *string
		chalBond   pgtype.Numeric
		pcsValue   int16
	)
	if err := row.Scan(
		&id, &size, &state, &outcome, &proposer, &propBond,
		&m.ProposalTimestamp, &m.LivenessDeadline, &challenger, &chalBond,
		&m.Finalized, &pcsValue, &m.FinalizedAt,
	); err != nil {
		return domain.Market{}, err
	}
	var err error
	if m.Size, err = numericToUint64(size); err != nil {
		return domain.Market{}, fmt.Errorf("size: %w", err)
	}
	if m.ProposerBond, err = numericToUint64(propBond); err != nil {
		return domain.Market{}, fmt.Errorf("proposer_bond: %w", err)
	}
	if m.ChallengerBond, err = numericToUint64(chalBond); err != nil {
		return domain.Market{}, fmt.Errorf("challenger_bond: %w", err)
	}
	m.ID = common.HexToHash(id)
	m.State = domain.MarketState(state)
	m.ProposedOutcome = domain.Outcome(outcome)
	m.Proposer = common.HexToAddress(proposer)
	if challenger != nil {
		addr := common.HexToAddress(*challenger)
		m.Challenger = &addr
	}
	m.PCSAtProposal = uint8(pcsValue)
	return m, nil
}

// numericFromUint64 wraps a ledger amount for a NUMERIC(20,0) column.
// BIGINT cannot hold the upper half of the uint64 range.
func numericFromUint64(v uint64) pgtype.Numeric {
	return pgtype.Numeric{Int: new(big.Int).SetUint64(v), Valid: true}
}

// numericToUint64 converts a scanned NUMERIC back to a uint64 amount. The
// decoder may normalize trailing zeros into the exponent, so Exp > 0 is
// expanded before the range check.
func numericToUint64(n pgtype.Numeric) (uint64, error) {
	if !n.Valid || n.Int == nil {
		return 0, fmt.Errorf("postgres: null numeric amount")
	}
	v := new(big.Int).Set(n.Int)
	switch {
	case n.Exp > 0:
		v.Mul(v, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n.Exp)), nil))
	case n.Exp < 0:
		return 0, fmt.Errorf("postgres: fractional numeric amount %s", n.Int)
	}
	if v.Sign() < 0 || !v.IsUint64() {
		return 0, fmt.Errorf("postgres: numeric amount %s out of uint64 range", v)
	}
	return v.Uint64(), nil
}

// Compile-time interface check.
var _ domain.MarketStore = (*SettlementStore)(nil)
