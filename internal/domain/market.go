// Package domain defines the core types of the Precision finality protocol:
// market settlement records, outcomes, signed confidence scores, and the
// store interfaces implemented by the persistence adapters.
package domain

import (
	"encoding/binary"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// MarketID is the opaque 32-byte fingerprint identifying a market.
type MarketID = common.Hash

// Party identifies a bond-posting participant.
type Party = common.Address

// MarketState represents the lifecycle state of a market.
type MarketState string

const (
	MarketStateNone      MarketState = "none"
	MarketStatePending   MarketState = "pending"
	MarketStateDisputed  MarketState = "disputed"
	MarketStateFinalized MarketState = "finalized"
)

// Outcome is a proposed market resolution.
type Outcome string

const (
	OutcomeYes     Outcome = "yes"
	OutcomeNo      Outcome = "no"
	OutcomeInvalid Outcome = "invalid"
)

// Valid reports whether o is one of the three recognised outcomes.
func (o Outcome) Valid() bool {
	return o == OutcomeYes || o == OutcomeNo || o == OutcomeInvalid
}

// Market is the per-fingerprint settlement record. It is created on first
// proposal and persists forever; no field is cleared once finalized.
type Market struct {
	ID                MarketID
	Size              uint64 // notional value in smallest ledger units
	State             MarketState
	ProposedOutcome   Outcome
	Proposer          Party
	ProposerBond      uint64
	ProposalTimestamp time.Time
	LivenessDeadline  time.Time
	Challenger        *Party // set only once disputed
	ChallengerBond    uint64
	Finalized         bool  // monotonic; no operation runs once true
	PCSAtProposal     uint8 // confidence score recorded at proposal time
	FinalizedAt       *time.Time
}

// Fingerprint derives a MarketID from the market's question text and its
// resolution timestamp, matching how markets are identified on-chain.
func Fingerprint(question string, resolutionTime time.Time) MarketID {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(resolutionTime.Unix()))
	return common.BytesToHash(ethcrypto.Keccak256([]byte(question), ts[:]))
}
