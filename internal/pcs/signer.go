package pcs

import (
	"crypto/ecdsa"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/precisionlabs/precision-engine/internal/domain"
)

// Signer produces signed confidence-score objects. In production the score
// engine runs off-process and only its address is configured; this type
// backs the dev scoring mode and the integration tests.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    uint64
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key and
// the chain the scores will be bound to.
func NewSigner(privateKeyHex string, chainID uint64) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("pcs: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    chainID,
	}, nil
}

// Address returns the address scores from this Signer recover to.
func (s *Signer) Address() common.Address {
	return s.address
}

// Sign fills in the chain binding and issuance time and signs the score
// object, returning the complete SignedScore.
func (s *Signer) Sign(marketID domain.MarketID, outcome domain.Outcome, score, uncertainty uint8, nonce uint64, issuedAt time.Time) (*domain.SignedScore, error) {
	obj := &domain.SignedScore{
		MarketID:    marketID,
		Outcome:     outcome,
		Score:       score,
		Uncertainty: uncertainty,
		ChainID:     s.chainID,
		Nonce:       nonce,
		IssuedAt:    issuedAt.Unix(),
	}

	sig, err := ethcrypto.Sign(ScoreDigest(obj), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("pcs: signing score: %w", err)
	}
	// go-ethereum returns v in {0,1}; wire format uses {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	obj.Signature = sig
	return obj, nil
}
