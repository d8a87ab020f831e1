// Package pcs implements signing and verification of Probabilistic
// Confidence Score objects, and the confidence gate applied to proposals.
package pcs

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/precisionlabs/precision-engine/internal/domain"
)

// --------------------------------------------------------------------------
// Typed hashes (pre-computed keccak256 of the canonical type strings).
// --------------------------------------------------------------------------

var (
	// EIP712Domain(string name,string version,uint256 chainId)
	domainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	// ConfidenceScore(bytes32 marketId,uint8 outcome,uint8 score,uint8 uncertainty,uint256 nonce,uint256 issuedAt)
	scoreTypeHash = ethcrypto.Keccak256(
		[]byte("ConfidenceScore(bytes32 marketId,uint8 outcome,uint8 score,uint8 uncertainty,uint256 nonce,uint256 issuedAt)"),
	)

	nameHash    = ethcrypto.Keccak256([]byte("PrecisionPCS"))
	versionHash = ethcrypto.Keccak256([]byte("1"))
)

// outcomeCode maps outcomes onto the uint8 encoding used in the digest.
func outcomeCode(o domain.Outcome) uint8 {
	switch o {
	case domain.OutcomeYes:
		return 0
	case domain.OutcomeNo:
		return 1
	default:
		return 2
	}
}

// domainSeparator returns keccak256(abi.encode(typeHash, nameHash, versionHash, chainId)).
// The chain binding lives here, so a score signed for one chain never
// verifies on another.
func domainSeparator(chainID uint64) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			domainTypeHash,
			nameHash,
			versionHash,
			uint64To32Bytes(chainID),
		),
	)
}

// ScoreDigest computes the 32-byte digest a signer commits to:
//
//	keccak256("\x19\x01" || domainSeparator(chainId) || structHash)
func ScoreDigest(s *domain.SignedScore) []byte {
	structHash := ethcrypto.Keccak256(
		concatBytes(
			scoreTypeHash,
			s.MarketID.Bytes(),
			uint64To32Bytes(uint64(outcomeCode(s.Outcome))),
			uint64To32Bytes(uint64(s.Score)),
			uint64To32Bytes(uint64(s.Uncertainty)),
			uint64To32Bytes(s.Nonce),
			uint64To32Bytes(uint64(s.IssuedAt)),
		),
	)
	return ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			domainSeparator(s.ChainID),
			structHash,
		),
	)
}

// RecoverSigner recovers the signing address from a score's digest and its
// 65-byte signature. It accepts v in {0,1} or {27,28}.
func RecoverSigner(s *domain.SignedScore) (common.Address, error) {
	if len(s.Signature) != 65 {
		return common.Address{}, domain.ErrBadSignature
	}
	sig := make([]byte, 65)
	copy(sig, s.Signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := ethcrypto.SigToPub(ScoreDigest(s), sig)
	if err != nil {
		return common.Address{}, domain.ErrBadSignature
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

func uint64To32Bytes(v uint64) []byte {
	return bigIntTo32Bytes(new(big.Int).SetUint64(v))
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
