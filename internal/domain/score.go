package domain

// SignedScore is the off-chain Probabilistic Confidence Score object that
// accompanies a proposal. The signature covers every other field via a
// typed-hash digest; ChainID and Nonce make it replay-safe across and within
// chains respectively.
type SignedScore struct {
	MarketID    MarketID
	Outcome     Outcome
	Score       uint8 // 0-100
	Uncertainty uint8 // 0-100
	ChainID     uint64
	Nonce       uint64
	IssuedAt    int64  // unix seconds, checked against the freshness window
	Signature   []byte // 65-byte secp256k1 signature (r || s || v)
}
