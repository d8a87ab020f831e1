package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/precisionlabs/precision-engine/internal/domain"
)

// NonceStore implements domain.NonceStore using one Redis set of consumed
// nonces per signer. SADD is atomic, so Consume returns true exactly once
// per (signer, nonce) pair across every engine instance sharing the Redis.
// The sets are append-only for the life of the deployment.
type NonceStore struct {
	rdb *redis.Client
}

// NewNonceStore creates a NonceStore backed by the given Client.
func NewNonceStore(c *Client) *NonceStore {
	return &NonceStore{rdb: c.Underlying()}
}

func nonceKey(signer domain.Party) string {
	return "pcs:nonces:" + signer.Hex()
}

// Consume marks (signer, nonce) as used. It returns true on first use and
// false on replay.
func (n *NonceStore) Consume(ctx context.Context, signer domain.Party, nonce uint64) (bool, error) {
	added, err := n.rdb.SAdd(ctx, nonceKey(signer), strconv.FormatUint(nonce, 10)).Result()
	if err != nil {
		return false, fmt.Errorf("redis: consume nonce %d for %s: %w", nonce, signer.Hex(), err)
	}
	return added == 1, nil
}

// Compile-time interface check.
var _ domain.NonceStore = (*NonceStore)(nil)
