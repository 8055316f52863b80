package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const blacklistKeyPrefix = "blacklist:"

// BlacklistRepository stores fingerprints of explicitly invalidated access
// tokens in Redis. Entries carry a TTL equal to the remaining lifetime of the
// token they shadow, so Redis evicts them once cryptographic expiry makes the
// entry redundant. Insert-with-TTL and point lookup only; never updated.
type BlacklistRepository struct {
	client *redis.Client
}

// NewBlacklistRepository constructs a blacklist repository.
func NewBlacklistRepository(client *redis.Client) *BlacklistRepository {
	return &BlacklistRepository{client: client}
}

// Add records a fingerprint for the given TTL. A non-positive TTL means the
// token has already expired and needs no bookkeeping.
func (r *BlacklistRepository) Add(ctx context.Context, fingerprint string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, blacklistKeyPrefix+fingerprint, "1", ttl).Err(); err != nil {
		return fmt.Errorf("blacklist set %s: %w", fingerprint, err)
	}
	return nil
}

// Contains reports whether the fingerprint is currently blacklisted.
func (r *BlacklistRepository) Contains(ctx context.Context, fingerprint string) (bool, error) {
	n, err := r.client.Exists(ctx, blacklistKeyPrefix+fingerprint).Result()
	if err != nil {
		return false, fmt.Errorf("blacklist lookup %s: %w", fingerprint, err)
	}
	return n > 0, nil
}

// Close releases the underlying Redis connection if present.
func (r *BlacklistRepository) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
