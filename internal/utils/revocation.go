package utils

import (
	"context" // Context for Redis operations
	"time"    // Expiry arithmetic

	"github.com/redis/go-redis/v9" // Redis client
)

const revokedKeyPrefix = "auth:revoked:"

// RevokeToken denylists a token id until the token would have expired anyway
func RevokeToken(ctx context.Context, rdb *redis.Client, tokenID string, expiresAt time.Time) error {
	if rdb == nil || tokenID == "" {
		return nil
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil // Already expired, nothing to revoke
	}
	return rdb.Set(ctx, revokedKeyPrefix+tokenID, 1, ttl).Err()
}

// IsTokenRevoked checks the denylist for a token id
func IsTokenRevoked(ctx context.Context, rdb *redis.Client, tokenID string) (bool, error) {
	if rdb == nil || tokenID == "" {
		return false, nil
	}
	n, err := rdb.Exists(ctx, revokedKeyPrefix+tokenID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
