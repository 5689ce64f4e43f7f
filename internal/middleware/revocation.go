package middleware

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"signaling-core/pkg/jwt"
)

// Blacklist keys written by the auth service
const (
	tokenBlacklistPrefix = "blacklist:"
	userBlacklistPrefix  = "blacklist:user:"
)

// RedisRevocationChecker rejects tokens whose jti was revoked, or whose
// user had every session revoked
type RedisRevocationChecker struct {
	client redis.Cmdable
}

// NewRedisRevocationChecker creates a checker over client
func NewRedisRevocationChecker(client redis.Cmdable) *RedisRevocationChecker {
	return &RedisRevocationChecker{client: client}
}

// IsTokenRevoked checks both blacklists in one round trip
func (c *RedisRevocationChecker) IsTokenRevoked(ctx context.Context, claims *jwt.Claims) (bool, error) {
	keys := revocationKeys(claims)
	if len(keys) == 0 {
		return false, nil
	}

	exists, err := c.client.Exists(ctx, keys...).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist in redis: %w", err)
	}
	return exists > 0, nil
}

func revocationKeys(claims *jwt.Claims) []string {
	var keys []string
	if claims.ID != "" {
		keys = append(keys, tokenBlacklistPrefix+claims.ID)
	}
	if claims.UserID != uuid.Nil {
		keys = append(keys, userBlacklistPrefix+claims.UserID.String())
	}
	return keys
}
