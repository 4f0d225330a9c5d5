package tokenstore

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// ErrUnavailable wraps every transport or timeout failure of a Store.
var ErrUnavailable = errors.New("token store unavailable")

// Store is a key-value store with per-key expiry. An expired key is
// indistinguishable from one that was never written.
type Store interface {
	// Put upserts value and resets the key's TTL.
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
	// Delete is idempotent.
	Delete(ctx context.Context, key string) error
	// Increment adds one to the counter at key. ttl applies only when the
	// increment creates the key.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Swap replaces the value at key with next only if it currently equals
	// old. It reports whether the swap happened.
	Swap(ctx context.Context, key, old, next string, ttl time.Duration) (bool, error)
}

const (
	prefixVerification  = "verification:"
	prefixPasswordReset = "password_reset:"
	prefixRefreshToken  = "refresh_token:"
	prefixBlacklist     = "blacklisted_token:"
	prefixRateLimit     = "rate_limit:"
)

func VerificationKey(token string) string  { return prefixVerification + token }
func PasswordResetKey(token string) string { return prefixPasswordReset + token }
func RefreshTokenKey(userID string) string { return prefixRefreshToken + userID }
func BlacklistKey(accessToken string) string {
	return prefixBlacklist + accessToken
}

// RateLimitKey buckets a counter by route, client and fixed window index.
func RateLimitKey(route, client string, window int64) string {
	return prefixRateLimit + route + ":" + client + ":" + strconv.FormatInt(window, 10)
}
