package repository

import (
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	pkgredis "github.com/statlinehq/statline-auth/pkg/redis"
)

//go:embed scripts/login_attempt.lua
var loginAttemptScript string

// Script names for caching
const scriptLoginAttempt = "login_attempt"

// RedisThrottleRepository implements LoginThrottleRepository using Redis
type RedisThrottleRepository struct {
	client *pkgredis.Client
	window time.Duration
}

// NewRedisThrottleRepository creates a new RedisThrottleRepository
func NewRedisThrottleRepository(client *pkgredis.Client, window time.Duration) *RedisThrottleRepository {
	return &RedisThrottleRepository{client: client, window: window}
}

// LoadScripts loads the Lua scripts into Redis
func (r *RedisThrottleRepository) LoadScripts(ctx context.Context) error {
	if _, err := r.client.LoadScript(ctx, scriptLoginAttempt, loginAttemptScript); err != nil {
		return fmt.Errorf("failed to load script %s: %w", scriptLoginAttempt, err)
	}
	return nil
}

// IncrIPAttempt bumps the per-IP counter for the current window
func (r *RedisThrottleRepository) IncrIPAttempt(ctx context.Context, ip string) (int64, time.Duration, error) {
	return r.incr(ctx, ipAttemptKey(ip))
}

// IncrAccountAttempt bumps the per-account counter for the current window
func (r *RedisThrottleRepository) IncrAccountAttempt(ctx context.Context, email string) (int64, time.Duration, error) {
	return r.incr(ctx, accountAttemptKey(email))
}

// ResetAccountAttempts drops the per-account counter after a successful login
func (r *RedisThrottleRepository) ResetAccountAttempts(ctx context.Context, email string) error {
	return r.client.Del(ctx, accountAttemptKey(email)).Err()
}

func (r *RedisThrottleRepository) incr(ctx context.Context, key string) (int64, time.Duration, error) {
	windowSeconds := int64(r.window.Seconds())

	result := r.client.EvalWithFallback(ctx, scriptLoginAttempt, loginAttemptScript, []string{key}, windowSeconds)
	if result.Err() != nil {
		return 0, 0, fmt.Errorf("failed to execute %s script: %w", scriptLoginAttempt, result.Err())
	}

	values, err := result.Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to parse script result: %w", err)
	}
	if len(values) < 2 {
		return 0, 0, fmt.Errorf("unexpected script result length: %d", len(values))
	}

	count, ok := toCount(values[0])
	if !ok {
		return 0, 0, fmt.Errorf("unexpected count value: %v", values[0])
	}
	ttlSeconds, ok := toCount(values[1])
	if !ok {
		return 0, 0, fmt.Errorf("unexpected ttl value: %v", values[1])
	}

	return count, time.Duration(ttlSeconds) * time.Second, nil
}

// ipAttemptKey builds the Redis key for a client IP counter
func ipAttemptKey(ip string) string {
	return fmt.Sprintf("ratelimit:login:ip:%s", ip)
}

// accountAttemptKey builds the Redis key for an account counter.
// The email is hashed so addresses never appear in Redis.
func accountAttemptKey(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return fmt.Sprintf("ratelimit:login:acct:%s", hex.EncodeToString(sum[:]))
}

// toCount converts a Lua script return value to int64
func toCount(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	case float64:
		return int64(val), true
	case string:
		i, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

// Ensure RedisThrottleRepository implements LoginThrottleRepository
var _ LoginThrottleRepository = (*RedisThrottleRepository)(nil)
