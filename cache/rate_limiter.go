package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter reports whether a request may proceed.
type RateLimiter interface {
	Allow(ctx context.Context) (bool, error)
}

// tokenBucketScript refills a per-key bucket and consumes one token
// atomically, so concurrent instances share one budget.
const tokenBucketScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local burst = tonumber(ARGV[3])

local tokens_key = key .. ":tokens"
local timestamp_key = key .. ":ts"

local tokens = tonumber(redis.call("get", tokens_key) or burst)
local last_update = tonumber(redis.call("get", timestamp_key) or 0)

local elapsed = math.max(0, now - last_update)
local new_tokens = math.min(burst, tokens + elapsed * rate)

if new_tokens < 1 then
	return 0
end

new_tokens = new_tokens - 1

redis.call("setex", tokens_key, 2, new_tokens)
redis.call("setex", timestamp_key, 2, now)

return 1
`

// TokenBucketRateLimiter is a Redis-backed token bucket shared by every
// instance behind the same key.
type TokenBucketRateLimiter struct {
	client RedisClient
	key    string
	rate   int
	burst  int
}

func NewTokenBucketRateLimiter(client RedisClient, key string, ratePerSec, burst int) *TokenBucketRateLimiter {
	return &TokenBucketRateLimiter{
		client: client,
		key:    fmt.Sprintf("rate_limit:%s", key),
		rate:   ratePerSec,
		burst:  burst,
	}
}

func (l *TokenBucketRateLimiter) Allow(ctx context.Context) (bool, error) {
	if l.client == nil {
		return false, ErrRedisNotAvailable
	}

	now := time.Now().Unix()
	result, err := l.client.Eval(ctx, tokenBucketScript, []string{l.key}, now, l.rate, l.burst).Result()
	if err != nil {
		return false, err
	}
	return result.(int64) == 1, nil
}

// LocalRateLimiter is the in-process fallback used when Redis is down.
type LocalRateLimiter struct {
	limiter *rate.Limiter
}

func NewLocalRateLimiter(ratePerSec, burst int) *LocalRateLimiter {
	return &LocalRateLimiter{limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst)}
}

func (l *LocalRateLimiter) Allow(ctx context.Context) (bool, error) {
	return l.limiter.Allow(), nil
}

// KeyedRateLimiter hands out one limiter per key (client IP, user ID) with a
// shared factory, Redis-backed when available and local otherwise.
type KeyedRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]RateLimiter
	factory  func(key string) RateLimiter
}

// NewKeyedRateLimiter picks the backend once at construction time.
func NewKeyedRateLimiter(prefix string, ratePerSec, burst int) *KeyedRateLimiter {
	client, err := GetClient()
	factory := func(key string) RateLimiter {
		if err != nil {
			return NewLocalRateLimiter(ratePerSec, burst)
		}
		return NewTokenBucketRateLimiter(client, prefix+":"+key, ratePerSec, burst)
	}
	return &KeyedRateLimiter{
		limiters: map[string]RateLimiter{},
		factory:  factory,
	}
}

// AllowKey reports whether the request identified by key may proceed. A
// backend error fails open so a Redis outage cannot take requests down.
func (l *KeyedRateLimiter) AllowKey(ctx context.Context, key string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = l.factory(key)
		l.limiters[key] = limiter
	}
	l.mu.Unlock()

	allowed, err := limiter.Allow(ctx)
	if err != nil {
		return true
	}
	return allowed
}
