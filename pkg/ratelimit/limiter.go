// Package ratelimit provides per-key request limiting for the HTTP services.
// The Redis limiter coordinates across instances; the local limiter is the
// single-instance fallback when Redis is not configured.
package ratelimit

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter answers whether one more request for key is allowed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisLimiter is a distributed token bucket. The bucket state lives in a
// Redis hash updated by a Lua script so refill and spend are atomic across
// instances.
type RedisLimiter struct {
	rdb      *redis.Client
	capacity int64
	refill   int64
	interval time.Duration
	prefix   string
}

// NewRedisLimiter builds a limiter with capacity tokens, refilled by refill
// tokens every interval.
func NewRedisLimiter(rdb *redis.Client, capacity, refill int64, interval time.Duration, prefix string) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, capacity: capacity, refill: refill, interval: interval, prefix: prefix}
}

var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local interval = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'last_refill')
local tokens = tonumber(state[1]) or capacity
local last = tonumber(state[2]) or now

local elapsed = now - last
if elapsed >= interval then
	local intervals = math.floor(elapsed / interval)
	tokens = math.min(capacity, tokens + intervals * refill)
	last = now
end

local allowed = 0
if tokens >= 1 then
	tokens = tokens - 1
	allowed = 1
end

redis.call('HMSET', key, 'tokens', tokens, 'last_refill', last)
redis.call('EXPIRE', key, interval * 2)
return allowed
`)

// Allow spends one token for key.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	res, err := tokenBucketScript.Run(ctx, l.rdb, []string{l.prefix + ":" + key},
		l.capacity, l.refill, int64(l.interval.Seconds()), time.Now().Unix()).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// LocalLimiter is an in-process fixed-window counter per key.
type LocalLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	buckets map[string]*window
}

type window struct {
	start time.Time
	count int
}

// NewLocalLimiter allows limit requests per key per window.
func NewLocalLimiter(limit int, windowSize time.Duration) *LocalLimiter {
	return &LocalLimiter{
		limit:   limit,
		window:  windowSize,
		now:     time.Now,
		buckets: make(map[string]*window),
	}
}

// Allow counts one request for key within the current window.
func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	w, ok := l.buckets[key]
	if !ok || now.Sub(w.start) >= l.window {
		l.buckets[key] = &window{start: now, count: 1}
		return true, nil
	}
	if w.count >= l.limit {
		return false, nil
	}
	w.count++
	return true, nil
}

// Middleware limits next by client IP. Limiter errors fail open: losing
// Redis must not take authentication down with it.
func Middleware(l Limiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		allowed, err := l.Allow(r.Context(), clientIP(r))
		if err == nil && !allowed {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
