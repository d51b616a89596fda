// Package ratelimit limits how often a user may call expensive endpoints.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// DefaultGenerationsPerHour bounds AI generations per user.
const DefaultGenerationsPerHour = 20

// Limiter decides whether a request keyed by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// bucket is a token bucket refilled at a fixed rate.
type bucket struct {
	lastRefill time.Time
	lastUsed   time.Time
	tokens     int
}

// TokenBucket is an in-memory per-key token bucket limiter.
type TokenBucket struct {
	now        func() time.Time
	buckets    map[string]*bucket
	maxTokens  int
	refillRate time.Duration
	mu         sync.Mutex
}

// NewTokenBucket allows maxRequests per key per duration, refilled evenly.
func NewTokenBucket(maxRequests int, perDuration time.Duration) *TokenBucket {
	if maxRequests <= 0 {
		maxRequests = 1
	}
	return &TokenBucket{
		now:        time.Now,
		buckets:    make(map[string]*bucket),
		maxTokens:  maxRequests,
		refillRate: perDuration / time.Duration(maxRequests),
	}
}

// Allow consumes a token for key if one is available.
func (tb *TokenBucket) Allow(_ context.Context, key string) (bool, error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	b, ok := tb.buckets[key]
	if !ok {
		b = &bucket{tokens: tb.maxTokens, lastRefill: now}
		tb.buckets[key] = b
	}
	b.lastUsed = now

	// Refill tokens based on time elapsed; keep the remainder toward the next token.
	if tb.refillRate > 0 {
		if add := int(now.Sub(b.lastRefill) / tb.refillRate); add > 0 {
			b.tokens = min(b.tokens+add, tb.maxTokens)
			b.lastRefill = b.lastRefill.Add(time.Duration(add) * tb.refillRate)
		}
	}

	if b.tokens > 0 {
		b.tokens--
		return true, nil
	}
	return false, nil
}

// Prune drops buckets unused for longer than idle and returns how many were dropped.
func (tb *TokenBucket) Prune(idle time.Duration) int {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	cutoff := tb.now().Add(-idle)
	dropped := 0
	for k, b := range tb.buckets {
		if b.lastUsed.Before(cutoff) {
			delete(tb.buckets, k)
			dropped++
		}
	}
	return dropped
}
