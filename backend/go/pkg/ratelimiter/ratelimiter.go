package ratelimiter

import (
	"fmt"

	"factforge/backend/go/pkg/util"
)

// RateLimiter is the interface for rate limiting.
type RateLimiter interface {
	// Allow returns true if the request is allowed, otherwise returns false.
	Allow() bool
}

// KeyedLimiter keeps one token bucket per client key. The number of tracked
// keys is bounded; the least recently seen client is forgotten first and
// starts again with a full bucket.
type KeyedLimiter struct {
	rate     float64
	capacity int
	buckets  *util.LRUCache[string, *TokenBucket]
}

// NewKeyedLimiter creates a per-key limiter tracking at most maxKeys clients.
func NewKeyedLimiter(rate float64, capacity, maxKeys int) (*KeyedLimiter, error) {
	if rate <= 0 || capacity <= 0 {
		return nil, fmt.Errorf("ratelimiter: rate and capacity must be positive, got %v/%d", rate, capacity)
	}
	buckets, err := util.NewWithConfig(util.CacheConfig[string, *TokenBucket]{Capacity: maxKeys})
	if err != nil {
		return nil, err
	}
	return &KeyedLimiter{rate: rate, capacity: capacity, buckets: buckets}, nil
}

// Allow consumes a token from key's bucket.
func (k *KeyedLimiter) Allow(key string) bool {
	b, ok := k.buckets.Get(key)
	if !ok {
		b = NewTokenBucket(k.rate, k.capacity)
		k.buckets.Put(key, b, 1)
	}
	return b.Allow()
}

// Tracked returns how many client keys currently have a bucket.
func (k *KeyedLimiter) Tracked() int { return k.buckets.Len() }
