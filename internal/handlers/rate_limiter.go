package handlers

import (
	"strings"
	"sync"
	"time"
)

// rateLimiter gates repeated submissions from the same caller.
type rateLimiter interface {
	Allow(key string) bool
}

// windowLimiter counts hits per key inside a fixed window. Counters are
// kept in memory, which is enough for a single API replica; a shared
// store would be needed before scaling out.
type windowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	buckets map[string]windowBucket
}

type windowBucket struct {
	hits      int
	expiresAt time.Time
}

func newSimpleRateLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &windowLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		buckets: make(map[string]windowBucket),
	}
}

func (l *windowLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	if key = strings.TrimSpace(key); key == "" {
		key = "anonymous"
	}

	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	bucket, ok := l.buckets[key]
	if !ok || now.After(bucket.expiresAt) {
		l.dropStaleLocked(now)
		l.buckets[key] = windowBucket{hits: 1, expiresAt: now.Add(l.window)}
		return true
	}
	if bucket.hits >= l.limit {
		return false
	}
	bucket.hits++
	l.buckets[key] = bucket
	return true
}

// dropStaleLocked evicts buckets whose window already passed so the map
// does not grow with one entry per user forever.
func (l *windowLimiter) dropStaleLocked(now time.Time) {
	for key, bucket := range l.buckets {
		if now.After(bucket.expiresAt) {
			delete(l.buckets, key)
		}
	}
}
