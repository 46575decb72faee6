package gateway

import (
	"sync"
	"time"
)

// bucket is a single per-IP token bucket.
type bucket struct {
	tokens       int
	lastRefill   time.Time
	capacity     int
	refillRate   int
	refillPeriod time.Duration
}

// IPRateLimiter throttles segment/playlist requests per viewer IP so a
// single misbehaving client can't starve the gateway's disk and goroutine
// budget. One bucket per IP, refilled on access rather than on a ticker.
type IPRateLimiter struct {
	buckets      map[string]*bucket
	mu           sync.Mutex
	capacity     int
	refillRate   int
	refillPeriod time.Duration
}

// NewIPRateLimiter creates a limiter allowing capacity requests per IP,
// refilling refillRate tokens every refillPeriod.
func NewIPRateLimiter(capacity, refillRate int, refillPeriod time.Duration) *IPRateLimiter {
	return &IPRateLimiter{
		buckets:      make(map[string]*bucket),
		capacity:     capacity,
		refillRate:   refillRate,
		refillPeriod: refillPeriod,
	}
}

// Allow reports whether ip may make another request right now, consuming a
// token if so.
func (rl *IPRateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, exists := rl.buckets[ip]
	if !exists {
		b = &bucket{tokens: rl.capacity, lastRefill: time.Now(), capacity: rl.capacity, refillRate: rl.refillRate, refillPeriod: rl.refillPeriod}
		rl.buckets[ip] = b
	}

	now := time.Now()
	if elapsed := now.Sub(b.lastRefill); elapsed >= b.refillPeriod {
		periods := int(elapsed / b.refillPeriod)
		b.tokens = minInt(b.capacity, b.tokens+periods*b.refillRate)
		b.lastRefill = now
	}

	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// CleanupStale drops buckets untouched for longer than maxAge, bounding
// memory for a gateway that sees a long tail of one-off viewer IPs.
func (rl *IPRateLimiter) CleanupStale(maxAge time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for ip, b := range rl.buckets {
		if now.Sub(b.lastRefill) > maxAge {
			delete(rl.buckets, ip)
		}
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
