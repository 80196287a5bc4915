package rocksdb

// rate_limiter.go implements the token-bucket limiter for background I/O.
//
// Reference: RocksDB v10.7.5 util/rate_limiter.cc

import (
	"sync"
	"time"
)

// RateLimiter bounds the byte rate of background writes.
type RateLimiter struct {
	mu             sync.Mutex
	bytesPerSecond int64
	available      int64
	lastRefill     time.Time
}

// NewRateLimiter returns a limiter allowing bytesPerSecond of background I/O.
func NewRateLimiter(bytesPerSecond int64) *RateLimiter {
	return &RateLimiter{
		bytesPerSecond: bytesPerSecond,
		available:      bytesPerSecond,
		lastRefill:     time.Now(),
	}
}

// BytesPerSecond returns the configured rate.
func (r *RateLimiter) BytesPerSecond() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bytesPerSecond
}

// Request blocks until n bytes of budget are available. A request larger
// than the per-second budget is granted once the bucket is full.
func (r *RateLimiter) Request(n int64) {
	for {
		r.mu.Lock()
		now := time.Now()
		refill := int64(now.Sub(r.lastRefill).Seconds() * float64(r.bytesPerSecond))
		if refill > 0 {
			r.available = min(r.available+refill, r.bytesPerSecond)
			r.lastRefill = now
		}
		if r.available >= n || r.available == r.bytesPerSecond {
			r.available -= n
			r.mu.Unlock()
			return
		}
		wait := time.Duration(float64(n-r.available)/float64(r.bytesPerSecond)*float64(time.Second)) + time.Millisecond
		r.mu.Unlock()
		time.Sleep(wait)
	}
}
