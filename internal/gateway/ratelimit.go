package gateway

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Rate limit defaults: a per-IP budget over a sliding window.
const (
	DefaultRateLimit      = 500
	DefaultRateWindow     = 15 * time.Minute
	rateCleanupInterval   = 5 * time.Minute
	rateBucketStaleFactor = 2
)

// RateLimiter enforces a per-client-IP request budget using refilling
// token buckets. A bucket refills its full budget over one window.
type RateLimiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	buckets map[string]*tokenBucket
	done    chan struct{}
}

type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
}

// NewRateLimiter starts the limiter and its stale-bucket reaper.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	rl := &RateLimiter{
		limit:   limit,
		window:  window,
		buckets: make(map[string]*tokenBucket),
		done:    make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Allow consumes one token for ip, reporting whether the request may
// proceed and how many tokens remain.
func (rl *RateLimiter) Allow(ip string) (bool, int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b, ok := rl.buckets[ip]
	if !ok {
		b = &tokenBucket{tokens: float64(rl.limit), lastRefill: now}
		rl.buckets[ip] = b
	}

	elapsed := now.Sub(b.lastRefill)
	b.tokens += elapsed.Seconds() * float64(rl.limit) / rl.window.Seconds()
	if b.tokens > float64(rl.limit) {
		b.tokens = float64(rl.limit)
	}
	b.lastRefill = now

	if b.tokens < 1 {
		return false, 0
	}
	b.tokens--
	return true, int(b.tokens)
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rateCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			cutoff := time.Now().Add(-rateBucketStaleFactor * rl.window)
			for ip, b := range rl.buckets {
				if b.lastRefill.Before(cutoff) {
					delete(rl.buckets, ip)
				}
			}
			rl.mu.Unlock()
		case <-rl.done:
			return
		}
	}
}

// Close stops the reaper goroutine.
func (rl *RateLimiter) Close() {
	close(rl.done)
}

// clientIP prefers X-Forwarded-For (first hop) and X-Real-IP over the
// socket address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
