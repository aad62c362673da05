package security

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"chatveil/internal/config"
)

// RateLimiter enforces a per-client-IP request rate on the API.
type RateLimiter struct {
	config   *config.SecurityConfig
	limiters map[string]*clientLimiter
	mu       sync.RWMutex
}

type clientLimiter struct {
	limiter *rate.Limiter
	// lastSeen holds UnixNano and is atomic: the Allow fast path updates it
	// under the map's read lock, concurrently with other requests for the
	// same IP and with CleanupOldLimiters.
	lastSeen atomic.Int64
}

func (cl *clientLimiter) touch() {
	cl.lastSeen.Store(time.Now().UnixNano())
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg *config.SecurityConfig) *RateLimiter {
	return &RateLimiter{
		config:   cfg,
		limiters: make(map[string]*clientLimiter),
	}
}

// Allow checks if a request from the given client IP is allowed
func (r *RateLimiter) Allow(clientIP string) bool {
	if !r.config.RateLimit.Enabled {
		return true
	}

	return r.getLimiter(clientIP).Allow()
}

// getLimiter gets or creates a limiter for a client IP
func (r *RateLimiter) getLimiter(clientIP string) *rate.Limiter {
	r.mu.RLock()
	cl, exists := r.limiters[clientIP]
	r.mu.RUnlock()

	if exists {
		cl.touch()
		return cl.limiter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if cl, exists := r.limiters[clientIP]; exists {
		cl.touch()
		return cl.limiter
	}

	perSecond := rate.Limit(float64(r.config.RateLimit.RequestsPerMin) / 60.0)
	burst := r.config.RateLimit.Burst
	if burst <= 0 {
		burst = 1
	}

	cl = &clientLimiter{
		limiter: rate.NewLimiter(perSecond, burst),
	}
	cl.touch()
	r.limiters[clientIP] = cl
	return cl.limiter
}

// CleanupOldLimiters removes limiters idle longer than maxAge to prevent
// the per-IP map from growing without bound.
func (r *RateLimiter) CleanupOldLimiters(maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	cutoff := time.Now().Add(-maxAge).UnixNano()
	for ip, cl := range r.limiters {
		if cl.lastSeen.Load() < cutoff {
			delete(r.limiters, ip)
			removed++
		}
	}
	return removed
}

// ActiveClients returns how many client IPs currently hold a limiter.
func (r *RateLimiter) ActiveClients() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.limiters)
}
