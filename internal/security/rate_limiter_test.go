package security

import (
	"sync"
	"testing"
	"time"

	"chatveil/internal/config"
)

func limiterConfig(enabled bool, perMin, burst int) *config.SecurityConfig {
	cfg := &config.SecurityConfig{}
	cfg.RateLimit.Enabled = enabled
	cfg.RateLimit.RequestsPerMin = perMin
	cfg.RateLimit.Burst = burst
	return cfg
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(limiterConfig(false, 1, 1))

	for i := 0; i < 100; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatal("disabled limiter rejected a request")
		}
	}
}

func TestRateLimiterBurstExhaustion(t *testing.T) {
	// 60/min refills one token per second; burst of 3 is exhausted fast.
	rl := NewRateLimiter(limiterConfig(true, 60, 3))

	allowed := 0
	for i := 0; i < 10; i++ {
		if rl.Allow("10.0.0.1") {
			allowed++
		}
	}

	if allowed < 3 || allowed > 4 {
		t.Errorf("expected roughly the burst size to pass, got %d", allowed)
	}
}

func TestRateLimiterPerClientIsolation(t *testing.T) {
	rl := NewRateLimiter(limiterConfig(true, 60, 1))

	if !rl.Allow("10.0.0.1") {
		t.Fatal("first request from first client rejected")
	}
	if !rl.Allow("10.0.0.2") {
		t.Error("first request from second client rejected")
	}
	if rl.ActiveClients() != 2 {
		t.Errorf("ActiveClients = %d, want 2", rl.ActiveClients())
	}
}

func TestRateLimiterConcurrentAccess(t *testing.T) {
	// Hammer one IP from several goroutines while cleanup runs; the race
	// detector flags any unsynchronized lastSeen access.
	rl := NewRateLimiter(limiterConfig(true, 600, 10))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				rl.Allow("10.0.0.1")
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 100; j++ {
			rl.CleanupOldLimiters(0)
		}
	}()
	wg.Wait()
}

func TestCleanupOldLimiters(t *testing.T) {
	rl := NewRateLimiter(limiterConfig(true, 600, 10))

	rl.Allow("10.0.0.1")
	rl.Allow("10.0.0.2")

	// Nothing is old enough yet.
	if removed := rl.CleanupOldLimiters(time.Minute); removed != 0 {
		t.Errorf("removed %d fresh limiters", removed)
	}

	// With a zero max age everything is stale.
	time.Sleep(5 * time.Millisecond)
	if removed := rl.CleanupOldLimiters(0); removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if rl.ActiveClients() != 0 {
		t.Errorf("ActiveClients = %d after cleanup", rl.ActiveClients())
	}
}
