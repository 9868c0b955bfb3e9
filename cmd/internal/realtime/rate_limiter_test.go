package realtime

import (
	"testing"
	"time"
)

func TestRateLimiter_WindowBehavior(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(3, time.Second)
	now := time.Now()

	for i := 0; i < 3; i++ {
		if !rl.Allow(now) {
			t.Fatalf("event %d should be allowed", i)
		}
	}
	if rl.Allow(now) {
		t.Fatalf("4th event inside window must be denied")
	}

	// The window slides: once old events expire, capacity returns.
	if !rl.Allow(now.Add(1100 * time.Millisecond)) {
		t.Fatalf("event after window must be allowed")
	}
}

func TestRateLimiter_DefaultsOnInvalidInput(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(0, 0)
	if !rl.Allow(time.Now()) {
		t.Fatalf("defaulted limiter must allow initial events")
	}
}
