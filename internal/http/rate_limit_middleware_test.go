package httpx

import (
	"testing"
	"time"
)

func TestMemoryRateLimiterEnforcesWindow(t *testing.T) {
	rl := NewMemoryRateLimiter()
	defer rl.Close()

	window := 100 * time.Millisecond
	for i := 0; i < 3; i++ {
		if decision := rl.Allow("key", 3, window); !decision.allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if decision := rl.Allow("key", 3, window); decision.allowed {
		t.Fatalf("expected fourth request within the window to be rejected")
	}
	time.Sleep(window + 20*time.Millisecond)
	if decision := rl.Allow("key", 3, window); !decision.allowed {
		t.Fatalf("expected a fresh window after expiry")
	}
}

func TestMemoryRateLimiterKeysAreIndependent(t *testing.T) {
	rl := NewMemoryRateLimiter()
	defer rl.Close()

	if decision := rl.Allow("a", 1, time.Minute); !decision.allowed {
		t.Fatalf("first request for key a should be allowed")
	}
	if decision := rl.Allow("a", 1, time.Minute); decision.allowed {
		t.Fatalf("second request for key a should be rejected")
	}
	if decision := rl.Allow("b", 1, time.Minute); !decision.allowed {
		t.Fatalf("key b should have its own window")
	}
}

func TestMemoryRateLimiterZeroLimitDisables(t *testing.T) {
	rl := NewMemoryRateLimiter()
	defer rl.Close()

	for i := 0; i < 50; i++ {
		if decision := rl.Allow("key", 0, time.Minute); !decision.allowed {
			t.Fatalf("zero limit must never reject")
		}
	}
}
