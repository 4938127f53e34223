package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestLimiter(policy Policy) (*Limiter, *time.Time) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLimiter(policy)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestLimiter_AllowsBurstThenRejects(t *testing.T) {
	l, _ := newTestLimiter(PerMinute(5))

	for i := 0; i < 5; i++ {
		if d := l.Allow("1.2.3.4"); !d.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	d := l.Allow("1.2.3.4")
	if d.Allowed {
		t.Fatal("request after burst should be denied")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > 12*time.Second {
		t.Fatalf("RetryAfter = %v, want (0, 12s]", d.RetryAfter)
	}
	if d.Policy.String() != "5/minute" {
		t.Fatalf("Policy = %s", d.Policy)
	}
}

func TestLimiter_Refill(t *testing.T) {
	l, now := newTestLimiter(PerMinute(60))

	for i := 0; i < 60; i++ {
		l.Allow("k")
	}
	if l.Allow("k").Allowed {
		t.Fatal("should be denied after exhausting tokens")
	}
	*now = now.Add(time.Second)
	if !l.Allow("k").Allowed {
		t.Fatal("should be allowed after one token refills")
	}
}

func TestLimiter_RejectionDoesNotConsume(t *testing.T) {
	l, now := newTestLimiter(PerMinute(1))

	l.Allow("k")
	for i := 0; i < 10; i++ {
		l.Allow("k")
	}
	*now = now.Add(time.Minute)
	if !l.Allow("k").Allowed {
		t.Fatal("rejected requests consumed future tokens")
	}
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(PerMinute(1))

	if !l.Allow(CompositeKey("/chat", "1.1.1.1")).Allowed {
		t.Fatal("first key denied")
	}
	if !l.Allow(CompositeKey("/chat", "2.2.2.2")).Allowed {
		t.Fatal("second key denied by first key's bucket")
	}
	if l.Len() != 2 {
		t.Fatalf("Len() = %d", l.Len())
	}
}

func TestLimiter_Disabled(t *testing.T) {
	l := NewLimiter(Policy{})
	for i := 0; i < 100; i++ {
		if !l.Allow("k").Allowed {
			t.Fatal("disabled limiter rejected a request")
		}
	}
	if l.Len() != 0 {
		t.Fatal("disabled limiter tracked keys")
	}
}

func TestLimiter_Prune(t *testing.T) {
	l, now := newTestLimiter(PerMinute(10))
	l.Allow("old")
	*now = now.Add(30 * time.Second)
	l.Allow("recent")
	*now = now.Add(40 * time.Second)

	if removed := l.Prune(); removed != 1 {
		t.Fatalf("Prune() = %d, want 1", removed)
	}
	if l.Len() != 1 {
		t.Fatalf("Len() = %d after prune", l.Len())
	}

	l.Reset("recent")
	if l.Len() != 0 {
		t.Fatal("Reset did not remove key")
	}
}

func TestLimiter_PrunesAtCapacity(t *testing.T) {
	l, now := newTestLimiter(PerMinute(10))
	l.maxKeys = 3
	for i := 0; i < 3; i++ {
		l.Allow(fmt.Sprintf("k%d", i))
	}
	*now = now.Add(2 * time.Minute)
	l.Allow("new")
	if l.Len() != 1 {
		t.Fatalf("Len() = %d, want idle keys pruned", l.Len())
	}
}

func TestLimiter_Concurrent(t *testing.T) {
	l := NewLimiter(PerMinute(50))
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("shared").Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if allowed < 50 || allowed > 51 {
		t.Fatalf("allowed = %d, want about 50", allowed)
	}
}
