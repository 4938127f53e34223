// Package ratelimit provides per-client request rate limiting for the HTTP API.
package ratelimit

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Policy is a per-minute request allowance.
type Policy struct {
	// PerMinute is the sustained number of requests allowed per minute.
	PerMinute int `yaml:"per_minute" json:"per_minute"`
	// Burst is the number of requests allowed back to back. Zero means PerMinute.
	Burst int `yaml:"burst,omitempty" json:"burst,omitempty"`
}

// PerMinute returns a policy allowing n requests per minute.
func PerMinute(n int) Policy {
	return Policy{PerMinute: n}
}

// String renders the policy as "N/minute".
func (p Policy) String() string {
	return fmt.Sprintf("%d/minute", p.PerMinute)
}

// Enabled reports whether the policy limits anything.
func (p Policy) Enabled() bool {
	return p.PerMinute > 0
}

func (p Policy) burst() int {
	if p.Burst > 0 {
		return p.Burst
	}
	return p.PerMinute
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed bool
	// RetryAfter is how long until the request would be allowed.
	RetryAfter time.Duration
	Policy     Policy
}

const defaultMaxKeys = 10000

// Limiter manages token buckets for many keys (client addresses) under one
// policy.
//
// Thread Safety:
// Limiter is safe for concurrent use.
type Limiter struct {
	policy  Policy
	maxKeys int
	now     func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiter creates a limiter for policy. A disabled policy allows everything.
func NewLimiter(policy Policy) *Limiter {
	return &Limiter{
		policy:  policy,
		maxKeys: defaultMaxKeys,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// Policy returns the limiter's policy.
func (l *Limiter) Policy() Policy {
	return l.policy
}

// Allow consumes a token for key if one is available.
func (l *Limiter) Allow(key string) Decision {
	if !l.policy.Enabled() {
		return Decision{Allowed: true, Policy: l.policy}
	}

	now := l.now()
	b := l.getBucket(key, now)

	reservation := b.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return Decision{RetryAfter: time.Minute, Policy: l.policy}
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return Decision{RetryAfter: delay, Policy: l.policy}
	}
	return Decision{Allowed: true, Policy: l.policy}
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Prune drops buckets idle long enough to have refilled completely.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.prune(l.now())
}

// Reset forgets key's bucket.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

func (l *Limiter) getBucket(key string, now time.Time) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[key]; ok {
		b.lastSeen = now
		return b
	}
	if len(l.buckets) >= l.maxKeys {
		l.prune(now)
	}
	b := &bucket{
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.policy.PerMinute)), l.policy.burst()),
		lastSeen: now,
	}
	l.buckets[key] = b
	return b
}

// prune must be called with l.mu held.
func (l *Limiter) prune(now time.Time) int {
	refill := time.Duration(l.policy.burst()) * time.Minute / time.Duration(max(l.policy.PerMinute, 1))
	removed := 0
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) >= refill {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// CompositeKey creates a rate limit key from multiple parts.
func CompositeKey(parts ...string) string {
	return strings.Join(parts, ":")
}
