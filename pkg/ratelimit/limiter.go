// Package ratelimit implements fixed-window request limiting per client
// identity, with a hard block override once a window's budget is exhausted.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Well-known policy names. Each policy keeps independent counters so
// exhausting one cannot starve another.
const (
	PolicyRequest     = "request"     // generic HTTP requests
	PolicyChat        = "chat"        // chat-message submission
	PolicyMaintenance = "maintenance" // low-frequency maintenance/debug endpoints
)

// Policy describes one named rate window.
type Policy struct {
	Window        time.Duration
	MaxRequests   int
	BlockDuration time.Duration
}

func (p Policy) validate(name string) error {
	if p.Window <= 0 {
		return fmt.Errorf("policy %s: window must be positive", name)
	}
	if p.MaxRequests <= 0 {
		return fmt.Errorf("policy %s: max_requests must be positive", name)
	}
	if p.BlockDuration <= 0 {
		return fmt.Errorf("policy %s: block_duration must be positive", name)
	}
	return nil
}

// DefaultPolicies returns the policy set the funnel ships with.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		PolicyRequest:     {Window: time.Minute, MaxRequests: 100, BlockDuration: 5 * time.Minute},
		PolicyChat:        {Window: time.Minute, MaxRequests: 30, BlockDuration: 2 * time.Minute},
		PolicyMaintenance: {Window: time.Minute, MaxRequests: 5, BlockDuration: 10 * time.Minute},
	}
}

// Decision is the outcome of one Check call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// counter tracks one (identity, policy) pair.
type counter struct {
	windowStart time.Time
	count       int
	blockUntil  time.Time
	lastSeen    time.Time
}

// Limiter tracks request counts per client identity across fixed time
// windows. Counters are created lazily on first request and evicted by Sweep
// after a long idle period.
type Limiter struct {
	mu       sync.Mutex
	policies map[string]Policy
	counters map[string]*counter

	// injectable clock for tests
	now func() time.Time
}

// New creates a Limiter with the given named policies. A malformed policy is
// a programming error and panics at construction.
func New(policies map[string]Policy) *Limiter {
	if len(policies) == 0 {
		policies = DefaultPolicies()
	}
	for name, p := range policies {
		if err := p.validate(name); err != nil {
			panic(err)
		}
	}
	return &Limiter{
		policies: policies,
		counters: make(map[string]*counter),
		now:      time.Now,
	}
}

// Policy returns the named policy. Unknown names panic: policy names are
// compile-time constants, not user input.
func (l *Limiter) Policy(name string) Policy {
	p, ok := l.policies[name]
	if !ok {
		panic(fmt.Sprintf("ratelimit: unknown policy %q", name))
	}
	return p
}

// Check records one request from identity under the named policy and decides
// whether it is allowed. Once the budget is exceeded a block is set and every
// call is denied with a retry-after hint until it passes, regardless of the
// window state.
func (l *Limiter) Check(identity, policyName string) Decision {
	policy := l.Policy(policyName)

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := identity + "|" + policyName

	c, ok := l.counters[key]
	if !ok {
		c = &counter{windowStart: now}
		l.counters[key] = c
	}
	c.lastSeen = now

	// A block is a hard override of the window state.
	if now.Before(c.blockUntil) {
		return Decision{Allowed: false, Remaining: 0, RetryAfter: c.blockUntil.Sub(now)}
	}

	// A lapsed block earns a fresh window even when the block was shorter
	// than the window itself.
	if !c.blockUntil.IsZero() {
		c.blockUntil = time.Time{}
		c.windowStart = now
		c.count = 0
	}

	if now.Sub(c.windowStart) >= policy.Window {
		c.windowStart = now
		c.count = 0
	}

	c.count++
	if c.count > policy.MaxRequests {
		c.blockUntil = now.Add(policy.BlockDuration)
		return Decision{Allowed: false, Remaining: 0, RetryAfter: policy.BlockDuration}
	}

	return Decision{Allowed: true, Remaining: policy.MaxRequests - c.count}
}

// Sweep evicts counters idle for longer than maxIdle and returns how many
// were removed. Run from the maintenance ticker, not per request.
func (l *Limiter) Sweep(maxIdle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, c := range l.counters {
		if now.Sub(c.lastSeen) > maxIdle && !now.Before(c.blockUntil) {
			delete(l.counters, key)
			removed++
		}
	}
	return removed
}

// Stats reports the live counter count for monitoring.
type Stats struct {
	Counters int `json:"counters"`
	Policies int `json:"policies"`
}

// Stats returns current limiter statistics.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{Counters: len(l.counters), Policies: len(l.policies)}
}
