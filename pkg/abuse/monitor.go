// Package abuse aggregates per-identity abuse signals (rate denials, high
// risk verdicts) into brute-force suspicion, and manages time-bounded bans.
package abuse

import (
	"sync"
	"time"
)

// EventKind classifies one recorded abuse signal.
type EventKind string

const (
	EventRateDenied    EventKind = "rate_denied"
	EventHighRisk      EventKind = "high_risk_message"
	EventAttackAttempt EventKind = "attack_attempt"
)

const (
	// defaultDetectionWindow is the trailing window events are retained for.
	defaultDetectionWindow = 10 * time.Minute
	// defaultBruteForceThreshold is the rate_denied count inside the window
	// that raises brute-force suspicion.
	defaultBruteForceThreshold = 5
	// maxEventsPerKind bounds each sequence even under sustained bursts.
	maxEventsPerKind = 256
)

// Monitor keeps a bounded, time-pruned event log per identity per kind.
// It is advisory: it never denies requests itself, callers use it to decide
// escalation.
type Monitor struct {
	mu     sync.Mutex
	events map[string]map[EventKind][]time.Time

	window    time.Duration
	threshold int

	// injectable clock for tests
	now func() time.Time
}

// MonitorOption is a functional option for configuring a Monitor.
type MonitorOption func(*Monitor)

// WithDetectionWindow overrides the trailing retention window.
func WithDetectionWindow(d time.Duration) MonitorOption {
	return func(m *Monitor) { m.window = d }
}

// WithBruteForceThreshold overrides the rate_denied suspicion threshold.
func WithBruteForceThreshold(n int) MonitorOption {
	return func(m *Monitor) { m.threshold = n }
}

// NewMonitor creates an abuse monitor with the default 10 minute window and
// a threshold of 5 denials.
func NewMonitor(opts ...MonitorOption) *Monitor {
	m := &Monitor{
		events:    make(map[string]map[EventKind][]time.Time),
		window:    defaultDetectionWindow,
		threshold: defaultBruteForceThreshold,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Record appends an event for the identity and prunes entries older than the
// detection window. Pruning on every write keeps growth bounded without a
// dedicated timer.
func (m *Monitor) Record(identity string, kind EventKind) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	byKind, ok := m.events[identity]
	if !ok {
		byKind = make(map[EventKind][]time.Time)
		m.events[identity] = byKind
	}

	seq := prune(byKind[kind], now.Add(-m.window))
	seq = append(seq, now)
	if len(seq) > maxEventsPerKind {
		seq = seq[len(seq)-maxEventsPerKind:]
	}
	byKind[kind] = seq
}

// Count returns how many events of the kind fall inside the trailing window.
func (m *Monitor) Count(identity string, kind EventKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	byKind, ok := m.events[identity]
	if !ok {
		return 0
	}
	cutoff := m.now().Add(-m.window)
	byKind[kind] = prune(byKind[kind], cutoff)
	return len(byKind[kind])
}

// BruteForceSuspected reports whether the density of rate denials for the
// identity exceeds the threshold inside the detection window.
func (m *Monitor) BruteForceSuspected(identity string) bool {
	return m.Count(identity, EventRateDenied) > m.threshold
}

// HighRiskSuspected reports whether the density of high-risk verdicts for the
// identity exceeds the threshold inside the detection window.
func (m *Monitor) HighRiskSuspected(identity string) bool {
	return m.Count(identity, EventHighRisk) > m.threshold
}

// Sweep drops identities whose every sequence is empty after pruning and
// returns how many were removed.
func (m *Monitor) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.window)
	removed := 0
	for identity, byKind := range m.events {
		live := false
		for kind, seq := range byKind {
			seq = prune(seq, cutoff)
			byKind[kind] = seq
			if len(seq) > 0 {
				live = true
			}
		}
		if !live {
			delete(m.events, identity)
			removed++
		}
	}
	return removed
}

// prune drops timestamps at or before the cutoff, preserving order.
func prune(seq []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(seq) && !seq[idx].After(cutoff) {
		idx++
	}
	if idx == 0 {
		return seq
	}
	return append(seq[:0], seq[idx:]...)
}
