package abuse

import (
	"sync"
	"time"
)

// Severity tiers are derived from remaining duration at query time and are
// purely presentational; enforcement is binary (banned or not).
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

// Standard ban durations used by the conversation layer. Short applies when
// the assistant's closing reply matches a known closure phrase; long applies
// to any other forced closure.
const (
	ShortBanDuration = 2 * time.Hour
	LongBanDuration  = 24 * time.Hour
)

// BanRecord is a time-bounded block on an identity. Active strictly while
// now < ExpiresAt; time is the only path to expiry.
type BanRecord struct {
	Identity  string    `json:"identity"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Active reports whether the ban is in force at the given instant.
func (b BanRecord) Active(now time.Time) bool {
	return now.Before(b.ExpiresAt)
}

// Severity classifies the ban by remaining duration: under 4h reads as a
// warning, over 12h as severe, anything between as moderate.
func (b BanRecord) Severity(now time.Time) Severity {
	remaining := b.ExpiresAt.Sub(now)
	switch {
	case remaining < 4*time.Hour:
		return SeverityWarning
	case remaining > 12*time.Hour:
		return SeveritySevere
	default:
		return SeverityModerate
	}
}

// BanManager owns the identity-keyed ban map. Consulted read-only on every
// request; expired records become inert on their own and are evicted by
// Sweep for memory hygiene.
type BanManager struct {
	mu   sync.RWMutex
	bans map[string]BanRecord

	// injectable clock for tests
	now func() time.Time
}

// NewBanManager creates an empty ban manager.
func NewBanManager() *BanManager {
	return &BanManager{
		bans: make(map[string]BanRecord),
		now:  time.Now,
	}
}

// Create registers a ban for the identity. A non-positive duration is
// clamped to one second so ExpiresAt > CreatedAt always holds. Re-banning an
// identity replaces the record only if the new ban outlasts the current one.
func (bm *BanManager) Create(identity, reason string, duration time.Duration) BanRecord {
	if duration <= 0 {
		duration = time.Second
	}

	bm.mu.Lock()
	defer bm.mu.Unlock()

	now := bm.now()
	record := BanRecord{
		Identity:  identity,
		Reason:    reason,
		CreatedAt: now,
		ExpiresAt: now.Add(duration),
	}

	if existing, ok := bm.bans[identity]; ok && existing.ExpiresAt.After(record.ExpiresAt) {
		return existing
	}
	bm.bans[identity] = record
	return record
}

// IsBanned reports whether the identity has an active ban.
func (bm *BanManager) IsBanned(identity string) bool {
	bm.mu.RLock()
	defer bm.mu.RUnlock()

	record, ok := bm.bans[identity]
	return ok && record.Active(bm.now())
}

// Get returns the active ban for the identity, if any.
func (bm *BanManager) Get(identity string) (BanRecord, bool) {
	bm.mu.RLock()
	defer bm.mu.RUnlock()

	record, ok := bm.bans[identity]
	if !ok || !record.Active(bm.now()) {
		return BanRecord{}, false
	}
	return record, true
}

// Remaining returns how long the identity stays banned; zero when not banned.
func (bm *BanManager) Remaining(identity string) time.Duration {
	record, ok := bm.Get(identity)
	if !ok {
		return 0
	}
	return record.ExpiresAt.Sub(bm.now())
}

// Sweep evicts expired records and returns how many were removed.
func (bm *BanManager) Sweep() int {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	now := bm.now()
	removed := 0
	for identity, record := range bm.bans {
		if !record.Active(now) {
			delete(bm.bans, identity)
			removed++
		}
	}
	return removed
}

// ActiveCount returns the number of live bans for monitoring.
func (bm *BanManager) ActiveCount() int {
	bm.mu.RLock()
	defer bm.mu.RUnlock()

	now := bm.now()
	n := 0
	for _, record := range bm.bans {
		if record.Active(now) {
			n++
		}
	}
	return n
}
