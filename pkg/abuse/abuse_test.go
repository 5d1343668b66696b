package abuse

import (
	"fmt"
	"testing"
	"time"
)

func mockClock(start time.Time) (func() time.Time, func(time.Duration)) {
	current := start
	return func() time.Time { return current }, func(d time.Duration) { current = current.Add(d) }
}

func TestBruteForceThreshold(t *testing.T) {
	m := NewMonitor()

	for i := 0; i < 5; i++ {
		m.Record("attacker", EventRateDenied)
		if m.BruteForceSuspected("attacker") {
			t.Fatalf("suspicion raised after only %d events, threshold is 5", i+1)
		}
	}

	m.Record("attacker", EventRateDenied)
	if !m.BruteForceSuspected("attacker") {
		t.Error("6 denials inside the window should raise suspicion")
	}
	if m.BruteForceSuspected("bystander") {
		t.Error("an identity with no events must not be suspected")
	}
}

func TestEventKindsAreIndependent(t *testing.T) {
	m := NewMonitor()

	for i := 0; i < 10; i++ {
		m.Record("probe", EventHighRisk)
	}

	if m.BruteForceSuspected("probe") {
		t.Error("high-risk events must not count toward rate-denial suspicion")
	}
	if !m.HighRiskSuspected("probe") {
		t.Error("10 high-risk events inside the window should raise suspicion")
	}
	if got := m.Count("probe", EventHighRisk); got != 10 {
		t.Errorf("Count = %d, want 10", got)
	}
}

func TestHighRiskThreshold(t *testing.T) {
	m := NewMonitor()

	for i := 0; i < 5; i++ {
		m.Record("attacker", EventHighRisk)
		if m.HighRiskSuspected("attacker") {
			t.Fatalf("suspicion raised after only %d events, threshold is 5", i+1)
		}
	}

	m.Record("attacker", EventHighRisk)
	if !m.HighRiskSuspected("attacker") {
		t.Error("6 high-risk verdicts inside the window should raise suspicion")
	}
	if m.HighRiskSuspected("bystander") {
		t.Error("an identity with no events must not be suspected")
	}
}

func TestEventsExpireFromWindow(t *testing.T) {
	m := NewMonitor()
	now, advance := mockClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	m.now = now

	for i := 0; i < 8; i++ {
		m.Record("slow", EventRateDenied)
	}
	if !m.BruteForceSuspected("slow") {
		t.Fatal("expected suspicion inside the window")
	}

	advance(11 * time.Minute)
	if m.BruteForceSuspected("slow") {
		t.Error("events past the detection window must stop counting")
	}
	if got := m.Count("slow", EventRateDenied); got != 0 {
		t.Errorf("Count = %d after window elapsed, want 0", got)
	}
}

func TestMonitorSweep(t *testing.T) {
	m := NewMonitor()
	now, advance := mockClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	m.now = now

	m.Record("old", EventRateDenied)
	advance(11 * time.Minute)
	m.Record("fresh", EventRateDenied)

	if removed := m.Sweep(); removed != 1 {
		t.Errorf("Sweep removed %d identities, want 1", removed)
	}
}

func TestMonitorBoundsEventsPerKind(t *testing.T) {
	m := NewMonitor(WithDetectionWindow(24 * time.Hour))

	for i := 0; i < maxEventsPerKind+50; i++ {
		m.Record("burst", EventRateDenied)
	}
	if got := m.Count("burst", EventRateDenied); got != maxEventsPerKind {
		t.Errorf("Count = %d, want cap %d", got, maxEventsPerKind)
	}
}

func TestBanLifecycle(t *testing.T) {
	bm := NewBanManager()
	now, advance := mockClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	bm.now = now

	rec := bm.Create("10.0.0.1", "repeated violations", ShortBanDuration)
	if !bm.IsBanned("10.0.0.1") {
		t.Fatal("identity should be banned right after Create")
	}
	if got := bm.Remaining("10.0.0.1"); got != ShortBanDuration {
		t.Errorf("Remaining = %v, want %v", got, ShortBanDuration)
	}
	if !rec.ExpiresAt.After(rec.CreatedAt) {
		t.Error("ExpiresAt must be after CreatedAt")
	}

	// Strictly time-bounded: one tick before expiry still banned, at expiry not.
	advance(ShortBanDuration - time.Nanosecond)
	if !bm.IsBanned("10.0.0.1") {
		t.Error("ban must hold until the exact expiry instant")
	}
	advance(time.Nanosecond)
	if bm.IsBanned("10.0.0.1") {
		t.Error("ban must lapse exactly at ExpiresAt")
	}
}

func TestCreateKeepsLongerBan(t *testing.T) {
	bm := NewBanManager()

	bm.Create("10.0.0.2", "forced closure", LongBanDuration)
	rec := bm.Create("10.0.0.2", "rate violations", ShortBanDuration)

	if rec.Reason != "forced closure" {
		t.Errorf("shorter re-ban replaced the longer record: %+v", rec)
	}
	if got := bm.Remaining("10.0.0.2"); got < ShortBanDuration {
		t.Errorf("Remaining = %v, longer ban should have been kept", got)
	}
}

func TestCreateClampsNonPositiveDuration(t *testing.T) {
	bm := NewBanManager()
	rec := bm.Create("10.0.0.3", "bad input", -time.Hour)
	if !rec.ExpiresAt.After(rec.CreatedAt) {
		t.Error("non-positive duration must be clamped so ExpiresAt > CreatedAt")
	}
}

func TestSeverityTiers(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	testCases := []struct {
		remaining time.Duration
		want      Severity
	}{
		{30 * time.Minute, SeverityWarning},
		{ShortBanDuration, SeverityWarning},
		{4 * time.Hour, SeverityModerate},
		{8 * time.Hour, SeverityModerate},
		{12 * time.Hour, SeverityModerate},
		{13 * time.Hour, SeveritySevere},
		{LongBanDuration, SeveritySevere},
	}

	for _, tc := range testCases {
		t.Run(fmt.Sprint(tc.remaining), func(t *testing.T) {
			rec := BanRecord{ExpiresAt: now.Add(tc.remaining)}
			if got := rec.Severity(now); got != tc.want {
				t.Errorf("Severity with %v remaining = %s, want %s", tc.remaining, got, tc.want)
			}
		})
	}
}

func TestBanSweep(t *testing.T) {
	bm := NewBanManager()
	now, advance := mockClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	bm.now = now

	bm.Create("short", "x", time.Minute)
	bm.Create("long", "y", time.Hour)
	advance(10 * time.Minute)

	if removed := bm.Sweep(); removed != 1 {
		t.Errorf("Sweep removed %d, want 1", removed)
	}
	if got := bm.ActiveCount(); got != 1 {
		t.Errorf("ActiveCount = %d, want 1", got)
	}
}
