package funnel

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Saidelocha/lepitch-funnel/pkg/abuse"
	"github.com/Saidelocha/lepitch-funnel/pkg/conversation"
	"github.com/Saidelocha/lepitch-funnel/pkg/errx"
	"github.com/Saidelocha/lepitch-funnel/pkg/notify"
	"github.com/Saidelocha/lepitch-funnel/pkg/ratelimit"
	"github.com/Saidelocha/lepitch-funnel/pkg/session"
)

// captureNotifier hands delivered leads to a channel so async dispatch can
// be observed.
type captureNotifier struct {
	leads chan notify.Lead
}

func (c *captureNotifier) Notify(_ context.Context, lead notify.Lead) (notify.Delivery, error) {
	c.leads <- lead
	return notify.Delivery{DeliveryID: lead.ID, Channel: "capture"}, nil
}

func newTestService(t *testing.T, opts ...Option) (*Service, *captureNotifier) {
	t.Helper()

	capture := &captureNotifier{leads: make(chan notify.Lead, 4)}
	base := []Option{WithNotifier(capture)}

	svc := New(
		session.NewStore(),
		conversation.NewEngine(conversation.NewHeuristicInterpreter()),
		ratelimit.New(nil),
		abuse.NewMonitor(),
		abuse.NewBanManager(),
		append(base, opts...)...,
	)
	t.Cleanup(svc.Close)
	return svc, capture
}

func TestHandleMessageHappyPath(t *testing.T) {
	svc, _ := newTestService(t)

	resp, err := svc.HandleMessage(context.Background(), "10.0.0.1", "happy-session-1", "je prépare une levée de fonds pour ma startup")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	if resp.Reply == "" {
		t.Error("reply must not be empty")
	}
	if resp.State != session.StateActive {
		t.Errorf("State = %s, want %s", resp.State, session.StateActive)
	}
	if !resp.Goals.UnderstandNeed {
		t.Error("substantive first answer should achieve the need goal")
	}
	if resp.RateRemaining >= 30 {
		t.Errorf("RateRemaining = %d, the processed message must consume budget", resp.RateRemaining)
	}
}

func TestHandleMessageValidation(t *testing.T) {
	svc, _ := newTestService(t)

	testCases := []struct {
		name      string
		sessionID string
		text      string
		wantCode  errx.Code
	}{
		{"empty message", "valid-session-1", "   ", errx.CodeSubmissionInvalid},
		{"oversized message", "valid-session-1", strings.Repeat("a", 4001), errx.CodeSubmissionInvalid},
		{"bad session id", "nope", "bonjour tout le monde", errx.CodeInvalidIdentifier},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.HandleMessage(context.Background(), "10.0.0.2", tc.sessionID, tc.text)
			if errx.CodeOf(err) != tc.wantCode {
				t.Errorf("code = %s, want %s (err: %v)", errx.CodeOf(err), tc.wantCode, err)
			}
		})
	}
}

func TestHandleMessageRejectsHighRisk(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.HandleMessage(context.Background(), "10.0.0.3", "risky-session-1", `<script>document.location="http://evil"</script>`)
	if errx.CodeOf(err) != errx.CodeContentRejected {
		t.Fatalf("code = %s, want %s", errx.CodeOf(err), errx.CodeContentRejected)
	}

	// The rejected message must not have advanced the session.
	if _, err := svc.FetchSession("risky-session-1"); errx.CodeOf(err) != errx.CodeSessionNotFound {
		t.Error("a rejected message must not create the session")
	}

	if svc.monitor.Count("10.0.0.3", abuse.EventHighRisk) != 1 {
		t.Error("high verdict must record a high_risk_message event")
	}
	if svc.monitor.Count("10.0.0.3", abuse.EventAttackAttempt) != 1 {
		t.Error("script payload must also record an attack_attempt event")
	}

	// Abusive flooding is high risk but not an attack pattern.
	_, err = svc.HandleMessage(context.Background(), "10.0.0.30", "risky-session-3", "connard "+strings.Repeat("a", 40))
	if errx.CodeOf(err) != errx.CodeContentRejected {
		t.Fatalf("code = %s, want %s", errx.CodeOf(err), errx.CodeContentRejected)
	}
	if svc.monitor.Count("10.0.0.30", abuse.EventHighRisk) != 1 {
		t.Error("high verdict must record a high_risk_message event")
	}
	if svc.monitor.Count("10.0.0.30", abuse.EventAttackAttempt) != 0 {
		t.Error("flooding must not count as an attack attempt")
	}
}

func TestHandleMessageHighRiskEscalation(t *testing.T) {
	svc, _ := newTestService(t)
	identity := "10.0.0.9"
	payload := `<script>document.location="http://evil"</script>`

	for i := 0; i < 6; i++ {
		if _, err := svc.HandleMessage(context.Background(), identity, "risky-session-2", payload); errx.CodeOf(err) != errx.CodeContentRejected {
			t.Fatalf("message %d: code = %s, want content_rejected", i+1, errx.CodeOf(err))
		}
	}

	_, err := svc.HandleMessage(context.Background(), identity, "risky-session-2", "bonjour, un message normal")
	if errx.CodeOf(err) != errx.CodeBanned {
		t.Errorf("code = %s, want %s after repeated high-risk messages", errx.CodeOf(err), errx.CodeBanned)
	}
}

func TestHandleMessageRateLimitEscalation(t *testing.T) {
	svc, _ := newTestService(t)
	identity := "10.0.0.4"

	for i := 0; i < 30; i++ {
		if _, err := svc.HandleMessage(context.Background(), identity, "flood-session-1", "message normal pour remplir la fenêtre"); err != nil {
			t.Fatalf("message %d: %v", i+1, err)
		}
	}

	// Every further message is denied and feeds the abuse monitor.
	var lastCode errx.Code
	for i := 0; i < 7; i++ {
		_, err := svc.HandleMessage(context.Background(), identity, "flood-session-1", "encore")
		lastCode = errx.CodeOf(err)
	}
	if lastCode != errx.CodeRateLimited && lastCode != errx.CodeBanned {
		t.Fatalf("code = %s, want rate_limited escalating to banned", lastCode)
	}

	// Enough denials raise brute-force suspicion and a ban.
	_, err := svc.HandleMessage(context.Background(), identity, "flood-session-1", "et encore")
	if errx.CodeOf(err) != errx.CodeBanned {
		t.Errorf("code = %s, want %s after escalation", errx.CodeOf(err), errx.CodeBanned)
	}
}

func TestForcedClosureBansIdentity(t *testing.T) {
	svc, _ := newTestService(t)
	identity := "10.0.0.5"

	if _, err := svc.HandleMessage(context.Background(), identity, "abuse-session-1", "t'es un connard"); err != nil {
		t.Fatalf("first insult should still be answered: %v", err)
	}

	resp, err := svc.HandleMessage(context.Background(), identity, "abuse-session-1", "connard toi-même")
	if err != nil {
		t.Fatalf("closing turn: %v", err)
	}
	if resp.State != session.StateClosedByAbuse {
		t.Errorf("State = %s, want %s", resp.State, session.StateClosedByAbuse)
	}

	// The identity is now banned; the next message is blocked outright.
	_, err = svc.HandleMessage(context.Background(), identity, "abuse-session-1", "bonjour encore une fois")
	if errx.CodeOf(err) != errx.CodeBanned {
		t.Errorf("code = %s, want %s", errx.CodeOf(err), errx.CodeBanned)
	}
}

func TestSubmitSurveyHappyPath(t *testing.T) {
	svc, capture := newTestService(t)
	identity := "10.0.0.6"

	if _, err := svc.HandleMessage(context.Background(), identity, "survey-session-1", "je prépare une levée de fonds, c'est urgent, dans 2 semaines"); err != nil {
		t.Fatal(err)
	}

	resp, err := svc.SubmitSurvey(context.Background(), identity, "survey-session-1", Submission{
		Nom:           "Jean Martin",
		ContactMethod: "email",
		Contact:       "jean@example.com",
		Urgency:       "urgent",
		Timeline:      "immédiat",
		Commitment:    "6h",
	})
	if err != nil {
		t.Fatalf("SubmitSurvey: %v", err)
	}

	if resp.State != session.StateCompleted {
		t.Errorf("State = %s, want %s", resp.State, session.StateCompleted)
	}
	if resp.Qualification.Grade == "" || resp.Qualification.NumericScore == 0 {
		t.Errorf("qualification missing: %+v", resp.Qualification)
	}

	select {
	case lead := <-capture.leads:
		if lead.SessionID != "survey-session-1" || lead.Collected.Name != "Jean Martin" {
			t.Errorf("dispatched lead = %+v", lead)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("lead was never dispatched")
	}

	// A duplicate submit still answers with the qualification but must not
	// hand the same lead off twice.
	again, err := svc.SubmitSurvey(context.Background(), identity, "survey-session-1", Submission{
		Nom:           "Autre Nom",
		ContactMethod: "email",
		Contact:       "autre@example.com",
		Urgency:       "urgent",
	})
	if err != nil {
		t.Fatalf("duplicate SubmitSurvey: %v", err)
	}
	if again.State != session.StateCompleted {
		t.Errorf("State = %s, want %s", again.State, session.StateCompleted)
	}
	select {
	case lead := <-capture.leads:
		t.Errorf("duplicate submit dispatched a second lead: %+v", lead)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSubmitSurveyValidation(t *testing.T) {
	svc, _ := newTestService(t)

	testCases := []struct {
		name      string
		sub       Submission
		wantField string
	}{
		{"short name", Submission{Nom: "J", ContactMethod: "email", Contact: "j@example.com", Urgency: "urgent"}, "nom"},
		{"bad method", Submission{Nom: "Jean", ContactMethod: "pigeon", Contact: "x", Urgency: "urgent"}, "contactMethod"},
		{"bad email", Submission{Nom: "Jean", ContactMethod: "email", Contact: "not-an-email", Urgency: "urgent"}, "contact"},
		{"bad phone", Submission{Nom: "Jean", ContactMethod: "sms", Contact: "abc", Urgency: "urgent"}, "contact"},
		{"missing urgency", Submission{Nom: "Jean", ContactMethod: "email", Contact: "j@example.com"}, "urgency"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.SubmitSurvey(context.Background(), "10.0.0.7", "survey-session-2", tc.sub)
			if errx.CodeOf(err) != errx.CodeSubmissionInvalid {
				t.Fatalf("code = %s, want %s", errx.CodeOf(err), errx.CodeSubmissionInvalid)
			}
			var appErr *errx.AppError
			if !errors.As(err, &appErr) || appErr.Fields[tc.wantField] == "" {
				t.Errorf("expected a field error for %q, got %v", tc.wantField, err)
			}
		})
	}
}

func TestSubmitSurveyRequiresLiveSession(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.SubmitSurvey(context.Background(), "10.0.0.8", "ghost-session-1", Submission{
		Nom: "Jean", ContactMethod: "email", Contact: "j@example.com", Urgency: "urgent",
	})
	if errx.CodeOf(err) != errx.CodeSessionNotFound {
		t.Errorf("code = %s, want %s", errx.CodeOf(err), errx.CodeSessionNotFound)
	}
}

func TestFetchSession(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.HandleMessage(context.Background(), "10.0.0.9", "fetch-session-1", "bonjour, voici mon projet de formation"); err != nil {
		t.Fatal(err)
	}

	snap, err := svc.FetchSession("fetch-session-1")
	if err != nil {
		t.Fatalf("FetchSession: %v", err)
	}
	// welcome + user + reply
	if len(snap.Messages) != 3 {
		t.Errorf("len(Messages) = %d, want 3", len(snap.Messages))
	}
}

func TestStats(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.HandleMessage(context.Background(), "10.0.1.1", "stats-session-1", "bonjour, parlons de mon projet"); err != nil {
		t.Fatal(err)
	}

	stats := svc.Stats()
	if stats.Sessions.SessionCount != 1 {
		t.Errorf("SessionCount = %d, want 1", stats.Sessions.SessionCount)
	}
	if stats.RateLimits.Counters == 0 {
		t.Error("rate limiter should have live counters")
	}
}

func TestAdminStatsMaintenancePolicy(t *testing.T) {
	svc, _ := newTestService(t)
	identity := "10.0.1.2"

	for i := 0; i < 5; i++ {
		if _, err := svc.AdminStats(identity); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}

	_, err := svc.AdminStats(identity)
	if errx.CodeOf(err) != errx.CodeRateLimited {
		t.Fatalf("6th request: code = %v, want rate_limited", errx.CodeOf(err))
	}
	var appErr *errx.AppError
	if !errors.As(err, &appErr) || appErr.RetryAfter <= 0 {
		t.Error("rate-limited stats rejection should carry a retry-after hint")
	}
}

func TestDispatchGateBoundsInFlight(t *testing.T) {
	g := newDispatchGate(2)

	if !g.tryAcquire() || !g.tryAcquire() {
		t.Fatal("first two slots should be free")
	}
	if g.tryAcquire() {
		t.Fatal("third acquire should fail at capacity")
	}
	if g.droppedCount() != 1 {
		t.Errorf("droppedCount = %d, want 1", g.droppedCount())
	}

	g.release()
	if !g.tryAcquire() {
		t.Error("released slot should be reusable")
	}
}
