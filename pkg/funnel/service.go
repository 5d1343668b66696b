// Package funnel wires the anti-abuse pipeline and the qualification
// conversation into one service: every inbound message passes rate limiting,
// risk analysis and the ban list before it may advance a session, and every
// completed survey becomes a scored lead handed to the delivery channels.
package funnel

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Saidelocha/lepitch-funnel/pkg/abuse"
	"github.com/Saidelocha/lepitch-funnel/pkg/conversation"
	"github.com/Saidelocha/lepitch-funnel/pkg/errx"
	"github.com/Saidelocha/lepitch-funnel/pkg/logx"
	"github.com/Saidelocha/lepitch-funnel/pkg/notify"
	"github.com/Saidelocha/lepitch-funnel/pkg/ratelimit"
	"github.com/Saidelocha/lepitch-funnel/pkg/risk"
	"github.com/Saidelocha/lepitch-funnel/pkg/scoring"
	"github.com/Saidelocha/lepitch-funnel/pkg/session"
)

const (
	defaultSweepInterval = 5 * time.Minute
	defaultCounterIdle   = 30 * time.Minute

	// maxMessageLen caps a single chat message before analysis.
	maxMessageLen = 4000
)

var (
	reContactEmail = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)
	reContactPhone = regexp.MustCompile(`^\+?[0-9][0-9 .\-]{7,19}$`)
)

// Service is the composition root for one funnel deployment.
type Service struct {
	store    *session.Store
	engine   *conversation.Engine
	limiter  *ratelimit.Limiter
	monitor  *abuse.Monitor
	bans     *abuse.BanManager
	notifier notify.Notifier
	gate     *dispatchGate

	sweepEvery time.Duration
	stop       chan struct{}
	done       chan struct{}
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier replaces the default log-only lead sink.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithDispatchCapacity bounds concurrent lead deliveries.
func WithDispatchCapacity(n int) Option {
	return func(s *Service) { s.gate = newDispatchGate(n) }
}

// WithSweepInterval sets how often expired state is reaped.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.sweepEvery = d
		}
	}
}

// New assembles a Service and starts its maintenance loop. Close releases it.
func New(store *session.Store, engine *conversation.Engine, limiter *ratelimit.Limiter, monitor *abuse.Monitor, bans *abuse.BanManager, opts ...Option) *Service {
	s := &Service{
		store:      store,
		engine:     engine,
		limiter:    limiter,
		monitor:    monitor,
		bans:       bans,
		notifier:   notify.LogNotifier{},
		gate:       newDispatchGate(0),
		sweepEvery: defaultSweepInterval,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.sweepLoop()
	return s
}

// Close stops the maintenance loop and the session store.
func (s *Service) Close() {
	close(s.stop)
	<-s.done
	s.store.Close()
}

// MessageResponse is one answered chat turn.
type MessageResponse struct {
	Reply         string        `json:"reply"`
	State         string        `json:"state"`
	Goals         session.Goals `json:"goals"`
	Completed     bool          `json:"completed"`
	FormTriggered bool          `json:"form_triggered"`
	RateRemaining int           `json:"rate_remaining"`
}

// HandleMessage runs the full inbound pipeline for one user message:
// ban check, chat rate limit, risk analysis, then the conversation engine.
// Identity is the caller's network identity; sessionID names the
// conversation. A message rejected by any guard never reaches the session.
func (s *Service) HandleMessage(ctx context.Context, identity, sessionID, text string) (*MessageResponse, error) {
	text = strings.TrimSpace(text)
	if text == "" || len(text) > maxMessageLen {
		return nil, errx.New(errx.CodeSubmissionInvalid, "message must be between 1 and 4000 characters")
	}

	if err := s.checkBanned(identity); err != nil {
		return nil, err
	}

	decision := s.limiter.Check(identity, ratelimit.PolicyChat)
	if !decision.Allowed {
		s.monitor.Record(identity, abuse.EventRateDenied)
		s.escalateIfSuspected(s.monitor.BruteForceSuspected(identity), identity, "repeated rate limit violations")
		return nil, rateLimitedError("too many messages", decision.RetryAfter)
	}

	if verdict := risk.Analyze(text); verdict.Level == risk.LevelHigh {
		s.monitor.Record(identity, abuse.EventHighRisk)
		if verdict.InjectionAttempt() {
			s.monitor.Record(identity, abuse.EventAttackAttempt)
		}
		logx.Warn().
			Str("identity", logx.MaskIdentity(identity)).
			Int("score", verdict.Score).
			Strs("patterns", verdict.MatchedPatterns).
			Msg("message rejected by risk analysis")
		s.escalateIfSuspected(s.monitor.HighRiskSuspected(identity), identity, "repeated high-risk messages")
		return nil, errx.New(errx.CodeContentRejected, "message rejected")
	}

	sess, err := s.store.GetOrCreate(sessionID)
	if err != nil {
		return nil, err
	}

	result, err := s.engine.Advance(ctx, sess, text)
	if err != nil {
		return nil, err
	}

	if result.Ban.Ban {
		rec := s.bans.Create(identity, result.Ban.Reason, result.Ban.Duration)
		logx.Warn().
			Str("identity", logx.MaskIdentity(identity)).
			Str("reason", rec.Reason).
			Time("expires_at", rec.ExpiresAt).
			Msg("identity banned after forced closure")
	}

	return &MessageResponse{
		Reply:         result.Reply,
		State:         result.State,
		Goals:         result.Goals,
		Completed:     result.Completed,
		FormTriggered: result.FormTriggered,
		RateRemaining: decision.Remaining,
	}, nil
}

// Submission is the structured survey a visitor fills once the form
// triggers. Field names follow the public form.
type Submission struct {
	Nom           string `json:"nom"`
	ContactMethod string `json:"contactMethod"`
	Contact       string `json:"contact"`
	Urgency       string `json:"urgency"`
	Timeline      string `json:"timeline"`
	Commitment    string `json:"commitment"`
}

func (sub *Submission) sanitize() {
	sub.Nom = strings.TrimSpace(sub.Nom)
	sub.ContactMethod = strings.ToLower(strings.TrimSpace(sub.ContactMethod))
	sub.Contact = strings.TrimSpace(sub.Contact)
	sub.Urgency = strings.ToLower(strings.TrimSpace(sub.Urgency))
	sub.Timeline = strings.TrimSpace(sub.Timeline)
	sub.Commitment = strings.TrimSpace(sub.Commitment)
}

func (sub Submission) validate() map[string]string {
	fields := map[string]string{}
	if len(sub.Nom) < 2 || len(sub.Nom) > 100 {
		fields["nom"] = "name must be between 2 and 100 characters"
	}
	switch sub.ContactMethod {
	case "email":
		if !reContactEmail.MatchString(sub.Contact) {
			fields["contact"] = "invalid email address"
		}
	case "telephone", "sms":
		if !reContactPhone.MatchString(sub.Contact) {
			fields["contact"] = "invalid phone number"
		}
	default:
		fields["contactMethod"] = "must be one of: email, telephone, sms"
	}
	if sub.Urgency == "" {
		fields["urgency"] = "urgency is required"
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// SurveyResponse acknowledges a completed form with its qualification.
type SurveyResponse struct {
	State         string         `json:"state"`
	Qualification scoring.Result `json:"qualification"`
}

// SubmitSurvey validates the structured form, completes the session and
// dispatches the scored lead. The survey requires a live session; it never
// creates one.
func (s *Service) SubmitSurvey(ctx context.Context, identity, sessionID string, sub Submission) (*SurveyResponse, error) {
	if err := s.checkBanned(identity); err != nil {
		return nil, err
	}

	decision := s.limiter.Check(identity, ratelimit.PolicyRequest)
	if !decision.Allowed {
		s.monitor.Record(identity, abuse.EventRateDenied)
		return nil, rateLimitedError("too many requests", decision.RetryAfter)
	}

	sub.sanitize()
	if fields := sub.validate(); fields != nil {
		appErr := errx.New(errx.CodeSubmissionInvalid, "survey validation failed")
		appErr.Fields = fields
		return nil, appErr
	}

	sess, err := s.store.Get(sessionID)
	if err != nil {
		return nil, err
	}

	snap, first, err := s.engine.CompleteForm(sess, session.CollectedInfo{
		Name:              sub.Nom,
		ContactPreference: sub.ContactMethod,
		ContactInfo:       sub.Contact,
		Urgency:           sub.Urgency,
		Timeline:          sub.Timeline,
		Commitment:        sub.Commitment,
	})
	if err != nil {
		return nil, err
	}

	qual := scoring.Score(snap.Collected, sess.Transcript())
	// Only the submission that completed the form hands the lead off; a
	// duplicate submit still gets the qualification back.
	if first {
		s.dispatchLead(notify.NewLead(sessionID, snap.Collected, qual, s.now()))
	}

	return &SurveyResponse{State: snap.State(), Qualification: qual}, nil
}

// FetchSession returns a read-only view of one conversation.
func (s *Service) FetchSession(sessionID string) (session.Snapshot, error) {
	sess, err := s.store.Get(sessionID)
	if err != nil {
		return session.Snapshot{}, err
	}
	return sess.Snapshot(), nil
}

// Stats aggregates operational counters for the maintenance surface.
type Stats struct {
	Sessions   session.StoreStats `json:"sessions"`
	RateLimits ratelimit.Stats    `json:"rate_limits"`
	ActiveBans int                `json:"active_bans"`
	Dispatch   DispatchStats      `json:"dispatch"`
}

// DispatchStats reports lead delivery backpressure.
type DispatchStats struct {
	InFlight int   `json:"in_flight"`
	Dropped  int64 `json:"dropped"`
}

// Stats returns a point-in-time operational snapshot.
func (s *Service) Stats() Stats {
	return Stats{
		Sessions:   s.store.Stats(),
		RateLimits: s.limiter.Stats(),
		ActiveBans: s.bans.ActiveCount(),
		Dispatch: DispatchStats{
			InFlight: s.gate.inFlight(),
			Dropped:  s.gate.droppedCount(),
		},
	}
}

// AdminStats applies the maintenance rate policy before exposing counters,
// so a misbehaving scraper cannot hammer the stats surface.
func (s *Service) AdminStats(identity string) (Stats, error) {
	decision := s.limiter.Check(identity, ratelimit.PolicyMaintenance)
	if !decision.Allowed {
		return Stats{}, rateLimitedError("too many stats requests", decision.RetryAfter)
	}
	return s.Stats(), nil
}

func rateLimitedError(what string, retryAfter time.Duration) *errx.AppError {
	appErr := errx.New(errx.CodeRateLimited,
		fmt.Sprintf("%s, retry in %s", what, retryAfter.Round(time.Second)))
	appErr.RetryAfter = retryAfter
	return appErr
}

// Sweep reaps expired sessions, idle rate counters, stale abuse events and
// lapsed bans in one pass.
func (s *Service) Sweep() {
	sessions := s.store.Sweep()
	counters := s.limiter.Sweep(defaultCounterIdle)
	events := s.monitor.Sweep()
	bans := s.bans.Sweep()
	if sessions+counters+events+bans > 0 {
		logx.Debug().
			Int("sessions", sessions).
			Int("counters", counters).
			Int("events", events).
			Int("bans", bans).
			Msg("sweep completed")
	}
}

func (s *Service) sweepLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.stop:
			return
		}
	}
}

// checkBanned translates an active ban into the client-facing error, worded
// by severity.
func (s *Service) checkBanned(identity string) error {
	rec, ok := s.bans.Get(identity)
	if !ok {
		return nil
	}
	remaining := s.bans.Remaining(identity)
	var msg string
	switch rec.Severity(s.now()) {
	case abuse.SeverityWarning:
		msg = fmt.Sprintf("access temporarily restricted, try again in %s", remaining.Round(time.Minute))
	case abuse.SeveritySevere:
		msg = "access blocked following serious misuse"
	default:
		msg = fmt.Sprintf("access blocked for %s", remaining.Round(time.Minute))
	}
	return errx.New(errx.CodeBanned, msg)
}

// escalateIfSuspected bans the identity once the abuse monitor sees enough
// events of the offending kind inside its detection window.
func (s *Service) escalateIfSuspected(suspected bool, identity, reason string) {
	if !suspected || s.bans.IsBanned(identity) {
		return
	}
	rec := s.bans.Create(identity, reason, abuse.ShortBanDuration)
	logx.Warn().
		Str("identity", logx.MaskIdentity(identity)).
		Str("reason", reason).
		Time("expires_at", rec.ExpiresAt).
		Msg("identity banned after abuse escalation")
}

// dispatchLead hands the lead to the notifier on a bounded goroutine. The
// log sink still sees dropped leads so none are silently lost.
func (s *Service) dispatchLead(lead notify.Lead) {
	if !s.gate.tryAcquire() {
		logx.Error().
			Str("lead_id", lead.ID).
			Int64("dropped_total", s.gate.droppedCount()).
			Msg("lead dispatch at capacity, delivering to log only")
		_, _ = notify.LogNotifier{}.Notify(context.Background(), lead)
		return
	}
	go func() {
		defer s.gate.release()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := s.notifier.Notify(ctx, lead); err != nil {
			logx.Error().Err(err).Str("lead_id", lead.ID).Msg("lead delivery failed")
		}
	}()
}
