// Package conversation drives the per-session qualification state machine:
// it feeds user messages to the interpreter and applies the outcome to the
// session atomically.
package conversation

import (
	"context"
	"time"

	"github.com/Saidelocha/lepitch-funnel/pkg/abuse"
	"github.com/Saidelocha/lepitch-funnel/pkg/errx"
	"github.com/Saidelocha/lepitch-funnel/pkg/patterns"
	"github.com/Saidelocha/lepitch-funnel/pkg/session"
)

// Outcome is the closed record type the interpreter returns. Unknown keys
// from an external NLU backend are dropped at its adapter, never merged.
type Outcome struct {
	Reply          string
	Fields         session.CollectedInfo
	Goals          session.Goals
	RequestConsent bool
	TriggerForm    bool
	Close          bool
	CloseReason    string
}

// Interpreter turns a user message plus conversation history into a bot
// reply and structured extraction. Implementations must be safe for
// concurrent use across sessions.
type Interpreter interface {
	Interpret(ctx context.Context, snap session.Snapshot, text string) (*Outcome, error)
}

// BanAdvice instructs the caller to ban the session's identity after a
// forced closure. The engine never creates bans itself.
type BanAdvice struct {
	Ban      bool
	Reason   string
	Duration time.Duration
}

// Result is one advanced turn.
type Result struct {
	Reply         string
	Goals         session.Goals
	State         string
	Completed     bool
	Closed        bool
	FormTriggered bool
	Ban           BanAdvice
}

const (
	defaultInterpretTimeout = 15 * time.Second

	completedReply = "Merci, votre demande est déjà enregistrée. Nous revenons vers vous très vite."
	closedReply    = "Cette conversation est terminée."
)

// Engine applies interpreter outcomes to sessions.
type Engine struct {
	interp   Interpreter
	timeout  time.Duration
	shortBan time.Duration
	longBan  time.Duration
	now      func() time.Time
}

// EngineOption is a functional option for configuring an Engine.
type EngineOption func(*Engine)

// WithInterpretTimeout bounds each interpreter call.
func WithInterpretTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.timeout = d }
}

// WithBanDurations overrides the short and long ban tiers advised on a
// forced closure. Zero values keep the defaults.
func WithBanDurations(short, long time.Duration) EngineOption {
	return func(e *Engine) {
		if short > 0 {
			e.shortBan = short
		}
		if long > 0 {
			e.longBan = long
		}
	}
}

// NewEngine creates an engine around the given interpreter.
func NewEngine(interp Interpreter, opts ...EngineOption) *Engine {
	e := &Engine{
		interp:   interp,
		timeout:  defaultInterpretTimeout,
		shortBan: abuse.ShortBanDuration,
		longBan:  abuse.LongBanDuration,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Advance processes one user message. The interpreter call is treated as
// atomic: either the whole outcome (message log, fields, goals, signals) is
// applied, or on failure nothing is, and the caller receives
// InterpreterFailure without the session being mutated.
//
// A terminal session is idempotent: the turn is answered with a fixed reply
// and no state changes.
func (e *Engine) Advance(ctx context.Context, sess *session.Session, text string) (*Result, error) {
	snap := sess.Snapshot()
	if snap.Completed || snap.ClosedByAbuse {
		reply := completedReply
		if snap.ClosedByAbuse {
			reply = closedReply
		}
		return &Result{
			Reply:     reply,
			Goals:     snap.Goals,
			State:     snap.State(),
			Completed: snap.Completed,
			Closed:    snap.ClosedByAbuse,
		}, nil
	}

	ictx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	outcome, err := e.interp.Interpret(ictx, snap, text)
	if err != nil {
		return nil, errx.Wrap(err, errx.CodeInterpreterFailure, "interpreter call failed")
	}

	now := e.now()
	var result Result
	applied := false
	sess.Do(func() {
		// A concurrent turn may have closed or completed the session while
		// the interpreter ran; terminal state admits no further mutation.
		if sess.Completed || sess.ClosedByAbuse {
			return
		}
		applied = true

		sess.PushMessage(text, false, now)
		sess.Collected.Merge(outcome.Fields)
		sess.Goals.Merge(outcome.Goals)

		switch {
		case outcome.Close:
			// Priority signal: terminal regardless of the others.
			sess.ClosedByAbuse = true
			sess.Completed = true
			result.Ban = e.banAdviceFor(outcome)
		default:
			if outcome.RequestConsent && !sess.ConsentRequested {
				sess.ConsentRequested = true
			}
			if outcome.TriggerForm && !sess.FormCompleted {
				sess.FormTriggered = true
			}
		}

		sess.PushMessage(outcome.Reply, true, now)
	})

	final := sess.Snapshot()
	if !applied {
		reply := completedReply
		if final.ClosedByAbuse {
			reply = closedReply
		}
		return &Result{
			Reply:     reply,
			Goals:     final.Goals,
			State:     final.State(),
			Completed: final.Completed,
			Closed:    final.ClosedByAbuse,
		}, nil
	}
	result.Reply = outcome.Reply
	result.Goals = final.Goals
	result.State = final.State()
	result.Completed = final.Completed
	result.Closed = final.ClosedByAbuse
	result.FormTriggered = final.FormTriggered
	return &result, nil
}

// banAdviceFor derives ban severity from the closing reply: a reply matching
// a known closure phrase reads as a single inappropriate-closure event and
// gets the short duration, anything else the long one.
//
// Matching the assistant's own natural-language reply is brittle; an
// explicit structured severity from the interpreter would be sounder. Kept
// because the outer layer renders severity from the same phrasing.
func (e *Engine) banAdviceFor(outcome *Outcome) BanAdvice {
	reason := outcome.CloseReason
	if reason == "" {
		reason = "conversation closed by assistant"
	}

	duration := e.longBan
	if patterns.Get().MatchAny(outcome.Reply, patterns.CategoryClosurePhrase) != nil {
		duration = e.shortBan
	}

	return BanAdvice{Ban: true, Reason: reason, Duration: duration}
}

// CompleteForm merges validated survey fields into the session and marks it
// completed. This is the only path to the success-terminal state: free-text
// conversation alone never self-completes, so a human always explicitly
// supplies contact details before a lead counts as qualified.
//
// The boolean reports whether this call completed the form; a re-submission
// is idempotent and returns false so the caller does not hand off the same
// lead twice.
func (e *Engine) CompleteForm(sess *session.Session, fields session.CollectedInfo) (session.Snapshot, bool, error) {
	var closed, applied bool
	sess.Do(func() {
		// Checked under the lock: a closure or a duplicate submit racing
		// this call must not complete a terminal session.
		if sess.ClosedByAbuse {
			closed = true
			return
		}
		if sess.FormCompleted {
			return
		}
		applied = true

		sess.Collected.Merge(fields)
		sess.Goals.Merge(session.Goals{CollectIdentity: fields.Name != "", GetContact: fields.ContactInfo != ""})
		sess.FormTriggered = true
		sess.FormCompleted = true
		sess.Completed = true
	})

	snap := sess.Snapshot()
	if closed {
		return snap, false, errx.New(errx.CodeBanned, "conversation was closed")
	}
	return snap, applied, nil
}
