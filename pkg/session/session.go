// Package session owns the per-visitor conversation state: the message log,
// goal tracker and collected lead information, plus the process-wide store.
package session

import (
	"strings"
	"sync"
	"time"
)

// MessageCap bounds the per-session log. Trimming preserves the welcome
// message plus the most recent cap-1 entries in chronological order.
const MessageCap = 100

// Message is one entry of the append-only conversation log.
type Message struct {
	Text      string    `json:"text"`
	IsBot     bool      `json:"is_bot"`
	Timestamp time.Time `json:"timestamp"`
}

// Goals is the fixed set of qualification milestones. Monotonic: once a flag
// is true it is never reset within a session.
type Goals struct {
	UnderstandNeed       bool `json:"understand_need"`
	AssessUrgency        bool `json:"assess_urgency"`
	GetTimeline          bool `json:"get_timeline"`
	UnderstandCommitment bool `json:"understand_commitment"`
	CollectIdentity      bool `json:"collect_identity"`
	GetContact           bool `json:"get_contact"`
}

// Merge ORs the other goal set in; flags can only flip to true.
func (g *Goals) Merge(other Goals) {
	g.UnderstandNeed = g.UnderstandNeed || other.UnderstandNeed
	g.AssessUrgency = g.AssessUrgency || other.AssessUrgency
	g.GetTimeline = g.GetTimeline || other.GetTimeline
	g.UnderstandCommitment = g.UnderstandCommitment || other.UnderstandCommitment
	g.CollectIdentity = g.CollectIdentity || other.CollectIdentity
	g.GetContact = g.GetContact || other.GetContact
}

// AchievedCount returns how many goals are met.
func (g Goals) AchievedCount() int {
	n := 0
	for _, b := range []bool{
		g.UnderstandNeed, g.AssessUrgency, g.GetTimeline,
		g.UnderstandCommitment, g.CollectIdentity, g.GetContact,
	} {
		if b {
			n++
		}
	}
	return n
}

// DiscoveryDone reports whether the three discovery goals are met; these
// justify asking consent to collect contact details.
func (g Goals) DiscoveryDone() bool {
	return g.UnderstandNeed && g.AssessUrgency && g.GetTimeline
}

// CollectedInfo is the accumulating partial lead record. Fields overwrite
// with newer non-empty values and are never deleted mid-conversation.
type CollectedInfo struct {
	Need              string `json:"need,omitempty"`
	Urgency           string `json:"urgency,omitempty"`
	Timeline          string `json:"timeline,omitempty"`
	Commitment        string `json:"commitment,omitempty"`
	Name              string `json:"name,omitempty"`
	ContactPreference string `json:"contact_preference,omitempty"`
	ContactInfo       string `json:"contact_info,omitempty"`
}

// Merge overwrites fields with the other record's non-empty values.
func (c *CollectedInfo) Merge(other CollectedInfo) {
	if other.Need != "" {
		c.Need = other.Need
	}
	if other.Urgency != "" {
		c.Urgency = other.Urgency
	}
	if other.Timeline != "" {
		c.Timeline = other.Timeline
	}
	if other.Commitment != "" {
		c.Commitment = other.Commitment
	}
	if other.Name != "" {
		c.Name = other.Name
	}
	if other.ContactPreference != "" {
		c.ContactPreference = other.ContactPreference
	}
	if other.ContactInfo != "" {
		c.ContactInfo = other.ContactInfo
	}
}

// IsUrgent reports whether the collected urgency value reads as urgent.
func (c CollectedInfo) IsUrgent() bool {
	switch strings.ToLower(strings.TrimSpace(c.Urgency)) {
	case "urgent", "high", "haute", "immediate", "immédiat", "immediat":
		return true
	}
	return false
}

// Session is the aggregate root for one visitor conversation. All mutation
// happens under the per-session lock via Do, which serializes concurrent
// messages for the same session while distinct sessions proceed in parallel.
type Session struct {
	mu sync.Mutex

	ID               string        `json:"id"`
	Messages         []Message     `json:"messages"`
	Goals            Goals         `json:"goals"`
	Collected        CollectedInfo `json:"collected"`
	ConsentRequested bool          `json:"consent_requested"`
	FormTriggered    bool          `json:"form_triggered"`
	FormCompleted    bool          `json:"form_completed"`
	Completed        bool          `json:"completed"`
	ClosedByAbuse    bool          `json:"closed_by_abuse"`
	CreatedAt        time.Time     `json:"created_at"`
}

// Do runs fn while holding the session lock.
func (s *Session) Do(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// append adds a message and applies the retention trim. Callers must hold
// the session lock.
func (s *Session) append(text string, isBot bool, at time.Time) {
	s.Messages = append(s.Messages, Message{Text: text, IsBot: isBot, Timestamp: at})
	if len(s.Messages) > MessageCap {
		trimmed := make([]Message, 0, MessageCap)
		trimmed = append(trimmed, s.Messages[0])
		trimmed = append(trimmed, s.Messages[len(s.Messages)-(MessageCap-1):]...)
		s.Messages = trimmed
	}
}

// PushMessage adds a message without taking the lock. Only call inside a
// Do block; it exists so a whole turn (user message, merges, bot reply) can
// be applied as one atomic mutation.
func (s *Session) PushMessage(text string, isBot bool, at time.Time) {
	s.append(text, isBot, at)
}

// Transcript concatenates user messages for scoring input.
func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	for _, m := range s.Messages {
		if m.IsBot {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(m.Text)
	}
	return b.String()
}

// Snapshot is an immutable copy of the session safe to hand to the API layer.
type Snapshot struct {
	ID               string        `json:"id"`
	Messages         []Message     `json:"messages"`
	Goals            Goals         `json:"goals"`
	Collected        CollectedInfo `json:"collected"`
	ConsentRequested bool          `json:"consent_requested"`
	FormTriggered    bool          `json:"form_triggered"`
	FormCompleted    bool          `json:"form_completed"`
	Completed        bool          `json:"completed"`
	ClosedByAbuse    bool          `json:"closed_by_abuse"`
	CreatedAt        time.Time     `json:"created_at"`
}

// State names for the derived conversation state.
const (
	StateActive          = "active"
	StateAwaitingConsent = "awaiting_consent"
	StateFormRequested   = "form_requested"
	StateCompleted       = "completed"
	StateClosedByAbuse   = "closed_by_abuse"
)

// State derives the conversation state from the snapshot flags.
func (s Snapshot) State() string {
	switch {
	case s.ClosedByAbuse:
		return StateClosedByAbuse
	case s.Completed:
		return StateCompleted
	case s.FormTriggered && !s.FormCompleted:
		return StateFormRequested
	case s.ConsentRequested:
		return StateAwaitingConsent
	default:
		return StateActive
	}
}

// Snapshot copies the session state under the lock.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	messages := make([]Message, len(s.Messages))
	copy(messages, s.Messages)

	return Snapshot{
		ID:               s.ID,
		Messages:         messages,
		Goals:            s.Goals,
		Collected:        s.Collected,
		ConsentRequested: s.ConsentRequested,
		FormTriggered:    s.FormTriggered,
		FormCompleted:    s.FormCompleted,
		Completed:        s.Completed,
		ClosedByAbuse:    s.ClosedByAbuse,
		CreatedAt:        s.CreatedAt,
	}
}
