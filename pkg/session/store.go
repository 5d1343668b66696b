package session

import (
	"regexp"
	"sync"
	"time"

	"github.com/Saidelocha/lepitch-funnel/pkg/errx"
)

// idPattern restricts session ids to alphanumerics plus - and _,
// length 10-100. Anything else is rejected before touching the store.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{10,100}$`)

// ValidID reports whether the id satisfies the session identifier format.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

const (
	defaultMaxAge          = 30 * time.Minute
	defaultCleanupInterval = 5 * time.Minute
	defaultWelcome         = "Bonjour ! Je suis là pour comprendre votre projet. Qu'est-ce qui vous amène ?"
)

// Store is the process-wide keyed store of conversation sessions. Sessions
// are created on first access, mutated on every processed message, and
// reclaimed only by the age-based sweep.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	maxAge          time.Duration
	cleanupInterval time.Duration
	welcome         string

	stopCleanup chan struct{}
	cleanupOnce sync.Once

	// injectable clock for tests
	now func() time.Time
}

// StoreOption is a functional option for configuring a Store.
type StoreOption func(*Store)

// WithMaxAge sets the maximum session age before the sweep drops it.
func WithMaxAge(d time.Duration) StoreOption {
	return func(s *Store) { s.maxAge = d }
}

// WithCleanupInterval sets how often the background sweep runs.
func WithCleanupInterval(d time.Duration) StoreOption {
	return func(s *Store) { s.cleanupInterval = d }
}

// WithWelcomeMessage sets the seeded first bot message.
func WithWelcomeMessage(text string) StoreOption {
	return func(s *Store) { s.welcome = text }
}

// NewStore creates a session store and starts its background sweep.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		sessions:        make(map[string]*Session),
		maxAge:          defaultMaxAge,
		cleanupInterval: defaultCleanupInterval,
		welcome:         defaultWelcome,
		stopCleanup:     make(chan struct{}),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.cleanupLoop()

	return s
}

// GetOrCreate returns the session for id, creating it on first access.
// Creation seeds all goals false, empty collected info and the welcome
// message. A malformed id fails with InvalidIdentifier before any store
// access; an aged-out session is treated as not found and recreated fresh,
// never silently revived.
func (s *Store) GetOrCreate(id string) (*Session, error) {
	if !ValidID(id) {
		return nil, errx.New(errx.CodeInvalidIdentifier, "session id must be 10-100 chars of [A-Za-z0-9_-]")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if sess, ok := s.sessions[id]; ok && now.Sub(sess.CreatedAt) <= s.maxAge {
		return sess, nil
	}

	sess := &Session{
		ID:        id,
		CreatedAt: now,
	}
	sess.append(s.welcome, true, now)
	s.sessions[id] = sess
	return sess, nil
}

// Get returns the session for id, or SessionNotFound if it is unknown or
// aged out. Expired sessions surface as a requires-restart condition.
func (s *Store) Get(id string) (*Session, error) {
	if !ValidID(id) {
		return nil, errx.New(errx.CodeInvalidIdentifier, "session id must be 10-100 chars of [A-Za-z0-9_-]")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok || s.now().Sub(sess.CreatedAt) > s.maxAge {
		return nil, errx.New(errx.CodeSessionNotFound, "session expired or unknown, restart the conversation")
	}
	return sess, nil
}

// Sweep drops sessions older than the max age and returns how many were
// removed. Holds only the store lock; per-session locks are never taken, so
// an in-flight message on a surviving session is never blocked.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, sess := range s.sessions {
		if now.Sub(sess.CreatedAt) > s.maxAge {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Close stops the background sweep.
func (s *Store) Close() {
	s.cleanupOnce.Do(func() {
		close(s.stopCleanup)
	})
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.stopCleanup:
			return
		}
	}
}

// StoreStats contains session store statistics.
type StoreStats struct {
	SessionCount  int `json:"session_count"`
	TotalMessages int `json:"total_messages"`
	Completed     int `json:"completed"`
}

// Stats returns current store statistics.
func (s *Store) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := StoreStats{SessionCount: len(s.sessions)}
	for _, sess := range s.sessions {
		snap := sess.Snapshot()
		stats.TotalMessages += len(snap.Messages)
		if snap.Completed {
			stats.Completed++
		}
	}
	return stats
}
