package handler

import (
	"sync"
	"time"

	"github.com/dyezepchik/time-chart-bot/internal/booking"
)

// DefaultSessionTTL is how long an untouched conversation is kept.
const DefaultSessionTTL = 30 * time.Minute

// SessionStore keeps in-flight conversations in memory. A session is taken
// out while a request works on it, so concurrent replies to the same
// conversation see it as missing instead of racing.
type SessionStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[string]storedSession
}

type storedSession struct {
	sess    booking.Session
	touched time.Time
}

// NewSessionStore returns an empty store. A non-positive ttl selects
// DefaultSessionTTL.
func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{ttl: ttl, now: time.Now, sessions: make(map[string]storedSession)}
}

// Put stores sess unless it is finished, and drops expired sessions.
func (s *SessionStore) Put(sess booking.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, st := range s.sessions {
		if now.Sub(st.touched) > s.ttl {
			delete(s.sessions, id)
		}
	}
	if sess.Done() {
		delete(s.sessions, sess.ID)
		return
	}
	s.sessions[sess.ID] = storedSession{sess: sess, touched: now}
}

// Take removes and returns the live session with the given id.
func (s *SessionStore) Take(id string) (booking.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[id]
	if !ok {
		return booking.Session{}, false
	}
	delete(s.sessions, id)
	if s.now().Sub(st.touched) > s.ttl {
		return booking.Session{}, false
	}
	return st.sess, true
}

// Len reports the number of stored sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
