package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/intake-bot/internal/model/form"
)

// Session is the in-progress state of one user's intake conversation.
// The cursor is implicit: the next unanswered question is len(answers).
type Session struct {
	ID        string
	UserID    int64
	StartedAt time.Time

	answers []form.Entry
}

// Cursor reports how many questions have been answered so far.
func (s *Session) Cursor() int {
	return len(s.answers)
}

// Record captures the answer for one question and advances the cursor.
func (s *Session) Record(q form.Question, text string) {
	s.answers = append(s.answers, form.Entry{Question: q, Answer: text})
}

// AnswerSet returns an immutable snapshot of the answers in capture order.
func (s *Session) AnswerSet() form.AnswerSet {
	return append(form.AnswerSet(nil), s.answers...)
}

// Store holds at most one session per user id. The store itself only
// guarantees safe concurrent map access; exclusive per-user mutation is the
// conversation controller's job, which serializes all calls for one user.
type Store struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
}

// NewStore bootstraps an empty in-memory session store. Sessions do not
// survive process restarts.
func NewStore() *Store {
	return &Store{sessions: make(map[int64]*Session)}
}

// Create provisions a fresh session for the user. Returns false without
// mutating anything when a session already exists for that user.
func (s *Store) Create(userID int64) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[userID]; ok {
		return nil, false
	}

	sess := &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		StartedAt: time.Now().UTC(),
	}
	s.sessions[userID] = sess
	return sess, true
}

// Get returns the user's active session, if any.
func (s *Store) Get(userID int64) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[userID]
	return sess, ok
}

// Delete discards the user's session. Deleting a missing session is a no-op.
func (s *Store) Delete(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
}

// Active reports the number of in-flight sessions.
func (s *Store) Active() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
