package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"mira/internal/logging"
)

// Entry is one stored conversation turn. Role is either "user" or
// "assistant"; entries are replayed verbatim as prompt context on every turn.
type Entry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type session struct {
	history    []Entry
	affect     string
	expression string
	createdAt  time.Time
}

// Snapshot is a read-only copy of a session's mutable state, taken under the
// store lock. Stage logic works on snapshots and never touches the store
// directly.
type Snapshot struct {
	History    []Entry
	Affect     string
	Expression string
}

// Store holds every live session. All access goes through Resolve, Commit and
// Sweep; a single mutex serializes them, which is enough at the expected
// contention level and prevents lost updates on concurrent turns sharing a
// session identifier.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*session

	neutralAffect     string
	defaultExpression string
	logger            logging.Logger
	now               func() time.Time
}

// NewStore builds an empty session store. New sessions start with the given
// neutral affect descriptor and default expression identifier.
func NewStore(neutralAffect, defaultExpression string, logger logging.Logger) *Store {
	return &Store{
		sessions:          make(map[string]*session),
		neutralAffect:     neutralAffect,
		defaultExpression: defaultExpression,
		logger:            logging.OrNop(logger),
		now:               time.Now,
	}
}

// Resolve returns the session for id when it exists; otherwise it allocates a
// fresh session under a new identifier. The returned snapshot is a copy, safe
// to read without holding the lock.
func (s *Store) Resolve(id string) (string, Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" {
		if sess, ok := s.sessions[id]; ok {
			return id, snapshotOf(sess)
		}
	}

	id = uuid.NewString()
	sess := &session{
		history:    []Entry{},
		affect:     s.neutralAffect,
		expression: s.defaultExpression,
		createdAt:  s.now(),
	}
	s.sessions[id] = sess
	s.logger.Debug("created session %s", id)
	return id, snapshotOf(sess)
}

// Commit atomically replaces the session's history, affect and expression.
// If the session was evicted between Resolve and Commit it is recreated, so a
// turn in flight across a sweep still lands.
func (s *Store) Commit(id string, history []Entry, affect, expression string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		sess = &session{createdAt: s.now()}
		s.sessions[id] = sess
	}
	sess.history = append([]Entry(nil), history...)
	sess.affect = affect
	sess.expression = expression
}

// Sweep removes every session older than maxAge and returns how many were
// evicted. Age is measured from creation; activity does not refresh it.
func (s *Store) Sweep(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	evicted := 0
	for id, sess := range s.sessions {
		if now.Sub(sess.createdAt) > maxAge {
			delete(s.sessions, id)
			evicted++
		}
	}
	if evicted > 0 {
		s.logger.Debug("swept %d expired sessions", evicted)
	}
	return evicted
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func snapshotOf(sess *session) Snapshot {
	return Snapshot{
		History:    append([]Entry(nil), sess.history...),
		Affect:     sess.affect,
		Expression: sess.expression,
	}
}
