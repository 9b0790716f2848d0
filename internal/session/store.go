package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrExists = errors.New("session already exists")

// Store owns the live call sessions.
type Store struct {
	mu           sync.RWMutex
	sessions     map[string]*Session
	historyLimit int
	now          func() time.Time
}

// NewStore creates an empty store. historyLimit caps each session's dialog
// history; zero keeps everything.
func NewStore(historyLimit int) *Store {
	return &Store{
		sessions:     make(map[string]*Session),
		historyLimit: historyLimit,
		now:          time.Now,
	}
}

// Create registers a session under id, or under a fresh UUID when id is empty.
func (s *Store) Create(id string) (*Session, error) {
	if id == "" {
		id = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; ok {
		return nil, ErrExists
	}
	sess := newSession(id, s.historyLimit, s.now())
	s.sessions[id] = sess
	return sess, nil
}

func (s *Store) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Remove deletes the session and marks it ended. It reports whether this call
// did the removal; missing ids are a no-op.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return false
	}
	sess.end()
	return true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// List returns the live sessions ordered by creation time.
func (s *Store) List() []*Session {
	s.mu.RLock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].createdAt.Before(out[j].createdAt) })
	return out
}
