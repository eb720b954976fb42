// Package session holds the live session aggregates in memory. Sessions are
// never persisted; the process owns them for its lifetime and only their
// event logs survive a restart.
package session

import (
	"errors"
	"sync"

	"github.com/vibeforge/vibeforge/pkg/models"
)

// ErrNotFound is returned when the requested session does not exist.
var ErrNotFound = errors.New("session not found")

// ErrAlreadyExists is returned when creating a session whose id is taken.
var ErrAlreadyExists = errors.New("session already exists")

// Store is the in-memory session map. All methods are safe for concurrent
// use; callers that mutate a session across multiple calls serialize through
// the Locker.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*models.Session),
	}
}

// Create inserts a new session.
func (s *Store) Create(sess *models.Session) error {
	if sess == nil || sess.ID == "" {
		return models.NewValidationError("session", "id must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return ErrAlreadyExists
	}
	s.sessions[sess.ID] = sess
	return nil
}

// Get returns the session with the given id.
func (s *Store) Get(id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Update replaces the stored session. The session must already exist.
func (s *Store) Update(sess *models.Session) error {
	if sess == nil || sess.ID == "" {
		return models.NewValidationError("session", "id must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; !ok {
		return ErrNotFound
	}
	s.sessions[sess.ID] = sess
	return nil
}

// Delete removes the session with the given id.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, id)
	return nil
}

// List returns all live sessions in no particular order.
func (s *Store) List() []*models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// Count returns the number of live sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
