package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/HMasataka/linehub/pkg/domain"
)

// DefaultSessionTTL is how long an issued session token stays valid
const DefaultSessionTTL = 6 * time.Hour

const tokenBytes = 48

// SessionStore keeps issued session tokens in memory
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]Identity
	ttl      time.Duration
	now      func() time.Time
}

// NewSessionStore creates a session store. A non-positive ttl selects
// DefaultSessionTTL.
func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{
		sessions: make(map[string]Identity),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Issue creates a session for the subject and returns its token
func (s *SessionStore) Issue(subjectID, subjectType string) (string, Identity, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", Identity{}, fmt.Errorf("generate session token: %w", err)
	}
	token := hex.EncodeToString(buf)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeLocked()
	id := Identity{
		SubjectID:   subjectID,
		SubjectType: subjectType,
		ExpiresAt:   s.now().Add(s.ttl),
	}
	s.sessions[token] = id
	return token, id, nil
}

// Authenticate implements Authenticator
func (s *SessionStore) Authenticate(_ context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, domain.ErrUnauthorized
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.sessions[token]
	if !ok {
		return Identity{}, fmt.Errorf("%w: unknown session", domain.ErrUnauthorized)
	}
	if id.Expired(s.now()) {
		delete(s.sessions, token)
		return Identity{}, fmt.Errorf("%w: session expired", domain.ErrUnauthorized)
	}
	return id, nil
}

// Revoke deletes a session
func (s *SessionStore) Revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
}

// PurgeExpired drops expired sessions and returns how many were removed
func (s *SessionStore) PurgeExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.purgeLocked()
}

// Len returns the number of live sessions
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *SessionStore) purgeLocked() int {
	now := s.now()
	n := 0
	for token, id := range s.sessions {
		if id.Expired(now) {
			delete(s.sessions, token)
			n++
		}
	}
	return n
}
