package memory

import (
	"context"
	"sync"
	"time"

	domain "github.com/bryanwahyu/voiceguard/internal/domain/analysis"
)

type sessionKey struct {
	tenant string
	id     domain.SessionID
}

// SessionStore keeps sessions in process memory. Copies go in and out, so
// callers never share a *Session with the store.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[sessionKey]*domain.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[sessionKey]*domain.Session)}
}

func (s *SessionStore) Create(_ context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionKey{sess.TenantID, sess.ID}] = sess.Clone()
	return nil
}

func (s *SessionStore) Get(_ context.Context, tenant string, id domain.SessionID) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionKey{tenant, id}]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return sess.Clone(), nil
}

// Update applies fn to a copy and commits it only when fn succeeds.
func (s *SessionStore) Update(_ context.Context, tenant string, id domain.SessionID, fn func(*domain.Session) error) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sessionKey{tenant, id}
	cur, ok := s.sessions[key]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	s.sessions[key] = next
	return next.Clone(), nil
}

func (s *SessionStore) Delete(_ context.Context, tenant string, id domain.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sessionKey{tenant, id}
	if _, ok := s.sessions[key]; !ok {
		return domain.ErrSessionNotFound
	}
	delete(s.sessions, key)
	return nil
}

// Len returns the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Prune drops sessions not touched since before. Running sessions are kept.
func (s *SessionStore) Prune(before time.Time) []*domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	var evicted []*domain.Session
	for key, sess := range s.sessions {
		if sess.Status.Busy() || !sess.UpdatedAt.Before(before) {
			continue
		}
		delete(s.sessions, key)
		evicted = append(evicted, sess)
	}
	return evicted
}

// StartJanitor prunes sessions idle for longer than ttl every interval
// until ctx is done. onEvict may be nil.
func (s *SessionStore) StartJanitor(ctx context.Context, ttl, interval time.Duration, onEvict func(*domain.Session)) {
	if ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = ttl / 2
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				for _, sess := range s.Prune(now.Add(-ttl)) {
					if onEvict != nil {
						onEvict(sess)
					}
				}
			}
		}
	}()
}
