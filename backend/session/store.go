package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session holds the server-side state for one logged-in admin.
type Session struct {
	Username       string    `json:"username"`
	ClientIP       string    `json:"clientIP"`
	CreatedAt      time.Time `json:"createdAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
}

// Store abstracts session CRUD so the in-memory map can be swapped for a
// shared backing store in multi-instance deployments.
type Store interface {
	Get(token string) (Session, bool)
	Put(token string, s Session)
	Delete(token string)
}

// NewToken returns an opaque session token.
func NewToken() string {
	return uuid.New().String()
}

// MemoryStore is a thread-safe in-memory Store. Sessions are lost on
// restart.
type MemoryStore struct {
	mu          sync.RWMutex
	data        map[string]Session
	idleTimeout time.Duration
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an in-memory session store. idleTimeout of 0
// disables idle timeout checking.
func NewMemoryStore(idleTimeout time.Duration) *MemoryStore {
	return &MemoryStore{
		data:        make(map[string]Session),
		idleTimeout: idleTimeout,
	}
}

func (s *MemoryStore) Get(token string) (Session, bool) {
	s.mu.RLock()
	sess, ok := s.data[token]
	s.mu.RUnlock()
	if !ok {
		return Session{}, false
	}
	if time.Now().After(sess.ExpiresAt) {
		s.Delete(token)
		return Session{}, false
	}
	if s.idleTimeout > 0 && time.Since(sess.LastAccessedAt) > s.idleTimeout {
		s.Delete(token)
		return Session{}, false
	}
	sess.LastAccessedAt = time.Now()
	s.Put(token, sess)
	return sess, true
}

func (s *MemoryStore) Put(token string, sess Session) {
	s.mu.Lock()
	s.data[token] = sess
	s.mu.Unlock()
}

func (s *MemoryStore) Delete(token string) {
	s.mu.Lock()
	delete(s.data, token)
	s.mu.Unlock()
}

// StartSweeper drops expired sessions on the given interval until ctx is
// done.
func (s *MemoryStore) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for token, sess := range s.data {
		if now.After(sess.ExpiresAt) {
			delete(s.data, token)
		}
	}
}
