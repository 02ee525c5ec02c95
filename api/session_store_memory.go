package api

import (
	"context"
	"sync"
	"time"
)

// maxMemorySessions bounds MemorySessionStore. Login requests create a
// session each, so the bound holds against clients that never return.
const maxMemorySessions = 100_000

// MemorySessionStore is a thread-safe in-memory SessionStore.
// Sessions are lost on server restart.
type MemorySessionStore struct {
	mu       sync.RWMutex
	data     map[string]Session
	max      int
	stopOnce sync.Once
	stopCh   chan struct{}
}

var _ SessionStore = (*MemorySessionStore)(nil)

// NewMemorySessionStore creates an in-memory store that drops expired
// sessions every cleanupInterval until Close is called.
func NewMemorySessionStore() *MemorySessionStore {
	s := &MemorySessionStore{
		data:   make(map[string]Session),
		max:    maxMemorySessions,
		stopCh: make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// Close stops the background cleanup goroutine.
func (s *MemorySessionStore) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *MemorySessionStore) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.sweep(now)
		}
	}
}

func (s *MemorySessionStore) Get(ctx context.Context, token string) (Session, bool) {
	s.mu.RLock()
	session, ok := s.data[token]
	s.mu.RUnlock()
	if !ok {
		return Session{}, false
	}
	if session.expired(time.Now()) {
		_ = s.Delete(ctx, token)
		return Session{}, false
	}
	return session, true
}

// Put stores session. When the store is full, expired sessions are dropped
// first and then the least recently accessed one.
func (s *MemorySessionStore) Put(_ context.Context, token string, session Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[token]; !exists && len(s.data) >= s.max {
		s.evictLocked(time.Now())
	}
	s.data[token] = session
	return nil
}

func (s *MemorySessionStore) evictLocked(now time.Time) {
	var oldestToken string
	var oldest time.Time
	for token, session := range s.data {
		if session.expired(now) {
			delete(s.data, token)
			continue
		}
		if oldestToken == "" || session.LastAccessedAt.Before(oldest) {
			oldestToken, oldest = token, session.LastAccessedAt
		}
	}
	if len(s.data) >= s.max && oldestToken != "" {
		delete(s.data, oldestToken)
	}
}

func (s *MemorySessionStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	delete(s.data, token)
	s.mu.Unlock()
	return nil
}

// sweep drops expired sessions.
func (s *MemorySessionStore) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, session := range s.data {
		if session.expired(now) {
			delete(s.data, token)
		}
	}
}

// Len returns the number of stored sessions, expired ones included.
func (s *MemorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
