package services

import "sync"

// SessionLocker serializes requests that target the same session, so
// concurrent messages cannot interleave history reads and writes. Different
// sessions never block each other.
type SessionLocker struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewSessionLocker creates an empty session locker.
func NewSessionLocker() *SessionLocker {
	return &SessionLocker{
		locks: make(map[string]*sessionLock),
	}
}

// Lock acquires the lock for sessionID, creating it on first use.
func (s *SessionLocker) Lock(sessionID string) {
	s.mu.Lock()
	lock, ok := s.locks[sessionID]
	if !ok {
		lock = &sessionLock{}
		s.locks[sessionID] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
}

// Unlock releases the lock for sessionID and drops it once no request holds
// or waits on it.
func (s *SessionLocker) Unlock(sessionID string) {
	s.mu.Lock()
	lock, ok := s.locks[sessionID]
	if !ok {
		s.mu.Unlock()
		return
	}
	lock.refs--
	if lock.refs == 0 {
		delete(s.locks, sessionID)
	}
	s.mu.Unlock()

	lock.mu.Unlock()
}
