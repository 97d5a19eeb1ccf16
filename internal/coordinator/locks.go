package coordinator

import (
	"fmt"
	"sync"

	"tradegate/internal/domain"
)

// scopeLocks serializes execution per (strategy kind, underlying). A busy
// scope is reported immediately rather than queued: the caller's approval
// was computed against a snapshot that the in-flight execution is about to
// invalidate, so waiting would just execute on stale grounds.
type scopeLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func newScopeLocks() *scopeLocks {
	return &scopeLocks{held: make(map[string]bool)}
}

func scopeKey(kind domain.StrategyKind, underlying string) string {
	return fmt.Sprintf("%s|%s", kind, underlying)
}

// tryAcquire takes the lock for a scope, returning false if it is held.
func (s *scopeLocks) tryAcquire(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held[key] {
		return false
	}
	s.held[key] = true
	return true
}

// release frees a scope lock.
func (s *scopeLocks) release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.held, key)
}
