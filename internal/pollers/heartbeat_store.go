package pollers

import (
	"sync"
	"time"
)

// HeartbeatStore holds the latest known heartbeat per controller id.
type HeartbeatStore struct {
	mu     sync.RWMutex
	latest map[string]time.Time
}

func NewHeartbeatStore() *HeartbeatStore {
	return &HeartbeatStore{latest: make(map[string]time.Time)}
}

// Merge folds fetched timestamps into the store. A held value is only replaced
// by one that is equal or newer, so a stale response never regresses a row.
// Controllers missing from fetched keep their held value. Returns the ids that changed.
func (s *HeartbeatStore) Merge(fetched map[string]time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed []string
	for id, ts := range fetched {
		held, ok := s.latest[id]
		if ok && ts.Before(held) {
			continue
		}
		if !ok || !ts.Equal(held) {
			changed = append(changed, id)
		}
		s.latest[id] = ts
	}
	return changed
}

// Get returns the held timestamp for id, or nil when none is known.
func (s *HeartbeatStore) Get(id string) *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ts, ok := s.latest[id]
	if !ok {
		return nil
	}
	return &ts
}

// Snapshot returns a copy of the held map.
func (s *HeartbeatStore) Snapshot() map[string]time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]time.Time, len(s.latest))
	for id, ts := range s.latest {
		out[id] = ts
	}
	return out
}

func (s *HeartbeatStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.latest)
}
