package reachability

import (
	"net/netip"
	"sync"
	"time"
)

// RoutedLAN identifies one subnet a remote cell has advertised as routed.
type RoutedLAN struct {
	CellID string
	Prefix netip.Prefix
}

// Result is the most recent probe outcome for a RoutedLAN.
type Result struct {
	Reachable bool
	NextHop   netip.Addr
	CheckedAt time.Time
}

// store is a threadsafe cache of the last probe result per RoutedLAN, kept
// around so the agent can display next-hop and reachability state between
// probe cycles without re-probing.
type store struct {
	mu sync.RWMutex
	m  map[RoutedLAN]Result
}

func newStore() *store { return &store{m: make(map[RoutedLAN]Result)} }

func (s *store) Set(k RoutedLAN, v Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[k] = v
}

func (s *store) Get(k RoutedLAN) (Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[k]
	return v, ok
}

// Snapshot returns a copy of the full result set, for display or diffing.
func (s *store) Snapshot() map[RoutedLAN]Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[RoutedLAN]Result, len(s.m))
	for k, v := range s.m {
		out[k] = v
	}
	return out
}

// Prune drops cached results for LANs no longer present in keep.
func (s *store) Prune(keep map[RoutedLAN]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.m {
		if !keep[k] {
			delete(s.m, k)
		}
	}
}
