package peers

import (
	"fmt"
	"net/netip"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Peers holds one Peer per UVN member and turns per-field updates into the
// higher-level events spec listeners care about. update_peer/process_updates
// in the teacher's idiom is UpdatePeer/ProcessUpdates here; the "dirty diff"
// concept is grounded on client/doublezerod/internal/liveness/manager.go's
// Session snapshot-before/snapshot-after comparison around HandleRx.
type Peers struct {
	mu        sync.Mutex
	selfID    string
	members   map[string]*Peer
	dirty     map[string]*Peer // id -> snapshot taken before this batch's first mutation
	listeners []Listener

	prevAllCellsConnected bool
	prevRoutedDiscovered  bool
	prevConsistentUVN     bool
	prevFullyRouted       bool
	prevRoutedNets        map[netip.Prefix]bool
	prevReachableNets     map[netip.Prefix]bool
	prevConsistentCells   map[string]bool
	prevVPNLinks          map[string]bool
}

// New returns an empty Peers collection for the local peer selfID.
func New(selfID string) *Peers {
	return &Peers{
		selfID:              selfID,
		members:             make(map[string]*Peer),
		dirty:               make(map[string]*Peer),
		prevRoutedNets:      make(map[netip.Prefix]bool),
		prevReachableNets:   make(map[netip.Prefix]bool),
		prevConsistentCells: make(map[string]bool),
		prevVPNLinks:        make(map[string]bool),
	}
}

// AddListener registers l to receive future ProcessUpdates events.
func (p *Peers) AddListener(l Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, l)
}

// Declare creates a peer in StatusDeclared from UVN membership. Declaring
// an already-known id is a no-op.
func (p *Peers) Declare(id string, kind Kind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.members[id]; ok {
		return
	}
	p.members[id] = newPeer(id, kind)
}

// Get returns the peer for id, if known.
func (p *Peers) Get(id string) (*Peer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	peer, ok := p.members[id]
	return peer, ok
}

// Self returns the local peer record.
func (p *Peers) Self() (*Peer, bool) {
	return p.Get(p.selfID)
}

// Update applies mutate to the peer named id and records its dirty diff
// for the next ProcessUpdates call. The first Update for a given id within
// a batch snapshots the peer's pre-mutation state; subsequent calls in the
// same batch mutate further without overwriting that snapshot.
func (p *Peers) Update(id string, mutate func(*Peer)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	peer, ok := p.members[id]
	if !ok {
		return fmt.Errorf("peers: unknown peer %q", id)
	}
	if _, ok := p.dirty[id]; !ok {
		p.dirty[id] = peer.clone()
	}
	mutate(peer)
	if peer.InstanceHandle == uuid.Nil {
		peer.InstanceHandle = uuid.New()
	}
	return nil
}

// ProcessUpdates collects every peer dirtied since the last call, derives
// the documented events, and dispatches them to registered listeners in
// spec order. Events are only dispatched while the local peer is online;
// the internal before/after trackers still advance either way so a later
// batch's diff is correct once the local peer comes online.
func (p *Peers) ProcessUpdates() {
	p.mu.Lock()
	dirty := p.dirty
	p.dirty = make(map[string]*Peer)
	listeners := append([]Listener(nil), p.listeners...)
	selfOnline := false
	if self, ok := p.members[p.selfID]; ok {
		selfOnline = self.Status == StatusOnline
	}

	onlineNew, onlineGone := p.diffOnlineCells(dirty)
	allConnected := p.allCellsConnected()
	allConnectedChanged := allConnected != p.prevAllCellsConnected
	p.prevAllCellsConnected = allConnected

	registryChanged, registryOnline := p.diffRegistryConnected(dirty)

	routedNew, routedGone := p.diffAggregateNets(p.routedNetsUnion(), p.prevRoutedNets)
	p.prevRoutedNets = p.routedNetsUnion()

	discovered := p.routedNetworksDiscovered()
	discoveredChanged := discovered != p.prevRoutedDiscovered
	p.prevRoutedDiscovered = discovered

	consistentNew, consistentGone := p.diffConsistentCells()

	consistentUVN := p.consistentConfigUVN()
	consistentUVNChanged := consistentUVN != p.prevConsistentUVN
	p.prevConsistentUVN = consistentUVN

	localReachNew, localReachGone := p.diffLocalReachable(dirty)

	reachNew, reachGone := p.diffAggregateNets(p.reachableNetsUnion(), p.prevReachableNets)
	p.prevReachableNets = p.reachableNetsUnion()

	fullyRouted := p.fullyRoutedUVN()
	fullyRoutedChanged := fullyRouted != p.prevFullyRouted
	p.prevFullyRouted = fullyRouted

	vpnNew, vpnGone := p.diffVPNLinks()

	p.mu.Unlock()

	if !selfOnline {
		return
	}

	for _, l := range listeners {
		if len(onlineNew) > 0 || len(onlineGone) > 0 {
			l.OnlineCells(onlineNew, onlineGone)
		}
		if allConnectedChanged {
			l.AllCellsConnected(allConnected)
		}
		if registryChanged {
			l.RegistryConnected(registryOnline)
		}
		if len(routedNew) > 0 || len(routedGone) > 0 {
			l.RoutedNetworks(routedNew, routedGone)
		}
		if discoveredChanged {
			l.RoutedNetworksDiscovered(discovered)
		}
		if len(consistentNew) > 0 || len(consistentGone) > 0 {
			l.ConsistentConfigCells(consistentNew, consistentGone)
		}
		if consistentUVNChanged {
			l.ConsistentConfigUVN(consistentUVN)
		}
		if len(localReachNew) > 0 || len(localReachGone) > 0 {
			l.LocalReachableNetworks(localReachNew, localReachGone)
		}
		if len(reachNew) > 0 || len(reachGone) > 0 {
			l.ReachableNetworks(reachNew, reachGone)
		}
		if fullyRoutedChanged {
			l.FullyRoutedUVN(fullyRouted)
		}
		if len(vpnNew) > 0 || len(vpnGone) > 0 {
			l.VPNConnections(vpnNew, vpnGone)
		}
	}
}

// AllCellsConnected reports whether every declared cell currently has
// status online. Unlike the AllCellsConnected listener event (which only
// fires on a transition), this is a point-in-time query, for callers that
// need to poll current state rather than react to edges (e.g. the
// registry's spin-until-rekeyed wait, which the original polls rather
// than subscribes to).
func (p *Peers) AllCellsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allCellsConnected()
}

// ConsistentConfigUVN reports whether every declared cell currently
// reports the same registry_id as the local peer.
func (p *Peers) ConsistentConfigUVN() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.consistentConfigUVN()
}

// CellNames returns the ids of every declared cell, sorted.
func (p *Peers) CellNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.members))
	for id, peer := range p.members {
		if peer.Kind == KindCell {
			names = append(names, id)
		}
	}
	sort.Strings(names)
	return names
}

// RemoteCellLANs returns, for every declared cell other than self, the LANs
// it currently reports as routed. Used by reachability probing to know what
// to probe without reaching into Peers internals.
func (p *Peers) RemoteCellLANs() map[string][]netip.Prefix {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string][]netip.Prefix)
	for id, peer := range p.members {
		if id == p.selfID || peer.Kind != KindCell {
			continue
		}
		out[id] = append([]netip.Prefix(nil), peer.RoutedNets...)
	}
	return out
}

func (p *Peers) diffOnlineCells(dirty map[string]*Peer) (newOnline, goneOnline []string) {
	for id, before := range dirty {
		after, ok := p.members[id]
		if !ok || after.Kind != KindCell {
			continue
		}
		if before.Status != StatusOnline && after.Status == StatusOnline {
			newOnline = append(newOnline, id)
		}
		if before.Status == StatusOnline && after.Status != StatusOnline {
			goneOnline = append(goneOnline, id)
		}
	}
	sort.Strings(newOnline)
	sort.Strings(goneOnline)
	return newOnline, goneOnline
}

func (p *Peers) allCellsConnected() bool {
	total, online := 0, 0
	for _, peer := range p.members {
		if peer.Kind != KindCell {
			continue
		}
		total++
		if peer.Status == StatusOnline {
			online++
		}
	}
	return total > 0 && total == online
}

func (p *Peers) diffRegistryConnected(dirty map[string]*Peer) (changed, online bool) {
	for id, before := range dirty {
		after, ok := p.members[id]
		if !ok || after.Kind != KindRegistry {
			continue
		}
		if before.Status != after.Status {
			return true, after.Status == StatusOnline
		}
	}
	return false, false
}

func (p *Peers) routedNetsUnion() map[netip.Prefix]bool {
	out := make(map[netip.Prefix]bool)
	for id, peer := range p.members {
		if id == p.selfID || peer.Kind != KindCell {
			continue
		}
		for _, n := range peer.RoutedNets {
			out[n] = true
		}
	}
	return out
}

func (p *Peers) reachableNetsUnion() map[netip.Prefix]bool {
	out := make(map[netip.Prefix]bool)
	for id, peer := range p.members {
		if id == p.selfID || peer.Kind != KindCell {
			continue
		}
		for _, n := range peer.ReachableNets {
			out[n] = true
		}
	}
	return out
}

func (p *Peers) diffAggregateNets(current, previous map[netip.Prefix]bool) (add, remove []netip.Prefix) {
	for n := range current {
		if !previous[n] {
			add = append(add, n)
		}
	}
	for n := range previous {
		if !current[n] {
			remove = append(remove, n)
		}
	}
	sortPrefixes(add)
	sortPrefixes(remove)
	return add, remove
}

// routedNetworksDiscovered toggles when the union of remote routed_networks
// equals the expected union from UVN membership. This module has no
// separate "expected networks" input, so the expectation is the routed
// union reported by every currently-declared cell peer: it is "discovered"
// once every declared cell has reported at least one routed network (or
// there are no cell peers at all to wait on).
func (p *Peers) routedNetworksDiscovered() bool {
	for id, peer := range p.members {
		if id == p.selfID || peer.Kind != KindCell {
			continue
		}
		if len(peer.RoutedNets) == 0 {
			return false
		}
	}
	return true
}

func (p *Peers) diffConsistentCells() (newCells, goneCells []string) {
	self, ok := p.members[p.selfID]
	if !ok {
		return nil, nil
	}
	current := make(map[string]bool)
	for id, peer := range p.members {
		if id == p.selfID || peer.Kind != KindCell {
			continue
		}
		if peer.RegistryID != "" && peer.RegistryID == self.RegistryID {
			current[id] = true
		}
	}
	for id := range current {
		if !p.prevConsistentCells[id] {
			newCells = append(newCells, id)
		}
	}
	for id := range p.prevConsistentCells {
		if !current[id] {
			goneCells = append(goneCells, id)
		}
	}
	sort.Strings(newCells)
	sort.Strings(goneCells)
	p.prevConsistentCells = current
	return newCells, goneCells
}

func (p *Peers) consistentConfigUVN() bool {
	self, ok := p.members[p.selfID]
	if !ok || self.RegistryID == "" {
		return false
	}
	total := 0
	for id, peer := range p.members {
		if id == p.selfID || peer.Kind != KindCell {
			continue
		}
		total++
		if peer.RegistryID != self.RegistryID {
			return false
		}
	}
	return true
}

func (p *Peers) diffLocalReachable(dirty map[string]*Peer) (newNets, goneNets []netip.Prefix) {
	before, ok := dirty[p.selfID]
	if !ok {
		return nil, nil
	}
	after, ok := p.members[p.selfID]
	if !ok {
		return nil, nil
	}
	beforeSet := toPrefixSet(before.ReachableNets)
	afterSet := toPrefixSet(after.ReachableNets)
	return p.diffAggregateNets(afterSet, beforeSet)
}

// fullyRoutedUVN toggles when every cell reports reachability to every
// expected subnet, which here is every subnet routed by any cell.
func (p *Peers) fullyRoutedUVN() bool {
	expected := p.routedNetsUnion()
	if len(expected) == 0 {
		return false
	}
	for id, peer := range p.members {
		if id == p.selfID || peer.Kind != KindCell {
			continue
		}
		reachable := toPrefixSet(peer.ReachableNets)
		for n := range expected {
			if !reachable[n] {
				return false
			}
		}
	}
	return true
}

func (p *Peers) diffVPNLinks() (newLinks, goneLinks []string) {
	current := make(map[string]bool)
	for id, peer := range p.members {
		for iface, link := range peer.VPNLinkStatus {
			if link.Online {
				current[id+"/"+iface] = true
			}
		}
	}
	for key := range current {
		if !p.prevVPNLinks[key] {
			newLinks = append(newLinks, key)
		}
	}
	for key := range p.prevVPNLinks {
		if !current[key] {
			goneLinks = append(goneLinks, key)
		}
	}
	sort.Strings(newLinks)
	sort.Strings(goneLinks)
	p.prevVPNLinks = current
	return newLinks, goneLinks
}

func toPrefixSet(prefixes []netip.Prefix) map[netip.Prefix]bool {
	out := make(map[netip.Prefix]bool, len(prefixes))
	for _, p := range prefixes {
		out[p] = true
	}
	return out
}

func sortPrefixes(prefixes []netip.Prefix) {
	sort.Slice(prefixes, func(i, j int) bool {
		return prefixes[i].String() < prefixes[j].String()
	})
}
