// Package deployment computes the backbone topology (peer-to-peer tunnel
// mesh among cells) and carves per-link address space from a shared pool,
// per spec §4.2.
package deployment

import (
	"fmt"
	"net/netip"
	"sort"
	"time"
)

// Link describes one side's view of a backbone edge to a peer cell.
type Link struct {
	PortIndex   int          // backbone.port + PortIndex is the local listen port
	LocalAddr   netip.Addr   // address on LinkSubnet assigned to the local side
	RemoteAddr  netip.Addr   // address on LinkSubnet assigned to the remote side
	LinkSubnet  netip.Prefix // the /31 carved from the backbone pool for this edge
}

// PeerSlot is one cell's row in the deployment: its UI ordinal plus its
// links to other cells, keyed by the peer cell's id.
type PeerSlot struct {
	N     int
	Peers map[int]Link
}

// Deployment is a concrete backbone topology: for every cell with backbone
// peers, the set of links to those peers.
type Deployment struct {
	GenerationTS time.Time
	Peers        map[int]*PeerSlot
}

// Peer returns the deployment's view of cell id's row, or nil if it has no
// backbone peers (e.g. a lone cell in a single-cell UVN).
func (d *Deployment) Peer(id int) *PeerSlot {
	return d.Peers[id]
}

// HasEdge reports whether a and b are connected in the deployment.
func (d *Deployment) HasEdge(a, b int) bool {
	slot := d.Peers[a]
	if slot == nil {
		return false
	}
	_, ok := slot.Peers[b]
	return ok
}

// Validate checks the symmetry invariant from spec §8: for every edge
// (a, b), a's record of b and b's record of a exist, share the same link
// subnet, and have swapped local/remote addresses.
func (d *Deployment) Validate() error {
	for aID, slot := range d.Peers {
		for bID, ab := range slot.Peers {
			otherSlot := d.Peers[bID]
			if otherSlot == nil {
				return fmt.Errorf("deployment: cell %d has edge to %d but %d has no peer slot", aID, bID, bID)
			}
			ba, ok := otherSlot.Peers[aID]
			if !ok {
				return fmt.Errorf("deployment: edge %d->%d has no reverse edge %d->%d", aID, bID, bID, aID)
			}
			if ab.LinkSubnet != ba.LinkSubnet {
				return fmt.Errorf("deployment: edge %d-%d link subnet mismatch: %s vs %s", aID, bID, ab.LinkSubnet, ba.LinkSubnet)
			}
			if ab.LocalAddr != ba.RemoteAddr || ab.RemoteAddr != ba.LocalAddr {
				return fmt.Errorf("deployment: edge %d-%d addresses not swapped between sides", aID, bID)
			}
		}
	}
	return nil
}

// Edges returns every edge (a, b) with a < b, sorted, useful for tests and
// for feeding RouterDriver/VpnConfig generation deterministically.
func (d *Deployment) Edges() [][2]int {
	seen := map[[2]int]bool{}
	var edges [][2]int
	ids := make([]int, 0, len(d.Peers))
	for id := range d.Peers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, a := range ids {
		peerIDs := make([]int, 0, len(d.Peers[a].Peers))
		for b := range d.Peers[a].Peers {
			peerIDs = append(peerIDs, b)
		}
		sort.Ints(peerIDs)
		for _, b := range peerIDs {
			lo, hi := a, b
			if lo > hi {
				lo, hi = hi, lo
			}
			e := [2]int{lo, hi}
			if seen[e] {
				continue
			}
			seen[e] = true
			edges = append(edges, e)
		}
	}
	return edges
}
