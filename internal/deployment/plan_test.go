package deployment

import (
	"net/netip"
	"testing"

	"github.com/jonboulle/clockwork"
)

func mustPrefix(t *testing.T, s string) netip.Prefix {
	t.Helper()
	p, err := netip.ParsePrefix(s)
	if err != nil {
		t.Fatalf("ParsePrefix(%q): %v", s, err)
	}
	return p
}

// Scenario 1: three public cells, crossed strategy. With n=3 the crossed
// strategy degenerates to a plain ring (no antipode chord below 4 nodes),
// so each cell gets exactly 2 backbone tunnels and there are 3 distinct
// link subnets.
func TestPlanThreePublicCellsCrossed(t *testing.T) {
	req := Request{
		Peers:    []int{1, 2, 3},
		Strategy: Crossed,
		Pool:     mustPrefix(t, "10.255.192.0/20"),
		BasePort: 63001,
		Clock:    clockwork.NewFakeClock(),
	}
	d, err := Plan(req)
	if err != nil {
		t.Fatal(err)
	}

	for _, id := range req.Peers {
		slot := d.Peer(id)
		if slot == nil {
			t.Fatalf("cell %d has no peer slot", id)
		}
		if len(slot.Peers) != 2 {
			t.Fatalf("cell %d has %d backbone tunnels, want 2", id, len(slot.Peers))
		}
	}

	subnets := map[netip.Prefix]bool{}
	for _, e := range d.Edges() {
		link := d.Peer(e[0]).Peers[e[1]]
		subnets[link.LinkSubnet] = true
	}
	if len(subnets) != 3 {
		t.Fatalf("got %d distinct link subnets, want 3", len(subnets))
	}
	for s := range subnets {
		if !req.Pool.Contains(s.Addr()) {
			t.Fatalf("link subnet %s not carved from pool %s", s, req.Pool)
		}
	}
}

// Scenario 2: one private cell among public cells must peer with a public
// cell, never with another private cell (there are none here to confuse
// it with), and the deployment must validate.
func TestPlanPrivateCellAttachesToPublicCells(t *testing.T) {
	req := Request{
		Peers:        []int{1, 2, 3},
		PrivatePeers: map[int]bool{3: true},
		Strategy:     FullMesh,
		Pool:         mustPrefix(t, "10.255.192.0/20"),
		Clock:        clockwork.NewFakeClock(),
	}
	d, err := Plan(req)
	if err != nil {
		t.Fatal(err)
	}

	slot := d.Peer(3)
	if slot == nil || len(slot.Peers) == 0 {
		t.Fatal("private cell 3 has no backbone peers")
	}
	for peerID := range slot.Peers {
		if req.PrivatePeers[peerID] {
			t.Fatalf("private cell 3 peered with another private cell %d", peerID)
		}
	}
	if !d.HasEdge(1, 3) || !d.HasEdge(2, 3) {
		t.Fatal("private cell 3 should peer with every public cell")
	}
}

func TestPlanAllCellsPrivateIsRejected(t *testing.T) {
	req := Request{
		Peers:        []int{1, 2},
		PrivatePeers: map[int]bool{1: true, 2: true},
		Strategy:     FullMesh,
		Pool:         mustPrefix(t, "10.255.192.0/20"),
		Clock:        clockwork.NewFakeClock(),
	}
	if _, err := Plan(req); err == nil {
		t.Fatal("expected rejection when there is no public cell for private cells to peer with")
	}
}

func TestPlanSingleCellHasNoPeers(t *testing.T) {
	req := Request{
		Peers: []int{1},
		Pool:  mustPrefix(t, "10.255.192.0/20"),
		Clock: clockwork.NewFakeClock(),
	}
	d, err := Plan(req)
	if err != nil {
		t.Fatal(err)
	}
	if slot := d.Peer(1); slot == nil || len(slot.Peers) != 0 {
		t.Fatalf("single cell deployment should have an empty peer slot, got %+v", slot)
	}
}

func TestPlanExhaustedPoolIsRejected(t *testing.T) {
	req := Request{
		Peers:    []int{1, 2, 3, 4},
		Strategy: FullMesh, // 6 edges, each needing a distinct /31
		Pool:     mustPrefix(t, "10.255.192.0/31"),
		Clock:    clockwork.NewFakeClock(),
	}
	if _, err := Plan(req); err == nil {
		t.Fatal("expected pool exhaustion to be rejected")
	}
}

func TestPlanRejectsDisconnectedStaticGraph(t *testing.T) {
	req := Request{
		Peers:    []int{1, 2, 3, 4},
		Strategy: Static,
		StrategyArgs: map[string]any{
			"edges": [][2]int{{1, 2}, {3, 4}},
		},
		Pool:  mustPrefix(t, "10.255.192.0/20"),
		Clock: clockwork.NewFakeClock(),
	}
	if _, err := Plan(req); err == nil {
		t.Fatal("expected disconnected static topology to be rejected")
	}
}

func TestPlanLinksAreSymmetric(t *testing.T) {
	req := Request{
		Peers:    []int{1, 2, 3, 4, 5},
		Strategy: Crossed,
		Pool:     mustPrefix(t, "10.255.192.0/20"),
		Clock:    clockwork.NewFakeClock(),
	}
	d, err := Plan(req)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Validate(); err != nil {
		t.Fatalf("deployment failed its own symmetry invariant: %v", err)
	}
}
