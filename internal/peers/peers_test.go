package peers

import (
	"net/netip"
	"testing"
)

type recordingListener struct {
	BaseListener
	onlineNew, onlineGone []string
	allConnectedCalls     []bool
	registryCalls         []bool
	routedNew, routedGone []netip.Prefix
	discoveredCalls       []bool
	fullyRoutedCalls      []bool
}

func (r *recordingListener) OnlineCells(newCells, goneCells []string) {
	r.onlineNew = append(r.onlineNew, newCells...)
	r.onlineGone = append(r.onlineGone, goneCells...)
}
func (r *recordingListener) AllCellsConnected(connected bool) {
	r.allConnectedCalls = append(r.allConnectedCalls, connected)
}
func (r *recordingListener) RegistryConnected(connected bool) {
	r.registryCalls = append(r.registryCalls, connected)
}
func (r *recordingListener) RoutedNetworks(newNets, goneNets []netip.Prefix) {
	r.routedNew = append(r.routedNew, newNets...)
	r.routedGone = append(r.routedGone, goneNets...)
}
func (r *recordingListener) RoutedNetworksDiscovered(discovered bool) {
	r.discoveredCalls = append(r.discoveredCalls, discovered)
}
func (r *recordingListener) FullyRoutedUVN(fully bool) {
	r.fullyRoutedCalls = append(r.fullyRoutedCalls, fully)
}

func setupPeers(t *testing.T) (*Peers, *recordingListener) {
	t.Helper()
	p := New("self")
	p.Declare("self", KindCell)
	p.Declare("registry", KindRegistry)
	p.Declare("cell-b", KindCell)
	l := &recordingListener{}
	p.AddListener(l)

	if err := p.Update("self", func(peer *Peer) { peer.Status = StatusOnline }); err != nil {
		t.Fatal(err)
	}
	p.ProcessUpdates()
	// Reset recorded online transition for "self" itself (self is not Kind
	// cell in the online_cells sense here since self IS a cell, but tests
	// below focus on cell-b/registry transitions).
	*l = recordingListener{}
	return p, l
}

func TestOnlineCellsFiresOnTransition(t *testing.T) {
	p, l := setupPeers(t)

	if err := p.Update("cell-b", func(peer *Peer) { peer.Status = StatusOnline }); err != nil {
		t.Fatal(err)
	}
	p.ProcessUpdates()

	if len(l.onlineNew) != 1 || l.onlineNew[0] != "cell-b" {
		t.Fatalf("onlineNew = %v, want [cell-b]", l.onlineNew)
	}
}

func TestAllCellsConnectedTogglesOnlyOnce(t *testing.T) {
	p, l := setupPeers(t)

	if err := p.Update("cell-b", func(peer *Peer) { peer.Status = StatusOnline }); err != nil {
		t.Fatal(err)
	}
	p.ProcessUpdates()
	if len(l.allConnectedCalls) != 1 || !l.allConnectedCalls[0] {
		t.Fatalf("allConnectedCalls = %v, want [true]", l.allConnectedCalls)
	}

	// Second batch with no status change should not refire.
	if err := p.Update("cell-b", func(peer *Peer) { peer.RegistryID = "abc" }); err != nil {
		t.Fatal(err)
	}
	p.ProcessUpdates()
	if len(l.allConnectedCalls) != 1 {
		t.Fatalf("allConnectedCalls fired again without a state change: %v", l.allConnectedCalls)
	}
}

func TestRegistryConnectedFiresOnStatusChange(t *testing.T) {
	p, l := setupPeers(t)

	if err := p.Update("registry", func(peer *Peer) { peer.Status = StatusOnline }); err != nil {
		t.Fatal(err)
	}
	p.ProcessUpdates()

	if len(l.registryCalls) != 1 || !l.registryCalls[0] {
		t.Fatalf("registryCalls = %v, want [true]", l.registryCalls)
	}
}

func TestRoutedNetworksAggregatesAcrossCells(t *testing.T) {
	p, l := setupPeers(t)
	net1 := netip.MustParsePrefix("10.1.0.0/24")

	if err := p.Update("cell-b", func(peer *Peer) { peer.RoutedNets = []netip.Prefix{net1} }); err != nil {
		t.Fatal(err)
	}
	p.ProcessUpdates()

	if len(l.routedNew) != 1 || l.routedNew[0] != net1 {
		t.Fatalf("routedNew = %v, want [%s]", l.routedNew, net1)
	}
}

func TestEventsDoNotFireWhileSelfOffline(t *testing.T) {
	p := New("self")
	p.Declare("self", KindCell)
	p.Declare("cell-b", KindCell)
	l := &recordingListener{}
	p.AddListener(l)

	if err := p.Update("cell-b", func(peer *Peer) { peer.Status = StatusOnline }); err != nil {
		t.Fatal(err)
	}
	p.ProcessUpdates()

	if len(l.onlineNew) != 0 {
		t.Fatalf("listener should not fire while local peer is offline, got onlineNew=%v", l.onlineNew)
	}
}

func TestUpdateUnknownPeerFails(t *testing.T) {
	p := New("self")
	if err := p.Update("ghost", func(peer *Peer) {}); err == nil {
		t.Fatal("expected an error updating an undeclared peer")
	}
}

func TestDeclareIsIdempotent(t *testing.T) {
	p := New("self")
	p.Declare("cell-b", KindCell)
	if err := p.Update("cell-b", func(peer *Peer) { peer.RegistryID = "x" }); err != nil {
		t.Fatal(err)
	}
	p.Declare("cell-b", KindCell)
	peer, _ := p.Get("cell-b")
	if peer.RegistryID != "x" {
		t.Fatal("re-declaring an existing peer should not reset its state")
	}
}
