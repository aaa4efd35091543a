package vpnconfig

import (
	"net/netip"
	"testing"

	"github.com/jonboulle/clockwork"

	"github.com/mentalsmash/uno/internal/deployment"
)

func mustPrefix(t *testing.T, s string) netip.Prefix {
	t.Helper()
	p, err := netip.ParsePrefix(s)
	if err != nil {
		t.Fatalf("ParsePrefix(%q): %v", s, err)
	}
	return p
}

func mustAddrPort(t *testing.T, s string) netip.AddrPort {
	t.Helper()
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		t.Fatalf("ParseAddrPort(%q): %v", s, err)
	}
	return ap
}

func TestCentralizedAssignsSequentialAddresses(t *testing.T) {
	keys, err := NewCentralizedKeyMaterial()
	if err != nil {
		t.Fatal(err)
	}
	peerIDs := []int{1, 2, 3}
	if err := keys.AssertPeers(peerIDs); err != nil {
		t.Fatal(err)
	}

	root, peers, err := Centralized(CentralizedRequest{
		PeerIDs: peerIDs,
		Subnet:  mustPrefix(t, "10.254.0.0/24"),
		Port:    63001,
		Keys:    keys,
	})
	if err != nil {
		t.Fatal(err)
	}

	if root.Address.Addr().String() != "10.254.0.1" {
		t.Fatalf("root address = %s, want 10.254.0.1", root.Address.Addr())
	}
	want := map[int]string{1: "10.254.0.2", 2: "10.254.0.3", 3: "10.254.0.4"}
	for id, addr := range want {
		if peers[id].Address.Addr().String() != addr {
			t.Fatalf("peer %d address = %s, want %s", id, peers[id].Address.Addr(), addr)
		}
	}
	if len(root.Peers) != 3 {
		t.Fatalf("root has %d peer entries, want 3", len(root.Peers))
	}
}

func TestCentralizedNoRootEndpointMeansPeerKeepalive(t *testing.T) {
	keys, err := NewCentralizedKeyMaterial()
	if err != nil {
		t.Fatal(err)
	}
	if err := keys.AssertPeers([]int{1}); err != nil {
		t.Fatal(err)
	}
	_, peers, err := Centralized(CentralizedRequest{
		PeerIDs: []int{1},
		Subnet:  mustPrefix(t, "10.254.0.0/24"),
		Port:    63001,
		Keys:    keys,
	})
	if err != nil {
		t.Fatal(err)
	}
	if peers[1].Peers[0].PersistentKeepalive == 0 {
		t.Fatal("peer with no root endpoint should keepalive")
	}
}

func TestCentralizedRootEndpointMeansNoPeerKeepalive(t *testing.T) {
	keys, err := NewCentralizedKeyMaterial()
	if err != nil {
		t.Fatal(err)
	}
	if err := keys.AssertPeers([]int{1}); err != nil {
		t.Fatal(err)
	}
	_, peers, err := Centralized(CentralizedRequest{
		PeerIDs:      []int{1},
		Subnet:       mustPrefix(t, "10.254.0.0/24"),
		Port:         63001,
		RootEndpoint: mustAddrPort(t, "203.0.113.1:63001"),
		Keys:         keys,
	})
	if err != nil {
		t.Fatal(err)
	}
	if peers[1].Peers[0].PersistentKeepalive != 0 {
		t.Fatal("peer dialing a public root should not need a keepalive")
	}
	if peers[1].Peers[0].Endpoint != mustAddrPort(t, "203.0.113.1:63001") {
		t.Fatal("peer should dial the declared root endpoint")
	}
}

func TestP2PEmitsOneEdgeTunnelPerEdge(t *testing.T) {
	d, err := deployment.Plan(deployment.Request{
		Peers:    []int{1, 2, 3},
		Strategy: deployment.FullMesh,
		Pool:     mustPrefix(t, "10.255.192.0/20"),
		Clock:    clockwork.NewFakeClock(),
	})
	if err != nil {
		t.Fatal(err)
	}

	keys := NewP2PKeyMaterial()
	if err := keys.AssertCells([]int{1, 2, 3}, d); err != nil {
		t.Fatal(err)
	}

	cells := map[int]CellNetwork{
		1: {PublicEndpoint: mustAddrPort(t, "203.0.113.1:63001"), BasePort: 63001},
		2: {PublicEndpoint: mustAddrPort(t, "203.0.113.2:63001"), BasePort: 63001},
		3: {BasePort: 63001}, // private
	}

	tunnels, err := P2P(P2PRequest{Deployment: d, Cells: cells, Keys: keys})
	if err != nil {
		t.Fatal(err)
	}

	// Full mesh over 3 cells: each cell has 2 edges, i.e. 2 EdgeTunnels.
	for id := 1; id <= 3; id++ {
		if len(tunnels[id]) != 2 {
			t.Fatalf("cell %d has %d edge tunnels, want 2", id, len(tunnels[id]))
		}
	}

	// Cell 3 is private: every one of its tunnels must keepalive, and its
	// peer entries must carry the peer's public endpoint.
	for _, et := range tunnels[3] {
		if et.Config.Peers[0].PersistentKeepalive == 0 {
			t.Fatalf("private cell's edge to %d should keepalive", et.PeerID)
		}
		if !et.Config.Peers[0].Endpoint.IsValid() {
			t.Fatalf("private cell's edge to public cell %d should have an endpoint", et.PeerID)
		}
	}

	// Two public cells (1,2) peering with each other: both declare
	// endpoints, neither needs a keepalive.
	for _, et := range tunnels[1] {
		if et.PeerID != 2 {
			continue
		}
		if et.Config.Peers[0].PersistentKeepalive != 0 {
			t.Fatal("two public cells should not need a keepalive between them")
		}
	}
}

func TestP2PAllowedIPsIncludeLinkSubnetAndPeerLANs(t *testing.T) {
	d, err := deployment.Plan(deployment.Request{
		Peers:    []int{1, 2},
		Strategy: deployment.FullMesh,
		Pool:     mustPrefix(t, "10.255.192.0/20"),
		Clock:    clockwork.NewFakeClock(),
	})
	if err != nil {
		t.Fatal(err)
	}
	keys := NewP2PKeyMaterial()
	if err := keys.AssertCells([]int{1, 2}, d); err != nil {
		t.Fatal(err)
	}
	peerLAN := mustPrefix(t, "192.168.2.0/24")
	cells := map[int]CellNetwork{
		1: {PublicEndpoint: mustAddrPort(t, "203.0.113.1:63001"), BasePort: 63001},
		2: {PublicEndpoint: mustAddrPort(t, "203.0.113.2:63001"), BasePort: 63001, AllowedLANs: []netip.Prefix{peerLAN}},
	}
	tunnels, err := P2P(P2PRequest{Deployment: d, Cells: cells, Keys: keys})
	if err != nil {
		t.Fatal(err)
	}
	entry := tunnels[1][0].Config.Peers[0]
	found := false
	for _, p := range entry.AllowedIPs {
		if p == peerLAN {
			found = true
		}
	}
	if !found {
		t.Fatal("expected peer 2's allowed LAN to appear in cell 1's allowed_ips")
	}
}
