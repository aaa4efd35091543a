package router

import (
	"net/netip"
	"strings"
	"testing"
)

func TestRenderConfigIncludesNeighborsAndNetworks(t *testing.T) {
	cfg := Config{
		RouterID: netip.MustParseAddr("10.0.0.1"),
		LocalASN: 65001,
		Hostname: "cell-a",
		Tunnels: []TunnelPeer{
			{InterfaceName: "wg-cell-b", LocalAddr: netip.MustParseAddr("10.255.192.0"), RemoteAddr: netip.MustParseAddr("10.255.192.1"), RemoteASN: 65002},
		},
		LANs: []netip.Prefix{netip.MustParsePrefix("192.168.10.0/24")},
	}

	out, err := renderConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"hostname cell-a",
		"router bgp 65001",
		"bgp router-id 10.0.0.1",
		"neighbor 10.255.192.1 remote-as 65002",
		"neighbor 10.255.192.1 interface wg-cell-b",
		"network 192.168.10.0/24",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered config missing %q:\n%s", want, out)
		}
	}
}

func TestRenderConfigWithNoTunnelsOrLANs(t *testing.T) {
	cfg := Config{RouterID: netip.MustParseAddr("10.0.0.1"), LocalASN: 65001, Hostname: "solo"}
	out, err := renderConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "router bgp 65001") {
		t.Errorf("rendered config missing router bgp line:\n%s", out)
	}
	if strings.Contains(out, "neighbor") {
		t.Errorf("rendered config should have no neighbor lines with zero tunnels:\n%s", out)
	}
}
