package reachability

import (
	"errors"
	"net/netip"
	"testing"

	nl "github.com/vishvananda/netlink"
)

func TestKernelGatewayResolverReturnsGateway(t *testing.T) {
	r := &KernelGatewayResolver{
		route: func(dst netip.Addr) ([]nl.Route, error) {
			return []nl.Route{{Gw: netip.MustParseAddr("10.255.0.1").AsSlice()}}, nil
		},
	}
	lan := RoutedLAN{CellID: "cell-b", Prefix: netip.MustParsePrefix("10.1.0.0/24")}

	gw, ok := r.Gateway(lan)
	if !ok || gw != netip.MustParseAddr("10.255.0.1") {
		t.Fatalf("Gateway() = %v, %v, want 10.255.0.1, true", gw, ok)
	}
}

func TestKernelGatewayResolverNoRouteFound(t *testing.T) {
	r := &KernelGatewayResolver{
		route: func(dst netip.Addr) ([]nl.Route, error) {
			return nil, errors.New("no route to host")
		},
	}
	lan := RoutedLAN{CellID: "cell-b", Prefix: netip.MustParsePrefix("10.1.0.0/24")}

	if _, ok := r.Gateway(lan); ok {
		t.Fatal("expected no gateway when route lookup fails")
	}
}
