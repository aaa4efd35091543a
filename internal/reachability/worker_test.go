package reachability

import (
	"context"
	"net/netip"
	"testing"
)

func fakePing(up map[string]bool) PingFunc {
	return func(ctx context.Context, addr netip.Addr) (bool, error) {
		return up[addr.String()], nil
	}
}

func TestProbeAllReportsReachability(t *testing.T) {
	gwUp := netip.MustParseAddr("10.255.0.2")
	gwDown := netip.MustParseAddr("10.255.0.3")
	w := newWorker(fakePing(map[string]bool{gwUp.String(): true}), 4)

	lanUp := RoutedLAN{CellID: "cell-b", Prefix: netip.MustParsePrefix("10.1.0.0/24")}
	lanDown := RoutedLAN{CellID: "cell-c", Prefix: netip.MustParsePrefix("10.2.0.0/24")}
	resolve := func(lan RoutedLAN) (netip.Addr, bool) {
		switch lan.CellID {
		case "cell-b":
			return gwUp, true
		case "cell-c":
			return gwDown, true
		}
		return netip.Addr{}, false
	}

	results := w.probeAll(context.Background(), []RoutedLAN{lanUp, lanDown}, resolve)

	if !results[lanUp].Reachable {
		t.Fatalf("expected lanUp reachable, got %+v", results[lanUp])
	}
	if results[lanDown].Reachable {
		t.Fatalf("expected lanDown unreachable, got %+v", results[lanDown])
	}
}

func TestProbeAllSkipsUnresolvedGateways(t *testing.T) {
	w := newWorker(fakePing(nil), 4)
	lan := RoutedLAN{CellID: "cell-b", Prefix: netip.MustParsePrefix("10.1.0.0/24")}
	resolve := func(RoutedLAN) (netip.Addr, bool) { return netip.Addr{}, false }

	results := w.probeAll(context.Background(), []RoutedLAN{lan}, resolve)

	if len(results) != 0 {
		t.Fatalf("expected no results for unresolved gateway, got %v", results)
	}
}
