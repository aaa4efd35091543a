package reachability

import (
	"net/netip"
	"testing"
	"time"
)

func TestStoreSetGetRoundTrips(t *testing.T) {
	s := newStore()
	lan := RoutedLAN{CellID: "cell-b", Prefix: netip.MustParsePrefix("10.1.0.0/24")}
	want := Result{Reachable: true, NextHop: netip.MustParseAddr("10.255.0.2"), CheckedAt: time.Now()}

	s.Set(lan, want)
	got, ok := s.Get(lan)
	if !ok || got != want {
		t.Fatalf("Get() = %v, %v, want %v, true", got, ok, want)
	}
}

func TestStorePruneDropsUnkept(t *testing.T) {
	s := newStore()
	keepLAN := RoutedLAN{CellID: "cell-b", Prefix: netip.MustParsePrefix("10.1.0.0/24")}
	dropLAN := RoutedLAN{CellID: "cell-c", Prefix: netip.MustParsePrefix("10.2.0.0/24")}
	s.Set(keepLAN, Result{Reachable: true})
	s.Set(dropLAN, Result{Reachable: false})

	s.Prune(map[RoutedLAN]bool{keepLAN: true})

	if _, ok := s.Get(dropLAN); ok {
		t.Fatal("expected dropLAN to be pruned")
	}
	if _, ok := s.Get(keepLAN); !ok {
		t.Fatal("expected keepLAN to survive prune")
	}
}

func TestStoreSnapshotIsACopy(t *testing.T) {
	s := newStore()
	lan := RoutedLAN{CellID: "cell-b", Prefix: netip.MustParsePrefix("10.1.0.0/24")}
	s.Set(lan, Result{Reachable: true})

	snap := s.Snapshot()
	snap[lan] = Result{Reachable: false}

	got, _ := s.Get(lan)
	if !got.Reachable {
		t.Fatal("mutating a Snapshot must not affect the store")
	}
}
