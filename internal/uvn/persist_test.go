package uvn

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// netip.Addr/Prefix carry unexported fields that cmp refuses to descend
// into without an explicit comparer; compare by canonical string form
// instead.
var cmpAddrPrefixOpts = cmp.Options{
	cmp.Comparer(func(a, b Addr) bool { return a.String() == b.String() }),
	cmp.Comparer(func(a, b Prefix) bool { return a.String() == b.String() }),
}

func TestSaveLoadRoundTrip(t *testing.T) {
	u := New("myuvn", "alice")
	if _, err := u.AddCell(Cell{
		Name:          "a",
		Owner:         "alice",
		PublicAddress: mustAddr(t, "1.2.3.4"),
		AllowedLANs:   []Prefix{mustPrefix(t, "192.168.1.0/24")},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := u.AddParticle(Particle{Name: "p1", Owner: "alice"}); err != nil {
		t.Fatal(err)
	}
	u.Settings.TimingProfile = TimingFast
	u.Settings.Backbone.DeploymentStrategy = StrategyCrossedRing
	u.Settings.Backbone.Subnet = mustPrefix(t, "10.255.192.0/20")

	path := filepath.Join(t.TempDir(), "uvn.yaml")
	if err := u.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(u, loaded, cmpAddrPrefixOpts); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveTwiceIsIdempotent(t *testing.T) {
	u := New("myuvn", "alice")
	path := filepath.Join(t.TempDir(), "uvn.yaml")

	if err := u.Save(path); err != nil {
		t.Fatal(err)
	}
	first, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := u.Save(path); err != nil {
		t.Fatal(err)
	}
	second, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(first, second, cmpAddrPrefixOpts); diff != "" {
		t.Fatalf("expected both saves to load as identical documents, diff (-first +second):\n%s", diff)
	}
}
