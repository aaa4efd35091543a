package registry

import (
	"net/netip"
	"testing"

	"github.com/mentalsmash/uno/internal/uvn"
)

func mustPrefix(t *testing.T, s string) netip.Prefix {
	t.Helper()
	p, err := netip.ParsePrefix(s)
	if err != nil {
		t.Fatalf("ParsePrefix(%q): %v", s, err)
	}
	return p
}

func mustAddr(t *testing.T, s string) netip.Addr {
	t.Helper()
	a, err := netip.ParseAddr(s)
	if err != nil {
		t.Fatalf("ParseAddr(%q): %v", s, err)
	}
	return a
}

func testSettings(t *testing.T) uvn.Settings {
	t.Helper()
	return uvn.Settings{
		Root: uvn.VPNProfile{
			Port:   7770,
			Subnet: uvn.PrefixFrom(mustPrefix(t, "10.250.0.0/24")),
		},
		Particles: uvn.VPNProfile{
			Port:   7771,
			Subnet: uvn.PrefixFrom(mustPrefix(t, "10.251.0.0/24")),
		},
		Backbone: uvn.BackboneProfile{
			VPNProfile: uvn.VPNProfile{
				Port:   7772,
				Subnet: uvn.PrefixFrom(mustPrefix(t, "10.255.192.0/20")),
			},
			DeploymentStrategy: uvn.StrategyFullMesh,
		},
		EnableRootVPN:      true,
		EnableParticlesVPN: true,
	}
}

// newTestRegistry returns a Registry over a two-cell, one-particle UVN:
// cell "a" is public, cell "b" is private.
func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	doc := uvn.New("test-uvn", "alice")
	doc.Settings = testSettings(t)

	if _, err := doc.AddCell(uvn.Cell{
		Name:          "a",
		Owner:         "alice",
		PublicAddress: uvn.AddrFrom(mustAddr(t, "1.2.3.4")),
	}); err != nil {
		t.Fatalf("AddCell(a): %v", err)
	}
	if _, err := doc.AddCell(uvn.Cell{Name: "b", Owner: "alice"}); err != nil {
		t.Fatalf("AddCell(b): %v", err)
	}
	if _, err := doc.AddParticle(uvn.Particle{Name: "p1", Owner: "alice"}); err != nil {
		t.Fatalf("AddParticle(p1): %v", err)
	}

	r, err := New(doc)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestNewStartsFullyDirty(t *testing.T) {
	r := newTestRegistry(t)
	if r.dirty != dirtyAll {
		t.Fatalf("dirty = %b, want dirtyAll = %b", r.dirty, dirtyAll)
	}
	if !r.ID().IsZero() {
		t.Fatalf("ID() before first Save = %s, want zero", r.ID())
	}
}

func TestSaveClearsDirtyAndPopulatesArtifacts(t *testing.T) {
	r := newTestRegistry(t)
	id, err := r.Save()
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if id.IsZero() {
		t.Fatal("Save returned zero ID")
	}
	if r.dirty != 0 {
		t.Fatalf("dirty after Save = %b, want 0", r.dirty)
	}

	art := r.Artifacts()
	if art.Deployment == nil {
		t.Fatal("Deployment not populated")
	}
	if art.RootVPN == nil {
		t.Fatal("RootVPN not populated")
	}
	if art.ParticlesVPN == nil {
		t.Fatal("ParticlesVPN not populated")
	}
	if art.BackboneVPN == nil {
		t.Fatal("BackboneVPN not populated")
	}
	if len(art.Bundles) != 2 {
		t.Fatalf("len(Bundles) = %d, want 2", len(art.Bundles))
	}
	if len(art.ParticleConfigs) != 1 {
		t.Fatalf("len(ParticleConfigs) = %d, want 1", len(art.ParticleConfigs))
	}
}

func TestSaveIsNoopWhenClean(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.Save(); err != nil {
		t.Fatalf("first Save: %v", err)
	}
	before := r.Artifacts()

	if _, err := r.Save(); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	after := r.Artifacts()

	if before.Deployment != after.Deployment {
		t.Fatal("Deployment pointer changed on a no-op Save")
	}
	if before.RootVPN != after.RootVPN {
		t.Fatal("RootVPN pointer changed on a no-op Save")
	}
	if before.BackboneVPN != after.BackboneVPN {
		t.Fatal("BackboneVPN pointer changed on a no-op Save")
	}
}

func TestAddCellMarksOnlyAffectedArtifactsDirty(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.Save(); err != nil {
		t.Fatalf("initial Save: %v", err)
	}
	before := r.Artifacts()

	if _, err := r.AddCell(uvn.Cell{Name: "c", Owner: "alice"}); err != nil {
		t.Fatalf("AddCell: %v", err)
	}
	want := dirtyDeployment | dirtyRootVPN | dirtyBackboneVPN | dirtyCellBundles
	if r.dirty != want {
		t.Fatalf("dirty after AddCell = %b, want %b", r.dirty, want)
	}

	if _, err := r.Save(); err != nil {
		t.Fatalf("Save after AddCell: %v", err)
	}
	after := r.Artifacts()

	if before.Deployment == after.Deployment {
		t.Fatal("Deployment pointer unchanged, want regenerated")
	}
	if before.ParticlesVPN != after.ParticlesVPN {
		t.Fatal("ParticlesVPN regenerated, want unchanged (AddCell doesn't dirty it)")
	}
	if len(after.Bundles) != 3 {
		t.Fatalf("len(Bundles) = %d, want 3", len(after.Bundles))
	}
}

func TestBanCellRemovesItsBundle(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.Save(); err != nil {
		t.Fatalf("initial Save: %v", err)
	}

	var bID int
	for id, c := range r.doc.Cells {
		if c.Name == "b" {
			bID = id
		}
	}
	if err := r.BanCell(bID); err != nil {
		t.Fatalf("BanCell: %v", err)
	}
	if _, err := r.Save(); err != nil {
		t.Fatalf("Save after BanCell: %v", err)
	}

	art := r.Artifacts()
	if _, ok := art.Bundles[bID]; ok {
		t.Fatal("banned cell's bundle still present")
	}
	if len(art.Bundles) != 1 {
		t.Fatalf("len(Bundles) = %d, want 1", len(art.Bundles))
	}
}

func TestConfigureMarksEverythingDirty(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.Save(); err != nil {
		t.Fatalf("initial Save: %v", err)
	}
	r.Configure(testSettings(t))
	if r.dirty != dirtyAll {
		t.Fatalf("dirty after Configure = %b, want dirtyAll = %b", r.dirty, dirtyAll)
	}
}

func TestDisabledRootVPNNeverRegenerates(t *testing.T) {
	doc := uvn.New("no-root", "alice")
	doc.Settings = testSettings(t)
	doc.Settings.EnableRootVPN = false
	if _, err := doc.AddCell(uvn.Cell{Name: "a", Owner: "alice"}); err != nil {
		t.Fatalf("AddCell: %v", err)
	}

	r, err := New(doc)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := r.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if r.Artifacts().RootVPN != nil {
		t.Fatal("RootVPN populated despite EnableRootVPN=false")
	}
}
