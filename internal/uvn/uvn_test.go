package uvn

import (
	"testing"
)

func mustPrefix(t *testing.T, s string) Prefix {
	t.Helper()
	p, err := ParsePrefix(s)
	if err != nil {
		t.Fatalf("ParsePrefix(%q): %v", s, err)
	}
	return p
}

func mustAddr(t *testing.T, s string) Addr {
	t.Helper()
	a, err := ParseAddr(s)
	if err != nil {
		t.Fatalf("ParseAddr(%q): %v", s, err)
	}
	return a
}

func TestAddCellAllocatesSmallestUnusedID(t *testing.T) {
	u := New("test", "alice")
	c1, err := u.AddCell(Cell{Name: "a", Owner: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if c1.ID != 1 {
		t.Fatalf("first cell id = %d, want 1", c1.ID)
	}
	c2, err := u.AddCell(Cell{Name: "b", Owner: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if c2.ID != 2 {
		t.Fatalf("second cell id = %d, want 2", c2.ID)
	}

	if err := u.BanCell(1); err != nil {
		t.Fatal(err)
	}
	c3, err := u.AddCell(Cell{Name: "c", Owner: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if c3.ID != 3 {
		t.Fatalf("id after ban should not reuse banned id 1, got %d", c3.ID)
	}
}

func TestBanThenUnbanPreservesID(t *testing.T) {
	u := New("test", "alice")
	c, err := u.AddCell(Cell{Name: "a", Owner: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	id := c.ID

	if err := u.BanCell(id); err != nil {
		t.Fatal(err)
	}
	if _, ok := u.Cells[id]; ok {
		t.Fatal("banned cell should not be in active set")
	}

	restored, err := u.UnbanCell(id)
	if err != nil {
		t.Fatal(err)
	}
	if restored.ID != id {
		t.Fatalf("unbanned cell id = %d, want %d", restored.ID, id)
	}
	if _, ok := u.Cells[id]; !ok {
		t.Fatal("unbanned cell should be back in active set")
	}
}

func TestOverlappingAllowedLANsRejected(t *testing.T) {
	u := New("test", "alice")
	if _, err := u.AddCell(Cell{
		Name:        "a",
		Owner:       "alice",
		AllowedLANs: []Prefix{mustPrefix(t, "192.168.1.0/24")},
	}); err != nil {
		t.Fatal(err)
	}

	_, err := u.AddCell(Cell{
		Name:        "b",
		Owner:       "alice",
		AllowedLANs: []Prefix{mustPrefix(t, "192.168.1.128/25")},
	})
	if err == nil {
		t.Fatal("expected overlap to be rejected")
	}
	var verr *ValidationError
	if !asValidationError(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T: %v", err, err)
	}
}

func asValidationError(err error, target **ValidationError) bool {
	if ve, ok := err.(*ValidationError); ok {
		*target = ve
		return true
	}
	return false
}

func TestDuplicatePublicAddressRejected(t *testing.T) {
	u := New("test", "alice")
	if _, err := u.AddCell(Cell{
		Name:          "a",
		Owner:         "alice",
		PublicAddress: mustAddr(t, "1.2.3.4"),
	}); err != nil {
		t.Fatal(err)
	}
	_, err := u.AddCell(Cell{
		Name:          "b",
		Owner:         "alice",
		PublicAddress: mustAddr(t, "1.2.3.4"),
	})
	if err == nil {
		t.Fatal("expected duplicate public address to be rejected")
	}
}

func TestDuplicateNameAcrossCellAndParticleRejected(t *testing.T) {
	u := New("test", "alice")
	if _, err := u.AddCell(Cell{Name: "shared", Owner: "alice"}); err != nil {
		t.Fatal(err)
	}
	_, err := u.AddParticle(Particle{Name: "shared", Owner: "alice"})
	if err == nil {
		t.Fatal("expected duplicate name across cell/particle namespaces to be rejected")
	}
}
