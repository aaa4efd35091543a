package registry

import (
	"testing"
	"time"

	"github.com/mentalsmash/uno/internal/deployment"
	"github.com/mentalsmash/uno/internal/uvn"
)

func TestComputeIDDeterministic(t *testing.T) {
	doc := uvn.New("deterministic", "alice")
	if _, err := doc.AddCell(uvn.Cell{Name: "a", Owner: "alice"}); err != nil {
		t.Fatalf("AddCell: %v", err)
	}
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	dep := &deployment.Deployment{GenerationTS: ts, Peers: map[int]*deployment.PeerSlot{}}

	id1, err := computeID(doc, dep, 1)
	if err != nil {
		t.Fatalf("computeID: %v", err)
	}
	id2, err := computeID(doc, dep, 1)
	if err != nil {
		t.Fatalf("computeID: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("computeID not deterministic: %s != %s", id1, id2)
	}
	if id1.IsZero() {
		t.Fatal("computeID returned zero ID")
	}
}

func TestComputeIDChangesWithDocument(t *testing.T) {
	doc := uvn.New("doc-sensitive", "alice")
	dep := &deployment.Deployment{GenerationTS: time.Now(), Peers: map[int]*deployment.PeerSlot{}}

	before, err := computeID(doc, dep, 1)
	if err != nil {
		t.Fatalf("computeID: %v", err)
	}
	if _, err := doc.AddCell(uvn.Cell{Name: "a", Owner: "alice"}); err != nil {
		t.Fatalf("AddCell: %v", err)
	}
	after, err := computeID(doc, dep, 1)
	if err != nil {
		t.Fatalf("computeID: %v", err)
	}
	if before == after {
		t.Fatal("computeID did not change after membership changed")
	}
}

func TestComputeIDChangesWithGeneration(t *testing.T) {
	doc := uvn.New("gen-sensitive", "alice")
	dep1 := &deployment.Deployment{
		GenerationTS: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Peers:        map[int]*deployment.PeerSlot{},
	}
	dep2 := &deployment.Deployment{
		GenerationTS: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		Peers:        map[int]*deployment.PeerSlot{},
	}

	id1, err := computeID(doc, dep1, 1)
	if err != nil {
		t.Fatalf("computeID: %v", err)
	}
	id2, err := computeID(doc, dep2, 1)
	if err != nil {
		t.Fatalf("computeID: %v", err)
	}
	if id1 == id2 {
		t.Fatal("computeID did not change when generation timestamp changed")
	}
}

func TestComputeIDChangesWithKeyGeneration(t *testing.T) {
	doc := uvn.New("key-gen-sensitive", "alice")
	dep := &deployment.Deployment{GenerationTS: time.Now(), Peers: map[int]*deployment.PeerSlot{}}

	id1, err := computeID(doc, dep, 1)
	if err != nil {
		t.Fatalf("computeID: %v", err)
	}
	id2, err := computeID(doc, dep, 2)
	if err != nil {
		t.Fatalf("computeID: %v", err)
	}
	if id1 == id2 {
		t.Fatal("computeID did not change when key generation changed, a cell/particle/VPN rekey would be invisible")
	}
}

func TestIDString(t *testing.T) {
	var id ID
	id[0] = 0xde
	id[1] = 0xad
	if got, want := id.String()[:4], "dead"; got != want {
		t.Fatalf("String() = %q, want prefix %q", got, want)
	}
}
