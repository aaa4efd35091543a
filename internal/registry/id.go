package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mentalsmash/uno/internal/deployment"
	"github.com/mentalsmash/uno/internal/uvn"
)

// ID is a fingerprint of everything a cell needs to be
// consistent with the registry: the UVN document (membership + settings),
// the deployment generation computed from it, and the active key
// material generation. Two registries with the same document, deployment
// generation, and key generation compare equal; anything that bumps any
// of the three changes the id.
type ID [32]byte

// String renders id as lowercase hex, the form carried on the wire in
// UVNSample/CellSample/BackboneSample and shown to operators.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether id has never been computed.
func (id ID) IsZero() bool {
	return id == ID{}
}

// computeID hashes the canonical YAML encoding of doc together with dep's
// generation timestamp and the key material generation currently active.
// Hashing the rendered YAML rather than the Go struct directly keeps the
// id stable across process restarts (map iteration order never leaks in,
// since yaml.v3 sorts map keys) and gives operators a value they could in
// principle recompute by hand from the persisted document. The key
// generation is folded in separately from the document because a rekey
// (cell, particle, or root/particles VPN) changes neither membership nor
// the deployment, yet still has to bump the id so cells notice the new
// bundle is actually new (spec §4.11's rekey scenario).
func computeID(doc *uvn.UVN, dep *deployment.Deployment, keyGeneration int) (ID, error) {
	docBytes, err := yaml.Marshal(doc)
	if err != nil {
		return ID{}, err
	}
	h := sha256.New()
	h.Write(docBytes)
	if dep != nil {
		h.Write([]byte(dep.GenerationTS.UTC().Format(time.RFC3339Nano)))
	}
	fmt.Fprintf(h, "gen:%d", keyGeneration)
	var id ID
	copy(id[:], h.Sum(nil))
	return id, nil
}
