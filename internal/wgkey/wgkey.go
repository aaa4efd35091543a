// Package wgkey generates WireGuard-compatible X25519 keypairs and
// preshared keys natively, the way genkeypair/genkeypreshared in the
// Python original do by shelling out to the wg(8) CLI — curve25519 from
// golang.org/x/crypto is the in-process equivalent.
package wgkey

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// Key is a 32-byte WireGuard key, printed and parsed as base64 the way
// `wg genkey`/`wg pubkey` do.
type Key [32]byte

func (k Key) String() string {
	return base64.StdEncoding.EncodeToString(k[:])
}

// MarshalYAML prints the key in WireGuard's standard base64 form.
func (k Key) MarshalYAML() (any, error) {
	return k.String(), nil
}

// UnmarshalYAML parses a WireGuard base64 key.
func (k *Key) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseKey(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKey decodes a base64-encoded WireGuard key.
func ParseKey(s string) (Key, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return Key{}, fmt.Errorf("wgkey: invalid base64 key: %w", err)
	}
	if len(b) != 32 {
		return Key{}, fmt.Errorf("wgkey: key must be 32 bytes, got %d", len(b))
	}
	var k Key
	copy(k[:], b)
	return k, nil
}

// Pair is a WireGuard private/public keypair.
type Pair struct {
	Private Key
	Public  Key
}

// GeneratePair creates a fresh X25519 keypair, clamped per RFC 7748.
func GeneratePair() (Pair, error) {
	var priv Key
	if _, err := rand.Read(priv[:]); err != nil {
		return Pair{}, fmt.Errorf("wgkey: reading random bytes: %w", err)
	}
	clamp(&priv)
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return Pair{}, fmt.Errorf("wgkey: deriving public key: %w", err)
	}
	var pubKey Key
	copy(pubKey[:], pub)
	return Pair{Private: priv, Public: pubKey}, nil
}

// GeneratePreshared creates a random preshared key, the Go equivalent of
// `wg genpsk`: WireGuard treats PSKs as opaque 32-byte symmetric secrets,
// no curve clamping involved.
func GeneratePreshared() (Key, error) {
	var k Key
	if _, err := rand.Read(k[:]); err != nil {
		return Key{}, fmt.Errorf("wgkey: reading random bytes: %w", err)
	}
	return k, nil
}

func clamp(k *Key) {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
}
