// Package tunnel implements the TunnelDriver component from spec §4.5:
// bringing a WireGuard interface up with a given address and peer set,
// diffing allowed-IPs at runtime, and reporting liveness/stats.
package tunnel

import (
	"net/netip"
	"time"

	"github.com/mentalsmash/uno/internal/wgkey"
)

// livenessWindow is the "now - last_handshake < 150s" threshold spec §4.5
// defines for a peer being considered live.
const livenessWindow = 150 * time.Second

// PeerConfig is one peer entry to program onto an interface.
type PeerConfig struct {
	PublicKey    wgkey.Key
	PresharedKey wgkey.Key
	Endpoint     netip.AddrPort
	AllowedIPs   []netip.Prefix
	Keepalive    time.Duration
}

// InterfaceConfig is everything needed to stand up one tunnel interface.
type InterfaceConfig struct {
	Name       string
	PrivateKey wgkey.Key
	ListenPort int
	Address    netip.Prefix
	MTU        int
	Peers      []PeerConfig
}

// PeerStat is the runtime state of one programmed peer.
type PeerStat struct {
	PublicKey       wgkey.Key
	Endpoint        netip.AddrPort
	AllowedIPs      []netip.Prefix
	LastHandshake   time.Time
	RxBytes         uint64
	TxBytes         uint64
}

// Live reports whether this peer's last handshake falls within the
// liveness window relative to now.
func (s PeerStat) Live(now time.Time) bool {
	if s.LastHandshake.IsZero() {
		return false
	}
	return now.Sub(s.LastHandshake) < livenessWindow
}

// Driver is the TunnelDriver contract of spec §4.5.
type Driver interface {
	// Start creates a fresh interface (deleting any stale one with the same
	// name first), configures it, and brings it up. Any failure reverts
	// whatever partial state was created and is propagated.
	Start(cfg InterfaceConfig) error
	// Stop tears an interface down, reversing Start.
	Stop(name string) error
	// SetAllowedIPs diffs the currently programmed allowed-IPs for
	// peerIndex against ips and applies the minimal add/remove.
	SetAllowedIPs(name string, peerIndex int, ips []netip.Prefix) error
	// Stat returns the current per-peer runtime state of an interface.
	Stat(name string) ([]PeerStat, error)
}
