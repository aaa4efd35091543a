// Package vpnconfig generates WireGuard-style tunnel configuration for
// both VPN shapes described in spec §4.4: centralized (root/particles,
// one hub plus N spokes) and peer-to-peer (the backbone mesh derived from
// a deployment.Deployment).
package vpnconfig

import (
	"net/netip"
	"time"

	"github.com/mentalsmash/uno/internal/wgkey"
)

// keepaliveInterval is the "preserve NAT mappings" keepalive spec §4.4
// mandates for any side that has no public endpoint of its own.
const keepaliveInterval = 25 * time.Second

// PeerEntry is one `[Peer]` block: a remote public key, the addresses it
// is allowed to originate traffic from/to, and optionally an endpoint to
// dial and/or a keepalive to hold a NAT mapping open.
type PeerEntry struct {
	PublicKey           wgkey.Key
	PresharedKey        wgkey.Key
	Endpoint            netip.AddrPort // zero value: no endpoint, this side only listens
	AllowedIPs          []netip.Prefix
	PersistentKeepalive time.Duration // zero: disabled
}

// TunnelConfig is one local `[Interface]` plus its `[Peer]` blocks.
type TunnelConfig struct {
	PrivateKey wgkey.Key
	ListenPort int
	Address    netip.Prefix
	Peers      []PeerEntry
}
