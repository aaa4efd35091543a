package vpnconfig

import (
	"fmt"
	"net/netip"

	"github.com/mentalsmash/uno/internal/deployment"
	"github.com/mentalsmash/uno/internal/pairmap"
	"github.com/mentalsmash/uno/internal/wgkey"
)

// P2PKeyMaterial holds one WireGuard keypair per cell (reused across all
// of that cell's backbone edges) and one preshared secret per edge,
// mirroring `PairedVpnKeysMap`/`PresharedKeysMap` in the Python original.
type P2PKeyMaterial struct {
	Cells map[int]wgkey.Pair
	PSKs  *pairmap.Map[wgkey.Key]
}

// NewP2PKeyMaterial returns an empty P2PKeyMaterial.
func NewP2PKeyMaterial() *P2PKeyMaterial {
	return &P2PKeyMaterial{Cells: map[int]wgkey.Pair{}, PSKs: pairmap.New[wgkey.Key]()}
}

// AssertCells ensures every id has a keypair, and every edge in d has a
// preshared secret, generating whatever is missing.
func (m *P2PKeyMaterial) AssertCells(cellIDs []int, d *deployment.Deployment) error {
	for _, id := range cellIDs {
		if _, ok := m.Cells[id]; !ok {
			pair, err := wgkey.GeneratePair()
			if err != nil {
				return fmt.Errorf("vpnconfig: generating keypair for cell %d: %w", id, err)
			}
			m.Cells[id] = pair
		}
	}
	for _, e := range d.Edges() {
		if _, ok := m.PSKs.Get(e[0], e[1]); !ok {
			psk, err := wgkey.GeneratePreshared()
			if err != nil {
				return fmt.Errorf("vpnconfig: generating preshared key for edge (%d,%d): %w", e[0], e[1], err)
			}
			m.PSKs.Set(e[0], e[1], psk)
		}
	}
	return nil
}

// CellNetwork describes the one piece of per-cell state a P2P config
// needs beyond the deployment itself: whether it has a public endpoint
// (and what it is), and the LANs it wants advertised to its peers.
type CellNetwork struct {
	PublicEndpoint netip.AddrPort // zero value: cell is private, no endpoint
	AllowedLANs    []netip.Prefix
	BasePort       int // backbone.port; combined with deployment.Link.PortIndex
}

// P2PRequest describes the inputs to P2P: a computed Deployment, each
// cell's network reachability, and the key material to render from.
type P2PRequest struct {
	Deployment *deployment.Deployment
	Cells      map[int]CellNetwork
	Keys       *P2PKeyMaterial
}

// EdgeTunnel is one cell's tunnel config for a single backbone edge, plus
// the peer cell id it connects to; spec §4.4 emits one of these per edge,
// not one shared interface with many peers, since each edge owns its own
// /31 local/remote address pair.
type EdgeTunnel struct {
	PeerID int
	Config TunnelConfig
}

// P2P renders, for every cell with at least one backbone peer, one
// EdgeTunnel per edge (spec §4.4's "emit per-cell a list of tunnel
// configs, one per backbone edge"): for edge (a,b), a's tunnel uses a's
// keypair and the preshared secret keyed by (a,b), address local_addr on
// the edge's /31, and a single peer-entry for b with
// allowed_ips = {the edge's /31 link subnet, b's allowed_lans...}; the
// rest of the backbone pool is not included. If both sides are
// public, both declare endpoints; otherwise only the public side does and
// the private side holds a keepalive.
func P2P(req P2PRequest) (map[int][]EdgeTunnel, error) {
	out := make(map[int][]EdgeTunnel, len(req.Deployment.Peers))

	for cellID, slot := range req.Deployment.Peers {
		cellNet, ok := req.Cells[cellID]
		if !ok {
			return nil, fmt.Errorf("vpnconfig: no network info for cell %d", cellID)
		}
		pair, ok := req.Keys.Cells[cellID]
		if !ok {
			return nil, fmt.Errorf("vpnconfig: no key material asserted for cell %d", cellID)
		}

		for peerID, link := range slot.Peers {
			peerNet, ok := req.Cells[peerID]
			if !ok {
				return nil, fmt.Errorf("vpnconfig: no network info for cell %d", peerID)
			}
			peerPair, ok := req.Keys.Cells[peerID]
			if !ok {
				return nil, fmt.Errorf("vpnconfig: no key material asserted for cell %d", peerID)
			}
			psk := req.Keys.PSKs.MustGet(cellID, peerID)

			allowed := append([]netip.Prefix{link.LinkSubnet}, peerNet.AllowedLANs...)

			entry := PeerEntry{
				PublicKey:    peerPair.Public,
				PresharedKey: psk,
				AllowedIPs:   allowed,
			}

			localPublic := cellNet.PublicEndpoint.IsValid()
			peerPublic := peerNet.PublicEndpoint.IsValid()
			if peerPublic {
				entry.Endpoint = peerNet.PublicEndpoint
			}
			if !localPublic {
				// This side has no reachable endpoint of its own, so it is
				// the one responsible for keeping the NAT mapping alive.
				entry.PersistentKeepalive = keepaliveInterval
			}

			cfg := TunnelConfig{
				PrivateKey: pair.Private,
				ListenPort: cellNet.BasePort + link.PortIndex,
				Address:    netip.PrefixFrom(link.LocalAddr, link.LinkSubnet.Bits()),
				Peers:      []PeerEntry{entry},
			}

			out[cellID] = append(out[cellID], EdgeTunnel{PeerID: peerID, Config: cfg})
		}
	}

	return out, nil
}
