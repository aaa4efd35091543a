package vpnconfig

import (
	"fmt"
	"net/netip"

	"github.com/mentalsmash/uno/internal/pairmap"
	"github.com/mentalsmash/uno/internal/wgkey"
)

// rootPeerID is the pairmap key the root side of a centralized VPN is
// addressed as, matching the original's `preshared_keys.assert_pair(0, cell_id)`.
const rootPeerID = 0

// CentralizedKeyMaterial holds the WireGuard keys for one centralized VPN
// (root + particles, or root + cells): one keypair for the root, one per
// peer, and a preshared secret per (root, peer) pair. Regenerating it is
// the unit of a root_vpn/particles_vpn rekey (spec §4.3).
type CentralizedKeyMaterial struct {
	Root  wgkey.Pair
	Peers map[int]wgkey.Pair
	PSKs  *pairmap.Map[wgkey.Key]
}

// NewCentralizedKeyMaterial generates a fresh root keypair.
func NewCentralizedKeyMaterial() (*CentralizedKeyMaterial, error) {
	root, err := wgkey.GeneratePair()
	if err != nil {
		return nil, err
	}
	return &CentralizedKeyMaterial{
		Root:  root,
		Peers: map[int]wgkey.Pair{},
		PSKs:  pairmap.New[wgkey.Key](),
	}, nil
}

// AssertPeers ensures every id in peerIDs has a keypair and a preshared
// secret with the root, generating whatever is missing (spec §4.3's
// assert_keys: idempotent, additive).
func (m *CentralizedKeyMaterial) AssertPeers(peerIDs []int) error {
	for _, id := range peerIDs {
		if _, ok := m.Peers[id]; !ok {
			pair, err := wgkey.GeneratePair()
			if err != nil {
				return fmt.Errorf("vpnconfig: generating keypair for peer %d: %w", id, err)
			}
			m.Peers[id] = pair
		}
		if _, ok := m.PSKs.Get(rootPeerID, id); !ok {
			psk, err := wgkey.GeneratePreshared()
			if err != nil {
				return fmt.Errorf("vpnconfig: generating preshared key for peer %d: %w", id, err)
			}
			m.PSKs.Set(rootPeerID, id, psk)
		}
	}
	return nil
}

// PurgeGonePeers drops key material for ids no longer present, mirroring
// the original's purge_gone_peers.
func (m *CentralizedKeyMaterial) PurgeGonePeers(keep []int) {
	keepSet := make(map[int]bool, len(keep))
	for _, id := range keep {
		keepSet[id] = true
	}
	for id := range m.Peers {
		if !keepSet[id] {
			delete(m.Peers, id)
			m.PSKs.PurgePeer(id)
		}
	}
}

// CentralizedRequest describes the inputs needed to render a centralized
// hub/spoke VPN: the ids to include (in the order base_ip offsets should
// be assigned), the VPN's address/port settings, whether the root side
// has a reachable public endpoint, and the key material to use.
type CentralizedRequest struct {
	PeerIDs       []int
	Subnet        netip.Prefix
	Port          int
	RootEndpoint  netip.AddrPort // zero value: root has no public endpoint
	AllowedIPsAll bool           // true: peers are allowed the whole subnet; false: just the root's address
	Keys          *CentralizedKeyMaterial
}

// Centralized renders the root's TunnelConfig and one TunnelConfig per
// peer for a hub/spoke VPN (spec §4.4's "one root, N peers"): root gets
// base_ip+1, peer i gets base_ip+1+i.
func Centralized(req CentralizedRequest) (root TunnelConfig, peers map[int]TunnelConfig, err error) {
	base := req.Subnet.Masked().Addr()
	rootAddr := offsetAddr(base, 1)

	root = TunnelConfig{
		PrivateKey: req.Keys.Root.Private,
		ListenPort: req.Port,
		Address:    netip.PrefixFrom(rootAddr, req.Subnet.Bits()),
	}

	peers = make(map[int]TunnelConfig, len(req.PeerIDs))
	for i, id := range req.PeerIDs {
		pair, ok := req.Keys.Peers[id]
		if !ok {
			return TunnelConfig{}, nil, fmt.Errorf("vpnconfig: no key material asserted for peer %d", id)
		}
		psk, ok := req.Keys.PSKs.Get(rootPeerID, id)
		if !ok {
			return TunnelConfig{}, nil, fmt.Errorf("vpnconfig: no preshared key asserted for peer %d", id)
		}
		peerAddr := offsetAddr(base, 1+i+1)

		allowed := []netip.Prefix{netip.PrefixFrom(rootAddr, 32)}
		if req.AllowedIPsAll {
			allowed = []netip.Prefix{req.Subnet}
		}

		rootPeerEntry := PeerEntry{
			PublicKey:    pair.Public,
			PresharedKey: psk,
			AllowedIPs:   []netip.Prefix{netip.PrefixFrom(peerAddr, 32)},
		}
		peerSidePeerEntry := PeerEntry{
			PublicKey:    req.Keys.Root.Public,
			PresharedKey: psk,
			AllowedIPs:   allowed,
		}
		if req.RootEndpoint.IsValid() {
			peerSidePeerEntry.Endpoint = req.RootEndpoint
		} else {
			// Neither side has a public endpoint: the peer still needs to
			// hold open whatever NAT mapping let it reach the root in the
			// first place.
			peerSidePeerEntry.PersistentKeepalive = keepaliveInterval
		}

		root.Peers = append(root.Peers, rootPeerEntry)
		peers[id] = TunnelConfig{
			PrivateKey: pair.Private,
			ListenPort: req.Port,
			Address:    netip.PrefixFrom(peerAddr, req.Subnet.Bits()),
			Peers:      []PeerEntry{peerSidePeerEntry},
		}
	}

	return root, peers, nil
}

func offsetAddr(base netip.Addr, offset int) netip.Addr {
	b := base.As4()
	v := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	v += uint32(offset)
	nb := [4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
	return netip.AddrFrom4(nb)
}
