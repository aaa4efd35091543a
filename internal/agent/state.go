package agent

import (
	"crypto/ecdsa"
	"crypto/x509"
	"fmt"
	"net/netip"

	"github.com/mentalsmash/uno/internal/registry"
	"github.com/mentalsmash/uno/internal/router"
	"github.com/mentalsmash/uno/internal/tunnel"
	"github.com/mentalsmash/uno/internal/uvn"
	"github.com/mentalsmash/uno/internal/vpnconfig"
)

// cellState is everything a CellAgent needs in order to run: the document
// and deployment slice it was handed, the rendered tunnel configs, and the
// identity it decrypts future bundles with. A hot reload builds a fresh
// cellState and atomically swaps it in only after every service has
// restarted against it (see reload.go).
type cellState struct {
	registryID string
	doc        *uvn.UVN
	cellID     int
	cell       *uvn.Cell
	rootVPN    *vpnconfig.TunnelConfig
	backbone   []vpnconfig.EdgeTunnel
	links      []registry.AgentLink

	identityKey  *ecdsa.PrivateKey
	identityCert *x509.Certificate
}

// stateFromConfig resolves an AgentConfig (as decoded from a bundle or a
// bare encrypted string) against its own embedded UVN document into a
// cellState. It does not validate the document itself; callers run
// uvn.UVN.Validate plus their own membership checks before adopting the
// result (spec §4.11 hot-reload step 3).
func stateFromConfig(cfg *registry.AgentConfig, key *ecdsa.PrivateKey, cert *x509.Certificate) (*cellState, error) {
	if cfg.UVN == nil {
		return nil, fmt.Errorf("agent: agent config carries no uvn document")
	}
	cell, ok := cfg.UVN.Cells[cfg.CellID]
	if !ok {
		return nil, fmt.Errorf("agent: cell id %d not present in uvn document %q", cfg.CellID, cfg.UVN.Name)
	}
	return &cellState{
		registryID:   cfg.RegistryID,
		doc:          cfg.UVN,
		cellID:       cfg.CellID,
		cell:         cell,
		rootVPN:      cfg.RootVPN,
		backbone:     cfg.Backbone,
		links:        cfg.Links,
		identityKey:  key,
		identityCert: cert,
	}, nil
}

// rootIfaceName and backboneIfaceName name the WireGuard interfaces a
// CellAgent programs; kept short of Linux's 15-byte IFNAMSIZ limit.
const rootIfaceName = "unoroot"

func backboneIfaceName(peerCellID int) string {
	return fmt.Sprintf("unobb%d", peerCellID)
}

// tunnelInterfaces renders every interface this state implies: the root
// VPN spoke, if enabled, plus one interface per backbone edge.
func (s *cellState) tunnelInterfaces(mtu int) map[string]tunnel.InterfaceConfig {
	out := make(map[string]tunnel.InterfaceConfig, 1+len(s.backbone))
	if s.rootVPN != nil {
		out[rootIfaceName] = toInterfaceConfig(rootIfaceName, *s.rootVPN, mtu)
	}
	for _, edge := range s.backbone {
		name := backboneIfaceName(edge.PeerID)
		out[name] = toInterfaceConfig(name, edge.Config, mtu)
	}
	return out
}

func toInterfaceConfig(name string, tc vpnconfig.TunnelConfig, mtu int) tunnel.InterfaceConfig {
	peers := make([]tunnel.PeerConfig, 0, len(tc.Peers))
	for _, p := range tc.Peers {
		peers = append(peers, tunnel.PeerConfig{
			PublicKey:    p.PublicKey,
			PresharedKey: p.PresharedKey,
			Endpoint:     p.Endpoint,
			AllowedIPs:   p.AllowedIPs,
			Keepalive:    p.PersistentKeepalive,
		})
	}
	return tunnel.InterfaceConfig{
		Name:       name,
		PrivateKey: tc.PrivateKey,
		ListenPort: tc.ListenPort,
		Address:    tc.Address,
		MTU:        mtu,
		Peers:      peers,
	}
}

// routerConfig renders the RouterDriver configuration for this state: one
// BGP neighbor per backbone edge, using the cell's own allowed LANs as its
// locally announced networks. A backbone peer's remote ASN is its cell id,
// the same private-ASN-per-cell convention the deployment graph already
// uses to keep neighbor identities unambiguous without a separate field.
func (s *cellState) routerConfig(localASN int) (router.Config, error) {
	if localASN == 0 {
		localASN = s.cellID
	}
	var routerID netip.Addr
	switch {
	case s.rootVPN != nil && s.rootVPN.Address.Addr().IsValid():
		routerID = s.rootVPN.Address.Addr()
	case len(s.links) > 0:
		addr, err := netip.ParseAddr(s.links[0].LocalAddr)
		if err != nil {
			return router.Config{}, fmt.Errorf("agent: parsing local address %q: %w", s.links[0].LocalAddr, err)
		}
		routerID = addr
	default:
		return router.Config{}, fmt.Errorf("agent: cell %q has no addressable interface to derive a router id from", s.cell.Name)
	}

	tunnels := make([]router.TunnelPeer, 0, len(s.links))
	for _, link := range s.links {
		local, err := netip.ParseAddr(link.LocalAddr)
		if err != nil {
			return router.Config{}, fmt.Errorf("agent: parsing local address %q: %w", link.LocalAddr, err)
		}
		remote, err := netip.ParseAddr(link.RemoteAddr)
		if err != nil {
			return router.Config{}, fmt.Errorf("agent: parsing remote address %q: %w", link.RemoteAddr, err)
		}
		tunnels = append(tunnels, router.TunnelPeer{
			InterfaceName: backboneIfaceName(link.PeerCellID),
			LocalAddr:     local,
			RemoteAddr:    remote,
			RemoteASN:     link.PeerCellID,
		})
	}

	lans := make([]netip.Prefix, 0, len(s.cell.AllowedLANs))
	for _, p := range s.cell.AllowedLANs {
		lans = append(lans, p.Prefix)
	}

	return router.Config{
		RouterID: routerID,
		LocalASN: localASN,
		Hostname: s.cell.Name,
		Tunnels:  tunnels,
		LANs:     lans,
	}, nil
}

// tunnelIfaceNames returns the names tunnelInterfaces would produce, for
// callers (NetworkPlane, reload bookkeeping) that only need the set of
// interface names rather than their full configuration.
func (s *cellState) tunnelIfaceNames() []string {
	names := make([]string, 0, 1+len(s.backbone))
	if s.rootVPN != nil {
		names = append(names, rootIfaceName)
	}
	for _, edge := range s.backbone {
		names = append(names, backboneIfaceName(edge.PeerID))
	}
	return names
}
