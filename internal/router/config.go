package router

import "net/netip"

// TunnelPeer is one backbone BGP neighbor, reachable over a tunnel
// interface's point-to-point link address.
type TunnelPeer struct {
	InterfaceName string
	LocalAddr     netip.Addr
	RemoteAddr    netip.Addr
	RemoteASN     int
}

// Config parameterizes the generated routing-daemon configuration: the
// agent's backbone tunnels, its locally announced networks, and its
// router identity. RouterDriver runs only on cell agents.
type Config struct {
	RouterID netip.Addr
	LocalASN int
	Hostname string
	Tunnels  []TunnelPeer
	LANs     []netip.Prefix
}
