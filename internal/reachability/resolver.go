package reachability

import (
	"net/netip"

	nl "github.com/vishvananda/netlink"
)

// GatewayResolver maps a routed LAN to the next-hop address this host would
// use to reach it, per the current kernel routing table. Reachability
// probing pings that next-hop rather than the LAN prefix itself, since the
// prefix is rarely a pingable host.
type GatewayResolver interface {
	Gateway(lan RoutedLAN) (netip.Addr, bool)
}

// GatewayResolverFunc adapts a plain func to GatewayResolver.
type GatewayResolverFunc func(RoutedLAN) (netip.Addr, bool)

func (f GatewayResolverFunc) Gateway(lan RoutedLAN) (netip.Addr, bool) {
	return f(lan)
}

// KernelGatewayResolver resolves gateways via netlink.RouteGet, asking the
// kernel which route it would use to reach an address inside the LAN. route
// is swappable so tests don't require root or a real routing table.
type KernelGatewayResolver struct {
	route func(destination netip.Addr) ([]nl.Route, error)
}

// NewKernelGatewayResolver wires route to the real netlink.RouteGet.
func NewKernelGatewayResolver() *KernelGatewayResolver {
	return &KernelGatewayResolver{
		route: func(destination netip.Addr) ([]nl.Route, error) {
			return nl.RouteGet(destination.AsSlice())
		},
	}
}

// Gateway looks up the route to the first usable address in lan.Prefix
// (its network address's successor, i.e. the first host address) and
// returns the gateway that route uses.
func (r *KernelGatewayResolver) Gateway(lan RoutedLAN) (netip.Addr, bool) {
	target := lan.Prefix.Addr().Next()
	if !target.IsValid() || !lan.Prefix.Contains(target) {
		target = lan.Prefix.Addr()
	}
	routes, err := r.route(target)
	if err != nil || len(routes) == 0 {
		return netip.Addr{}, false
	}
	gw := routes[0].Gw
	if gw == nil {
		return netip.Addr{}, false
	}
	addr, ok := netip.AddrFromSlice(gw)
	if !ok {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
