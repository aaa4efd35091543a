package netplane

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"time"

	nl "github.com/vishvananda/netlink"
)

// RouteDelta describes one change observed in the kernel routing table.
type RouteDelta struct {
	Added   bool
	Dest    netip.Prefix
	Gateway netip.Addr
	Iface   string
}

// RouteWatcher reads the kernel's IPv4 routing table on a timer and on
// kernel route-change notifications, and emits the add/remove deltas
// between successive reads — spec §4.6's "local-routes observer".
type RouteWatcher struct {
	log      *slog.Logger
	interval time.Duration
	known    map[netip.Prefix]RouteDelta

	// subscribe and list are swapped out in tests so the watcher's diffing
	// logic can be exercised without root or a real routing table.
	subscribe func(updates chan<- nl.RouteUpdate, done <-chan struct{}) error
	list      func() ([]nl.Route, error)
}

// NewRouteWatcher returns a watcher that polls the main IPv4 table every
// interval in addition to reacting to kernel route-change notifications.
func NewRouteWatcher(logger *slog.Logger, interval time.Duration) *RouteWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &RouteWatcher{
		log:      logger,
		interval: interval,
		known:    make(map[netip.Prefix]RouteDelta),
		subscribe: func(updates chan<- nl.RouteUpdate, done <-chan struct{}) error {
			return nl.RouteSubscribe(updates, done)
		},
		list: func() ([]nl.Route, error) {
			return nl.RouteList(nil, nl.FAMILY_V4)
		},
	}
}

// Run polls and listens for kernel route changes until ctx is cancelled,
// sending every observed delta on deltas. It returns nil once ctx is done;
// if the kernel-event subscription fails to start, it logs a warning and
// keeps running on polling alone.
func (w *RouteWatcher) Run(ctx context.Context, deltas chan<- RouteDelta) error {
	updates := make(chan nl.RouteUpdate)
	done := make(chan struct{})
	defer close(done)

	if err := w.subscribe(updates, done); err != nil {
		w.log.Warn("netplane: kernel route subscription unavailable, falling back to polling only", "error", err)
		updates = nil
	}

	w.poll(deltas)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.poll(deltas)
		case <-updates:
			w.poll(deltas)
		}
	}
}

// poll reads the current table, diffs it against the last known snapshot,
// and sends every add/remove delta.
func (w *RouteWatcher) poll(deltas chan<- RouteDelta) {
	routes, err := w.list()
	if err != nil {
		w.log.Warn("netplane: reading kernel routing table", "error", err)
		return
	}

	current := routesToDeltas(routes)
	for key, d := range current {
		if _, ok := w.known[key]; !ok {
			deltas <- d
		}
	}
	for key, d := range w.known {
		if _, ok := current[key]; !ok {
			d.Added = false
			deltas <- d
		}
	}
	w.known = current
}

func routesToDeltas(routes []nl.Route) map[netip.Prefix]RouteDelta {
	out := make(map[netip.Prefix]RouteDelta, len(routes))
	for _, r := range routes {
		if r.Dst == nil {
			continue
		}
		prefix, ok := ipNetToPrefix(r.Dst)
		if !ok {
			continue
		}
		d := RouteDelta{Added: true, Dest: prefix}
		if gw, ok := netip.AddrFromSlice(r.Gw); ok {
			d.Gateway = gw.Unmap()
		}
		if link, err := nl.LinkByIndex(r.LinkIndex); err == nil {
			d.Iface = link.Attrs().Name
		}
		out[prefix] = d
	}
	return out
}

func ipNetToPrefix(n *net.IPNet) (netip.Prefix, bool) {
	addr, ok := netip.AddrFromSlice(n.IP)
	if !ok {
		return netip.Prefix{}, false
	}
	ones, bits := n.Mask.Size()
	if bits == 0 {
		return netip.Prefix{}, false
	}
	addr = addr.Unmap()
	if addr.Is4() {
		return netip.PrefixFrom(addr, ones), true
	}
	return netip.Prefix{}, false
}
