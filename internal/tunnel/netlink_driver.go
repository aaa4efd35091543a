package tunnel

import (
	"errors"
	"fmt"
	"net/netip"
	"syscall"

	nl "github.com/vishvananda/netlink"
)

// NetlinkDriver implements Driver using vishvananda/netlink for interface
// lifecycle/addressing (grounded on
// client/doublezerod/internal/netlink/manager.go's createBaseTunnel) and
// the wg(8) CLI for key/peer programming, since no in-process WireGuard
// configuration library exists in this module's dependency pack (see
// DESIGN.md).
type NetlinkDriver struct {
	wg wgClient
}

// NewNetlinkDriver returns a Driver backed by the kernel's WireGuard
// implementation.
func NewNetlinkDriver() *NetlinkDriver {
	return &NetlinkDriver{wg: execWgClient{}}
}

func (d *NetlinkDriver) Start(cfg InterfaceConfig) (err error) {
	// "if an interface with that name exists, delete it" — spec §4.5.
	if existing, lookupErr := nl.LinkByName(cfg.Name); lookupErr == nil {
		if delErr := nl.LinkDel(existing); delErr != nil {
			return fmt.Errorf("tunnel: deleting stale interface %s: %w", cfg.Name, delErr)
		}
	}

	link := &nl.Wireguard{LinkAttrs: nl.LinkAttrs{Name: cfg.Name, MTU: cfg.MTU}}
	if err := nl.LinkAdd(link); err != nil {
		return fmt.Errorf("tunnel: creating interface %s: %w", cfg.Name, err)
	}
	defer func() {
		if err != nil {
			_ = nl.LinkDel(link)
		}
	}()

	if err := flushAddrs(link); err != nil {
		return fmt.Errorf("tunnel: flushing addresses on %s: %w", cfg.Name, err)
	}

	addr, err := nl.ParseAddr(cfg.Address.String())
	if err != nil {
		return fmt.Errorf("tunnel: parsing address %s: %w", cfg.Address, err)
	}
	if err := nl.AddrAdd(link, addr); err != nil && !errors.Is(err, syscall.EEXIST) {
		return fmt.Errorf("tunnel: assigning address to %s: %w", cfg.Name, err)
	}

	if err := d.wg.configure(cfg); err != nil {
		return fmt.Errorf("tunnel: programming wireguard config on %s: %w", cfg.Name, err)
	}

	if err := nl.LinkSetUp(link); err != nil {
		return fmt.Errorf("tunnel: bringing up %s: %w", cfg.Name, err)
	}

	return nil
}

func (d *NetlinkDriver) Stop(name string) error {
	link, err := nl.LinkByName(name)
	if err != nil {
		var linkNotFound nl.LinkNotFoundError
		if errors.As(err, &linkNotFound) {
			return nil
		}
		return fmt.Errorf("tunnel: looking up interface %s: %w", name, err)
	}
	if err := nl.LinkDel(link); err != nil {
		return fmt.Errorf("tunnel: deleting interface %s: %w", name, err)
	}
	return nil
}

func (d *NetlinkDriver) SetAllowedIPs(name string, peerIndex int, ips []netip.Prefix) error {
	current, err := d.wg.dump(name)
	if err != nil {
		return fmt.Errorf("tunnel: reading current config on %s: %w", name, err)
	}
	if peerIndex < 0 || peerIndex >= len(current) {
		return fmt.Errorf("tunnel: no peer at index %d on %s", peerIndex, name)
	}
	add, remove := diffPrefixes(current[peerIndex].AllowedIPs, ips)
	if len(add) == 0 && len(remove) == 0 {
		return nil
	}
	return d.wg.setAllowedIPs(name, current[peerIndex].PublicKey, ips, add, remove)
}

func (d *NetlinkDriver) Stat(name string) ([]PeerStat, error) {
	return d.wg.dump(name)
}

// diffPrefixes returns which of the desired prefixes are new and which of
// the currently-programmed ones must be removed, the fast-path diff spec
// §4.5 calls for instead of reprogramming the whole peer.
func diffPrefixes(current, desired []netip.Prefix) (add, remove []netip.Prefix) {
	currentSet := make(map[netip.Prefix]bool, len(current))
	for _, p := range current {
		currentSet[p] = true
	}
	desiredSet := make(map[netip.Prefix]bool, len(desired))
	for _, p := range desired {
		desiredSet[p] = true
		if !currentSet[p] {
			add = append(add, p)
		}
	}
	for _, p := range current {
		if !desiredSet[p] {
			remove = append(remove, p)
		}
	}
	return add, remove
}

func flushAddrs(link nl.Link) error {
	addrs, err := nl.AddrList(link, nl.FAMILY_V4)
	if err != nil {
		return err
	}
	for _, a := range addrs {
		if err := nl.AddrDel(link, &a); err != nil {
			return err
		}
	}
	return nil
}
