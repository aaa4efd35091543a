package peers

import "net/netip"

// Listener receives higher-level events derived from peer updates. All
// methods are called in the order documented on Peers.ProcessUpdates for
// any single update batch, and only while the local peer is online.
type Listener interface {
	OnlineCells(newCells, goneCells []string)
	AllCellsConnected(connected bool)
	RegistryConnected(connected bool)
	RoutedNetworks(newNets, goneNets []netip.Prefix)
	RoutedNetworksDiscovered(discovered bool)
	ConsistentConfigCells(newCells, goneCells []string)
	ConsistentConfigUVN(consistent bool)
	LocalReachableNetworks(newNets, goneNets []netip.Prefix)
	ReachableNetworks(newNets, goneNets []netip.Prefix)
	FullyRoutedUVN(fully bool)
	VPNConnections(newLinks, goneLinks []string)
}

// BaseListener implements Listener with no-op methods so callers can
// embed it and override only the events they care about.
type BaseListener struct{}

func (BaseListener) OnlineCells(newCells, goneCells []string)                {}
func (BaseListener) AllCellsConnected(connected bool)                        {}
func (BaseListener) RegistryConnected(connected bool)                       {}
func (BaseListener) RoutedNetworks(newNets, goneNets []netip.Prefix)         {}
func (BaseListener) RoutedNetworksDiscovered(discovered bool)                {}
func (BaseListener) ConsistentConfigCells(newCells, goneCells []string)      {}
func (BaseListener) ConsistentConfigUVN(consistent bool)                    {}
func (BaseListener) LocalReachableNetworks(newNets, goneNets []netip.Prefix) {}
func (BaseListener) ReachableNetworks(newNets, goneNets []netip.Prefix)      {}
func (BaseListener) FullyRoutedUVN(fully bool)                               {}
func (BaseListener) VPNConnections(newLinks, goneLinks []string)             {}
