package agent

import (
	"net/netip"

	"github.com/mentalsmash/uno/internal/controlplane"
	"github.com/mentalsmash/uno/internal/peers"
)

// controlplane.Handler implementation. Loop.Run dispatches these in the
// fixed order UVN -> CELL -> BACKBONE -> user conditions for every
// wakeup, so identity information is always current before configuration
// deltas are applied (spec §4.11).

func (a *CellAgent) OnUVNSample(sample controlplane.UVNSample, instance string) {
	a.peers.Declare(instance, peers.KindRegistry)
	_ = a.peers.Update(instance, func(p *peers.Peer) {
		p.Status = peers.StatusOnline
		p.RegistryID = sample.RegistryID
	})
	a.peers.ProcessUpdates()
}

func (a *CellAgent) OnUVNDisposed(instance string) {
	_ = a.peers.Update(instance, func(p *peers.Peer) { p.Status = peers.StatusOffline })
	a.peers.ProcessUpdates()
}

// OnCellSample folds a remote cell's self-reported state into local peer
// bookkeeping. The native broker reflects a participant's own writes back
// to its own readers, so samples carrying this cell's own name are
// dropped rather than re-applied to the peer that already holds the
// authoritative copy of that state.
func (a *CellAgent) OnCellSample(sample controlplane.CellSample, instance string) {
	if instance == a.cfg.CellName {
		return
	}
	a.peers.Declare(instance, peers.KindCell)
	_ = a.peers.Update(instance, func(p *peers.Peer) {
		p.Status = peers.StatusOnline
		p.RegistryID = sample.RegistryID
		p.RoutedNets = sample.RoutedNetworks
		p.ReachableNets = sample.ReachableNetworks
		p.UnreachableNets = sample.UnreachableNetworks
		if p.StartTS.IsZero() {
			p.StartTS = sample.StartTS
		}
	})
	a.peers.ProcessUpdates()
}

func (a *CellAgent) OnCellDisposed(instance string) {
	if instance == a.cfg.CellName {
		return
	}
	_ = a.peers.Update(instance, func(p *peers.Peer) { p.Status = peers.StatusOffline })
	a.peers.ProcessUpdates()
}

// OnBackboneSample is the hot-reload trigger: a backbone sample not
// targeting this cell is ignored, one that is gets handed to the reload
// pipeline.
func (a *CellAgent) OnBackboneSample(sample controlplane.BackboneSample, instance string) {
	if sample.TargetCellID != a.cfg.CellName {
		return
	}
	a.handleReload(sample)
}

// OnBackboneDisposed is not actionable by a cell: only the registry
// writes BACKBONE samples, and its disposal carries no information a cell
// needs beyond what OnUVNDisposed already reports.
func (a *CellAgent) OnBackboneDisposed(instance string) {}

// OnUserCondition is unused: CellAgent attaches no user conditions to its
// Loop, since the reachability prober and router supervisor run on their
// own goroutines rather than through the control-plane waitset.
func (a *CellAgent) OnUserCondition(c controlplane.Condition) {}

// peers.Listener overrides. BaseListener (embedded on CellAgent) supplies
// no-op defaults for everything else.

// RoutedNetworks wakes the reachability prober whenever the set of
// networks remote cells advertise changes, mirroring the original
// cell_agent.py's on_event_routed_networks.
func (a *CellAgent) RoutedNetworks(newNets, goneNets []netip.Prefix) {
	if a.prober != nil {
		a.prober.TriggerRoutedNetworksChanged()
	}
}

// OnlineCells keeps the online-cell gauge in step with Peers' own view,
// since ProcessUpdates only fires this once per settled batch rather than
// once per individual peer transition.
func (a *CellAgent) OnlineCells(newCells, goneCells []string) {
	a.metrics.OnlineCells.Add(float64(len(newCells) - len(goneCells)))
}

// ReachableNetworks tracks the UVN-wide reachable-networks aggregate.
func (a *CellAgent) ReachableNetworks(newNets, goneNets []netip.Prefix) {
	a.metrics.ReachableNets.Add(float64(len(newNets) - len(goneNets)))
}
