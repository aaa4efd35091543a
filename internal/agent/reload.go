package agent

import (
	"fmt"

	"github.com/mentalsmash/uno/internal/controlplane"
	"github.com/mentalsmash/uno/internal/peers"
	"github.com/mentalsmash/uno/internal/registry"
)

// handleReload implements spec §4.11's hot-reload sequence for one
// BACKBONE sample targeting this cell:
//
//  1. if the sample's registry id matches the current one, ignore it.
//  2. decode the pending configuration (full package or bare encrypted
//     string) into a candidate cellState.
//  3. validate it, including membership invariants.
//  4. stop services in reverse-start order, swap state, restart services.
//  5. on any failure, roll back to the pre-reload state and log.
//
// The whole pipeline runs synchronously on the control-plane event-loop
// goroutine, matching spec §5's rule that tunnel/router operations are
// only issued from that thread, during start/stop/reload.
func (a *CellAgent) handleReload(sample controlplane.BackboneSample) {
	a.mu.Lock()
	current := a.state
	a.mu.Unlock()

	if current != nil && sample.RegistryID == current.registryID {
		return
	}

	pending, err := a.decodePending(sample, current)
	if err != nil {
		a.log.Error("agent: decoding pending configuration", "error", err)
		return
	}
	if err := pending.doc.Validate(); err != nil {
		a.log.Error("agent: pending configuration failed validation", "error", err)
		return
	}
	if err := checkMembership(pending, a.cfg.CellName); err != nil {
		a.log.Error("agent: pending configuration failed membership check", "error", err)
		return
	}

	if current != nil {
		a.stopServices(current)
	}
	if err := a.startServices(pending); err != nil {
		a.log.Error("agent: failed to apply pending configuration, rolling back", "error", err)
		if current != nil {
			if rollbackErr := a.startServices(current); rollbackErr != nil {
				a.log.Error("agent: rollback to previous configuration also failed", "error", rollbackErr)
			}
		}
		return
	}

	a.mu.Lock()
	a.state = pending
	a.mu.Unlock()

	if sample.IsPackage() {
		if err := persistBundle(a.cfg.StateDir, sample.SignedPackage); err != nil {
			a.log.Warn("agent: failed to persist new bundle, next restart will use the prior one", "error", err)
		}
	}

	a.declareFromDoc(pending.doc)
	_ = a.peers.Update(a.cfg.CellName, func(p *peers.Peer) {
		p.RegistryID = pending.registryID
		p.RoutedNets = lanPrefixes(pending.cell.AllowedLANs)
	})
	a.peers.ProcessUpdates()

	if err := a.cellWriter.Write(a.cellSample()); err != nil {
		a.log.Error("agent: publishing cell sample after reload", "error", err)
	}
}

// decodePending resolves a BackboneSample into a candidate cellState: a
// full package carries (and supersedes) a new identity outright, since a
// rekey reissues every peer's certificate and key, not just the one it
// explicitly targets; a bare encrypted string is decrypted with whatever
// identity the cell currently holds.
func (a *CellAgent) decodePending(sample controlplane.BackboneSample, current *cellState) (*cellState, error) {
	if sample.IsPackage() {
		cfg, pc, err := registry.OpenBundle(sample.SignedPackage)
		if err != nil {
			return nil, fmt.Errorf("opening backbone package: %w", err)
		}
		return stateFromConfig(cfg, pc.Key, pc.Cert)
	}

	if current == nil {
		return nil, fmt.Errorf("received a bare encrypted config with no prior identity to decrypt it with")
	}
	cfg, err := registry.DecryptConfig(sample.EncryptedConfig, current.identityKey)
	if err != nil {
		return nil, fmt.Errorf("decrypting backbone config: %w", err)
	}
	return stateFromConfig(cfg, current.identityKey, current.identityCert)
}

// checkMembership enforces that the cell applying a reload is still an
// actual member of the pending document, catching a ban or deletion race
// between the sample being published and this cell consuming it.
func checkMembership(s *cellState, cellName string) error {
	if s.cell.Name != cellName {
		return fmt.Errorf("pending configuration names cell %q, agent is %q", s.cell.Name, cellName)
	}
	return nil
}

// startServices brings tunnels, the network plane, and the router up in
// that order for s, rolling back whatever partially started if a later
// stage fails.
func (a *CellAgent) startServices(s *cellState) error {
	ifaces := s.tunnelInterfaces(a.cfg.TunnelMTU)
	started := make([]string, 0, len(ifaces))
	for name, cfg := range ifaces {
		if err := a.tunnels.Start(cfg); err != nil {
			for _, up := range started {
				_ = a.tunnels.Stop(up)
			}
			return fmt.Errorf("starting tunnel %s: %w", name, err)
		}
		started = append(started, name)
	}

	if err := a.net.Start(s.tunnelIfaceNames()); err != nil {
		for _, up := range started {
			_ = a.tunnels.Stop(up)
		}
		return fmt.Errorf("starting network plane: %w", err)
	}

	if a.router != nil {
		routerCfg, err := s.routerConfig(a.cfg.LocalASN)
		if err != nil {
			a.net.Stop()
			for _, up := range started {
				_ = a.tunnels.Stop(up)
			}
			return fmt.Errorf("rendering router config: %w", err)
		}
		if err := a.router.Start(a.runCtx, routerCfg); err != nil {
			a.net.Stop()
			for _, up := range started {
				_ = a.tunnels.Stop(up)
			}
			return fmt.Errorf("starting router: %w", err)
		}
	}

	return nil
}

// stopServices reverses startServices: router, then network plane, then
// tunnels, logging but not aborting on individual failures since it may
// run during rollback of a partially initialized state.
func (a *CellAgent) stopServices(s *cellState) {
	if a.router != nil {
		a.router.Stop()
	}
	a.net.Stop()
	for _, name := range s.tunnelIfaceNames() {
		if err := a.tunnels.Stop(name); err != nil {
			a.log.Warn("agent: failed to stop tunnel during teardown", "interface", name, "error", err)
		}
	}
}
