package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mentalsmash/uno/internal/keymaterial"
	"github.com/mentalsmash/uno/internal/peers"
	"github.com/mentalsmash/uno/internal/vpnconfig"
)

// pollInterval bounds how often spin-until-rekeyed re-checks peers
// status; it doesn't need to be fast since cells take real time to fetch
// and apply a new bundle.
const pollInterval = 500 * time.Millisecond

// Rekey regenerates key material per scope, publishes the resulting
// bundles, and blocks until the fleet has caught up to the new registry
// id, implementing spec §4.11's "Registry spin-until-rekeyed":
//
//  1. wait until every cell reports online at the current (pre-rekey) id
//  2. rekey, save, and publish under the new id
//  3. wait until every cell has gone offline at least once (picking up
//     the new bundle and restarting its services)
//  4. wait until every cell reports the new id consistently
//
// p drives all three waits: it is the same Peers collection the calling
// agent's control-plane loop feeds CELL samples into. A timeout in stage 3
// or 4 reverts the registry to the key material and artifacts it held
// before stage 2's mutation and returns an error, per spec §4.11: "a
// timeout during either phase aborts the transition and the registry
// reverts." A timeout in stage 1 never mutates anything, so there is
// nothing to revert.
func (r *Registry) Rekey(ctx context.Context, p *peers.Peers, scope keymaterial.RekeyScope, maxSpinTime time.Duration) (ID, error) {
	if err := spin(ctx, maxSpinTime, func() bool { return p.AllCellsConnected() }); err != nil {
		return ID{}, fmt.Errorf("registry: rekey aborted waiting for all cells online: %w", err)
	}

	r.mu.Lock()
	cellNames := make([]string, 0, len(r.doc.Cells))
	for _, c := range r.doc.Cells {
		cellNames = append(cellNames, c.Name)
	}
	snapshot := r.snapshotForRekeyLocked()

	_, err := r.keys.Rekey(r.doc.Name, scope)
	if err != nil {
		r.mu.Unlock()
		return ID{}, fmt.Errorf("registry: rekeying: %w", err)
	}
	// AssertPeers only fills in missing keys, so a VPN rekey has to drop
	// the existing key material before Save regenerates it; otherwise
	// dirtying the VPN bit would be a no-op since every peer key is
	// already present.
	if scope.UVN && scope.RootVPN {
		r.art.RootVPN = nil
	}
	if scope.UVN && scope.ParticlesVPN {
		r.art.ParticlesVPN = nil
	}
	r.markDirty(rekeyDirtyBits(scope))
	r.mu.Unlock()

	newID, err := r.Save()
	if err != nil {
		r.restoreRekeySnapshot(snapshot)
		return ID{}, fmt.Errorf("registry: saving rekeyed artifacts: %w", err)
	}

	offline := make(map[string]bool, len(cellNames))
	if err := spin(ctx, maxSpinTime, func() bool {
		for _, name := range cellNames {
			peer, ok := p.Get(name)
			if ok && peer.Status == peers.StatusOffline {
				offline[name] = true
			}
		}
		return len(offline) >= len(cellNames)
	}); err != nil {
		r.restoreRekeySnapshot(snapshot)
		return ID{}, fmt.Errorf("registry: rekey to %s aborted waiting for cells to reload, registry reverted: %w", newID, err)
	}

	if err := spin(ctx, maxSpinTime, func() bool { return p.ConsistentConfigUVN() }); err != nil {
		r.restoreRekeySnapshot(snapshot)
		return ID{}, fmt.Errorf("registry: rekey to %s did not reach consistency, registry reverted: %w", newID, err)
	}

	return newID, nil
}

// rekeySnapshot holds everything stage 2 of Rekey mutates: the rendered
// artifacts and the key material generation pair. Restoring it undoes a
// rekey that never reached consistency.
type rekeySnapshot struct {
	art         Artifacts
	currentGen  *keymaterial.Generation
	previousGen *keymaterial.Generation
}

// snapshotForRekeyLocked must be called with r.mu held. It clones the maps
// Save mutates in place (Bundles, ParticleConfigs) rather than the whole
// Artifacts tree, since everything else Save touches during a rekey is
// replaced wholesale (regenerateRootVPN/regenerateParticlesVPN swap in a
// fresh *CentralizedKeyMaterial rather than mutating the old one once its
// art field has been nilled out above).
func (r *Registry) snapshotForRekeyLocked() rekeySnapshot {
	snap := rekeySnapshot{
		art:         r.art,
		currentGen:  r.keys.Current(),
		previousGen: r.keys.Previous(),
	}
	snap.art.Bundles = make(map[int]*Bundle, len(r.art.Bundles))
	for id, b := range r.art.Bundles {
		snap.art.Bundles[id] = b
	}
	snap.art.ParticleConfigs = make(map[int]vpnconfig.TunnelConfig, len(r.art.ParticleConfigs))
	for id, tc := range r.art.ParticleConfigs {
		snap.art.ParticleConfigs[id] = tc
	}
	return snap
}

// restoreRekeySnapshot puts the registry's artifacts and key material back
// the way snapshotForRekeyLocked found them, then re-persists so any
// bundle archives already written to disk under the abandoned generation
// are overwritten with the reverted ones.
func (r *Registry) restoreRekeySnapshot(snap rekeySnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.art = snap.art
	r.keys.Restore(snap.currentGen, snap.previousGen)

	if r.rootDir != "" {
		if err := r.persist(); err != nil {
			r.log.Error("registry: failed to re-persist reverted rekey state", "error", err)
		}
	}
}

func rekeyDirtyBits(scope keymaterial.RekeyScope) dirtyBits {
	switch {
	case scope.Cell != "":
		return dirtyCellBundles
	case scope.Particle != "":
		return dirtyParticleConfigs
	case scope.UVN:
		bits := dirtyCellBundles
		if scope.RootVPN {
			bits |= dirtyRootVPN
		}
		if scope.ParticlesVPN {
			bits |= dirtyParticlesVPN | dirtyParticleConfigs
		}
		return bits
	default:
		return 0
	}
}

// spin polls cond at pollInterval until it returns true, ctx is
// cancelled, or maxSpinTime elapses, mirroring the original's
// `spin(until=..., max_spin_time=...)`. maxSpinTime <= 0 means no
// timeout beyond ctx.
func spin(ctx context.Context, maxSpinTime time.Duration, cond func() bool) error {
	if cond() {
		return nil
	}

	var deadline <-chan time.Time
	if maxSpinTime > 0 {
		timer := time.NewTimer(maxSpinTime)
		defer timer.Stop()
		deadline = timer.C
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = pollInterval
	b.MaxInterval = pollInterval
	b.MaxElapsedTime = 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("registry: spin timed out after %s", maxSpinTime)
		case <-time.After(b.NextBackOff()):
		}
		if cond() {
			return nil
		}
	}
}
