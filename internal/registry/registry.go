// Package registry composes a UVN's membership and settings into the
// concrete artifacts cells run on: a backbone deployment, three VPN key
// material sets, and per-cell agent bundles. It is the Go home of spec
// §4.11's "Registry operations": any mutation marks the registry dirty,
// and Save regenerates exactly the artifacts that went stale.
package registry

import (
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"sync"

	"github.com/mentalsmash/uno/internal/controlplane"
	"github.com/mentalsmash/uno/internal/deployment"
	"github.com/mentalsmash/uno/internal/keymaterial"
	"github.com/mentalsmash/uno/internal/uvn"
	"github.com/mentalsmash/uno/internal/vpnconfig"
)

// dirtyBits tracks which derived artifacts are stale with respect to the
// UVN document, mirroring the original's collect_changes/_save_to_disk
// split: a mutation marks bits, Save only regenerates what they name.
type dirtyBits uint16

const (
	dirtyDeployment dirtyBits = 1 << iota
	dirtyRootVPN
	dirtyParticlesVPN
	dirtyBackboneVPN
	dirtyCellBundles
	dirtyParticleConfigs

	dirtyAll = dirtyDeployment | dirtyRootVPN | dirtyParticlesVPN | dirtyBackboneVPN | dirtyCellBundles | dirtyParticleConfigs
)

// Artifacts is the registry's rendered state: everything Save derives
// from the UVN document. It is safe to read concurrently with further
// mutation only via Registry's own accessors; callers must not retain a
// pointer across a Save call.
type Artifacts struct {
	ID         ID
	Deployment *deployment.Deployment

	RootVPN       *vpnconfig.CentralizedKeyMaterial
	RootTunnel    vpnconfig.TunnelConfig
	RootPeers     map[int]vpnconfig.TunnelConfig
	ParticlesVPN  *vpnconfig.CentralizedKeyMaterial
	ParticlesRoot vpnconfig.TunnelConfig
	ParticlesCfg  map[int]vpnconfig.TunnelConfig
	BackboneVPN   *vpnconfig.P2PKeyMaterial
	BackboneEdges map[int][]vpnconfig.EdgeTunnel

	Bundles         map[int]*Bundle // cell id -> bundle
	ParticleConfigs map[int]vpnconfig.TunnelConfig
}

// Option configures a Registry at construction time, following the
// functional-options idiom used for this codebase's other long-lived
// service types.
type Option func(*Registry)

// WithLogger sets the registry's logger; the default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// WithRootDir sets the directory Save persists the UVN document and
// per-cell bundle archives under. Without it, Save only updates in-memory
// artifacts.
func WithRootDir(dir string) Option {
	return func(r *Registry) { r.rootDir = dir }
}

// WithRootEndpoint sets the public address cells dial to reach the root
// VPN. Without it, the root VPN renders as if the registry itself were
// unreachable from outside, which only works when every cell is public
// and dials out on its own (matches CentralizedRequest's documented zero
// value).
func WithRootEndpoint(addr netip.AddrPort) Option {
	return func(r *Registry) { r.rootEndpoint = addr }
}

// WithBackboneWriter gives Save a control-plane writer to publish
// BackboneSample updates on as bundles are regenerated. Without it, Save
// only updates in-memory/on-disk artifacts and callers must distribute
// bundles themselves.
func WithBackboneWriter(w controlplane.Writer) Option {
	return func(r *Registry) { r.backboneWriter = w }
}

// Registry owns one UVN's document, key material, and derived artifacts.
type Registry struct {
	mu  sync.Mutex
	log *slog.Logger

	doc  *uvn.UVN
	keys *keymaterial.Store

	rootDir        string
	rootEndpoint   netip.AddrPort
	backboneWriter controlplane.Writer

	dirty dirtyBits
	art   Artifacts
}

// New creates a Registry over doc, generating a fresh key material store.
// doc's settings are taken as-is; callers building a new UVN from scratch
// should populate sensible defaults on doc.Settings before calling New.
func New(doc *uvn.UVN, opts ...Option) (*Registry, error) {
	keys, err := keymaterial.NewStore(doc.Name)
	if err != nil {
		return nil, fmt.Errorf("registry: initializing key material: %w", err)
	}
	r := &Registry{
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		doc:   doc,
		keys:  keys,
		dirty: dirtyAll,
		art:   Artifacts{ParticlesCfg: map[int]vpnconfig.TunnelConfig{}},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// UVN returns the registry's underlying document. Callers may read it
// freely; mutating it directly bypasses dirty tracking and must not be
// done concurrently with any Registry method.
func (r *Registry) UVN() *uvn.UVN {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc
}

// ID returns the registry id of the artifacts currently in memory. It is
// the zero ID until the first successful Save.
func (r *Registry) ID() ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.art.ID
}

// Artifacts returns a snapshot of the registry's currently rendered
// artifacts. Maps and pointers are shared, not copied; treat the result
// as read-only.
func (r *Registry) Artifacts() Artifacts {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.art
}

func (r *Registry) markDirty(bits dirtyBits) {
	r.dirty |= bits
}

// AddCell assigns a fresh id to c, inserts it, and marks the backbone
// deployment, root VPN, backbone VPN, and cell bundles stale.
func (r *Registry) AddCell(c uvn.Cell) (*uvn.Cell, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	added, err := r.doc.AddCell(c)
	if err != nil {
		return nil, err
	}
	r.markDirty(dirtyDeployment | dirtyRootVPN | dirtyBackboneVPN | dirtyCellBundles)
	return added, nil
}

// UpdateCell replaces the cell's settings and marks the same artifacts
// stale as AddCell.
func (r *Registry) UpdateCell(id int, c uvn.Cell) (*uvn.Cell, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	updated, err := r.doc.UpdateCell(id, c)
	if err != nil {
		return nil, err
	}
	r.markDirty(dirtyDeployment | dirtyRootVPN | dirtyBackboneVPN | dirtyCellBundles)
	return updated, nil
}

// BanCell retires the cell's id permanently.
func (r *Registry) BanCell(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.doc.BanCell(id); err != nil {
		return err
	}
	r.markDirty(dirtyDeployment | dirtyRootVPN | dirtyBackboneVPN | dirtyCellBundles)
	return nil
}

// UnbanCell restores a previously banned cell to active membership under
// its old id.
func (r *Registry) UnbanCell(id int) (*uvn.Cell, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	restored, err := r.doc.UnbanCell(id)
	if err != nil {
		return nil, err
	}
	r.markDirty(dirtyDeployment | dirtyRootVPN | dirtyBackboneVPN | dirtyCellBundles)
	return restored, nil
}

// DeleteCell removes the cell, freeing its id for reuse.
func (r *Registry) DeleteCell(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.doc.DeleteCell(id); err != nil {
		return err
	}
	r.markDirty(dirtyDeployment | dirtyRootVPN | dirtyBackboneVPN | dirtyCellBundles)
	return nil
}

// AddParticle assigns a fresh id to p and inserts it.
func (r *Registry) AddParticle(p uvn.Particle) (*uvn.Particle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	added, err := r.doc.AddParticle(p)
	if err != nil {
		return nil, err
	}
	r.markDirty(dirtyParticlesVPN | dirtyParticleConfigs)
	return added, nil
}

// UpdateParticle replaces the particle's settings.
func (r *Registry) UpdateParticle(id int, p uvn.Particle) (*uvn.Particle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	updated, err := r.doc.UpdateParticle(id, p)
	if err != nil {
		return nil, err
	}
	r.markDirty(dirtyParticlesVPN | dirtyParticleConfigs)
	return updated, nil
}

// BanParticle retires the particle's id permanently.
func (r *Registry) BanParticle(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.doc.BanParticle(id); err != nil {
		return err
	}
	r.markDirty(dirtyParticlesVPN | dirtyParticleConfigs)
	return nil
}

// UnbanParticle restores a previously banned particle to active membership
// under its old id.
func (r *Registry) UnbanParticle(id int) (*uvn.Particle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	restored, err := r.doc.UnbanParticle(id)
	if err != nil {
		return nil, err
	}
	r.markDirty(dirtyParticlesVPN | dirtyParticleConfigs)
	return restored, nil
}

// DeleteParticle removes the particle, freeing its id for reuse.
func (r *Registry) DeleteParticle(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.doc.DeleteParticle(id); err != nil {
		return err
	}
	r.markDirty(dirtyParticlesVPN | dirtyParticleConfigs)
	return nil
}

// Configure replaces the registry's settings wholesale. Since any field
// may influence any rendered artifact, it marks everything stale; this is
// the coarse, always-correct end of the dirty-tracking spectrum the
// per-field mutators above refine.
func (r *Registry) Configure(s uvn.Settings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doc.Settings = s
	r.markDirty(dirtyAll)
}

// Redeploy forces the backbone deployment (and everything downstream of
// it) to be recomputed on the next Save, even if membership hasn't
// changed, for the `uno redeploy` CLI verb.
func (r *Registry) Redeploy() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markDirty(dirtyDeployment | dirtyRootVPN | dirtyBackboneVPN | dirtyCellBundles)
}

// Save regenerates every artifact dirty-tracking flagged as stale,
// publishes updated bundles over the backbone writer (if configured),
// persists the UVN document and bundle archives to disk (if a root
// directory is configured), and returns the resulting registry id.
//
// Regeneration runs in dependency order: deployment, then the three VPN
// key/tunnel sets that read it, then bundles, which read all of the
// above and the freshly computed id.
func (r *Registry) Save() (ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dirty&dirtyDeployment != 0 {
		if err := r.regenerateDeployment(); err != nil {
			return ID{}, err
		}
		r.dirty &^= dirtyDeployment
	}
	if r.dirty&dirtyRootVPN != 0 && r.doc.Settings.EnableRootVPN {
		if err := r.regenerateRootVPN(); err != nil {
			return ID{}, err
		}
		r.dirty &^= dirtyRootVPN
	}
	if r.dirty&dirtyParticlesVPN != 0 && r.doc.Settings.EnableParticlesVPN {
		if err := r.regenerateParticlesVPN(); err != nil {
			return ID{}, err
		}
		r.dirty &^= dirtyParticlesVPN
	}
	if r.dirty&dirtyBackboneVPN != 0 {
		if err := r.regenerateBackboneVPN(); err != nil {
			return ID{}, err
		}
		r.dirty &^= dirtyBackboneVPN
	}

	id, err := computeID(r.doc, r.art.Deployment, r.keys.Current().ID)
	if err != nil {
		return ID{}, fmt.Errorf("registry: computing registry id: %w", err)
	}
	r.art.ID = id

	if r.dirty&dirtyCellBundles != 0 {
		if err := r.regenerateCellBundles(id); err != nil {
			return ID{}, err
		}
		r.dirty &^= dirtyCellBundles
	}
	if r.dirty&dirtyParticleConfigs != 0 {
		if err := r.regenerateParticleConfigs(); err != nil {
			return ID{}, err
		}
		r.dirty &^= dirtyParticleConfigs
	}

	if r.rootDir != "" {
		if err := r.persist(); err != nil {
			return ID{}, err
		}
	}

	r.log.Info("registry: saved", "registry_id", id, "cells", len(r.doc.Cells), "particles", len(r.doc.Particles))
	return id, nil
}

func (r *Registry) regenerateDeployment() error {
	privates := map[int]bool{}
	for id, c := range r.doc.Cells {
		privates[id] = c.Private()
	}
	dep, err := deployment.Plan(deployment.Request{
		Peers:        r.doc.CellIDs(),
		PrivatePeers: privates,
		Strategy:     deployment.Name(r.doc.Settings.Backbone.DeploymentStrategy),
		StrategyArgs: r.doc.Settings.Backbone.StrategyArgs,
		Pool:         r.doc.Settings.Backbone.Subnet.Prefix,
		BasePort:     r.doc.Settings.Backbone.Port,
	})
	if err != nil {
		return fmt.Errorf("registry: computing deployment: %w", err)
	}
	r.art.Deployment = dep
	return nil
}

func (r *Registry) regenerateRootVPN() error {
	keys := r.art.RootVPN
	if keys == nil {
		var err error
		keys, err = vpnconfig.NewCentralizedKeyMaterial()
		if err != nil {
			return fmt.Errorf("registry: generating root VPN key material: %w", err)
		}
	}
	ids := r.doc.CellIDs()
	if err := keys.AssertPeers(ids); err != nil {
		return fmt.Errorf("registry: asserting root VPN peer keys: %w", err)
	}
	keys.PurgeGonePeers(ids)

	rootTunnel, peerTunnels, err := vpnconfig.Centralized(vpnconfig.CentralizedRequest{
		PeerIDs:      ids,
		Subnet:       r.doc.Settings.Root.Subnet.Prefix,
		Port:         r.doc.Settings.Root.Port,
		RootEndpoint: r.rootEndpoint,
		Keys:         keys,
	})
	if err != nil {
		return fmt.Errorf("registry: rendering root VPN tunnels: %w", err)
	}
	r.art.RootVPN = keys
	r.art.RootTunnel = rootTunnel
	r.art.RootPeers = peerTunnels
	return nil
}

func (r *Registry) regenerateParticlesVPN() error {
	keys := r.art.ParticlesVPN
	if keys == nil {
		var err error
		keys, err = vpnconfig.NewCentralizedKeyMaterial()
		if err != nil {
			return fmt.Errorf("registry: generating particles VPN key material: %w", err)
		}
	}
	ids := r.doc.ParticleIDs()
	if err := keys.AssertPeers(ids); err != nil {
		return fmt.Errorf("registry: asserting particles VPN peer keys: %w", err)
	}
	keys.PurgeGonePeers(ids)

	root, peers, err := vpnconfig.Centralized(vpnconfig.CentralizedRequest{
		PeerIDs:       ids,
		Subnet:        r.doc.Settings.Particles.Subnet.Prefix,
		Port:          r.doc.Settings.Particles.Port,
		AllowedIPsAll: true,
		Keys:          keys,
	})
	if err != nil {
		return fmt.Errorf("registry: rendering particles VPN tunnels: %w", err)
	}
	r.art.ParticlesVPN = keys
	r.art.ParticlesRoot = root
	r.art.ParticlesCfg = peers
	return nil
}

func (r *Registry) regenerateBackboneVPN() error {
	if r.art.Deployment == nil {
		if err := r.regenerateDeployment(); err != nil {
			return err
		}
	}
	keys := r.art.BackboneVPN
	if keys == nil {
		keys = vpnconfig.NewP2PKeyMaterial()
	}
	ids := r.doc.CellIDs()
	if err := keys.AssertCells(ids, r.art.Deployment); err != nil {
		return fmt.Errorf("registry: asserting backbone VPN keys: %w", err)
	}

	cellNets := make(map[int]vpnconfig.CellNetwork, len(r.doc.Cells))
	for id, c := range r.doc.Cells {
		var endpoint netip.AddrPort
		if !c.Private() {
			endpoint = netip.AddrPortFrom(c.PublicAddress.Addr, uint16(r.doc.Settings.Backbone.Port))
		}
		lans := make([]netip.Prefix, len(c.AllowedLANs))
		for i, l := range c.AllowedLANs {
			lans[i] = l.Prefix
		}
		cellNets[id] = vpnconfig.CellNetwork{
			PublicEndpoint: endpoint,
			AllowedLANs:    lans,
			BasePort:       r.doc.Settings.Backbone.Port,
		}
	}

	edges, err := vpnconfig.P2P(vpnconfig.P2PRequest{
		Deployment: r.art.Deployment,
		Cells:      cellNets,
		Keys:       keys,
	})
	if err != nil {
		return fmt.Errorf("registry: rendering backbone VPN tunnels: %w", err)
	}
	r.art.BackboneVPN = keys
	r.art.BackboneEdges = edges
	return nil
}

func (r *Registry) persist() error {
	if err := os.MkdirAll(r.rootDir, 0o700); err != nil {
		return fmt.Errorf("registry: creating root dir: %w", err)
	}
	if err := r.doc.Save(filepath.Join(r.rootDir, "uvn.yml")); err != nil {
		return fmt.Errorf("registry: persisting UVN document: %w", err)
	}
	cellsDir := filepath.Join(r.rootDir, "cells")
	if err := os.MkdirAll(cellsDir, 0o700); err != nil {
		return fmt.Errorf("registry: creating cells dir: %w", err)
	}
	for id, bundle := range r.art.Bundles {
		c, ok := r.doc.Cells[id]
		if !ok {
			continue
		}
		path := filepath.Join(cellsDir, c.Name+".uvn-agent")
		if err := os.WriteFile(path, bundle.Archive, 0o600); err != nil {
			return fmt.Errorf("registry: writing bundle for cell %q: %w", c.Name, err)
		}
	}
	return nil
}
