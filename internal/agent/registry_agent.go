package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mentalsmash/uno/internal/controlplane"
	"github.com/mentalsmash/uno/internal/controlplane/native"
	"github.com/mentalsmash/uno/internal/keymaterial"
	"github.com/mentalsmash/uno/internal/peers"
	"github.com/mentalsmash/uno/internal/registry"
	"github.com/mentalsmash/uno/internal/uvn"
)

// SyncMode selects when a RegistryAgent first publishes its UVN sample,
// mirroring registry_agent.py's IMMEDIATE/CONNECTED distinction: publish
// as soon as the registry is up, or wait until every declared cell has
// reported online at least once.
type SyncMode int

const (
	SyncImmediate SyncMode = iota
	SyncOnAllConnected
)

// RegistryAgentConfig collects a RegistryAgent's construction parameters.
// Registry must already be configured with registry.WithBackboneWriter
// pointed at a writer from the same Participant this config supplies,
// since RegistryAgent itself only needs to open the UVN topic: bundle
// publication happens inside Registry.Save/regenerateCellBundles.
type RegistryAgentConfig struct {
	Logger      *slog.Logger
	Registry    *registry.Registry
	UVNName     string
	InstanceID  string
	Participant controlplane.Participant
	SyncMode    SyncMode
}

// RegistryAgent is the daemon counterpart to CellAgent that runs
// alongside a Registry: it republishes the registry's identity on the UVN
// topic and folds incoming CELL samples into its own peer bookkeeping, so
// a live Rekey call has real fleet status to spin on.
type RegistryAgent struct {
	peers.BaseListener

	cfg RegistryAgentConfig
	log *slog.Logger

	peers     *peers.Peers
	loop      *controlplane.Loop
	uvnWriter controlplane.Writer

	mu        sync.Mutex
	synced    bool
	pendingID registry.ID

	runCancel context.CancelFunc
	wg        sync.WaitGroup

	metrics *metricsSet
}

// NewRegistryAgent validates cfg, fills in defaults, and declares every
// cell currently in the registry's document as a peer.
func NewRegistryAgent(cfg RegistryAgentConfig) (*RegistryAgent, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("agent: RegistryAgentConfig.Registry is required")
	}
	if cfg.UVNName == "" {
		return nil, fmt.Errorf("agent: RegistryAgentConfig.UVNName is required")
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = "registry"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Participant == nil {
		cfg.Participant = native.NewParticipant(cfg.UVNName)
	}

	a := &RegistryAgent{
		cfg:     cfg,
		log:     cfg.Logger,
		peers:   peers.New(cfg.InstanceID),
		metrics: newMetricsSet(),
	}
	a.peers.AddListener(a)
	a.peers.Declare(cfg.InstanceID, peers.KindRegistry)
	_ = a.peers.Update(cfg.InstanceID, func(p *peers.Peer) {
		p.Status = peers.StatusOnline
		p.StartTS = time.Now()
	})
	a.declareFromDoc()
	return a, nil
}

// Start opens the UVN writer, runs the control-plane loop, performs the
// registry's initial Save, and publishes the resulting UVN sample
// immediately or defers it until every cell reports online, per
// cfg.SyncMode.
func (a *RegistryAgent) Start(ctx context.Context) error {
	uvnWriter, err := a.cfg.Participant.Writer(controlplane.TopicUVN, a.cfg.InstanceID)
	if err != nil {
		return fmt.Errorf("agent: opening uvn writer: %w", err)
	}
	a.uvnWriter = uvnWriter

	loop, err := controlplane.NewLoop(a.cfg.Participant, a)
	if err != nil {
		uvnWriter.Close()
		return fmt.Errorf("agent: starting control-plane loop: %w", err)
	}
	a.loop = loop

	runCtx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.loop.Run(runCtx); err != nil && runCtx.Err() == nil {
			a.log.Error("agent: registry control-plane loop exited", "error", err)
		}
	}()

	id, err := a.cfg.Registry.Save()
	if err != nil {
		return fmt.Errorf("agent: initial registry save: %w", err)
	}

	if a.cfg.SyncMode == SyncImmediate || len(a.cfg.Registry.UVN().Cells) == 0 {
		return a.publishUVNInfo(id)
	}
	a.mu.Lock()
	a.pendingID = id
	a.mu.Unlock()
	return nil
}

// Stop cancels the control-plane loop goroutine and releases its
// resources.
func (a *RegistryAgent) Stop() error {
	if a.runCancel != nil {
		a.runCancel()
	}
	a.wg.Wait()
	var err error
	if a.loop != nil {
		err = a.loop.Close()
	}
	if a.uvnWriter != nil {
		if cerr := a.uvnWriter.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Sync re-saves the registry (after a membership/deployment mutator call)
// and publishes the resulting UVN sample.
func (a *RegistryAgent) Sync() (registry.ID, error) {
	id, err := a.cfg.Registry.Save()
	if err != nil {
		return registry.ID{}, fmt.Errorf("agent: saving registry: %w", err)
	}
	a.declareFromDoc()
	if err := a.publishUVNInfo(id); err != nil {
		return id, err
	}
	return id, nil
}

// Rekey drives Registry.Rekey with this agent's own peer bookkeeping as
// the spin-until-rekeyed source of truth, then republishes UVN info.
func (a *RegistryAgent) Rekey(ctx context.Context, scope keymaterial.RekeyScope, maxSpinTime time.Duration) (registry.ID, error) {
	id, err := a.cfg.Registry.Rekey(ctx, a.peers, scope, maxSpinTime)
	if err != nil {
		return registry.ID{}, err
	}
	a.metrics.RekeyTotal.Inc()
	if err := a.publishUVNInfo(id); err != nil {
		return id, err
	}
	return id, nil
}

// The mutators below are the CLI-facing surface ControlServer wraps: each
// one applies a single membership/settings change to the underlying
// Registry, then re-saves and republishes so the change actually reaches
// the fleet instead of sitting dirty in memory until something else
// happens to call Sync.

func (a *RegistryAgent) AddCell(c uvn.Cell) (*uvn.Cell, error) {
	added, err := a.cfg.Registry.AddCell(c)
	if err != nil {
		return nil, err
	}
	if _, err := a.Sync(); err != nil {
		return nil, err
	}
	return added, nil
}

func (a *RegistryAgent) UpdateCell(id int, c uvn.Cell) (*uvn.Cell, error) {
	updated, err := a.cfg.Registry.UpdateCell(id, c)
	if err != nil {
		return nil, err
	}
	if _, err := a.Sync(); err != nil {
		return nil, err
	}
	return updated, nil
}

func (a *RegistryAgent) BanCell(id int) error {
	if err := a.cfg.Registry.BanCell(id); err != nil {
		return err
	}
	_, err := a.Sync()
	return err
}

func (a *RegistryAgent) DeleteCell(id int) error {
	if err := a.cfg.Registry.DeleteCell(id); err != nil {
		return err
	}
	_, err := a.Sync()
	return err
}

func (a *RegistryAgent) UnbanCell(id int) (*uvn.Cell, error) {
	restored, err := a.cfg.Registry.UnbanCell(id)
	if err != nil {
		return nil, err
	}
	if _, err := a.Sync(); err != nil {
		return nil, err
	}
	return restored, nil
}

// BanCellByName, DeleteCellByName and UnbanCellByName resolve a cell name
// to its id before delegating to the id-based mutators above; the CLI's
// ban/delete/unban verbs take a name (spec §6), not the id assigned at
// `define cell` time.
func (a *RegistryAgent) BanCellByName(name string) error {
	id, err := a.cellIDByName(name)
	if err != nil {
		return err
	}
	return a.BanCell(id)
}

func (a *RegistryAgent) DeleteCellByName(name string) error {
	id, err := a.cellIDByName(name)
	if err != nil {
		return err
	}
	return a.DeleteCell(id)
}

func (a *RegistryAgent) UnbanCellByName(name string) (*uvn.Cell, error) {
	c, ok := a.cfg.Registry.UVN().ExcludedCellByName(name)
	if !ok {
		return nil, fmt.Errorf("agent: no banned cell named %q", name)
	}
	return a.UnbanCell(c.ID)
}

func (a *RegistryAgent) cellIDByName(name string) (int, error) {
	c, ok := a.cfg.Registry.UVN().CellByName(name)
	if !ok {
		return 0, fmt.Errorf("agent: no cell named %q", name)
	}
	return c.ID, nil
}

func (a *RegistryAgent) particleIDByName(name string) (int, error) {
	p, ok := a.cfg.Registry.UVN().ParticleByName(name)
	if !ok {
		return 0, fmt.Errorf("agent: no particle named %q", name)
	}
	return p.ID, nil
}

func (a *RegistryAgent) AddParticle(p uvn.Particle) (*uvn.Particle, error) {
	added, err := a.cfg.Registry.AddParticle(p)
	if err != nil {
		return nil, err
	}
	if _, err := a.Sync(); err != nil {
		return nil, err
	}
	return added, nil
}

func (a *RegistryAgent) UpdateParticle(id int, p uvn.Particle) (*uvn.Particle, error) {
	updated, err := a.cfg.Registry.UpdateParticle(id, p)
	if err != nil {
		return nil, err
	}
	if _, err := a.Sync(); err != nil {
		return nil, err
	}
	return updated, nil
}

func (a *RegistryAgent) BanParticle(id int) error {
	if err := a.cfg.Registry.BanParticle(id); err != nil {
		return err
	}
	_, err := a.Sync()
	return err
}

func (a *RegistryAgent) DeleteParticle(id int) error {
	if err := a.cfg.Registry.DeleteParticle(id); err != nil {
		return err
	}
	_, err := a.Sync()
	return err
}

func (a *RegistryAgent) UnbanParticle(id int) (*uvn.Particle, error) {
	restored, err := a.cfg.Registry.UnbanParticle(id)
	if err != nil {
		return nil, err
	}
	if _, err := a.Sync(); err != nil {
		return nil, err
	}
	return restored, nil
}

func (a *RegistryAgent) BanParticleByName(name string) error {
	id, err := a.particleIDByName(name)
	if err != nil {
		return err
	}
	return a.BanParticle(id)
}

func (a *RegistryAgent) DeleteParticleByName(name string) error {
	id, err := a.particleIDByName(name)
	if err != nil {
		return err
	}
	return a.DeleteParticle(id)
}

func (a *RegistryAgent) UnbanParticleByName(name string) (*uvn.Particle, error) {
	p, ok := a.cfg.Registry.UVN().ExcludedParticleByName(name)
	if !ok {
		return nil, fmt.Errorf("agent: no banned particle named %q", name)
	}
	return a.UnbanParticle(p.ID)
}

// Configure replaces the registry's settings wholesale and republishes.
func (a *RegistryAgent) Configure(s uvn.Settings) error {
	a.cfg.Registry.Configure(s)
	_, err := a.Sync()
	return err
}

// Redeploy forces the backbone deployment to be recomputed even though
// membership hasn't changed, for the `uno redeploy` verb.
func (a *RegistryAgent) Redeploy() (registry.ID, error) {
	a.cfg.Registry.Redeploy()
	return a.Sync()
}

func (a *RegistryAgent) declareFromDoc() {
	doc := a.cfg.Registry.UVN()
	for _, id := range doc.CellIDs() {
		a.peers.Declare(doc.Cells[id].Name, peers.KindCell)
	}
}

func (a *RegistryAgent) publishUVNInfo(id registry.ID) error {
	a.mu.Lock()
	a.synced = true
	a.mu.Unlock()
	return a.uvnWriter.Write(controlplane.UVNSample{
		UVNName:    a.cfg.UVNName,
		RegistryID: id.String(),
	})
}

// AllCellsConnected (a peers.Listener event) releases a deferred
// SyncOnAllConnected publish the first time every declared cell has
// reported online.
func (a *RegistryAgent) AllCellsConnected(connected bool) {
	if !connected {
		return
	}
	a.mu.Lock()
	id := a.pendingID
	synced := a.synced
	a.mu.Unlock()
	if synced || id.IsZero() {
		return
	}
	if err := a.publishUVNInfo(id); err != nil {
		a.log.Error("agent: publishing deferred uvn info", "error", err)
	}
}

// controlplane.Handler implementation. The registry is the sole writer of
// UVN and BACKBONE samples, so its own Loop seeing them reflected back
// (the native broker fans a participant's writes out to its own readers
// too) carries nothing a registry needs to act on; only CELL samples,
// written by cells, are meaningful here.

func (a *RegistryAgent) OnUVNSample(controlplane.UVNSample, string)         {}
func (a *RegistryAgent) OnUVNDisposed(string)                               {}
func (a *RegistryAgent) OnBackboneSample(controlplane.BackboneSample, string) {}
func (a *RegistryAgent) OnBackboneDisposed(string)                          {}
func (a *RegistryAgent) OnUserCondition(controlplane.Condition)             {}

func (a *RegistryAgent) OnCellSample(sample controlplane.CellSample, instance string) {
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

func (a *RegistryAgent) OnCellDisposed(instance string) {
	_ = a.peers.Update(instance, func(p *peers.Peer) { p.Status = peers.StatusOffline })
	a.peers.ProcessUpdates()
}

// Status returns a point-in-time snapshot of the registry's view of the
// fleet, for `uno status`.
func (a *RegistryAgent) Status() Status {
	names := a.peers.CellNames()
	out := make([]peers.Peer, 0, len(names))
	for _, name := range names {
		if p, ok := a.peers.Get(name); ok {
			out = append(out, *p)
		}
	}
	return Status{
		CellName:   a.cfg.InstanceID,
		RegistryID: a.cfg.Registry.ID().String(),
		Peers:      out,
	}
}
