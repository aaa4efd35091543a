// Package agent implements the Agent component of spec §4.11: a cell's
// long-running daemon that brings up its tunnels, NAT, and router, drives
// the control-plane event loop, runs the reachability prober, and hot
// reloads whenever a new BACKBONE sample names it as the target; and the
// registry's counterpart daemon, which republishes UVN identity and feeds
// CELL samples back into its own peer bookkeeping.
//
// Both roles share the single-event-loop-thread concurrency model of spec
// §5: control-plane dispatch happens on one goroutine, and every other
// background task (reachability probing, the router's supervisor) gets
// its own, reaching the loop only through a peers.Peers mutation or a user
// condition.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mentalsmash/uno/internal/controlplane"
	"github.com/mentalsmash/uno/internal/controlplane/native"
	"github.com/mentalsmash/uno/internal/netplane"
	"github.com/mentalsmash/uno/internal/peers"
	"github.com/mentalsmash/uno/internal/reachability"
	"github.com/mentalsmash/uno/internal/registry"
	"github.com/mentalsmash/uno/internal/router"
	"github.com/mentalsmash/uno/internal/tunnel"
	"github.com/mentalsmash/uno/internal/uvn"
)

// bundleFileName is the name a CellAgent persists its most recently
// adopted `.uvn-agent` package under, inside CellAgentConfig.StateDir.
// Hot reload only ever rewrites this file on success, so a restart after a
// crash mid-reload comes back up on the last known-good bundle.
const bundleFileName = "current.uvn-agent"

// CellAgentConfig collects a CellAgent's construction parameters. Fields
// left zero take the defaults a production deployment would want: the
// native in-process control-plane transport, the netlink tunnel driver,
// and a fresh NetworkPlane.
type CellAgentConfig struct {
	Logger *slog.Logger

	UVNName  string
	CellName string
	StateDir string
	PIDPath  string

	LocalASN         int
	TunnelMTU        int
	RouterDaemonPath string
	RouterCLIPath    string
	RouterConfigPath string

	Participant controlplane.Participant
	Tunnels     tunnel.Driver
	NetPlane    *netplane.Plane
	Resolver    reachability.GatewayResolver
}

func (c *CellAgentConfig) setDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.TunnelMTU == 0 {
		c.TunnelMTU = 1420
	}
	if c.Participant == nil {
		c.Participant = native.NewParticipant(c.UVNName)
	}
	if c.Tunnels == nil {
		c.Tunnels = tunnel.NewNetlinkDriver()
	}
	if c.NetPlane == nil {
		c.NetPlane = netplane.New(c.Logger)
	}
}

// CellAgent is the daemon described by spec §4.11 for a cell: it owns the
// tunnel interfaces, NAT rules, and router child for its host's lifetime,
// and is the sole writer of its own CELL sample.
type CellAgent struct {
	peers.BaseListener

	cfg CellAgentConfig
	log *slog.Logger

	tunnels tunnel.Driver
	net     *netplane.Plane
	router  *router.Driver
	prober  *reachability.Prober
	peers   *peers.Peers

	loop       *controlplane.Loop
	cellWriter controlplane.Writer

	pid *pidFile

	mu    sync.Mutex
	state *cellState

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup

	metrics *metricsSet
}

// NewCellAgent validates cfg, fills in defaults, and constructs the
// service drivers, but does not touch the network or filesystem; call
// Start to actually bring the agent up.
func NewCellAgent(cfg CellAgentConfig) (*CellAgent, error) {
	if cfg.UVNName == "" {
		return nil, fmt.Errorf("agent: CellAgentConfig.UVNName is required")
	}
	if cfg.CellName == "" {
		return nil, fmt.Errorf("agent: CellAgentConfig.CellName is required")
	}
	if cfg.StateDir == "" {
		return nil, fmt.Errorf("agent: CellAgentConfig.StateDir is required")
	}
	if cfg.PIDPath == "" {
		return nil, fmt.Errorf("agent: CellAgentConfig.PIDPath is required")
	}
	cfg.setDefaults()

	a := &CellAgent{
		cfg:     cfg,
		log:     cfg.Logger,
		tunnels: cfg.Tunnels,
		net:     cfg.NetPlane,
		peers:   peers.New(cfg.CellName),
		metrics: newMetricsSet(),
	}
	if cfg.RouterDaemonPath != "" {
		a.router = router.NewDriver(cfg.Logger, cfg.RouterDaemonPath, cfg.RouterCLIPath, cfg.RouterConfigPath)
	}
	a.peers.AddListener(a)
	return a, nil
}

// Start runs spec §4.11's agent startup sequence: load the persisted
// bundle, verify local interface coverage of the cell's allowed LANs,
// claim the PID file, bring services up, start the event loop and prober,
// then publish the cell's own CELL sample and mark it online.
func (a *CellAgent) Start(ctx context.Context) error {
	archive, err := os.ReadFile(filepath.Join(a.cfg.StateDir, bundleFileName))
	if err != nil {
		return fmt.Errorf("agent: reading persisted bundle: %w", err)
	}
	cfg, pc, err := registry.OpenBundle(archive)
	if err != nil {
		return fmt.Errorf("agent: opening persisted bundle: %w", err)
	}
	initial, err := stateFromConfig(cfg, pc.Key, pc.Cert)
	if err != nil {
		return err
	}
	if err := initial.doc.Validate(); err != nil {
		return fmt.Errorf("agent: persisted uvn document is invalid: %w", err)
	}
	if err := verifyLocalInterfacesCoverLANs(initial.cell.AllowedLANs); err != nil {
		return fmt.Errorf("agent: %w", err)
	}

	pid, err := acquirePIDFile(a.cfg.PIDPath)
	if err != nil {
		return err
	}
	a.pid = pid

	runCtx, cancel := context.WithCancel(ctx)
	a.runCtx = runCtx
	a.runCancel = cancel

	if err := a.startServices(initial); err != nil {
		cancel()
		_ = a.pid.release(a.cfg.PIDPath)
		return fmt.Errorf("agent: initial bring-up failed: %w", err)
	}
	a.mu.Lock()
	a.state = initial
	a.mu.Unlock()

	cellWriter, err := a.cfg.Participant.Writer(controlplane.TopicCell, a.cfg.CellName)
	if err != nil {
		a.stopServices(initial)
		cancel()
		_ = a.pid.release(a.cfg.PIDPath)
		return fmt.Errorf("agent: opening cell writer: %w", err)
	}
	a.cellWriter = cellWriter

	loop, err := controlplane.NewLoop(a.cfg.Participant, a)
	if err != nil {
		cellWriter.Close()
		a.stopServices(initial)
		cancel()
		_ = a.pid.release(a.cfg.PIDPath)
		return fmt.Errorf("agent: starting control-plane loop: %w", err)
	}
	a.loop = loop

	timing := initial.doc.Settings.Timing()
	a.prober = reachability.NewProber(reachability.Config{
		Logger:          a.log,
		SelfID:          a.cfg.CellName,
		MaxTriggerDelay: timing.MaxTriggerDelay,
		Resolver:        a.cfg.Resolver,
	}, a.peers)

	a.declareFromDoc(initial.doc)
	_ = a.peers.Update(a.cfg.CellName, func(p *peers.Peer) {
		p.Status = peers.StatusOnline
		p.StartTS = time.Now()
		p.RegistryID = initial.registryID
		p.RoutedNets = lanPrefixes(initial.cell.AllowedLANs)
	})
	a.peers.ProcessUpdates()

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		if err := a.prober.Run(runCtx); err != nil && runCtx.Err() == nil {
			a.log.Error("agent: reachability prober exited", "error", err)
		}
	}()
	go func() {
		defer a.wg.Done()
		if err := a.loop.Run(runCtx); err != nil && runCtx.Err() == nil {
			a.log.Error("agent: control-plane loop exited", "error", err)
		}
	}()

	return a.cellWriter.Write(a.cellSample())
}

// Stop tears the agent down in reverse of Start's order: cancel the
// background goroutines, wait for them, stop services, close the
// control-plane resources, and release the PID file.
func (a *CellAgent) Stop() error {
	if a.runCancel != nil {
		a.runCancel()
	}
	a.wg.Wait()

	a.mu.Lock()
	state := a.state
	a.mu.Unlock()
	if state != nil {
		a.stopServices(state)
	}

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.loop != nil {
		record(a.loop.Close())
	}
	if a.cellWriter != nil {
		record(a.cellWriter.Close())
	}
	if a.pid != nil {
		record(a.pid.release(a.cfg.PIDPath))
	}
	return firstErr
}

func (a *CellAgent) cellSample() controlplane.CellSample {
	self, _ := a.peers.Self()
	var started time.Time
	var routed, reach, unreach []netip.Prefix
	var registryID string
	if self != nil {
		started = self.StartTS
		routed = self.RoutedNets
		reach = self.ReachableNets
		unreach = self.UnreachableNets
		registryID = self.RegistryID
	}
	return controlplane.CellSample{
		CellID:              a.cfg.CellName,
		UVNName:             a.cfg.UVNName,
		RegistryID:          registryID,
		RoutedNetworks:      routed,
		ReachableNetworks:   reach,
		UnreachableNetworks: unreach,
		StartTS:             started,
	}
}

func (a *CellAgent) declareFromDoc(doc *uvn.UVN) {
	for _, id := range doc.CellIDs() {
		c := doc.Cells[id]
		a.peers.Declare(c.Name, peers.KindCell)
	}
}

func lanPrefixes(lans []uvn.Prefix) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(lans))
	for _, p := range lans {
		out = append(out, p.Prefix)
	}
	return out
}

// verifyLocalInterfacesCoverLANs checks that every prefix in lans is
// assigned to some local interface, per spec §4.11's startup rejection
// rule ("reject otherwise"): a cell whose host doesn't actually carry the
// LAN it claims to attach is misconfigured, not merely degraded.
func verifyLocalInterfacesCoverLANs(lans []uvn.Prefix) error {
	if len(lans) == 0 {
		return nil
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return fmt.Errorf("listing local interfaces: %w", err)
	}
	var local []netip.Prefix
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if ipnet, ok := a.(*net.IPNet); ok {
				if p, ok := netip.AddrFromSlice(ipnet.IP); ok {
					ones, _ := ipnet.Mask.Size()
					local = append(local, netip.PrefixFrom(p.Unmap(), ones))
				}
			}
		}
	}
	for _, lan := range lans {
		covered := false
		for _, l := range local {
			if l.Overlaps(lan.Prefix) {
				covered = true
				break
			}
		}
		if !covered {
			return fmt.Errorf("allowed lan %s is not covered by any local interface", lan.Prefix)
		}
	}
	return nil
}

// persistBundle atomically writes archive to the agent's current-bundle
// path, so a crash mid-write never leaves a corrupt file for the next
// Start to load.
func persistBundle(stateDir string, archive []byte) error {
	path := filepath.Join(stateDir, bundleFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, archive, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming %s to %s: %w", tmp, path, err)
	}
	return nil
}

// PersistBundle exposes persistBundle to `uno install`/`uno update`, which
// adopt a `.uvn-agent` package the same way a hot reload does but without a
// running CellAgent to do it for them.
func PersistBundle(stateDir string, archive []byte) error {
	return persistBundle(stateDir, archive)
}

// Status is a snapshot of a CellAgent's runtime state, the data structure
// the reduced (non-HTTPS) dashboard and `uno status` render.
type Status struct {
	CellName   string
	RegistryID string
	Peers      []peers.Peer
	Reachability map[string]reachability.Result
}

// Status returns a point-in-time snapshot for display.
func (a *CellAgent) Status() Status {
	a.mu.Lock()
	registryID := ""
	if a.state != nil {
		registryID = a.state.registryID
	}
	a.mu.Unlock()

	names := a.peers.CellNames()
	out := make([]peers.Peer, 0, len(names))
	for _, name := range names {
		if p, ok := a.peers.Get(name); ok {
			out = append(out, *p)
		}
	}
	var reach map[string]reachability.Result
	if a.prober != nil {
		snap := a.prober.Snapshot()
		reach = make(map[string]reachability.Result, len(snap))
		for lan, res := range snap {
			reach[fmt.Sprintf("%s/%s", lan.CellID, lan.Prefix)] = res
		}
	}
	return Status{
		CellName:     a.cfg.CellName,
		RegistryID:   registryID,
		Peers:        out,
		Reachability: reach,
	}
}
