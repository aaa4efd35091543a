package reachability

import (
	"context"
	"log/slog"
	"net/netip"
	"sort"
	"time"

	"github.com/mentalsmash/uno/internal/peers"
)

// PeerUpdater is the subset of peers.Peers the Prober needs: apply a
// mutation to the local peer and flush the resulting events. Narrowed to an
// interface so tests can stub it out without a real Peers collection.
type PeerUpdater interface {
	Update(id string, mutate func(*peers.Peer)) error
	ProcessUpdates()
}

// Prober is the triggerable background task described for ReachabilityProbe:
// on trigger or after max_trigger_delay elapses, it probes every remote
// cell's routed LANs, partitions them into reachable/unreachable, folds the
// result into the local peer's reachable_networks, and signals Peers so
// listeners (and, downstream, the control-plane waitset) run.
type Prober struct {
	log       *slog.Logger
	peersLANs func() map[string][]netip.Prefix
	updater   PeerUpdater
	selfID    string
	resolve   GatewayResolver
	scheduler *scheduler
	worker    *worker
	store     *store
}

// Config collects Prober construction parameters.
type Config struct {
	Logger          *slog.Logger
	SelfID          string
	MaxTriggerDelay time.Duration
	PingCount       int
	PingTimeout     time.Duration
	MaxConcurrent   int
	Resolver        GatewayResolver
}

// NewProber wires a Prober against a live peers.Peers collection.
func NewProber(cfg Config, p *peers.Peers) *Prober {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = NewKernelGatewayResolver()
	}
	return &Prober{
		log:       log,
		peersLANs: p.RemoteCellLANs,
		updater:   p,
		selfID:    cfg.SelfID,
		resolve:   resolver,
		scheduler: newScheduler(cfg.MaxTriggerDelay),
		worker:    newWorker(NewICMPPingFunc(cfg.PingCount, cfg.PingTimeout), cfg.MaxConcurrent),
		store:     newStore(),
	}
}

// TriggerRoutedNetworksChanged wakes the Prober because the set of routed
// LANs reported by remote cells changed.
func (pr *Prober) TriggerRoutedNetworksChanged() { pr.scheduler.Trigger() }

// TriggerRouteTableChanged wakes the Prober because the local kernel routing
// table changed, which can change gateway resolution.
func (pr *Prober) TriggerRouteTableChanged() { pr.scheduler.Trigger() }

// Snapshot returns the last known result for every probed LAN.
func (pr *Prober) Snapshot() map[RoutedLAN]Result { return pr.store.Snapshot() }

// Run blocks probing on trigger or timeout until ctx is canceled.
func (pr *Prober) Run(ctx context.Context) error {
	timer := time.NewTimer(pr.scheduler.MaxDelay())
	defer timer.Stop()
	wake := pr.scheduler.Wake()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
			wake = pr.scheduler.Wake()
			pr.runOnce(ctx)
			resetTimer(timer, pr.scheduler.MaxDelay())
		case <-timer.C:
			pr.runOnce(ctx)
			resetTimer(timer, pr.scheduler.MaxDelay())
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

func (pr *Prober) runOnce(ctx context.Context) {
	lans := pr.routedLANs()
	results := pr.worker.probeAll(ctx, lans, pr.resolve.Gateway)

	keep := make(map[RoutedLAN]bool, len(results))
	for k, v := range results {
		pr.store.Set(k, v)
		keep[k] = true
	}
	pr.store.Prune(keep)

	reachable, unreachable := partition(results)

	if err := pr.updater.Update(pr.selfID, func(p *peers.Peer) {
		p.ReachableNets = reachable
		p.UnreachableNets = unreachable
	}); err != nil {
		pr.log.Warn("reachability: failed to update local peer", "error", err)
		return
	}
	pr.updater.ProcessUpdates()
}

func (pr *Prober) routedLANs() []RoutedLAN {
	var lans []RoutedLAN
	for cellID, prefixes := range pr.peersLANs() {
		for _, prefix := range prefixes {
			lans = append(lans, RoutedLAN{CellID: cellID, Prefix: prefix})
		}
	}
	return lans
}

// partition splits probe results into the reachable/unreachable prefix
// lists the spec attaches to a peer: a prefix is reachable if any cell
// advertising it answered, unreachable otherwise.
func partition(results map[RoutedLAN]Result) (reachable, unreachable []netip.Prefix) {
	reachSet := make(map[netip.Prefix]bool)
	seen := make(map[netip.Prefix]bool)
	for lan, res := range results {
		seen[lan.Prefix] = true
		if res.Reachable {
			reachSet[lan.Prefix] = true
		}
	}
	for prefix := range seen {
		if reachSet[prefix] {
			reachable = append(reachable, prefix)
		} else {
			unreachable = append(unreachable, prefix)
		}
	}
	sort.Slice(reachable, func(i, j int) bool { return reachable[i].String() < reachable[j].String() })
	sort.Slice(unreachable, func(i, j int) bool { return unreachable[i].String() < unreachable[j].String() })
	return reachable, unreachable
}
