package reachability

import (
	"context"
	"net/netip"
	"sync"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// PingFunc probes a single gateway address and reports whether it answered.
// Swappable in tests so probing doesn't need raw-socket or CAP_NET_RAW
// privileges.
type PingFunc func(ctx context.Context, addr netip.Addr) (ok bool, err error)

// NewICMPPingFunc returns a PingFunc backed by pro-bing, sending count
// ICMP echoes per call with the given per-probe timeout, grounded on
// client/doublezerod/internal/latency/ping.go's udpPing: run the pinger in
// a goroutine and race it against ctx.Done, calling Stop to unblock Run on
// cancellation rather than relying on a context-aware Run variant.
func NewICMPPingFunc(count int, timeout time.Duration) PingFunc {
	if count <= 0 {
		count = 3
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return func(ctx context.Context, addr netip.Addr) (bool, error) {
		pinger, err := probing.NewPinger(addr.String())
		if err != nil {
			return false, err
		}
		pinger.SetPrivileged(true)
		pinger.Count = count
		pinger.Timeout = timeout

		done := make(chan error, 1)
		go func() { done <- pinger.Run() }()

		select {
		case <-ctx.Done():
			pinger.Stop()
			<-done
			return false, ctx.Err()
		case err := <-done:
			if err != nil {
				return false, err
			}
		}
		return pinger.Statistics().PacketsRecv > 0, nil
	}
}

// worker fans a batch of probes out to at most maxConcurrency goroutines at
// once, mirroring the concurrency bound client/doublezerod/internal/probing
// enforces through its Limiter, but simplified to a plain semaphore since
// reachability probing has no per-route liveness state to reconcile.
type worker struct {
	ping          PingFunc
	maxConcurrent int
}

func newWorker(ping PingFunc, maxConcurrent int) *worker {
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	return &worker{ping: ping, maxConcurrent: maxConcurrent}
}

// probeAll resolves and pings the gateway for every lan, returning one
// Result per lan whose gateway resolved. LANs that don't resolve are
// omitted rather than reported unreachable, since there is nothing to probe.
func (w *worker) probeAll(ctx context.Context, lans []RoutedLAN, resolve func(RoutedLAN) (netip.Addr, bool)) map[RoutedLAN]Result {
	sem := make(chan struct{}, w.maxConcurrent)
	var wg sync.WaitGroup
	var mu sync.Mutex
	results := make(map[RoutedLAN]Result, len(lans))

	for _, lan := range lans {
		gw, ok := resolve(lan)
		if !ok {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(lan RoutedLAN, gw netip.Addr) {
			defer wg.Done()
			defer func() { <-sem }()
			ok, _ := w.ping(ctx, gw)
			mu.Lock()
			results[lan] = Result{Reachable: ok, NextHop: gw, CheckedAt: time.Now()}
			mu.Unlock()
		}(lan, gw)
	}
	wg.Wait()
	return results
}
