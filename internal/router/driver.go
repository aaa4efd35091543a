package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// QueryKind names one of the read-only CLI queries RouterDriver exposes.
type QueryKind string

const (
	QueryNeighbors  QueryKind = "neighbors"
	QueryRoutes     QueryKind = "routes"
	QueryInterfaces QueryKind = "interfaces"
	QueryBorders    QueryKind = "borders"
	QueryLSA        QueryKind = "lsa"
	QuerySummary    QueryKind = "summary"
)

var queryArgs = map[QueryKind][]string{
	QueryNeighbors:  {"-c", "show bgp neighbors"},
	QueryRoutes:     {"-c", "show ip route"},
	QueryInterfaces: {"-c", "show interface"},
	QueryBorders:    {"-c", "show ip ospf border-routers"},
	QueryLSA:        {"-c", "show ip ospf database"},
	QuerySummary:    {"-c", "show bgp summary"},
}

var ErrUnknownQuery = errors.New("router: unknown query kind")

// logWriter adapts a *slog.Logger to io.Writer so the supervised daemon's
// stdout/stderr lands in the agent's log instead of being discarded. Each
// Write call becomes one log record; exec.Cmd copies output in chunks, so a
// record may hold several lines or part of one.
type logWriter struct {
	log    *slog.Logger
	stream string
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.log.Info("router: daemon output", "stream", w.stream, "line", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// Driver supervises an out-of-process FRR-compatible routing daemon: it
// renders a config file, starts the daemon, restarts it after every
// unexpected exit with no limit on attempts, and answers read-only queries by invoking
// the daemon's CLI and capturing stdout verbatim.
type Driver struct {
	log        *slog.Logger
	daemonPath string
	cliPath    string
	configPath string

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewDriver returns a Driver that launches daemonPath with configPath and
// answers queries via cliPath (FRR's vtysh, or an equivalent CLI).
func NewDriver(logger *slog.Logger, daemonPath, cliPath, configPath string) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{log: logger, daemonPath: daemonPath, cliPath: cliPath, configPath: configPath}
}

// Start renders cfg to the driver's config path and launches the daemon
// as a supervised background process, restarting it on unexpected exit.
func (d *Driver) Start(ctx context.Context, cfg Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return fmt.Errorf("router: driver already running")
	}

	rendered, err := renderConfig(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(d.configPath, []byte(rendered), 0o644); err != nil {
		return fmt.Errorf("router: writing config %s: %w", d.configPath, err)
	}

	supervised, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	d.running = true

	go d.supervise(supervised)
	return nil
}

// supervise runs the daemon, restarting it whenever it exits unexpectedly
// after an exponentially growing delay (capped at the backoff's maximum
// interval), with no limit on attempts, until ctx is cancelled.
func (d *Driver) supervise(ctx context.Context) {
	defer close(d.done)

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0

	for {
		if ctx.Err() != nil {
			return
		}
		cmd := exec.CommandContext(ctx, d.daemonPath, "-f", d.configPath)
		cmd.Stdout = &logWriter{log: d.log, stream: "stdout"}
		cmd.Stderr = &logWriter{log: d.log, stream: "stderr"}

		err := cmd.Run()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			d.log.Warn("router: daemon exited, restarting", "error", err)
		} else {
			d.log.Warn("router: daemon exited unexpectedly, restarting")
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// Stop signals the supervised daemon to terminate and waits for the
// supervisor goroutine to return.
func (d *Driver) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	cancel := d.cancel
	done := d.done
	d.running = false
	d.mu.Unlock()

	cancel()
	<-done
}

// Query invokes the daemon's CLI for the named read-only query and
// returns its stdout verbatim; no parsing of the daemon's own output is
// performed.
func (d *Driver) Query(ctx context.Context, kind QueryKind) (string, error) {
	args, ok := queryArgs[kind]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownQuery, kind)
	}
	out, err := exec.CommandContext(ctx, d.cliPath, args...).Output()
	if err != nil {
		return "", fmt.Errorf("router: querying %s: %w", kind, err)
	}
	return string(out), nil
}
