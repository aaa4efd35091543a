// Package netplane implements the NetworkPlane component from spec §4.6:
// kernel IPv4 forwarding, NAT masquerade and MSS clamp rules for tunnel
// interfaces, container-firewall detection, and a local routing-table
// observer.
package netplane

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// rule is one installed iptables rule, kept so Stop can reverse it
// without needing to recompute its arguments.
type rule struct {
	table string // "nat" or "filter"
	chain string
	spec  []string
}

// Plane manages the host network plane for a set of tunnel interfaces.
type Plane struct {
	log     *slog.Logger
	rules   []rule
	started bool
}

// New returns a Plane that logs through logger (nil uses slog.Default()).
func New(logger *slog.Logger) *Plane {
	if logger == nil {
		logger = slog.Default()
	}
	return &Plane{log: logger}
}

// Start enables IPv4 forwarding, installs a masquerade rule for every
// name in tunnelIfaces, installs a TCP-MSS clamp rule on forward, and, if
// a container-network firewall is detected, inserts explicit
// inter-interface forwarding rules in its user chain.
func (p *Plane) Start(tunnelIfaces []string) error {
	if err := enableIPv4Forwarding(); err != nil {
		return fmt.Errorf("netplane: enabling ipv4 forwarding: %w", err)
	}

	for _, iface := range tunnelIfaces {
		r := rule{table: "nat", chain: "POSTROUTING", spec: []string{"-o", iface, "-j", "MASQUERADE"}}
		if err := p.install(r); err != nil {
			return err
		}
	}

	mss := rule{table: "filter", chain: "FORWARD", spec: []string{
		"-p", "tcp", "--tcp-flags", "SYN,RST", "SYN", "-j", "TCPMSS", "--clamp-mss-to-pmtu",
	}}
	if err := p.install(mss); err != nil {
		return err
	}

	if chain, ok := DetectContainerFirewall(); ok {
		for _, iface := range tunnelIfaces {
			for _, other := range tunnelIfaces {
				if iface == other {
					continue
				}
				r := rule{table: "filter", chain: chain, spec: []string{"-i", iface, "-o", other, "-j", "ACCEPT"}}
				if err := p.install(r); err != nil {
					return err
				}
			}
		}
	}

	p.started = true
	return nil
}

// Stop reverses every rule installed by Start, logging but not aborting
// on individual failures since it may run during cleanup of a partially
// initialized plane.
func (p *Plane) Stop() {
	for i := len(p.rules) - 1; i >= 0; i-- {
		r := p.rules[i]
		if err := runIptables(append([]string{"-t", r.table, "-D", r.chain}, r.spec...)...); err != nil {
			p.log.Warn("netplane: failed to remove rule during stop", "rule", r.spec, "error", err)
		}
	}
	p.rules = nil
	p.started = false
}

func (p *Plane) install(r rule) error {
	args := append([]string{"-t", r.table, "-A", r.chain}, r.spec...)
	if err := runIptables(args...); err != nil {
		return fmt.Errorf("netplane: installing rule in %s/%s: %w", r.table, r.chain, err)
	}
	p.rules = append(p.rules, r)
	return nil
}

func runIptables(args ...string) error {
	ctx, cancel := context.WithTimeout(context.Background(), iptablesTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, "iptables", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("iptables %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

func enableIPv4Forwarding() error {
	return os.WriteFile("/proc/sys/net/ipv4/ip_forward", []byte("1\n"), 0o644)
}

// DetectContainerFirewall looks for the user-defined chains common
// container network stacks (Docker, Kubernetes's kube-proxy/CNI plugins)
// insert into the filter table's FORWARD chain, and returns the first one
// found so inter-tunnel traffic can be explicitly allowed through it.
func DetectContainerFirewall() (chain string, found bool) {
	ctx, cancel := context.WithTimeout(context.Background(), iptablesTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, "iptables-save").Output()
	if err != nil {
		return "", false
	}
	return detectChainFromRuleset(string(out))
}

// detectChainFromRuleset is the pure string-matching half of
// DetectContainerFirewall, split out so it can be tested without a real
// iptables-save binary.
func detectChainFromRuleset(ruleset string) (chain string, found bool) {
	for _, candidate := range knownContainerChains {
		if strings.Contains(ruleset, ":"+candidate+" ") {
			return candidate, true
		}
	}
	return "", false
}

// knownContainerChains are the chain names container runtimes are known to
// install; detection is a simple substring search over `iptables-save`
// rather than a full ruleset parse, which is all spec §4.6 asks for
// ("if a container-network firewall is detected on the host").
var knownContainerChains = []string{"DOCKER-USER", "KUBE-FORWARD", "CNI-FORWARD"}

const iptablesTimeout = 15 * time.Second
