package tunnel

import (
	"bufio"
	"context"
	"fmt"
	"net/netip"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mentalsmash/uno/internal/wgkey"
)

// wgClient is the subset of `wg(8)` operations NetlinkDriver needs; no
// library in this module's dependency pack implements the WireGuard
// generic-netlink configuration protocol, so configuration goes through
// the same CLI the kernel module ships with, run under a short, bounded
// retry the way the teacher's process-supervision code retries flaky
// external commands.
type wgClient interface {
	configure(cfg InterfaceConfig) error
	dump(iface string) ([]PeerStat, error)
	setAllowedIPs(iface string, peerPublicKey wgkey.Key, full []netip.Prefix, add, remove []netip.Prefix) error
}

type execWgClient struct{}

func (execWgClient) configure(cfg InterfaceConfig) error {
	keyFile, err := writeTempKey(cfg.PrivateKey)
	if err != nil {
		return err
	}
	defer os.Remove(keyFile)

	args := []string{"set", cfg.Name, "private-key", keyFile}
	if cfg.ListenPort != 0 {
		args = append(args, "listen-port", strconv.Itoa(cfg.ListenPort))
	}

	var pskFiles []string
	defer func() {
		for _, f := range pskFiles {
			os.Remove(f)
		}
	}()

	for _, p := range cfg.Peers {
		args = append(args, "peer", p.PublicKey.String())
		var zero wgkey.Key
		if p.PresharedKey != zero {
			pskFile, err := writeTempKey(p.PresharedKey)
			if err != nil {
				return err
			}
			pskFiles = append(pskFiles, pskFile)
			args = append(args, "preshared-key", pskFile)
		}
		if p.Endpoint.IsValid() {
			args = append(args, "endpoint", p.Endpoint.String())
		}
		if len(p.AllowedIPs) > 0 {
			args = append(args, "allowed-ips", joinPrefixes(p.AllowedIPs))
		}
		if p.Keepalive > 0 {
			args = append(args, "persistent-keepalive", strconv.Itoa(int(p.Keepalive/time.Second)))
		}
	}

	return runWg(args...)
}

func (execWgClient) setAllowedIPs(iface string, peerPublicKey wgkey.Key, full []netip.Prefix, _, _ []netip.Prefix) error {
	// wg(8) takes the full desired set for a peer, not an incremental
	// patch; the diff computed upstream is what decides *whether* to call
	// this at all (the fast path is skipping the call entirely when
	// nothing changed), not how to phrase the call itself.
	args := []string{"set", iface, "peer", peerPublicKey.String(), "allowed-ips", joinPrefixes(full)}
	return runWg(args...)
}

func (execWgClient) dump(iface string) ([]PeerStat, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, "wg", "show", iface, "dump").Output()
	if err != nil {
		return nil, fmt.Errorf("tunnel: wg show %s dump: %w", iface, err)
	}
	return parseDump(string(out))
}

// parseDump parses `wg show <iface> dump` output: the first line
// describes the interface itself and is skipped; each subsequent line is
// one peer as tab-separated
// public-key preshared-key endpoint allowed-ips latest-handshake rx tx keepalive.
func parseDump(out string) ([]PeerStat, error) {
	var stats []PeerStat
	scanner := bufio.NewScanner(strings.NewReader(out))
	first := true
	for scanner.Scan() {
		if first {
			first = false
			continue
		}
		fields := strings.Split(scanner.Text(), "\t")
		if len(fields) < 8 {
			continue
		}
		pub, err := wgkey.ParseKey(fields[0])
		if err != nil {
			return nil, fmt.Errorf("tunnel: parsing peer public key: %w", err)
		}
		stat := PeerStat{PublicKey: pub}
		if fields[2] != "(none)" {
			if ep, err := netip.ParseAddrPort(fields[2]); err == nil {
				stat.Endpoint = ep
			}
		}
		for _, cidr := range strings.Split(fields[3], ",") {
			if cidr == "" || cidr == "(none)" {
				continue
			}
			if p, err := netip.ParsePrefix(cidr); err == nil {
				stat.AllowedIPs = append(stat.AllowedIPs, p)
			}
		}
		if secs, err := strconv.ParseInt(fields[4], 10, 64); err == nil && secs > 0 {
			stat.LastHandshake = time.Unix(secs, 0)
		}
		if rx, err := strconv.ParseUint(fields[5], 10, 64); err == nil {
			stat.RxBytes = rx
		}
		if tx, err := strconv.ParseUint(fields[6], 10, 64); err == nil {
			stat.TxBytes = tx
		}
		stats = append(stats, stat)
	}
	return stats, scanner.Err()
}

func joinPrefixes(prefixes []netip.Prefix) string {
	parts := make([]string, len(prefixes))
	for i, p := range prefixes {
		parts[i] = p.String()
	}
	return strings.Join(parts, ",")
}

func writeTempKey(k wgkey.Key) (string, error) {
	f, err := os.CreateTemp("", "uno-wgkey-*")
	if err != nil {
		return "", fmt.Errorf("tunnel: creating temp key file: %w", err)
	}
	path := f.Name()
	if err := f.Chmod(0o600); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("tunnel: setting temp key file permissions: %w", err)
	}
	if _, err := f.WriteString(k.String()); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("tunnel: writing temp key file: %w", err)
	}
	return path, f.Close()
}

func runWg(args ...string) error {
	op := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		cmd := exec.CommandContext(ctx, "wg", args...)
		out, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("wg %s: %w: %s", filepath.Base(args[0]), err, strings.TrimSpace(string(out)))
		}
		return nil
	}
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)
	return backoff.Retry(op, b)
}
