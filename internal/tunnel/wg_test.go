package tunnel

import (
	"net/netip"
	"testing"
	"time"
)

func netipPrefixesFromStrings(t *testing.T, strs ...string) []netip.Prefix {
	t.Helper()
	out := make([]netip.Prefix, len(strs))
	for i, s := range strs {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			t.Fatalf("ParsePrefix(%q): %v", s, err)
		}
		out[i] = p
	}
	return out
}

func TestParseDumpSkipsInterfaceLineAndParsesPeers(t *testing.T) {
	now := time.Now().Unix()
	dump := "privkey\tpubkey\t51820\toff\n" +
		"peerpubkeybase64AAAAAAAAAAAAAAAAAAAAAAAAAAA=\t\t203.0.113.5:51820\t10.0.0.2/32,192.168.1.0/24\t" +
		itoa(now) + "\t1024\t2048\t25\n"

	stats, err := parseDump(dump)
	if err != nil {
		t.Fatal(err)
	}
	if len(stats) != 1 {
		t.Fatalf("got %d peer stats, want 1", len(stats))
	}
	s := stats[0]
	if s.Endpoint.String() != "203.0.113.5:51820" {
		t.Fatalf("endpoint = %s, want 203.0.113.5:51820", s.Endpoint)
	}
	if len(s.AllowedIPs) != 2 {
		t.Fatalf("got %d allowed ips, want 2", len(s.AllowedIPs))
	}
	if s.RxBytes != 1024 || s.TxBytes != 2048 {
		t.Fatalf("rx/tx = %d/%d, want 1024/2048", s.RxBytes, s.TxBytes)
	}
	if !s.Live(time.Now()) {
		t.Fatal("peer with a recent handshake should be live")
	}
}

func TestPeerStatLiveBoundary(t *testing.T) {
	s := PeerStat{LastHandshake: time.Now().Add(-200 * time.Second)}
	if s.Live(time.Now()) {
		t.Fatal("a 200s old handshake should fall outside the 150s liveness window")
	}
	s2 := PeerStat{}
	if s2.Live(time.Now()) {
		t.Fatal("a zero-valued handshake should never be live")
	}
}

func TestDiffPrefixesAddAndRemove(t *testing.T) {
	current := netipPrefixesFromStrings(t, "10.0.0.0/24", "10.0.1.0/24")
	desired := netipPrefixesFromStrings(t, "10.0.1.0/24", "10.0.2.0/24")

	add, remove := diffPrefixes(current, desired)
	if len(add) != 1 || add[0].String() != "10.0.2.0/24" {
		t.Fatalf("add = %v, want [10.0.2.0/24]", add)
	}
	if len(remove) != 1 || remove[0].String() != "10.0.0.0/24" {
		t.Fatalf("remove = %v, want [10.0.0.0/24]", remove)
	}
}

func TestDiffPrefixesNoChange(t *testing.T) {
	same := netipPrefixesFromStrings(t, "10.0.0.0/24")
	add, remove := diffPrefixes(same, same)
	if len(add) != 0 || len(remove) != 0 {
		t.Fatalf("expected no diff for identical sets, got add=%v remove=%v", add, remove)
	}
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
