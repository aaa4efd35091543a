package router

import (
	"bytes"
	"context"
	"log/slog"
	"net/netip"
	"os"
	"strings"
	"testing"
	"time"
)

func mustAddr(s string) netip.Addr {
	return netip.MustParseAddr(s)
}

func TestQueryRejectsUnknownKind(t *testing.T) {
	d := NewDriver(nil, "/bin/true", "/bin/true", "/tmp/unused.conf")
	_, err := d.Query(context.Background(), QueryKind("bogus"))
	if err == nil {
		t.Fatal("expected an error for an unknown query kind")
	}
}

func TestQueryArgsCoverEveryDocumentedQuery(t *testing.T) {
	for _, kind := range []QueryKind{
		QueryNeighbors, QueryRoutes, QueryInterfaces, QueryBorders, QueryLSA, QuerySummary,
	} {
		if _, ok := queryArgs[kind]; !ok {
			t.Errorf("no CLI args registered for query kind %s", kind)
		}
	}
}

func TestStopIsSafeBeforeStart(t *testing.T) {
	d := NewDriver(nil, "/bin/true", "/bin/true", "/tmp/unused.conf")
	d.Stop()
}

func TestStartThenStopStopsSupervisor(t *testing.T) {
	dir := t.TempDir()
	d := NewDriver(nil, "/bin/sleep", "/bin/true", dir+"/frr.conf")
	cfg := Config{RouterID: mustAddr("10.0.0.1"), LocalASN: 65001, Hostname: "test"}

	if err := d.Start(context.Background(), cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	d.Stop()
}

func TestSupervisedDaemonOutputReachesLogger(t *testing.T) {
	dir := t.TempDir()
	fakeDaemon := dir + "/fake-frr"
	script := "#!/bin/sh\necho hello-from-daemon\nsleep 1\n"
	if err := os.WriteFile(fakeDaemon, []byte(script), 0o755); err != nil {
		t.Fatalf("writing fake daemon script: %v", err)
	}

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	d := NewDriver(logger, fakeDaemon, "/bin/true", dir+"/frr.conf")
	cfg := Config{RouterID: mustAddr("10.0.0.1"), LocalASN: 65001, Hostname: "test"}
	if err := d.Start(context.Background(), cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	d.Stop()

	if !strings.Contains(buf.String(), "hello-from-daemon") {
		t.Fatalf("logger output = %q, want it to contain the daemon's stdout", buf.String())
	}
}
