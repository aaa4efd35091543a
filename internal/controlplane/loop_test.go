package controlplane_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mentalsmash/uno/internal/controlplane"
	"github.com/mentalsmash/uno/internal/controlplane/native"
)

type recordingHandler struct {
	mu     sync.Mutex
	events []string
}

func (h *recordingHandler) record(e string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, e)
}

func (h *recordingHandler) snapshot() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

func (h *recordingHandler) OnUVNSample(s controlplane.UVNSample, instance string) { h.record("uvn:" + instance) }
func (h *recordingHandler) OnUVNDisposed(instance string)                         { h.record("uvn-disposed:" + instance) }
func (h *recordingHandler) OnCellSample(s controlplane.CellSample, instance string) {
	h.record("cell:" + instance)
}
func (h *recordingHandler) OnCellDisposed(instance string) { h.record("cell-disposed:" + instance) }
func (h *recordingHandler) OnBackboneSample(s controlplane.BackboneSample, instance string) {
	h.record("backbone:" + instance)
}
func (h *recordingHandler) OnBackboneDisposed(instance string) {
	h.record("backbone-disposed:" + instance)
}
func (h *recordingHandler) OnUserCondition(c controlplane.Condition) { h.record("user") }

func TestLoopProcessesTopicsInDocumentedOrder(t *testing.T) {
	t.Cleanup(func() { native.ForgetUVN("uvn-order-test") })

	writerParticipant := native.NewParticipant("uvn-order-test")
	readerParticipant := native.NewParticipant("uvn-order-test")
	handler := &recordingHandler{}

	loop, err := controlplane.NewLoop(readerParticipant, handler)
	if err != nil {
		t.Fatal(err)
	}
	defer loop.Close()

	backboneWriter, _ := writerParticipant.Writer(controlplane.TopicBackbone, "registry")
	cellWriter, _ := writerParticipant.Writer(controlplane.TopicCell, "cell-a")
	uvnWriter, _ := writerParticipant.Writer(controlplane.TopicUVN, "registry")

	// Publish out of order and only start the Loop afterward, so the first
	// Wait() wakeup observes all three topics changed at once; the Loop
	// must still dispatch UVN, then CELL, then BACKBONE within that wakeup.
	backboneWriter.Write(controlplane.BackboneSample{TargetCellID: "cell-a"})
	cellWriter.Write(controlplane.CellSample{CellID: "cell-a"})
	uvnWriter.Write(controlplane.UVNSample{UVNName: "uvn-order-test"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(handler.snapshot()) >= 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	got := handler.snapshot()
	if len(got) < 3 {
		t.Fatalf("expected at least 3 events, got %v", got)
	}
	want := []string{"uvn:registry", "cell:cell-a", "backbone:registry"}
	for i, w := range want {
		if got[i] != w {
			t.Fatalf("event[%d] = %q, want %q (full: %v)", i, got[i], w, got)
		}
	}
}

func TestLoopSurfacesDisposalsSeparately(t *testing.T) {
	t.Cleanup(func() { native.ForgetUVN("uvn-dispose-test") })

	writerParticipant := native.NewParticipant("uvn-dispose-test")
	readerParticipant := native.NewParticipant("uvn-dispose-test")
	handler := &recordingHandler{}

	loop, err := controlplane.NewLoop(readerParticipant, handler)
	if err != nil {
		t.Fatal(err)
	}
	defer loop.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	cellWriter, _ := writerParticipant.Writer(controlplane.TopicCell, "cell-a")
	cellWriter.Write(controlplane.CellSample{CellID: "cell-a"})
	cellWriter.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(handler.snapshot()) >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	got := handler.snapshot()
	if len(got) != 2 || got[0] != "cell:cell-a" || got[1] != "cell-disposed:cell-a" {
		t.Fatalf("got %v, want [cell:cell-a cell-disposed:cell-a]", got)
	}
}
