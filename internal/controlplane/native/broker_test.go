package native

import (
	"testing"

	"github.com/mentalsmash/uno/internal/controlplane"
)

func TestBrokerFansOutToAllSubscribers(t *testing.T) {
	b := newBroker()
	r1 := b.subscribe("CELL")
	r2 := b.subscribe("CELL")

	b.publish("CELL", controlplane.Event{Instance: "cell-a", Sample: "x"})

	if len(r1.Take()) != 1 {
		t.Fatal("expected r1 to receive the published event")
	}
	if len(r2.Take()) != 1 {
		t.Fatal("expected r2 to receive the published event")
	}
}

func TestBrokerDoesNotCrossTopics(t *testing.T) {
	b := newBroker()
	cellReader := b.subscribe("CELL")
	uvnReader := b.subscribe("UVN")

	b.publish("CELL", controlplane.Event{Instance: "cell-a"})

	if len(cellReader.Take()) != 1 {
		t.Fatal("expected CELL reader to receive the event")
	}
	if len(uvnReader.Take()) != 0 {
		t.Fatal("expected UVN reader to receive nothing")
	}
}

func TestReaderTriggerValueTracksQueueState(t *testing.T) {
	b := newBroker()
	r := b.subscribe("CELL")

	if r.TriggerValue() {
		t.Fatal("fresh reader should have no pending data")
	}
	b.publish("CELL", controlplane.Event{Instance: "cell-a"})
	if !r.TriggerValue() {
		t.Fatal("expected trigger value true after a publish")
	}
	r.Take()
	if r.TriggerValue() {
		t.Fatal("expected trigger value false after Take drains the queue")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := newBroker()
	r := b.subscribe("CELL")
	r.Close()

	b.publish("CELL", controlplane.Event{Instance: "cell-a"})

	if len(r.Take()) != 0 {
		t.Fatal("expected no events after Close/unsubscribe")
	}
}

func TestWriterCloseDispatchesDisposal(t *testing.T) {
	b := newBroker()
	r := b.subscribe("CELL")
	w := &writer{b: b, topic: "CELL", instance: "cell-a"}

	if err := w.Write("hello"); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	events := r.Take()
	if len(events) != 2 {
		t.Fatalf("expected a sample and a disposal, got %d events", len(events))
	}
	if events[0].Disposed {
		t.Fatal("first event should be the sample, not a disposal")
	}
	if !events[1].Disposed || events[1].Instance != "cell-a" {
		t.Fatalf("expected a disposal for cell-a, got %+v", events[1])
	}
}

func TestWriteAfterCloseFails(t *testing.T) {
	b := newBroker()
	w := &writer{b: b, topic: "CELL", instance: "cell-a"}
	w.Close()

	if err := w.Write("late"); err != controlplane.ErrWriterClosed {
		t.Fatalf("Write after Close = %v, want ErrWriterClosed", err)
	}
}
