package native

import (
	"sync"

	"github.com/mentalsmash/uno/internal/controlplane"
)

// broker fans out writes to every reader subscribed to a topic, grounded
// on internal/bgp/plugin.go's PeerStatusChan channel fan-out pattern but
// generalized from one fixed channel to per-topic subscriber lists since a
// UVN has three topics and an unbounded number of participants.
type broker struct {
	mu      sync.Mutex
	readers map[string][]*reader
}

func newBroker() *broker {
	return &broker{readers: make(map[string][]*reader)}
}

func (b *broker) publish(topic string, ev controlplane.Event) {
	b.mu.Lock()
	subs := append([]*reader(nil), b.readers[topic]...)
	b.mu.Unlock()
	for _, r := range subs {
		r.push(ev)
	}
}

func (b *broker) subscribe(topic string) *reader {
	r := &reader{condition: NewCondition(), b: b, topic: topic}
	b.mu.Lock()
	b.readers[topic] = append(b.readers[topic], r)
	b.mu.Unlock()
	return r
}

func (b *broker) unsubscribe(topic string, r *reader) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.readers[topic]
	for i, existing := range subs {
		if existing == r {
			b.readers[topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

// reader queues events pushed by the broker and exposes them through Take,
// setting its embedded condition's trigger value so an attached Waitset
// wakes while the queue is non-empty.
type reader struct {
	*condition
	b     *broker
	topic string

	mu    sync.Mutex
	queue []controlplane.Event
}

func (r *reader) push(ev controlplane.Event) {
	r.mu.Lock()
	r.queue = append(r.queue, ev)
	r.mu.Unlock()
	r.SetTriggerValue(true)
}

// Take drains and returns every queued event, in arrival order.
func (r *reader) Take() []controlplane.Event {
	r.mu.Lock()
	out := r.queue
	r.queue = nil
	r.mu.Unlock()
	r.SetTriggerValue(false)
	return out
}

func (r *reader) Close() error {
	r.b.unsubscribe(r.topic, r)
	return nil
}

// writer publishes samples under one sender instance on a topic. Close
// publishes a disposal event for that instance, simulating the transport
// noticing the writer went away.
type writer struct {
	b        *broker
	topic    string
	instance string

	mu     sync.Mutex
	closed bool
}

func (w *writer) Write(sample any) error {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return controlplane.ErrWriterClosed
	}
	w.b.publish(w.topic, controlplane.Event{Instance: w.instance, Sample: sample})
	return nil
}

func (w *writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()
	w.b.publish(w.topic, controlplane.Event{Instance: w.instance, Disposed: true})
	return nil
}
