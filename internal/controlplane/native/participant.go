package native

import (
	"sync"

	"github.com/mentalsmash/uno/internal/controlplane"
)

// brokers holds one broker per UVN name so every Participant constructed
// for the same UVN shares the same fan-out, the way a real transport's
// domain/partition would scope discovery.
var (
	brokersMu sync.Mutex
	brokers   = map[string]*broker{}
)

func brokerFor(uvnName string) *broker {
	brokersMu.Lock()
	defer brokersMu.Unlock()
	b, ok := brokers[uvnName]
	if !ok {
		b = newBroker()
		brokers[uvnName] = b
	}
	return b
}

// ForgetUVN drops the shared broker for uvnName so a later Participant for
// that name starts fresh. Intended for tests; production processes have no
// reason to call it since a UVN's broker only exists while something holds
// a Participant for it.
func ForgetUVN(uvnName string) {
	brokersMu.Lock()
	defer brokersMu.Unlock()
	delete(brokers, uvnName)
}

// Participant is the native, in-process controlplane.Participant.
type Participant struct {
	uvnName string
	broker  *broker
}

// NewParticipant returns a Participant scoped to uvnName. All Participants
// constructed for the same uvnName see each other's writes.
func NewParticipant(uvnName string) *Participant {
	return &Participant{uvnName: uvnName, broker: brokerFor(uvnName)}
}

func (p *Participant) Writer(topic, instance string) (controlplane.Writer, error) {
	return &writer{b: p.broker, topic: topic, instance: instance}, nil
}

func (p *Participant) Reader(topic string) (controlplane.Reader, error) {
	return p.broker.subscribe(topic), nil
}

func (p *Participant) NewWaitset() controlplane.Waitset {
	return NewWaitset()
}

// Close is a no-op: the native transport holds no per-participant resources
// beyond its readers/writers, which callers close individually.
func (p *Participant) Close() error { return nil }
