package peers

import (
	"net/netip"
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes the three roles a UVN member can hold.
type Kind string

const (
	KindRegistry Kind = "registry"
	KindCell     Kind = "cell"
	KindParticle Kind = "particle"
)

// Status is a peer's current liveliness state.
type Status string

const (
	StatusDeclared Status = "declared"
	StatusOnline   Status = "online"
	StatusOffline  Status = "offline"
)

// LinkStatus is the liveness and traffic counters for one tunnel interface
// to a peer, refreshed from tunnel.PeerStat.
type LinkStatus struct {
	Online        bool
	LastHandshake time.Time
	RxBytes       uint64
	TxBytes       uint64
}

// Peer is the runtime record for one UVN member. Created `declared` from
// UVN membership; becomes `online` when either a matching remote writer
// appears or a sample is received from it; becomes `offline` on
// liveliness loss or explicit disposal; `offline → online` on
// rediscovery.
type Peer struct {
	ID              string
	Kind            Kind
	Status          Status
	RegistryID      string
	RoutedNets      []netip.Prefix
	ReachableNets   []netip.Prefix
	UnreachableNets []netip.Prefix
	VPNLinkStatus   map[string]LinkStatus
	StartTS         time.Time
	InstanceHandle  uuid.UUID
}

func newPeer(id string, kind Kind) *Peer {
	return &Peer{
		ID:            id,
		Kind:          kind,
		Status:        StatusDeclared,
		VPNLinkStatus: make(map[string]LinkStatus),
	}
}

// clone returns a deep-enough copy for before/after diffing: slice and
// map fields are copied so mutating the live Peer afterward cannot
// retroactively change the snapshot.
func (p *Peer) clone() *Peer {
	c := *p
	c.RoutedNets = append([]netip.Prefix(nil), p.RoutedNets...)
	c.ReachableNets = append([]netip.Prefix(nil), p.ReachableNets...)
	c.UnreachableNets = append([]netip.Prefix(nil), p.UnreachableNets...)
	c.VPNLinkStatus = make(map[string]LinkStatus, len(p.VPNLinkStatus))
	for k, v := range p.VPNLinkStatus {
		c.VPNLinkStatus[k] = v
	}
	return &c
}
