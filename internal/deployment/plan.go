package deployment

import (
	"fmt"
	"net/netip"

	"github.com/jonboulle/clockwork"
)

// Request describes the inputs to Plan: the full cell set, which of them
// are private, the strategy to shape the public backbone, and the address
// pool to carve /31 links from.
type Request struct {
	Peers        []int // all cell ids participating in the backbone
	PrivatePeers map[int]bool
	Strategy     Name
	StrategyArgs map[string]any
	Pool         netip.Prefix // backbone address pool, e.g. 10.255.192.0/20
	BasePort     int          // backbone.port; combine with Link.PortIndex for the listen port
	Clock        clockwork.Clock
}

// linkCursor hands out successive /31s from a pool, in ascending order, the
// way the pool is described as a stateful cursor over address space in
// spec §4.2.
type linkCursor struct {
	pool netip.Prefix
	next uint32
}

func newLinkCursor(pool netip.Prefix) *linkCursor {
	return &linkCursor{pool: pool, next: addrToUint32(pool.Masked().Addr())}
}

func (c *linkCursor) take() (netip.Prefix, error) {
	base := uint32ToAddr(c.next)
	link := netip.PrefixFrom(base, 31)
	if !c.pool.Contains(base) {
		return netip.Prefix{}, fmt.Errorf("deployment: address pool %s exhausted", c.pool)
	}
	c.next += 2
	return link, nil
}

// Plan computes a full Deployment: it asks the named Strategy for the
// public-cell edge shape, attaches every private cell to every public cell
// (the simplest strategy-agnostic rule that satisfies "a private cell may
// only peer with public cells" while preserving connectivity regardless of
// the public backbone's shape), then allocates a /31 link subnet and port
// index for every resulting edge.
func Plan(req Request) (*Deployment, error) {
	if len(req.Peers) == 0 {
		return nil, fmt.Errorf("deployment: no peers")
	}
	publicIDs, privateIDs := splitPublicPrivate(req.Peers, req.PrivatePeers)

	var edges [][2]int
	if len(publicIDs) >= 2 {
		strat, err := Get(req.Strategy)
		if err != nil {
			return nil, err
		}
		edges, err = strat.PublicEdges(sortedCopy(publicIDs), req.StrategyArgs)
		if err != nil {
			return nil, err
		}
	}

	if len(privateIDs) > 0 && len(publicIDs) == 0 {
		return nil, fmt.Errorf("deployment: %d private cell(s) but no public cell to peer with", len(privateIDs))
	}
	for _, priv := range sortedCopy(privateIDs) {
		for _, pub := range sortedCopy(publicIDs) {
			edges = append(edges, orderedEdge(priv, pub))
		}
	}
	edges = dedupe(edges)

	if len(req.Peers) > 1 && !connected(req.Peers, edges) {
		return nil, fmt.Errorf("deployment: resulting backbone graph is not connected")
	}

	clock := req.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return allocate(req, edges, clock)
}

func splitPublicPrivate(peers []int, private map[int]bool) (public, priv []int) {
	for _, id := range peers {
		if private[id] {
			priv = append(priv, id)
		} else {
			public = append(public, id)
		}
	}
	return public, priv
}

func dedupe(edges [][2]int) [][2]int {
	seen := map[[2]int]bool{}
	out := make([][2]int, 0, len(edges))
	for _, e := range edges {
		e = orderedEdge(e[0], e[1])
		if seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}

func connected(peers []int, edges [][2]int) bool {
	if len(peers) <= 1 {
		return true
	}
	adj := map[int][]int{}
	for _, e := range edges {
		adj[e[0]] = append(adj[e[0]], e[1])
		adj[e[1]] = append(adj[e[1]], e[0])
	}
	visited := map[int]bool{peers[0]: true}
	queue := []int{peers[0]}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adj[cur] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return len(visited) == len(peers)
}

func allocate(req Request, edges [][2]int, clock clockwork.Clock) (*Deployment, error) {
	cursor := newLinkCursor(req.Pool)
	portIndex := map[int]int{}
	slots := map[int]*PeerSlot{}

	sortedPeers := sortedCopy(req.Peers)
	for n, id := range sortedPeers {
		slots[id] = &PeerSlot{N: n, Peers: map[int]Link{}}
	}

	for _, e := range edges {
		a, b := e[0], e[1]
		linkSubnet, err := cursor.take()
		if err != nil {
			return nil, err
		}
		addrs := linkAddrs(linkSubnet)

		aPort := portIndex[a]
		portIndex[a]++
		bPort := portIndex[b]
		portIndex[b]++

		slots[a].Peers[b] = Link{
			PortIndex:  aPort,
			LocalAddr:  addrs[0],
			RemoteAddr: addrs[1],
			LinkSubnet: linkSubnet,
		}
		slots[b].Peers[a] = Link{
			PortIndex:  bPort,
			LocalAddr:  addrs[1],
			RemoteAddr: addrs[0],
			LinkSubnet: linkSubnet,
		}
	}

	d := &Deployment{
		GenerationTS: clock.Now(),
		Peers:        slots,
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// linkAddrs returns the two host addresses of a /31: the masked base and
// its successor.
func linkAddrs(p netip.Prefix) [2]netip.Addr {
	base := addrToUint32(p.Masked().Addr())
	return [2]netip.Addr{uint32ToAddr(base), uint32ToAddr(base + 1)}
}

func addrToUint32(a netip.Addr) uint32 {
	b := a.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func uint32ToAddr(v uint32) netip.Addr {
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}
