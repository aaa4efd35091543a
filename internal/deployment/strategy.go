package deployment

import (
	"fmt"
	"math/rand"
	"sort"
)

// Strategy computes the edges among public cells for a given shape. Private
// cells are attached afterwards by Plan, uniformly across all strategies
// (see Plan's doc comment), since a strategy only needs to describe how the
// *public* backbone is shaped.
type Strategy interface {
	// PublicEdges returns the edge list among the given (sorted, public-only)
	// cell ids.
	PublicEdges(publicIDs []int, args map[string]any) ([][2]int, error)
}

// Name identifies a deployment strategy by its spec §4.2 name.
type Name string

const (
	FullMesh Name = "full-mesh"
	Circular Name = "circular"
	Crossed  Name = "crossed"
	Random   Name = "random"
	Static   Name = "static"
)

// Get returns the Strategy implementation for name.
func Get(name Name) (Strategy, error) {
	switch name {
	case FullMesh:
		return fullMeshStrategy{}, nil
	case Circular:
		return circularStrategy{}, nil
	case Crossed:
		return crossedStrategy{}, nil
	case Random:
		return randomStrategy{}, nil
	case Static:
		return staticStrategy{}, nil
	default:
		return nil, fmt.Errorf("deployment: unknown strategy %q", name)
	}
}

type fullMeshStrategy struct{}

func (fullMeshStrategy) PublicEdges(publicIDs []int, _ map[string]any) ([][2]int, error) {
	var edges [][2]int
	for i, a := range publicIDs {
		for _, b := range publicIDs[i+1:] {
			edges = append(edges, [2]int{a, b})
		}
	}
	return edges, nil
}

type circularStrategy struct{}

func (circularStrategy) PublicEdges(publicIDs []int, _ map[string]any) ([][2]int, error) {
	return ringEdges(publicIDs), nil
}

func ringEdges(ids []int) [][2]int {
	n := len(ids)
	if n < 2 {
		return nil
	}
	edges := make([][2]int, 0, n)
	for i := 0; i < n; i++ {
		a, b := ids[i], ids[(i+1)%n]
		if n == 2 && i == 1 {
			// Avoid a duplicate edge for the degenerate 2-cell ring.
			break
		}
		edges = append(edges, orderedEdge(a, b))
	}
	return edges
}

type crossedStrategy struct{}

func (crossedStrategy) PublicEdges(publicIDs []int, _ map[string]any) ([][2]int, error) {
	edges := ringEdges(publicIDs)
	n := len(publicIDs)
	if n < 4 {
		// A chord to the antipode is meaningless below 4 nodes; the ring
		// alone already satisfies connectivity.
		return edges, nil
	}
	seen := edgeSet(edges)
	for i, a := range publicIDs {
		b := publicIDs[(i+n/2)%n]
		if a == b {
			continue
		}
		e := orderedEdge(a, b)
		if seen[e] {
			continue
		}
		seen[e] = true
		edges = append(edges, e)
	}
	return edges, nil
}

type randomStrategy struct{}

func (randomStrategy) PublicEdges(publicIDs []int, args map[string]any) ([][2]int, error) {
	n := len(publicIDs)
	if n < 2 {
		return nil, nil
	}
	degree := 2
	if d, ok := args["degree"]; ok {
		switch v := d.(type) {
		case int:
			degree = v
		case float64:
			degree = int(v)
		}
	}
	if degree < 1 {
		degree = 1
	}
	if degree > n-1 {
		degree = n - 1
	}
	var seed int64 = 0
	if s, ok := args["seed"]; ok {
		switch v := s.(type) {
		case int:
			seed = int64(v)
		case int64:
			seed = v
		case float64:
			seed = int64(v)
		}
	}
	rng := rand.New(rand.NewSource(seed))

	// Start from a ring to guarantee connectivity, then add random chords
	// up to the requested degree, deterministically for a given seed.
	edges := ringEdges(publicIDs)
	seen := edgeSet(edges)
	extra := degree - 2
	if extra < 0 {
		extra = 0
	}
	for i, a := range publicIDs {
		added := 0
		// Iterate candidates in a fixed, seed-derived permutation so the
		// result is reproducible for a given seed.
		candidates := make([]int, 0, n-1)
		for j, b := range publicIDs {
			if j == i {
				continue
			}
			candidates = append(candidates, b)
		}
		rng.Shuffle(len(candidates), func(x, y int) { candidates[x], candidates[y] = candidates[y], candidates[x] })
		for _, b := range candidates {
			if added >= extra {
				break
			}
			e := orderedEdge(a, b)
			if seen[e] {
				continue
			}
			seen[e] = true
			edges = append(edges, e)
			added++
		}
	}
	return edges, nil
}

type staticStrategy struct{}

func (staticStrategy) PublicEdges(publicIDs []int, args map[string]any) ([][2]int, error) {
	raw, ok := args["edges"]
	if !ok {
		return nil, fmt.Errorf("deployment: static strategy requires strategy_args.edges")
	}
	rawEdges, ok := raw.([][2]int)
	if !ok {
		return nil, fmt.Errorf("deployment: static strategy_args.edges must be [][2]int")
	}
	public := make(map[int]bool, len(publicIDs))
	for _, id := range publicIDs {
		public[id] = true
	}
	edges := make([][2]int, 0, len(rawEdges))
	for _, e := range rawEdges {
		if !public[e[0]] || !public[e[1]] {
			return nil, fmt.Errorf("deployment: static edge (%d,%d) references a non-public or unknown cell", e[0], e[1])
		}
		edges = append(edges, orderedEdge(e[0], e[1]))
	}
	return edges, nil
}

func orderedEdge(a, b int) [2]int {
	if a > b {
		a, b = b, a
	}
	return [2]int{a, b}
}

func edgeSet(edges [][2]int) map[[2]int]bool {
	s := make(map[[2]int]bool, len(edges))
	for _, e := range edges {
		s[e] = true
	}
	return s
}

func sortedCopy(ids []int) []int {
	out := make([]int, len(ids))
	copy(out, ids)
	sort.Ints(out)
	return out
}
