package bundler

import (
	"errors"
)

var ErrDependencyCycle = errors.New("dependency graph has a cycle")

type EdgeKind uint8

const (
	EdgeTokenFlow EdgeKind = iota + 1
	EdgeLiquidity
)

func (k EdgeKind) String() string {
	switch k {
	case EdgeTokenFlow:
		return "token-flow"
	case EdgeLiquidity:
		return "liquidity"
	default:
		return "unknown"
	}
}

type DependencyEdge struct {
	From int      `json:"from"`
	To   int      `json:"to"`
	Kind EdgeKind `json:"kind"`
}

// DependencyGraph is built over a group of opportunities indexed 0..n-1.
// Edge a -> b means that b can only be executed after a.
type DependencyGraph struct {
	n     int
	succ  [][]int
	preds [][]int
	edges []DependencyEdge
}

// BuildGraph builds dependency graph for the opportunities.
// Edge i -> j is added when:
//   - i produces a token that j consumes. When both produce something the other consumes
//     (round trips through the same tokens) only the edge from the lower index is kept.
//   - i < j, both use the same venue and share a token, and the pair is not already linked by token flow.
//     We don't know the pool state so we keep discovery order for such pairs.
func BuildGraph(opps []Opportunity) *DependencyGraph {
	n := len(opps)
	g := &DependencyGraph{
		n:     n,
		succ:  make([][]int, n),
		preds: make([][]int, n),
	}

	flow := make([][]bool, n)
	for i := range flow {
		flow[i] = make([]bool, n)
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i != j {
				flow[i][j] = opps[i].Produces(&opps[j])
			}
		}
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if flow[i][j] && (!flow[j][i] || i < j) {
				g.addEdge(i, j, EdgeTokenFlow)
			}
		}
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if flow[i][j] || flow[j][i] {
				continue
			}
			if opps[i].Venue == opps[j].Venue && opps[i].SharesMint(&opps[j]) {
				g.addEdge(i, j, EdgeLiquidity)
			}
		}
	}
	return g
}

func (g *DependencyGraph) addEdge(from, to int, kind EdgeKind) {
	g.succ[from] = append(g.succ[from], to)
	g.preds[to] = append(g.preds[to], from)
	g.edges = append(g.edges, DependencyEdge{From: from, To: to, Kind: kind})
}

func (g *DependencyGraph) Size() int {
	return g.n
}

func (g *DependencyGraph) Edges() []DependencyEdge {
	return append([]DependencyEdge(nil), g.edges...)
}

// Dependencies returns the indexes that have to be executed before i
func (g *DependencyGraph) Dependencies(i int) []int {
	return append([]int(nil), g.preds[i]...)
}

// IsValidOrder checks that order is a permutation of the graph nodes
// and that for every edge i -> j, i is placed before j
func (g *DependencyGraph) IsValidOrder(order []int) bool {
	if len(order) != g.n {
		return false
	}
	pos := make([]int, g.n)
	for i := range pos {
		pos[i] = -1
	}
	for p, node := range order {
		if node < 0 || node >= g.n || pos[node] != -1 {
			return false
		}
		pos[node] = p
	}
	for _, e := range g.edges {
		if pos[e.From] >= pos[e.To] {
			return false
		}
	}
	return true
}

// Repair returns a valid order that stays as close as possible to the given one.
// It's a topological sort where the ready node that comes first in order is always picked next,
// so an already valid order is returned unchanged.
// Nodes missing from order are appended in index order, nodes on a cycle are appended at the end.
func (g *DependencyGraph) Repair(order []int) []int {
	rank := make([]int, g.n)
	for i := range rank {
		rank[i] = -1
	}
	seed := make([]int, 0, g.n)
	for _, node := range order {
		if node < 0 || node >= g.n || rank[node] != -1 {
			continue
		}
		rank[node] = len(seed)
		seed = append(seed, node)
	}
	for node := 0; node < g.n; node++ {
		if rank[node] == -1 {
			rank[node] = len(seed)
			seed = append(seed, node)
		}
	}

	inDegree := make([]int, g.n)
	for _, e := range g.edges {
		inDegree[e.To]++
	}
	placed := make([]bool, g.n)
	res := make([]int, 0, g.n)
	for len(res) < g.n {
		next := -1
		for _, node := range seed {
			if !placed[node] && inDegree[node] == 0 {
				next = node
				break
			}
		}
		if next == -1 {
			// cycle, keep the remaining nodes in seed order
			for _, node := range seed {
				if !placed[node] {
					res = append(res, node)
				}
			}
			return res
		}
		placed[next] = true
		res = append(res, next)
		for _, s := range g.succ[next] {
			inDegree[s]--
		}
	}
	return res
}

func (g *DependencyGraph) HasCycle() bool {
	return !g.IsValidOrder(g.Repair(identityOrder(g.n)))
}

// Acyclic returns ErrDependencyCycle if the graph can't be ordered
func (g *DependencyGraph) Acyclic() error {
	if g.HasCycle() {
		return ErrDependencyCycle
	}
	return nil
}
