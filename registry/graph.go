package registry

import (
	"github.com/ethereum/go-ethereum/common"
)

// GraphView is an immutable snapshot of the token graph. Tokens and Pools are
// indexed by position; Adjacency[i] lists the edge indices leaving token i,
// EdgeTargets[e] is the token an edge points to and EdgePools[e] the pools
// (indices into Pools) trading along it.
type GraphView struct {
	Tokens      []common.Address `json:"tokens"`
	Pools       []common.Address `json:"pools"`
	Adjacency   [][]int          `json:"adjacency"`
	EdgeTargets []int            `json:"edgeTargets"`
	EdgePools   [][]int          `json:"edgePools"`
}

// TokenIndex returns the position of token in Tokens.
func (v *GraphView) TokenIndex(token common.Address) (int, bool) {
	for i, t := range v.Tokens {
		if t == token {
			return i, true
		}
	}
	return 0, false
}

// tokenGraph is a non-thread-safe adjacency structure linking tokens through pools.
// Pools are never removed, so edges only ever grow.
type tokenGraph struct {
	tokenToIndex map[common.Address]int

	tokens      []common.Address
	pools       []common.Address
	adjacency   [][]int
	edgeTargets []int
	edgePools   [][]int
}

func newTokenGraph() *tokenGraph {
	return &tokenGraph{
		tokenToIndex: make(map[common.Address]int),
	}
}

func (g *tokenGraph) tokenIndex(token common.Address) int {
	idx, ok := g.tokenToIndex[token]
	if !ok {
		idx = len(g.tokens)
		g.tokens = append(g.tokens, token)
		g.tokenToIndex[token] = idx
		g.adjacency = append(g.adjacency, nil)
	}
	return idx
}

// addEdge creates or extends the directed edge from -> to with poolIndex.
func (g *tokenGraph) addEdge(from, to common.Address, poolIndex int) {
	fromIndex := g.tokenIndex(from)
	toIndex := g.tokenIndex(to)

	for _, edge := range g.adjacency[fromIndex] {
		if g.edgeTargets[edge] == toIndex {
			for _, existing := range g.edgePools[edge] {
				if existing == poolIndex {
					return
				}
			}
			g.edgePools[edge] = append(g.edgePools[edge], poolIndex)
			return
		}
	}

	edge := len(g.edgeTargets)
	g.edgeTargets = append(g.edgeTargets, toIndex)
	g.edgePools = append(g.edgePools, []int{poolIndex})
	g.adjacency[fromIndex] = append(g.adjacency[fromIndex], edge)
}

// add links token0 and token1 in both directions through pool.
func (g *tokenGraph) add(token0, token1, pool common.Address) {
	poolIndex := len(g.pools)
	g.pools = append(g.pools, pool)
	g.addEdge(token0, token1, poolIndex)
	g.addEdge(token1, token0, poolIndex)
}

// view returns a deep copy of the graph.
func (g *tokenGraph) view() *GraphView {
	tokens := make([]common.Address, len(g.tokens))
	copy(tokens, g.tokens)

	pools := make([]common.Address, len(g.pools))
	copy(pools, g.pools)

	adjacency := make([][]int, len(g.adjacency))
	for i, adj := range g.adjacency {
		adjacency[i] = append([]int(nil), adj...)
	}

	edgeTargets := make([]int, len(g.edgeTargets))
	copy(edgeTargets, g.edgeTargets)

	edgePools := make([][]int, len(g.edgePools))
	for i, list := range g.edgePools {
		edgePools[i] = append([]int(nil), list...)
	}

	return &GraphView{
		Tokens:      tokens,
		Pools:       pools,
		Adjacency:   adjacency,
		EdgeTargets: edgeTargets,
		EdgePools:   edgePools,
	}
}
