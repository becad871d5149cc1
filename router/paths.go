package router

import (
	"fmt"
	"math/big"

	"github.com/defistate/defistate-amm/engine"
	"github.com/ethereum/go-ethereum/common"
)

const (
	// DefaultMaxHops is used when a path search is given a non-positive hop limit.
	DefaultMaxHops = 3
	// MaxHops bounds the depth of a path search.
	MaxHops = 4
)

// FindPaths lists every simple path from tokenIn to tokenOut that uses at most
// maxHops pools, shortest first.
func (r *Router) FindPaths(tokenIn, tokenOut common.Address, maxHops int) ([][]common.Address, error) {
	if tokenIn == tokenOut {
		return nil, fmt.Errorf("%w: identical assets %s", engine.ErrInvalidArgument, tokenIn.Hex())
	}
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	if maxHops > MaxHops {
		return nil, fmt.Errorf("%w: maxHops %d exceeds %d", engine.ErrInvalidArgument, maxHops, MaxHops)
	}

	g := r.pools.Graph()
	start, ok := g.TokenIndex(tokenIn)
	if !ok {
		return nil, nil
	}
	end, ok := g.TokenIndex(tokenOut)
	if !ok {
		return nil, nil
	}

	// byLength[n] collects the paths with n hops so results come out shortest first.
	byLength := make([][][]int, maxHops+1)
	visited := newTokenSet(len(g.Tokens))
	stack := []int{start}
	visited.add(start)

	var walk func(current int)
	walk = func(current int) {
		if current == end {
			path := append([]int(nil), stack...)
			byLength[len(path)-1] = append(byLength[len(path)-1], path)
			return
		}
		if len(stack)-1 == maxHops {
			return
		}
		for _, edge := range g.Adjacency[current] {
			if len(g.EdgePools[edge]) == 0 {
				continue
			}
			next := g.EdgeTargets[edge]
			if visited.has(next) {
				continue
			}
			visited.add(next)
			stack = append(stack, next)
			walk(next)
			stack = stack[:len(stack)-1]
			visited.remove(next)
		}
	}
	walk(start)

	var paths [][]common.Address
	for _, group := range byLength {
		for _, indices := range group {
			path := make([]common.Address, len(indices))
			for i, idx := range indices {
				path[i] = g.Tokens[idx]
			}
			paths = append(paths, path)
		}
	}
	return paths, nil
}

// BestPathOut quotes amountIn along every path FindPaths returns and picks the one
// with the largest output. Paths through empty pools are skipped.
func (r *Router) BestPathOut(amountIn *big.Int, tokenIn, tokenOut common.Address, maxHops int) (path []common.Address, amounts []*big.Int, err error) {
	if err := positive("amountIn", amountIn); err != nil {
		return nil, nil, err
	}
	candidates, err := r.FindPaths(tokenIn, tokenOut, maxHops)
	if err != nil {
		return nil, nil, err
	}

	for _, candidate := range candidates {
		quoted, err := r.GetAmountsOut(amountIn, candidate)
		if err != nil {
			r.logger.Debug("skipping path", "path", candidate, "error", err)
			continue
		}
		if amounts == nil || quoted[len(quoted)-1].Cmp(amounts[len(amounts)-1]) > 0 {
			path, amounts = candidate, quoted
		}
	}
	if path == nil {
		return nil, nil, fmt.Errorf("%w: no tradable path from %s to %s", engine.ErrNotFound, tokenIn.Hex(), tokenOut.Hex())
	}
	return path, amounts, nil
}
