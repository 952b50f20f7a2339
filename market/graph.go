package market

import (
	"fmt"
	"sort"
)

// Graph records which asset pairs are expected to trade. Edges are undirected.
type Graph struct {
	adjacency map[string]map[string]struct{}
	neighbors map[string][]string
	pairs     [][2]string
}

// NewGraph builds the trading graph; every pair must reference known assets.
func NewGraph(universe *Universe, pairs [][2]string) (*Graph, error) {
	g := &Graph{
		adjacency: make(map[string]map[string]struct{}),
		neighbors: make(map[string][]string),
	}
	for _, p := range pairs {
		a, b := p[0], p[1]
		if a == b {
			return nil, fmt.Errorf("pair %s/%s is a self loop", a, b)
		}
		for _, s := range p {
			if _, ok := universe.Get(s); !ok {
				return nil, fmt.Errorf("pair %s/%s references unknown asset %s", a, b, s)
			}
		}
		if g.HasEdge(a, b) {
			continue
		}
		g.link(a, b)
		g.link(b, a)
		g.pairs = append(g.pairs, [2]string{a, b})
	}
	for s := range g.neighbors {
		sort.Strings(g.neighbors[s])
	}
	return g, nil
}

func (g *Graph) link(a, b string) {
	if g.adjacency[a] == nil {
		g.adjacency[a] = make(map[string]struct{})
	}
	g.adjacency[a][b] = struct{}{}
	g.neighbors[a] = append(g.neighbors[a], b)
}

// HasEdge reports whether a and b trade against each other.
func (g *Graph) HasEdge(a, b string) bool {
	_, ok := g.adjacency[a][b]
	return ok
}

// Neighbors returns the sorted trading partners of an asset.
func (g *Graph) Neighbors(symbol string) []string {
	return g.neighbors[symbol]
}

// Pairs returns every edge once, in declaration order.
func (g *Graph) Pairs() [][2]string {
	out := make([][2]string, len(g.pairs))
	copy(out, g.pairs)
	return out
}
