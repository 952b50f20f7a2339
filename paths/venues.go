package paths

import (
	"github.com/michaelpento.lv/cyclearb/types"
)

// assignVenues expands a token path into candidates using bounded assignment
// strategies instead of the full venue cross product.
func (g *Generator) assignVenues(tokens []string) []*types.CircularPath {
	hops := len(tokens) - 1
	all := g.venues.Venues()

	var assignments [][]types.Venue
	assignments = append(assignments, rotations(all, hops)...)
	assignments = append(assignments, rotations(g.venues.TopByLiquidity(g.config.TopVenueCount), hops)...)
	assignments = append(assignments, alternations(
		g.venues.ByKind(types.ConstantProduct),
		g.venues.ByKind(types.ConcentratedLiquidity),
		hops,
	)...)
	for _, v := range all {
		assignments = append(assignments, repeat(v, hops))
	}

	out := make([]*types.CircularPath, 0, len(assignments))
	for _, assigned := range assignments {
		if !g.plausible(tokens, assigned) {
			continue
		}
		ids := make([]string, hops)
		var concentrated int
		for i, v := range assigned {
			ids[i] = v.ID
			if v.Kind == types.ConcentratedLiquidity {
				concentrated++
			}
		}
		out = append(out, g.newPath(tokens, ids, concentrated))
	}
	return out
}

// plausible rejects assignments where a hop's pair is not expected to trade on its venue.
func (g *Generator) plausible(tokens []string, venues []types.Venue) bool {
	for i := range venues {
		in, out := tokens[i], tokens[i+1]
		if !g.graph.HasEdge(in, out) || !venues[i].Supports(in, out) {
			return false
		}
	}
	return true
}

// rotations yields one assignment per starting offset, walking the venue list
// so that consecutive hops use different venues whenever there are enough of them.
func rotations(venues []types.Venue, hops int) [][]types.Venue {
	if len(venues) == 0 {
		return nil
	}
	out := make([][]types.Venue, 0, len(venues))
	for offset := range venues {
		assigned := make([]types.Venue, hops)
		for i := range assigned {
			assigned[i] = venues[(offset+i)%len(venues)]
		}
		out = append(out, assigned)
	}
	return out
}

// alternations interleaves constant-product and concentrated-liquidity venues,
// once starting with each kind.
func alternations(cp, cl []types.Venue, hops int) [][]types.Venue {
	if len(cp) == 0 || len(cl) == 0 {
		return nil
	}
	build := func(first, second []types.Venue) []types.Venue {
		assigned := make([]types.Venue, hops)
		for i := range assigned {
			kind := first
			if i%2 == 1 {
				kind = second
			}
			assigned[i] = kind[(i/2)%len(kind)]
		}
		return assigned
	}
	return [][]types.Venue{build(cp, cl), build(cl, cp)}
}

func repeat(v types.Venue, hops int) []types.Venue {
	assigned := make([]types.Venue, hops)
	for i := range assigned {
		assigned[i] = v
	}
	return assigned
}
