package dex

import (
	"fmt"
	"sort"

	"github.com/michaelpento.lv/cyclearb/types"
)

// Entry binds a venue to the quoting strategy selected for its kind.
type Entry struct {
	Venue    types.Venue
	Strategy Strategy
}

// Registry is the immutable set of enabled venues.
type Registry struct {
	entries map[string]*Entry
	order   []string
}

// NewRegistry selects a strategy per venue once, by kind. Disabled venues are skipped.
func NewRegistry(venues []types.Venue, bridge *types.Asset, backend Backend) (*Registry, error) {
	r := &Registry{entries: make(map[string]*Entry, len(venues))}
	for _, v := range venues {
		if !v.Enabled {
			continue
		}
		if _, dup := r.entries[v.ID]; dup {
			return nil, fmt.Errorf("duplicate venue %s", v.ID)
		}

		var strategy Strategy
		switch v.Kind {
		case types.ConstantProduct:
			quoter, err := backend.PathQuoter(v)
			if err != nil {
				return nil, fmt.Errorf("failed to build quoter for %s: %w", v.ID, err)
			}
			strategy = NewConstantProductStrategy(quoter, bridge)
		case types.ConcentratedLiquidity:
			quoter, err := backend.TierQuoter(v)
			if err != nil {
				return nil, fmt.Errorf("failed to build quoter for %s: %w", v.ID, err)
			}
			strategy = NewConcentratedStrategy(quoter, v.FeeTiers)
		default:
			return nil, fmt.Errorf("venue %s has unsupported kind %s", v.ID, v.Kind)
		}

		r.entries[v.ID] = &Entry{Venue: v, Strategy: strategy}
		r.order = append(r.order, v.ID)
	}
	return r, nil
}

// Get returns the entry for a venue ID.
func (r *Registry) Get(id string) (*Entry, bool) {
	e, ok := r.entries[id]
	return e, ok
}

// Venues lists enabled venues in registry order.
func (r *Registry) Venues() []types.Venue {
	out := make([]types.Venue, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].Venue)
	}
	return out
}

// IDs lists enabled venue identifiers in registry order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// ByKind lists enabled venues of one kind in registry order.
func (r *Registry) ByKind(kind types.VenueKind) []types.Venue {
	var out []types.Venue
	for _, id := range r.order {
		if v := r.entries[id].Venue; v.Kind == kind {
			out = append(out, v)
		}
	}
	return out
}

// TopByLiquidity returns the n best-ranked venues. Rank 1 is the deepest venue;
// unranked venues sort last.
func (r *Registry) TopByLiquidity(n int) []types.Venue {
	venues := r.Venues()
	sort.SliceStable(venues, func(i, j int) bool {
		return rankKey(venues[i]) < rankKey(venues[j])
	})
	if n < 0 {
		n = 0
	}
	if n < len(venues) {
		venues = venues[:n]
	}
	return venues
}

func rankKey(v types.Venue) int {
	if v.LiquidityRank <= 0 {
		return int(^uint(0) >> 1)
	}
	return v.LiquidityRank
}

func (r *Registry) Len() int {
	return len(r.order)
}
