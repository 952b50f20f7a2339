package paths

import (
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/michaelpento.lv/cyclearb/config"
	"github.com/michaelpento.lv/cyclearb/market"
	"github.com/michaelpento.lv/cyclearb/types"
)

// VenueSet is the view of the venue registry the generator needs.
type VenueSet interface {
	Venues() []types.Venue
	TopByLiquidity(n int) []types.Venue
	ByKind(kind types.VenueKind) []types.Venue
}

// Generator enumerates circular paths over the trading graph and assigns venues to them.
type Generator struct {
	config   config.PathConfig
	universe *market.Universe
	graph    *market.Graph
	venues   VenueSet
	logger   *zap.Logger
}

func NewGenerator(cfg config.PathConfig, reg *market.Registry, venues VenueSet, logger *zap.Logger) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid path config: %w", err)
	}
	if len(venues.Venues()) == 0 {
		return nil, fmt.Errorf("no enabled venues")
	}
	return &Generator{
		config:   cfg,
		universe: reg.Universe,
		graph:    reg.Graph,
		venues:   venues,
		logger:   logger,
	}, nil
}

// GenerateAll builds the path set for every asset of the universe.
func (g *Generator) GenerateAll() *PathSet {
	start := time.Now()

	var candidates []*types.CircularPath
	for _, asset := range g.universe.Symbols() {
		for hops := g.config.MinHops; hops <= g.config.MaxHops; hops++ {
			for _, tokens := range g.tokenPaths(asset, hops) {
				candidates = append(candidates, g.assignVenues(tokens)...)
			}
		}
	}

	retained := g.filterAndOptimize(candidates)
	set := newPathSet(retained, g.universe.Symbols(), g.config.PathsPerCycle)

	g.logger.Info("Generated path set",
		zap.Int("candidates", len(candidates)),
		zap.Int("retained", set.Len()),
		zap.Duration("elapsed", time.Since(start)))

	return set
}

// tokenPaths runs a depth-first search for cycles of exactly hops swaps that
// start and end at start without revisiting an intermediate asset.
func (g *Generator) tokenPaths(start string, hops int) [][]string {
	var (
		out     [][]string
		limit   = g.config.MaxTokenPathsPerHop
		current = make([]string, 1, hops+1)
		visited = map[string]bool{start: true}
	)
	current[0] = start

	var walk func(depth int)
	walk = func(depth int) {
		if len(out) >= limit {
			return
		}
		last := current[len(current)-1]
		if depth == hops-1 {
			if g.graph.HasEdge(last, start) {
				path := make([]string, 0, hops+1)
				path = append(path, current...)
				out = append(out, append(path, start))
			}
			return
		}
		for _, next := range g.graph.Neighbors(last) {
			if visited[next] {
				continue
			}
			visited[next] = true
			current = append(current, next)
			walk(depth + 1)
			current = current[:len(current)-1]
			visited[next] = false
		}
	}
	walk(0)

	return out
}

// filterAndOptimize deduplicates, filters, ranks and applies the per-asset quota.
func (g *Generator) filterAndOptimize(candidates []*types.CircularPath) []*types.CircularPath {
	seen := make(map[string]bool, len(candidates))
	kept := make([]*types.CircularPath, 0, len(candidates))

	for _, p := range candidates {
		key := p.Key()
		if seen[key] {
			continue
		}
		seen[key] = true

		if !p.IsCircular() {
			g.logger.Warn("Discarding non-circular path", zap.String("path", p.String()))
			continue
		}
		if p.Hops() < g.config.MinHops || p.Hops() > g.config.MaxHops {
			continue
		}
		if p.LiquidityScore < g.config.MinLiquidityScore {
			continue
		}
		if p.Hops() > 3 && distinctCount(p.Venues) < 2 {
			continue
		}
		kept = append(kept, p)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		si, sj := kept[i].Score(), kept[j].Score()
		if si != sj {
			return si > sj
		}
		return kept[i].Key() < kept[j].Key()
	})

	perAsset := make(map[string]int)
	out := kept[:0]
	for _, p := range kept {
		if perAsset[p.FlashLoanAsset] >= g.config.PerAssetQuota {
			continue
		}
		perAsset[p.FlashLoanAsset]++
		out = append(out, p)
	}
	return out
}

func (g *Generator) newPath(tokens, venues []string, concentrated int) *types.CircularPath {
	p := &types.CircularPath{
		ID:               types.PathID(tokens, venues),
		Assets:           tokens,
		Venues:           venues,
		FlashLoanAsset:   tokens[0],
		ConcentratedHops: concentrated,
	}
	p.LiquidityScore = g.liquidityScore(tokens)
	p.Complexity = g.complexity(p)
	return p
}

func (g *Generator) liquidityScore(tokens []string) float64 {
	score := g.config.BaseScore

	var stables int
	var native bool
	for _, sym := range tokens[:len(tokens)-1] {
		asset, ok := g.universe.Get(sym)
		if !ok {
			continue
		}
		if asset.HighLiquidity {
			score += g.config.HighLiquidityBonus
		}
		if asset.Native {
			native = true
		}
		if asset.Stable {
			stables++
		}
	}
	if native {
		score += g.config.NativeBonus
	}
	if stables >= 2 {
		score += g.config.MultiStableBonus
	}

	hops := len(tokens) - 1
	if hops > g.config.LongPathThreshold {
		score -= g.config.LongPathPenalty * float64(hops-g.config.LongPathThreshold)
	}
	return math.Max(score, 0)
}

func (g *Generator) complexity(p *types.CircularPath) float64 {
	return float64(p.Hops())*g.config.HopWeight +
		float64(distinctCount(p.Venues))*g.config.VenueWeight +
		float64(p.ConcentratedHops)*g.config.ConcentratedWeight
}

func distinctCount(values []string) int {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return len(set)
}
