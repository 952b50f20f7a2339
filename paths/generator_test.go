package paths

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/cyclearb/config"
	"github.com/michaelpento.lv/cyclearb/market"
	"github.com/michaelpento.lv/cyclearb/types"
	"github.com/michaelpento.lv/cyclearb/utils/testutils"
)

func newTestGenerator(t *testing.T, mutate func(*config.PathConfig)) (*Generator, *market.Registry) {
	t.Helper()
	cfg := config.DefaultConfig().Paths
	if mutate != nil {
		mutate(&cfg)
	}
	reg := testutils.Registry(t)
	gen, err := NewGenerator(cfg, reg, testutils.Venues(t, reg, nil), zaptest.NewLogger(t))
	require.NoError(t, err)
	return gen, reg
}

func TestGeneratedPathsAreCircular(t *testing.T) {
	gen, _ := newTestGenerator(t, nil)
	set := gen.GenerateAll()
	require.Greater(t, set.Len(), 0)

	seen := make(map[string]bool)
	for _, p := range set.All() {
		assert.True(t, p.IsCircular(), p.String())
		assert.Equal(t, p.Assets[0], p.Assets[len(p.Assets)-1])
		assert.Equal(t, p.FlashLoanAsset, p.Assets[0])
		assert.Len(t, p.Venues, p.Hops())
		assert.GreaterOrEqual(t, p.Hops(), 2)
		assert.LessOrEqual(t, p.Hops(), 10)
		assert.Equal(t, types.PathID(p.Assets, p.Venues), p.ID)

		assert.False(t, seen[p.Key()], "duplicate path %s", p.String())
		seen[p.Key()] = true

		if p.Hops() > 3 {
			assert.GreaterOrEqual(t, distinctCount(p.Venues), 2, p.String())
		}
		for i := 0; i < p.Hops(); i++ {
			assert.NotEqual(t, p.Assets[i], p.Assets[i+1])
		}
	}
}

func TestNoIntermediateRevisits(t *testing.T) {
	gen, _ := newTestGenerator(t, nil)
	for _, hops := range []int{2, 3, 4, 5} {
		for _, tokens := range gen.tokenPaths("WBNB", hops) {
			require.Len(t, tokens, hops+1)
			inner := make(map[string]bool)
			for _, sym := range tokens[1:hops] {
				assert.NotEqual(t, "WBNB", sym)
				assert.False(t, inner[sym], "%v revisits %s", tokens, sym)
				inner[sym] = true
			}
		}
	}
}

func TestTokenPathsContainTriangle(t *testing.T) {
	gen, _ := newTestGenerator(t, nil)
	assert.Contains(t, gen.tokenPaths("WBNB", 3), []string{"WBNB", "USDT", "BTCB", "WBNB"})

	// CAKE only trades against WBNB and USDT.
	for _, tokens := range gen.tokenPaths("CAKE", 2) {
		assert.Contains(t, []string{"WBNB", "USDT"}, tokens[1])
	}
}

func TestTokenPathsRespectLimit(t *testing.T) {
	gen, _ := newTestGenerator(t, func(c *config.PathConfig) { c.MaxTokenPathsPerHop = 3 })
	assert.Len(t, gen.tokenPaths("WBNB", 4), 3)
}

func TestPerAssetQuota(t *testing.T) {
	gen, reg := newTestGenerator(t, func(c *config.PathConfig) { c.PerAssetQuota = 5 })
	set := gen.GenerateAll()

	for _, sym := range reg.Universe.Symbols() {
		ranked := set.ForAsset(sym)
		assert.LessOrEqual(t, len(ranked), 5, sym)
		for i := 1; i < len(ranked); i++ {
			assert.GreaterOrEqual(t, ranked[i-1].Score(), ranked[i].Score())
		}
	}
}

func TestLiquidityScore(t *testing.T) {
	gen, _ := newTestGenerator(t, nil)

	tests := []struct {
		name   string
		tokens []string
		want   float64
	}{
		{"native triangle", []string{"WBNB", "USDT", "BTCB", "WBNB"}, 50 + 30 + 15},
		{"two stables", []string{"USDT", "USDC", "ETH", "USDT"}, 50 + 30 + 10},
		{"plain", []string{"CAKE", "WBNB", "CAKE"}, 50 + 10 + 15},
		// five high-liquidity assets, native, three stables, one hop over the threshold
		{"long path", []string{"CAKE", "USDT", "BUSD", "BTCB", "WBNB", "USDC", "ETH", "CAKE"}, 50 + 50 + 15 + 10 - 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, gen.liquidityScore(tt.tokens))
		})
	}
}

func TestComplexityPenalisesConcentratedVenues(t *testing.T) {
	gen, _ := newTestGenerator(t, nil)
	tokens := []string{"WBNB", "USDT", "BTCB", "WBNB"}

	cp := gen.newPath(tokens, []string{"pancake_v2", "biswap", "apeswap"}, 0)
	cl := gen.newPath(tokens, []string{"pancake_v3", "biswap", "uniswap_v3"}, 2)

	assert.Equal(t, 3*1.0+3*0.5, cp.Complexity)
	assert.Equal(t, 3*1.0+3*0.5+2*0.75, cl.Complexity)
	assert.Greater(t, cp.Score(), cl.Score())
}

func TestVenueAssignmentStrategies(t *testing.T) {
	gen, _ := newTestGenerator(t, nil)
	candidates := gen.assignVenues([]string{"WBNB", "USDT", "BTCB", "WBNB"})

	byVenues := make(map[string]*types.CircularPath)
	for _, p := range candidates {
		byVenues[p.Key()] = p
	}

	key := func(venues ...string) string {
		return (&types.CircularPath{Assets: []string{"WBNB", "USDT", "BTCB", "WBNB"}, Venues: venues}).Key()
	}
	// rotation over every venue
	assert.Contains(t, byVenues, key("pancake_v2", "biswap", "apeswap"))
	// rotation over the deepest venues
	assert.Contains(t, byVenues, key("pancake_v2", "pancake_v3", "biswap"))
	// kind alternation
	assert.Contains(t, byVenues, key("pancake_v2", "pancake_v3", "biswap"))
	assert.Contains(t, byVenues, key("pancake_v3", "pancake_v2", "uniswap_v3"))
	// single venue baseline
	assert.Contains(t, byVenues, key("uniswap_v3", "uniswap_v3", "uniswap_v3"))

	for _, p := range candidates {
		var cl int
		for _, v := range p.Venues {
			if v == "pancake_v3" || v == "uniswap_v3" {
				cl++
			}
		}
		assert.Equal(t, cl, p.ConcentratedHops)
	}
}

func TestVenueAssetRestriction(t *testing.T) {
	yaml := `
assets:
  - {symbol: WBNB, address: "0x0000000000000000000000000000000000000001", decimals: 18, native: true}
  - {symbol: USDT, address: "0x0000000000000000000000000000000000000002", decimals: 18, stable: true}
  - {symbol: CAKE, address: "0x0000000000000000000000000000000000000003", decimals: 18}
venues:
  - {id: full, kind: v2, router: "0x0000000000000000000000000000000000000010"}
  - {id: narrow, kind: v2, router: "0x0000000000000000000000000000000000000011", assets: [WBNB, USDT]}
pairs:
  - [WBNB, USDT]
  - [WBNB, CAKE]
  - [USDT, CAKE]
`
	reg, err := market.ParseRegistry([]byte(yaml))
	require.NoError(t, err)

	gen, err := NewGenerator(config.DefaultConfig().Paths, reg, testutils.Venues(t, reg, nil), zaptest.NewLogger(t))
	require.NoError(t, err)

	set := gen.GenerateAll()
	require.Greater(t, set.Len(), 0)
	for _, p := range set.All() {
		for i, v := range p.Venues {
			if v != "narrow" {
				continue
			}
			assert.NotEqual(t, "CAKE", p.Assets[i], p.String())
			assert.NotEqual(t, "CAKE", p.Assets[i+1], p.String())
		}
	}
}

func TestNewGeneratorRejectsEmptyVenues(t *testing.T) {
	reg := testutils.Registry(t)
	for i := range reg.Venues {
		reg.Venues[i].Enabled = false
	}
	_, err := NewGenerator(config.DefaultConfig().Paths, reg, testutils.Venues(t, reg, nil), zaptest.NewLogger(t))
	assert.Error(t, err)
}
