package dex

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelpento.lv/cyclearb/types"
)

var (
	wbnb = types.Asset{Symbol: "WBNB", Address: common.HexToAddress("0x01"), Decimals: 18}
	usdt = types.Asset{Symbol: "USDT", Address: common.HexToAddress("0x02"), Decimals: 18}
	cake = types.Asset{Symbol: "CAKE", Address: common.HexToAddress("0x03"), Decimals: 18}
)

type fakePathQuoter struct {
	// keyed by the joined hex path
	results map[string]*big.Int
	calls   [][]common.Address
}

func pathKey(path []common.Address) string {
	key := ""
	for _, a := range path {
		key += a.Hex()
	}
	return key
}

func (f *fakePathQuoter) GetAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	f.calls = append(f.calls, path)
	out, ok := f.results[pathKey(path)]
	if !ok {
		return nil, errors.New("execution reverted: INSUFFICIENT_LIQUIDITY")
	}
	amounts := make([]*big.Int, len(path))
	amounts[0] = amountIn
	for i := 1; i < len(path); i++ {
		amounts[i] = out
	}
	return amounts, nil
}

type fakeTierQuoter struct {
	results map[uint32]*big.Int
	tried   []uint32
}

func (f *fakeTierQuoter) QuoteExactInputSingle(ctx context.Context, tokenIn, tokenOut common.Address, fee uint32, amountIn *big.Int) (*big.Int, error) {
	f.tried = append(f.tried, fee)
	out, ok := f.results[fee]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return out, nil
}

func TestConstantProductStrategy(t *testing.T) {
	ctx := context.Background()
	amountIn := big.NewInt(1e18)

	t.Run("direct pair", func(t *testing.T) {
		q := &fakePathQuoter{results: map[string]*big.Int{
			pathKey([]common.Address{wbnb.Address, usdt.Address}): big.NewInt(600),
		}}
		s := NewConstantProductStrategy(q, &wbnb)

		res, err := s.Quote(ctx, wbnb, usdt, amountIn)
		require.NoError(t, err)
		assert.Equal(t, big.NewInt(600), res.AmountOut)
		assert.Equal(t, []string{"WBNB", "USDT"}, res.Route)
		assert.Len(t, q.calls, 1)
	})

	t.Run("falls back to bridge", func(t *testing.T) {
		q := &fakePathQuoter{results: map[string]*big.Int{
			pathKey([]common.Address{cake.Address, wbnb.Address, usdt.Address}): big.NewInt(2),
		}}
		s := NewConstantProductStrategy(q, &wbnb)

		res, err := s.Quote(ctx, cake, usdt, amountIn)
		require.NoError(t, err)
		assert.Equal(t, []string{"CAKE", "WBNB", "USDT"}, res.Route)
		assert.Len(t, q.calls, 2)
	})

	t.Run("no bridge when endpoint is the bridge", func(t *testing.T) {
		q := &fakePathQuoter{results: map[string]*big.Int{}}
		s := NewConstantProductStrategy(q, &wbnb)

		_, err := s.Quote(ctx, wbnb, cake, amountIn)
		require.Error(t, err)
		assert.Len(t, q.calls, 1)
	})

	t.Run("zero output is absence", func(t *testing.T) {
		q := &fakePathQuoter{results: map[string]*big.Int{
			pathKey([]common.Address{wbnb.Address, usdt.Address}): big.NewInt(0),
		}}
		s := NewConstantProductStrategy(q, nil)

		_, err := s.Quote(ctx, wbnb, usdt, amountIn)
		assert.ErrorIs(t, err, errEmptyQuote)
	})
}

func TestConcentratedStrategy(t *testing.T) {
	ctx := context.Background()

	q := &fakeTierQuoter{results: map[uint32]*big.Int{
		2500:  big.NewInt(590),
		10000: big.NewInt(580),
	}}
	s := NewConcentratedStrategy(q, []uint32{100, 500, 2500, 10000})

	res, err := s.Quote(ctx, wbnb, usdt, big.NewInt(1e18))
	require.NoError(t, err)
	assert.Equal(t, uint32(2500), res.FeeTier)
	assert.Equal(t, big.NewInt(590), res.AmountOut)
	assert.Equal(t, []uint32{100, 500, 2500}, q.tried)

	empty := NewConcentratedStrategy(&fakeTierQuoter{}, []uint32{500})
	_, err = empty.Quote(ctx, wbnb, usdt, big.NewInt(1))
	assert.Error(t, err)
}

type fakeBackend struct{}

func (fakeBackend) PathQuoter(types.Venue) (PathQuoter, error) { return &fakePathQuoter{}, nil }
func (fakeBackend) TierQuoter(types.Venue) (TierQuoter, error) { return &fakeTierQuoter{}, nil }

func TestRegistry(t *testing.T) {
	venues := []types.Venue{
		{ID: "pancake_v2", Kind: types.ConstantProduct, LiquidityRank: 1, Enabled: true},
		{ID: "biswap", Kind: types.ConstantProduct, LiquidityRank: 3, Enabled: true},
		{ID: "pancake_v3", Kind: types.ConcentratedLiquidity, LiquidityRank: 2, FeeTiers: []uint32{500}, Enabled: true},
		{ID: "fresh", Kind: types.ConstantProduct, Enabled: true},
		{ID: "retired", Kind: types.ConstantProduct, LiquidityRank: 1, Enabled: false},
	}

	reg, err := NewRegistry(venues, &wbnb, fakeBackend{})
	require.NoError(t, err)
	assert.Equal(t, 4, reg.Len())

	_, ok := reg.Get("retired")
	assert.False(t, ok)

	entry, ok := reg.Get("pancake_v3")
	require.True(t, ok)
	assert.IsType(t, &ConcentratedStrategy{}, entry.Strategy)

	entry, ok = reg.Get("biswap")
	require.True(t, ok)
	assert.IsType(t, &ConstantProductStrategy{}, entry.Strategy)

	top := reg.TopByLiquidity(3)
	require.Len(t, top, 3)
	assert.Equal(t, "pancake_v2", top[0].ID)
	assert.Equal(t, "pancake_v3", top[1].ID)
	assert.Equal(t, "biswap", top[2].ID)
	assert.Empty(t, reg.TopByLiquidity(-1))

	assert.Len(t, reg.ByKind(types.ConcentratedLiquidity), 1)
	assert.Equal(t, []string{"pancake_v2", "biswap", "pancake_v3", "fresh"}, reg.IDs())
}
