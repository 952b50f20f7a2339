package testutils

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/michaelpento.lv/cyclearb/dex"
	"github.com/michaelpento.lv/cyclearb/market"
	"github.com/michaelpento.lv/cyclearb/types"
)

// ErrNoLiquidity is what the stub backend answers for every quote.
var ErrNoLiquidity = errors.New("execution reverted: INSUFFICIENT_LIQUIDITY")

// RegistryYAML mirrors registry.example.yaml.
const RegistryYAML = `
bridge: WBNB
assets:
  - {symbol: WBNB, address: "0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c", decimals: 18, native: true, high_liquidity: true, usd_price: "600"}
  - {symbol: USDT, address: "0x55d398326f99059fF775485246999027B3197955", decimals: 18, stable: true, high_liquidity: true, usd_price: "1"}
  - {symbol: BUSD, address: "0xe9e7CEA3DedcA5984780Bafc599bD69ADd087D56", decimals: 18, stable: true, usd_price: "1"}
  - {symbol: USDC, address: "0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d", decimals: 18, stable: true, high_liquidity: true, usd_price: "1"}
  - {symbol: BTCB, address: "0x7130d2A12B9BCbFAe4f2634d864A1Ee1Ce3Ead9c", decimals: 18, high_liquidity: true, usd_price: "65000"}
  - {symbol: ETH, address: "0x2170Ed0880ac9A755fd29B2688956BD959F933F8", decimals: 18, high_liquidity: true, usd_price: "3000"}
  - {symbol: CAKE, address: "0x0E09FaBB73Bd3Ade0a17ECC321fD13a19e81cE82", decimals: 18, usd_price: "2"}
venues:
  - {id: pancake_v2, kind: v2, router: "0x10ED43C718714eb63d5aA57B78B54704E256024E", fee: 2500, liquidity_rank: 1}
  - {id: biswap, kind: v2, router: "0x3a6d8cA21D1CF76F653A67577FA0D27453350dD8", fee: 1000, liquidity_rank: 3}
  - {id: apeswap, kind: v2, router: "0xcF0feBd3f17CEf5b47b0cD257aCf6025c5BFf3b7", fee: 2000, liquidity_rank: 5}
  - {id: pancake_v3, kind: v3, quoter: "0xB048Bbc1Ee6b733FFfCFb9e9CeF7375518e25997", router: "0x13f4EA83D0bd40E75C8222255bc855a974568Dd4", fee_tiers: [100, 500, 2500, 10000], liquidity_rank: 2}
  - {id: uniswap_v3, kind: v3, quoter: "0x78D78E420Da98ad378D7799bE8f4AF69033EB077", router: "0xB971eF87ede563556b2ED4b1C0b0019111Dd85d2", fee_tiers: [500, 3000, 10000], liquidity_rank: 4}
pairs:
  - [WBNB, USDT]
  - [WBNB, BUSD]
  - [WBNB, USDC]
  - [WBNB, BTCB]
  - [WBNB, ETH]
  - [WBNB, CAKE]
  - [USDT, BUSD]
  - [USDT, USDC]
  - [USDT, BTCB]
  - [USDT, ETH]
  - [USDT, CAKE]
  - [BUSD, BTCB]
  - [BUSD, ETH]
  - [BTCB, ETH]
  - [USDC, ETH]
`

// Registry parses the fixture market.
func Registry(t *testing.T) *market.Registry {
	t.Helper()
	reg, err := market.ParseRegistry([]byte(RegistryYAML))
	require.NoError(t, err)
	return reg
}

// Venues builds a venue registry over the fixture market using backend,
// or a backend that never quotes when backend is nil.
func Venues(t *testing.T, reg *market.Registry, backend dex.Backend) *dex.Registry {
	t.Helper()
	if backend == nil {
		backend = StubBackend{}
	}
	var bridge *types.Asset
	if reg.Bridge != "" {
		a := reg.Universe.MustGet(reg.Bridge)
		bridge = &a
	}
	venues, err := dex.NewRegistry(reg.EnabledVenues(), bridge, backend)
	require.NoError(t, err)
	return venues
}

// StubBackend satisfies dex.Backend without any liquidity.
type StubBackend struct{}

func (StubBackend) PathQuoter(types.Venue) (dex.PathQuoter, error) { return stubQuoter{}, nil }
func (StubBackend) TierQuoter(types.Venue) (dex.TierQuoter, error) { return stubQuoter{}, nil }

type stubQuoter struct{}

func (stubQuoter) GetAmountsOut(context.Context, *big.Int, []common.Address) ([]*big.Int, error) {
	return nil, ErrNoLiquidity
}

func (stubQuoter) QuoteExactInputSingle(context.Context, common.Address, common.Address, uint32, *big.Int) (*big.Int, error) {
	return nil, ErrNoLiquidity
}

// NewKey creates a throwaway signing key
func NewKey(t *testing.T) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key, crypto.PubkeyToAddress(key.PublicKey)
}

// Path builds a scored circular path over the given assets and venues.
func Path(assets []string, venues []string) *types.CircularPath {
	return &types.CircularPath{
		ID:             types.PathID(assets, venues),
		Assets:         assets,
		Venues:         venues,
		FlashLoanAsset: assets[0],
		LiquidityScore: 70,
		Complexity:     float64(len(venues)),
	}
}
