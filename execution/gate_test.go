package execution

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/cyclearb/config"
	"github.com/michaelpento.lv/cyclearb/gas"
	"github.com/michaelpento.lv/cyclearb/types"
	"github.com/michaelpento.lv/cyclearb/utils/metrics"
	"github.com/michaelpento.lv/cyclearb/utils/testutils"
)

const gwei = 1000000000

type fakeBalance struct {
	balance *big.Int
	err     error
	account common.Address
}

func (f *fakeBalance) BalanceAt(_ context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	f.account = account
	return f.balance, f.err
}

type fakeOracle struct {
	price gas.Price
	err   error
}

func (f *fakeOracle) GasPrice(context.Context) (gas.Price, error) {
	return f.price, f.err
}

func gweiPrice(base, tip int64) gas.Price {
	return gas.Price{BaseFee: big.NewInt(base * gwei), PriorityFee: big.NewInt(tip * gwei)}
}

func ether(s string) *big.Int {
	return decimal.RequireFromString(s).Shift(18).BigInt()
}

func wbnbOpportunity() *types.Opportunity {
	path := testutils.Path([]string{"WBNB", "USDT", "BTCB", "WBNB"}, []string{"pancake_v2", "biswap", "apeswap"})
	d := decimal.RequireFromString
	return &types.Opportunity{
		ID:   "opp-1",
		Path: path,
		Legs: []types.SwapLeg{
			{Venue: "pancake_v2", TokenIn: "WBNB", TokenOut: "USDT", AmountIn: d("10"), AmountOut: d("3000")},
			{Venue: "biswap", TokenIn: "USDT", TokenOut: "BTCB", AmountIn: d("3000"), AmountOut: d("0.0645")},
			{Venue: "apeswap", TokenIn: "BTCB", TokenOut: "WBNB", AmountIn: d("0.0645"), AmountOut: d("10.05")},
		},
		LoanAmount:   d("10"),
		GrossProfit:  d("0.05"),
		FlashLoanFee: d("0.009"),
		GasCost:      d("0.00294"),
		GasUnits:     490000,
		GasPrice:     big.NewInt(6 * gwei),
		TotalCosts:   d("0.01194"),
		NetProfit:    d("0.03806"),
		NetROI:       d("0.3806"),
	}
}

func newTestGate(t *testing.T, balance *fakeBalance, oracle *fakeOracle) (*Gate, *metrics.ExecutionMetrics) {
	m := metrics.NewExecutionMetrics(prometheus.NewRegistry(), "test")
	account := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	return NewGate(config.DefaultConfig().Execution, balance, oracle, account, m, zaptest.NewLogger(t)), m
}

func TestGatePasses(t *testing.T) {
	balance := &fakeBalance{balance: ether("1")}
	gate, m := newTestGate(t, balance, &fakeOracle{price: gweiPrice(4, 1)})

	require.NoError(t, gate.Check(context.Background(), wbnbOpportunity()))
	assert.Equal(t, common.HexToAddress("0x00000000000000000000000000000000000000aa"), balance.account)
	assert.InDelta(t, 5.0, testutil.ToFloat64(m.GasPrice), 1e-9)
}

func TestGateRejections(t *testing.T) {
	tests := []struct {
		name    string
		balance string
		price   gas.Price
		mutate  func(*types.Opportunity)
		check   string
		want    error
	}{
		{
			name:    "balance below reserve",
			balance: "0.01",
			price:   gweiPrice(4, 1),
			check:   CheckBalance,
			want:    types.ErrInsufficientBalance,
		},
		{
			name:    "gas price above ceiling",
			balance: "1",
			price:   gweiPrice(25, 2),
			check:   CheckGasPrice,
			want:    types.ErrGasPriceExceeded,
		},
		{
			name:    "gas price at ceiling",
			balance: "1",
			price:   gweiPrice(18, 2),
			check:   CheckGasPrice,
			want:    types.ErrGasPriceExceeded,
		},
		{
			name:    "missing leg",
			balance: "1",
			price:   gweiPrice(4, 1),
			mutate:  func(o *types.Opportunity) { o.Legs = o.Legs[:2] },
			check:   CheckStructure,
			want:    types.ErrPathNotCircular,
		},
		{
			name:    "flash asset differs from endpoints",
			balance: "1",
			price:   gweiPrice(4, 1),
			mutate: func(o *types.Opportunity) {
				p := *o.Path
				p.FlashLoanAsset = "USDT"
				o.Path = &p
			},
			check: CheckStructure,
			want:  types.ErrPathNotCircular,
		},
		{
			name:    "roi below minimum",
			balance: "1",
			price:   gweiPrice(4, 1),
			mutate:  func(o *types.Opportunity) { o.NetROI = decimal.RequireFromString("0.05") },
			check:   CheckROI,
			want:    types.ErrBelowProfitThreshold,
		},
		{
			name:    "first failing check wins",
			balance: "0.01",
			price:   gweiPrice(50, 5),
			mutate:  func(o *types.Opportunity) { o.NetROI = decimal.Zero },
			check:   CheckBalance,
			want:    types.ErrInsufficientBalance,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate, m := newTestGate(t, &fakeBalance{balance: ether(tt.balance)}, &fakeOracle{price: tt.price})
			opp := wbnbOpportunity()
			if tt.mutate != nil {
				tt.mutate(opp)
			}

			err := gate.Check(context.Background(), opp)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var rejection *types.GateRejection
			require.ErrorAs(t, err, &rejection)
			assert.Equal(t, tt.check, rejection.Check)
			assert.Equal(t, 1.0, testutil.ToFloat64(m.GateRejections.WithLabelValues(tt.check)))
		})
	}
}

func TestGateReadFailures(t *testing.T) {
	t.Run("balance", func(t *testing.T) {
		gate, m := newTestGate(t, &fakeBalance{err: errors.New("connection refused")}, &fakeOracle{price: gweiPrice(4, 1)})
		err := gate.Check(context.Background(), wbnbOpportunity())
		assert.ErrorIs(t, err, types.ErrTransientNetwork)

		var rejection *types.GateRejection
		assert.False(t, errors.As(err, &rejection))
		assert.Equal(t, 0, testutil.CollectAndCount(m.GateRejections))
	})

	t.Run("gas price", func(t *testing.T) {
		gate, _ := newTestGate(t, &fakeBalance{balance: ether("1")}, &fakeOracle{err: errors.New("timeout")})
		err := gate.Check(context.Background(), wbnbOpportunity())
		assert.ErrorIs(t, err, types.ErrTransientNetwork)
	})
}
