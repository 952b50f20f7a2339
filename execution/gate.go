package execution

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/cyclearb/config"
	"github.com/michaelpento.lv/cyclearb/gas"
	"github.com/michaelpento.lv/cyclearb/types"
	mathutil "github.com/michaelpento.lv/cyclearb/utils/math"
	"github.com/michaelpento.lv/cyclearb/utils/metrics"
)

// Gate check names, in evaluation order.
const (
	CheckBalance   = "balance"
	CheckGasPrice  = "gas_price"
	CheckStructure = "structure"
	CheckROI       = "roi"
)

const nativeDecimals = 18

// BalanceReader reads the executing account's native balance.
type BalanceReader interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// GasOracle reports the current network gas price.
type GasOracle interface {
	GasPrice(ctx context.Context) (gas.Price, error)
}

// Gate re-validates an opportunity against live constraints before execution.
// It has no side effects besides metrics.
type Gate struct {
	config  config.ExecutionConfig
	client  BalanceReader
	oracle  GasOracle
	account common.Address
	metrics *metrics.ExecutionMetrics
	logger  *zap.Logger
}

func NewGate(cfg config.ExecutionConfig, client BalanceReader, oracle GasOracle, account common.Address, m *metrics.ExecutionMetrics, logger *zap.Logger) *Gate {
	return &Gate{
		config:  cfg,
		client:  client,
		oracle:  oracle,
		account: account,
		metrics: m,
		logger:  logger,
	}
}

// Check returns nil when opp may be executed, a *types.GateRejection naming the
// first failed check, or a plain error when live state could not be read.
func (g *Gate) Check(ctx context.Context, opp *types.Opportunity) error {
	balance, err := g.client.BalanceAt(ctx, g.account, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to read balance: %w", types.ErrTransientNetwork, err)
	}
	have := mathutil.ToDecimal(balance, nativeDecimals)
	if have.LessThan(g.config.MinGasReserve) {
		return g.reject(CheckBalance, fmt.Errorf("%w: have %s, need %s",
			types.ErrInsufficientBalance, have.StringFixed(6), g.config.MinGasReserve))
	}

	price, err := g.oracle.GasPrice(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to read gas price: %w", types.ErrTransientNetwork, err)
	}
	g.metrics.GasPrice.Set(mathutil.Gwei(price.Total()))
	if price.Total().Cmp(g.config.MaxGasPrice) >= 0 {
		return g.reject(CheckGasPrice, fmt.Errorf("%w: %s >= %s wei",
			types.ErrGasPriceExceeded, price.Total(), g.config.MaxGasPrice))
	}

	p := opp.Path
	if p == nil || !p.IsCircular() || p.FlashLoanAsset != p.Assets[len(p.Assets)-1] || len(opp.Legs) != p.Hops() {
		return g.reject(CheckStructure, types.ErrPathNotCircular)
	}

	if opp.NetROI.LessThan(g.config.MinROI) {
		return g.reject(CheckROI, fmt.Errorf("%w: roi %s%% < %s%%",
			types.ErrBelowProfitThreshold, opp.NetROI.StringFixed(4), g.config.MinROI))
	}

	return nil
}

func (g *Gate) reject(check string, err error) error {
	g.metrics.GateRejections.WithLabelValues(check).Inc()
	return &types.GateRejection{Check: check, Err: err}
}
