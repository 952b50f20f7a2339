package execution

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/cyclearb/config"
	"github.com/michaelpento.lv/cyclearb/dex"
	"github.com/michaelpento.lv/cyclearb/flashloan"
	"github.com/michaelpento.lv/cyclearb/market"
	"github.com/michaelpento.lv/cyclearb/simulator"
	"github.com/michaelpento.lv/cyclearb/types"
	mathutil "github.com/michaelpento.lv/cyclearb/utils/math"
	"github.com/michaelpento.lv/cyclearb/utils/metrics"
)

var errReverted = errors.New("transaction reverted without reason")

// Settler submits settlement requests to the external contract.
type Settler interface {
	Address() common.Address
	Pack(req flashloan.Request) ([]byte, error)
	Submit(opts *bind.TransactOpts, req flashloan.Request) (*ethtypes.Transaction, error)
	WaitMined(ctx context.Context, tx *ethtypes.Transaction) (*ethtypes.Receipt, error)
	ParseExecuted(receipt *ethtypes.Receipt) (*flashloan.Executed, bool)
}

// Simulator dry-runs settlement calldata.
type Simulator interface {
	SimulateCall(ctx context.Context, from, to common.Address, data []byte) *simulator.SimulationResult
	Replay(ctx context.Context, from, to common.Address, data []byte, gas uint64, blockNumber *big.Int) error
}

// VenueLookup resolves venue identifiers to their registry entries.
type VenueLookup interface {
	Get(id string) (*dex.Entry, bool)
}

// Executor turns gated opportunities into settlement transactions. At most one
// settlement is in flight at a time.
type Executor struct {
	config   config.ExecutionConfig
	settler  Settler
	sim      Simulator
	venues   VenueLookup
	universe *market.Universe
	key      *ecdsa.PrivateKey
	from     common.Address
	chainID  *big.Int
	metrics  *metrics.ExecutionMetrics
	logger   *zap.Logger
	now      func() time.Time
	feeBps   uint16

	mu sync.Mutex
}

// Option customises an Executor.
type Option func(*Executor)

// WithFlashLoanFee sets the lender premium every request must account for.
func WithFlashLoanFee(bps uint16) Option {
	return func(e *Executor) {
		e.feeBps = bps
	}
}

func NewExecutor(
	cfg config.ExecutionConfig,
	settler Settler,
	sim Simulator,
	venues VenueLookup,
	universe *market.Universe,
	key *ecdsa.PrivateKey,
	chainID *big.Int,
	m *metrics.ExecutionMetrics,
	logger *zap.Logger,
	opts ...Option,
) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid execution config: %w", err)
	}
	if key == nil {
		return nil, fmt.Errorf("signing key cannot be nil")
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("chain id must be positive")
	}
	e := &Executor{
		config:   cfg,
		settler:  settler,
		sim:      sim,
		venues:   venues,
		universe: universe,
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		chainID:  chainID,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Account is the address settlements are sent from.
func (e *Executor) Account() common.Address {
	return e.from
}

// BuildRequest encodes opp as one instruction per leg. Minimum outputs carry the
// configured slippage buffer. An opportunity that books less than the lender
// premium on its loan is refused.
func (e *Executor) BuildRequest(opp *types.Opportunity) (flashloan.Request, error) {
	asset, ok := e.universe.Get(opp.Path.FlashLoanAsset)
	if !ok {
		return flashloan.Request{}, fmt.Errorf("unknown flash-loan asset %s", opp.Path.FlashLoanAsset)
	}

	amount := asset.ToBaseUnits(opp.LoanAmount)
	if premium := flashloan.Fee(amount, e.feeBps); asset.ToBaseUnits(opp.FlashLoanFee).Cmp(premium) < 0 {
		return flashloan.Request{}, fmt.Errorf("%w: booked flash-loan fee %s is below the %d bps premium %s",
			types.ErrUnprofitable, opp.FlashLoanFee, e.feeBps, asset.FromBaseUnits(premium))
	}

	instructions := make([]flashloan.Instruction, 0, len(opp.Legs))
	for i, leg := range opp.Legs {
		entry, ok := e.venues.Get(leg.Venue)
		if !ok {
			return flashloan.Request{}, fmt.Errorf("leg %d: unknown venue %s", i, leg.Venue)
		}
		if entry.Venue.Router == (common.Address{}) {
			return flashloan.Request{}, fmt.Errorf("leg %d: venue %s has no router", i, leg.Venue)
		}
		tokenIn, okIn := e.universe.Get(leg.TokenIn)
		tokenOut, okOut := e.universe.Get(leg.TokenOut)
		if !okIn || !okOut {
			return flashloan.Request{}, fmt.Errorf("leg %d: unknown token in %s->%s", i, leg.TokenIn, leg.TokenOut)
		}

		in := flashloan.Instruction{
			Venue:        leg.Venue,
			Router:       entry.Venue.Router,
			Kind:         flashloan.KindConstantProduct,
			TokenIn:      tokenIn.Address,
			TokenOut:     tokenOut.Address,
			Fee:          entry.Venue.Fee,
			AmountIn:     tokenIn.ToBaseUnits(leg.AmountIn),
			MinAmountOut: mathutil.ApplyBuffer(tokenOut.ToBaseUnits(leg.AmountOut), e.config.SlippageBufferBps),
		}
		if entry.Venue.Kind == types.ConcentratedLiquidity {
			in.Kind = flashloan.KindConcentratedLiquidity
			in.Fee = leg.FeeTier
		}
		instructions = append(instructions, in)
	}

	return flashloan.Request{
		Asset:        asset.Address,
		Amount:       amount,
		Instructions: instructions,
		Deadline:     big.NewInt(e.now().Add(e.config.Deadline).Unix()),
	}, nil
}

// Execute submits opp and waits for its receipt. Failed settlements return the
// result together with a *types.ExecutionRevertedError; nothing is retried.
func (e *Executor) Execute(ctx context.Context, opp *types.Opportunity) (*types.ExecutionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := &types.ExecutionResult{
		OpportunityID: opp.ID,
		PathID:        opp.Path.ID,
		Asset:         opp.Path.FlashLoanAsset,
		SubmittedAt:   e.now(),
	}

	req, err := e.BuildRequest(opp)
	if err != nil {
		return e.fail(result, types.FailureUnknown, fmt.Errorf("failed to build settlement: %w", err))
	}

	if e.config.DryRun {
		e.metrics.DryRuns.Inc()
		result.DryRun = true
		e.logger.Info("Dry run, settlement not submitted",
			zap.String("opportunity", opp.ID),
			zap.String("path", opp.Path.String()),
			zap.String("loan", opp.LoanAmount.String()),
			zap.String("net_profit", opp.NetProfit.String()),
			zap.Int("instructions", len(req.Instructions)))
		return result, nil
	}

	e.metrics.Attempts.Inc()

	data, err := e.settler.Pack(req)
	if err != nil {
		return e.fail(result, types.FailureUnknown, fmt.Errorf("failed to pack settlement: %w", err))
	}

	sim := e.sim.SimulateCall(ctx, e.from, e.settler.Address(), data)
	if !sim.Success {
		reason := Classify(sim.Error)
		if reason == types.FailureUnknown {
			reason = types.FailureGasEstimation
		}
		return e.fail(result, reason, fmt.Errorf("simulation failed: %w", sim.Error))
	}

	opts, err := bind.NewKeyedTransactorWithChainID(e.key, e.chainID)
	if err != nil {
		return e.fail(result, types.FailureUnknown, fmt.Errorf("failed to create transactor: %w", err))
	}
	opts.Context = ctx
	opts.GasLimit = uint64(float64(sim.GasUsed) * e.config.GasLimitMultiplier)

	tx, err := e.settler.Submit(opts, req)
	if err != nil {
		return e.fail(result, Classify(err), err)
	}
	result.TxHash = tx.Hash()
	e.logger.Info("Settlement submitted",
		zap.String("opportunity", opp.ID),
		zap.String("tx", tx.Hash().Hex()),
		zap.Uint64("gas_limit", opts.GasLimit))

	waitCtx, cancel := context.WithTimeout(ctx, e.config.ReceiptTimeout)
	defer cancel()
	receipt, err := e.settler.WaitMined(waitCtx, tx)
	if err != nil {
		return e.fail(result, Classify(err), fmt.Errorf("%w: waiting for receipt: %w", types.ErrTransientNetwork, err))
	}

	result.ConfirmedAt = e.now()
	result.GasUsed = receipt.GasUsed
	e.metrics.GasUsed.Observe(float64(receipt.GasUsed))
	e.metrics.ExecutionTime.Observe(result.ConfirmedAt.Sub(result.SubmittedAt).Seconds())

	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		cause := e.sim.Replay(ctx, e.from, e.settler.Address(), data, tx.Gas(), receipt.BlockNumber)
		if cause == nil {
			cause = errReverted
		}
		return e.fail(result, Classify(cause), cause)
	}

	asset := e.universe.MustGet(opp.Path.FlashLoanAsset)
	if ev, ok := e.settler.ParseExecuted(receipt); ok {
		result.RealizedProfit = asset.FromBaseUnits(ev.Profit)
		result.ProfitFromEvent = true
	} else {
		result.RealizedProfit = estimateProfit(asset, opp, receipt)
	}
	result.Success = true

	e.metrics.Successes.Inc()
	profit, _ := result.RealizedProfit.Float64()
	e.metrics.RealizedProfit.WithLabelValues(asset.Symbol).Add(profit)
	e.logger.Info("Settlement confirmed",
		zap.String("opportunity", opp.ID),
		zap.String("tx", result.TxHash.Hex()),
		zap.Uint64("gas_used", receipt.GasUsed),
		zap.String("profit", result.RealizedProfit.String()),
		zap.Bool("from_event", result.ProfitFromEvent))
	return result, nil
}

func (e *Executor) fail(result *types.ExecutionResult, reason types.FailureReason, err error) (*types.ExecutionResult, error) {
	result.Reason = reason
	result.Error = err.Error()
	e.metrics.Failures.WithLabelValues(string(reason)).Inc()
	e.logger.Error("Settlement failed",
		zap.String("opportunity", result.OpportunityID),
		zap.String("reason", string(reason)),
		zap.Error(err))
	return result, &types.ExecutionRevertedError{Reason: reason, Err: err}
}

// estimateProfit is the pre-gas profit less the gas actually paid, scaled from the
// scanner's estimate by observed over estimated wei.
func estimateProfit(asset types.Asset, opp *types.Opportunity, receipt *ethtypes.Receipt) decimal.Decimal {
	beforeGas := opp.GrossProfit.Sub(opp.FlashLoanFee)

	price := receipt.EffectiveGasPrice
	if price == nil {
		price = opp.GasPrice
	}
	if price == nil || opp.GasPrice == nil {
		return beforeGas.Sub(opp.GasCost)
	}
	observed := new(big.Int).Mul(new(big.Int).SetUint64(receipt.GasUsed), price)
	estimated := new(big.Int).Mul(new(big.Int).SetUint64(opp.GasUnits), opp.GasPrice)
	if estimated.Sign() == 0 {
		return beforeGas.Sub(opp.GasCost)
	}

	cost := mathutil.MulDiv(asset.ToBaseUnits(opp.GasCost), observed, estimated)
	return beforeGas.Sub(asset.FromBaseUnits(cost))
}
