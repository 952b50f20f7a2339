package scanner

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/michaelpento.lv/cyclearb/config"
	"github.com/michaelpento.lv/cyclearb/gas"
	"github.com/michaelpento.lv/cyclearb/market"
	"github.com/michaelpento.lv/cyclearb/types"
	mathutil "github.com/michaelpento.lv/cyclearb/utils/math"
	"github.com/michaelpento.lv/cyclearb/utils/metrics"
)

var (
	hundred  = decimal.NewFromInt(100)
	bpsScale = decimal.NewFromInt(10000)
)

// QuoteSource is the price aggregator as seen by the scanner.
type QuoteSource interface {
	Quote(ctx context.Context, venue, tokenIn, tokenOut string, amountIn decimal.Decimal) (*types.PriceQuote, error)
	PriceImpact(ctx context.Context, venue, tokenIn, tokenOut string, amountIn decimal.Decimal) (decimal.Decimal, error)
}

// GasOracle reports the current network gas price.
type GasOracle interface {
	GasPrice(ctx context.Context) (gas.Price, error)
}

// Snapshot holds quotes captured for this cycle; a hop found here skips the aggregator.
type Snapshot map[types.QuoteKey]*types.PriceQuote

// Scanner evaluates circular paths into priced opportunities.
type Scanner struct {
	config   config.ScannerConfig
	universe *market.Universe
	quotes   QuoteSource
	gas      GasOracle
	metrics  *metrics.ScanMetrics
	logger   *zap.Logger
	sleep    func(time.Duration)
	now      func() time.Time
}

func NewScanner(cfg config.ScannerConfig, universe *market.Universe, quotes QuoteSource, oracle GasOracle, m *metrics.ScanMetrics, logger *zap.Logger) (*Scanner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scanner config: %w", err)
	}
	return &Scanner{
		config:   cfg,
		universe: universe,
		quotes:   quotes,
		gas:      oracle,
		metrics:  m,
		logger:   logger,
		sleep:    time.Sleep,
		now:      time.Now,
	}, nil
}

// Scan sizes the loan for path and evaluates it. It returns an error wrapping
// one of the scanner sentinels when the path is not profitable this cycle.
func (s *Scanner) Scan(ctx context.Context, path *types.CircularPath, snapshot Snapshot) (*types.Opportunity, error) {
	if !path.IsCircular() {
		s.logger.Error("Path is not circular", zap.String("path", pathID(path)))
		return nil, types.ErrPathNotCircular
	}
	return s.ScanWithAmount(ctx, path, snapshot, s.OptimalLoanAmount(path))
}

// ScanWithAmount evaluates path for a fixed loan amount.
func (s *Scanner) ScanWithAmount(ctx context.Context, path *types.CircularPath, snapshot Snapshot, loan decimal.Decimal) (*types.Opportunity, error) {
	if !path.IsCircular() {
		return nil, types.ErrPathNotCircular
	}

	legs := make([]types.SwapLeg, 0, path.Hops())
	amount := loan
	for i, venue := range path.Venues {
		leg, err := s.walkHop(ctx, venue, path.Assets[i], path.Assets[i+1], amount, snapshot)
		if err != nil {
			return nil, err
		}
		legs = append(legs, leg)
		amount = leg.AmountOut
	}

	if legs[len(legs)-1].TokenOut != path.FlashLoanAsset {
		s.logger.Warn("Path does not return to its flash-loan asset", zap.String("path", path.String()))
		return nil, types.ErrPathNotCircular
	}

	asset, ok := s.universe.Get(path.FlashLoanAsset)
	if !ok {
		return nil, fmt.Errorf("unknown flash-loan asset %s", path.FlashLoanAsset)
	}

	price, err := s.gas.GasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: gas price: %w", types.ErrTransientNetwork, err)
	}
	units := gas.EstimateUnits(s.config.GasUnits, path.Hops(), path.ConcentratedHops)
	gasCost, err := s.gasCostIn(ctx, asset, path, gas.Cost(units, price))
	if err != nil {
		return nil, err
	}

	gross := amount.Sub(loan)
	fee := FlashLoanFee(loan, s.config.FlashLoanFeeBps)
	total := gasCost.Add(fee)
	net := gross.Sub(total)
	if !net.IsPositive() {
		return nil, fmt.Errorf("%w: net %s %s on %s", types.ErrUnprofitable, net.StringFixed(8), asset.Symbol, path.ID)
	}
	roi := net.Div(loan).Mul(hundred)

	in := RiskInputs{Hops: path.Hops(), NetROI: roi}
	for _, leg := range legs {
		in.MaxImpact = decimal.Max(in.MaxImpact, leg.PriceImpact)
		in.MaxSlippage = decimal.Max(in.MaxSlippage, leg.Slippage)
	}
	score, level := ClassifyRisk(in)

	return &types.Opportunity{
		ID:           uuid.NewString(),
		Path:         path,
		Legs:         legs,
		LoanAmount:   loan,
		GrossProfit:  gross,
		FlashLoanFee: fee,
		GasCost:      gasCost,
		GasUnits:     units,
		GasPrice:     price.Total(),
		TotalCosts:   total,
		NetProfit:    net,
		NetROI:       roi,
		Confidence:   Confidence(in, s.highLiquidityCount(path)),
		RiskScore:    score,
		Risk:         level,
		CapturedAt:   s.now(),
	}, nil
}

func (s *Scanner) walkHop(ctx context.Context, venue, tokenIn, tokenOut string, amount decimal.Decimal, snapshot Snapshot) (types.SwapLeg, error) {
	q, ok := snapshot[types.NewQuoteKey(venue, tokenIn, tokenOut, amount)]
	if !ok {
		var err error
		q, err = s.quotes.Quote(ctx, venue, tokenIn, tokenOut, amount)
		if err != nil {
			return types.SwapLeg{}, err
		}
	}

	impact, err := s.quotes.PriceImpact(ctx, venue, tokenIn, tokenOut, amount)
	if err != nil {
		return types.SwapLeg{}, err
	}
	if impact.GreaterThan(s.config.MaxPriceImpact) {
		return types.SwapLeg{}, fmt.Errorf("%w: %s %s->%s impact %s%%",
			types.ErrPriceImpactExceeded, venue, tokenIn, tokenOut, impact.StringFixed(4))
	}

	leg := types.SwapLeg{
		Venue:       venue,
		TokenIn:     tokenIn,
		TokenOut:    tokenOut,
		AmountIn:    amount,
		AmountOut:   q.AmountOut,
		Price:       q.Price,
		PriceImpact: impact,
		Slippage:    impact.Mul(s.config.SlippageFactor),
		FeeTier:     q.FeeTier,
		Route:       q.Route,
	}
	if asset, ok := s.universe.Get(tokenIn); ok {
		leg.NotionalUSD = amount.Mul(asset.USDPrice)
	}
	return leg, nil
}

// gasCostIn converts a wei cost into the flash-loan asset. Non-native assets are
// priced through the path's venues.
func (s *Scanner) gasCostIn(ctx context.Context, asset types.Asset, path *types.CircularPath, wei *big.Int) (decimal.Decimal, error) {
	native, ok := s.universe.Native()
	if !ok {
		return decimal.Zero, fmt.Errorf("no native asset registered to price gas")
	}
	cost := native.FromBaseUnits(wei)
	if asset.Symbol == native.Symbol || cost.IsZero() {
		return cost, nil
	}

	var errs []error
	for _, venue := range path.Venues {
		q, err := s.quotes.Quote(ctx, venue, native.Symbol, asset.Symbol, cost)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		return q.AmountOut, nil
	}
	return decimal.Zero, fmt.Errorf("%w: gas cost in %s: %w", types.ErrNoQuote, asset.Symbol, errors.Join(errs...))
}

func (s *Scanner) highLiquidityCount(path *types.CircularPath) int {
	seen := make(map[string]bool)
	var n int
	for _, sym := range path.Assets[:len(path.Assets)-1] {
		if seen[sym] {
			continue
		}
		seen[sym] = true
		if a, ok := s.universe.Get(sym); ok && a.HighLiquidity {
			n++
		}
	}
	return n
}

// OptimalLoanAmount sizes the loan from the asset's base amount, the path length
// and the path's liquidity score.
func (s *Scanner) OptimalLoanAmount(path *types.CircularPath) decimal.Decimal {
	loan := s.config.Loan
	amount, ok := loan.BaseAmounts[path.FlashLoanAsset]
	if !ok {
		amount = loan.DefaultBaseAmount
	}

	switch hops := path.Hops(); {
	case hops <= loan.ShortPathHops:
		amount = amount.Mul(loan.ShortPathMultiplier)
	case hops >= loan.LongPathHops:
		amount = amount.Mul(loan.LongPathMultiplier)
	}

	if loan.ReferenceLiquidityScore > 0 {
		scale := path.LiquidityScore / loan.ReferenceLiquidityScore
		scale = mathutil.Clamp(scale, loan.MinLiquidityScale, loan.MaxLiquidityScale)
		amount = amount.Mul(decimal.NewFromFloat(scale))
	}

	if asset, ok := s.universe.Get(path.FlashLoanAsset); ok {
		return amount.Round(asset.Decimals)
	}
	return amount
}

// FlashLoanFee is amount * bps / 10000.
func FlashLoanFee(amount decimal.Decimal, bps uint16) decimal.Decimal {
	return amount.Mul(decimal.NewFromInt(int64(bps))).Div(bpsScale)
}

// ScanBatch scans paths in batches of at most MaxConcurrent, pausing between
// batches. Failed scans are dropped; results are ordered by net profit, highest first.
func (s *Scanner) ScanBatch(ctx context.Context, paths []*types.CircularPath, snapshot Snapshot) []*types.Opportunity {
	results := make([]*types.Opportunity, len(paths))
	batch := s.config.MaxConcurrent

	for start := 0; start < len(paths); start += batch {
		if start > 0 && s.config.BatchPacing > 0 {
			s.sleep(s.config.BatchPacing)
		}
		end := min(start+batch, len(paths))

		var g errgroup.Group
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				opp, err := s.Scan(ctx, paths[i], snapshot)
				if err != nil {
					s.metrics.Rejections.WithLabelValues(rejectionReason(err)).Inc()
					s.logger.Debug("Path rejected", zap.String("path", pathID(paths[i])), zap.Error(err))
					return nil
				}
				results[i] = opp
				return nil
			})
		}
		_ = g.Wait()
	}
	s.metrics.PathsScanned.Add(float64(len(paths)))

	found := make([]*types.Opportunity, 0, len(results))
	for _, opp := range results {
		if opp != nil {
			found = append(found, opp)
		}
	}
	sort.SliceStable(found, func(i, j int) bool {
		return found[i].NetProfit.GreaterThan(found[j].NetProfit)
	})
	s.metrics.Opportunities.Add(float64(len(found)))
	return found
}

func pathID(p *types.CircularPath) string {
	if p == nil {
		return "<nil>"
	}
	return p.ID
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, types.ErrNoQuote):
		return "no_quote"
	case errors.Is(err, types.ErrPriceImpactExceeded):
		return "price_impact"
	case errors.Is(err, types.ErrUnprofitable):
		return "unprofitable"
	case errors.Is(err, types.ErrPathNotCircular):
		return "not_circular"
	case errors.Is(err, types.ErrTransientNetwork):
		return "network"
	default:
		return "other"
	}
}
