package gas

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/cyclearb/config"
)

const (
	refreshInterval = time.Second
	staleAfter      = 3 * time.Second
)

// Client is the subset of the chain client the estimator reads.
type Client interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// Price is the network fee per gas unit
type Price struct {
	BaseFee     *big.Int
	PriorityFee *big.Int
}

// Total returns base fee plus priority fee.
func (p Price) Total() *big.Int {
	return new(big.Int).Add(p.BaseFee, p.PriorityFee)
}

// Estimator provides gas price estimation and tracking
type Estimator struct {
	client Client
	logger *zap.Logger
	now    func() time.Time

	mu           sync.RWMutex
	baseGasPrice *big.Int
	priorityFee  *big.Int
	updatedAt    time.Time
}

// NewEstimator creates a new gas estimator
func NewEstimator(client Client, logger *zap.Logger) *Estimator {
	return &Estimator{
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

// Run refreshes prices every second until ctx is done.
func (e *Estimator) Run(ctx context.Context) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.update(ctx); err != nil {
				e.logger.Error("Failed to update gas prices", zap.Error(err))
			}
		}
	}
}

// update fetches latest gas prices
func (e *Estimator) update(ctx context.Context) error {
	header, err := e.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to get latest header: %w", err)
	}

	var baseFee, priorityFee *big.Int
	if header.BaseFee != nil {
		baseFee = header.BaseFee
		priorityFee, err = e.client.SuggestGasTipCap(ctx)
		if err != nil {
			return fmt.Errorf("failed to get priority fee: %w", err)
		}
	} else {
		// legacy pricing
		baseFee, err = e.client.SuggestGasPrice(ctx)
		if err != nil {
			return fmt.Errorf("failed to get gas price: %w", err)
		}
		priorityFee = big.NewInt(0)
	}

	e.mu.Lock()
	e.baseGasPrice = baseFee
	e.priorityFee = priorityFee
	e.updatedAt = e.now()
	e.mu.Unlock()

	return nil
}

// GasPrice returns the latest price, refreshing it when stale.
func (e *Estimator) GasPrice(ctx context.Context) (Price, error) {
	e.mu.RLock()
	fresh := e.baseGasPrice != nil && e.now().Sub(e.updatedAt) < staleAfter
	e.mu.RUnlock()

	if !fresh {
		if err := e.update(ctx); err != nil {
			return Price{}, err
		}
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	return Price{
		BaseFee:     new(big.Int).Set(e.baseGasPrice),
		PriorityFee: new(big.Int).Set(e.priorityFee),
	}, nil
}

// EstimateUnits applies the gas-unit model: a per-hop cost, an increment for
// each hop beyond two, the flash-loan and validation overheads, and an
// increment per concentrated-liquidity hop.
func EstimateUnits(cfg config.GasUnitsConfig, hops, concentrated int) uint64 {
	units := cfg.PerHop * uint64(hops)
	if hops > 2 {
		units += cfg.ExtraHop * uint64(hops-2)
	}
	units += cfg.FlashLoanOverhead + cfg.ValidationOverhead
	units += cfg.ConcentratedHop * uint64(concentrated)
	return units
}

// Cost returns units * price in wei.
func Cost(units uint64, price Price) *big.Int {
	return new(big.Int).Mul(price.Total(), new(big.Int).SetUint64(units))
}
