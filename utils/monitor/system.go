package monitor

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/cyclearb/orchestrator"
	mathutil "github.com/michaelpento.lv/cyclearb/utils/math"
)

const nativeDecimals = 18

// StatsSource exposes the control loop statistics.
type StatsSource interface {
	Stats() orchestrator.Stats
}

// BalanceReader reads the executing account's native balance.
type BalanceReader interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// SystemMonitor samples loop health and the account balance into gauges.
type SystemMonitor struct {
	stats      StatsSource
	balances   BalanceReader
	account    common.Address
	minBalance decimal.Decimal
	logger     *zap.Logger
	now        func() time.Time
	metrics    struct {
		balance         prometheus.Gauge
		opportunityRate prometheus.Gauge
		errorRatio      prometheus.Gauge
		uptime          prometheus.Gauge
	}
}

// NewSystemMonitor registers the monitor gauges on reg. A balance below
// minBalance is logged on every sample.
func NewSystemMonitor(reg prometheus.Registerer, namespace string, stats StatsSource, balances BalanceReader, account common.Address, minBalance decimal.Decimal, logger *zap.Logger) *SystemMonitor {
	m := &SystemMonitor{
		stats:      stats,
		balances:   balances,
		account:    account,
		minBalance: minBalance,
		logger:     logger,
		now:        time.Now,
	}
	f := promauto.With(reg)
	m.metrics.balance = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "health",
		Name:      "account_native_balance",
		Help:      "Native balance of the executing account",
	})
	m.metrics.opportunityRate = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "health",
		Name:      "opportunity_rate",
		Help:      "Opportunities found per completed cycle",
	})
	m.metrics.errorRatio = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "health",
		Name:      "cycle_error_ratio",
		Help:      "Failed cycles over all cycles",
	})
	m.metrics.uptime = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "health",
		Name:      "uptime_seconds",
		Help:      "Time since scanning started",
	})
	return m
}

// Run samples every interval until ctx is done.
func (m *SystemMonitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Collect(ctx); err != nil {
				m.logger.Warn("Failed to collect health metrics", zap.Error(err))
			}
		}
	}
}

// Collect takes one sample. Loop gauges are set even when the balance read fails.
func (m *SystemMonitor) Collect(ctx context.Context) error {
	stats := m.stats.Stats()
	m.metrics.opportunityRate.Set(stats.OpportunityRate())
	if stats.Cycles > 0 {
		m.metrics.errorRatio.Set(float64(stats.Errors) / float64(stats.Cycles))
	}
	if !stats.StartedAt.IsZero() {
		m.metrics.uptime.Set(m.now().Sub(stats.StartedAt).Seconds())
	}

	wei, err := m.balances.BalanceAt(ctx, m.account, nil)
	if err != nil {
		return fmt.Errorf("failed to read balance: %w", err)
	}
	balance := mathutil.ToDecimal(wei, nativeDecimals)
	f, _ := balance.Float64()
	m.metrics.balance.Set(f)
	if balance.LessThan(m.minBalance) {
		m.logger.Warn("Account balance below gas reserve",
			zap.String("account", m.account.Hex()),
			zap.String("balance", balance.String()),
			zap.String("reserve", m.minBalance.String()))
	}
	return nil
}
