package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/cyclearb/config"
	"github.com/michaelpento.lv/cyclearb/paths"
	"github.com/michaelpento.lv/cyclearb/scanner"
	"github.com/michaelpento.lv/cyclearb/types"
	"github.com/michaelpento.lv/cyclearb/utils/metrics"
)

// State of the control loop. Stopped is terminal.
type State int32

const (
	Idle State = iota
	Scanning
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Scanning:
		return "SCANNING"
	case Stopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// PathSource selects the paths a cycle scans.
type PathSource interface {
	ForCycle(cycle uint64) paths.Selection
	Len() int
}

type Quoter interface {
	BatchQuote(ctx context.Context, pairs [][2]string, amountIn decimal.Decimal) (map[types.QuoteKey]*types.PriceQuote, error)
}

type Scanner interface {
	ScanBatch(ctx context.Context, paths []*types.CircularPath, snapshot scanner.Snapshot) []*types.Opportunity
}

type Gate interface {
	Check(ctx context.Context, opp *types.Opportunity) error
}

type Executor interface {
	Execute(ctx context.Context, opp *types.Opportunity) (*types.ExecutionResult, error)
}

// ChainReader identifies the connected network.
type ChainReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
}

// Deployment reports whether the settlement contract is reachable.
type Deployment interface {
	Deployed(ctx context.Context) (bool, error)
}

// Publisher receives the statistics snapshot after every cycle.
type Publisher interface {
	Publish(ctx context.Context, stats Stats, top []*types.Opportunity) error
}

// Journal records execution outcomes.
type Journal interface {
	Record(ctx context.Context, result *types.ExecutionResult) error
}

// Deps are the collaborators of the control loop. Board and Journal are optional.
type Deps struct {
	Paths      PathSource
	Quotes     Quoter
	Scanner    Scanner
	Gate       Gate
	Executor   Executor
	Chain      ChainReader
	Settlement Deployment
	Board      Publisher
	Journal    Journal
}

// Orchestrator drives scan cycles: it rotates the path selection, scans,
// gates and executes the best opportunities, and paces itself.
type Orchestrator struct {
	config          config.OrchestratorConfig
	chainID         uint64
	referenceAmount decimal.Decimal
	topN            int
	deps            Deps
	metrics         *metrics.ScanMetrics
	logger          *zap.Logger

	state   atomic.Int32
	stopped atomic.Bool
	cycle   uint64

	pathsMu sync.RWMutex
	paths   PathSource

	mu    sync.Mutex
	stats Stats
	delay time.Duration

	sleep func(ctx context.Context, d time.Duration)
	now   func() time.Time
}

func New(cfg *config.Config, deps Deps, m *metrics.ScanMetrics, logger *zap.Logger) (*Orchestrator, error) {
	if err := cfg.Orchestrator.Validate(); err != nil {
		return nil, fmt.Errorf("invalid orchestrator config: %w", err)
	}
	if deps.Paths == nil || deps.Quotes == nil || deps.Scanner == nil || deps.Gate == nil || deps.Executor == nil {
		return nil, fmt.Errorf("paths, quotes, scanner, gate and executor are required")
	}
	if deps.Chain == nil || deps.Settlement == nil {
		return nil, fmt.Errorf("chain reader and settlement are required for preflight")
	}

	o := &Orchestrator{
		config:          cfg.Orchestrator,
		chainID:         cfg.ChainID,
		referenceAmount: cfg.Pricing.ReferenceAmount,
		topN:            cfg.Execution.TopOpportunities,
		deps:            deps,
		metrics:         m,
		logger:          logger,
		paths:           deps.Paths,
		stats:           newStats(),
		delay:           cfg.Orchestrator.ScanInterval,
		sleep:           sleepContext,
		now:             time.Now,
	}
	o.metrics.PathSetSize.Set(float64(deps.Paths.Len()))
	o.metrics.ScanDelay.Set(o.delay.Seconds())
	return o, nil
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

func (o *Orchestrator) setState(s State) {
	o.state.Store(int32(s))
	o.metrics.State.Set(float64(s))
	o.mu.Lock()
	o.stats.State = s.String()
	o.mu.Unlock()
}

// Stats returns a copy of the running statistics.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stats.clone()
}

// Stop asks the loop to halt before its next cycle. In-flight work completes.
func (o *Orchestrator) Stop() {
	if o.stopped.CompareAndSwap(false, true) {
		o.logger.Info("Stop requested")
	}
}

// ReplacePaths swaps the path set used from the next cycle on.
func (o *Orchestrator) ReplacePaths(set PathSource) {
	o.pathsMu.Lock()
	o.paths = set
	o.pathsMu.Unlock()
	o.metrics.PathSetSize.Set(float64(set.Len()))
	o.logger.Info("Path set replaced", zap.Int("paths", set.Len()))
}

func (o *Orchestrator) currentPaths() PathSource {
	o.pathsMu.RLock()
	defer o.pathsMu.RUnlock()
	return o.paths
}

// Preflight verifies the network and settlement contract.
func (o *Orchestrator) Preflight(ctx context.Context) error {
	id, err := o.deps.Chain.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to read chain id: %w", types.ErrTransientNetwork, err)
	}
	if id.Uint64() != o.chainID {
		return fmt.Errorf("connected to chain %s, configured for %d", id, o.chainID)
	}
	deployed, err := o.deps.Settlement.Deployed(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrTransientNetwork, err)
	}
	if !deployed {
		return fmt.Errorf("settlement contract is not deployed")
	}
	if o.currentPaths().Len() == 0 {
		return fmt.Errorf("path set is empty")
	}
	return nil
}

// Run performs preflight and then scans until Stop is called, ctx is done or
// the consecutive-error limit is reached. It blocks for the loop's lifetime.
func (o *Orchestrator) Run(ctx context.Context) error {
	if s := o.State(); s != Idle {
		return fmt.Errorf("orchestrator is %s, not %s", s, Idle)
	}
	if err := o.Preflight(ctx); err != nil {
		return fmt.Errorf("preflight failed: %w", err)
	}

	o.mu.Lock()
	o.stats.StartedAt = o.now()
	o.mu.Unlock()
	o.setState(Scanning)
	o.logger.Info("Scanning started",
		zap.Int("paths", o.currentPaths().Len()),
		zap.Duration("delay", o.delay))

	for {
		if o.stopped.Load() || ctx.Err() != nil {
			o.setState(Stopped)
			o.logger.Info("Scanning stopped", zap.Uint64("cycles", o.cycle))
			return nil
		}

		// a cycle in flight is never interrupted
		top, err := o.runCycle(context.WithoutCancel(ctx), o.cycle)
		o.cycle++

		var delay time.Duration
		if err != nil {
			n := o.recordError(err)
			delay = Backoff(o.config.CircuitBreaker, n)
			o.setDelay(delay)
			if n >= o.config.CircuitBreaker.ErrorThreshold {
				o.setState(Stopped)
				o.publish(ctx, top)
				o.logger.Warn("Consecutive error limit reached, stopping",
					zap.Int("errors", n),
					zap.Error(err))
				return fmt.Errorf("%w: %d consecutive cycle errors, last: %w",
					types.ErrConsecutiveFailureLimitExceeded, n, err)
			}
			o.logger.Warn("Cycle failed, backing off",
				zap.Int("consecutive_errors", n),
				zap.Duration("backoff", delay),
				zap.Error(err))
		} else {
			delay = o.nextDelay()
		}

		o.publish(ctx, top)
		o.sleep(ctx, delay)
	}
}

func (o *Orchestrator) runCycle(ctx context.Context, cycle uint64) (top []*types.Opportunity, err error) {
	start := o.now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle %d panicked: %v", cycle, r)
		}
		o.metrics.CycleDuration.Observe(o.now().Sub(start).Seconds())
	}()

	sel := o.currentPaths().ForCycle(cycle)
	o.metrics.Cycles.WithLabelValues(sel.Asset).Inc()
	o.mu.Lock()
	o.stats.Cycles++
	o.stats.AssetCycles[sel.Asset]++
	o.mu.Unlock()

	logger := o.logger.With(
		zap.Uint64("cycle", cycle),
		zap.String("asset", sel.Asset),
		zap.Int("band_min", sel.Band.Min),
		zap.Int("band_max", sel.Band.Max))
	if len(sel.Paths) == 0 {
		logger.Debug("No paths for selection")
		return nil, nil
	}

	pairs := paths.Pairs(sel.Paths)
	snapshot, err := o.deps.Quotes.BatchQuote(ctx, pairs, o.referenceAmount)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	if len(snapshot) == 0 {
		logger.Info("No venue quoted the selection", zap.Int("pairs", len(pairs)))
		return nil, nil
	}

	opps := o.deps.Scanner.ScanBatch(ctx, sel.Paths, scanner.Snapshot(snapshot))
	o.mu.Lock()
	o.stats.PathsScanned += uint64(len(sel.Paths))
	o.stats.Opportunities += uint64(len(opps))
	o.mu.Unlock()
	logger.Debug("Cycle scanned",
		zap.Int("paths", len(sel.Paths)),
		zap.Int("quotes", len(snapshot)),
		zap.Int("opportunities", len(opps)))

	top = opps[:min(len(opps), o.topN)]
	for _, opp := range top {
		if err := o.deps.Gate.Check(ctx, opp); err != nil {
			var rejection *types.GateRejection
			if !errors.As(err, &rejection) {
				return top, fmt.Errorf("gate: %w", err)
			}
			o.mu.Lock()
			o.stats.GateRejections[rejection.Check]++
			o.mu.Unlock()
			logger.Info("Opportunity rejected by gate",
				zap.String("opportunity", opp.ID),
				zap.String("check", rejection.Check),
				zap.Error(rejection.Err))
			continue
		}

		logger.Info("Executing opportunity",
			zap.String("opportunity", opp.ID),
			zap.String("path", opp.Path.String()),
			zap.String("net_profit", opp.NetProfit.String()),
			zap.String("net_roi", opp.NetROI.StringFixed(4)),
			zap.String("risk", string(opp.Risk)))
		result, err := o.deps.Executor.Execute(ctx, opp)
		o.mu.Lock()
		o.stats.recordExecution(result)
		o.mu.Unlock()
		o.journal(ctx, result)

		if err != nil {
			var reverted *types.ExecutionRevertedError
			if !errors.As(err, &reverted) {
				return top, fmt.Errorf("execute: %w", err)
			}
		}
	}
	return top, nil
}

func (o *Orchestrator) journal(ctx context.Context, result *types.ExecutionResult) {
	if o.deps.Journal == nil || result == nil {
		return
	}
	if err := o.deps.Journal.Record(ctx, result); err != nil {
		o.logger.Warn("Failed to journal execution", zap.String("opportunity", result.OpportunityID), zap.Error(err))
	}
}

func (o *Orchestrator) publish(ctx context.Context, top []*types.Opportunity) {
	if o.deps.Board == nil {
		return
	}
	if err := o.deps.Board.Publish(context.WithoutCancel(ctx), o.Stats(), top); err != nil {
		o.logger.Warn("Failed to publish stats", zap.Error(err))
	}
}

func (o *Orchestrator) recordError(err error) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stats.Errors++
	o.stats.ConsecutiveErrors++
	o.stats.LastError = err.Error()
	o.metrics.CycleErrors.Inc()
	o.metrics.ConsecutiveErrors.Set(float64(o.stats.ConsecutiveErrors))
	return o.stats.ConsecutiveErrors
}

// nextDelay resets the error run and tunes the cadence after a good cycle.
func (o *Orchestrator) nextDelay() time.Duration {
	o.mu.Lock()
	o.stats.ConsecutiveErrors = 0
	o.metrics.ConsecutiveErrors.Set(0)
	d := NextDelay(o.config, o.delay, o.stats)
	o.mu.Unlock()
	o.setDelay(d)
	return d
}

// setDelay records d as the current pause. Backoff pauses are reported but do
// not replace the tuned cadence.
func (o *Orchestrator) setDelay(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stats.ConsecutiveErrors == 0 {
		o.delay = d
	}
	o.stats.CurrentDelay = d
	o.metrics.ScanDelay.Set(d.Seconds())
}
