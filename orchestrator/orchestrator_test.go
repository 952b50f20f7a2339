package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/cyclearb/config"
	"github.com/michaelpento.lv/cyclearb/paths"
	"github.com/michaelpento.lv/cyclearb/scanner"
	"github.com/michaelpento.lv/cyclearb/types"
	"github.com/michaelpento.lv/cyclearb/utils/metrics"
	"github.com/michaelpento.lv/cyclearb/utils/testutils"
)

type fakePaths struct {
	asset string
	paths []*types.CircularPath
}

func (f *fakePaths) ForCycle(cycle uint64) paths.Selection {
	return paths.Selection{Asset: f.asset, Band: paths.Bands[0], Paths: f.paths}
}

func (f *fakePaths) Len() int { return len(f.paths) }

// fakeQuoter fails with a transport error when fail matches the call and
// answers nothing when empty does.
type fakeQuoter struct {
	mu    sync.Mutex
	calls int
	fail  func(call int) bool
	empty bool
}

func (f *fakeQuoter) BatchQuote(_ context.Context, pairs [][2]string, amount decimal.Decimal) (map[types.QuoteKey]*types.PriceQuote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	out := make(map[types.QuoteKey]*types.PriceQuote)
	if f.fail != nil && f.fail(f.calls) {
		return out, fmt.Errorf("%w: connection refused", types.ErrTransientNetwork)
	}
	if f.empty {
		return out, nil
	}
	for _, p := range pairs {
		out[types.NewQuoteKey("pancake_v2", p[0], p[1], amount)] = &types.PriceQuote{Venue: "pancake_v2", TokenIn: p[0], TokenOut: p[1]}
	}
	return out, nil
}

type fakeScanner struct {
	opps     []*types.Opportunity
	snapshot scanner.Snapshot
}

func (f *fakeScanner) ScanBatch(_ context.Context, _ []*types.CircularPath, snapshot scanner.Snapshot) []*types.Opportunity {
	f.snapshot = snapshot
	return f.opps
}

type fakeGate struct {
	errs map[string]error
}

func (f *fakeGate) Check(_ context.Context, opp *types.Opportunity) error {
	return f.errs[opp.ID]
}

type fakeExecutor struct {
	executed []string
	results  map[string]*types.ExecutionResult
	errs     map[string]error
}

func (f *fakeExecutor) Execute(_ context.Context, opp *types.Opportunity) (*types.ExecutionResult, error) {
	f.executed = append(f.executed, opp.ID)
	if r, ok := f.results[opp.ID]; ok {
		return r, f.errs[opp.ID]
	}
	return &types.ExecutionResult{OpportunityID: opp.ID, Asset: opp.Path.FlashLoanAsset, Success: true, RealizedProfit: decimal.RequireFromString("0.04")}, nil
}

type fakeChain struct {
	id  int64
	err error
}

func (f fakeChain) ChainID(context.Context) (*big.Int, error) {
	return big.NewInt(f.id), f.err
}

type fakeDeployment struct {
	deployed bool
	err      error
}

func (f fakeDeployment) Deployed(context.Context) (bool, error) {
	return f.deployed, f.err
}

type fakeBoard struct {
	published []Stats
}

func (f *fakeBoard) Publish(_ context.Context, stats Stats, _ []*types.Opportunity) error {
	f.published = append(f.published, stats)
	return nil
}

type fakeJournal struct {
	results []*types.ExecutionResult
}

func (f *fakeJournal) Record(_ context.Context, r *types.ExecutionResult) error {
	f.results = append(f.results, r)
	return nil
}

func wbnbPaths() *fakePaths {
	return &fakePaths{
		asset: "WBNB",
		paths: []*types.CircularPath{
			testutils.Path([]string{"WBNB", "USDT", "BTCB", "WBNB"}, []string{"pancake_v2", "biswap", "apeswap"}),
		},
	}
}

func opportunity(id string) *types.Opportunity {
	return &types.Opportunity{
		ID:        id,
		Path:      wbnbPaths().paths[0],
		NetProfit: decimal.RequireFromString("0.038"),
		NetROI:    decimal.RequireFromString("0.38"),
		Risk:      types.RiskLow,
	}
}

func defaultDeps() Deps {
	return Deps{
		Paths:      wbnbPaths(),
		Quotes:     &fakeQuoter{},
		Scanner:    &fakeScanner{},
		Gate:       &fakeGate{},
		Executor:   &fakeExecutor{},
		Chain:      fakeChain{id: 56},
		Settlement: fakeDeployment{deployed: true},
	}
}

type harness struct {
	o       *Orchestrator
	metrics *metrics.ScanMetrics
	sleeps  []time.Duration
}

// newHarness builds an orchestrator whose sleeps are recorded; it stops itself
// after stopAfter sleeps when stopAfter is positive.
func newHarness(t *testing.T, deps Deps, stopAfter int) *harness {
	t.Helper()
	h := &harness{metrics: metrics.NewScanMetrics(prometheus.NewRegistry(), "test")}
	o, err := New(config.DefaultConfig(), deps, h.metrics, zaptest.NewLogger(t))
	require.NoError(t, err)
	o.sleep = func(_ context.Context, d time.Duration) {
		h.sleeps = append(h.sleeps, d)
		if stopAfter > 0 && len(h.sleeps) >= stopAfter {
			o.Stop()
		}
	}
	h.o = o
	return h
}

func TestBackoff(t *testing.T) {
	cfg := config.DefaultConfig().Orchestrator.CircuitBreaker
	want := []time.Duration{0, time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second, 30 * time.Second}
	for n, d := range want {
		assert.Equal(t, d, Backoff(cfg, n), "n=%d", n)
	}
}

func TestNextDelay(t *testing.T) {
	cfg := config.DefaultConfig().Orchestrator

	tests := []struct {
		name    string
		current time.Duration
		cycles  uint64
		opps    uint64
		want    time.Duration
	}{
		{"busy market slows down", 2 * time.Second, 10, 1, 3 * time.Second},
		{"quiet market speeds up", 2 * time.Second, 100, 0, 1600 * time.Millisecond},
		{"quiet but too few cycles", 2 * time.Second, 49, 0, 2 * time.Second},
		{"steady rate keeps delay", 2 * time.Second, 100, 3, 2 * time.Second},
		{"capped at max", 25 * time.Second, 10, 5, 30 * time.Second},
		{"floored at min", 550 * time.Millisecond, 100, 0, 500 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats := Stats{Cycles: tt.cycles, Opportunities: tt.opps}
			assert.Equal(t, tt.want, NextDelay(cfg, tt.current, stats))
		})
	}
}

func TestConsecutiveErrorsStopTheLoop(t *testing.T) {
	deps := defaultDeps()
	quoter := &fakeQuoter{fail: func(int) bool { return true }}
	deps.Quotes = quoter
	h := newHarness(t, deps, 0)

	err := h.o.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrConsecutiveFailureLimitExceeded)
	assert.ErrorIs(t, err, types.ErrTransientNetwork)

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}, h.sleeps)
	assert.Equal(t, 5, quoter.calls)
	assert.Equal(t, Stopped, h.o.State())

	stats := h.o.Stats()
	assert.Equal(t, 16*time.Second, stats.CurrentDelay)
	assert.Equal(t, uint64(5), stats.Errors)
	assert.Equal(t, 5, stats.ConsecutiveErrors)
	assert.Equal(t, "STOPPED", stats.State)
	assert.Equal(t, 5.0, testutil.ToFloat64(h.metrics.CycleErrors))
	assert.Equal(t, 16.0, testutil.ToFloat64(h.metrics.ScanDelay))
	assert.Equal(t, float64(Stopped), testutil.ToFloat64(h.metrics.State))

	assert.Error(t, h.o.Run(context.Background()), "stopped is terminal")
}

func TestSuccessfulCycleResetsErrors(t *testing.T) {
	deps := defaultDeps()
	deps.Quotes = &fakeQuoter{fail: func(call int) bool { return call <= 2 }}
	h := newHarness(t, deps, 3)

	require.NoError(t, h.o.Run(context.Background()))

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 2 * time.Second}, h.sleeps)
	stats := h.o.Stats()
	assert.Equal(t, 0, stats.ConsecutiveErrors)
	assert.Equal(t, uint64(2), stats.Errors)
	assert.Equal(t, uint64(3), stats.Cycles)
	assert.Equal(t, 2*time.Second, stats.CurrentDelay)
}

func TestEmptySnapshotIsNotCycleError(t *testing.T) {
	deps := defaultDeps()
	quoter := &fakeQuoter{empty: true}
	sc := &fakeScanner{opps: []*types.Opportunity{opportunity("a")}}
	exec := &fakeExecutor{}
	deps.Quotes, deps.Scanner, deps.Executor = quoter, sc, exec
	h := newHarness(t, deps, 3)

	require.NoError(t, h.o.Run(context.Background()))

	assert.Equal(t, 3, quoter.calls)
	assert.Nil(t, sc.snapshot, "nothing to scan")
	assert.Empty(t, exec.executed)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second, 2 * time.Second}, h.sleeps)

	stats := h.o.Stats()
	assert.Equal(t, uint64(3), stats.Cycles)
	assert.Equal(t, uint64(0), stats.Errors)
	assert.Equal(t, uint64(0), stats.PathsScanned)
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.CycleErrors))
}

func TestCycleGatesAndExecutes(t *testing.T) {
	deps := defaultDeps()
	sc := &fakeScanner{opps: []*types.Opportunity{opportunity("a"), opportunity("b"), opportunity("c"), opportunity("d")}}
	gate := &fakeGate{errs: map[string]error{
		"b": &types.GateRejection{Check: "roi", Err: types.ErrBelowProfitThreshold},
	}}
	exec := &fakeExecutor{
		results: map[string]*types.ExecutionResult{
			"c": {OpportunityID: "c", Asset: "WBNB", Reason: types.FailureExcessiveSlippage},
		},
		errs: map[string]error{
			"c": &types.ExecutionRevertedError{Reason: types.FailureExcessiveSlippage, Err: errors.New("INSUFFICIENT_OUTPUT_AMOUNT")},
		},
	}
	board := &fakeBoard{}
	journal := &fakeJournal{}
	deps.Scanner, deps.Gate, deps.Executor, deps.Board, deps.Journal = sc, gate, exec, board, journal
	h := newHarness(t, deps, 1)

	require.NoError(t, h.o.Run(context.Background()))

	// only the top three are considered
	assert.Equal(t, []string{"a", "c"}, exec.executed)
	assert.Len(t, sc.snapshot, 3)

	stats := h.o.Stats()
	assert.Equal(t, uint64(1), stats.Cycles)
	assert.Equal(t, uint64(1), stats.AssetCycles["WBNB"])
	assert.Equal(t, uint64(1), stats.PathsScanned)
	assert.Equal(t, uint64(4), stats.Opportunities)
	assert.Equal(t, uint64(2), stats.Attempts)
	assert.Equal(t, uint64(1), stats.Successes)
	assert.Equal(t, uint64(1), stats.Failures["excessive_slippage"])
	assert.Equal(t, uint64(1), stats.GateRejections["roi"])
	assert.Equal(t, "0.04", stats.RealizedProfit["WBNB"].String())
	assert.Equal(t, uint64(0), stats.Errors)

	assert.Len(t, journal.results, 2)
	require.Len(t, board.published, 1)
	assert.Equal(t, uint64(1), board.published[0].Successes)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Cycles.WithLabelValues("WBNB")))
}

func TestGateReadFailureIsCycleError(t *testing.T) {
	deps := defaultDeps()
	deps.Scanner = &fakeScanner{opps: []*types.Opportunity{opportunity("a")}}
	deps.Gate = &fakeGate{errs: map[string]error{"a": types.ErrTransientNetwork}}
	exec := &fakeExecutor{}
	deps.Executor = exec
	h := newHarness(t, deps, 1)

	require.NoError(t, h.o.Run(context.Background()))
	assert.Empty(t, exec.executed)
	assert.Equal(t, uint64(1), h.o.Stats().Errors)
	assert.Equal(t, []time.Duration{time.Second}, h.sleeps)
}

func TestPreflight(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Deps)
		want   string
	}{
		{"wrong chain", func(d *Deps) { d.Chain = fakeChain{id: 1} }, "configured for 56"},
		{"chain unreachable", func(d *Deps) { d.Chain = fakeChain{err: errors.New("dial tcp")} }, "chain id"},
		{"not deployed", func(d *Deps) { d.Settlement = fakeDeployment{} }, "not deployed"},
		{"empty paths", func(d *Deps) { d.Paths = &fakePaths{asset: "WBNB"} }, "path set is empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := defaultDeps()
			tt.mutate(&deps)
			h := newHarness(t, deps, 1)

			err := h.o.Run(context.Background())
			assert.ErrorContains(t, err, tt.want)
			assert.Equal(t, Idle, h.o.State())
		})
	}
}

func TestStopViaContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := newHarness(t, defaultDeps(), 0)
	h.o.sleep = func(context.Context, time.Duration) { cancel() }

	require.NoError(t, h.o.Run(ctx))
	assert.Equal(t, Stopped, h.o.State())
	assert.Equal(t, uint64(1), h.o.Stats().Cycles)
}

func TestReplacePaths(t *testing.T) {
	deps := defaultDeps()
	h := newHarness(t, deps, 2)
	replacement := &fakePaths{
		asset: "USDT",
		paths: []*types.CircularPath{
			testutils.Path([]string{"USDT", "WBNB", "USDT"}, []string{"pancake_v2", "biswap"}),
			testutils.Path([]string{"USDT", "BUSD", "USDT"}, []string{"pancake_v2", "biswap"}),
		},
	}
	inner := h.o.sleep
	h.o.sleep = func(ctx context.Context, d time.Duration) {
		inner(ctx, d)
		if len(h.sleeps) == 1 {
			h.o.ReplacePaths(replacement)
		}
	}

	require.NoError(t, h.o.Run(context.Background()))
	stats := h.o.Stats()
	assert.Equal(t, uint64(1), stats.AssetCycles["WBNB"])
	assert.Equal(t, uint64(1), stats.AssetCycles["USDT"])
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.PathSetSize))
}
