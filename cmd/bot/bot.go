package bot

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/cyclearb/config"
	"github.com/michaelpento.lv/cyclearb/dex"
	"github.com/michaelpento.lv/cyclearb/dex/uniswap"
	"github.com/michaelpento.lv/cyclearb/execution"
	"github.com/michaelpento.lv/cyclearb/flashloan"
	"github.com/michaelpento.lv/cyclearb/gas"
	"github.com/michaelpento.lv/cyclearb/market"
	"github.com/michaelpento.lv/cyclearb/orchestrator"
	"github.com/michaelpento.lv/cyclearb/paths"
	"github.com/michaelpento.lv/cyclearb/pricing"
	"github.com/michaelpento.lv/cyclearb/scanner"
	"github.com/michaelpento.lv/cyclearb/simulator"
	"github.com/michaelpento.lv/cyclearb/store"
	"github.com/michaelpento.lv/cyclearb/types"
	"github.com/michaelpento.lv/cyclearb/utils/metrics"
	"github.com/michaelpento.lv/cyclearb/utils/monitor"
)

const healthInterval = 15 * time.Second

// Bot represents a running arbitrage scanner instance
type Bot struct {
	cfg          *config.Config
	client       *ethclient.Client
	registry     *market.Registry
	venues       *venueView
	backend      dex.Backend
	aggregator   *pricing.Aggregator
	estimator    *gas.Estimator
	orchestrator *orchestrator.Orchestrator
	board        *store.Board
	journal      *store.Journal
	monitor      *monitor.SystemMonitor
	promReg      *prometheus.Registry
	logger       *zap.Logger
	wg           sync.WaitGroup
}

// venueView lets the venue registry be swapped on reload while quoting and
// execution keep a stable reference.
type venueView struct {
	current atomic.Pointer[dex.Registry]
}

func (v *venueView) Get(id string) (*dex.Entry, bool) {
	return v.current.Load().Get(id)
}

func (v *venueView) IDs() []string {
	return v.current.Load().IDs()
}

// LoadVenues reads the registry file and builds the venue registry over backend.
func LoadVenues(path string, backend dex.Backend) (*market.Registry, *dex.Registry, error) {
	reg, err := market.LoadRegistry(path)
	if err != nil {
		return nil, nil, err
	}
	var bridge *types.Asset
	if reg.Bridge != "" {
		a := reg.Universe.MustGet(reg.Bridge)
		bridge = &a
	}
	venues, err := dex.NewRegistry(reg.EnabledVenues(), bridge, backend)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build venue registry: %w", err)
	}
	return reg, venues, nil
}

// GeneratePaths builds the path set over a loaded registry.
func GeneratePaths(cfg config.PathConfig, reg *market.Registry, venues *dex.Registry, logger *zap.Logger) (*paths.PathSet, error) {
	gen, err := paths.NewGenerator(cfg, reg, venues, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create path generator: %w", err)
	}
	return gen.GenerateAll(), nil
}

// New wires every component from configuration. It dials the RPC endpoint and,
// when configured, Redis and the execution journal.
func New(ctx context.Context, cfg *config.Config, secure *config.SecureConfig, logger *zap.Logger) (*Bot, error) {
	key, err := crypto.HexToECDSA(secure.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to node: %w", err)
	}

	b := &Bot{
		cfg:     cfg,
		client:  client,
		backend: uniswap.NewBackend(client),
		venues:  &venueView{},
		promReg: metrics.NewRegistry(),
		logger:  logger,
	}
	if err := b.build(ctx, key); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func (b *Bot) build(ctx context.Context, key *ecdsa.PrivateKey) error {
	cfg := b.cfg
	namespace := cfg.Metrics.Namespace

	reg, venues, err := LoadVenues(cfg.RegistryFile, b.backend)
	if err != nil {
		return err
	}
	b.registry = reg
	b.venues.current.Store(venues)

	set, err := GeneratePaths(cfg.Paths, reg, venues, b.logger.Named("paths"))
	if err != nil {
		return err
	}

	b.aggregator, err = pricing.NewAggregator(cfg.Pricing, b.venues, reg.Universe,
		metrics.NewPricingMetrics(b.promReg, namespace), b.logger.Named("pricing"))
	if err != nil {
		return err
	}

	b.estimator = gas.NewEstimator(b.client, b.logger.Named("gas"))

	scanMetrics := metrics.NewScanMetrics(b.promReg, namespace)
	sc, err := scanner.NewScanner(cfg.Scanner, reg.Universe, b.aggregator, b.estimator, scanMetrics, b.logger.Named("scanner"))
	if err != nil {
		return err
	}

	settlement, err := flashloan.NewSettlement(cfg.SettlementAddress, b.client)
	if err != nil {
		return err
	}

	execMetrics := metrics.NewExecutionMetrics(b.promReg, namespace)
	executor, err := execution.NewExecutor(cfg.Execution, settlement, simulator.NewSimulator(b.client),
		b.venues, reg.Universe, key, new(big.Int).SetUint64(cfg.ChainID), execMetrics, b.logger.Named("executor"),
		execution.WithFlashLoanFee(cfg.Scanner.FlashLoanFeeBps))
	if err != nil {
		return err
	}
	gate := execution.NewGate(cfg.Execution, b.client, b.estimator, executor.Account(), execMetrics, b.logger.Named("gate"))

	deps := orchestrator.Deps{
		Paths:      set,
		Quotes:     b.aggregator,
		Scanner:    sc,
		Gate:       gate,
		Executor:   executor,
		Chain:      b.client,
		Settlement: settlement,
	}
	if cfg.Store.RedisAddr != "" {
		b.board, err = store.NewBoard(ctx, cfg.Store)
		if err != nil {
			return err
		}
		deps.Board = b.board
	}
	if cfg.Store.JournalPath != "" {
		b.journal, err = store.OpenJournal(cfg.Store.JournalPath)
		if err != nil {
			return err
		}
		deps.Journal = b.journal
	}

	b.orchestrator, err = orchestrator.New(cfg, deps, scanMetrics, b.logger.Named("orchestrator"))
	if err != nil {
		return err
	}
	b.monitor = monitor.NewSystemMonitor(b.promReg, namespace, b.orchestrator, b.client,
		executor.Account(), cfg.Execution.MinGasReserve, b.logger.Named("monitor"))
	return nil
}

// Run starts the gas tracker and metrics endpoint, then blocks in the scan loop.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Starting cyclearb",
		zap.Uint64("chain_id", b.cfg.ChainID),
		zap.String("settlement", b.cfg.SettlementAddress.Hex()),
		zap.Bool("dry_run", b.cfg.Execution.DryRun))

	bgCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		b.wg.Wait()
	}()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.estimator.Run(bgCtx)
	}()
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.monitor.Run(bgCtx, healthInterval)
	}()

	if b.cfg.Metrics.PrometheusEnabled {
		b.serveMetrics(bgCtx)
	}

	return b.orchestrator.Run(ctx)
}

func (b *Bot) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(b.promReg, promhttp.HandlerOpts{Registry: b.promReg}))
	srv := &http.Server{
		Addr:              b.cfg.Metrics.PrometheusEndpoint,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			b.logger.Error("Metrics server error", zap.Error(err))
		}
	}()
	go func() {
		defer b.wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	b.logger.Info("Serving metrics", zap.String("addr", srv.Addr))
}

// Reload re-reads the registry file, regenerates the path set and swaps both in
// for the next cycle. Cached quotes are dropped since venue settings may have
// changed. The asset universe must not change.
func (b *Bot) Reload() error {
	reg, venues, err := LoadVenues(b.cfg.RegistryFile, b.backend)
	if err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	if !sameSymbols(reg.Universe.Symbols(), b.registry.Universe.Symbols()) {
		return fmt.Errorf("reload: asset universe changed, restart required")
	}
	set, err := GeneratePaths(b.cfg.Paths, reg, venues, b.logger.Named("paths"))
	if err != nil {
		return fmt.Errorf("reload: %w", err)
	}

	b.registry = reg
	b.venues.current.Store(venues)
	b.aggregator.Purge()
	b.orchestrator.ReplacePaths(set)
	b.logger.Info("Registry reloaded", zap.Int("venues", venues.Len()), zap.Int("paths", set.Len()))
	return nil
}

// Stop asks the scan loop to finish after the current cycle.
func (b *Bot) Stop() {
	b.orchestrator.Stop()
}

// Stats returns the orchestrator statistics.
func (b *Bot) Stats() orchestrator.Stats {
	return b.orchestrator.Stats()
}

// Close releases outward connections.
func (b *Bot) Close() {
	if b.board != nil {
		if err := b.board.Close(); err != nil {
			b.logger.Warn("Failed to close board", zap.Error(err))
		}
	}
	if b.journal != nil {
		if err := b.journal.Close(); err != nil {
			b.logger.Warn("Failed to close journal", zap.Error(err))
		}
	}
	b.client.Close()
}

func sameSymbols(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
