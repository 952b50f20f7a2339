package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	// Chain and network settings
	ChainID           uint64         `json:"chain_id"`
	RPCEndpoint       string         `json:"rpc_endpoint"`
	SettlementAddress common.Address `json:"settlement_address"`
	RegistryFile      string         `json:"registry_file"`

	Paths        PathConfig         `json:"paths"`
	Pricing      PricingConfig      `json:"pricing"`
	Scanner      ScannerConfig      `json:"scanner"`
	Execution    ExecutionConfig    `json:"execution"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Metrics      MetricsConfig      `json:"metrics"`
	Store        StoreConfig        `json:"store"`
	Log          LogConfig          `json:"log"`
}

// PathConfig tunes path enumeration, venue assignment and scoring.
type PathConfig struct {
	MinHops             int     `json:"min_hops"`
	MaxHops             int     `json:"max_hops"`
	MaxTokenPathsPerHop int     `json:"max_token_paths_per_hop"`
	TopVenueCount       int     `json:"top_venue_count"`
	MinLiquidityScore   float64 `json:"min_liquidity_score"`
	PerAssetQuota       int     `json:"per_asset_quota"`
	PathsPerCycle       int     `json:"paths_per_cycle"`

	BaseScore          float64 `json:"base_score"`
	HighLiquidityBonus float64 `json:"high_liquidity_bonus"`
	NativeBonus        float64 `json:"native_bonus"`
	MultiStableBonus   float64 `json:"multi_stable_bonus"`
	LongPathPenalty    float64 `json:"long_path_penalty"`
	LongPathThreshold  int     `json:"long_path_threshold"`

	HopWeight          float64 `json:"hop_weight"`
	VenueWeight        float64 `json:"venue_weight"`
	ConcentratedWeight float64 `json:"concentrated_weight"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64       `json:"requests_per_second"`
	BurstSize         int           `json:"burst_size"`
	WaitTimeout       time.Duration `json:"wait_timeout"`
}

// PricingConfig controls the quote cache and upstream pacing.
type PricingConfig struct {
	CacheTTL        time.Duration   `json:"cache_ttl"`
	CacheSize       int             `json:"cache_size"`
	ReferenceAmount decimal.Decimal `json:"reference_amount"`
	MaxConcurrent   int             `json:"max_concurrent"`
	RateLimit       RateLimitConfig `json:"rate_limit"`
}

// GasUnitsConfig is the gas-unit model of a settlement transaction.
type GasUnitsConfig struct {
	PerHop             uint64 `json:"per_hop"`
	ExtraHop           uint64 `json:"extra_hop"`
	FlashLoanOverhead  uint64 `json:"flash_loan_overhead"`
	ValidationOverhead uint64 `json:"validation_overhead"`
	ConcentratedHop    uint64 `json:"concentrated_hop"`
}

// LoanConfig holds the loan sizing heuristic.
type LoanConfig struct {
	BaseAmounts             map[string]decimal.Decimal `json:"base_amounts"`
	DefaultBaseAmount       decimal.Decimal            `json:"default_base_amount"`
	ShortPathHops           int                        `json:"short_path_hops"`
	ShortPathMultiplier     decimal.Decimal            `json:"short_path_multiplier"`
	LongPathHops            int                        `json:"long_path_hops"`
	LongPathMultiplier      decimal.Decimal            `json:"long_path_multiplier"`
	ReferenceLiquidityScore float64                    `json:"reference_liquidity_score"`
	MinLiquidityScale       float64                    `json:"min_liquidity_scale"`
	MaxLiquidityScale       float64                    `json:"max_liquidity_scale"`
}

type ScannerConfig struct {
	MaxPriceImpact  decimal.Decimal `json:"max_price_impact"`
	MaxConcurrent   int             `json:"max_concurrent"`
	BatchPacing     time.Duration   `json:"batch_pacing"`
	SlippageFactor  decimal.Decimal `json:"slippage_factor"`
	FlashLoanFeeBps uint16          `json:"flash_loan_fee_bps"`
	Loan            LoanConfig      `json:"loan"`
	GasUnits        GasUnitsConfig  `json:"gas_units"`
}

type ExecutionConfig struct {
	MinGasReserve      decimal.Decimal `json:"min_gas_reserve"`
	MaxGasPrice        *big.Int        `json:"max_gas_price"`
	MinROI             decimal.Decimal `json:"min_roi"`
	SlippageBufferBps  uint16          `json:"slippage_buffer_bps"`
	Deadline           time.Duration   `json:"deadline"`
	ReceiptTimeout     time.Duration   `json:"receipt_timeout"`
	GasLimitMultiplier float64         `json:"gas_limit_multiplier"`
	DryRun             bool            `json:"dry_run"`
	TopOpportunities   int             `json:"top_opportunities"`
}

type CircuitBreakerConfig struct {
	ErrorThreshold int           `json:"error_threshold"`
	BaseBackoff    time.Duration `json:"base_backoff"`
	MaxBackoff     time.Duration `json:"max_backoff"`
}

type OrchestratorConfig struct {
	ScanInterval        time.Duration        `json:"scan_interval"`
	MinScanInterval     time.Duration        `json:"min_scan_interval"`
	MaxScanInterval     time.Duration        `json:"max_scan_interval"`
	IncreaseFactor      float64              `json:"increase_factor"`
	DecreaseFactor      float64              `json:"decrease_factor"`
	HighOpportunityRate float64              `json:"high_opportunity_rate"`
	LowOpportunityRate  float64              `json:"low_opportunity_rate"`
	MinScansForDecrease uint64               `json:"min_scans_for_decrease"`
	CircuitBreaker      CircuitBreakerConfig `json:"circuit_breaker"`
}

type MetricsConfig struct {
	PrometheusEnabled  bool   `json:"prometheus_enabled"`
	PrometheusEndpoint string `json:"prometheus_endpoint"`
	Namespace          string `json:"namespace"`
}

// StoreConfig enables the optional outward stores; empty addresses disable them.
type StoreConfig struct {
	RedisAddr     string        `json:"redis_addr"`
	RedisPassword string        `json:"redis_password"`
	RedisDB       int           `json:"redis_db"`
	RedisPrefix   string        `json:"redis_prefix"`
	BoardTTL      time.Duration `json:"board_ttl"`
	JournalPath   string        `json:"journal_path"`
}

// LogConfig places the log files. An empty Dir keeps logging on the console.
type LogConfig struct {
	Level     string `json:"level"`
	Dir       string `json:"dir"`
	File      string `json:"file"`
	ErrorFile string `json:"error_file"`
}

func (l *LogConfig) Validate() error {
	if _, err := zapcore.ParseLevel(l.Level); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	if l.Dir != "" && (l.File == "" || l.ErrorFile == "") {
		return fmt.Errorf("log file names must be set when a log dir is")
	}
	return nil
}

type SecureConfig struct {
	PrivateKey string
}

func (c *Config) ValidateConfig() error {
	var errors []string

	if c.ChainID == 0 {
		errors = append(errors, "chain_id must be specified")
	}
	if c.RPCEndpoint == "" {
		errors = append(errors, "rpc_endpoint must be specified")
	}
	if c.RegistryFile == "" {
		errors = append(errors, "registry_file must be specified")
	}

	if err := c.Paths.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("paths config error: %v", err))
	}
	if err := c.Pricing.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("pricing config error: %v", err))
	}
	if err := c.Scanner.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("scanner config error: %v", err))
	}
	if err := c.Execution.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("execution config error: %v", err))
	}
	if err := c.Orchestrator.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("orchestrator config error: %v", err))
	}
	if err := c.Log.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("log config error: %v", err))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

func (p *PathConfig) Validate() error {
	if p.MinHops < 2 {
		return fmt.Errorf("min hops must be at least 2")
	}
	if p.MaxHops > 10 || p.MaxHops < p.MinHops {
		return fmt.Errorf("max hops must be between min hops and 10")
	}
	if p.MaxTokenPathsPerHop <= 0 {
		return fmt.Errorf("max token paths per hop must be positive")
	}
	if p.TopVenueCount <= 0 {
		return fmt.Errorf("top venue count must be positive")
	}
	if p.PerAssetQuota <= 0 {
		return fmt.Errorf("per asset quota must be positive")
	}
	if p.PathsPerCycle <= 0 {
		return fmt.Errorf("paths per cycle must be positive")
	}
	if p.HopWeight <= 0 {
		return fmt.Errorf("hop weight must be positive")
	}
	return nil
}

func (p *PricingConfig) Validate() error {
	if p.CacheTTL <= 0 {
		return fmt.Errorf("cache ttl must be positive")
	}
	if p.CacheSize <= 0 {
		return fmt.Errorf("cache size must be positive")
	}
	if !p.ReferenceAmount.IsPositive() {
		return fmt.Errorf("reference amount must be positive")
	}
	if p.MaxConcurrent <= 0 {
		return fmt.Errorf("max concurrent must be positive")
	}
	return p.RateLimit.Validate()
}

func (r *RateLimitConfig) Validate() error {
	if r.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive")
	}
	if r.BurstSize <= 0 {
		return fmt.Errorf("burst size must be positive")
	}
	if r.WaitTimeout <= 0 {
		return fmt.Errorf("wait timeout must be positive")
	}
	return nil
}

func (s *ScannerConfig) Validate() error {
	if !s.MaxPriceImpact.IsPositive() {
		return fmt.Errorf("max price impact must be positive")
	}
	if s.MaxConcurrent <= 0 {
		return fmt.Errorf("max concurrent must be positive")
	}
	if s.FlashLoanFeeBps >= 10000 {
		return fmt.Errorf("flash loan fee must be below 10000 bps")
	}
	if !s.Loan.DefaultBaseAmount.IsPositive() {
		return fmt.Errorf("default base loan amount must be positive")
	}
	if s.Loan.MinLiquidityScale <= 0 || s.Loan.MaxLiquidityScale < s.Loan.MinLiquidityScale {
		return fmt.Errorf("liquidity scale bounds are invalid")
	}
	if s.GasUnits.PerHop == 0 {
		return fmt.Errorf("per hop gas units must be positive")
	}
	return nil
}

func (e *ExecutionConfig) Validate() error {
	if e.MaxGasPrice == nil || e.MaxGasPrice.Sign() <= 0 {
		return fmt.Errorf("max gas price must be positive")
	}
	if e.MinGasReserve.IsNegative() {
		return fmt.Errorf("min gas reserve cannot be negative")
	}
	if e.SlippageBufferBps >= 10000 {
		return fmt.Errorf("slippage buffer must be below 10000 bps")
	}
	if e.Deadline <= 0 {
		return fmt.Errorf("deadline must be positive")
	}
	if e.ReceiptTimeout <= 0 {
		return fmt.Errorf("receipt timeout must be positive")
	}
	if e.GasLimitMultiplier < 1 {
		return fmt.Errorf("gas limit multiplier must be at least 1")
	}
	if e.TopOpportunities <= 0 {
		return fmt.Errorf("top opportunities must be positive")
	}
	return nil
}

func (o *OrchestratorConfig) Validate() error {
	if o.ScanInterval <= 0 || o.MinScanInterval <= 0 {
		return fmt.Errorf("scan intervals must be positive")
	}
	if o.MaxScanInterval < o.ScanInterval || o.ScanInterval < o.MinScanInterval {
		return fmt.Errorf("scan interval must lie between min and max")
	}
	return o.CircuitBreaker.Validate()
}

func (c *CircuitBreakerConfig) Validate() error {
	if c.ErrorThreshold <= 0 {
		return fmt.Errorf("error threshold must be positive")
	}
	if c.BaseBackoff <= 0 {
		return fmt.Errorf("base backoff must be positive")
	}
	if c.MaxBackoff < c.BaseBackoff {
		return fmt.Errorf("max backoff must not be below base backoff")
	}
	return nil
}

// LoadConfig reads the JSON config over the defaults, then applies .env and
// environment overrides before validating.
func LoadConfig(cfgFile string) (*Config, error) {
	if cfgFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		cfgFile = filepath.Join(home, ".cyclearb.json")
	}

	config := DefaultConfig()

	file, err := os.Open(cfgFile)
	switch {
	case err == nil:
		defer file.Close()
		if err := json.NewDecoder(file).Decode(config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		// defaults plus environment
	default:
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	if err := LoadEnv(); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}

	if err := config.ValidateConfig(); err != nil {
		return nil, err
	}

	return config, nil
}

func applyEnvOverrides(c *Config) error {
	c.RPCEndpoint = getEnvWithDefault(EnvRPCEndpoint, c.RPCEndpoint)
	c.RegistryFile = getEnvWithDefault(EnvRegistryFile, c.RegistryFile)
	c.Store.RedisAddr = getEnvWithDefault(EnvRedisAddr, c.Store.RedisAddr)
	c.Store.RedisPassword = getEnvWithDefault(EnvRedisPassword, c.Store.RedisPassword)
	c.Store.JournalPath = getEnvWithDefault(EnvJournalPath, c.Store.JournalPath)
	c.Log.Dir = getEnvWithDefault(EnvLogDir, c.Log.Dir)
	c.Log.Level = getEnvWithDefault(EnvLogLevel, c.Log.Level)

	if v := os.Getenv(EnvChainID); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid chain ID: %w", err)
		}
		c.ChainID = id
	}
	if v := os.Getenv(EnvSettlementAddress); v != "" {
		if !common.IsHexAddress(v) {
			return fmt.Errorf("invalid settlement address %q", v)
		}
		c.SettlementAddress = common.HexToAddress(v)
	}
	if v := os.Getenv(EnvDryRun); v != "" {
		dry, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid dry run flag: %w", err)
		}
		c.Execution.DryRun = dry
	}
	return nil
}

func LoadSecureConfig() (*SecureConfig, error) {
	privateKey, err := GetRequiredEnv(EnvPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("private key not found: %w", err)
	}

	return &SecureConfig{
		PrivateKey: strings.TrimPrefix(privateKey, "0x"),
	}, nil
}

func SaveConfig(cfg *Config, cfgFile string) error {
	if cfgFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		cfgFile = filepath.Join(home, ".cyclearb.json")
	}

	file, err := os.Create(cfgFile)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "    ")
	return encoder.Encode(cfg)
}

func DefaultConfig() *Config {
	return &Config{
		ChainID:      56,
		RPCEndpoint:  "http://localhost:8545",
		RegistryFile: "registry.yaml",
		Paths: PathConfig{
			MinHops:             2,
			MaxHops:             10,
			MaxTokenPathsPerHop: 250,
			TopVenueCount:       3,
			MinLiquidityScore:   40,
			PerAssetQuota:       400,
			PathsPerCycle:       40,
			BaseScore:           50,
			HighLiquidityBonus:  10,
			NativeBonus:         15,
			MultiStableBonus:    10,
			LongPathPenalty:     5,
			LongPathThreshold:   6,
			HopWeight:           1.0,
			VenueWeight:         0.5,
			ConcentratedWeight:  0.75,
		},
		Pricing: PricingConfig{
			CacheTTL:        5 * time.Second,
			CacheSize:       10000,
			ReferenceAmount: decimal.RequireFromString("0.1"),
			MaxConcurrent:   8,
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 20,
				BurstSize:         5,
				WaitTimeout:       time.Second * 5,
			},
		},
		Scanner: ScannerConfig{
			MaxPriceImpact:  decimal.NewFromInt(2),
			MaxConcurrent:   5,
			BatchPacing:     100 * time.Millisecond,
			SlippageFactor:  decimal.RequireFromString("0.5"),
			FlashLoanFeeBps: 9, // 0.09%
			Loan: LoanConfig{
				BaseAmounts:             map[string]decimal.Decimal{},
				DefaultBaseAmount:       decimal.NewFromInt(10),
				ShortPathHops:           3,
				ShortPathMultiplier:     decimal.NewFromInt(2),
				LongPathHops:            6,
				LongPathMultiplier:      decimal.RequireFromString("0.5"),
				ReferenceLiquidityScore: 70,
				MinLiquidityScale:       0.5,
				MaxLiquidityScale:       2.0,
			},
			GasUnits: GasUnitsConfig{
				PerHop:             120000,
				ExtraHop:           30000,
				FlashLoanOverhead:  80000,
				ValidationOverhead: 20000,
				ConcentratedHop:    40000,
			},
		},
		Execution: ExecutionConfig{
			MinGasReserve:      decimal.RequireFromString("0.05"),
			MaxGasPrice:        big.NewInt(20000000000), // 20 Gwei
			MinROI:             decimal.RequireFromString("0.1"),
			SlippageBufferBps:  50,
			Deadline:           5 * time.Minute,
			ReceiptTimeout:     2 * time.Minute,
			GasLimitMultiplier: 1.2,
			TopOpportunities:   3,
		},
		Orchestrator: OrchestratorConfig{
			ScanInterval:        2 * time.Second,
			MinScanInterval:     500 * time.Millisecond,
			MaxScanInterval:     30 * time.Second,
			IncreaseFactor:      1.5,
			DecreaseFactor:      0.8,
			HighOpportunityRate: 0.05,
			LowOpportunityRate:  0.01,
			MinScansForDecrease: 50,
			CircuitBreaker: CircuitBreakerConfig{
				ErrorThreshold: 5,
				BaseBackoff:    time.Second,
				MaxBackoff:     30 * time.Second,
			},
		},
		Metrics: MetricsConfig{
			PrometheusEndpoint: ":9102",
			Namespace:          "cyclearb",
		},
		Store: StoreConfig{
			RedisPrefix: "cyclearb",
			BoardTTL:    time.Minute,
		},
		Log: LogConfig{
			Level:     "info",
			Dir:       "logs",
			File:      "cyclearb.log",
			ErrorFile: "cyclearb-error.log",
		},
	}
}

func getEnvWithDefault(key string, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func GetRequiredEnv(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("required environment variable %s not set", key)
	}
	return value, nil
}
