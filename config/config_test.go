package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.ValidateConfig())

	assert.Equal(t, 5*time.Second, cfg.Pricing.CacheTTL)
	assert.Equal(t, uint16(9), cfg.Scanner.FlashLoanFeeBps)
	assert.Equal(t, uint16(50), cfg.Execution.SlippageBufferBps)
	assert.Equal(t, 5, cfg.Orchestrator.CircuitBreaker.ErrorThreshold)
	assert.True(t, cfg.Scanner.MaxPriceImpact.Equal(decimal.NewFromInt(2)))
}

func TestValidateConfigCollectsErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ChainID = 0
	cfg.Paths.MaxHops = 11
	cfg.Orchestrator.CircuitBreaker.ErrorThreshold = 0

	err := cfg.ValidateConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")
	assert.Contains(t, err.Error(), "chain_id must be specified")
	assert.Contains(t, err.Error(), "max hops")
	assert.Contains(t, err.Error(), "error threshold")
}

func TestPathConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*PathConfig)
		want   string
	}{
		{"defaults", func(*PathConfig) {}, ""},
		{"negative top venue count", func(p *PathConfig) { p.TopVenueCount = -1 }, "top venue count"},
		{"zero top venue count", func(p *PathConfig) { p.TopVenueCount = 0 }, "top venue count"},
		{"min hops", func(p *PathConfig) { p.MinHops = 1 }, "min hops"},
		{"quota", func(p *PathConfig) { p.PerAssetQuota = 0 }, "per asset quota"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg.Paths)
			err := cfg.ValidateConfig()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLogConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*LogConfig)
		want   string
	}{
		{"defaults", func(*LogConfig) {}, ""},
		{"console only", func(l *LogConfig) { l.Dir, l.File, l.ErrorFile = "", "", "" }, ""},
		{"unknown level", func(l *LogConfig) { l.Level = "verbose" }, "invalid log level"},
		{"dir without files", func(l *LogConfig) { l.ErrorFile = "" }, "log file names"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg.Log)
			err := cfg.ValidateConfig()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "cyclearb.json")
	body := `{
		"chain_id": 97,
		"rpc_endpoint": "http://node:8545",
		"registry_file": "testnet.yaml",
		"scanner": {"max_price_impact": "1.5"},
		"execution": {"dry_run": true}
	}`
	require.NoError(t, os.WriteFile(cfgFile, []byte(body), 0o600))

	t.Setenv(EnvSettlementAddress, "0x00000000000000000000000000000000000000aa")

	cfg, err := LoadConfig(cfgFile)
	require.NoError(t, err)

	assert.Equal(t, uint64(97), cfg.ChainID)
	assert.Equal(t, "testnet.yaml", cfg.RegistryFile)
	assert.True(t, cfg.Scanner.MaxPriceImpact.Equal(decimal.RequireFromString("1.5")))
	assert.True(t, cfg.Execution.DryRun)
	assert.Equal(t, common.HexToAddress("0xaa"), cfg.SettlementAddress)
	// untouched sections keep defaults
	assert.Equal(t, 40, cfg.Paths.PathsPerCycle)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvChainID, "not-a-number")
	cfg := DefaultConfig()
	assert.Error(t, applyEnvOverrides(cfg))

	t.Setenv(EnvChainID, "1")
	t.Setenv(EnvDryRun, "true")
	t.Setenv(EnvRedisAddr, "localhost:6379")
	cfg = DefaultConfig()
	require.NoError(t, applyEnvOverrides(cfg))
	assert.Equal(t, uint64(1), cfg.ChainID)
	assert.True(t, cfg.Execution.DryRun)
	assert.Equal(t, "localhost:6379", cfg.Store.RedisAddr)
}

func TestLoadSecureConfig(t *testing.T) {
	t.Setenv(EnvPrivateKey, "")
	_, err := LoadSecureConfig()
	assert.Error(t, err)

	t.Setenv(EnvPrivateKey, "0xabc123")
	secure, err := LoadSecureConfig()
	require.NoError(t, err)
	assert.Equal(t, "abc123", secure.PrivateKey)
}
