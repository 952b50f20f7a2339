package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// Environment variables
const (
	EnvRPCEndpoint       = "CYCLEARB_RPC_ENDPOINT"
	EnvChainID           = "CYCLEARB_CHAIN_ID"
	EnvSettlementAddress = "CYCLEARB_SETTLEMENT_ADDRESS"
	EnvRegistryFile      = "CYCLEARB_REGISTRY"
	EnvRedisAddr         = "CYCLEARB_REDIS_ADDR"
	EnvRedisPassword     = "CYCLEARB_REDIS_PASSWORD"
	EnvJournalPath       = "CYCLEARB_JOURNAL_PATH"
	EnvDryRun            = "CYCLEARB_DRY_RUN"
	EnvLogDir            = "CYCLEARB_LOG_DIR"
	EnvLogLevel          = "CYCLEARB_LOG_LEVEL"
	EnvPrivateKey        = "CYCLEARB_PRIVATE_KEY"
)

// LoadEnv loads environment variables from a .env file when one exists
func LoadEnv(files ...string) error {
	err := godotenv.Load(files...)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// GetEnvWithDefault gets an environment variable with a default value
func GetEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
