package cmd

import (
	"context"

	"github.com/michaelpento.lv/cyclearb/config"
	"github.com/michaelpento.lv/cyclearb/utils"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "cyclearb",
	Short: "A flash-loan cyclic arbitrage scanner",
	Long: `cyclearb enumerates circular trading paths across the configured DEX venues,
prices them from a shared quote snapshot and settles profitable cycles through
a flash-loan settlement contract.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.cyclearb.json)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func initConfig() {
	utils.InitLogger(debug)
}

// loadConfig reads the configuration and moves logging onto its files.
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	log, err := utils.ConfigureLogger(cfg.Log, debug)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}
