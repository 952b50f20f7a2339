package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/michaelpento.lv/cyclearb/config"
	"github.com/michaelpento.lv/cyclearb/market"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SaveConfig(config.DefaultConfig(), cfgFile); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
		fmt.Println("Default configuration written")
		return nil
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Load and validate the configuration and registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(cfgFile)
		if err != nil {
			return err
		}
		fmt.Printf("chain id:    %d\n", cfg.ChainID)
		fmt.Printf("rpc:         %s\n", cfg.RPCEndpoint)
		fmt.Printf("settlement:  %s\n", cfg.SettlementAddress.Hex())
		fmt.Printf("registry:    %s\n", cfg.RegistryFile)
		fmt.Printf("dry run:     %t\n", cfg.Execution.DryRun)

		reg, err := market.LoadRegistry(cfg.RegistryFile)
		if err != nil {
			return err
		}
		fmt.Printf("assets:      %d\n", reg.Universe.Len())
		fmt.Printf("venues:      %d enabled\n", len(reg.EnabledVenues()))
		fmt.Printf("pairs:       %d\n", len(reg.Graph.Pairs()))
		if _, err := config.LoadSecureConfig(); err != nil {
			fmt.Printf("signing key: missing (%v)\n", err)
		} else {
			fmt.Println("signing key: present")
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd, configCheckCmd)
	rootCmd.AddCommand(configCmd)
}
