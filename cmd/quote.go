package cmd

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/michaelpento.lv/cyclearb/cmd/bot"
	"github.com/michaelpento.lv/cyclearb/dex/uniswap"
	"github.com/michaelpento.lv/cyclearb/pricing"
	"github.com/michaelpento.lv/cyclearb/utils/metrics"
)

var quoteCmd = &cobra.Command{
	Use:   "quote <venue> <token-in> <token-out> <amount>",
	Short: "Fetch a single live quote and its price impact",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		venue, tokenIn, tokenOut := args[0], strings.ToUpper(args[1]), strings.ToUpper(args[2])
		amount, err := decimal.NewFromString(args[3])
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", args[3], err)
		}

		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		client, err := ethclient.DialContext(cmd.Context(), cfg.RPCEndpoint)
		if err != nil {
			return fmt.Errorf("failed to connect to node: %w", err)
		}
		defer client.Close()

		reg, venues, err := bot.LoadVenues(cfg.RegistryFile, uniswap.NewBackend(client))
		if err != nil {
			return err
		}
		log = log.Named("pricing")
		agg, err := pricing.NewAggregator(cfg.Pricing, venues, reg.Universe,
			metrics.NewPricingMetrics(metrics.NewRegistry(), cfg.Metrics.Namespace), log)
		if err != nil {
			return err
		}

		q, err := agg.Quote(cmd.Context(), venue, tokenIn, tokenOut, amount)
		if err != nil {
			return err
		}
		impact, err := agg.PriceImpact(cmd.Context(), venue, tokenIn, tokenOut, amount)
		if err != nil {
			return err
		}

		fmt.Printf("%s %s -> %s %s via %s on %s\n", q.AmountIn, q.TokenIn, q.AmountOut, q.TokenOut, strings.Join(q.Route, "/"), q.Venue)
		fmt.Printf("price:  %s %s per %s\n", q.Price, q.TokenOut, q.TokenIn)
		if q.FeeTier != 0 {
			fmt.Printf("tier:   %d\n", q.FeeTier)
		}
		fmt.Printf("impact: %s%%\n", impact.StringFixed(4))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(quoteCmd)
}
