package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/michaelpento.lv/cyclearb/cmd/bot"
	"github.com/michaelpento.lv/cyclearb/dex/uniswap"
	"github.com/michaelpento.lv/cyclearb/paths"

	"github.com/spf13/cobra"
)

var showTop int

var pathsCmd = &cobra.Command{
	Use:   "paths",
	Short: "Generate the path set offline and summarise it per asset and hop band",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		// quoting never runs here, so the backend needs no chain connection
		reg, venues, err := bot.LoadVenues(cfg.RegistryFile, uniswap.NewBackend(nil))
		if err != nil {
			return err
		}
		set, err := bot.GeneratePaths(cfg.Paths, reg, venues, log.Named("paths"))
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		header := "ASSET\tTOTAL"
		for _, b := range paths.Bands {
			header += fmt.Sprintf("\t%d-%d HOPS", b.Min, b.Max)
		}
		fmt.Fprintln(w, header)
		for _, symbol := range reg.Universe.Symbols() {
			ranked := set.ForAsset(symbol)
			if len(ranked) == 0 {
				continue
			}
			row := fmt.Sprintf("%s\t%d", symbol, len(ranked))
			for _, b := range paths.Bands {
				n := 0
				for _, p := range ranked {
					if b.Contains(p.Hops()) {
						n++
					}
				}
				row += fmt.Sprintf("\t%d", n)
			}
			fmt.Fprintln(w, row)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		all := set.All()
		if showTop > len(all) {
			showTop = len(all)
		}
		if showTop > 0 {
			fmt.Printf("\nTop %d of %d paths:\n", showTop, len(all))
			for _, p := range all[:showTop] {
				fmt.Printf("  %-60s liquidity=%.1f complexity=%.2f\n", p.String(), p.LiquidityScore, p.Complexity)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pathsCmd)
	pathsCmd.Flags().IntVar(&showTop, "top", 10, "number of top-ranked paths to print")
}
