package cmd

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/michaelpento.lv/cyclearb/config"
	"github.com/michaelpento.lv/cyclearb/store"
)

var journalLimit int

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Show recent settlement outcomes and realized profit per asset",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(cfgFile)
		if err != nil {
			return err
		}
		if cfg.Store.JournalPath == "" {
			return fmt.Errorf("no journal configured")
		}
		j, err := store.OpenJournal(cfg.Store.JournalPath)
		if err != nil {
			return err
		}
		defer j.Close()

		recent, err := j.Recent(cmd.Context(), journalLimit)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SUBMITTED\tASSET\tPATH\tRESULT\tPROFIT\tTX")
		for _, r := range recent {
			outcome := "ok"
			switch {
			case r.DryRun:
				outcome = "dry-run"
			case !r.Success:
				outcome = string(r.Reason)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				r.SubmittedAt.Format("2006-01-02 15:04:05"), r.Asset, r.PathID, outcome,
				r.RealizedProfit.String(), r.TxHash.Hex())
		}
		if err := w.Flush(); err != nil {
			return err
		}

		profits, err := j.ProfitByAsset(cmd.Context())
		if err != nil {
			return err
		}
		assets := make([]string, 0, len(profits))
		for a := range profits {
			assets = append(assets, a)
		}
		sort.Strings(assets)
		fmt.Println("\nRealized profit:")
		for _, a := range assets {
			fmt.Printf("  %-6s %s\n", a, profits[a].String())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.Flags().IntVar(&journalLimit, "limit", 20, "number of recent settlements to show")
}
