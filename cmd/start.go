package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/michaelpento.lv/cyclearb/cmd/bot"
	"github.com/michaelpento.lv/cyclearb/config"
	"github.com/michaelpento.lv/cyclearb/utils"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var dryRun bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the scan loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		defer utils.CleanupLogger()

		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		if dryRun {
			cfg.Execution.DryRun = true
		}
		secure, err := config.LoadSecureConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		b, err := bot.New(ctx, cfg, secure, log)
		if err != nil {
			return err
		}
		defer b.Close()

		go watchReload(ctx, b, log)

		err = b.Run(ctx)
		stats := b.Stats()
		log.Info("Scan loop finished",
			zap.String("state", stats.State),
			zap.Uint64("cycles", stats.Cycles),
			zap.Uint64("opportunities", stats.Opportunities),
			zap.Uint64("successes", stats.Successes))
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

// watchReload reloads the registry on SIGHUP until ctx is done.
func watchReload(ctx context.Context, b *bot.Bot, log *zap.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := b.Reload(); err != nil {
				log.Error("Registry reload rejected", zap.Error(err))
			}
		}
	}
}

func init() {
	rootCmd.AddCommand(startCmd)
	startCmd.Flags().BoolVar(&dryRun, "dry-run", false, "log opportunities instead of submitting settlements")
}
