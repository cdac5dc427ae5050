package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/retailpulse/harvester/internal/app"
	"github.com/retailpulse/harvester/internal/config"
	"github.com/retailpulse/harvester/internal/logging"
)

// newRunCmd creates the command that runs the scrape pipeline until
// interrupted.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scrape pipeline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}

			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize application: %w", err)
			}
			defer a.Close()

			if err := a.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			logger.Info("harvester stopped", zap.String("scraper", cfg.Scraper.Name))
			return nil
		},
	}
}
