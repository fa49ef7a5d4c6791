// cmd/food-log/sweep.go
package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"mcp-food-log/internal/analysis"
	"mcp-food-log/internal/metrics"
	"mcp-food-log/internal/sweep"
)

func newSweepCommand(cc *commandContext) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete analysis media older than the retention window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := cc.ensure()
			if err != nil {
				return err
			}
			if !cfg.Redis.Enabled {
				return errors.New("sweep needs the redis status store (set redis.enabled)")
			}

			store, closeStore, err := openJobStore(cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			blobs, err := openBlobStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			sweeper := sweep.New(store, blobs, cfg.Retention.Window,
				sweep.WithLogger(logger),
				sweep.WithMetrics(metrics.New()),
				sweep.WithPendingGrace(analysis.MaxRuntime(cfg.Model.Timeout)),
			)
			stats, err := sweeper.Run(cmd.Context(), dryRun)
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), stats); err != nil {
				return err
			}
			if len(stats.Errors) > 0 {
				return fmt.Errorf("sweep finished with %d errors", len(stats.Errors))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would be deleted without deleting")
	return cmd
}
