package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/PurgingPanda/vinted-koopjes/internal/model"
	"github.com/PurgingPanda/vinted-koopjes/internal/monitor"

	"github.com/spf13/cobra"
)

// CleanupCmd returns the cleanup command
func CleanupCmd() *cobra.Command {
	var configPath string
	var grace time.Duration

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Deactivate stale items and delete orphans",
		Long: `Mark items that have not appeared in any fetch within the grace
period as inactive, then delete inactive items that are no longer
linked to any watch.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := NewRuntime(configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			if grace <= 0 {
				grace = rt.Cfg.App.ItemGracePeriod
			}

			indexer := monitor.NewIndexer(rt.DB, rt.Logger)
			cleaner := monitor.NewCleaner(rt.DB, rt.Logger, indexer)
			recorder := monitor.NewActivityRecorder(rt.DB, rt.Logger)

			return recorder.Track(cmd.Context(), model.TaskTypeCleanup, nil,
				func(ctx context.Context, rec *model.ActivityRecord) error {
					result, err := cleaner.Run(ctx, grace)
					if err != nil {
						return err
					}
					fmt.Printf("Deactivated %d stale items, deleted %d orphans.\n",
						result.Deactivated, result.Deleted)
					return nil
				})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().DurationVar(&grace, "grace", 0, "Grace period (default from config)")
	return cmd
}
