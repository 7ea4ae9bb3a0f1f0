package cli

import (
	"fmt"
	"strconv"

	"github.com/PurgingPanda/vinted-koopjes/internal/model"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// CheckCmd returns the check command
func CheckCmd() *cobra.Command {
	var configPath string
	var pages int

	cmd := &cobra.Command{
		Use:   "check [watch-id]",
		Short: "Run a monitoring check for one watch or all active watches",
		Long: `Fetch the latest catalog pages for the given watch (or every active
watch when no id is given), update the item index, recompute price
statistics and run underprice detection. Results are printed per watch.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := NewRuntime(configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			mon, _, err := rt.BuildMonitor()
			if err != nil {
				return err
			}

			var watches []model.Watch
			if len(args) == 1 {
				id, err := strconv.ParseUint(args[0], 10, 32)
				if err != nil {
					return fmt.Errorf("invalid watch id %q", args[0])
				}
				var watch model.Watch
				if err := rt.DB.Preload("User").First(&watch, uint(id)).Error; err != nil {
					return fmt.Errorf("watch %d not found", id)
				}
				watches = append(watches, watch)
			} else {
				if err := rt.DB.Preload("User").Where("is_active = ?", true).Order("id").Find(&watches).Error; err != nil {
					return fmt.Errorf("load watches: %w", err)
				}
			}
			if len(watches) == 0 {
				fmt.Println("No active watches.")
				return nil
			}

			maxPages := pages
			if maxPages <= 0 {
				maxPages = rt.Cfg.App.MaxPagesManual
			}

			failed := 0
			for i := range watches {
				w := &watches[i]
				fmt.Printf("Checking %s (watch %d)...\n", w.Name, w.ID)

				rec, err := mon.CheckWatch(cmd.Context(), w, maxPages)
				if err != nil {
					failed++
					fmt.Printf("  %s %v\n", color.New(color.FgRed).Sprint("FAILED:"), err)
					continue
				}

				line := fmt.Sprintf("  pages=%d items=%d new=%d alerts=%d (%.1fs)",
					rec.PagesFetched, rec.ItemsProcessed, rec.NewItemsFound,
					rec.AlertsGenerated, rec.DurationSeconds)
				if rec.AlertsGenerated > 0 {
					line += color.New(color.FgHiGreen).Sprint("  ← bargains found")
				}
				fmt.Println(line)
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d checks failed", failed, len(watches))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().IntVarP(&pages, "pages", "p", 0, "Max pages to fetch (default from config)")
	return cmd
}
