package cli

import (
	"fmt"
	"strconv"

	"github.com/PurgingPanda/vinted-koopjes/internal/monitor"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// BlockingCmd returns the blocking command group
func BlockingCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "blocking",
		Short: "Inspect and manage upstream blocking state",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current blocking state",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := NewRuntime(configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			tracker, err := monitor.NewBlockingTracker(rt.DB, rt.Logger,
				rt.Cfg.App.CheckInterval, rt.Cfg.App.BlockedCheckInterval)
			if err != nil {
				return err
			}

			state := tracker.State()
			if state.IsBlocked {
				fmt.Println(color.New(color.FgRed, color.Bold).Sprint("Status: BLOCKED"))
				if state.BlockedSince != nil {
					fmt.Printf("Blocked since:        %s\n", state.BlockedSince.Format("2006-01-02 15:04:05"))
				}
			} else {
				fmt.Println(color.New(color.FgGreen).Sprint("Status: OK"))
			}
			fmt.Printf("Consecutive failures: %d\n", state.ConsecutiveFailures)
			fmt.Printf("Last checked:         %s\n", state.LastCheckedAt.Format("2006-01-02 15:04:05"))
			if state.LastSuccessAt != nil {
				fmt.Printf("Last success:         %s\n", state.LastSuccessAt.Format("2006-01-02 15:04:05"))
			}
			fmt.Printf("Check interval:       %s\n", tracker.CheckInterval())
			if state.CanaryWatchID != nil {
				fmt.Printf("Canary watch:         %d\n", *state.CanaryWatchID)
			} else {
				fmt.Println("Canary watch:         (auto: oldest active)")
			}
			return nil
		},
	}

	canaryCmd := &cobra.Command{
		Use:   "canary <watch-id>",
		Short: "Pin the canary watch used to probe recovery while blocked",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := NewRuntime(configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			id64, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid watch id %q", args[0])
			}

			tracker, err := monitor.NewBlockingTracker(rt.DB, rt.Logger,
				rt.Cfg.App.CheckInterval, rt.Cfg.App.BlockedCheckInterval)
			if err != nil {
				return err
			}

			id := uint(id64)
			if err := tracker.SetCanary(cmd.Context(), &id); err != nil {
				return err
			}
			fmt.Printf("Canary watch set to %d.\n", id)
			return nil
		},
	}

	cmd.AddCommand(showCmd, canaryCmd)
	return cmd
}
