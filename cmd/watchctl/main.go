package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/PurgingPanda/vinted-koopjes/internal/cli"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "watchctl",
		Short: "watchctl - operate the Vinted price watch service",
		Long: `watchctl is the operator CLI for the price monitoring service.
It runs one-off checks and cleanups, manages the session token and
inspects the upstream blocking state.`,
	}

	rootCmd.AddCommand(cli.CheckCmd())
	rootCmd.AddCommand(cli.CleanupCmd())
	rootCmd.AddCommand(cli.TokenCmd())
	rootCmd.AddCommand(cli.BlockingCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
