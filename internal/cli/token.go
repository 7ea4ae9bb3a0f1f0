package cli

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// TokenCmd returns the token command group
func TokenCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the Vinted session token",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	setCmd := &cobra.Command{
		Use:   "set <token>",
		Short: "Store a session token copied from the browser",
		Long: `Store the access_token_web cookie value. Open vinted.be in a browser,
copy the access_token_web cookie and paste it here. The token is cached
with a TTL and shared by all processes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := NewRuntime(configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.Tokens.Set(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println(color.New(color.FgGreen).Sprint("Token stored."))
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show token status and remaining TTL",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := NewRuntime(configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			ttl, err := rt.Tokens.TTL(cmd.Context())
			if err != nil {
				return err
			}
			if ttl == 0 {
				fmt.Println(color.New(color.FgYellow).Sprint("No token stored."))
				return nil
			}
			fmt.Printf("Token present, expires in %s.\n", ttl.Round(time.Second))
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove the stored token",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := NewRuntime(configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			if _, err := rt.Tokens.Refresh(cmd.Context()); err != nil {
				// Refresh 清缓存后总是返回 ErrNoToken，这里是预期路径
				fmt.Println("Token cleared.")
				return nil
			}
			return nil
		},
	}

	cmd.AddCommand(setCmd, showCmd, clearCmd)
	return cmd
}
