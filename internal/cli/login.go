package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nanome-ai/plugin-vault/internal/keyring"
)

func newLoginCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "login [token]",
		Short: "Store a bearer token for the server in the OS keyring",
		Long:  `Stores a bearer token for --server in the OS keyring. Without an argument the token is read from the terminal. Folder keys are never stored.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var token string
			if len(args) == 1 {
				token = args[0]
			} else {
				var err error
				if token, err = a.prompt("Token: "); err != nil {
					return err
				}
			}
			token = strings.TrimSpace(token)
			if token == "" {
				return fmt.Errorf("empty token")
			}
			if err := keyring.SaveToken(a.serverKey(), token); err != nil {
				return fmt.Errorf("save token: %w", err)
			}
			a.success("Logged in to %s", a.serverKey())
			return nil
		},
	}
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored token for the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := keyring.DeleteToken(a.serverKey()); err != nil {
				return fmt.Errorf("delete token: %w", err)
			}
			a.success("Logged out of %s", a.serverKey())
			return nil
		},
	}
}
