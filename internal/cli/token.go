package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nanome-ai/plugin-vault/internal/auth"
)

func newTokenCmd(a *app) *cobra.Command {
	var (
		secret string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <account>",
		Short: "Mint a bearer token for an account folder",
		Long:  `Signs a bearer token for an account folder such as user-0a1b2c3d with the server's JWT secret. The token is printed on stdout.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return fmt.Errorf("a signing secret is required (use --secret or $JWT_SECRET)")
			}
			token, expires, err := auth.New(secret, "").IssueToken(args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, token)
			fmt.Fprintf(a.errOut, "%s expires %s\n", okMark(), expires.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "JWT signing secret")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTokenTTL, "token lifetime")
	return cmd
}
