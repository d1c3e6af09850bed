package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var errInvalidKey = errors.New("key is not valid")

func newVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <path>",
		Short: "Check a key against the lock governing a path",
		Long:  `Checks whether the key opens the lock governing a path. Exits non-zero when it does not.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := a.folderKey()
			if err != nil {
				return err
			}
			v, err := a.client()
			if err != nil {
				return err
			}
			valid, err := v.IsKeyValid(cmd.Context(), args[0], key)
			if err != nil {
				return fmt.Errorf("verify %s: %w", args[0], err)
			}
			if !valid {
				return fmt.Errorf("%s: %w", args[0], errInvalidKey)
			}
			a.success("Key is valid for %s", args[0])
			return nil
		},
	}
}
