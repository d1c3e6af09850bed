package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMkdirCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a folder and any missing parents",
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
			if err := v.CreatePath(cmd.Context(), args[0], key); err != nil {
				return fmt.Errorf("create %s: %w", args[0], err)
			}
			a.success("Created %s", args[0])
			return nil
		},
	}
}
