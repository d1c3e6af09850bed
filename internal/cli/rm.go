package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a file or folder",
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
			if err := v.DeletePath(cmd.Context(), args[0], key); err != nil {
				return fmt.Errorf("delete %s: %w", args[0], err)
			}
			a.success("Deleted %s", args[0])
			return nil
		},
	}
}
