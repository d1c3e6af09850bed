package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRenameCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <path> <new-name>",
		Short: "Rename a file or folder in place",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := a.folderKey()
			if err != nil {
				return err
			}
			v, err := a.client()
			if err != nil {
				return err
			}
			if err := v.RenamePath(cmd.Context(), args[0], args[1], key); err != nil {
				return fmt.Errorf("rename %s: %w", args[0], err)
			}
			a.success("Renamed %s to %s", args[0], args[1])
			return nil
		},
	}
}
