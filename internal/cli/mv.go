package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMvCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mv <path> <folder>",
		Short: "Move a file or folder into another folder",
		Long:  `Moves a file or folder into another folder. Use "/" as the folder to move to the vault root. Items cannot cross a lock boundary.`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			folder := args[1]
			if folder == "/" {
				folder = ""
			}
			key, err := a.folderKey()
			if err != nil {
				return err
			}
			v, err := a.client()
			if err != nil {
				return err
			}
			if err := v.MovePath(cmd.Context(), args[0], folder, key); err != nil {
				return fmt.Errorf("move %s: %w", args[0], err)
			}
			a.success("Moved %s to %s", args[0], displayPath(folder))
			return nil
		},
	}
}
