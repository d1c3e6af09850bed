package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLockCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "lock <folder>",
		Short: "Encrypt a folder with a key",
		Long:  `Encrypts every file below a folder. The key is needed for any later access and cannot be recovered if lost.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := a.requireKey()
			if err != nil {
				return err
			}
			if a.askKey {
				again, err := a.prompt("Repeat key: ")
				if err != nil {
					return err
				}
				if again != key {
					return fmt.Errorf("keys do not match")
				}
			}
			v, err := a.client()
			if err != nil {
				return err
			}

			stop := a.startSpinner("Locking " + args[0])
			err = v.EncryptFolder(cmd.Context(), args[0], key)
			stop()
			if err != nil {
				return fmt.Errorf("lock %s: %w", args[0], err)
			}
			a.success("Locked %s", args[0])
			return nil
		},
	}
}

func newUnlockCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock <folder>",
		Short: "Decrypt a locked folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := a.requireKey()
			if err != nil {
				return err
			}
			v, err := a.client()
			if err != nil {
				return err
			}

			stop := a.startSpinner("Unlocking " + args[0])
			err = v.DecryptFolder(cmd.Context(), args[0], key)
			stop()
			if err != nil {
				return fmt.Errorf("unlock %s: %w", args[0], err)
			}
			a.success("Unlocked %s", args[0])
			return nil
		},
	}
}
