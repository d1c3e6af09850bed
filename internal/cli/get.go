package cli

import (
	"fmt"
	"os"
	"path"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newGetCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "get <path>",
		Short: "Download a file",
		Long:  `Downloads a file from the vault. The file is written to --output, or to a file of the same name in the current directory. Use "-o -" for stdout.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rel := args[0]
			key, err := a.folderKey()
			if err != nil {
				return err
			}
			v, err := a.client()
			if err != nil {
				return err
			}

			stop := a.startSpinner("Downloading " + rel)
			data, err := v.GetFile(cmd.Context(), rel, key)
			stop()
			if err != nil {
				return fmt.Errorf("get %s: %w", rel, err)
			}

			if output == "-" {
				_, err := a.out.Write(data)
				return err
			}
			if output == "" {
				output = path.Base(rel)
			}
			if err := os.WriteFile(output, data, 0644); err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			a.success("Saved %s (%s)", output, humanize.IBytes(uint64(len(data))))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "destination file, - for stdout")
	return cmd
}
