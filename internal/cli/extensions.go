package cli

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newExtensionsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "extensions",
		Short: "List the file extensions accepted by upload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.client()
			if err != nil {
				return err
			}
			ext, err := v.ListSupportedExtensions(cmd.Context())
			if err != nil {
				return fmt.Errorf("list extensions: %w", err)
			}
			for _, group := range []struct {
				label string
				names []string
			}{
				{"supported", ext.Supported},
				{"extras", ext.Extras},
				{"converted", ext.Converted},
				{"external", ext.External},
			} {
				if len(group.names) == 0 {
					continue
				}
				fmt.Fprintf(a.out, "%s %s\n", color.CyanString(group.label+":"), strings.Join(group.names, " "))
			}
			return nil
		},
	}
}
