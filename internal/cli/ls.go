package cli

import (
	"fmt"
	"slices"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newLsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ls [path]",
		Short: "List a vault folder",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rel := ""
			if len(args) == 1 {
				rel = args[0]
			}
			key, err := a.folderKey()
			if err != nil {
				return err
			}
			v, err := a.client()
			if err != nil {
				return err
			}

			stop := a.startSpinner("Listing " + displayPath(rel))
			listing, err := v.ListPath(cmd.Context(), rel, key)
			stop()
			if err != nil {
				return fmt.Errorf("list %s: %w", displayPath(rel), err)
			}

			if listing.LockedPath != nil {
				fmt.Fprintf(a.out, "%s locked by %s\n", color.YellowString("🔒"), *listing.LockedPath)
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			for _, f := range listing.Folders {
				name := color.BlueString(f.Name + "/")
				if slices.Contains(listing.Locked, f.Name) {
					name += " " + color.YellowString("[locked]")
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", name, f.SizeText, f.CreatedText)
			}
			for _, f := range listing.Files {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", f.Name, f.SizeText, f.CreatedText)
			}
			return tw.Flush()
		},
	}
}

func displayPath(rel string) string {
	if rel == "" {
		return "/"
	}
	return rel
}
