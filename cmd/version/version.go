package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/threatwatch/internal/buildinfo"
)

// Command creates the version command. It runs without loading config.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), buildinfo.Current())
		},
	}
}
