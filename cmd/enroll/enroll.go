package enroll

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/threatwatch/internal/analysis"
	"github.com/tphakala/threatwatch/internal/conf"
)

// Command creates the command that builds custom prototypes.
func Command(settings *conf.Settings) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "enroll <dir>",
		Short: "Build custom threat prototypes from example recordings",
		Long: "Read recordings from the gunshot/ and chainsaw/ subdirectories of <dir>, " +
			"embed each file with the classifier and save one prototype per file.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := analysis.Enroll(cmd.Context(), settings, args[0], output)
			if err != nil {
				return err
			}
			out := output
			if out == "" {
				out = settings.Prototypes.Path
			}
			fmt.Fprint(cmd.OutOrStdout(), analysis.FormatReport(report, out))
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Prototype file to write (default: prototypes.path from config)")
	return cmd
}
