package analyze

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/threatwatch/internal/analysis"
	"github.com/tphakala/threatwatch/internal/conf"
)

// Command creates the command that plays an audio file through the detector.
func Command(settings *conf.Settings) *cobra.Command {
	var opts analysis.FileOptions

	cmd := &cobra.Command{
		Use:   "analyze <file>",
		Short: "Run an audio file through the detector",
		Long: "Play a WAV or FLAC file through the full detection pipeline, print each " +
			"inference cycle and a summary. Alerts and history behave as in monitor mode.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := analysis.AnalyzeFile(cmd.Context(), settings, args[0], opts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), analysis.FormatSummary(sum))
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.Realtime, "realtime", false, "Pace playback at the file's sample rate")
	return cmd
}
