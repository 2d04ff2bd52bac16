package monitor

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/threatwatch/internal/analysis"
	"github.com/tphakala/threatwatch/internal/conf"
)

// Command creates the command for live monitoring from the sound card.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Listen on the sound card and raise threat alerts",
		Long: "Capture audio continuously, classify it every half second and alert on " +
			"gunshots and chainsaws. Send SIGHUP to reload the prototype file.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return analysis.Monitor(cmd.Context(), settings, cmd.OutOrStdout())
		},
	}

	if err := setupFlags(cmd); err != nil {
		panic(err)
	}
	return cmd
}

// setupFlags configures flags specific to the monitor command.
func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("device", "", "Capture device name or ID substring")
	cmd.Flags().Int("samplerate", 0, "Capture sample rate in Hz")
	cmd.Flags().Int("channels", 0, "Capture channels, 1 or 2")
	cmd.Flags().String("prototypes", "", "Prototype file from the enroll command")

	for key, name := range map[string]string{
		"capture.device":     "device",
		"capture.samplerate": "samplerate",
		"capture.channels":   "channels",
		"prototypes.path":    "prototypes",
	} {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", name, err)
		}
	}
	return nil
}
