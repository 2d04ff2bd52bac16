package devices

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/threatwatch/internal/capture"
)

// Command creates the command that lists capture devices.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio capture devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := capture.ListDevices()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(devices) == 0 {
				fmt.Fprintln(w, "no capture devices found")
				return nil
			}
			for _, d := range devices {
				marker := " "
				if d.Default {
					marker = "*"
				}
				fmt.Fprintf(w, "%s %2d  %s  [%s]\n", marker, d.Index, d.Name, d.ID)
			}
			return nil
		},
	}
}
