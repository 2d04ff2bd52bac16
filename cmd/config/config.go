package config

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/threatwatch/internal/conf"
)

// Command creates the config command group.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or export the effective configuration",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "path",
			Short: "Print the config file in use",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				path := viper.ConfigFileUsed()
				if path == "" {
					var err error
					if path, err = conf.FindConfigFile(); err != nil {
						return err
					}
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
				return nil
			},
		},
		&cobra.Command{
			Use:   "save <file>",
			Short: "Write the effective settings, flags and environment included, to a YAML file",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := conf.SaveYAMLConfig(args[0], settings); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "settings written to %s\n", args[0])
				return nil
			},
		},
	)
	return cmd
}
