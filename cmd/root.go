package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/threatwatch/cmd/analyze"
	"github.com/tphakala/threatwatch/cmd/config"
	"github.com/tphakala/threatwatch/cmd/devices"
	"github.com/tphakala/threatwatch/cmd/enroll"
	"github.com/tphakala/threatwatch/cmd/history"
	"github.com/tphakala/threatwatch/cmd/monitor"
	"github.com/tphakala/threatwatch/cmd/version"
	"github.com/tphakala/threatwatch/internal/buildinfo"
	"github.com/tphakala/threatwatch/internal/conf"
	"github.com/tphakala/threatwatch/internal/logger"
	"github.com/tphakala/threatwatch/internal/telemetry"
)

// flushTimeout bounds the Sentry flush on exit.
const flushTimeout = 2 * time.Second

// RootCommand creates and returns the root command. Settings are loaded into
// settings once flags are parsed, before any subcommand runs.
func RootCommand(settings *conf.Settings) *cobra.Command {
	var central *logger.CentralLogger

	rootCmd := &cobra.Command{
		Use:           conf.AppName,
		Short:         "Acoustic gunshot and chainsaw monitor",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	if err := setupFlags(rootCmd); err != nil {
		panic(err)
	}

	versionCmd := version.Command()
	rootCmd.AddCommand(
		monitor.Command(settings),
		analyze.Command(settings),
		enroll.Command(settings),
		devices.Command(),
		history.Command(settings),
		config.Command(settings),
		versionCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		loaded, err := conf.Load()
		if err != nil {
			return err
		}
		*settings = *loaded

		central, err = logger.NewCentralLogger(settings.LoggingConfig())
		if err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		logger.SetGlobal(central)

		return telemetry.Init(&settings.Sentry, buildinfo.Current())
	}

	rootCmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		telemetry.Flush(flushTimeout)
		return central.Close()
	}

	return rootCmd
}

// setupFlags defines the global flags and binds them into viper
func setupFlags(rootCmd *cobra.Command) error {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Path to config.yaml (default: search the standard locations)")
	flags.BoolP("debug", "d", false, "Enable debug output")
	flags.String("model", "", "Path to a local .tflite model, skipping the download")

	for key, name := range map[string]string{
		"config":     "config",
		"debug":      "debug",
		"model.path": "model",
	} {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", name, err)
		}
	}
	return nil
}
