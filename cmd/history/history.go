package history

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/threatwatch/internal/analysis"
	"github.com/tphakala/threatwatch/internal/conf"
	"github.com/tphakala/threatwatch/internal/errors"
	incidents "github.com/tphakala/threatwatch/internal/history"
	"github.com/tphakala/threatwatch/internal/logger"
	"github.com/tphakala/threatwatch/internal/prototype"
)

// Command creates the command that lists recorded incidents.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		limit int
		since time.Duration
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent threat incidents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !settings.History.Enabled {
				return errors.Newf("incident history is disabled in config").
					Component("cmd").
					Category(errors.CategoryConfiguration).
					Build()
			}
			st, err := incidents.Open(&settings.History)
			if err != nil {
				return err
			}
			defer func() {
				if err := st.Close(); err != nil {
					incidents.GetLogger().Warn("failed to close history", logger.Error(err))
				}
			}()

			recent, err := st.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			counts, err := st.CountSince(cmd.Context(), time.Now().Add(-since))
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), recent, counts, since)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of incidents to list")
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "Window for the per-category totals")
	return cmd
}

func render(w io.Writer, recent []incidents.Incident, counts map[prototype.Category]int64, since time.Duration) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tCATEGORY\tLABEL\tSCORE\tDISTANCE\tDIRECTION")
	for _, in := range recent {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%.2f\t%s\n",
			in.DetectedAt.Local().Format(time.DateTime),
			in.Category,
			in.Label,
			in.Score,
			in.Distance,
			analysis.FormatDirection(in.Direction))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\nlast %s:", since)
	for _, c := range prototype.Categories {
		fmt.Fprintf(w, " %s %d", c, counts[c])
	}
	fmt.Fprintln(w)
	return nil
}
