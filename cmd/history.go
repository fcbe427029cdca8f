package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/dashprobe/internal/observability"
	"github.com/xkilldash9x/dashprobe/internal/store"
)

func newHistoryCmd() *cobra.Command {
	var limit int

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recent verification runs from the run history database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return errors.New("database.url is not configured (set DASHPROBE_DATABASE_URL)")
			}

			st, cleanup, err := store.Connect(cmd.Context(), cfg.Database.URL, observability.GetLogger())
			if err != nil {
				return err
			}
			defer cleanup()

			runs, err := st.RecentRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STARTED\tRESULT\tTARGET\tDURATION\tDETAIL")
			for _, r := range runs {
				result, detail := "PASS", ""
				if !r.Passed {
					result, detail = "FAIL", r.FailureKind+": "+r.Reason
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					r.StartedAt.Local().Format(time.RFC3339), result, r.Target, r.Duration, detail)
			}
			return tw.Flush()
		},
	}
	historyCmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	return historyCmd
}
