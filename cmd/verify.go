package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/dashprobe/internal/observability"
	"github.com/xkilldash9x/dashprobe/internal/reporting"
	"github.com/xkilldash9x/dashprobe/internal/runner"
	"github.com/xkilldash9x/dashprobe/internal/store"
)

// ErrVerificationFailed is returned when at least one run did not reach the
// authenticated view. The per-run detail has already been printed.
var ErrVerificationFailed = errors.New("login verification failed")

// runnerOptions lets tests substitute the browser launcher.
var runnerOptions []runner.Option

func newVerifyCmd() *cobra.Command {
	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Run the login verification workflow against a dashboard",
		Long: `Launches a fresh headless browser per run, loads the dashboard, signs in with
the credentials from TEST_USER/TEST_PASS and waits for the authenticated view.
Exits non-zero if any run fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			if err := cfg.ValidateForVerify(); err != nil {
				return err
			}

			opts := []runner.Option{}
			if cfg.Report.Path != "" {
				reporter, rerr := reporting.New(cfg.Report.Format, cfg.Report.Path, Version)
				if rerr != nil {
					return rerr
				}
				// The document is encoded on Close; a report that cannot be written fails the command.
				defer func() {
					if cerr := reporter.Close(); cerr != nil {
						logger.Error("Failed to finalize report.", zap.Error(cerr))
						if err == nil {
							err = fmt.Errorf("failed to write report: %w", cerr)
						}
					}
				}()
				opts = append(opts, runner.WithReporter(reporter))
			}

			if cfg.Database.URL != "" {
				st, cleanup, err := store.Connect(ctx, cfg.Database.URL, logger)
				if err != nil {
					logger.Warn("Run history disabled: database unavailable.", zap.Error(err))
				} else {
					defer cleanup()
					if err := st.Migrate(ctx); err != nil {
						logger.Warn("Run history disabled: schema migration failed.", zap.Error(err))
					} else {
						opts = append(opts, runner.WithRecorder(st))
					}
				}
			}

			if cfg.Browser.IgnoreTLSErrors {
				logger.Warn("TLS certificate validation is disabled for the target.")
			}

			r, err := runner.New(runner.OptionsFromConfig(cfg), logger, append(opts, runnerOptions...)...)
			if err != nil {
				return err
			}
			summary, err := r.Run(ctx)
			if err != nil {
				return err
			}

			printSummary(cmd.OutOrStdout(), summary)
			if !summary.Passed() {
				return ErrVerificationFailed
			}
			return nil
		},
	}

	verifyCmd.Flags().String("target", "", "dashboard base URL, e.g. https://3.92.21.45")
	verifyCmd.Flags().Int("runs", 1, "number of independent runs")
	verifyCmd.Flags().Int("parallel", 1, "maximum concurrent browser sessions")
	verifyCmd.Flags().String("report", "", "write a run report to this path (\"stdout\" for standard output)")
	verifyCmd.Flags().String("format", "json", "report format: json or yaml")
	verifyCmd.Flags().Bool("ignore-tls-errors", false, "accept self-signed or otherwise invalid certificates")
	verifyCmd.Flags().Bool("headless", true, "run the browser without a window")
	verifyCmd.Flags().String("chrome", "", "path to the Chrome/Chromium binary")
	return verifyCmd
}

func printSummary(w io.Writer, summary *runner.Summary) {
	for i, rep := range summary.Reports {
		if rep.Passed() {
			fmt.Fprintf(w, "PASS run %d (%s) %s in %s\n", i+1, rep.RunID, rep.Target, rep.Duration().Round(time.Millisecond))
			continue
		}
		f := rep.Failure
		fmt.Fprintf(w, "FAIL run %d (%s) %s: %s\n", i+1, rep.RunID, rep.Target, f.Error())
	}
	fmt.Fprintf(w, "%d/%d runs passed\n", len(summary.Reports)-summary.Failures(), len(summary.Reports))
}
