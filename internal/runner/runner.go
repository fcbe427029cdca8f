// Package runner executes one or more independent login verification runs,
// each in its own browser session, and hands the results to reporting and
// run history.
package runner

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/dashprobe/internal/browser"
	"github.com/xkilldash9x/dashprobe/internal/outcome"
	"github.com/xkilldash9x/dashprobe/internal/workflow"
)

// SessionFunc opens a session for cfg, calls fn with it and tears the
// session down on every path.
type SessionFunc func(ctx context.Context, cfg browser.SessionConfig, logger *zap.Logger, fn func(workflow.Driver) error) error

// Reporter receives each finished run.
type Reporter interface {
	Write(report *workflow.Report) error
}

// Recorder persists run history. *store.Store implements it.
type Recorder interface {
	SaveRun(ctx context.Context, report *workflow.Report) error
}

// Summary is the outcome of all runs, in run order.
type Summary struct {
	Reports []*workflow.Report
}

// Passed reports whether every run reached the authenticated view.
func (s *Summary) Passed() bool {
	if len(s.Reports) == 0 {
		return false
	}
	for _, r := range s.Reports {
		if !r.Passed() {
			return false
		}
	}
	return true
}

// Failures counts runs that did not pass.
func (s *Summary) Failures() int {
	n := 0
	for _, r := range s.Reports {
		if !r.Passed() {
			n++
		}
	}
	return n
}

// Runner drives verify invocations.
type Runner struct {
	opts     Options
	logger   *zap.Logger
	open     SessionFunc
	reporter Reporter
	recorder Recorder
	tempDir  string
}

// Option configures a Runner.
type Option func(*Runner)

// WithSessionFunc replaces the browser launcher.
func WithSessionFunc(fn SessionFunc) Option {
	return func(r *Runner) { r.open = fn }
}

// WithReporter attaches a reporter.
func WithReporter(rep Reporter) Option {
	return func(r *Runner) { r.reporter = rep }
}

// WithRecorder attaches run history persistence.
func WithRecorder(rec Recorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

// WithTempDir sets the parent directory for per-run browser profiles.
func WithTempDir(dir string) Option {
	return func(r *Runner) { r.tempDir = dir }
}

// New validates opts and builds a Runner.
func New(opts Options, logger *zap.Logger, options ...Option) (*Runner, error) {
	if err := opts.Workflow.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workflow configuration: %w", err)
	}
	if err := opts.Credentials.Validate(); err != nil {
		return nil, err
	}
	if opts.Runs <= 0 {
		opts.Runs = 1
	}
	if opts.Parallel <= 0 {
		opts.Parallel = 1
	}

	r := &Runner{
		opts:   opts,
		logger: logger.Named("runner"),
		open:   openBrowser,
	}
	for _, o := range options {
		o(r)
	}
	return r, nil
}

func openBrowser(ctx context.Context, cfg browser.SessionConfig, logger *zap.Logger, fn func(workflow.Driver) error) error {
	return browser.WithSession(ctx, cfg, logger, func(s *browser.Session) error { return fn(s) })
}

// Run performs every configured run. A failed run is a result, not an
// error; the error return is reserved for reporting failures and ctx
// cancellation before any run could start.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	reports := make([]*workflow.Report, r.opts.Runs)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Parallel)

	r.logger.Info("Starting verification runs.",
		zap.String("target", r.opts.Workflow.DashboardURL()),
		zap.Int("runs", r.opts.Runs),
		zap.Int("parallel", r.opts.Parallel))

	for i := 0; i < r.opts.Runs; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			reports[i] = r.runOnce(gctx, i)
			return nil
		})
	}
	// runOnce never returns an error to the group.
	_ = g.Wait()

	summary := &Summary{}
	for _, rep := range reports {
		if rep != nil {
			summary.Reports = append(summary.Reports, rep)
		}
	}
	if len(summary.Reports) == 0 {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
	}

	for _, rep := range summary.Reports {
		if r.recorder != nil {
			if err := r.recorder.SaveRun(context.WithoutCancel(ctx), rep); err != nil {
				r.logger.Warn("Failed to record run history.", zap.String("run_id", rep.RunID), zap.Error(err))
			}
		}
		if r.reporter != nil {
			if err := r.reporter.Write(rep); err != nil {
				return summary, fmt.Errorf("failed to write report for run %s: %w", rep.RunID, err)
			}
		}
	}

	r.logger.Info("Verification runs finished.",
		zap.Int("completed", len(summary.Reports)),
		zap.Int("failures", summary.Failures()),
		zap.Bool("passed", summary.Passed()))
	return summary, nil
}

// runOnce owns exactly one session for exactly one workflow pass.
func (r *Runner) runOnce(ctx context.Context, index int) *workflow.Report {
	log := r.logger.With(zap.Int("run", index+1))

	wf, err := workflow.New(r.opts.Workflow, r.opts.Credentials, log)
	if err != nil {
		// Options were validated in New.
		return launchFailure(r.opts.Workflow, outcome.New(outcome.KindLaunch, "workflow could not be built", err))
	}

	profileDir, err := os.MkdirTemp(r.tempDir, "dashprobe-profile-")
	if err != nil {
		return launchFailure(r.opts.Workflow, outcome.New(outcome.KindLaunch, "could not create browser profile directory", err))
	}
	defer func() {
		if err := os.RemoveAll(profileDir); err != nil {
			log.Debug("Failed to remove browser profile directory.", zap.String("dir", profileDir), zap.Error(err))
		}
	}()

	sessCfg := r.opts.Session
	sessCfg.UserDataDir = profileDir

	var report *workflow.Report
	err = r.open(ctx, sessCfg, log, func(d workflow.Driver) error {
		report = wf.Run(ctx, d)
		return report.Err()
	})
	if report == nil {
		failure, ok := outcome.As(err)
		if !ok {
			failure = outcome.New(outcome.KindLaunch, "browser session could not be opened", err)
		}
		log.Error("Browser session failed before the workflow started.", zap.Error(failure))
		return launchFailure(r.opts.Workflow, failure)
	}
	return report
}

// launchFailure reports a run that never entered the state machine.
func launchFailure(cfg workflow.Config, failure *outcome.Error) *workflow.Report {
	now := time.Now()
	return &workflow.Report{
		RunID:      uuid.New().String(),
		Target:     cfg.DashboardURL(),
		StartedAt:  now,
		FinishedAt: now,
		State:      workflow.Failed,
		Reached:    workflow.Start,
		Failure:    failure,
	}
}
