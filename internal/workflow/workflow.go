// File: internal/workflow/workflow.go
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/dashprobe/internal/browser"
	"github.com/xkilldash9x/dashprobe/internal/outcome"
	"github.com/xkilldash9x/dashprobe/internal/waiter"
)

// Reasons reported for each failure point. They name where the sequence broke.
const (
	ReasonDashboardUnreachable = "dashboard unreachable or misconfigured"
	ReasonLoginFormMissing     = "login form not rendered / selector drift"
	ReasonControlUnusable      = "login control not interactable"
	ReasonAuthenticationFailed = "authentication failed or post-login UI changed"
)

// Driver is the browser capability set the workflow needs. *browser.Session
// implements it.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Title(ctx context.Context) (string, error)
	Find(ctx context.Context, sel browser.Selector) error
	Text(ctx context.Context, sel browser.Selector) (string, error)
	SendKeys(ctx context.Context, sel browser.Selector, text string) error
	Click(ctx context.Context, sel browser.Selector) error
}

var _ Driver = (*browser.Session)(nil)

// StepRecord is the trace entry for one attempted transition.
type StepRecord struct {
	Transition Transition
	Status     outcome.Status
	Attempts   int
	Elapsed    time.Duration
}

// Report is the result of one workflow run.
type Report struct {
	RunID      string
	Target     string
	StartedAt  time.Time
	FinishedAt time.Time
	// State is the terminal state: AuthenticatedViewVisible or Failed.
	State State
	// Reached is the last state entered successfully.
	Reached State
	Failure *outcome.Error
	Steps   []StepRecord
}

// Passed reports whether the run reached the authenticated view.
func (r *Report) Passed() bool { return r.State == AuthenticatedViewVisible }

// Err returns the classified failure, or nil on a pass.
func (r *Report) Err() error {
	if r.Failure == nil {
		return nil
	}
	return r.Failure
}

// Duration is the wall time of the run.
func (r *Report) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// Workflow runs the login-verification scenario against one target.
type Workflow struct {
	cfg    Config
	creds  Credentials
	waiter *waiter.Waiter
	logger *zap.Logger
}

// New validates cfg and builds a Workflow.
func New(cfg Config, creds Credentials, logger *zap.Logger) (*Workflow, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workflow configuration: %w", err)
	}
	return &Workflow{
		cfg:    cfg,
		creds:  creds,
		waiter: waiter.New(logger),
		logger: logger.Named("workflow"),
	}, nil
}

type step struct {
	to  State
	run func(ctx context.Context, d Driver) (outcome.StepResult, *outcome.Error)
}

func (w *Workflow) steps() []step {
	// Steps 2 and 3 share a single login-form budget.
	var formDeadline time.Time
	return []step{
		{to: DashboardLoaded, run: w.loadDashboard},
		{to: LoginPageLoaded, run: func(ctx context.Context, d Driver) (outcome.StepResult, *outcome.Error) {
			return w.loadLoginPage(ctx, d, &formDeadline)
		}},
		{to: CredentialsEntered, run: func(ctx context.Context, d Driver) (outcome.StepResult, *outcome.Error) {
			return w.enterCredentials(ctx, d, w.remaining(formDeadline))
		}},
		{to: Submitted, run: w.submit},
		{to: AuthenticatedViewVisible, run: w.awaitAuthenticatedView},
	}
}

// remaining is the time left until deadline, floored at the shortest wait the
// waiter accepts (two poll intervals).
func (w *Workflow) remaining(deadline time.Time) time.Duration {
	floor := 2 * w.cfg.Timeouts.PollInterval
	if left := time.Until(deadline); left > floor {
		return left
	}
	return floor
}

// Run makes exactly one pass through the sequence using d. The caller owns d
// and is responsible for tearing it down; Run never retries a step.
func (w *Workflow) Run(ctx context.Context, d Driver) *Report {
	report := &Report{
		RunID:     uuid.New().String(),
		Target:    w.cfg.DashboardURL(),
		StartedAt: time.Now(),
		State:     Start,
		Reached:   Start,
	}
	log := w.logger.With(zap.String("run_id", report.RunID), zap.String("target", report.Target))
	log.Info("Starting login verification.")

	for _, st := range w.steps() {
		tr := Transition{From: report.Reached, To: st.to}
		started := time.Now()
		res, failure := st.run(ctx, d)
		rec := StepRecord{
			Transition: tr,
			Status:     res.Status,
			Attempts:   res.Attempts,
			Elapsed:    time.Since(started),
		}
		if failure != nil && rec.Status == outcome.Success {
			rec.Status = statusFor(failure.Kind)
		}
		report.Steps = append(report.Steps, rec)

		if failure != nil {
			report.Failure = failure.At(tr.String())
			report.State = Failed
			report.FinishedAt = time.Now()
			log.Error("Login verification failed.",
				zap.Stringer("transition", tr),
				zap.String("kind", string(report.Failure.Kind)),
				zap.String("reason", report.Failure.Reason),
				zap.String("selector", report.Failure.Selector),
				zap.NamedError("cause", report.Failure.Err),
				zap.Duration("elapsed", rec.Elapsed))
			return report
		}

		report.Reached = st.to
		report.State = st.to
		log.Info("Transition complete.", zap.Stringer("transition", tr), zap.Duration("elapsed", rec.Elapsed))
	}

	report.FinishedAt = time.Now()
	log.Info("Login verification passed.", zap.Duration("duration", report.Duration()))
	return report
}

func statusFor(kind outcome.Kind) outcome.Status {
	switch kind {
	case outcome.KindElementNotFound:
		return outcome.ElementNotFound
	case outcome.KindAssertionFailed:
		return outcome.AssertionFailed
	default:
		return outcome.TimedOut
	}
}

func (w *Workflow) spec(timeout time.Duration, sel string, pred waiter.Predicate) waiter.WaitSpec {
	return waiter.WaitSpec{
		Predicate:    pred,
		Timeout:      timeout,
		PollInterval: w.cfg.Timeouts.PollInterval,
		Selector:     sel,
	}
}

// navigationFailure keeps the driver's classification and attaches reason.
func navigationFailure(err error, reason string) *outcome.Error {
	if oe, ok := outcome.As(err); ok {
		cp := *oe
		cp.Reason = reason + ": " + oe.Reason
		return &cp
	}
	return outcome.New(outcome.KindNavigation, reason, err)
}

func (w *Workflow) loadDashboard(ctx context.Context, d Driver) (outcome.StepResult, *outcome.Error) {
	if err := d.Navigate(ctx, w.cfg.DashboardURL()); err != nil {
		return outcome.StepResult{}, navigationFailure(err, ReasonDashboardUnreachable)
	}

	expected := w.cfg.ExpectedTitle
	res := w.waiter.WaitUntil(ctx, w.spec(w.cfg.Timeouts.Dashboard, "", func(ctx context.Context) (bool, error) {
		title, err := d.Title(ctx)
		if err != nil {
			return false, err
		}
		return strings.Contains(title, expected), nil
	}))
	if !res.OK() {
		failure := outcome.FromResult(res, fmt.Sprintf("%s: title never contained %q", ReasonDashboardUnreachable, expected))
		return res, failure
	}

	// Wait, then assert: the title must still match once the page has settled.
	title, err := d.Title(ctx)
	if err != nil || !strings.Contains(title, expected) {
		return res, outcome.New(outcome.KindAssertionFailed,
			fmt.Sprintf("page title %q does not contain %q", title, expected), err)
	}
	return res, nil
}

func (w *Workflow) loadLoginPage(ctx context.Context, d Driver, formDeadline *time.Time) (outcome.StepResult, *outcome.Error) {
	if err := d.Navigate(ctx, w.cfg.LoginURL()); err != nil {
		return outcome.StepResult{}, navigationFailure(err, ReasonLoginFormMissing)
	}

	*formDeadline = time.Now().Add(w.cfg.Timeouts.LoginForm)
	sel := w.cfg.Selectors.Username
	res := w.waiter.WaitUntil(ctx, w.spec(w.cfg.Timeouts.LoginForm, sel.String(), func(ctx context.Context) (bool, error) {
		err := d.Find(ctx, sel)
		return err == nil, err
	}))
	if !res.OK() {
		return res, outcome.FromResult(res, ReasonLoginFormMissing)
	}
	return res, nil
}

func (w *Workflow) enterCredentials(ctx context.Context, d Driver, budget time.Duration) (outcome.StepResult, *outcome.Error) {
	s := w.cfg.Selectors
	controls := []browser.Selector{s.Username, s.Password, s.Submit}

	// All three controls must resolve before anything is typed.
	var missing browser.Selector
	res := w.waiter.WaitUntil(ctx, w.spec(budget, "", func(ctx context.Context) (bool, error) {
		for _, sel := range controls {
			if err := d.Find(ctx, sel); err != nil {
				missing = sel
				return false, err
			}
		}
		return true, nil
	}))
	if !res.OK() {
		if missing.Query != "" {
			res.Selector = missing.String()
		}
		return res, outcome.FromResult(res, ReasonLoginFormMissing)
	}

	if err := d.SendKeys(ctx, s.Username, w.creds.Username); err != nil {
		return res, interactionFailure(s.Username, err)
	}
	if err := d.SendKeys(ctx, s.Password, w.creds.Password); err != nil {
		return res, interactionFailure(s.Password, err)
	}
	return res, nil
}

func (w *Workflow) submit(ctx context.Context, d Driver) (outcome.StepResult, *outcome.Error) {
	res := outcome.StepResult{Status: outcome.Success, Attempts: 1, Selector: w.cfg.Selectors.Submit.String()}
	if err := d.Click(ctx, w.cfg.Selectors.Submit); err != nil {
		return res, interactionFailure(w.cfg.Selectors.Submit, err)
	}
	return res, nil
}

func (w *Workflow) awaitAuthenticatedView(ctx context.Context, d Driver) (outcome.StepResult, *outcome.Error) {
	marker := w.cfg.Selectors.PostLoginMarker
	res := w.waiter.WaitUntil(ctx, w.spec(w.cfg.Timeouts.PostLogin, marker.String(), func(ctx context.Context) (bool, error) {
		err := d.Find(ctx, marker)
		return err == nil, err
	}))
	if !res.OK() {
		failure := outcome.FromResult(res, ReasonAuthenticationFailed)
		// An absent marker here means the login did not land, not that a selector drifted.
		if failure.Kind == outcome.KindElementNotFound {
			failure.Kind = outcome.KindTimedOut
			res.Status = outcome.TimedOut
		}
		return res, failure
	}

	if want := w.cfg.ExpectedMarkerText; want != "" {
		text, err := d.Text(ctx, marker)
		if err != nil || !strings.Contains(text, want) {
			failure := outcome.New(outcome.KindAssertionFailed,
				fmt.Sprintf("post-login marker text %q does not contain %q", text, want), err)
			failure.Selector = marker.String()
			return res, failure
		}
	}
	return res, nil
}

func interactionFailure(sel browser.Selector, err error) *outcome.Error {
	kind := outcome.KindElementNotFound
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, outcome.ErrElementNotFound) {
		kind = outcome.KindTimedOut
	}
	failure := outcome.New(kind, ReasonControlUnusable, err)
	failure.Selector = sel.String()
	return failure
}
