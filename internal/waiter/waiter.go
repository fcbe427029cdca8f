// File: internal/waiter/waiter.go
package waiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/dashprobe/internal/outcome"
)

// Predicate evaluates a condition against live browser state. Returning an
// error wrapping outcome.ErrElementNotFound is a normal negative result.
type Predicate func(ctx context.Context) (bool, error)

// WaitSpec describes one synchronization point.
type WaitSpec struct {
	Predicate    Predicate
	Timeout      time.Duration
	PollInterval time.Duration
	// Selector names what the predicate looks for, used when reporting absence.
	Selector string
}

// Validate enforces timeout > pollInterval > 0.
func (s WaitSpec) Validate() error {
	if s.Predicate == nil {
		return errors.New("wait spec has no predicate")
	}
	if s.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", s.PollInterval)
	}
	if s.Timeout <= s.PollInterval {
		return fmt.Errorf("timeout (%s) must exceed poll interval (%s)", s.Timeout, s.PollInterval)
	}
	return nil
}

// Waiter polls predicates until they hold or their deadline elapses.
type Waiter struct {
	logger *zap.Logger
	now    func() time.Time
}

// New creates a Waiter.
func New(logger *zap.Logger) *Waiter {
	return &Waiter{logger: logger.Named("waiter"), now: time.Now}
}

// WaitUntil evaluates spec.Predicate every spec.PollInterval until it returns
// true or spec.Timeout elapses. An always-false predicate returns TimedOut
// (or ElementNotFound) after at least Timeout and at most Timeout+PollInterval.
func (w *Waiter) WaitUntil(ctx context.Context, spec WaitSpec) outcome.StepResult {
	if err := spec.Validate(); err != nil {
		return outcome.StepResult{Status: outcome.AssertionFailed, Selector: spec.Selector, Err: err}
	}

	start := w.now()
	deadline := start.Add(spec.Timeout)
	// A single evaluation may run past the deadline by at most one poll interval.
	evalCtx, cancel := context.WithDeadline(ctx, deadline.Add(spec.PollInterval))
	defer cancel()

	var (
		attempts int
		lastErr  error
		notFound bool
	)
	for {
		attempts++
		ok, err := spec.Predicate(evalCtx)
		if err == nil && ok {
			w.logger.Debug("Condition satisfied.",
				zap.String("selector", spec.Selector),
				zap.Int("attempts", attempts),
				zap.Duration("elapsed", w.now().Sub(start)))
			return outcome.StepResult{
				Status:   outcome.Success,
				Value:    true,
				Attempts: attempts,
				Elapsed:  w.now().Sub(start),
				Selector: spec.Selector,
			}
		}

		notFound = errors.Is(err, outcome.ErrElementNotFound)
		switch {
		case notFound:
			lastErr = nil
		case err != nil:
			// Detached nodes and in-flight navigations are transient until the deadline.
			lastErr = err
		}

		remaining := deadline.Sub(w.now())
		if remaining <= 0 || ctx.Err() != nil {
			break
		}

		sleep := spec.PollInterval
		if remaining < sleep {
			sleep = remaining
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}

	res := outcome.StepResult{
		Status:   outcome.TimedOut,
		Attempts: attempts,
		Elapsed:  w.now().Sub(start),
		Selector: spec.Selector,
		Err:      lastErr,
	}
	if notFound {
		res.Status = outcome.ElementNotFound
	}
	if ctx.Err() != nil && res.Err == nil {
		res.Err = ctx.Err()
	}

	w.logger.Debug("Condition not satisfied before deadline.",
		zap.String("selector", spec.Selector),
		zap.Stringer("status", res.Status),
		zap.Int("attempts", attempts),
		zap.Duration("timeout", spec.Timeout))
	return res
}
