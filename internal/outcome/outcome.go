// File: internal/outcome/outcome.go
package outcome

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the tag of a StepResult.
type Status int

const (
	Success Status = iota
	TimedOut
	ElementNotFound
	AssertionFailed
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case TimedOut:
		return "timed_out"
	case ElementNotFound:
		return "element_not_found"
	case AssertionFailed:
		return "assertion_failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// StepResult is the outcome of a single synchronization point or workflow step.
type StepResult struct {
	Status   Status
	Value    any
	Attempts int
	Elapsed  time.Duration
	// Selector is set when the result concerns a located element.
	Selector string
	// Err holds the last error observed while evaluating, if any.
	Err error
}

// OK reports whether the step succeeded.
func (r StepResult) OK() bool { return r.Status == Success }

// Kind classifies a workflow failure.
type Kind string

const (
	KindLaunch          Kind = "LaunchError"
	KindNavigation      Kind = "NavigationError"
	KindTimedOut        Kind = "TimedOut"
	KindElementNotFound Kind = "ElementNotFound"
	KindAssertionFailed Kind = "AssertionFailed"
)

// Sentinels for errors.Is matching against a classified *Error.
var (
	ErrLaunch          = errors.New("browser launch failed")
	ErrNavigation      = errors.New("navigation failed")
	ErrTimedOut        = errors.New("wait deadline elapsed")
	ErrElementNotFound = errors.New("element not found")
	ErrAssertionFailed = errors.New("assertion failed")
)

var kindSentinels = map[Kind]error{
	KindLaunch:          ErrLaunch,
	KindNavigation:      ErrNavigation,
	KindTimedOut:        ErrTimedOut,
	KindElementNotFound: ErrElementNotFound,
	KindAssertionFailed: ErrAssertionFailed,
}

// Error is a classified failure. Transition names the state change that broke,
// so two timeouts at different points of the sequence remain distinguishable.
type Error struct {
	Kind       Kind
	Transition string
	Selector   string
	Reason     string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Transition != "" {
		b.WriteString(" at ")
		b.WriteString(e.Transition)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Selector != "" {
		fmt.Fprintf(&b, " (selector %q)", e.Selector)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind. ElementNotFound is a subtype of
// TimedOut and matches both sentinels.
func (e *Error) Is(target error) bool {
	if sentinel, ok := kindSentinels[e.Kind]; ok && sentinel == target {
		return true
	}
	return e.Kind == KindElementNotFound && target == ErrTimedOut
}

// New builds a classified error.
func New(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// At returns a copy of e attributed to the given transition.
func (e *Error) At(transition string) *Error {
	cp := *e
	cp.Transition = transition
	return &cp
}

// FromResult converts a failed StepResult into a classified error.
// It returns nil for a successful result.
func FromResult(r StepResult, reason string) *Error {
	var kind Kind
	switch r.Status {
	case Success:
		return nil
	case ElementNotFound:
		kind = KindElementNotFound
	case AssertionFailed:
		kind = KindAssertionFailed
	default:
		kind = KindTimedOut
	}
	return &Error{Kind: kind, Selector: r.Selector, Reason: reason, Err: r.Err}
}

// As extracts a classified error from err's chain.
func As(err error) (*Error, bool) {
	var oe *Error
	if errors.As(err, &oe) {
		return oe, true
	}
	return nil, false
}
