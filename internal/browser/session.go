// internal/browser/session.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/dashprobe/internal/outcome"
)

// Session owns exactly one browser process. It is not safe to share a Session
// between concurrent workflow runs.
type Session struct {
	id     string
	cfg    SessionConfig
	logger *zap.Logger

	allocCtx    context.Context
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// allocate is swapped in tests that exercise launch failures without a browser.
var allocate = func(ctx context.Context) error {
	return chromedp.Run(ctx)
}

// Open launches a browser with cfg applied. The returned Session must be
// released with Close; prefer WithSession, which guarantees it.
func Open(ctx context.Context, cfg SessionConfig, logger *zap.Logger) (*Session, error) {
	cfg = cfg.withDefaults()
	id := uuid.New().String()
	log := logger.Named("browser").With(zap.String("session_id", id))

	if cfg.IgnoreCertificateErrors {
		log.Warn("Certificate validation disabled for this session. Use only against verification targets.")
	}

	// The browser outlives the caller's context; Close is the only thing that ends it.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), AllocatorOptions(cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(log.Sugar().Debugf),
		chromedp.WithErrorf(log.Sugar().Debugf),
	)

	s := &Session{
		id:          id,
		cfg:         cfg,
		logger:      log,
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		ctx:         browserCtx,
		cancel:      browserCancel,
		closed:      make(chan struct{}),
	}

	log.Debug("Launching browser.", zap.Bool("headless", cfg.Headless), zap.String("exec_path", cfg.ExecPath))

	// The first Run starts the process. It must not be given a timeout context
	// or the process dies with it, so the launch deadline is enforced here.
	launched := make(chan error, 1)
	go func() { launched <- allocate(browserCtx) }()

	var launchErr error
	select {
	case launchErr = <-launched:
	case <-time.After(cfg.LaunchTimeout):
		launchErr = fmt.Errorf("browser did not start within %s", cfg.LaunchTimeout)
	case <-ctx.Done():
		launchErr = ctx.Err()
	}

	if launchErr != nil {
		// Best-effort cleanup of whatever was started.
		browserCancel()
		allocCancel()
		close(s.closed)
		log.Error("Browser launch failed.", zap.Error(launchErr))
		return nil, outcome.New(outcome.KindLaunch, "browser process failed to start", launchErr)
	}

	log.Info("Browser session opened.")
	return s, nil
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

// WithSession opens a session, passes it to fn, and closes it on every exit
// path, including a panic in fn.
func WithSession(ctx context.Context, cfg SessionConfig, logger *zap.Logger, fn func(*Session) error) (err error) {
	s, err := Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
		defer cancel()
		if closeErr := s.Close(closeCtx); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return fn(s)
}

// Close terminates the browser process and releases all handles. Subsequent
// calls return the result of the first.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		defer close(s.closed)
		s.logger.Debug("Closing browser session.")

		done := make(chan error, 1)
		go func() {
			// chromedp.Cancel blocks until the browser process has exited.
			done <- chromedp.Cancel(s.ctx)
		}()

		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				s.closeErr = fmt.Errorf("failed to close browser: %w", err)
			}
		case <-ctx.Done():
			s.logger.Warn("Timed out waiting for browser to exit, forcing shutdown.", zap.Error(ctx.Err()))
		}

		// Canceling the allocator kills the process if Cancel did not finish.
		s.cancel()
		s.allocCancel()
		s.logger.Info("Browser session closed.")
	})
	return s.closeErr
}

// Closed is closed once the session has been torn down.
func (s *Session) Closed() <-chan struct{} { return s.closed }

func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	select {
	case <-s.closed:
		return errors.New("browser session is closed")
	default:
	}

	opCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	opCtx, cancelTimeout := context.WithTimeout(opCtx, timeout)
	defer cancelTimeout()

	return chromedp.Run(opCtx, actions...)
}

// Navigate loads url. Network-level failures are NavigationErrors; a page load
// that does not finish before the navigation timeout is TimedOut.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("Navigating.", zap.String("url", url))
	start := time.Now()

	err := s.run(ctx, s.cfg.NavigationTimeout, chromedp.Navigate(url))
	if err == nil {
		s.logger.Debug("Navigation complete.", zap.String("url", url), zap.Duration("elapsed", time.Since(start)))
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || (ctx.Err() == nil && time.Since(start) >= s.cfg.NavigationTimeout) {
		return outcome.New(outcome.KindTimedOut, fmt.Sprintf("navigation to %s did not complete", url), err)
	}
	return outcome.New(outcome.KindNavigation, fmt.Sprintf("could not load %s", url), err)
}

// Title returns the current document title.
func (s *Session) Title(ctx context.Context) (string, error) {
	var title string
	if err := s.run(ctx, s.cfg.ActionTimeout, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("failed to read title: %w", err)
	}
	return title, nil
}

// Location returns the current document URL.
func (s *Session) Location(ctx context.Context) (string, error) {
	var loc string
	if err := s.run(ctx, s.cfg.ActionTimeout, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return loc, nil
}

// Find checks for sel once without waiting. Absence is reported as
// outcome.ErrElementNotFound so a waiter can retry it.
func (s *Session) Find(ctx context.Context, sel Selector) error {
	var nodes []*cdp.Node
	err := s.run(ctx, s.cfg.ActionTimeout, chromedp.Nodes(sel.Query, &nodes, sel.allBy(), chromedp.AtLeast(0)))
	if err != nil {
		return fmt.Errorf("lookup of %s failed: %w", sel, err)
	}
	if len(nodes) == 0 {
		return fmt.Errorf("%w: %s", outcome.ErrElementNotFound, sel)
	}
	return nil
}

// Text returns the visible text of the first node matching sel.
func (s *Session) Text(ctx context.Context, sel Selector) (string, error) {
	if err := s.Find(ctx, sel); err != nil {
		return "", err
	}
	var text string
	if err := s.run(ctx, s.cfg.ActionTimeout, chromedp.Text(sel.Query, &text, sel.firstBy())); err != nil {
		return "", fmt.Errorf("failed to read text of %s: %w", sel, err)
	}
	return text, nil
}

// SendKeys types text into the first node matching sel.
func (s *Session) SendKeys(ctx context.Context, sel Selector, text string) error {
	err := s.run(ctx, s.cfg.ActionTimeout,
		chromedp.SendKeys(sel.Query, text, sel.firstBy(), chromedp.NodeVisible, chromedp.NodeEnabled))
	if err != nil {
		// The text may be a credential; it never goes into the error.
		return fmt.Errorf("failed to type into %s: %w", sel, err)
	}
	return nil
}

// Click activates the first node matching sel.
func (s *Session) Click(ctx context.Context, sel Selector) error {
	err := s.run(ctx, s.cfg.ActionTimeout,
		chromedp.Click(sel.Query, sel.firstBy(), chromedp.NodeVisible, chromedp.NodeEnabled))
	if err != nil {
		return fmt.Errorf("failed to click %s: %w", sel, err)
	}
	return nil
}
