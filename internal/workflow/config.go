package workflow

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/xkilldash9x/dashprobe/internal/browser"
)

// Selectors locate the controls the scenario interacts with.
type Selectors struct {
	Username        browser.Selector
	Password        browser.Selector
	Submit          browser.Selector
	PostLoginMarker browser.Selector
}

// Timeouts bound each synchronization point.
type Timeouts struct {
	Dashboard    time.Duration
	LoginForm    time.Duration
	PostLogin    time.Duration
	PollInterval time.Duration
}

// Config describes one target deployment. Nothing about the target is
// hardcoded in the state machine.
type Config struct {
	BaseURL       string
	LoginPath     string
	ExpectedTitle string
	// ExpectedMarkerText, when set, must be contained in the post-login marker's text.
	ExpectedMarkerText string
	Selectors          Selectors
	Timeouts           Timeouts
}

// Credentials are passed through to the login form and nowhere else.
type Credentials struct {
	Username string
	Password string
}

// String never renders the password.
func (c Credentials) String() string {
	if c.Password == "" {
		return fmt.Sprintf("Credentials{Username:%q, Password:<empty>}", c.Username)
	}
	return fmt.Sprintf("Credentials{Username:%q, Password:<redacted>}", c.Username)
}

// GoString keeps %#v from leaking the password.
func (c Credentials) GoString() string { return c.String() }

// Validate reports whether the credentials are usable.
func (c Credentials) Validate() error {
	if c.Username == "" || c.Password == "" {
		return errors.New("credentials are incomplete: username and password must both be provided")
	}
	return nil
}

// Validate checks the configuration before any browser is launched.
func (c Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base url %q: %w", c.BaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base url %q must use http or https", c.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("base url %q has no host", c.BaseURL)
	}
	if c.ExpectedTitle == "" {
		return errors.New("expected title must not be empty")
	}

	for name, sel := range map[string]browser.Selector{
		"username":          c.Selectors.Username,
		"password":          c.Selectors.Password,
		"submit":            c.Selectors.Submit,
		"post_login_marker": c.Selectors.PostLoginMarker,
	} {
		if strings.TrimSpace(sel.Query) == "" {
			return fmt.Errorf("selector %s must not be empty", name)
		}
		if _, err := browser.ParseKind(string(sel.Kind)); err != nil {
			return fmt.Errorf("selector %s: %w", name, err)
		}
	}

	t := c.Timeouts
	if t.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", t.PollInterval)
	}
	for name, d := range map[string]time.Duration{
		"dashboard":  t.Dashboard,
		"login_form": t.LoginForm,
		"post_login": t.PostLogin,
	} {
		if d <= t.PollInterval {
			return fmt.Errorf("%s timeout (%s) must exceed poll interval (%s)", name, d, t.PollInterval)
		}
	}
	return nil
}

// DashboardURL is the dashboard root.
func (c Config) DashboardURL() string {
	return strings.TrimRight(c.BaseURL, "/")
}

// LoginURL joins the base url and the login route.
func (c Config) LoginURL() string {
	path := c.LoginPath
	if path == "" {
		path = "/app/login"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.DashboardURL() + path
}
