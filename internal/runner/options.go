package runner

import (
	"github.com/xkilldash9x/dashprobe/internal/browser"
	"github.com/xkilldash9x/dashprobe/internal/config"
	"github.com/xkilldash9x/dashprobe/internal/workflow"
)

// Options is everything one verify invocation needs.
type Options struct {
	Session     browser.SessionConfig
	Workflow    workflow.Config
	Credentials workflow.Credentials
	// Runs is the number of independent runs, each with its own session.
	Runs int
	// Parallel bounds how many sessions are alive at once.
	Parallel int
}

// OptionsFromConfig maps the application configuration onto runner options.
func OptionsFromConfig(cfg *config.Config) Options {
	b := cfg.Browser
	return Options{
		Session: browser.SessionConfig{
			Headless:                b.Headless,
			IgnoreCertificateErrors: b.IgnoreTLSErrors,
			SandboxDisabled:         b.NoSandbox,
			SharedMemoryDisabled:    b.DisableDevShmUsage,
			ExecPath:                b.ExecPath,
			ExtraArgs:               b.Args,
			WindowWidth:             b.WindowWidth,
			WindowHeight:            b.WindowHeight,
			LaunchTimeout:           b.LaunchTimeout,
			NavigationTimeout:       b.NavigationTimeout,
			ActionTimeout:           b.ActionTimeout,
			ShutdownTimeout:         b.ShutdownTimeout,
		},
		Workflow: workflow.Config{
			BaseURL:            cfg.Target.BaseURL,
			LoginPath:          cfg.Target.LoginPath,
			ExpectedTitle:      cfg.Target.ExpectedTitle,
			ExpectedMarkerText: cfg.Target.ExpectedMarkerText,
			Selectors: workflow.Selectors{
				Username:        selector(cfg.Selectors.Username),
				Password:        selector(cfg.Selectors.Password),
				Submit:          selector(cfg.Selectors.Submit),
				PostLoginMarker: selector(cfg.Selectors.PostLoginMarker),
			},
			Timeouts: workflow.Timeouts{
				Dashboard:    cfg.Timeouts.Dashboard,
				LoginForm:    cfg.Timeouts.LoginForm,
				PostLogin:    cfg.Timeouts.PostLogin,
				PollInterval: cfg.Timeouts.PollInterval,
			},
		},
		Credentials: workflow.Credentials{
			Username: cfg.Credentials.Username,
			Password: cfg.Credentials.Password,
		},
		Runs:     cfg.Runs.Count,
		Parallel: cfg.Runs.Parallel,
	}
}

func selector(s config.SelectorConfig) browser.Selector {
	kind := browser.CSS
	if s.Kind == string(browser.XPath) {
		kind = browser.XPath
	}
	return browser.Selector{Query: s.Query, Kind: kind}
}
