// internal/browser/options.go
package browser

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

// SessionConfig governs how the browser process is launched. It is copied
// into the Session at Open and never changes afterwards.
type SessionConfig struct {
	Headless                bool
	IgnoreCertificateErrors bool
	SandboxDisabled         bool
	SharedMemoryDisabled    bool

	// ExecPath overrides chromedp's browser discovery when set.
	ExecPath string
	// UserDataDir isolates profiles between concurrent sessions.
	UserDataDir  string
	WindowWidth  int
	WindowHeight int
	// ExtraArgs are raw command-line switches, "--key=value" or "--flag".
	ExtraArgs []string

	LaunchTimeout     time.Duration
	NavigationTimeout time.Duration
	ActionTimeout     time.Duration
	ShutdownTimeout   time.Duration
}

const (
	defaultLaunchTimeout     = 60 * time.Second
	defaultNavigationTimeout = 30 * time.Second
	defaultActionTimeout     = 5 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
)

func (c SessionConfig) withDefaults() SessionConfig {
	if c.LaunchTimeout <= 0 {
		c.LaunchTimeout = defaultLaunchTimeout
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = defaultNavigationTimeout
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = defaultActionTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	return c
}

// launchFlags computes the command-line switches layered on top of chromedp's
// defaults. Later entries win, so "headless" can be switched off here.
func launchFlags(cfg SessionConfig) map[string]interface{} {
	flags := map[string]interface{}{
		"disable-gpu": true,
	}

	if !cfg.Headless {
		flags["headless"] = false
		flags["hide-scrollbars"] = false
		flags["mute-audio"] = false
	}
	if cfg.IgnoreCertificateErrors {
		flags["ignore-certificate-errors"] = true
		flags["allow-insecure-localhost"] = true
	}
	if cfg.SandboxDisabled {
		flags["no-sandbox"] = true
	}
	if cfg.SharedMemoryDisabled {
		flags["disable-dev-shm-usage"] = true
	}
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		flags["window-size"] = fmt.Sprintf("%d,%d", cfg.WindowWidth, cfg.WindowHeight)
	}

	for _, arg := range cfg.ExtraArgs {
		arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
		if arg == "" {
			continue
		}
		// "key=value" switches carry a value; bare switches are booleans.
		if key, value, found := strings.Cut(arg, "="); found {
			flags[key] = value
		} else {
			flags[arg] = true
		}
	}
	return flags
}

// AllocatorOptions translates a SessionConfig into chromedp exec allocator options.
func AllocatorOptions(cfg SessionConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	flags := launchFlags(cfg)
	// Deterministic order keeps launches reproducible in logs.
	keys := make([]string, 0, len(flags))
	for k := range flags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		opts = append(opts, chromedp.Flag(k, flags[k]))
	}

	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}
	return opts
}
