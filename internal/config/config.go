// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	Browser     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	Target      TargetConfig      `mapstructure:"target" yaml:"target"`
	Selectors   SelectorsConfig   `mapstructure:"selectors" yaml:"selectors"`
	Timeouts    TimeoutsConfig    `mapstructure:"timeouts" yaml:"timeouts"`
	Runs        RunsConfig        `mapstructure:"runs" yaml:"runs"`
	Health      HealthConfig      `mapstructure:"health" yaml:"health"`
	Database    DatabaseConfig    `mapstructure:"database" yaml:"database"`
	Report      ReportConfig      `mapstructure:"report" yaml:"report"`
	Credentials CredentialsConfig `mapstructure:"credentials" yaml:"-"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color names for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig controls how each session's browser process is launched.
type BrowserConfig struct {
	Headless           bool          `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors    bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	NoSandbox          bool          `mapstructure:"no_sandbox" yaml:"no_sandbox"`
	DisableDevShmUsage bool          `mapstructure:"disable_dev_shm_usage" yaml:"disable_dev_shm_usage"`
	ExecPath           string        `mapstructure:"exec_path" yaml:"exec_path"`
	Args               []string      `mapstructure:"args" yaml:"args"`
	WindowWidth        int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight       int           `mapstructure:"window_height" yaml:"window_height"`
	LaunchTimeout      time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	NavigationTimeout  time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ActionTimeout      time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// TargetConfig identifies the deployment under verification.
type TargetConfig struct {
	BaseURL            string `mapstructure:"base_url" yaml:"base_url"`
	LoginPath          string `mapstructure:"login_path" yaml:"login_path"`
	ExpectedTitle      string `mapstructure:"expected_title" yaml:"expected_title"`
	ExpectedMarkerText string `mapstructure:"expected_marker_text" yaml:"expected_marker_text"`
}

// SelectorConfig is a query plus how to interpret it ("css" or "xpath").
type SelectorConfig struct {
	Query string `mapstructure:"query" yaml:"query"`
	Kind  string `mapstructure:"kind" yaml:"kind"`
}

// SelectorsConfig locates the login controls and the post-login marker.
type SelectorsConfig struct {
	Username        SelectorConfig `mapstructure:"username" yaml:"username"`
	Password        SelectorConfig `mapstructure:"password" yaml:"password"`
	Submit          SelectorConfig `mapstructure:"submit" yaml:"submit"`
	PostLoginMarker SelectorConfig `mapstructure:"post_login_marker" yaml:"post_login_marker"`
}

// TimeoutsConfig bounds each wait in the workflow.
type TimeoutsConfig struct {
	Dashboard    time.Duration `mapstructure:"dashboard" yaml:"dashboard"`
	LoginForm    time.Duration `mapstructure:"login_form" yaml:"login_form"`
	PostLogin    time.Duration `mapstructure:"post_login" yaml:"post_login"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// RunsConfig controls how many independent runs a verify invocation makes.
type RunsConfig struct {
	Count    int `mapstructure:"count" yaml:"count"`
	Parallel int `mapstructure:"parallel" yaml:"parallel"`
}

// HealthConfig configures the health probe responder.
type HealthConfig struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DatabaseConfig holds the optional run-history database connection.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// ReportConfig controls where run reports are written.
type ReportConfig struct {
	Path   string `mapstructure:"path" yaml:"path"`
	Format string `mapstructure:"format" yaml:"format"`
}

// CredentialsConfig is only ever populated from the environment.
type CredentialsConfig struct {
	Username string `mapstructure:"username" yaml:"-"`
	Password string `mapstructure:"password" yaml:"-"`
}

// NewDefaultConfig returns a configuration populated with defaults only.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Defaults are static; failing here is a programming error.
		panic(fmt.Sprintf("config: default values do not unmarshal: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for every configuration key.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "dashprobe")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.no_sandbox", true)
	v.SetDefault("browser.disable_dev_shm_usage", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.window_width", 1366)
	v.SetDefault("browser.window_height", 768)
	v.SetDefault("browser.launch_timeout", "60s")
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.action_timeout", "5s")
	v.SetDefault("browser.shutdown_timeout", "10s")

	// -- Target --
	v.SetDefault("target.base_url", "")
	v.SetDefault("target.login_path", "/app/login")
	v.SetDefault("target.expected_title", "Wazuh")
	v.SetDefault("target.expected_marker_text", "Agents summary")

	// -- Selectors --
	v.SetDefault("selectors.username.query", `[data-test-subj="user-name"]`)
	v.SetDefault("selectors.username.kind", "css")
	v.SetDefault("selectors.password.query", `[data-test-subj="password"]`)
	v.SetDefault("selectors.password.kind", "css")
	v.SetDefault("selectors.submit.query", `[data-test-subj="submit"]`)
	v.SetDefault("selectors.submit.kind", "css")
	v.SetDefault("selectors.post_login_marker.query", `//span[text()="Agents summary"]`)
	v.SetDefault("selectors.post_login_marker.kind", "xpath")

	// -- Timeouts --
	v.SetDefault("timeouts.dashboard", "10s")
	v.SetDefault("timeouts.login_form", "15s")
	v.SetDefault("timeouts.post_login", "15s")
	v.SetDefault("timeouts.poll_interval", "500ms")

	// -- Runs --
	v.SetDefault("runs.count", 1)
	v.SetDefault("runs.parallel", 1)

	// -- Health probe --
	v.SetDefault("health.addr", ":5000")
	v.SetDefault("health.read_header_timeout", "5s")
	v.SetDefault("health.shutdown_timeout", "5s")

	// -- Database / Report --
	v.SetDefault("database.url", "")
	v.SetDefault("report.path", "")
	v.SetDefault("report.format", "json")
}

// BindEnv wires the environment variables that carry secrets. The original
// TEST_USER/TEST_PASS names are honored after the prefixed ones.
func BindEnv(v *viper.Viper) {
	_ = v.BindEnv("credentials.username", "DASHPROBE_CREDENTIALS_USERNAME", "TEST_USER")
	_ = v.BindEnv("credentials.password", "DASHPROBE_CREDENTIALS_PASSWORD", "TEST_PASS")
	_ = v.BindEnv("database.url", "DASHPROBE_DATABASE_URL")
}

// NewConfigFromViper creates a validated configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	BindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.Logger.LogFile, &c.Report.Path, &c.Browser.ExecPath} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
// Credentials are checked separately because not every command needs them.
func (c *Config) Validate() error {
	switch c.Logger.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logger.format must be \"console\" or \"json\", got %q", c.Logger.Format)
	}

	if err := c.Browser.Validate(); err != nil {
		return err
	}
	if err := c.Target.Validate(); err != nil {
		return err
	}
	if err := c.Selectors.Validate(); err != nil {
		return err
	}
	if err := c.Timeouts.Validate(); err != nil {
		return err
	}
	if c.Runs.Count <= 0 {
		return errors.New("runs.count must be a positive integer")
	}
	if c.Runs.Parallel <= 0 {
		return errors.New("runs.parallel must be a positive integer")
	}
	if c.Health.Addr == "" {
		return errors.New("health.addr must not be empty")
	}
	switch c.Report.Format {
	case "json", "yaml":
	default:
		return fmt.Errorf("report.format must be \"json\" or \"yaml\", got %q", c.Report.Format)
	}
	return nil
}

// Validate checks the browser launch settings.
func (b BrowserConfig) Validate() error {
	for name, d := range map[string]time.Duration{
		"launch_timeout":     b.LaunchTimeout,
		"navigation_timeout": b.NavigationTimeout,
		"action_timeout":     b.ActionTimeout,
		"shutdown_timeout":   b.ShutdownTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("browser.%s must be a positive duration", name)
		}
	}
	return nil
}

// Validate checks the target description. An empty base URL is allowed here
// so that commands that never browse can still load the file.
func (t TargetConfig) Validate() error {
	if t.BaseURL != "" {
		u, err := url.Parse(t.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("target.base_url %q must be an absolute http(s) URL", t.BaseURL)
		}
	}
	if t.ExpectedTitle == "" {
		return errors.New("target.expected_title must not be empty")
	}
	return nil
}

// Validate checks every selector has a query and a known kind.
func (s SelectorsConfig) Validate() error {
	for name, sel := range map[string]SelectorConfig{
		"username":          s.Username,
		"password":          s.Password,
		"submit":            s.Submit,
		"post_login_marker": s.PostLoginMarker,
	} {
		if strings.TrimSpace(sel.Query) == "" {
			return fmt.Errorf("selectors.%s.query must not be empty", name)
		}
		switch sel.Kind {
		case "", "css", "xpath":
		default:
			return fmt.Errorf("selectors.%s.kind must be \"css\" or \"xpath\", got %q", name, sel.Kind)
		}
	}
	return nil
}

// Validate enforces timeout > poll_interval > 0 for every wait.
func (t TimeoutsConfig) Validate() error {
	if t.PollInterval <= 0 {
		return errors.New("timeouts.poll_interval must be a positive duration")
	}
	for name, d := range map[string]time.Duration{
		"dashboard":  t.Dashboard,
		"login_form": t.LoginForm,
		"post_login": t.PostLogin,
	} {
		if d <= t.PollInterval {
			return fmt.Errorf("timeouts.%s (%s) must exceed timeouts.poll_interval (%s)", name, d, t.PollInterval)
		}
	}
	return nil
}

// ValidateForVerify checks the settings only the verify command needs.
func (c *Config) ValidateForVerify() error {
	if c.Target.BaseURL == "" {
		return errors.New("target.base_url is required (flag --target or DASHPROBE_TARGET_BASE_URL)")
	}
	if c.Credentials.Username == "" || c.Credentials.Password == "" {
		return errors.New("credentials are required: set TEST_USER and TEST_PASS (or DASHPROBE_CREDENTIALS_USERNAME/PASSWORD)")
	}
	return nil
}
