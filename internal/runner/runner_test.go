package runner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/dashprobe/internal/browser"
	"github.com/xkilldash9x/dashprobe/internal/config"
	"github.com/xkilldash9x/dashprobe/internal/outcome"
	"github.com/xkilldash9x/dashprobe/internal/workflow"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	testUser     = "admin"
	testPassword = "correct-horse"
)

func testOptions() Options {
	return Options{
		Workflow: workflow.Config{
			BaseURL:       "https://dashboard.test",
			ExpectedTitle: "Wazuh",
			Selectors: workflow.Selectors{
				Username:        browser.Selector{Query: "#user"},
				Password:        browser.Selector{Query: "#pass"},
				Submit:          browser.Selector{Query: "#submit"},
				PostLoginMarker: browser.Selector{Query: `//span[text()="Agents summary"]`, Kind: browser.XPath},
			},
			Timeouts: workflow.Timeouts{
				Dashboard:    100 * time.Millisecond,
				LoginForm:    100 * time.Millisecond,
				PostLogin:    100 * time.Millisecond,
				PollInterval: 10 * time.Millisecond,
			},
		},
		Credentials: workflow.Credentials{Username: testUser, Password: testPassword},
		Runs:        1,
		Parallel:    1,
	}
}

// stubDriver is a dashboard that renders everything at once.
type stubDriver struct {
	mu        sync.Mutex
	user      string
	pass      string
	submitted bool
}

func (d *stubDriver) Navigate(context.Context, string) error { return nil }

func (d *stubDriver) Title(context.Context) (string, error) { return "Wazuh", nil }

func (d *stubDriver) Find(_ context.Context, sel browser.Selector) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if sel.Kind == browser.XPath {
		if d.submitted && d.user == testUser && d.pass == testPassword {
			return nil
		}
		return fmt.Errorf("%w: %s", outcome.ErrElementNotFound, sel)
	}
	return nil
}

func (d *stubDriver) Text(context.Context, browser.Selector) (string, error) {
	return "Agents summary", nil
}

func (d *stubDriver) SendKeys(_ context.Context, sel browser.Selector, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if sel.Query == "#user" {
		d.user = text
	} else {
		d.pass = text
	}
	return nil
}

func (d *stubDriver) Click(context.Context, browser.Selector) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.submitted = true
	return nil
}

// fakeLauncher hands out stub drivers and records how sessions were used.
type fakeLauncher struct {
	mu        sync.Mutex
	active    atomic.Int32
	maxActive atomic.Int32
	dirs      []string
	opened    int
	closed    int
	launchErr error
	hold      time.Duration
}

func (f *fakeLauncher) open(ctx context.Context, cfg browser.SessionConfig, _ *zap.Logger, fn func(workflow.Driver) error) error {
	if f.launchErr != nil {
		return f.launchErr
	}

	f.mu.Lock()
	f.opened++
	f.dirs = append(f.dirs, cfg.UserDataDir)
	f.mu.Unlock()

	n := f.active.Add(1)
	for {
		cur := f.maxActive.Load()
		if n <= cur || f.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}
	defer func() {
		f.active.Add(-1)
		f.mu.Lock()
		f.closed++
		f.mu.Unlock()
	}()

	if _, err := os.Stat(cfg.UserDataDir); err != nil {
		return fmt.Errorf("profile directory missing during run: %w", err)
	}
	if f.hold > 0 {
		time.Sleep(f.hold)
	}
	return fn(&stubDriver{})
}

type memoryReporter struct {
	mu      sync.Mutex
	reports []*workflow.Report
	err     error
}

func (m *memoryReporter) Write(r *workflow.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.reports = append(m.reports, r)
	return nil
}

type memoryRecorder struct {
	saved []string
	err   error
}

func (m *memoryRecorder) SaveRun(_ context.Context, r *workflow.Report) error {
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, r.RunID)
	return nil
}

func TestNew_RejectsIncompleteInput(t *testing.T) {
	opts := testOptions()
	opts.Credentials.Password = ""
	_, err := New(opts, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.NotContains(t, err.Error(), testUser)

	opts = testOptions()
	opts.Workflow.BaseURL = "ftp://dashboard.test"
	_, err = New(opts, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestRun_EachRunGetsItsOwnSession(t *testing.T) {
	launcher := &fakeLauncher{hold: 30 * time.Millisecond}
	reporter := &memoryReporter{}
	recorder := &memoryRecorder{}
	parent := t.TempDir()

	opts := testOptions()
	opts.Runs = 5
	opts.Parallel = 2
	r, err := New(opts, zaptest.NewLogger(t),
		WithSessionFunc(launcher.open),
		WithReporter(reporter),
		WithRecorder(recorder),
		WithTempDir(parent))
	require.NoError(t, err)

	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, summary.Reports, 5)
	assert.True(t, summary.Passed())
	assert.Zero(t, summary.Failures())
	assert.Equal(t, 5, launcher.opened)
	assert.Equal(t, 5, launcher.closed, "every session is torn down")
	assert.LessOrEqual(t, launcher.maxActive.Load(), int32(2))

	seen := map[string]bool{}
	for _, dir := range launcher.dirs {
		assert.False(t, seen[dir], "profile directory %s reused", dir)
		seen[dir] = true
		_, statErr := os.Stat(dir)
		assert.True(t, os.IsNotExist(statErr), "profile directory %s not removed", dir)
	}

	ids := map[string]bool{}
	for _, rep := range summary.Reports {
		assert.Equal(t, workflow.AuthenticatedViewVisible, rep.State)
		ids[rep.RunID] = true
	}
	assert.Len(t, ids, 5, "run ids are unique")
	assert.Len(t, reporter.reports, 5)
	assert.Len(t, recorder.saved, 5)
}

func TestRun_LaunchFailureIsReported(t *testing.T) {
	launcher := &fakeLauncher{launchErr: outcome.New(outcome.KindLaunch, "browser process failed to start", errors.New("exec: not found"))}
	reporter := &memoryReporter{}

	r, err := New(testOptions(), zaptest.NewLogger(t), WithSessionFunc(launcher.open), WithReporter(reporter), WithTempDir(t.TempDir()))
	require.NoError(t, err)

	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Reports, 1)
	assert.False(t, summary.Passed())

	rep := summary.Reports[0]
	assert.Equal(t, workflow.Failed, rep.State)
	assert.Equal(t, workflow.Start, rep.Reached)
	require.NotNil(t, rep.Failure)
	assert.Equal(t, outcome.KindLaunch, rep.Failure.Kind)
	assert.ErrorIs(t, rep.Err(), outcome.ErrLaunch)
	assert.Empty(t, rep.Steps)
	assert.Len(t, reporter.reports, 1)
}

func TestRun_UnclassifiedSessionErrorBecomesLaunchError(t *testing.T) {
	launcher := &fakeLauncher{launchErr: errors.New("allocator exploded")}
	r, err := New(testOptions(), zaptest.NewLogger(t), WithSessionFunc(launcher.open), WithTempDir(t.TempDir()))
	require.NoError(t, err)

	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Reports, 1)
	assert.ErrorIs(t, summary.Reports[0].Err(), outcome.ErrLaunch)
}

func TestRun_BadCredentialsFailAtPostLogin(t *testing.T) {
	launcher := &fakeLauncher{}
	opts := testOptions()
	opts.Credentials.Password = "wrong"

	r, err := New(opts, zaptest.NewLogger(t), WithSessionFunc(launcher.open), WithTempDir(t.TempDir()))
	require.NoError(t, err)

	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Reports, 1)

	rep := summary.Reports[0]
	assert.Equal(t, workflow.Submitted, rep.Reached)
	require.NotNil(t, rep.Failure)
	assert.Equal(t, outcome.KindTimedOut, rep.Failure.Kind)
	assert.Equal(t, "Submitted -> AuthenticatedViewVisible", rep.Failure.Transition)
	assert.Equal(t, 1, launcher.closed)
}

func TestRun_RecorderFailureIsNotFatal(t *testing.T) {
	r, err := New(testOptions(), zaptest.NewLogger(t),
		WithSessionFunc((&fakeLauncher{}).open),
		WithRecorder(&memoryRecorder{err: errors.New("db down")}),
		WithTempDir(t.TempDir()))
	require.NoError(t, err)

	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.Passed())
}

func TestRun_ReporterFailureIsReturned(t *testing.T) {
	r, err := New(testOptions(), zaptest.NewLogger(t),
		WithSessionFunc((&fakeLauncher{}).open),
		WithReporter(&memoryReporter{err: errors.New("disk full")}),
		WithTempDir(t.TempDir()))
	require.NoError(t, err)

	_, err = r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, err := New(testOptions(), zaptest.NewLogger(t), WithSessionFunc((&fakeLauncher{}).open), WithTempDir(t.TempDir()))
	require.NoError(t, err)

	summary, err := r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, summary.Reports)
	assert.False(t, summary.Passed())
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Target.BaseURL = "https://3.92.21.45"
	cfg.Browser.IgnoreTLSErrors = true
	cfg.Credentials = config.CredentialsConfig{Username: "wazuh", Password: "pw"}
	cfg.Runs = config.RunsConfig{Count: 3, Parallel: 2}

	opts := OptionsFromConfig(cfg)

	assert.True(t, opts.Session.Headless)
	assert.True(t, opts.Session.IgnoreCertificateErrors)
	assert.True(t, opts.Session.SandboxDisabled)
	assert.True(t, opts.Session.SharedMemoryDisabled)
	assert.Equal(t, 1366, opts.Session.WindowWidth)
	assert.Equal(t, "https://3.92.21.45/app/login", opts.Workflow.LoginURL())
	assert.Equal(t, browser.CSS, opts.Workflow.Selectors.Username.Kind)
	assert.Equal(t, browser.XPath, opts.Workflow.Selectors.PostLoginMarker.Kind)
	assert.Equal(t, 500*time.Millisecond, opts.Workflow.Timeouts.PollInterval)
	assert.Equal(t, "wazuh", opts.Credentials.Username)
	assert.Equal(t, 3, opts.Runs)
	assert.Equal(t, 2, opts.Parallel)
	assert.NoError(t, opts.Workflow.Validate())
}

// -- Browser end-to-end --

func findChrome(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser integration test in short mode")
	}
	if p := os.Getenv("DASHPROBE_CHROME"); p != "" {
		return p
	}
	for _, name := range []string{"headless-shell", "chromium", "chromium-browser", "google-chrome", "google-chrome-stable"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	t.Skip("no Chrome/Chromium binary found; set DASHPROBE_CHROME to run browser integration tests")
	return ""
}

const dashboardPage = `<html><head><title>Wazuh</title></head><body><a href="/app/login">Log in</a></body></html>`

// loginPage renders the form late and the marker later still, like the real dashboard.
const loginPage = `<html><head><title>Wazuh</title></head><body><div id="root"></div>
<script>
setTimeout(function () {
  document.getElementById('root').innerHTML =
    '<input data-test-subj="user-name"/>' +
    '<input type="password" data-test-subj="password"/>' +
    '<button data-test-subj="submit">Log in</button>';
  document.querySelector('[data-test-subj="submit"]').addEventListener('click', function () {
    var u = document.querySelector('[data-test-subj="user-name"]').value;
    var p = document.querySelector('[data-test-subj="password"]').value;
    if (u === '%s' && p === '%s') {
      setTimeout(function () {
        var s = document.createElement('span');
        s.textContent = 'Agents summary';
        document.body.appendChild(s);
      }, 300);
    }
  });
}, 200);
</script></body></html>`

func TestRun_EndToEndAgainstFakeDashboard(t *testing.T) {
	chrome := findChrome(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, dashboardPage)
	})
	mux.HandleFunc("/app/login", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, loginPage, testUser, testPassword)
	})
	server := httptest.NewTLSServer(mux)
	t.Cleanup(server.Close)

	cfg := config.NewDefaultConfig()
	cfg.Target.BaseURL = server.URL
	cfg.Browser.ExecPath = chrome
	cfg.Browser.IgnoreTLSErrors = true
	cfg.Timeouts = config.TimeoutsConfig{
		Dashboard:    5 * time.Second,
		LoginForm:    5 * time.Second,
		PostLogin:    3 * time.Second,
		PollInterval: 100 * time.Millisecond,
	}

	tests := []struct {
		name      string
		password  string
		wantPass  bool
		wantKind  outcome.Kind
		wantReach workflow.State
	}{
		{name: "valid credentials", password: testPassword, wantPass: true, wantReach: workflow.AuthenticatedViewVisible},
		{name: "invalid credentials", password: "nope", wantKind: outcome.KindTimedOut, wantReach: workflow.Submitted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg.Credentials = config.CredentialsConfig{Username: testUser, Password: tt.password}
			r, err := New(OptionsFromConfig(cfg), zaptest.NewLogger(t), WithTempDir(t.TempDir()))
			require.NoError(t, err)

			summary, err := r.Run(context.Background())
			require.NoError(t, err)
			require.Len(t, summary.Reports, 1)

			rep := summary.Reports[0]
			assert.Equal(t, tt.wantPass, rep.Passed())
			assert.Equal(t, tt.wantReach, rep.Reached)
			if !tt.wantPass {
				require.NotNil(t, rep.Failure)
				assert.Equal(t, tt.wantKind, rep.Failure.Kind)
			}
		})
	}
}
