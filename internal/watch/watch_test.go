package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"streamwatch/internal/browser"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	homeURL   = "https://www.twitch.tv/"
	streamURL = "https://www.twitch.tv/gaules"
)

// fakeDriver scripts page state and records every call.
type fakeDriver struct {
	sel       Selectors
	cookies   []browser.Cookie
	offline   bool
	status    string
	qualities []string
	buttons   map[string]bool
	waitErr   map[string]error

	// onStream runs before each channel navigation; n counts from 1.
	onStream func(ctx context.Context, n int) error

	calls    []string
	streams  int
	restarts int
	byID     []string
}

func newFakeDriver() *fakeDriver {
	sel := DefaultSelectors()
	return &fakeDriver{
		sel:       sel,
		cookies:   []browser.Cookie{{Name: "auth-token"}, {Name: "twilight-user"}},
		status:    "Online",
		qualities: []string{"q-1080", "q-720", "q-160"},
		buttons: map[string]bool{
			sel.Consent: true,
			sel.Mature:  true,
			sel.Pause:   true,
			sel.Sidebar: true,
		},
	}
}

func (d *fakeDriver) Navigate(ctx context.Context, url string, idle bool) error {
	d.calls = append(d.calls, "navigate:"+url)
	if url == streamURL {
		d.streams++
		if d.onStream != nil {
			if err := d.onStream(ctx, d.streams); err != nil {
				return err
			}
		}
	}
	return ctx.Err()
}

func (d *fakeDriver) Query(ctx context.Context, selector string) ([]browser.Element, error) {
	d.calls = append(d.calls, "query:"+selector)
	switch selector {
	case d.sel.Offline:
		if d.offline {
			return []browser.Element{{Tag: "div"}}, nil
		}
	case d.sel.Status:
		if d.status != "" {
			return []browser.Element{{Tag: "span", Text: d.status}}, nil
		}
	case d.sel.QualityOption:
		out := make([]browser.Element, 0, len(d.qualities))
		for _, id := range d.qualities {
			out = append(out, browser.Element{Tag: "input", Attrs: map[string]string{"id": id}})
		}
		return out, nil
	}
	return nil, nil
}

func (d *fakeDriver) Click(ctx context.Context, selector string) (browser.ClickOutcome, error) {
	d.calls = append(d.calls, "click:"+selector)
	if d.buttons[selector] {
		return browser.ClickDone, nil
	}
	return browser.ClickAbsent, nil
}

func (d *fakeDriver) ClickByID(ctx context.Context, id string) error {
	d.calls = append(d.calls, "clickid:"+id)
	d.byID = append(d.byID, id)
	return nil
}

func (d *fakeDriver) PressKey(ctx context.Context, key string) error {
	d.calls = append(d.calls, "key:"+key)
	return nil
}

func (d *fakeDriver) WaitFor(ctx context.Context, selector string) error {
	d.calls = append(d.calls, "wait:"+selector)
	if err := d.waitErr[selector]; err != nil {
		return err
	}
	return ctx.Err()
}

func (d *fakeDriver) Screenshot(ctx context.Context) ([]byte, error) {
	d.calls = append(d.calls, "screenshot")
	return []byte("\x89PNG fake"), nil
}

func (d *fakeDriver) Cookies(ctx context.Context) ([]browser.Cookie, error) {
	d.calls = append(d.calls, "cookies")
	return d.cookies, nil
}

func (d *fakeDriver) Restart(ctx context.Context) error {
	d.calls = append(d.calls, "restart")
	d.restarts++
	return nil
}

func (d *fakeDriver) count(prefix string) int {
	n := 0
	for _, c := range d.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// fakeClock advances instantly on every wait.
type fakeClock struct {
	now   time.Time
	slept []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.now = c.now.Add(d)
	c.slept = append(c.slept, d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func testOptions(t *testing.T) Options {
	return Options{
		Channel:          "gaules",
		HomeURL:          homeURL,
		StreamURL:        streamURL,
		LoginCookie:      "twilight-user",
		Screenshots:      true,
		ScreenshotFolder: filepath.Join(t.TempDir(), "screenshots"),
		PollInterval:     time.Hour,
		DialogSettle:     5 * time.Second,
		ScreenshotDelay:  time.Second,
		RefreshSchedule:  "@every 1h",
		Selectors:        DefaultSelectors(),
	}
}

func newTestWatcher(t *testing.T, d Driver, opts Options) (*Watcher, *fakeClock, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	w, err := New(d, opts, zap.New(core))
	require.NoError(t, err)
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	w.Clock = clock
	return w, clock, logs
}

// cancelOn cancels the run context at the n-th channel navigation.
func cancelOn(d *fakeDriver, cancel context.CancelFunc, n int) {
	d.onStream = func(ctx context.Context, i int) error {
		if i == n {
			cancel()
		}
		return nil
	}
}

func TestRun_LoginFailed(t *testing.T) {
	d := newFakeDriver()
	d.cookies = []browser.Cookie{{Name: "auth-token"}}
	w, _, logs := newTestWatcher(t, d, testOptions(t))

	err := w.Run(context.Background())
	require.ErrorIs(t, err, ErrLoginFailed)

	assert.Equal(t, []string{"navigate:" + homeURL, "cookies"}, d.calls)
	assert.Equal(t, 1, logs.FilterMessage("Login failed! Invalid token").Len())
}

func TestRun_OnceOnline(t *testing.T) {
	d := newFakeDriver()
	opts := testOptions(t)
	opts.Once = true
	w, clock, logs := newTestWatcher(t, d, opts)

	require.NoError(t, w.Run(context.Background()))

	sel := d.sel
	want := []string{
		"navigate:" + homeURL,
		"cookies",
		"navigate:" + streamURL,
		"query:" + sel.Offline,
		"click:" + sel.Consent,
		"click:" + sel.Mature,
		"click:" + sel.Pause,
		"click:" + sel.Settings,
		"wait:" + sel.QualityMenu,
		"click:" + sel.QualityMenu,
		"wait:" + sel.QualityOption,
		"query:" + sel.QualityOption,
		"clickid:q-160",
		"click:" + sel.Pause,
		"key:m",
		"screenshot",
		"click:" + sel.Sidebar,
		"wait:" + sel.Status,
		"query:" + sel.Status,
		"click:" + sel.Sidebar,
	}
	assert.Equal(t, want, d.calls)
	assert.Equal(t, []time.Duration{5 * time.Second, time.Second}, clock.slept, "once mode skips the poll wait")

	data, err := os.ReadFile(filepath.Join(opts.ScreenshotFolder, "gaules.png"))
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG fake", string(data))

	status := logs.FilterMessage("Account status").All()
	require.Len(t, status, 1)
	assert.Equal(t, "Online", status[0].ContextMap()["status"])
	assert.Equal(t, 1, logs.FilterMessage("Login successful!").Len())
	assert.Equal(t, 1, logs.FilterMessage("Time").Len())
}

func TestRun_OfflineSkipsQualityAndScreenshot(t *testing.T) {
	d := newFakeDriver()
	d.offline = true
	opts := testOptions(t)
	opts.Once = true
	w, _, logs := newTestWatcher(t, d, opts)

	require.NoError(t, w.Run(context.Background()))

	sel := d.sel
	want := []string{
		"navigate:" + homeURL,
		"cookies",
		"navigate:" + streamURL,
		"query:" + sel.Offline,
		"click:" + sel.Sidebar,
		"wait:" + sel.Status,
		"query:" + sel.Status,
		"click:" + sel.Sidebar,
	}
	assert.Equal(t, want, d.calls)
	assert.Zero(t, d.count("clickid:"))
	assert.Zero(t, d.count("screenshot"))

	_, err := os.Stat(opts.ScreenshotFolder)
	assert.True(t, os.IsNotExist(err), "offline pass must not touch the screenshot folder")
	assert.Equal(t, 1, logs.FilterMessage("Stream offline").Len())

	status := logs.FilterMessage("Account status").All()
	require.Len(t, status, 1)
	assert.Equal(t, "Online", status[0].ContextMap()["status"])
	assert.Equal(t, 1, logs.FilterMessage("Time").Len())
}

func TestRun_StatusLabelNeverShown(t *testing.T) {
	d := newFakeDriver()
	d.waitErr = map[string]error{d.sel.Status: context.DeadlineExceeded}
	opts := testOptions(t)
	opts.Once = true
	opts.StatusWait = time.Millisecond
	w, _, logs := newTestWatcher(t, d, opts)

	require.NoError(t, w.Run(context.Background()))

	assert.Zero(t, logs.FilterMessage("Watch iteration failed").Len())
	assert.Equal(t, 2, d.count("click:"+d.sel.Sidebar), "menu is closed again")
	assert.Zero(t, d.count("query:"+d.sel.Status))

	status := logs.FilterMessage("Account status").All()
	require.Len(t, status, 1)
	assert.Equal(t, "Unknown", status[0].ContextMap()["status"])
}

func TestStep_NoDialogGoesStraightToStatus(t *testing.T) {
	d := newFakeDriver()
	d.buttons[d.sel.Consent] = false
	d.buttons[d.sel.Mature] = false
	opts := testOptions(t)
	opts.Screenshots = false
	w, clock, logs := newTestWatcher(t, d, opts)

	s := State{Phase: PhasePoll, Running: true, FirstRun: false, NextRefresh: clock.now.Add(time.Hour)}
	s, err := w.Step(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, PhasePoll, s.Phase)

	sel := d.sel
	want := []string{
		"navigate:" + streamURL,
		"query:" + sel.Offline,
		"click:" + sel.Consent,
		"click:" + sel.Mature,
		"click:" + sel.Sidebar,
		"wait:" + sel.Status,
		"query:" + sel.Status,
		"click:" + sel.Sidebar,
	}
	assert.Equal(t, want, d.calls)
	assert.Equal(t, 1, logs.FilterMessage("Account status").Len())
}

func TestRun_QualityOnceAcrossRestarts(t *testing.T) {
	d := newFakeDriver()
	w, _, _ := newTestWatcher(t, d, testOptions(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cancelOn(d, cancel, 3)

	require.NoError(t, w.Run(ctx))

	assert.Equal(t, 3, d.streams)
	assert.Equal(t, 2, d.restarts)
	assert.Equal(t, []string{"q-160"}, d.byID)
	assert.Equal(t, 2, d.count("screenshot"))
}

func TestRun_RestartPrecedesNavigation(t *testing.T) {
	d := newFakeDriver()
	w, _, _ := newTestWatcher(t, d, testOptions(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cancelOn(d, cancel, 2)

	require.NoError(t, w.Run(ctx))

	var seq []string
	for _, c := range d.calls {
		if c == "restart" || c == "navigate:"+streamURL {
			seq = append(seq, c)
		}
	}
	assert.Equal(t, []string{"navigate:" + streamURL, "restart", "navigate:" + streamURL}, seq)
}

func TestRun_ScreenshotsDisabled(t *testing.T) {
	d := newFakeDriver()
	opts := testOptions(t)
	opts.Once = true
	opts.Screenshots = false
	w, _, _ := newTestWatcher(t, d, opts)

	require.NoError(t, w.Run(context.Background()))
	assert.Zero(t, d.count("screenshot"))
	assert.Equal(t, 1, d.count("clickid:"))
}

func TestRun_StatusUnknown(t *testing.T) {
	d := newFakeDriver()
	d.status = ""
	opts := testOptions(t)
	opts.Once = true
	w, _, logs := newTestWatcher(t, d, opts)

	require.NoError(t, w.Run(context.Background()))

	status := logs.FilterMessage("Account status").All()
	require.Len(t, status, 1)
	assert.Equal(t, "Unknown", status[0].ContextMap()["status"])
}

func TestRun_IterationErrorContinues(t *testing.T) {
	d := newFakeDriver()
	w, _, logs := newTestWatcher(t, d, testOptions(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.onStream = func(_ context.Context, n int) error {
		switch n {
		case 1:
			return errors.New("net::ERR_CONNECTION_RESET")
		case 3:
			cancel()
		}
		return nil
	}

	require.NoError(t, w.Run(ctx))

	failed := logs.FilterMessage("Watch iteration failed").All()
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].ContextMap()["error"], "ERR_CONNECTION_RESET")
	assert.Equal(t, 1, d.count("clickid:"), "quality still set on the next successful pass")
}

func TestRun_QualityFailureRetriedNextPass(t *testing.T) {
	d := newFakeDriver()
	d.qualities = nil
	w, _, logs := newTestWatcher(t, d, testOptions(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.onStream = func(_ context.Context, n int) error {
		if n == 2 {
			d.qualities = []string{"q-720", "q-160"}
		}
		if n == 3 {
			cancel()
		}
		return nil
	}

	require.NoError(t, w.Run(ctx))

	assert.Equal(t, 1, logs.FilterMessage("Watch iteration failed").Len())
	assert.Equal(t, []string{"q-160"}, d.byID)
}

// blockingClock never fires and cancels the run when a wait begins.
type blockingClock struct {
	now    time.Time
	cancel context.CancelFunc
}

func (c *blockingClock) Now() time.Time { return c.now }

func (c *blockingClock) After(time.Duration) <-chan time.Time {
	c.cancel()
	return nil
}

func TestRun_CancelDuringWaitReturnsNil(t *testing.T) {
	d := newFakeDriver()
	w, _, logs := newTestWatcher(t, d, testOptions(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Clock = &blockingClock{now: time.Now(), cancel: cancel}

	require.NoError(t, w.Run(ctx))

	// The dialog settle wait is the first suspension point of the pass.
	assert.Zero(t, d.count("screenshot"))
	assert.Zero(t, logs.FilterMessage("Watch iteration failed").Len())
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	d := newFakeDriver()
	w, _, _ := newTestWatcher(t, d, testOptions(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, w.Run(ctx))
	assert.Empty(t, d.calls)
}

func TestRun_RealClockCancel(t *testing.T) {
	d := newFakeDriver()
	d.offline = true
	core, _ := observer.New(zap.InfoLevel)
	w, err := New(d, testOptions(t), zap.New(core))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestStep_Transitions(t *testing.T) {
	d := newFakeDriver()
	w, clock, _ := newTestWatcher(t, d, testOptions(t))
	ctx := context.Background()

	s := InitialState()
	assert.True(t, s.FirstRun)
	assert.True(t, s.Running)

	s, err := w.Step(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, PhaseLoginCheck, s.Phase)
	assert.Equal(t, clock.now.Add(time.Hour), s.NextRefresh)

	s, err = w.Step(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, PhasePoll, s.Phase)

	s, err = w.Step(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, PhasePoll, s.Phase)
	assert.False(t, s.FirstRun)
	assert.Equal(t, 1, s.Iterations)

	s.Running = false
	s, err = w.Step(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, PhaseStopped, s.Phase)
}

func TestNew_InvalidSchedule(t *testing.T) {
	opts := Options{RefreshSchedule: "every hour please"}
	_, err := New(newFakeDriver(), opts, nil)
	assert.Error(t, err)
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "init", PhaseInit.String())
	assert.Equal(t, "login_check", PhaseLoginCheck.String())
	assert.Equal(t, "poll", PhasePoll.String())
	assert.Equal(t, "stopped", PhaseStopped.String())
	assert.Equal(t, "unknown", Phase(7).String())
}
