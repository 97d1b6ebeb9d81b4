// Package browser owns the rod-controlled browser used to watch a stream:
// launching it with the watcher's fixed flag set, preparing the single page
// (user agent, auth cookie, viewport, proxy auth) and relaunching on demand.
package browser

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"streamwatch/internal/config"
	"streamwatch/internal/credential"
	"streamwatch/internal/logging"
)

// ErrNotStarted is returned by page operations before Start or after Shutdown.
var ErrNotStarted = errors.New("browser not started")

const (
	// AuthCookieName carries the session token.
	AuthCookieName = "auth-token"
	// AuthCookieDomain scopes the session cookie.
	AuthCookieDomain = ".twitch.tv"
)

// slowLaunch is the launch duration above which a warning is logged.
const slowLaunch = 30 * time.Second

// launchFlags are passed to every launched browser.
var launchFlags = []flags.Flag{
	"disable-dev-shm-usage",
	"disable-accelerated-2d-canvas",
	"no-first-run",
	"no-zygote",
	"disable-gpu",
	"no-sandbox",
	"disable-setuid-sandbox",
	"single-process",
	"disable-notifications",
	"disable-geolocation",
	"disable-infobars",
	"silent-debugger-extension-api",
}

// Config holds the launch and page settings.
type Config struct {
	Headless       bool
	Proxy          string
	ProxyAuth      string
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	Stealth        bool

	// Timeout bounds each page operation. Zero means unlimited.
	Timeout time.Duration

	// Flags are extra "name" or "name=value" switches.
	Flags []string
}

// ConfigFrom builds the manager config from watcher settings.
func ConfigFrom(c *config.Config) Config {
	return Config{
		Headless:       c.Browser.Headless,
		Proxy:          c.Browser.Proxy,
		ProxyAuth:      c.Browser.ProxyAuth,
		UserAgent:      c.Browser.UserAgent,
		ViewportWidth:  c.Browser.ViewportWidth,
		ViewportHeight: c.Browser.ViewportHeight,
		Timeout:        c.GetBrowserTimeout(),
		Flags:          c.Browser.ExtraFlags,
		Stealth:        c.Browser.Stealth,
	}
}

func (c Config) viewport() (int, int) {
	w, h := c.ViewportWidth, c.ViewportHeight
	if w <= 0 {
		w = 1024
	}
	if h <= 0 {
		h = 768
	}
	return w, h
}

// process is the launched browser process. *launcher.Launcher satisfies it.
type process interface {
	PID() int
	Kill()
	Cleanup()
}

// instance is one live browser: process, connection and page.
type instance struct {
	id      string
	proc    process
	browser *rod.Browser
	page    *rod.Page
}

// launchFunc starts a fresh instance.
type launchFunc func(ctx context.Context) (*instance, error)

// Manager owns at most one live browser instance.
type Manager struct {
	cfg    Config
	cred   credential.Credential
	logger *zap.Logger

	mu     sync.Mutex
	inst   *instance
	launch launchFunc

	// settle is the pause after a successful click.
	settle time.Duration
}

// NewManager creates a manager for the given credential.
func NewManager(cfg Config, cred credential.Credential, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		cfg:    cfg,
		cred:   cred,
		logger: logger,
		settle: 500 * time.Millisecond,
	}
	m.launch = m.launchBrowser
	return m
}

// Start launches the browser. It is a no-op when an instance is already live.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inst != nil {
		return nil
	}
	return m.startLocked(ctx)
}

func (m *Manager) startLocked(ctx context.Context) error {
	timer := logging.StartTimer(logging.CategoryBrowser, "launch")
	inst, err := m.launch(ctx)
	if err != nil {
		logging.BrowserError("Launch failed: %v", err)
		return err
	}
	timer.StopWithThreshold(slowLaunch)

	m.inst = inst
	pid := 0
	if inst.proc != nil {
		pid = inst.proc.PID()
	}
	m.logger.Info("Browser launched", zap.String("session", inst.id), zap.Int("pid", pid))
	logging.Browser("Browser %s launched (pid %d)", inst.id, pid)
	return nil
}

// Restart tears the current instance down completely, then launches a new one.
func (m *Manager) Restart(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inst != nil {
		m.logger.Info("Restarting browser", zap.String("session", m.inst.id))
		m.teardownLocked()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.startLocked(ctx)
}

// Shutdown closes the browser without relaunching.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inst != nil {
		m.teardownLocked()
	}
}

// teardownLocked closes every page, kills the process tree and waits for it
// to exit. The instance is cleared even when closing fails.
func (m *Manager) teardownLocked() {
	inst := m.inst
	m.inst = nil

	if inst.browser != nil {
		if pages, err := inst.browser.Pages(); err == nil {
			for _, p := range pages {
				_ = p.Close()
			}
		}
		_ = inst.browser.Close()
	}
	if inst.proc != nil {
		inst.proc.Kill()
		inst.proc.Cleanup()
	}
	logging.Browser("Browser %s torn down", inst.id)
}

// SessionID returns the ID of the live instance, or "" when stopped.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inst == nil {
		return ""
	}
	return m.inst.id
}

// IsRunning reports whether an instance is live.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inst != nil
}

func (m *Manager) launchBrowser(ctx context.Context) (*instance, error) {
	l := launcher.New().
		Context(ctx).
		Headless(m.cfg.Headless).
		Leakless(true)
	if m.cred.Exec != "" {
		l = l.Bin(m.cred.Exec)
	}
	for _, f := range launchFlags {
		l = l.Set(f)
	}
	if m.cfg.Proxy != "" {
		l = l.Proxy(m.cfg.Proxy)
	}
	for _, raw := range m.cfg.Flags {
		name, val, hasVal := strings.Cut(strings.TrimLeft(raw, "-"), "=")
		if hasVal {
			l = l.Set(flags.Flag(name), val)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}

	controlURL, err := l.Launch()
	if err != nil {
		l.Kill()
		return nil, fmt.Errorf("launch browser %q: %w", m.cred.Exec, err)
	}

	inst := &instance{id: uuid.NewString(), proc: l}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		l.Cleanup()
		return nil, fmt.Errorf("connect to browser: %w", err)
	}
	inst.browser = b

	page, err := m.openPage(ctx, b)
	if err != nil {
		_ = b.Close()
		l.Kill()
		l.Cleanup()
		return nil, err
	}
	inst.page = page
	return inst, nil
}

// openPage creates the watch page and applies user agent, auth cookie,
// viewport and proxy credentials.
func (m *Manager) openPage(ctx context.Context, b *rod.Browser) (*rod.Page, error) {
	var (
		page *rod.Page
		err  error
	)
	if m.cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	p := page.Context(ctx)

	m.logger.Debug("Setting user agent")
	if err := p.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: m.cfg.UserAgent}); err != nil {
		return nil, fmt.Errorf("set user agent: %w", err)
	}

	m.logger.Debug("Setting auth token")
	if err := p.SetCookies([]*proto.NetworkCookieParam{{
		Name:   AuthCookieName,
		Value:  m.cred.Token,
		Domain: AuthCookieDomain,
		Path:   "/",
		Secure: true,
	}}); err != nil {
		return nil, fmt.Errorf("set auth cookie: %w", err)
	}

	w, h := m.cfg.viewport()
	if err := p.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             w,
		Height:            h,
		DeviceScaleFactor: 1,
	}); err != nil {
		return nil, fmt.Errorf("set viewport: %w", err)
	}

	if m.cfg.ProxyAuth != "" {
		if _, err := p.SetExtraHeaders([]string{"Proxy-Authorization", ProxyAuthHeader(m.cfg.ProxyAuth)}); err != nil {
			return nil, fmt.Errorf("set proxy auth header: %w", err)
		}
	}
	return page, nil
}

// ProxyAuthHeader returns the Basic authorization value for "user:pass".
func ProxyAuthHeader(auth string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(auth))
}

// page returns the live page bound to ctx and the configured timeout. The
// returned func releases the timeout and must be called when the operation
// is done.
func (m *Manager) page(ctx context.Context) (*rod.Page, context.CancelFunc, error) {
	m.mu.Lock()
	inst := m.inst
	m.mu.Unlock()

	if inst == nil || inst.page == nil {
		return nil, nil, ErrNotStarted
	}
	cancel := context.CancelFunc(func() {})
	if m.cfg.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
	}
	return inst.page.Context(ctx), cancel, nil
}
