// Package watch runs the stream watching loop: log in once, then
// periodically reload the channel page, dismiss dialogs, lower the player
// quality on the first pass, capture a screenshot and report presence status.
package watch

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"streamwatch/internal/browser"
	"streamwatch/internal/logging"
)

// ErrLoginFailed is returned when the session cookie is not accepted.
var ErrLoginFailed = errors.New("login failed: invalid token")

// Driver is the page automation the loop needs. *browser.Manager implements it.
type Driver interface {
	Navigate(ctx context.Context, url string, idle bool) error
	Query(ctx context.Context, selector string) ([]browser.Element, error)
	Click(ctx context.Context, selector string) (browser.ClickOutcome, error)
	ClickByID(ctx context.Context, id string) error
	PressKey(ctx context.Context, key string) error
	WaitFor(ctx context.Context, selector string) error
	Screenshot(ctx context.Context) ([]byte, error)
	Cookies(ctx context.Context) ([]browser.Cookie, error)
	Restart(ctx context.Context) error
}

var _ Driver = (*browser.Manager)(nil)

// Clock supplies time to the loop.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Phase is the loop's position.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseLoginCheck
	PhasePoll
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseLoginCheck:
		return "login_check"
	case PhasePoll:
		return "poll"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// State is carried from one step to the next.
type State struct {
	Phase       Phase
	Running     bool
	FirstRun    bool
	NextRefresh time.Time
	Iterations  int
}

// InitialState is the state before the home page is loaded.
func InitialState() State {
	return State{Phase: PhaseInit, Running: true, FirstRun: true}
}

// Watcher drives one browser through the watch loop.
type Watcher struct {
	Driver  Driver
	Options Options
	Logger  *zap.Logger
	Clock   Clock

	schedule cron.Schedule
}

// New validates options and returns a watcher using the wall clock.
func New(d Driver, opts Options, logger *zap.Logger) (*Watcher, error) {
	sched, err := parseSchedule(opts.RefreshSchedule)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		Driver:   d,
		Options:  opts,
		Logger:   logger,
		Clock:    realClock{},
		schedule: sched,
	}, nil
}

// Run steps the loop until it stops. Cancellation is a normal stop and
// returns nil; login failure returns ErrLoginFailed.
func (w *Watcher) Run(ctx context.Context) error {
	state := InitialState()
	for state.Phase != PhaseStopped {
		next, err := w.Step(ctx, state)
		if err != nil {
			if ctx.Err() != nil {
				w.Logger.Debug("Stopped during step", zap.Stringer("phase", state.Phase))
				return nil
			}
			return err
		}
		state = next
	}
	return nil
}

// Step performs the work of one phase and returns the following state.
// Only INIT and LOGIN_CHECK failures are returned; poll iteration errors are
// logged and the loop continues.
func (w *Watcher) Step(ctx context.Context, s State) (State, error) {
	if ctx.Err() != nil || !s.Running {
		return stopped(s), nil
	}

	switch s.Phase {
	case PhaseInit:
		if err := w.Driver.Navigate(ctx, w.Options.HomeURL, true); err != nil {
			return s, err
		}
		s.NextRefresh = w.schedule.Next(w.Clock.Now())
		s.Phase = PhaseLoginCheck
		return s, nil

	case PhaseLoginCheck:
		w.Logger.Info("Checking login...")
		ok, err := w.loggedIn(ctx)
		if err != nil {
			return s, err
		}
		if !ok {
			w.Logger.Error("Login failed! Invalid token")
			logging.WatchError("Login cookie %s missing", w.Options.LoginCookie)
			return stopped(s), ErrLoginFailed
		}
		w.Logger.Info("Login successful!")
		s.Phase = PhasePoll
		return s, nil

	case PhasePoll:
		s = w.iterate(ctx, s)
		if ctx.Err() != nil {
			return stopped(s), nil
		}
		if w.Options.Once {
			return stopped(s), nil
		}
		if err := w.sleep(ctx, w.Options.PollInterval); err != nil {
			return stopped(s), nil
		}
		return s, nil
	}
	return stopped(s), nil
}

func stopped(s State) State {
	s.Phase = PhaseStopped
	s.Running = false
	return s
}

func (w *Watcher) loggedIn(ctx context.Context) (bool, error) {
	cookies, err := w.Driver.Cookies(ctx)
	if err != nil {
		return false, err
	}
	for _, c := range cookies {
		if c.Name == w.Options.LoginCookie {
			return true, nil
		}
	}
	return false, nil
}

// sleep waits d on the watcher clock or until ctx is done.
func (w *Watcher) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.Clock.After(d):
		return nil
	}
}
