package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"streamwatch/internal/browser"
	"streamwatch/internal/logging"
)

const timeLayout = "15:04:05"

// iterate runs one poll pass. Errors are logged, never returned.
func (w *Watcher) iterate(ctx context.Context, s State) State {
	s.Iterations++
	timer := logging.StartTimer(logging.CategoryWatch, fmt.Sprintf("iteration %d", s.Iterations))
	next, err := w.poll(ctx, s)
	if err != nil && ctx.Err() == nil {
		w.Logger.Error("Watch iteration failed", zap.Int("iteration", s.Iterations), zap.Error(err))
		logging.WatchError("Iteration %d failed: %v", s.Iterations, err)
	}
	timer.Stop()
	return next
}

func (w *Watcher) poll(ctx context.Context, s State) (State, error) {
	o := w.Options
	sel := o.Selectors

	if w.Clock.Now().After(s.NextRefresh) {
		w.Logger.Info("Refreshing browser")
		if err := w.Driver.Restart(ctx); err != nil {
			return s, fmt.Errorf("restart browser: %w", err)
		}
		s.NextRefresh = w.schedule.Next(w.Clock.Now())
		logging.Watch("Browser restarted, next refresh at %s", s.NextRefresh.Format(timeLayout))
	}

	w.Logger.Info("Now watching streamer", zap.String("url", o.StreamURL))
	if err := w.Driver.Navigate(ctx, o.StreamURL, false); err != nil {
		return s, err
	}

	offline, err := w.Driver.Query(ctx, sel.Offline)
	if err != nil {
		return s, err
	}
	if len(offline) > 0 {
		w.Logger.Info("Stream offline", zap.String("channel", o.Channel))
	} else {
		if s, err = w.watchOnline(ctx, s); err != nil {
			return s, err
		}
	}

	status, err := w.presence(ctx)
	if err != nil {
		return s, err
	}
	w.Logger.Info("Account status", zap.String("status", status))

	now := w.Clock.Now().Format(timeLayout)
	w.Logger.Info("Time", zap.String("time", now))
	logging.Watch("Iteration %d done at %s", s.Iterations, now)
	return s, nil
}

// watchOnline handles a live channel page.
func (w *Watcher) watchOnline(ctx context.Context, s State) (State, error) {
	sel := w.Options.Selectors

	w.click(ctx, sel.Consent)
	w.click(ctx, sel.Mature)
	if err := w.sleep(ctx, w.Options.DialogSettle); err != nil {
		return s, err
	}

	if s.FirstRun {
		if err := w.lowestQuality(ctx); err != nil {
			return s, fmt.Errorf("set lowest quality: %w", err)
		}
		s.FirstRun = false
	}

	if w.Options.Screenshots {
		if err := w.screenshot(ctx); err != nil {
			return s, err
		}
	}
	return s, nil
}

// click clicks a button if present. Failures are logged only.
func (w *Watcher) click(ctx context.Context, selector string) browser.ClickOutcome {
	outcome, err := w.Driver.Click(ctx, selector)
	switch {
	case err != nil && !errors.Is(err, context.Canceled):
		w.Logger.Warn("Click failed", zap.String("selector", selector), zap.Error(err))
	case outcome != browser.ClickDone:
		w.Logger.Debug("Click not performed", zap.String("selector", selector), zap.Stringer("outcome", outcome))
	}
	return outcome
}

// lowestQuality pauses the player, picks the last quality option, resumes
// and unmutes.
func (w *Watcher) lowestQuality(ctx context.Context) error {
	sel := w.Options.Selectors
	w.Logger.Info("Setting lowest possible resolution..")

	w.click(ctx, sel.Pause)
	w.click(ctx, sel.Settings)
	if err := w.Driver.WaitFor(ctx, sel.QualityMenu); err != nil {
		return err
	}
	w.click(ctx, sel.QualityMenu)
	if err := w.Driver.WaitFor(ctx, sel.QualityOption); err != nil {
		return err
	}

	options, err := w.Driver.Query(ctx, sel.QualityOption)
	if err != nil {
		return err
	}
	if len(options) == 0 {
		return errors.New("no quality options")
	}
	id := options[len(options)-1].Attr("id")
	if id == "" {
		return errors.New("lowest quality option has no id")
	}
	if err := w.Driver.ClickByID(ctx, id); err != nil {
		return err
	}

	w.click(ctx, sel.Pause)
	return w.Driver.PressKey(ctx, "m")
}

// screenshot writes <folder>/<channel>.png, replacing any previous capture.
func (w *Watcher) screenshot(ctx context.Context) error {
	if err := w.sleep(ctx, w.Options.ScreenshotDelay); err != nil {
		return err
	}
	folder := w.Options.ScreenshotFolder
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return fmt.Errorf("create screenshot folder: %w", err)
	}
	png, err := w.Driver.Screenshot(ctx)
	if err != nil {
		return err
	}
	path := filepath.Join(folder, w.Options.Channel+".png")
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return fmt.Errorf("write screenshot: %w", err)
	}
	w.Logger.Info("Screenshot created", zap.String("file", filepath.Base(path)))
	return nil
}

// presence opens the user menu, reads the presence label and closes the menu
// again. A label that does not show up within StatusWait reads as "Unknown".
func (w *Watcher) presence(ctx context.Context) (string, error) {
	sel := w.Options.Selectors

	w.click(ctx, sel.Sidebar)
	status, err := w.readStatus(ctx)
	w.click(ctx, sel.Sidebar)
	return status, err
}

func (w *Watcher) readStatus(ctx context.Context) (string, error) {
	sel := w.Options.Selectors

	wait := w.Options.StatusWait
	if wait <= 0 {
		wait = DefaultStatusWait
	}
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	err := w.Driver.WaitFor(waitCtx, sel.Status)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		w.Logger.Debug("Status label not shown", zap.Error(err))
		return "Unknown", nil
	}

	matches, err := w.Driver.Query(ctx, sel.Status)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 || matches[0].Text == "" {
		return "Unknown", nil
	}
	return matches[0].Text, nil
}
