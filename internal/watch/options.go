package watch

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"streamwatch/internal/config"
)

// Selectors are the page queries the loop relies on.
type Selectors struct {
	Offline       string
	Consent       string
	Mature        string
	Sidebar       string
	Status        string
	Pause         string
	Settings      string
	QualityMenu   string
	QualityOption string
}

// DefaultSelectors returns the selectors for the stream site.
func DefaultSelectors() Selectors {
	return Selectors{
		Offline:       ".channel-root__player--offline",
		Consent:       "button[data-a-target='consent-banner-accept']",
		Mature:        "button[data-a-target='player-overlay-mature-accept']",
		Sidebar:       "*[data-test-selector='user-menu__toggle']",
		Status:        "span[data-a-target='presence-text']",
		Pause:         "button[data-a-target='player-play-pause-button']",
		Settings:      "[data-a-target='player-settings-button']",
		QualityMenu:   "[data-a-target='player-settings-menu-item-quality']",
		QualityOption: "input[data-a-target='tw-radio']",
	}
}

// DefaultStatusWait bounds the wait for the presence label.
const DefaultStatusWait = 5 * time.Second

// Options configures a Watcher.
type Options struct {
	Channel   string
	HomeURL   string
	StreamURL string

	// LoginCookie is set by the site only for an authenticated session.
	LoginCookie string

	Screenshots      bool
	ScreenshotFolder string

	PollInterval    time.Duration
	DialogSettle    time.Duration
	ScreenshotDelay time.Duration
	StatusWait      time.Duration

	// RefreshSchedule is a cron spec for full browser restarts.
	RefreshSchedule string

	// Once stops after a single poll iteration.
	Once bool

	Selectors Selectors
}

// OptionsFrom builds watcher options from settings.
func OptionsFrom(c *config.Config) Options {
	return Options{
		Channel:          c.Channel,
		HomeURL:          c.BaseURL,
		StreamURL:        c.StreamURL(),
		LoginCookie:      "twilight-user",
		Screenshots:      c.Screenshot.Enabled,
		ScreenshotFolder: c.Screenshot.Folder,
		PollInterval:     c.GetPollInterval(),
		DialogSettle:     c.GetDialogSettle(),
		ScreenshotDelay:  time.Second,
		StatusWait:       DefaultStatusWait,
		RefreshSchedule:  c.Watch.RefreshSchedule,
		Selectors:        DefaultSelectors(),
	}
}

// parseSchedule accepts standard five-field specs and descriptors like "@every 1h".
func parseSchedule(spec string) (cron.Schedule, error) {
	if spec == "" {
		spec = "@every 1h"
	}
	s, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", spec, err)
	}
	return s, nil
}
