package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all watcher configuration.
type Config struct {
	// Channel is the stream being watched (target identifier).
	Channel string `yaml:"channel"`

	// BaseURL is the site root; the channel page is BaseURL + Channel.
	BaseURL string `yaml:"base_url"`

	// CredentialPath is the flat JSON file holding exec and token.
	CredentialPath string `yaml:"credential_path"`

	// Token comes only from the environment and is never written back.
	Token string `yaml:"-"`

	Browser    BrowserConfig    `yaml:"browser"`
	Watch      WatchConfig      `yaml:"watch"`
	Screenshot ScreenshotConfig `yaml:"screenshot"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// WatchConfig configures the poll loop timing.
type WatchConfig struct {
	PollInterval    string `yaml:"poll_interval"`    // pause between iterations
	RefreshSchedule string `yaml:"refresh_schedule"` // cron spec for full browser restarts
	DialogSettle    string `yaml:"dialog_settle"`    // pause after dismissing dialogs
}

// ScreenshotConfig configures the per-iteration screenshot.
type ScreenshotConfig struct {
	Enabled bool   `yaml:"enabled"`
	Folder  string `yaml:"folder"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Channel:        "gaules",
		BaseURL:        "https://www.twitch.tv/",
		CredentialPath: "config.json",

		Browser: BrowserConfig{
			Headless:       true,
			UserAgent:      DefaultUserAgent,
			Timeout:        "0",
			ViewportWidth:  1024,
			ViewportHeight: 768,
		},

		Watch: WatchConfig{
			PollInterval:    "1h",
			RefreshSchedule: "@every 1h",
			DialogSettle:    "5s",
		},

		Screenshot: ScreenshotConfig{
			Enabled: true,
			Folder:  "screenshots",
		},

		Logging: LoggingConfig{
			Level: "info",
			Dir:   "logs",
		},
	}
}

// Load loads configuration from a YAML file.
// A missing file yields the defaults with environment overrides applied.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides. Each setting also
// accepts the camelCase key used by older .env files.
func (c *Config) applyEnvOverrides() {
	if v := env("STREAM", "stream"); v != "" {
		c.Channel = v
	}
	if v := env("USER_AGENT", "userAgent"); v != "" {
		c.Browser.UserAgent = v
	}
	if v := env("PROXY", "proxy"); v != "" {
		c.Browser.Proxy = v
	}
	if v := env("PROXY_AUTH", "proxyAuth"); v != "" {
		c.Browser.ProxyAuth = v
	}
	if v := env("BROWSER_EXEC"); v != "" {
		c.Browser.ExecutablePath = v
	}
	if v := env("TIMEOUT", "timeout"); v != "" {
		c.Browser.Timeout = v
	}
	if b, ok := envBool("BROWSER_SCREENSHOT", "browserScreenshot"); ok {
		c.Screenshot.Enabled = b
	}
	if b, ok := envBool("HEADLESS_MODE", "headlessMode"); ok {
		c.Browser.Headless = b
	}
	if v := env("POLL_INTERVAL"); v != "" {
		c.Watch.PollInterval = v
	}
	if v := env("REFRESH_SCHEDULE"); v != "" {
		c.Watch.RefreshSchedule = v
	}

	// Alternate credential source
	if v := env("TOKEN", "token"); v != "" {
		c.Token = v
	}
}

// env returns the first non-empty value among keys.
func env(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func envBool(keys ...string) (bool, bool) {
	raw := env(keys...)
	if raw == "" {
		return false, false
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return b, true
}

// StreamURL returns the channel page URL.
func (c *Config) StreamURL() string {
	return strings.TrimSuffix(c.BaseURL, "/") + "/" + c.Channel
}

// GetPollInterval returns the pause between poll iterations.
func (c *Config) GetPollInterval() time.Duration {
	d, err := time.ParseDuration(c.Watch.PollInterval)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// GetDialogSettle returns the pause after dismissing consent dialogs.
func (c *Config) GetDialogSettle() time.Duration {
	d, err := time.ParseDuration(c.Watch.DialogSettle)
	if err != nil || d < 0 {
		return 5 * time.Second
	}
	return d
}

// GetBrowserTimeout returns the navigation/action timeout. Zero means unlimited.
// Bare integers are read as milliseconds.
func (c *Config) GetBrowserTimeout() time.Duration {
	raw := strings.TrimSpace(c.Browser.Timeout)
	if raw == "" {
		return 0
	}
	if ms, err := strconv.Atoi(raw); err == nil {
		if ms <= 0 {
			return 0
		}
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Channel) == "" {
		errs = append(errs, errors.New("channel not configured (set STREAM or --channel)"))
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		errs = append(errs, errors.New("base_url is empty"))
	}
	if c.CredentialPath == "" {
		errs = append(errs, errors.New("credential_path is empty"))
	}
	if c.Browser.ViewportWidth <= 0 || c.Browser.ViewportHeight <= 0 {
		errs = append(errs, fmt.Errorf("invalid viewport %dx%d", c.Browser.ViewportWidth, c.Browser.ViewportHeight))
	}
	if c.Screenshot.Enabled && c.Screenshot.Folder == "" {
		errs = append(errs, errors.New("screenshot folder is empty"))
	}
	return errors.Join(errs...)
}
