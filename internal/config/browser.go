package config

// DefaultUserAgent is the desktop Chrome user agent sent when none is configured.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/78.0.3904.108 Safari/537.36"

// DefaultExecutablePath is used when the token comes from the environment.
// It matches the Chrome location inside the published container image.
const DefaultExecutablePath = "/usr/bin/google-chrome"

// BrowserConfig configures the automation-controlled browser.
type BrowserConfig struct {
	// ExecutablePath overrides the executable from the credential file.
	ExecutablePath string `yaml:"executable_path,omitempty"`

	Headless  bool   `yaml:"headless"`
	UserAgent string `yaml:"user_agent"`

	// Proxy is "host:port"; ProxyAuth is "user:password" sent as Basic auth.
	Proxy     string `yaml:"proxy,omitempty"`
	ProxyAuth string `yaml:"proxy_auth,omitempty"`

	// Timeout is a Go duration or milliseconds; "0" disables timeouts.
	Timeout string `yaml:"timeout"`

	ViewportWidth  int `yaml:"viewport_width"`
	ViewportHeight int `yaml:"viewport_height"`

	// Stealth patches common headless fingerprints on the page.
	Stealth bool `yaml:"stealth"`

	// ExtraFlags are appended to the fixed Chrome flag set ("name" or "name=value").
	ExtraFlags []string `yaml:"extra_flags,omitempty"`
}
