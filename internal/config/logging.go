package config

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level" json:"level,omitempty"`           // debug, info, warn, error
	Console    bool            `yaml:"console" json:"console,omitempty"`       // human-readable console encoder instead of JSON
	DebugMode  bool            `yaml:"debug_mode" json:"debug_mode,omitempty"` // Master toggle for category files
	Dir        string          `yaml:"dir" json:"dir,omitempty"`               // category log directory
	JSONFormat bool            `yaml:"json_format" json:"json_format,omitempty"`
	Categories map[string]bool `yaml:"categories" json:"categories,omitempty"` // Per-category toggles
}

// IsCategoryEnabled returns whether logging is enabled for a category.
// Returns false if debug_mode is false.
// Returns true if debug_mode is true and category is enabled (or not specified).
func (c *LoggingConfig) IsCategoryEnabled(category string) bool {
	if !c.DebugMode {
		return false
	}
	if c.Categories == nil {
		return true // All enabled by default in debug mode
	}
	enabled, exists := c.Categories[category]
	if !exists {
		return true
	}
	return enabled
}
