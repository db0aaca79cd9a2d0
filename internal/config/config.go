package config

import (
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the daemon configuration
type Config struct {
	Log             LogConfig         `yaml:"log"`
	Database        DatabaseConfig    `yaml:"database"`
	DDC             DDCConfig         `yaml:"ddc"`
	Geo             GeoConfig         `yaml:"geo"`
	Refresh         RefreshConfig     `yaml:"refresh"`
	Changes         ChangesConfig     `yaml:"changes"`
	Ledger          LedgerConfig      `yaml:"ledger"`
	Healthcheck     HealthcheckConfig `yaml:"healthcheck"`
	Defaults        Defaults          `yaml:"defaults"`
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	UseJSON bool   `yaml:"json"`
	Colors  bool   `yaml:"colors"`
}

// GetLevel returns the configured level, defaulting to info
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return c.Level
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// DDCConfig contains settings for the ddcutil invocation
type DDCConfig struct {
	Binary   string        `yaml:"binary"`    // Name or path of the control tool (default: ddcutil)
	MaxTries string        `yaml:"max_tries"` // Passed verbatim as --maxtries (default: 15,15,15)
	Hotplug  HotplugConfig `yaml:"hotplug"`
}

// HotplugConfig controls how connected and removed monitors are noticed
type HotplugConfig struct {
	Enabled  *bool    `yaml:"enabled"`
	Interval Duration `yaml:"interval"` // How often the monitor set is re-detected (default: 30s)
	Settle   Duration `yaml:"settle"`   // Wait after a change before re-checking the schedule (default: 4s)
}

// IsEnabled returns whether hotplug detection is enabled (default: true)
func (c *HotplugConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// GeoConfig contains location and sun time provider settings
type GeoConfig struct {
	// Provider selects where sunrise/sunset come from: "api" (sunrise-sunset.org) or "astro" (local calculation)
	Provider    string   `yaml:"provider"`
	APIURL      string   `yaml:"api_url"`
	APIRate     Duration `yaml:"api_min_interval"` // Minimum interval between API requests
	Name        string   `yaml:"name"`             // Place name geocoded via Nominatim when lat/lon are unset
	Timezone    string   `yaml:"timezone"`
	Lat         float64  `yaml:"lat,omitempty"`
	Lon         float64  `yaml:"lon,omitempty"`
	Geoclue     bool     `yaml:"geoclue"` // Ask Geoclue over D-Bus for the current position
	HTTPTimeout Duration `yaml:"http_timeout"`
}

// HasCoordinates reports whether lat/lon are configured explicitly
func (c *GeoConfig) HasCoordinates() bool {
	return c.Lat != 0 || c.Lon != 0
}

// RefreshConfig controls when cached sun times are refreshed
type RefreshConfig struct {
	Cron      string `yaml:"cron"`       // Cron expression in local time (default: "0 3 * * *")
	OnStartup *bool  `yaml:"on_startup"` // Refresh once when the daemon starts (default: true)
}

// IsOnStartup returns whether a refresh runs at startup
func (c *RefreshConfig) IsOnStartup() bool {
	return c.OnStartup == nil || *c.OnStartup
}

// ChangesConfig controls how settings changes are detected
type ChangesConfig struct {
	PollInterval Duration `yaml:"poll_interval"`
}

// LedgerConfig contains transition history settings
type LedgerConfig struct {
	Enabled         *bool    `yaml:"enabled"`
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// IsEnabled returns whether the ledger is enabled (default: true)
func (c *LedgerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// RetentionPeriod returns the retention as a duration
func (c *LedgerConfig) RetentionPeriod() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// HealthcheckConfig contains health check server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// Defaults are the initial values of the preference keys.
// They only seed keys that are missing from the settings store.
type Defaults struct {
	Enabled              bool     `yaml:"enabled"`
	AutoBrightenSunrise  bool     `yaml:"auto_brighten_sunrise"`
	AutoDimSunset        bool     `yaml:"auto_dim_sunset"`
	MaxBrightness        int      `yaml:"max_brightness"`
	MinBrightness        int      `yaml:"min_brightness"`
	SunriseHour          int      `yaml:"sunrise_hour"`
	SunriseMinute        int      `yaml:"sunrise_minute"`
	SunsetHour           int      `yaml:"sunset_hour"`
	SunsetMinute         int      `yaml:"sunset_minute"`
	UseAutomaticLocation bool     `yaml:"use_automatic_location"`
	CatchUpSunrise       bool     `yaml:"catch_up_sunrise"`
	CatchUpSunset        bool     `yaml:"catch_up_sunset"`
	StepDelay            int      `yaml:"step_delay"` // Seconds between brightness steps
	ResetOnExit          bool     `yaml:"reset_on_exit"`
	DisabledMonitors     []string `yaml:"disabled_monitors"`
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses configuration from raw YAML and applies defaults
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	cfg := Config{Defaults: DefaultPreferences()}
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := Config{Defaults: DefaultPreferences()}
	cfg.applyDefaults()
	return &cfg
}

// DefaultPreferences mirrors the stock preference values
func DefaultPreferences() Defaults {
	return Defaults{
		Enabled:             true,
		AutoBrightenSunrise: true,
		AutoDimSunset:       true,
		MaxBrightness:       100,
		MinBrightness:       30,
		SunriseHour:         7,
		SunsetHour:          19,
		CatchUpSunrise:      true,
		CatchUpSunset:       true,
		StepDelay:           2,
	}
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./sunddc.sqlite"
	}

	// DDC defaults
	if cfg.DDC.Binary == "" {
		cfg.DDC.Binary = "ddcutil"
	}
	if cfg.DDC.MaxTries == "" {
		cfg.DDC.MaxTries = "15,15,15"
	}
	if cfg.DDC.Hotplug.Interval == 0 {
		cfg.DDC.Hotplug.Interval = Duration(30 * time.Second)
	}
	if cfg.DDC.Hotplug.Settle == 0 {
		cfg.DDC.Hotplug.Settle = Duration(4 * time.Second)
	}

	// Geo defaults
	if cfg.Geo.Provider == "" {
		cfg.Geo.Provider = "api"
	}
	if cfg.Geo.APIURL == "" {
		cfg.Geo.APIURL = "https://api.sunrise-sunset.org/json"
	}
	if cfg.Geo.APIRate == 0 {
		cfg.Geo.APIRate = Duration(10 * time.Second)
	}
	if cfg.Geo.Timezone == "" {
		cfg.Geo.Timezone = "Local"
	}
	if cfg.Geo.HTTPTimeout == 0 {
		cfg.Geo.HTTPTimeout = Duration(10 * time.Second)
	}

	if cfg.Refresh.Cron == "" {
		cfg.Refresh.Cron = "0 3 * * *"
	}
	if cfg.Changes.PollInterval == 0 {
		cfg.Changes.PollInterval = Duration(2 * time.Second)
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// Healthcheck defaults
	if cfg.Healthcheck.Port == 0 {
		cfg.Healthcheck.Port = 9090
	}
	if cfg.Healthcheck.Host == "" {
		cfg.Healthcheck.Host = "127.0.0.1"
	}

	if cfg.Defaults.StepDelay < 1 {
		cfg.Defaults.StepDelay = 1
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// GetShutdownTimeout returns the shutdown timeout
func (cfg *Config) GetShutdownTimeout() time.Duration {
	return cfg.ShutdownTimeout.Duration()
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
