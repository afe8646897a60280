// Package config loads agent configuration from YAML files and environment
// variables, with defaults supplied by struct tags.
package config

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config contains all configuration for the VNC agent
type Config struct {
	// Logging configuration
	Log LogConfig `yaml:"log"`

	// VNC connection configuration
	VNC VNCConfig `yaml:"vnc"`

	// Metrics endpoint configuration
	Metrics MetricsConfig `yaml:"metrics"`
}

// LogConfig configures logging behavior
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" default:"json"`
	Debug  bool   `yaml:"debug" env:"DEBUG" default:"false"`
}

// ConfigureZerolog configures zerolog based on the log configuration
func (c *LogConfig) ConfigureZerolog() {
	level := zerolog.InfoLevel
	if c.Debug {
		level = zerolog.DebugLevel
	} else {
		switch strings.ToLower(c.Level) {
		case "trace":
			level = zerolog.TraceLevel
		case "debug":
			level = zerolog.DebugLevel
		case "info":
			level = zerolog.InfoLevel
		case "warn", "warning":
			level = zerolog.WarnLevel
		case "error":
			level = zerolog.ErrorLevel
		case "fatal":
			level = zerolog.FatalLevel
		case "panic":
			level = zerolog.PanicLevel
		}
	}
	zerolog.SetGlobalLevel(level)
}

// VNCConfig configures the VNC connection
type VNCConfig struct {
	// Endpoint is host:port, vnc://host:port, or a ws(s):// URL
	Endpoint string `yaml:"endpoint" env:"VNC_ENDPOINT"`

	// Credentials for RFB authentication
	Username string `yaml:"username" env:"VNC_USERNAME"`
	Password string `yaml:"password" env:"VNC_PASSWORD"`

	// Auth is "auto" (negotiate the strongest supported type) or "none"
	// (require an unauthenticated server)
	Auth string `yaml:"auth" env:"VNC_AUTH" default:"auto"`

	// UpdateInterval is the incremental update heartbeat cadence
	UpdateInterval time.Duration `yaml:"update_interval" default:"100ms"`

	// ScreenshotTimeout bounds the wait for a fresh frame per screenshot
	ScreenshotTimeout time.Duration `yaml:"screenshot_timeout" default:"1s"`

	// DialTimeout bounds the transport connect
	DialTimeout time.Duration `yaml:"dial_timeout" default:"30s"`
}

// MetricsConfig configures the Prometheus metrics endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"METRICS_ENABLED" default:"false"`
	Listen  string `yaml:"listen" env:"METRICS_LISTEN" default:":9090"`
}

// Load loads configuration from the given files. Both files are optional;
// environment variables override everything.
func Load(configFile, envFile string) (*Config, error) {
	cfg := &Config{}

	loader := NewLoader(LoaderConfig{
		ConfigFile:      configFile,
		EnvironmentFile: envFile,
	})
	if err := loader.Load(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
