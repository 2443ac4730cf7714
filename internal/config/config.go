// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/spf13/viper"
)

// Config holds the entire agent configuration.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	Session     SessionConfig     `mapstructure:"session" yaml:"session"`
	Router      RouterConfig      `mapstructure:"router" yaml:"router"`
	Queue       QueueConfig       `mapstructure:"queue" yaml:"queue"`
	Browser     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	Interaction InteractionConfig `mapstructure:"interaction" yaml:"interaction"`
	Storage     StorageConfig     `mapstructure:"storage" yaml:"storage"`
	UI          UIConfig          `mapstructure:"ui" yaml:"ui"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// SessionConfig controls the controller websocket.
type SessionConfig struct {
	URL               string          `mapstructure:"url" yaml:"url"`
	AutoConnect       bool            `mapstructure:"auto_connect" yaml:"auto_connect"`
	HeartbeatInterval time.Duration   `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	WriteTimeout      time.Duration   `mapstructure:"write_timeout" yaml:"write_timeout"`
	ReadLimit         int64           `mapstructure:"read_limit" yaml:"read_limit"`
	Reconnect         ReconnectConfig `mapstructure:"reconnect" yaml:"reconnect"`
}

// ReconnectConfig bounds a reconnection campaign.
type ReconnectConfig struct {
	InitialDelay time.Duration `mapstructure:"initial_delay" yaml:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	MaxAttempts  int           `mapstructure:"max_attempts" yaml:"max_attempts"`
}

// RouterConfig tunes command dispatch.
type RouterConfig struct {
	DefaultTimeout time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
	// CancelOnTimeout cancels a handler's context once its command has timed out.
	CancelOnTimeout bool `mapstructure:"cancel_on_timeout" yaml:"cancel_on_timeout"`
}

// QueueConfig sizes the task queue.
type QueueConfig struct {
	Capacity int `mapstructure:"capacity" yaml:"capacity"`
}

// BrowserConfig holds settings for the controlled Chrome instance.
type BrowserConfig struct {
	Headless bool `mapstructure:"headless" yaml:"headless"`
	// RemoteURL attaches to an already running browser instead of launching one.
	RemoteURL         string        `mapstructure:"remote_url" yaml:"remote_url"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	AllowedURLs       []string      `mapstructure:"allowed_urls" yaml:"allowed_urls"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PollInterval      time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	NetworkLogLimit   int           `mapstructure:"network_log_limit" yaml:"network_log_limit"`
}

// StorageConfig selects the durable mirror backend.
type StorageConfig struct {
	Driver      string `mapstructure:"driver" yaml:"driver"`
	Path        string `mapstructure:"path" yaml:"path"`
	PostgresDSN string `mapstructure:"postgres_dsn" yaml:"-"`
}

// UIConfig controls the local status websocket. An empty address disables it.
type UIConfig struct {
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

// NewDefaultConfig returns a configuration populated with defaults only.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "basset-agent")
	v.SetDefault("logger.log_file", "basset-agent.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Session --
	v.SetDefault("session.url", "ws://localhost:8765/browser")
	v.SetDefault("session.auto_connect", true)
	v.SetDefault("session.heartbeat_interval", "30s")
	v.SetDefault("session.write_timeout", "10s")
	v.SetDefault("session.read_limit", 16<<20)
	v.SetDefault("session.reconnect.initial_delay", "1s")
	v.SetDefault("session.reconnect.max_delay", "30s")
	v.SetDefault("session.reconnect.max_attempts", 10)

	// -- Router --
	v.SetDefault("router.default_timeout", "30s")
	v.SetDefault("router.cancel_on_timeout", true)

	// -- Queue --
	v.SetDefault("queue.capacity", 100)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.remote_url", "")
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.allowed_urls", []string{})
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.poll_interval", "100ms")
	v.SetDefault("browser.network_log_limit", 1000)

	// -- Interaction --
	v.SetDefault("interaction.human_like", true)
	v.SetDefault("interaction.key_pause_mean_ms", 70.0)
	v.SetDefault("interaction.key_pause_std_dev_ms", 25.0)
	v.SetDefault("interaction.key_pause_min_ms", 20.0)
	v.SetDefault("interaction.click_wait_ms", 100)

	// -- Storage --
	v.SetDefault("storage.driver", "file")
	v.SetDefault("storage.path", "~/.basset-agent/state.json")
	v.SetDefault("storage.postgres_dsn", "")

	// -- UI --
	v.SetDefault("ui.listen_addr", "127.0.0.1:8766")
}

// NewConfigFromViper unmarshals and validates a configuration from v.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The DSN usually carries a password, so it is only read from the environment.
	_ = v.BindEnv("storage.postgres_dsn", "BASSET_POSTGRES_DSN")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session configuration invalid: %w", err)
	}
	if c.Router.DefaultTimeout <= 0 {
		return fmt.Errorf("router.default_timeout must be positive")
	}
	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("queue.capacity must be a positive integer")
	}
	if err := c.Browser.Validate(); err != nil {
		return fmt.Errorf("browser configuration invalid: %w", err)
	}
	if err := c.Interaction.Validate(); err != nil {
		return fmt.Errorf("interaction configuration invalid: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the Session configuration.
func (s *SessionConfig) Validate() error {
	u, err := url.Parse(s.URL)
	if err != nil {
		return fmt.Errorf("url is not valid: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("url scheme must be ws or wss, got %q", u.Scheme)
	}
	if s.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval must be positive")
	}
	r := s.Reconnect
	if r.InitialDelay <= 0 || r.MaxDelay < r.InitialDelay {
		return fmt.Errorf("reconnect delays must satisfy 0 < initial_delay <= max_delay")
	}
	if r.MaxAttempts <= 0 {
		return fmt.Errorf("reconnect.max_attempts must be a positive integer")
	}
	return nil
}

// Validate checks the Browser configuration. Allow-list patterns must compile as globs.
func (b *BrowserConfig) Validate() error {
	for _, pattern := range b.AllowedURLs {
		if _, err := glob.Compile(pattern, '/'); err != nil {
			return fmt.Errorf("allowed_urls pattern %q: %w", pattern, err)
		}
	}
	if b.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	return nil
}

// Validate checks the Storage configuration.
func (s *StorageConfig) Validate() error {
	switch strings.ToLower(s.Driver) {
	case "memory":
	case "file":
		if s.Path == "" {
			return fmt.Errorf("path is required for the file driver")
		}
	case "postgres":
		if s.PostgresDSN == "" {
			return fmt.Errorf("postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown driver %q", s.Driver)
	}
	return nil
}
