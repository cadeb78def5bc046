package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Submit   SubmitConfig   `mapstructure:"submit"`
	Nudge    NudgeConfig    `mapstructure:"nudge"`
	Prefetch PrefetchConfig `mapstructure:"prefetch"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Codes    CodesConfig    `mapstructure:"codes"`
}

type APIConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	Token         string `mapstructure:"token"`
	TimeoutSec    int    `mapstructure:"timeout_sec"`
	RatePerSecond int    `mapstructure:"rate_per_second"`
}

type SyncConfig struct {
	PageSize      int           `mapstructure:"page_size"`
	InitialDelay  time.Duration `mapstructure:"initial_delay"`
	StandardDelay time.Duration `mapstructure:"standard_delay"`
	BaseDelay     time.Duration `mapstructure:"base_delay"`
	MaxBackoff    time.Duration `mapstructure:"max_backoff"`
	Jitter        time.Duration `mapstructure:"jitter"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	PaginateDelay time.Duration `mapstructure:"paginate_delay"`
}

type CacheConfig struct {
	Backend  string `mapstructure:"backend"`
	Path     string `mapstructure:"path"`
	Compress bool   `mapstructure:"compress"`
}

type SubmitConfig struct {
	MaxAttempts   int           `mapstructure:"max_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	MaxRetryDelay time.Duration `mapstructure:"max_retry_delay"`
}

type NudgeConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// URL overrides the websocket endpoint derived from api.base_url.
	URL string `mapstructure:"url"`
}

type PrefetchConfig struct {
	Workers int `mapstructure:"workers"`
}

// NotifyConfig holds ntfy settings for sync reports.
type NotifyConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Server   string `mapstructure:"server"`   // ntfy server URL
	Topic    string `mapstructure:"topic"`    // required if enabled
	Priority string `mapstructure:"priority"` // min, low, default, high, urgent
	Tags     string `mapstructure:"tags"`     // comma-separated emoji tags
	Token    string `mapstructure:"token"`    // optional, for private topics
}

type LoggingConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
	Level     string `mapstructure:"level"`
}

type CodesConfig struct {
	// File is an optional YAML file of extra code lists.
	File string `mapstructure:"file"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("api.base_url", "http://localhost:8080")
	v.SetDefault("api.timeout_sec", 30)
	v.SetDefault("api.rate_per_second", 5)
	v.SetDefault("sync.page_size", 10)
	v.SetDefault("sync.initial_delay", 2*time.Second)
	v.SetDefault("sync.standard_delay", 500*time.Millisecond)
	v.SetDefault("sync.base_delay", time.Second)
	v.SetDefault("sync.max_backoff", 30*time.Second)
	v.SetDefault("sync.jitter", time.Second)
	v.SetDefault("sync.fetch_timeout", 30*time.Second)
	v.SetDefault("sync.poll_interval", 15*time.Second)
	v.SetDefault("sync.paginate_delay", 250*time.Millisecond)
	v.SetDefault("cache.backend", BackendFile)
	v.SetDefault("cache.path", "cache")
	v.SetDefault("cache.compress", false)
	v.SetDefault("submit.max_attempts", 15)
	v.SetDefault("submit.retry_delay", 500*time.Millisecond)
	v.SetDefault("submit.max_retry_delay", 10*time.Second)
	v.SetDefault("nudge.enabled", false)
	v.SetDefault("prefetch.workers", 3)
	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.server", "https://ntfy.sh")
	v.SetDefault("notify.priority", "default")
	v.SetDefault("notify.tags", "tada")
	v.SetDefault("logging.enabled", false)
	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.level", "info")

	// Environment variable support
	v.SetEnvPrefix("PARTYSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Explicitly bind nested keys to env vars
	_ = v.BindEnv("api.token", "PARTYSYNC_API_TOKEN")
	_ = v.BindEnv("notify.token", "PARTYSYNC_NOTIFY_TOKEN")

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("default")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate checks settings every command depends on. The API token is
// checked by RequireToken, since offline commands run without one.
func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	if c.API.BaseURL == "" {
		errs.add("api.base_url", "is required")
	}
	if c.Sync.PageSize < 1 {
		errs.add("sync.page_size", "must be >= 1")
	}
	if c.Sync.MaxBackoff < c.Sync.BaseDelay {
		errs.add("sync.max_backoff", "must be >= sync.base_delay")
	}
	if c.Sync.PollInterval <= 0 {
		errs.add("sync.poll_interval", "must be positive")
	}
	if c.Sync.FetchTimeout <= 0 {
		errs.add("sync.fetch_timeout", "must be positive")
	}
	if !ValidBackends[c.Cache.Backend] {
		errs.add("cache.backend", fmt.Sprintf("unknown backend %q (valid: %s)", c.Cache.Backend, validBackendsList()))
	}
	if c.Submit.MaxAttempts < 1 {
		errs.add("submit.max_attempts", "must be >= 1")
	}
	if c.Prefetch.Workers < 1 {
		errs.add("prefetch.workers", "must be >= 1")
	}
	if c.Notify.Enabled {
		if c.Notify.Topic == "" {
			errs.add("notify.topic", "is required when notify.enabled is true")
		}
		if !ValidPriorities[c.Notify.Priority] {
			errs.add("notify.priority", fmt.Sprintf("unknown priority %q (valid: min, low, default, high, urgent)", c.Notify.Priority))
		}
	}
	if !ValidLogLevels[c.Logging.Level] {
		errs.add("logging.level", fmt.Sprintf("unknown level %q", c.Logging.Level))
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// RequireToken fails when no API token is configured.
func (c *Config) RequireToken() error {
	if c.API.Token == "" {
		return fmt.Errorf("api token is required (set PARTYSYNC_API_TOKEN env var)")
	}
	return nil
}

// NudgeURL returns the websocket endpoint for party nudges.
func (c *Config) NudgeURL() string {
	if c.Nudge.URL != "" {
		return c.Nudge.URL
	}
	base := strings.TrimRight(c.API.BaseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/party/ws"
}
