// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Planner PlannerConfig `mapstructure:"planner" yaml:"planner"`
	Run     RunConfig     `mapstructure:"run" yaml:"run"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
}

// LoggerConfig controls the global zap logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"` // "console" or "json"
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"` // days
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig maps log levels to terminal colors for the console encoder.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
	Fatal string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig tunes the chromedp session provider.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	ViewportWidth     int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight    int           `mapstructure:"viewport_height" yaml:"viewport_height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	// PostLoadWait gives the game a moment to finish booting after
	// domcontentloaded before the first observation.
	PostLoadWait time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
}

// PlannerConfig configures the LLM backing the adaptive planner and the
// evaluator. Both share one endpoint and key; the evaluator may use a
// different (typically more powerful) model.
type PlannerConfig struct {
	Model          string        `mapstructure:"model" yaml:"model"`
	EvaluatorModel string        `mapstructure:"evaluator_model" yaml:"evaluator_model"`
	APIKey         string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint       string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout     time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature    float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens      int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	// RateLimit caps planner calls per second within a single run.
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// RunConfig holds the per-run policy knobs. The threshold and retry values
// are deliberately configuration, not constants.
type RunConfig struct {
	MaxActions     int           `mapstructure:"max_actions" yaml:"max_actions"`
	SessionTimeout time.Duration `mapstructure:"session_timeout" yaml:"session_timeout"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	// EscalationThreshold is the confidence score below which the next step
	// is forced to the adaptive planner.
	EscalationThreshold int `mapstructure:"escalation_threshold" yaml:"escalation_threshold"`
	// MaxRetries bounds automatic retries of Retryable failures
	// (session acquisition, evaluation).
	MaxRetries   int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
	// StepPause is the settle time between steps, letting the game react.
	StepPause time.Duration `mapstructure:"step_pause" yaml:"step_pause"`
	// Concurrency bounds how many independent runs the CLI executes at once.
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
}

// StoreConfig configures optional result persistence.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	DSN     string `mapstructure:"dsn" yaml:"dsn"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "playprobe")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 720)
	v.SetDefault("browser.navigation_timeout", "90s")
	v.SetDefault("browser.post_load_wait", "2s")

	// -- Planner --
	v.SetDefault("planner.model", "gemini-2.5-flash")
	v.SetDefault("planner.evaluator_model", "gemini-2.5-pro")
	v.SetDefault("planner.api_timeout", "30s")
	v.SetDefault("planner.temperature", 0.2)
	v.SetDefault("planner.max_tokens", 2048)
	v.SetDefault("planner.rate_limit", 0.5)

	// -- Run --
	v.SetDefault("run.max_actions", 20)
	v.SetDefault("run.session_timeout", "300s")
	v.SetDefault("run.connect_timeout", "30s")
	v.SetDefault("run.escalation_threshold", 65)
	v.SetDefault("run.max_retries", 3)
	v.SetDefault("run.retry_backoff", "500ms")
	v.SetDefault("run.step_pause", "250ms")
	v.SetDefault("run.concurrency", 2)

	// -- Store --
	v.SetDefault("store.enabled", false)
	v.SetDefault("store.dsn", "")
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with pure defaults.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a validated configuration from a viper instance.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Sensitive values come from the environment, never the config file.
	v.BindEnv("planner.api_key", "PLAYPROBE_PLANNER_API_KEY")
	v.BindEnv("store.dsn", "PLAYPROBE_STORE_DSN")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for sane values.
func (c *Config) Validate() error {
	if c.Run.MaxActions <= 0 {
		return fmt.Errorf("run.max_actions must be a positive integer")
	}
	if c.Run.SessionTimeout <= 0 {
		return fmt.Errorf("run.session_timeout must be a positive duration")
	}
	if c.Run.EscalationThreshold < 0 || c.Run.EscalationThreshold > 100 {
		return fmt.Errorf("run.escalation_threshold must be within [0,100]")
	}
	if c.Run.MaxRetries < 0 {
		return fmt.Errorf("run.max_retries must not be negative")
	}
	if c.Run.Concurrency <= 0 {
		return fmt.Errorf("run.concurrency must be a positive integer")
	}
	if c.Browser.ViewportWidth <= 0 || c.Browser.ViewportHeight <= 0 {
		return fmt.Errorf("browser viewport dimensions must be positive")
	}
	if c.Store.Enabled && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required when store.enabled is true")
	}
	return nil
}
