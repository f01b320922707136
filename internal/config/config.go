// Package config loads relay settings from defaults, an optional config
// file, the environment and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/utkarsh5026/dialogrelay/internal/algorithms"
)

// EnvPrefix prefixes every environment override, e.g. RELAY_SERVER_PORT.
const EnvPrefix = "RELAY"

// APIKeyEnv is the conventional variable holding the Gemini key.
const APIKeyEnv = "GEMINI_API_KEY"

var (
	ErrMissingAPIKey = errors.New("config: " + APIKeyEnv + " is not set")
	ErrInvalidPort   = errors.New("config: port must be between 1 and 65535")
)

// Config is the complete relay configuration.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Pool   PoolConfig   `mapstructure:"pool"`
	AI     AIConfig     `mapstructure:"ai"`
	Log    LogConfig    `mapstructure:"log"`
}

// ServerConfig controls the listener and per-connection limits.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	Backlog        int           `mapstructure:"backlog"`
	MaxEvents      int           `mapstructure:"max_events"`
	PollTimeout    time.Duration `mapstructure:"poll_timeout"`
	StatsInterval  time.Duration `mapstructure:"stats_interval"`
	ConnTimeout    time.Duration `mapstructure:"conn_timeout"`
	MaxMessageSize int           `mapstructure:"max_message_size"`
}

// PoolConfig controls worker pool sizing and the autoscaler.
type PoolConfig struct {
	Min           int           `mapstructure:"min"`
	Max           int           `mapstructure:"max"`
	Initial       int           `mapstructure:"initial"`
	ScaleInterval time.Duration `mapstructure:"scale_interval"`
	UpThreshold   float64       `mapstructure:"up_threshold"`
	DownThreshold float64       `mapstructure:"down_threshold"`
	HighWater     int64         `mapstructure:"high_water"`
	LowWater      int64         `mapstructure:"low_water"`
	// PinCPU locks each worker to an OS thread pinned to one core.
	PinCPU bool `mapstructure:"pin_cpu"`
}

// AIConfig controls the Gemini backend.
type AIConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	// RatePerSecond caps outbound requests; 0 disables throttling.
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
	// MaxRetries counts attempts after the first one.
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	// Backoff is one of exponential, jittered, decorrelated.
	Backoff        string `mapstructure:"backoff"`
	BehaviorSuffix bool   `mapstructure:"behavior_suffix"`
}

// LogConfig selects log verbosity and encoding.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			Backlog:        128,
			MaxEvents:      64,
			PollTimeout:    time.Second,
			StatsInterval:  30 * time.Second,
			ConnTimeout:    30 * time.Second,
			MaxMessageSize: 2048,
		},
		Pool: PoolConfig{
			Min:           2,
			Max:           32,
			Initial:       4,
			ScaleInterval: 5 * time.Second,
			UpThreshold:   0.8,
			DownThreshold: 0.2,
			HighWater:     5,
			LowWater:      2,
		},
		AI: AIConfig{
			Model:         "gemini-2.0-flash",
			Timeout:       15 * time.Second,
			RatePerSecond: 0,
			Burst:         1,
			MaxRetries:    2,
			RetryDelay:    250 * time.Millisecond,
			Backoff:       "jittered",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// New returns a viper instance carrying the defaults and the environment
// bindings.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("ai.api_key", APIKeyEnv, EnvPrefix+"_AI_API_KEY")
	return v
}

// SetDefaults registers default values with v.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.backlog", d.Server.Backlog)
	v.SetDefault("server.max_events", d.Server.MaxEvents)
	v.SetDefault("server.poll_timeout", d.Server.PollTimeout)
	v.SetDefault("server.stats_interval", d.Server.StatsInterval)
	v.SetDefault("server.conn_timeout", d.Server.ConnTimeout)
	v.SetDefault("server.max_message_size", d.Server.MaxMessageSize)

	v.SetDefault("pool.min", d.Pool.Min)
	v.SetDefault("pool.max", d.Pool.Max)
	v.SetDefault("pool.initial", d.Pool.Initial)
	v.SetDefault("pool.scale_interval", d.Pool.ScaleInterval)
	v.SetDefault("pool.up_threshold", d.Pool.UpThreshold)
	v.SetDefault("pool.down_threshold", d.Pool.DownThreshold)
	v.SetDefault("pool.high_water", d.Pool.HighWater)
	v.SetDefault("pool.low_water", d.Pool.LowWater)
	v.SetDefault("pool.pin_cpu", d.Pool.PinCPU)

	v.SetDefault("ai.api_key", d.AI.APIKey)
	v.SetDefault("ai.model", d.AI.Model)
	v.SetDefault("ai.base_url", d.AI.BaseURL)
	v.SetDefault("ai.timeout", d.AI.Timeout)
	v.SetDefault("ai.rate_per_second", d.AI.RatePerSecond)
	v.SetDefault("ai.burst", d.AI.Burst)
	v.SetDefault("ai.max_retries", d.AI.MaxRetries)
	v.SetDefault("ai.retry_delay", d.AI.RetryDelay)
	v.SetDefault("ai.backoff", d.AI.Backoff)
	v.SetDefault("ai.behavior_suffix", d.AI.BehaviorSuffix)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Load reads the optional config file into v and decodes the result. An
// empty path skips the file.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	// viper consults the AutomaticEnv name before the BindEnv list, so the
	// conventional variable is applied last to win over RELAY_AI_API_KEY.
	if key, ok := os.LookupEnv(APIKeyEnv); ok && key != "" {
		cfg.AI.APIKey = key
	}
	return &cfg, nil
}

// Validate reports every problem found, joined into one error.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("%w: got %d", ErrInvalidPort, c.Server.Port))
	}
	if c.Server.MaxMessageSize < 2 {
		errs = append(errs, fmt.Errorf("config: server.max_message_size must be at least 2, got %d", c.Server.MaxMessageSize))
	}

	p := c.Pool
	if p.Min < 1 || p.Max < p.Min || p.Initial < p.Min || p.Initial > p.Max {
		errs = append(errs, fmt.Errorf("config: pool bounds must satisfy 1 <= min <= initial <= max, got min=%d initial=%d max=%d", p.Min, p.Initial, p.Max))
	}
	if p.DownThreshold > p.UpThreshold {
		errs = append(errs, fmt.Errorf("config: pool.down_threshold %.2f exceeds pool.up_threshold %.2f", p.DownThreshold, p.UpThreshold))
	}

	if strings.TrimSpace(c.AI.APIKey) == "" {
		errs = append(errs, ErrMissingAPIKey)
	}
	if c.AI.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("config: ai.max_retries must not be negative, got %d", c.AI.MaxRetries))
	}
	if _, err := algorithms.ParseKind(c.AI.Backoff); err != nil {
		errs = append(errs, fmt.Errorf("config: ai.backoff: %w", err))
	}
	if c.AI.RatePerSecond < 0 {
		errs = append(errs, fmt.Errorf("config: ai.rate_per_second must not be negative, got %v", c.AI.RatePerSecond))
	}

	return errors.Join(errs...)
}
