// Package config provides YAML-based configuration loading for mainthreadctl.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	yaml "github.com/goccy/go-yaml"
	"github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
	// AppName names the runtime in logs and metrics
	AppName string `mapstructure:"app_name" yaml:"app_name"`

	// Scheduler holds main-thread scheduler options
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`

	// Log holds logging configuration
	Log LogConfig `mapstructure:"log" yaml:"log"`

	// Metrics controls the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Workload drives the background producers of the demo commands
	Workload WorkloadConfig `mapstructure:"workload" yaml:"workload"`
}

// SchedulerConfig defines scheduler settings.
type SchedulerConfig struct {
	// DefaultPriority is used for results without an explicit priority
	DefaultPriority int `mapstructure:"default_priority" yaml:"default_priority"`
	// HistoryCapacity bounds the execution history kept per queue
	HistoryCapacity int `mapstructure:"history_capacity" yaml:"history_capacity"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level" yaml:"level"`
	// Format: console or json
	Format string `mapstructure:"format" yaml:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs" yaml:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development" yaml:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable" yaml:"enable"`
	Filename   string `mapstructure:"filename" yaml:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// MetricsConfig defines the Prometheus exporter settings.
type MetricsConfig struct {
	Enable       bool          `mapstructure:"enable" yaml:"enable"`
	Listen       string        `mapstructure:"listen" yaml:"listen"`
	Namespace    string        `mapstructure:"namespace" yaml:"namespace"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// WorkloadConfig defines the background computation fed into the main thread.
type WorkloadConfig struct {
	// Workers is the number of background worker goroutines
	Workers int `mapstructure:"workers" yaml:"workers"`
	// Jobs is the number of jobs submitted in total
	Jobs int `mapstructure:"jobs" yaml:"jobs"`
	// FibN is the largest Fibonacci index computed by a job
	FibN int `mapstructure:"fib_n" yaml:"fib_n"`
	// Rate limits job submission per second; 0 disables the limit
	Rate float64 `mapstructure:"rate" yaml:"rate"`
	// Burst is the limiter burst size
	Burst int `mapstructure:"burst" yaml:"burst"`
	// Priorities are cycled through when results are scheduled
	Priorities []int `mapstructure:"priorities" yaml:"priorities"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		AppName: "mainthread",
		Scheduler: SchedulerConfig{
			DefaultPriority: 50,
			HistoryCapacity: 100,
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stderr"},
			Development: false,
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/mainthread.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Metrics: MetricsConfig{
			Enable:       false,
			Listen:       ":9464",
			Namespace:    "mainthread",
			PollInterval: time.Second,
		},
		Workload: WorkloadConfig{
			Workers:    4,
			Jobs:       32,
			FibN:       25,
			Rate:       50,
			Burst:      4,
			Priorities: []int{0, 25, 50, 75, 100},
		},
	}
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix MAINTHREAD and `.`/`-` are replaced with `_`.
// Example: MAINTHREAD_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("MAINTHREAD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("scheduler.default_priority", cfg.Scheduler.DefaultPriority)
	v.SetDefault("scheduler.history_capacity", cfg.Scheduler.HistoryCapacity)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("metrics.enable", cfg.Metrics.Enable)
	v.SetDefault("metrics.listen", cfg.Metrics.Listen)
	v.SetDefault("metrics.namespace", cfg.Metrics.Namespace)
	v.SetDefault("metrics.poll_interval", cfg.Metrics.PollInterval)
	v.SetDefault("workload.workers", cfg.Workload.Workers)
	v.SetDefault("workload.jobs", cfg.Workload.Jobs)
	v.SetDefault("workload.fib_n", cfg.Workload.FibN)
	v.SetDefault("workload.rate", cfg.Workload.Rate)
	v.SetDefault("workload.burst", cfg.Workload.Burst)
	v.SetDefault("workload.priorities", cfg.Workload.Priorities)

	// Choose config file
	if path == "" {
		if envPath := os.Getenv("MAINTHREAD_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("mainthread")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".mainthread"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var viperConfigFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &viperConfigFileNotFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	// every key has a default, so decode into a zero value
	out := &Config{}
	if err := v.Unmarshal(out); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := out.validate(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Config) validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}
	if c.Scheduler.HistoryCapacity <= 0 {
		c.Scheduler.HistoryCapacity = 100
	}
	if c.Metrics.PollInterval <= 0 {
		c.Metrics.PollInterval = time.Second
	}
	if c.Workload.Workers <= 0 {
		return fmt.Errorf("invalid workload.workers: %d", c.Workload.Workers)
	}
	if c.Workload.FibN < 0 || c.Workload.FibN > 90 {
		return fmt.Errorf("invalid workload.fib_n: %d (want 0..90)", c.Workload.FibN)
	}
	if c.Workload.Rate < 0 {
		return fmt.Errorf("invalid workload.rate: %v", c.Workload.Rate)
	}
	if c.Workload.Burst <= 0 {
		c.Workload.Burst = 1
	}
	if len(c.Workload.Priorities) == 0 {
		c.Workload.Priorities = []int{c.Scheduler.DefaultPriority}
	}
	return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Marshal renders the configuration as YAML.
func Marshal(c *Config) ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return out, nil
}
