package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the full runtime configuration for the warden server.
type Config struct {
	// HTTP listener.
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// External agent binary.
	AgentBinary string            `mapstructure:"agent_binary"`
	AgentModel  string            `mapstructure:"agent_model"`
	APIKey      string            `mapstructure:"api_key"`
	ConfigDir   string            `mapstructure:"config_dir"`
	AgentEnv    map[string]string `mapstructure:"agent_env"`

	// Scheduler.
	Workers       int           `mapstructure:"workers"`
	QueueCapacity int           `mapstructure:"queue_capacity"`
	TaskTimeout   time.Duration `mapstructure:"task_timeout"`

	// Sessions.
	SessionTimeout time.Duration `mapstructure:"session_timeout"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`

	// Process supervision.
	GraceWindow time.Duration `mapstructure:"grace_window"`

	// Streaming.
	HistoryLimit int `mapstructure:"history_limit"`

	LogLevel string `mapstructure:"log_level"`
}

// Load reads configuration from an optional YAML file and WARDEN_* env
// variables, env winning over file, file winning over defaults.
func Load(path string) (Config, error) {
	v := viper.New()

	v.SetDefault("port", 8080)
	v.SetDefault("allowed_origins", []string{"*"})
	v.SetDefault("agent_binary", "claude")
	v.SetDefault("agent_model", "")
	v.SetDefault("config_dir", "")
	v.SetDefault("workers", 5)
	v.SetDefault("queue_capacity", 100)
	v.SetDefault("task_timeout", 5*time.Minute)
	v.SetDefault("session_timeout", 30*time.Minute)
	v.SetDefault("sweep_interval", time.Minute)
	v.SetDefault("grace_window", time.Second)
	v.SetDefault("history_limit", 256)
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("WARDEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the scheduler cannot run with.
func (c Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("queue_capacity must be positive, got %d", c.QueueCapacity)
	}
	if c.TaskTimeout <= 0 {
		return fmt.Errorf("task_timeout must be positive, got %s", c.TaskTimeout)
	}
	if c.SessionTimeout <= 0 {
		return fmt.Errorf("session_timeout must be positive, got %s", c.SessionTimeout)
	}
	if c.GraceWindow <= 0 {
		return fmt.Errorf("grace_window must be positive, got %s", c.GraceWindow)
	}
	if strings.TrimSpace(c.AgentBinary) == "" {
		return fmt.Errorf("agent_binary must not be empty")
	}
	return nil
}
