// Package config loads the static service configuration from defaults, an
// optional YAML file and CODERUNNER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sakif/coderunner/internal/executor/docker"
)

// EnvPrefix namespaces environment overrides, e.g. CODERUNNER_SERVER_PORT.
const EnvPrefix = "CODERUNNER"

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Docker    DockerConfig    `mapstructure:"docker"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig holds HTTP listener configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DockerConfig holds container daemon and resource settings
type DockerConfig struct {
	SocketPath  string `mapstructure:"socket_path"`
	Network     string `mapstructure:"network"`
	MemoryLimit string `mapstructure:"memory_limit"`
	CPUShares   int64  `mapstructure:"cpu_shares"`
}

// ExecutionConfig holds per-request limits
type ExecutionConfig struct {
	DefaultTimeout int `mapstructure:"default_timeout"` // seconds
	MaxOutputSize  int `mapstructure:"max_output_size"` // characters
	QueueSize      int `mapstructure:"queue_size"`
}

// StorageConfig holds the history database location. An empty DBPath
// disables history.
type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("docker.socket_path", "/var/run/docker.sock")
	v.SetDefault("docker.network", "none")
	v.SetDefault("docker.memory_limit", "100m")
	v.SetDefault("docker.cpu_shares", 512)

	v.SetDefault("execution.default_timeout", 120)
	v.SetDefault("execution.max_output_size", 10*1024*1024)
	v.SetDefault("execution.queue_size", 32)

	v.SetDefault("storage.db_path", "data/coderunner.db")

	v.SetDefault("log.level", "info")
}

// Load reads configuration. When path is empty, config.yaml is looked up in
// the working directory and ./config; a missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &cfg, nil
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got: %d", c.Server.Port)
	}

	if c.Execution.DefaultTimeout <= 0 {
		return fmt.Errorf("execution.default_timeout must be positive, got: %d", c.Execution.DefaultTimeout)
	}

	if c.Execution.MaxOutputSize <= 0 {
		return fmt.Errorf("execution.max_output_size must be positive, got: %d", c.Execution.MaxOutputSize)
	}

	if c.Execution.QueueSize <= 0 {
		return fmt.Errorf("execution.queue_size must be positive, got: %d", c.Execution.QueueSize)
	}

	if c.Docker.CPUShares < 0 {
		return fmt.Errorf("docker.cpu_shares must not be negative, got: %d", c.Docker.CPUShares)
	}

	if _, err := c.LogLevel(); err != nil {
		return err
	}

	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// LogLevel parses log.level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	return level, nil
}

// DefaultTimeout returns the execution timeout as a duration
func (c *Config) DefaultTimeout() time.Duration {
	return time.Duration(c.Execution.DefaultTimeout) * time.Second
}

// ExecutorConfig converts the docker and execution sections into the
// executor's configuration. The orphan sweep is on; one-shot callers that
// share a daemon with a server turn it off.
func (c *Config) ExecutorConfig() docker.Config {
	return docker.Config{
		SocketPath:     c.Docker.SocketPath,
		Network:        c.Docker.Network,
		MemoryLimit:    docker.ParseMemoryLimit(c.Docker.MemoryLimit),
		CPUShares:      c.Docker.CPUShares,
		DefaultTimeout: c.DefaultTimeout(),
		MaxOutputSize:  c.Execution.MaxOutputSize,
		QueueSize:      c.Execution.QueueSize,
		SweepOrphans:   true,
	}
}
