// Package config loads the process configuration of the sigsock command.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Addr           string        `yaml:"addr"`
	Connect        ConnectConfig `yaml:"connect"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RecvBufferSize int           `yaml:"recv_buffer_size"`
	MaxMessageSize int           `yaml:"max_message_size"`
	Logger         LoggerConfig  `yaml:"logger"`
	Metrics        MetricsConfig `yaml:"metrics"`
	Backend        BackendConfig `yaml:"backend"`
}

// ConnectConfig controls the client connect retry policy.
type ConnectConfig struct {
	Retries int           `yaml:"retries"`
	Backoff time.Duration `yaml:"backoff"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MetricsConfig holds the Prometheus endpoint settings. An empty Addr
// disables the endpoint.
type MetricsConfig struct {
	Addr      string `yaml:"addr"`
	Namespace string `yaml:"namespace"`
}

// BackendConfig holds settings of the processing side.
type BackendConfig struct {
	RecordDir string        `yaml:"record_dir"` // empty disables records
	StepDelay time.Duration `yaml:"step_delay"`
}

// Defaults returns the configuration used when no file is given.
func Defaults() *Config {
	return &Config{
		Addr: "localhost:8080",
		Connect: ConnectConfig{
			Retries: 10,
			Backoff: 500 * time.Millisecond,
		},
		RecvBufferSize: 1024,
		MaxMessageSize: 64 * 1024 * 1024,
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Namespace: "sigsock",
		},
	}
}

// Load reads a YAML config file over the defaults and applies SIGSOCK_* env
// var overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, errors.Wrap(err, "read config")
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, errors.Wrap(err, "parse config")
			}
		}
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps SIGSOCK_* env vars to config fields. Malformed
// numbers and durations are ignored.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SIGSOCK_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("SIGSOCK_CONNECT_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Connect.Retries = n
		}
	}
	if v := os.Getenv("SIGSOCK_CONNECT_BACKOFF"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Connect.Backoff = d
		}
	}
	if v := os.Getenv("SIGSOCK_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ReadTimeout = d
		}
	}
	if v := os.Getenv("SIGSOCK_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.WriteTimeout = d
		}
	}
	if v := os.Getenv("SIGSOCK_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("SIGSOCK_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("SIGSOCK_LOGGER_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
	if v := os.Getenv("SIGSOCK_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("SIGSOCK_BACKEND_RECORD_DIR"); v != "" {
		cfg.Backend.RecordDir = v
	}
}
