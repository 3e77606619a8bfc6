package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg and returns a *ValidationError listing every problem.
func Validate(cfg *Config) error {
	ve := &ValidationError{}

	if _, _, err := net.SplitHostPort(cfg.Addr); err != nil {
		ve.Add("addr %q must be host:port", cfg.Addr)
	}
	if cfg.Connect.Retries <= 0 {
		ve.Add("connect.retries must be > 0")
	}
	if cfg.Connect.Backoff < 0 {
		ve.Add("connect.backoff must be >= 0")
	}
	if cfg.ReadTimeout < 0 || cfg.WriteTimeout < 0 {
		ve.Add("read_timeout and write_timeout must be >= 0")
	}
	if cfg.RecvBufferSize <= 0 {
		ve.Add("recv_buffer_size must be > 0")
	}
	if cfg.MaxMessageSize <= 0 {
		ve.Add("max_message_size must be > 0")
	}

	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q must be text or json", cfg.Logger.Format)
	}
	switch strings.ToLower(cfg.Logger.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		ve.Add("logger.level %q is not a known level", cfg.Logger.Level)
	}

	if cfg.Metrics.Addr != "" {
		if _, _, err := net.SplitHostPort(cfg.Metrics.Addr); err != nil {
			ve.Add("metrics.addr %q must be host:port", cfg.Metrics.Addr)
		}
	}
	if cfg.Backend.StepDelay < 0 {
		ve.Add("backend.step_delay must be >= 0")
	}

	if ve.HasErrors() {
		return ve
	}
	return nil
}
