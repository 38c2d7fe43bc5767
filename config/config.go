// Package config provides configuration management for Chaoscope.
package config

import (
	"fmt"
	"time"
)

// Config is the global configuration for Chaoscope.
type Config struct {
	// App is the application configuration.
	App AppConfig `mapstructure:"app" validate:"required"`

	// Log is the logging configuration.
	Log LogConfig `mapstructure:"log" validate:"required"`

	// Tracing selects and configures the tracing backend.
	Tracing TracingConfig `mapstructure:"tracing"`

	// Metrics is the duration-metrics configuration.
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Feed is the live lifecycle event feed configuration.
	Feed FeedConfig `mapstructure:"feed"`

	// Diag is the diagnostics HTTP server configuration.
	Diag DiagConfig `mapstructure:"diag"`
}

// AppConfig holds application metadata and settings.
type AppConfig struct {
	// Name is the service name reported on traces.
	Name string `mapstructure:"name" validate:"required"`

	// Version is the application version.
	Version string `mapstructure:"version"`

	// Environment is the runtime environment.
	Environment string `mapstructure:"environment" validate:"oneof=development staging production"`

	// Debug enables debug mode with verbose logging.
	Debug bool `mapstructure:"debug"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`

	// Format is the output format (json, text).
	Format string `mapstructure:"format" validate:"oneof=json text"`

	// Output is the output destination (stdout, stderr, or file path).
	Output string `mapstructure:"output"`
}

// TracingConfig holds tracing backend settings.
type TracingConfig struct {
	// Enabled enables span export; when false every span is
	// discarded through the noop backend.
	Enabled bool `mapstructure:"enabled"`

	// Provider is the backend kind (noop, otlpgrpc, opentelemetry,
	// jaeger, stdout, archive).
	Provider string `mapstructure:"provider" validate:"omitempty,oneof=noop otlpgrpc opentelemetry otlp jaeger stdout archive"`

	// Endpoint is the collector endpoint for network backends.
	Endpoint string `mapstructure:"endpoint"`

	// Headers are extra headers sent to the collector.
	Headers map[string]string `mapstructure:"headers"`

	// Timeout is the per-export timeout.
	Timeout time.Duration `mapstructure:"timeout"`

	// Sampler selects the sampling strategy (always_on, always_off,
	// parentbased_traceidratio).
	Sampler string `mapstructure:"sampler"`

	// SampleRate is the trace sampling ratio when ratio-based
	// sampling is selected.
	SampleRate float64 `mapstructure:"sample_rate" validate:"min=0,max=1"`

	// ArchivePath is the local span archive directory for the
	// archive backend.
	ArchivePath string `mapstructure:"archive_path"`
}

// MetricsConfig holds duration-metrics settings.
type MetricsConfig struct {
	// Enabled enables experiment metrics collection.
	Enabled bool `mapstructure:"enabled"`
}

// FeedConfig holds live event feed settings.
type FeedConfig struct {
	// Enabled enables the in-process event feed.
	Enabled bool `mapstructure:"enabled"`

	// Buffer is the per-subscriber channel buffer size.
	Buffer int `mapstructure:"buffer" validate:"min=0"`

	// Redis configures the optional redis publisher sink.
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds the redis event sink settings.
type RedisConfig struct {
	// Enabled enables publishing lifecycle events to redis.
	Enabled bool `mapstructure:"enabled"`

	// Address is the redis server address.
	Address string `mapstructure:"address"`

	// Password is the redis password.
	Password string `mapstructure:"password"`

	// DB is the redis database number.
	DB int `mapstructure:"db" validate:"min=0"`

	// Channel is the pub/sub channel events are published to.
	Channel string `mapstructure:"channel"`
}

// DiagConfig holds the diagnostics HTTP server settings.
type DiagConfig struct {
	// Enabled enables the diagnostics server.
	Enabled bool `mapstructure:"enabled"`

	// Host is the bind address.
	Host string `mapstructure:"host"`

	// Port is the server port.
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535"`

	// ReadTimeout is the maximum duration for reading a request.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// AllowedOrigins restricts websocket upgrades; empty allows any.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Validate performs validation on the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// String returns a short representation without sensitive data.
func (c *Config) String() string {
	return fmt.Sprintf("Config{App: %s, Tracing: %s, Env: %s}",
		c.App.Name, c.Tracing.Provider, c.App.Environment)
}
